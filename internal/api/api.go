// Package api serves the user's controls over HTTP: air conditioner power and temperature, schedules and fans.
package api

import (
	"context"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/aircon"
	"github.com/clambin/aircon-scheduler/internal/device"
	"github.com/clambin/aircon-scheduler/internal/fans"
	"github.com/clambin/aircon-scheduler/internal/journal"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/gin-gonic/gin"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type AirCon interface {
	State(context.Context) (aircon.State, error)
	SetPower(context.Context, bool) error
	SetTemperature(context.Context, int) error
	AddSchedule(ctx context.Context, hour, minute int, action schedule.Action, temperature *int) (schedule.Schedule, error)
	DeleteSchedule(context.Context, string) error
}

type Schedules interface {
	GetAll() []schedule.Schedule
}

type Journal interface {
	Recent(context.Context, int) ([]journal.Entry, error)
}

type Fans interface {
	Status(context.Context) (fans.Status, error)
	SetAutoMode(context.Context, bool) error
	Toggle(context.Context, string) (bool, error)
	SetBaseThreshold(context.Context, float64) (fans.Thresholds, error)
	SetThreshold(context.Context, string, float64) (fans.Thresholds, error)
}

const defaultExecutionsLimit = 20

// Handler serves the API. Journal is optional: without it, the executions endpoint returns 404.
type Handler struct {
	AirCon    AirCon
	Schedules Schedules
	Journal   Journal
	Fans      Fans
	Logger    *slog.Logger
	now       func() time.Time
}

func New(ac AirCon, schedules Schedules, f Fans, logger *slog.Logger) *Handler {
	return &Handler{
		AirCon:    ac,
		Schedules: schedules,
		Fans:      f,
		Logger:    logger,
		now:       time.Now,
	}
}

// Register adds the API routes to r.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	ac := api.Group("/aircon")
	{
		ac.GET("", h.getAirCon)
		ac.POST("/power", h.setPower)
		ac.POST("/temperature", h.setTemperature)
	}

	schedules := api.Group("/schedules")
	{
		schedules.GET("", h.getSchedules)
		schedules.POST("", h.addSchedule)
		schedules.DELETE("/:id", h.deleteSchedule)
	}

	api.GET("/executions", h.getExecutions)

	f := api.Group("/fans")
	{
		f.GET("", h.getFans)
		f.POST("/auto", h.setAutoMode)
		f.POST("/:fan/toggle", h.toggleFan)
		f.POST("/threshold", h.setThreshold)
		f.POST("/:fan/threshold", h.setFanThreshold)
	}
}

// respondError maps err to an HTTP status code. Errors caused by the request are not logged.
func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, device.ErrInvalidTemperature),
		errors.Is(err, schedule.ErrInvalidAction),
		errors.Is(err, schedule.ErrInvalidTime),
		errors.Is(err, schedule.ErrMissingTemperature),
		errors.Is(err, schedule.ErrUnexpectedTemperature),
		errors.Is(err, aircon.ErrInvalidID):
		code = http.StatusBadRequest
	case errors.Is(err, aircon.ErrScheduleNotFound), errors.Is(err, fans.ErrUnknownFan):
		code = http.StatusNotFound
	case errors.Is(err, fans.ErrAutoMode):
		code = http.StatusConflict
	default:
		h.Logger.Error(msg, "path", c.FullPath(), "err", err)
	}
	c.JSON(code, gin.H{"error": msg + ": " + err.Error()})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}

func confirm(c *gin.Context, msg string, extra gin.H) {
	resp := gin.H{"message": msg}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getAirCon(c *gin.Context) {
	state, err := h.AirCon.State(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to get air conditioner state", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type powerRequest struct {
	Status device.Status `json:"status" binding:"required"`
}

func (h *Handler) setPower(c *gin.Context) {
	var req powerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if !req.Status.Valid() {
		h.badRequest(c, fmt.Errorf("status must be %s or %s", device.On, device.Off))
		return
	}
	on := req.Status == device.On
	if err := h.AirCon.SetPower(c.Request.Context(), on); err != nil {
		h.respondError(c, "failed to set power", err)
		return
	}
	msg := "Air conditioner turned off"
	if on {
		msg = "Air conditioner turned on"
	}
	confirm(c, msg, nil)
}

type temperatureRequest struct {
	Temperature *int `json:"temperature" binding:"required"`
}

func (h *Handler) setTemperature(c *gin.Context) {
	var req temperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.AirCon.SetTemperature(c.Request.Context(), *req.Temperature); err != nil {
		h.respondError(c, "failed to set temperature", err)
		return
	}
	confirm(c, "Temperature set to "+strconv.Itoa(*req.Temperature)+"°C", nil)
}

type pendingSchedule struct {
	ID          string          `json:"id"`
	DueAt       time.Time       `json:"dueAt"`
	Action      schedule.Action `json:"action"`
	Temperature *int            `json:"temperature,omitempty"`
	Remaining   string          `json:"remaining"`
}

func (h *Handler) getSchedules(c *gin.Context) {
	now := h.now()
	schedules := h.Schedules.GetAll()
	resp := make([]pendingSchedule, len(schedules))
	for i, s := range schedules {
		resp[i] = pendingSchedule{
			ID:          s.ID,
			DueAt:       s.DueAt,
			Action:      s.Action,
			Temperature: s.TargetTemperature,
			Remaining:   schedule.RemainingLabel(s.DueAt, now),
		}
	}
	c.JSON(http.StatusOK, resp)
}

type scheduleRequest struct {
	Hour        *int   `json:"hour" binding:"required"`
	Minute      *int   `json:"minute" binding:"required"`
	Action      string `json:"action" binding:"required"`
	Temperature *int   `json:"temperature"`
}

func (h *Handler) addSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	action, err := schedule.ParseAction(req.Action)
	if err != nil {
		h.respondError(c, "failed to add schedule", err)
		return
	}
	s, err := h.AirCon.AddSchedule(c.Request.Context(), *req.Hour, *req.Minute, action, req.Temperature)
	if err != nil {
		h.respondError(c, "failed to add schedule", err)
		return
	}
	confirm(c, "Schedule added: "+s.Description(false), gin.H{"id": s.ID})
}

func (h *Handler) deleteSchedule(c *gin.Context) {
	if err := h.AirCon.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "failed to delete schedule", err)
		return
	}
	confirm(c, "Schedule deleted", nil)
}

func (h *Handler) getExecutions(c *gin.Context) {
	if h.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution journal not enabled"})
		return
	}
	limit := defaultExecutionsLimit
	if l := c.Query("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil || limit <= 0 {
			h.badRequest(c, fmt.Errorf("invalid limit %q", l))
			return
		}
	}
	entries, err := h.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "failed to get executions", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) getFans(c *gin.Context) {
	status, err := h.Fans.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to get fans", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type autoModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) setAutoMode(c *gin.Context) {
	var req autoModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.Fans.SetAutoMode(c.Request.Context(), *req.Enabled); err != nil {
		h.respondError(c, "failed to set auto mode", err)
		return
	}
	msg := "Auto mode disabled"
	if *req.Enabled {
		msg = "Auto mode enabled"
	}
	confirm(c, msg, nil)
}

func (h *Handler) toggleFan(c *gin.Context) {
	fan := c.Param("fan")
	on, err := h.Fans.Toggle(c.Request.Context(), fan)
	if err != nil {
		h.respondError(c, "failed to toggle fan", err)
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	confirm(c, "Fan "+fan+" turned "+state, gin.H{"on": on})
}

type thresholdRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
}

func (h *Handler) setThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	thresholds, err := h.Fans.SetBaseThreshold(c.Request.Context(), *req.Temperature)
	if err != nil {
		h.respondError(c, "failed to set threshold", err)
		return
	}
	confirm(c, "Threshold set to "+strconv.FormatFloat(*req.Temperature, 'f', -1, 64)+"°C", gin.H{"thresholds": thresholds})
}

func (h *Handler) setFanThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	fan := c.Param("fan")
	thresholds, err := h.Fans.SetThreshold(c.Request.Context(), fan, *req.Temperature)
	if err != nil {
		h.respondError(c, "failed to set threshold", err)
		return
	}
	confirm(c, "Threshold of fan "+fan+" set to "+strconv.FormatFloat(*req.Temperature, 'f', -1, 64)+"°C", gin.H{"thresholds": thresholds})
}
