// Package aircon implements the user's controls of the air conditioner: power, temperature and timed schedules.
// While the air conditioner is on, it also raises an alarm when the room temperature deviates from the set one.
package aircon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/device"
	"github.com/clambin/aircon-scheduler/internal/notifier"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/aircon-scheduler/internal/store"
	"log/slog"
	"math"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidID        = errors.New("invalid schedule id")
)

// State is the current state of the air conditioner. Missing values are nil.
type State struct {
	Status            device.Status `json:"status"`
	Temperature       *int          `json:"temperature,omitempty"`
	SensorTemperature *float64      `json:"sensorTemperature,omitempty"`
}

type Controller struct {
	Notifier  notifier.Notifier
	store     store.Store
	threshold float64
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Controller. The deviation alarm fires when the room temperature differs at least threshold °C
// from the set temperature. It is checked every interval while the air conditioner is on.
func New(s store.Store, threshold float64, interval time.Duration, logger *slog.Logger) *Controller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Controller{
		store:     s,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *Controller) SetPower(ctx context.Context, on bool) error {
	status := device.Off
	if on {
		status = device.On
	}
	if err := c.store.Set(ctx, device.StatusPath, status); err != nil {
		return fmt.Errorf("set power: %w", err)
	}
	c.logger.Info("power set", "status", status)
	return nil
}

// SetTemperature sets the target temperature. Temperatures outside the supported range are rejected before writing.
func (c *Controller) SetTemperature(ctx context.Context, temperature int) error {
	if err := device.ValidateTemperature(temperature); err != nil {
		return err
	}
	if err := c.store.Set(ctx, device.TemperaturePath, temperature); err != nil {
		return fmt.Errorf("set temperature: %w", err)
	}
	c.logger.Info("temperature set", "temperature", temperature)
	return nil
}

func (c *Controller) State(ctx context.Context) (State, error) {
	state := State{Status: device.Off}
	status, err := getValue[device.Status](ctx, c.store, device.StatusPath)
	if err != nil {
		return State{}, err
	}
	if status != nil && status.Valid() {
		state.Status = *status
	}
	if state.Temperature, err = getValue[int](ctx, c.store, device.TemperaturePath); err != nil {
		return State{}, err
	}
	if state.SensorTemperature, err = getValue[float64](ctx, c.store, device.SensorTemperaturePath); err != nil {
		return State{}, err
	}
	return state, nil
}

// AddSchedule creates a schedule for the next time the clock shows hour:minute.
func (c *Controller) AddSchedule(ctx context.Context, hour, minute int, action schedule.Action, temperature *int) (schedule.Schedule, error) {
	dueAt, err := schedule.NextOccurrence(hour, minute, c.now())
	if err != nil {
		return schedule.Schedule{}, err
	}
	s, err := schedule.New("", dueAt, action, temperature)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if s.ID, err = c.store.Push(ctx, device.SchedulesPath); err != nil {
		return schedule.Schedule{}, fmt.Errorf("add schedule: %w", err)
	}
	if err = c.store.Set(ctx, device.SchedulePath(s.ID), s.Record()); err != nil {
		return schedule.Schedule{}, fmt.Errorf("add schedule: %w", err)
	}
	c.logger.Info("schedule added", "schedule", s)
	return s, nil
}

func (c *Controller) DeleteSchedule(ctx context.Context, id string) error {
	if path, err := store.CleanPath(id); err != nil || path == "" || len(store.Split(path)) != 1 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	current, err := c.store.Get(ctx, device.SchedulePath(id))
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if store.IsNull(current) {
		return ErrScheduleNotFound
	}
	if err = c.store.Remove(ctx, device.SchedulePath(id)); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	c.logger.Info("schedule deleted", "id", id)
	return nil
}

// Run checks the temperature deviation every interval, as long as the air conditioner is on.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Debug("deviation alarm starting", slog.Duration("interval", c.interval), slog.Float64("threshold", c.threshold))
	defer c.logger.Debug("deviation alarm stopping")

	ch, err := c.store.Subscribe(ctx, device.StatusPath)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				c.logger.Warn("status subscription failed", "err", ev.Err)
				continue
			}
			var status device.Status
			_ = json.Unmarshal(ev.Value, &status)
			switch on := status == device.On; {
			case on && ticker == nil:
				c.logger.Debug("air conditioner on. checking deviation")
				ticker = time.NewTicker(c.interval)
				tick = ticker.C
			case !on && ticker != nil:
				c.logger.Debug("air conditioner off. not checking deviation")
				ticker.Stop()
				ticker, tick = nil, nil
			}
		case <-tick:
			if _, err = c.CheckDeviation(ctx); err != nil {
				c.logger.Error("failed to check temperature deviation", "err", err)
			}
		}
	}
}

// CheckDeviation compares the room temperature with the set temperature. If they differ by threshold or more,
// it pulses the warning LED and raises an alert. It returns true if the alarm fired.
func (c *Controller) CheckDeviation(ctx context.Context) (bool, error) {
	target, err := getValue[float64](ctx, c.store, device.TemperaturePath)
	if err != nil {
		return false, err
	}
	sensor, err := getValue[float64](ctx, c.store, device.SensorTemperaturePath)
	if err != nil {
		return false, err
	}
	if target == nil || sensor == nil {
		c.logger.Debug("temperature not available. skipping deviation check")
		return false, nil
	}
	deviation := math.Abs(*sensor - *target)
	c.logger.Debug("temperature deviation", "target", *target, "sensor", *sensor, "deviation", deviation)
	if deviation < c.threshold {
		return false, nil
	}

	if err = c.store.Set(ctx, device.LEDPath, true); err != nil {
		return false, fmt.Errorf("led on: %w", err)
	}
	if err = c.store.Set(ctx, device.LEDPath, false); err != nil {
		return false, fmt.Errorf("led off: %w", err)
	}
	if c.Notifier != nil {
		c.Notifier.Notify(notifier.Event{
			Kind:  notifier.Alert,
			Title: "Temperature deviation",
			Text:  fmt.Sprintf("room temperature (%.1f°C) differs from the set temperature (%.0f°C). Please check the air conditioner.", *sensor, *target),
		})
	}
	return true, nil
}

// getValue reads and decodes the value at path. It returns nil if the path doesn't exist.
func getValue[T any](ctx context.Context, s store.Store, path string) (*T, error) {
	raw, err := s.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if store.IsNull(raw) {
		return nil, nil
	}
	var v T
	if err = json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &v, nil
}
