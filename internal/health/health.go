package health

import (
	"context"
	"encoding/json"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Source publishes the pending schedules every time they change.
type Source interface {
	Subscribe() <-chan []schedule.Schedule
	Unsubscribe(<-chan []schedule.Schedule)
}

// Health reports the pending schedules. It is unhealthy until the first list of schedules has been received.
type Health struct {
	Source
	logger    *slog.Logger
	schedules []schedule.Schedule
	updated   bool
	lock      sync.RWMutex
	now       func() time.Time
}

// Pending is a schedule as reported by the health endpoint.
type Pending struct {
	ID          string          `json:"id"`
	DueAt       time.Time       `json:"dueAt"`
	Action      schedule.Action `json:"action"`
	Temperature *int            `json:"temperature,omitempty"`
	Remaining   string          `json:"remaining"`
}

func New(s Source, logger *slog.Logger) *Health {
	return &Health{
		Source: s,
		logger: logger,
		now:    time.Now,
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	ch := h.Source.Subscribe()
	defer h.Source.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case schedules := <-ch:
			h.lock.Lock()
			h.schedules = schedules
			h.updated = true
			h.lock.Unlock()
		}
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if !h.updated {
		http.Error(w, "no schedules received yet", http.StatusServiceUnavailable)
		return
	}

	now := h.now()
	pending := make([]Pending, len(h.schedules))
	for i, s := range h.schedules {
		pending[i] = Pending{
			ID:          s.ID,
			DueAt:       s.DueAt,
			Action:      s.Action,
			Temperature: s.TargetTemperature,
			Remaining:   schedule.RemainingLabel(s.DueAt, now),
		}
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(struct {
		Schedules []Pending `json:"schedules"`
	}{Schedules: pending}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
