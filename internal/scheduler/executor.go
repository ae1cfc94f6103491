package scheduler

import (
	"context"
	"github.com/clambin/aircon-scheduler/internal/device"
	"github.com/clambin/aircon-scheduler/internal/notifier"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/aircon-scheduler/internal/store"
	"log/slog"
	"time"
)

// Journal keeps track of the schedules whose device writes have been applied.
type Journal interface {
	Applied(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, s schedule.Schedule, executedAt time.Time) error
}

// Executor applies a due schedule to the device state and removes it from the store.
//
// If a Journal is set, a schedule whose device writes were applied before (i.e. only its removal failed)
// is removed without writing the device state again.
type Executor struct {
	Journal  Journal
	Notifier notifier.Notifier
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
}

var _ ScheduleExecutor = &Executor{}

func NewExecutor(s store.Store, logger *slog.Logger) *Executor {
	return &Executor{store: s, logger: logger, now: time.Now}
}

// Execute applies s. It returns ErrScheduleGone if s no longer exists in the store, or an ExecutionError if one
// of the store operations failed. In that case, s remains in the store and can be executed again.
func (e *Executor) Execute(ctx context.Context, s schedule.Schedule) error {
	path := device.SchedulePath(s.ID)
	current, err := e.store.Get(ctx, path)
	if err != nil {
		return &ExecutionError{ScheduleID: s.ID, Step: StepLookup, Err: err}
	}
	if store.IsNull(current) {
		return ErrScheduleGone
	}

	if !e.applied(ctx, s) {
		if err = e.store.Set(ctx, device.StatusPath, s.Action.Status()); err != nil {
			return &ExecutionError{ScheduleID: s.ID, Step: StepStatus, Err: err}
		}
		if s.Action == schedule.TurnOn {
			if err = e.store.Set(ctx, device.TemperaturePath, *s.TargetTemperature); err != nil {
				return &ExecutionError{ScheduleID: s.ID, Step: StepTemperature, Err: err}
			}
		}
		if e.Journal != nil {
			if err = e.Journal.Record(ctx, s, e.now()); err != nil {
				e.logger.Warn("failed to record execution", "schedule", s, "err", err)
			}
		}
	}

	if err = e.store.Remove(ctx, path); err != nil {
		return &ExecutionError{ScheduleID: s.ID, Step: StepRemove, Err: err}
	}

	e.logger.Info("schedule executed", "schedule", s)
	if e.Notifier != nil {
		e.Notifier.Notify(notifier.Event{
			Kind:  notifier.Executed,
			Title: "Air conditioner",
			Text:  s.Description(true),
		})
	}
	return nil
}

func (e *Executor) applied(ctx context.Context, s schedule.Schedule) bool {
	if e.Journal == nil {
		return false
	}
	applied, err := e.Journal.Applied(ctx, s.ID)
	if err != nil {
		e.logger.Warn("failed to check execution journal", "schedule", s, "err", err)
		return false
	}
	if applied {
		e.logger.Info("schedule already applied. removing it", "schedule", s)
	}
	return applied
}
