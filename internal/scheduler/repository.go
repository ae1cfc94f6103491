// Package scheduler runs the timed actions of the air conditioner: the Repository follows the pending schedules
// in the remote store, the Evaluator checks them every tick and the Executor applies the ones that are due.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/device"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/clambin/aircon-scheduler/pkg/pubsub"
	"github.com/clambin/go-common/set"
	"log/slog"
	"slices"
	"sync"
)

// A Listener is called with the new snapshot every time the list of pending schedules changes.
// It must not modify the slice.
type Listener interface {
	OnScheduleListChanged([]schedule.Schedule)
}

// Repository keeps a local, ordered snapshot of the pending schedules.
// Snapshots are published on Updates, for components that follow the list without a Listener.
type Repository struct {
	Updates   *pubsub.Publisher[[]schedule.Schedule]
	store     store.Store
	logger    *slog.Logger
	lock      sync.RWMutex
	schedules []schedule.Schedule
	received  bool
	listeners []Listener
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRepository(s store.Store, logger *slog.Logger) *Repository {
	return &Repository{
		Updates: pubsub.New[[]schedule.Schedule](logger),
		store:   s,
		logger:  logger,
	}
}

func (r *Repository) AddListener(l Listener) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.listeners = append(r.listeners, l)
}

// Run follows the remote store until ctx is canceled.
func (r *Repository) Run(ctx context.Context) error {
	if err := r.Subscribe(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Unsubscribe()
	return nil
}

// Subscribe starts following the schedules in the remote store. Each change replaces the snapshot.
func (r *Repository) Subscribe(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cancel != nil {
		return ErrAlreadyRunning
	}
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := r.store.Subscribe(subCtx, device.SchedulesPath)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer r.release(done)
		r.logger.Debug("repository subscribed")
		defer r.logger.Debug("repository unsubscribed")
		for ev := range ch {
			r.apply(ev)
		}
	}(r.done)
	return nil
}

// Unsubscribe stops following the remote store. No listener is called once Unsubscribe returns.
func (r *Repository) Unsubscribe() {
	r.lock.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.lock.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// release clears the subscription once its goroutine ends on its own, e.g. because the parent context was canceled.
func (r *Repository) release(done chan struct{}) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.done == done {
		r.cancel()
		r.cancel, r.done = nil, nil
	}
}

// GetAll returns the current snapshot, sorted by due time.
func (r *Repository) GetAll() []schedule.Schedule {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return slices.Clone(r.schedules)
}

// Ready returns true once the first snapshot has been received.
func (r *Repository) Ready() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.received
}

func (r *Repository) apply(ev store.Event) {
	if ev.Err != nil {
		r.logger.Error("schedule subscription failed. keeping last snapshot", "err", ev.Err)
		return
	}
	schedules, err := Decode(ev.Value, r.logger)
	if err != nil {
		r.logger.Error("invalid schedules. keeping last snapshot", "err", err)
		return
	}

	r.lock.Lock()
	previous := r.schedules
	r.schedules = schedules
	r.received = true
	listeners := slices.Clone(r.listeners)
	r.lock.Unlock()

	r.logChanges(previous, schedules)
	for _, l := range listeners {
		l.OnScheduleListChanged(schedules)
	}
	r.Updates.Publish(schedules)
}

func (r *Repository) logChanges(previous, current []schedule.Schedule) {
	before := set.New(ids(previous)...)
	after := set.New(ids(current)...)
	for _, s := range current {
		if !before.Contains(s.ID) {
			r.logger.Debug("schedule added", "schedule", s)
		}
	}
	for _, s := range previous {
		if !after.Contains(s.ID) {
			r.logger.Debug("schedule removed", "schedule", s)
		}
	}
}

func ids(schedules []schedule.Schedule) []string {
	list := make([]string, len(schedules))
	for i := range schedules {
		list[i] = schedules[i].ID
	}
	return list
}

// Decode converts the stored schedule collection into a list sorted by due time. Schedules with the same due
// time keep the order of their ids, which is the store's creation order. Invalid entries are logged and skipped.
func Decode(value json.RawMessage, logger *slog.Logger) ([]schedule.Schedule, error) {
	schedules := make([]schedule.Schedule, 0)
	if store.IsNull(value) {
		return schedules, nil
	}
	var records map[string]json.RawMessage
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		var record schedule.Record
		if err := json.Unmarshal(records[key], &record); err != nil {
			logger.Warn("skipping invalid schedule", "id", key, "err", err)
			continue
		}
		s, err := schedule.FromRecord(key, record)
		if err != nil {
			logger.Warn("skipping invalid schedule", "id", key, "err", err)
			continue
		}
		schedules = append(schedules, s)
	}
	slices.SortStableFunc(schedules, func(a, b schedule.Schedule) int {
		return a.DueAt.Compare(b.DueAt)
	})
	return schedules, nil
}
