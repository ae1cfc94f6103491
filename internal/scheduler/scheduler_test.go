package scheduler

import (
	"context"
	"github.com/clambin/aircon-scheduler/internal/device"
	"github.com/clambin/aircon-scheduler/internal/notifier"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func temperature(t int) *int {
	return &t
}

func newSchedule(id string, dueAt time.Time, action schedule.Action, temp *int) schedule.Schedule {
	return schedule.Schedule{ID: id, DueAt: dueAt.Truncate(time.Second), Action: action, TargetTemperature: temp}
}

func addSchedule(t *testing.T, s store.Store, sched schedule.Schedule) {
	t.Helper()
	require.NoError(t, s.Set(t.Context(), device.SchedulePath(sched.ID), sched.Record()))
}

type fakeListener struct {
	lock  sync.Mutex
	calls [][]schedule.Schedule
}

func (f *fakeListener) OnScheduleListChanged(schedules []schedule.Schedule) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, schedules)
}

func (f *fakeListener) count() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.calls)
}

type fakeSource []schedule.Schedule

func (f *fakeSource) GetAll() []schedule.Schedule {
	return *f
}

type fakeExecutor struct {
	lock     sync.Mutex
	executed []string
	errs     map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, s schedule.Schedule) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.executed = append(f.executed, s.ID)
	return f.errs[s.ID]
}

func (f *fakeExecutor) calls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.executed...)
}

type fakeRecorder struct {
	results map[string]error
}

func (f *fakeRecorder) RecordExecution(s schedule.Schedule, err error) {
	f.results[s.ID] = err
}

type fakeNotifier struct {
	lock   sync.Mutex
	events []notifier.Event
}

func (f *fakeNotifier) Notify(ev notifier.Event) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.events = append(f.events, ev)
}

type fakeJournal struct {
	lock    sync.Mutex
	applied map[string]time.Time
}

func (f *fakeJournal) Applied(_ context.Context, id string) (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	_, ok := f.applied[id]
	return ok, nil
}

func (f *fakeJournal) Record(_ context.Context, s schedule.Schedule, executedAt time.Time) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.applied[s.ID] = executedAt
	return nil
}
