package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/clambin/aircon-scheduler/internal/device"
	"github.com/clambin/aircon-scheduler/internal/notifier"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/clambin/aircon-scheduler/internal/store/memory"
	"github.com/clambin/aircon-scheduler/internal/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name            string
		schedule        schedule.Schedule
		wantStatus      string
		wantTemperature string
		wantText        string
	}{
		{
			name:            "turn on",
			schedule:        newSchedule("a", time.Now(), schedule.TurnOn, temperature(22)),
			wantStatus:      `"ON"`,
			wantTemperature: `22`,
			wantText:        "turned on at 22°C",
		},
		{
			name:            "turn off",
			schedule:        newSchedule("a", time.Now(), schedule.TurnOff, nil),
			wantStatus:      `"OFF"`,
			wantTemperature: `25`,
			wantText:        "turned off",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			s := memory.New()
			require.NoError(t, s.Set(ctx, device.TemperaturePath, 25))
			addSchedule(t, s, tt.schedule)
			addSchedule(t, s, newSchedule("b", time.Now().Add(time.Hour), schedule.TurnOff, nil))

			var n fakeNotifier
			e := NewExecutor(s, slog.New(slog.DiscardHandler))
			e.Notifier = &n
			require.NoError(t, e.Execute(ctx, tt.schedule))

			assertValue(t, s, device.StatusPath, tt.wantStatus)
			assertValue(t, s, device.TemperaturePath, tt.wantTemperature)
			assertValue(t, s, device.SchedulePath(tt.schedule.ID), `null`)
			v, err := s.Get(ctx, device.SchedulePath("b"))
			require.NoError(t, err)
			assert.False(t, store.IsNull(v))

			require.Len(t, n.events, 1)
			assert.Equal(t, notifier.Executed, n.events[0].Kind)
			assert.Equal(t, tt.wantText, n.events[0].Text)
		})
	}
}

func TestExecutor_Execute_Gone(t *testing.T) {
	s := memory.New()
	e := NewExecutor(s, slog.New(slog.DiscardHandler))
	err := e.Execute(t.Context(), newSchedule("a", time.Now(), schedule.TurnOff, nil))
	assert.ErrorIs(t, err, ErrScheduleGone)

	v, err := s.Get(t.Context(), device.StatusPath)
	require.NoError(t, err)
	assert.True(t, store.IsNull(v))
}

func TestExecutor_Execute_Failures(t *testing.T) {
	sched := newSchedule("a", time.Now(), schedule.TurnOn, temperature(24))
	record, _ := json.Marshal(sched.Record())
	errStore := errors.New("store unavailable")

	tests := []struct {
		name  string
		setup func(*mocks.Store)
		step  Step
	}{
		{
			name: "lookup",
			setup: func(s *mocks.Store) {
				s.EXPECT().Get(mock.Anything, device.SchedulePath("a")).Return(nil, errStore).Once()
			},
			step: StepLookup,
		},
		{
			name: "status",
			setup: func(s *mocks.Store) {
				s.EXPECT().Get(mock.Anything, device.SchedulePath("a")).Return(record, nil).Once()
				s.EXPECT().Set(mock.Anything, device.StatusPath, device.On).Return(errStore).Once()
			},
			step: StepStatus,
		},
		{
			name: "temperature",
			setup: func(s *mocks.Store) {
				s.EXPECT().Get(mock.Anything, device.SchedulePath("a")).Return(record, nil).Once()
				s.EXPECT().Set(mock.Anything, device.StatusPath, device.On).Return(nil).Once()
				s.EXPECT().Set(mock.Anything, device.TemperaturePath, 24).Return(errStore).Once()
			},
			step: StepTemperature,
		},
		{
			name: "remove",
			setup: func(s *mocks.Store) {
				s.EXPECT().Get(mock.Anything, device.SchedulePath("a")).Return(record, nil).Once()
				s.EXPECT().Set(mock.Anything, device.StatusPath, device.On).Return(nil).Once()
				s.EXPECT().Set(mock.Anything, device.TemperaturePath, 24).Return(nil).Once()
				s.EXPECT().Remove(mock.Anything, device.SchedulePath("a")).Return(errStore).Once()
			},
			step: StepRemove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := mocks.NewStore(t)
			tt.setup(s)
			var n fakeNotifier

			e := NewExecutor(s, slog.New(slog.DiscardHandler))
			e.Notifier = &n
			err := e.Execute(t.Context(), sched)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExecutionFailed)
			assert.ErrorIs(t, err, errStore)
			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, tt.step, execErr.Step)
			assert.Empty(t, n.events)
		})
	}
}

func TestExecutor_Execute_Journal(t *testing.T) {
	sched := newSchedule("a", time.Now(), schedule.TurnOn, temperature(24))
	record, _ := json.Marshal(sched.Record())

	s := mocks.NewStore(t)
	s.EXPECT().Get(mock.Anything, device.SchedulePath("a")).Return(record, nil).Twice()
	s.EXPECT().Set(mock.Anything, device.StatusPath, device.On).Return(nil).Once()
	s.EXPECT().Set(mock.Anything, device.TemperaturePath, 24).Return(nil).Once()
	s.EXPECT().Remove(mock.Anything, device.SchedulePath("a")).Return(errors.New("store unavailable")).Once()

	j := fakeJournal{applied: make(map[string]time.Time)}
	e := NewExecutor(s, slog.New(slog.DiscardHandler))
	e.Journal = &j
	executedAt := time.Date(2024, time.July, 1, 22, 0, 1, 0, time.UTC)
	e.now = func() time.Time { return executedAt }

	// device writes succeed, but the schedule can't be removed
	assert.ErrorIs(t, e.Execute(t.Context(), sched), ErrExecutionFailed)
	require.Contains(t, j.applied, "a")
	assert.Equal(t, executedAt, j.applied["a"])

	// retrying only removes the schedule
	s.EXPECT().Remove(mock.Anything, device.SchedulePath("a")).Return(nil).Once()
	assert.NoError(t, e.Execute(t.Context(), sched))
}

func TestExecutionError(t *testing.T) {
	err := &ExecutionError{ScheduleID: "a", Step: StepRemove, Err: errors.New("permission denied")}
	assert.Equal(t, "schedule a: remove failed: permission denied", err.Error())
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.NotErrorIs(t, err, ErrScheduleGone)

	err = &ExecutionError{ScheduleID: "a", Step: StepStatus}
	assert.Equal(t, "schedule a: status failed: unknown reason", err.Error())
}

type recordingStore struct {
	*memory.Store
	lock sync.Mutex
	ops  []string
}

func (r *recordingStore) Set(ctx context.Context, path string, value any) error {
	r.record("set " + path)
	return r.Store.Set(ctx, path, value)
}

func (r *recordingStore) Remove(ctx context.Context, path string) error {
	r.record("remove " + path)
	return r.Store.Remove(ctx, path)
}

func (r *recordingStore) record(op string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.ops = append(r.ops, op)
}

func TestExecutor_Execute_Order(t *testing.T) {
	now := time.Now()
	s := recordingStore{Store: memory.New()}
	s1 := newSchedule("s1", now.Add(-2*time.Second), schedule.TurnOn, temperature(22))
	s2 := newSchedule("s2", now.Add(-time.Second), schedule.TurnOff, nil)
	addSchedule(t, s.Store, s1)
	addSchedule(t, s.Store, s2)

	source := fakeSource{s1, s2}
	e := NewEvaluator(&source, NewExecutor(&s, slog.New(slog.DiscardHandler)), time.Second, slog.New(slog.DiscardHandler))
	e.now = func() time.Time { return now }
	e.Tick(t.Context())

	// all writes for s1 complete before s2 starts
	assert.Equal(t, []string{
		"set " + device.StatusPath,
		"set " + device.TemperaturePath,
		"remove " + device.SchedulePath("s1"),
		"set " + device.StatusPath,
		"remove " + device.SchedulePath("s2"),
	}, s.ops)
	assertValue(t, s.Store, device.StatusPath, `"OFF"`)
	assertValue(t, s.Store, device.TemperaturePath, `22`)
}
