package scheduler

import (
	"context"
	"errors"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/go-common/set"
	"log/slog"
	"sync"
	"time"
)

// ScheduleSource returns the pending schedules, sorted by due time.
type ScheduleSource interface {
	GetAll() []schedule.Schedule
}

type ScheduleExecutor interface {
	Execute(ctx context.Context, s schedule.Schedule) error
}

// ExecutionRecorder is told the outcome of every execution, e.g. to count them.
type ExecutionRecorder interface {
	RecordExecution(s schedule.Schedule, err error)
}

// Evaluator checks the pending schedules every Interval and executes the ones that are due.
type Evaluator struct {
	Recorder ExecutionRecorder
	source   ScheduleSource
	executor ScheduleExecutor
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	tickLock sync.Mutex
	// ids executed successfully, but still in the snapshot until the removal reaches the repository
	retired set.Set[string]
	lock    sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// DefaultInterval is the tick period used when NewEvaluator is called without one.
const DefaultInterval = time.Second

func NewEvaluator(source ScheduleSource, executor ScheduleExecutor, interval time.Duration, logger *slog.Logger) *Evaluator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Evaluator{
		source:   source,
		executor: executor,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		retired:  set.New[string](),
	}
}

// Start runs the tick loop in the background until Stop is called or ctx is canceled.
func (e *Evaluator) Start(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		defer e.release(done)
		_ = e.Run(ctx)
	}(e.done)
	return nil
}

// Stop ends the tick loop started by Start. Once Stop returns, no tick is running and none will fire.
func (e *Evaluator) Stop() {
	e.lock.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.lock.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// release clears the running state once the tick loop ends without Stop.
func (e *Evaluator) release(done chan struct{}) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.done == done {
		e.cancel()
		e.cancel, e.done = nil, nil
	}
}

// Run runs the tick loop until ctx is canceled.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Debug("evaluator starting", slog.Duration("interval", e.interval))
	defer e.logger.Debug("evaluator stopping")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick executes every due schedule in the current snapshot, in snapshot order.
// A failed execution is logged and retried on the next tick.
func (e *Evaluator) Tick(ctx context.Context) {
	e.tickLock.Lock()
	defer e.tickLock.Unlock()

	now := e.now()
	schedules := e.source.GetAll()
	e.pruneRetired(schedules)

	for _, s := range schedules {
		if !s.Due(now) || e.retired.Contains(s.ID) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		err := e.executor.Execute(ctx, s)
		switch {
		case err == nil:
			e.retired.Add(s.ID)
		case errors.Is(err, ErrScheduleGone):
			e.logger.Debug("schedule already handled", "schedule", s)
			e.retired.Add(s.ID)
		default:
			e.logger.Error("failed to execute schedule", "schedule", s, "err", err)
		}
		if e.Recorder != nil {
			e.Recorder.RecordExecution(s, err)
		}
	}
}

// pruneRetired forgets retired ids that have left the snapshot.
func (e *Evaluator) pruneRetired(schedules []schedule.Schedule) {
	current := set.New(ids(schedules)...)
	for id := range e.retired {
		if !current.Contains(id) {
			delete(e.retired, id)
		}
	}
}
