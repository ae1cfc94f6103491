package collector

import (
	"context"
	"errors"
	"github.com/clambin/aircon-scheduler/internal/schedule"
	"github.com/clambin/aircon-scheduler/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"log/slog"
	"sync"
	"time"
)

var (
	schedulesPending = prometheus.NewDesc(
		prometheus.BuildFQName("aircon", "schedules", "pending"),
		"Number of pending schedules",
		[]string{"action"},
		nil,
	)
	scheduleNextDue = prometheus.NewDesc(
		prometheus.BuildFQName("aircon", "schedule", "next_due_seconds"),
		"Seconds until the next schedule is due. Negative if it is overdue",
		[]string{"action"},
		nil,
	)
)

// Source publishes the pending schedules every time they change.
type Source interface {
	Subscribe() <-chan []schedule.Schedule
	Unsubscribe(<-chan []schedule.Schedule)
}

var _ scheduler.ExecutionRecorder = &Collector{}

// Collector reports the pending schedules and counts their executions.
type Collector struct {
	Source     Source
	Logger     *slog.Logger
	executions *prometheus.CounterVec
	lock       sync.RWMutex
	schedules  []schedule.Schedule
	now        func() time.Time
}

func New(source Source, logger *slog.Logger) *Collector {
	return &Collector{
		Source: source,
		Logger: logger,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aircon",
			Subsystem: "schedule",
			Name:      "executions_total",
			Help:      "Number of executed schedules",
		}, []string{"action", "result"}),
		now: time.Now,
	}
}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Source.Subscribe()
	defer c.Source.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case schedules := <-ch:
			c.lock.Lock()
			c.schedules = schedules
			c.lock.Unlock()
		}
	}
}

// RecordExecution counts an execution. A schedule that was removed before it could be executed counts as "gone".
func (c *Collector) RecordExecution(s schedule.Schedule, err error) {
	result := "success"
	switch {
	case errors.Is(err, scheduler.ErrScheduleGone):
		result = "gone"
	case err != nil:
		result = "failed"
	}
	c.executions.WithLabelValues(string(s.Action), result).Inc()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- schedulesPending
	ch <- scheduleNextDue
	c.executions.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.executions.Collect(ch)

	c.lock.RLock()
	defer c.lock.RUnlock()

	now := c.now()
	for _, action := range []schedule.Action{schedule.TurnOn, schedule.TurnOff} {
		var count int
		var next *schedule.Schedule
		for i, s := range c.schedules {
			if s.Action != action {
				continue
			}
			count++
			if next == nil || s.DueAt.Before(next.DueAt) {
				next = &c.schedules[i]
			}
		}
		ch <- prometheus.MustNewConstMetric(schedulesPending, prometheus.GaugeValue, float64(count), string(action))
		if next != nil {
			ch <- prometheus.MustNewConstMetric(scheduleNextDue, prometheus.GaugeValue, next.Remaining(now).Seconds(), string(action))
		}
	}
}
