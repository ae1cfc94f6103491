// Package schedule models a timed air-conditioner action and its representation in the remote store.
package schedule

import (
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/device"
	"log/slog"
	"strconv"
	"time"
)

var (
	ErrInvalidAction         = errors.New("invalid action")
	ErrInvalidTime           = errors.New("invalid time")
	ErrMissingTemperature    = errors.New("action ON requires a temperature")
	ErrUnexpectedTemperature = errors.New("action OFF does not take a temperature")
)

// Action is the device state a Schedule switches to.
type Action string

const (
	TurnOn  Action = Action(device.On)
	TurnOff Action = Action(device.Off)
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case TurnOn, TurnOff:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// Status returns the device status the action switches to.
func (a Action) Status() device.Status {
	return device.Status(a)
}

// A Schedule switches the air conditioner on or off at DueAt. TargetTemperature is set iff Action is TurnOn.
type Schedule struct {
	ID                string
	DueAt             time.Time
	Action            Action
	TargetTemperature *int
}

// New returns a validated Schedule.
func New(id string, dueAt time.Time, action Action, temperature *int) (Schedule, error) {
	s := Schedule{ID: id, DueAt: dueAt, Action: action, TargetTemperature: temperature}
	return s, s.Validate()
}

func (s Schedule) Validate() error {
	if s.DueAt.IsZero() {
		return ErrInvalidTime
	}
	switch s.Action {
	case TurnOn:
		if s.TargetTemperature == nil {
			return ErrMissingTemperature
		}
		return device.ValidateTemperature(*s.TargetTemperature)
	case TurnOff:
		if s.TargetTemperature != nil {
			return ErrUnexpectedTemperature
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, s.Action)
	}
}

// Due returns true if the schedule should fire at now.
func (s Schedule) Due(now time.Time) bool {
	return !s.DueAt.After(now)
}

// Remaining returns the time left until the schedule fires. Negative if the schedule is overdue.
func (s Schedule) Remaining(now time.Time) time.Duration {
	return s.DueAt.Sub(now)
}

// Description summarizes the schedule. If done, it describes the executed action.
func (s Schedule) Description(done bool) string {
	var text string
	switch s.Action {
	case TurnOn:
		text = "turn on"
		if done {
			text = "turned on"
		}
		if s.TargetTemperature != nil {
			text += " at " + strconv.Itoa(*s.TargetTemperature) + "°C"
		}
	default:
		text = "turn off"
		if done {
			text = "turned off"
		}
	}
	if !done {
		text += " at " + s.DueAt.Local().Format("15:04")
	}
	return text
}

func (s Schedule) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", s.ID),
		slog.Time("due", s.DueAt),
		slog.String("action", string(s.Action)),
	}
	if s.TargetTemperature != nil {
		attrs = append(attrs, slog.Int("temperature", *s.TargetTemperature))
	}
	return slog.GroupValue(attrs...)
}

// NextOccurrence returns the next time the clock shows hour:minute:00, in now's location.
// If that time today is not strictly after now, it returns that time tomorrow.
func NextOccurrence(hour, minute int, now time.Time) (time.Time, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
