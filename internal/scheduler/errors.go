package scheduler

import (
	"errors"
)

var (
	ErrAlreadyRunning  = errors.New("already running")
	ErrScheduleGone    = errors.New("schedule no longer exists")
	ErrExecutionFailed = errors.New("execution failed")
)

// Step identifies the store operation of an execution.
type Step string

const (
	StepLookup      Step = "lookup"
	StepStatus      Step = "status"
	StepTemperature Step = "temperature"
	StepRemove      Step = "remove"
)

// ExecutionError reports which step of executing a schedule failed. It matches ErrExecutionFailed.
type ExecutionError struct {
	ScheduleID string
	Step       Step
	Err        error
}

func (e *ExecutionError) Error() string {
	reason := "unknown reason"
	if e.Err != nil {
		reason = e.Err.Error()
	}
	return "schedule " + e.ScheduleID + ": " + string(e.Step) + " failed: " + reason
}

func (e *ExecutionError) Is(err error) bool {
	return err == ErrExecutionFailed
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
