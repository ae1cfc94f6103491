// Package device describes the air-conditioner target state as it is kept in the remote store.
package device

import (
	"errors"
	"fmt"
)

// Paths of the device state in the remote store.
const (
	StatusPath            = "airConditioner/status"
	TemperaturePath       = "airConditioner/temperature"
	SchedulesPath         = "airConditioner/schedules"
	SensorTemperaturePath = "sensor/temperature"
	LEDPath               = "led/status"
)

// Temperature range accepted by the air conditioner, in °C.
const (
	MinTemperature = 18
	MaxTemperature = 30
)

var ErrInvalidTemperature = errors.New("invalid temperature")

// Status is the power state of the air conditioner.
type Status string

const (
	On  Status = "ON"
	Off Status = "OFF"
)

func (s Status) Valid() bool {
	return s == On || s == Off
}

// ValidateTemperature returns ErrInvalidTemperature if t is outside the supported range.
func ValidateTemperature(t int) error {
	if t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%w: %d°C not in %d-%d", ErrInvalidTemperature, t, MinTemperature, MaxTemperature)
	}
	return nil
}

// SchedulePath returns the path of a single schedule.
func SchedulePath(id string) string {
	return SchedulesPath + "/" + id
}
