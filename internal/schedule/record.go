package schedule

import (
	"fmt"
	"time"
)

// timeLayout matches the ISO-8601 form written by the mobile clients.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is the stored form of a Schedule, kept under airConditioner/schedules/{id}.
type Record struct {
	ScheduleID  string `json:"scheduleId"`
	Time        string `json:"time"`
	Action      Action `json:"action"`
	Temperature *int   `json:"temperature"`
}

func (s Schedule) Record() Record {
	return Record{
		ScheduleID:  s.ID,
		Time:        s.DueAt.UTC().Format(timeLayout),
		Action:      s.Action,
		Temperature: s.TargetTemperature,
	}
}

// FromRecord decodes a stored Record. The id is the record's key in the collection.
func FromRecord(id string, r Record) (Schedule, error) {
	dueAt, err := time.Parse(time.RFC3339, r.Time)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %w", ErrInvalidTime, err)
	}
	s := Schedule{ID: id, DueAt: dueAt.Local(), Action: r.Action, TargetTemperature: r.Temperature}
	if err = s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}
