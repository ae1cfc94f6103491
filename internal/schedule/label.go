package schedule

import (
	"strconv"
	"time"
)

const overdue = "overdue"

// RemainingLabel describes how long until dueAt, truncated to whole seconds. It has no side effects.
func RemainingLabel(dueAt, now time.Time) string {
	if !dueAt.After(now) {
		return overdue
	}
	remaining := int64(dueAt.Sub(now) / time.Second)
	hours := remaining / 3600
	minutes := (remaining % 3600) / 60
	seconds := remaining % 60

	switch {
	case hours > 0:
		return itoa(hours) + " hours " + itoa(minutes) + " minutes remaining"
	case minutes > 0:
		return itoa(minutes) + " minutes " + itoa(seconds) + " seconds remaining"
	default:
		return itoa(seconds) + " seconds remaining"
	}
}

func itoa(i int64) string {
	return strconv.FormatInt(i, 10)
}
