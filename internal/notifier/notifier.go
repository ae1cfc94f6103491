// Package notifier tells the user what the service did on their behalf.
package notifier

import "time"

// Kind classifies an Event.
type Kind string

const (
	Info     Kind = "info"
	Executed Kind = "executed"
	Alert    Kind = "alert"
	Failure  Kind = "failure"
)

type Event struct {
	Kind  Kind      `json:"kind"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

type Notifier interface {
	Notify(Event)
}

type Notifiers []Notifier

func (n Notifiers) Notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, l := range n {
		l.Notify(ev)
	}
}
