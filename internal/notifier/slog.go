package notifier

import (
	"context"
	"log/slog"
)

type SLogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = &SLogNotifier{}

func (s SLogNotifier) Notify(ev Event) {
	level := slog.LevelInfo
	if ev.Kind == Alert || ev.Kind == Failure {
		level = slog.LevelWarn
	}
	s.Logger.Log(context.Background(), level, ev.Title+": "+ev.Text, slog.String("kind", string(ev.Kind)))
}
