package notifier

import (
	"github.com/slack-go/slack"
	"log/slog"
)

type SlackNotifier struct {
	Logger  *slog.Logger
	Slack   SlackSender
	Channel string
}

type SlackSender interface {
	PostMessage(string, ...slack.MsgOption) (string, string, error)
}

var _ Notifier = &SlackNotifier{}

func (s *SlackNotifier) Notify(ev Event) {
	s.Logger.Debug("notifying on slack", "channel", s.Channel)
	_, _, err := s.Slack.PostMessage(s.Channel, slack.MsgOptionAttachments(slack.Attachment{
		Color: color(ev.Kind),
		Title: ev.Title,
		Text:  ev.Text,
	}))
	if err != nil {
		s.Logger.Error("notifier failed to post message", "err", err)
	}
}

func color(kind Kind) string {
	switch kind {
	case Executed:
		return "good"
	case Alert:
		return "warning"
	case Failure:
		return "danger"
	default:
		return "#439FE0"
	}
}
