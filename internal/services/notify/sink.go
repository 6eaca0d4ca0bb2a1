package notify

import (
	"context"

	logx "memenote/pkg/logx"
)

// Sink is the notification transport boundary. Implementations deliver one
// payload and report failure; delivery guarantees end at this interface.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// LogSink writes notifications to the log. It is the default sink for a
// daemon with no transport configured and the reference implementation for
// real ones.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Deliver(ctx context.Context, p Payload) error {
	s.Log.Info("notification",
		logx.String("action", string(p.Action)),
		logx.String("reminder_id", p.ReminderID),
		logx.String("user_id", p.UserID),
		logx.Time("reminder_time", p.ReminderTime),
		logx.Bool("acknowledged", p.IsAcknowledged),
		logx.String("message", p.Message))
	return nil
}
