package notify

import (
	"context"
	"log/slog"
)

// LogSender writes alerts to the process log. Useful as a fallback channel
// and in development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.logger.Info("notification",
		"server", msg.Server,
		"run_id", msg.RunID,
		"status", msg.Status,
		"recovered", msg.Recovered,
		"subject", msg.Subject)
	return nil
}
