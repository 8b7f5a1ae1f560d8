package notify

import (
	"context"
	"log/slog"
)

// LogSink はブローカー未設定時用。ログに出すだけ
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, ev Event) error {
	s.log.InfoContext(ctx, "notification",
		"event", string(ev.Type),
		"audience", ev.Audience,
		"recipient", ev.Recipient,
		"order_id", ev.Order.Order.ID,
		"order_number", ev.Order.Order.OrderNumber,
		"status", string(ev.Order.Order.Status),
		"total", ev.Order.Order.TotalAmount.String(),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
