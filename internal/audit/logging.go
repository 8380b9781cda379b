package audit

import (
	"context"
	"log/slog"
)

// LoggingSink wraps a Sink and mirrors every record to a structured
// logger so the audit trail shows up in operational logs as well.
type LoggingSink struct {
	next   Sink
	logger *slog.Logger
}

// NewLoggingSink wraps next with slog mirroring.
func NewLoggingSink(next Sink, logger *slog.Logger) *LoggingSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSink{next: next, logger: logger.With("component", "audit")}
}

func (l *LoggingSink) Record(ctx context.Context, record *Record) error {
	if err := l.next.Record(ctx, record); err != nil {
		return err
	}

	attrs := []any{
		"seq", record.Seq,
		"session_id", record.SessionID,
		"type", string(record.Type),
	}
	if record.ToolName != "" {
		attrs = append(attrs, "tool", record.ToolName)
	}
	if record.Metrics.LatencyMS > 0 {
		attrs = append(attrs, "latency_ms", record.Metrics.LatencyMS)
	}
	if record.Error {
		l.logger.Warn("audit record", attrs...)
	} else {
		l.logger.Info("audit record", attrs...)
	}
	return nil
}

func (l *LoggingSink) Query(ctx context.Context, q Query) ([]*Record, error) {
	return l.next.Query(ctx, q)
}
