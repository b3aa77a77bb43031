package telemetry

import (
	"context"
	"log/slog"

	"github.com/verityengine/verity/pkg/domain"
)

// AuditSink receives one event per completed validation or pipeline call.
// Implementations must not block; slow consumers should buffer internally.
type AuditSink interface {
	Emit(ctx context.Context, event domain.AuditEvent)
}

// SlogSink writes audit events as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink builds a sink over the given logger. A nil logger uses the
// process default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event domain.AuditEvent) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "validation audit",
		slog.String("name", event.Name),
		slog.String("kind", event.Kind),
		slog.Bool("success", event.Success),
		slog.Duration("duration", event.Duration),
		slog.Int("violations", event.ViolationCount),
		slog.String("execution_id", event.ExecutionID),
		slog.Time("timestamp", event.Timestamp),
	)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, domain.AuditEvent) {}
