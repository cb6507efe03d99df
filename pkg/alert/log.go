package alert

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/imobcloud/billing/pkg/logger"
)

type logReporter struct {
	log *slog.Logger
}

// NewLogReporter logs incidents at ERROR level.
func NewLogReporter(l *slog.Logger) Reporter {
	if l == nil {
		l = logger.Nop()
	}
	return &logReporter{log: l.With(logger.Component("alert"))}
}

func (r *logReporter) Report(ctx context.Context, inc Incident) {
	attrs := []slog.Attr{
		logger.Provider(inc.Provider),
		logger.Operation(inc.Operation),
		logger.Error(inc.Err),
	}
	if inc.EventID != "" {
		attrs = append(attrs, logger.EventID(inc.EventID))
	}
	if inc.TenantID != "" {
		attrs = append(attrs, logger.TenantID(inc.TenantID))
	}
	if len(inc.Fields) > 0 {
		fields := make([]slog.Attr, 0, len(inc.Fields))
		for _, k := range slices.Sorted(maps.Keys(inc.Fields)) {
			fields = append(fields, slog.String(k, inc.Fields[k]))
		}
		attrs = append(attrs, logger.Group("fields", fields...))
	}
	r.log.LogAttrs(ctx, slog.LevelError, "billing incident", attrs...)
}
