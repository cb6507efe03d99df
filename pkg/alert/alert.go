package alert

import (
	"context"
	"errors"
	"time"
)

// Incident describes one failure worth an operator's attention.
type Incident struct {
	Provider  string
	Operation string
	EventID   string
	TenantID  string
	Err       error
	Fields    map[string]string
	At        time.Time
}

// Reporter delivers incidents. Implementations must not block the caller for
// long and must be safe for concurrent use.
type Reporter interface {
	Report(ctx context.Context, inc Incident)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, inc Incident)

func (f ReporterFunc) Report(ctx context.Context, inc Incident) { f(ctx, inc) }

// Nop discards incidents.
var Nop Reporter = ReporterFunc(func(context.Context, Incident) {})

type multi []Reporter

// Multi fans an incident out to every non-nil reporter.
func Multi(reporters ...Reporter) Reporter {
	out := make(multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Report(ctx context.Context, inc Incident) {
	if inc.At.IsZero() {
		inc.At = time.Now().UTC()
	}
	for _, r := range m {
		r.Report(ctx, inc)
	}
}

var (
	ErrInvalidConfig = errors.New("alert: invalid config")
	ErrFailedToSend  = errors.New("alert: failed to send notification")
)
