package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/imobcloud/billing/pkg/logger"
)

// Check is a named readiness dependency.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler answers liveness probes when no checks are given and
// readiness probes otherwise. Each check runs with timeout; any failure turns
// the response into 503.
func HealthHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "alive"}
		code := http.StatusOK

		if len(checks) > 0 {
			resp.Status = "ready"
			resp.Checks = make(map[string]string, len(checks))

			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			for _, c := range checks {
				if err := c.Fn(ctx); err != nil {
					log.ErrorContext(ctx, "readiness check failed", slog.String("check", c.Name), logger.Error(err))
					resp.Checks[c.Name] = "fail"
					resp.Status = "not_ready"
					code = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[c.Name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
