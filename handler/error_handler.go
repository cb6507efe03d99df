package handler

import (
	"log/slog"
	"net/http"

	"github.com/imobcloud/billing/pkg/logger"
)

// ErrorMapper translates domain errors into errors JSONError understands,
// typically *HTTPError. It returns err unchanged when it has no mapping.
type ErrorMapper func(err error) error

// NewErrorHandler logs the failed request and renders err as JSON. Client
// errors are logged at WARN, server errors at ERROR.
func NewErrorHandler(log *slog.Logger, mapper ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx Context, err error) {
		if mapper != nil {
			err = mapper(err)
		}
		status := StatusCode(err)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request error",
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		if renderErr := JSONError(err).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
