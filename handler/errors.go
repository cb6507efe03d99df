package handler

import (
	"errors"
	"net/http"
)

// ErrNilResponse indicates a handler returned nil instead of a Response.
var ErrNilResponse = errors.New("handler returned nil response")

// HTTPError carries its own status code. Key is a stable machine-readable
// code. When Body is set it is rendered verbatim instead of the error
// envelope.
type HTTPError struct {
	Code    int
	Key     string
	Message string
	Details any
	Body    any
	Err     error
}

func (e *HTTPError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return http.StatusText(e.Code)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTPError wraps err with a status code and key.
func NewHTTPError(code int, key string, err error) *HTTPError {
	e := &HTTPError{Code: code, Key: key, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

type errorResponse struct{ err error }

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error { return e.err }

// Error returns a Response that hands err to the ErrorHandler configured on
// Wrap instead of writing anything itself.
func Error(err error) Response {
	return errorResponse{err: err}
}
