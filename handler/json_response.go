package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/imobcloud/billing/pkg/binder"
	"github.com/imobcloud/billing/pkg/validator"
)

// JSONResponse is the standard JSON envelope.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the error part of the envelope.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
	raw    any
}

func (j *jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	if j.raw != nil {
		return json.NewEncoder(w).Encode(j.raw)
	}
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) { r.body.Meta = meta }
}

// JSON wraps v in the data envelope. An error value is rendered as JSONError
// would.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK}
	switch val := v.(type) {
	case JSONResponse:
		r.body = val
	case error:
		r.status, r.body.Error, r.raw = classify(val)
	default:
		r.body.Data = v
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err with the status derived from its type:
// *HTTPError keeps its own code, validation errors give 422, binder errors
// 400 and anything else 500 with a generic message.
func JSONError(err error, opts ...JSONOption) Response {
	r := &jsonResponse{}
	r.status, r.body.Error, r.raw = classify(err)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StatusCode returns the HTTP status JSONError would use for err.
func StatusCode(err error) int {
	status, _, _ := classify(err)
	return status
}

func classify(err error) (int, *ErrorDetail, any) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Body != nil {
			return httpErr.Code, nil, httpErr.Body
		}
		return httpErr.Code, &ErrorDetail{
			Code:    httpErr.Key,
			Message: httpErr.Error(),
			Details: httpErr.Details,
		}, nil
	}

	if ve := validator.ExtractValidationErrors(err); ve != nil {
		details := make(map[string][]string, len(ve))
		for _, fe := range ve {
			details[fe.Field] = append(details[fe.Field], fe.Message)
		}
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_error",
			Message: ve.Error(),
			Details: details,
		}, nil
	}

	if binder.IsBindError(err) {
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}, nil
	}

	return http.StatusInternalServerError, &ErrorDetail{
		Code:    "internal_error",
		Message: http.StatusText(http.StatusInternalServerError),
	}, nil
}
