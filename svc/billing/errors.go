package billing

import (
	"errors"
	"net/http"

	"github.com/imobcloud/billing/handler"
	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/subscription"
	"github.com/imobcloud/billing/pkg/validator"
)

var (
	ErrUnknownProvider        = errors.New("billing: unknown payment provider")
	ErrPaymentNotFound        = errors.New("billing: payment not found")
	ErrNoProviderSubscription = errors.New("billing: tenant has no provider subscription")
	ErrInvalidTenantID        = errors.New("billing: invalid tenant id")
	ErrLedgerUnavailable      = errors.New("billing: webhook ledger unavailable")
)

// apiError maps the billing error taxonomy onto HTTP responses. Enforcement
// outcomes keep their structured body.
func apiError(err error) error {
	if body, ok := limits.DecisionBody(err); ok {
		return &handler.HTTPError{Code: http.StatusForbidden, Key: body.Error, Body: body, Err: err}
	}
	if validator.IsValidationError(err) {
		return err
	}

	var oe *payment.OperationError
	if errors.As(err, &oe) {
		switch {
		case errors.Is(err, payment.ErrValidation), errors.Is(err, limits.ErrPlanNotFound):
			return &handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "validation_error", Message: err.Error(), Err: err}
		case errors.Is(err, payment.ErrConflict):
			return &handler.HTTPError{Code: http.StatusConflict, Key: "conflict", Message: err.Error(), Err: err}
		case errors.Is(err, payment.ErrNotFound):
			return &handler.HTTPError{Code: http.StatusNotFound, Key: "not_found", Message: err.Error(), Err: err}
		}
		return &handler.HTTPError{
			Code:    http.StatusBadGateway,
			Key:     "provider_error",
			Message: err.Error(),
			Details: map[string]any{
				"provider":      oe.Provider,
				"operation":     oe.Operation,
				"status_detail": oe.StatusDetail,
			},
			Err: err,
		}
	}

	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound),
		errors.Is(err, ErrPaymentNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "not_found", err)
	case errors.Is(err, subscription.ErrSubscriptionAlreadyExists),
		errors.Is(err, subscription.ErrVersionConflict),
		errors.Is(err, ErrNoProviderSubscription),
		errors.Is(err, payment.ErrConflict):
		return handler.NewHTTPError(http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrInvalidTenantID),
		errors.Is(err, subscription.ErrInvalidPlan),
		errors.Is(err, limits.ErrInvalidResource),
		errors.Is(err, ErrUnknownProvider):
		return handler.NewHTTPError(http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, payment.ErrValidation), errors.Is(err, limits.ErrPlanNotFound):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "validation_error", err)
	}
	return err
}
