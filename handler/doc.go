// Package handler is the typed HTTP layer used by the billing API.
//
// A HandlerFunc receives a Context and a request struct filled in by
// binders (see pkg/binder) and returns a Response:
//
//	type UsageRequest struct {
//		TenantID uuid.UUID `path:"tenantID"`
//	}
//
//	usage := handler.HandlerFunc[handler.Context, UsageRequest](
//		func(ctx handler.Context, req UsageRequest) handler.Response {
//			report, err := enforcer.Usage(ctx, req.TenantID)
//			if err != nil {
//				return handler.JSONError(err)
//			}
//			return handler.JSON(report)
//		},
//	)
//
// Responses:
//
//	handler.JSON(v)                       // {"data": v} with 200
//	handler.JSON(v, handler.WithJSONStatus(http.StatusCreated))
//	handler.JSONError(err)                // {"error": {...}} with derived status
//	handler.Empty()                       // 204
//	handler.EmptyWithStatus(http.StatusOK)
//
// Errors are rendered according to their type. *HTTPError keeps its code
// and may replace the envelope with a custom Body, which is how
// enforcement decisions reach clients unchanged. validator.ValidationErrors
// map to 422 with per-field details and binder errors to 400; anything
// else is a 500 with a generic message.
//
// NewErrorHandler combines that rendering with logging and a domain
// ErrorMapper. RequestID is middleware that tags every request with an id
// available through RequestIDFromContext and RequestIDExtractor.
package handler
