// Package binder decodes HTTP request data into typed request structs.
//
// Binders are plain functions with the signature
//
//	func(r *http.Request, v any) error
//
// and are meant to be chained by the handler package: each binder only
// touches the struct fields tagged for its source.
//
//	type CheckRequest struct {
//		TenantID string `path:"tenantID"`
//		Resource string `path:"resource"`
//		Dry      bool   `query:"dry"`
//	}
//
//	r.Post("/tenants/{tenantID}/check/{resource}", handler.Wrap(h,
//		handler.WithBinders[handler.Context, CheckRequest](
//			binder.Path(chi.URLParam),
//			binder.Query(),
//		),
//	))
//
// JSON decoding is strict: unknown fields, trailing data and bodies larger
// than DefaultMaxJSONSize are rejected. A JSON binder applied to a request
// without a body reports ErrBinderNotApplicable so that GET and DELETE
// routes can share request types with POST routes.
//
// Supported scalar kinds for path and query values are string, signed and
// unsigned integers, floats and bool, plus pointers and slices of those.
package binder
