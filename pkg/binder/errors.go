package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrFailedToParseQuery   = errors.New("failed to parse query parameters")
	ErrFailedToParsePath    = errors.New("failed to parse path parameters")
	ErrMissingContentType   = errors.New("missing content type")
	// ErrBinderNotApplicable tells the caller to skip this binder for the
	// request, e.g. a JSON binder on a request without a body.
	ErrBinderNotApplicable = errors.New("binder not applicable to request")
)

// IsBindError reports whether err came from one of the binders, as opposed
// to a failure further down the handler chain.
func IsBindError(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrFailedToParseJSON) ||
		errors.Is(err, ErrFailedToParseQuery) ||
		errors.Is(err, ErrFailedToParsePath) ||
		errors.Is(err, ErrMissingContentType)
}
