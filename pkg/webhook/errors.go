package webhook

import "errors"

var (
	// ErrAuthentication marks every verification failure.
	ErrAuthentication     = errors.New("webhook: signature verification failed")
	ErrMissingSecret      = errors.New("webhook: signing secret is not configured")
	ErrMissingSignature   = errors.New("webhook: signature header is missing")
	ErrMalformedSignature = errors.New("webhook: malformed signature header")
	ErrSignatureMismatch  = errors.New("webhook: signature mismatch")
)

// IsAuthenticationError reports whether err came from signature verification.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

func joinAuth(errs ...error) error {
	return errors.Join(append([]error{ErrAuthentication}, errs...)...)
}
