package webhook

import "net/http"

// Verifier checks the authenticity of a raw webhook request. A false result
// is always accompanied by an error wrapping ErrAuthentication.
type Verifier interface {
	Verify(headers http.Header, body []byte) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(headers http.Header, body []byte) (bool, error)

func (f VerifierFunc) Verify(headers http.Header, body []byte) (bool, error) {
	return f(headers, body)
}

func reject(errs ...error) (bool, error) {
	return false, joinAuth(errs...)
}
