package webhook

import (
	"bytes"
	"net/http"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const PaddleSignatureHeader = "Paddle-Signature"

// PaddleVerifier wraps the SDK verifier, which works on *http.Request.
type PaddleVerifier struct {
	verifier *paddle.WebhookVerifier
}

func NewPaddleVerifier(secret string) *PaddleVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &PaddleVerifier{}
	}
	return &PaddleVerifier{verifier: paddle.NewWebhookVerifier(secret)}
}

func (v *PaddleVerifier) Verify(headers http.Header, body []byte) (bool, error) {
	if v.verifier == nil {
		return reject(ErrMissingSecret)
	}
	sig := headers.Get(PaddleSignatureHeader)
	if strings.TrimSpace(sig) == "" {
		return reject(ErrMissingSignature)
	}

	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if err != nil {
		return reject(err)
	}
	req.Header.Set(PaddleSignatureHeader, sig)

	ok, err := v.verifier.Verify(req)
	if err != nil {
		return reject(ErrMalformedSignature, err)
	}
	if !ok {
		return reject(ErrSignatureMismatch)
	}
	return true, nil
}
