package payment

import (
	"encoding/base64"
	"errors"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var ErrEmptyPixCode = errors.New("payment: empty pix code")

const pixQRSize = 256

// RenderPixQRCode encodes a PIX copy-and-paste (EMV) code as a base64 PNG,
// the same representation providers return in qr_code_base64.
func RenderPixQRCode(emv string, size int) (string, error) {
	if strings.TrimSpace(emv) == "" {
		return "", ErrEmptyPixCode
	}
	if size <= 0 {
		size = pixQRSize
	}
	png, err := skipqrcode.Encode(emv, skipqrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// ensurePixImage fills the base64 image when the provider returned only the
// EMV code.
func ensurePixImage(res *PaymentResult) {
	code := res.Extras[ExtraPixQRCode]
	if code == "" || res.Extras[ExtraPixQRCodeBase64] != "" {
		return
	}
	if img, err := RenderPixQRCode(code, pixQRSize); err == nil {
		res.Extras[ExtraPixQRCodeBase64] = img
	}
}
