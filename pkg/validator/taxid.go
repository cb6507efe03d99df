package validator

import "strings"

// TaxIDKind is the Brazilian tax identifier type.
type TaxIDKind string

const (
	TaxIDUnknown TaxIDKind = ""
	TaxIDCPF     TaxIDKind = "CPF"
	TaxIDCNPJ    TaxIDKind = "CNPJ"
)

// NormalizeTaxID strips the usual punctuation ("529.982.247-25",
// "11.222.333/0001-81") and returns only the digits. Any other character
// yields an empty string.
func NormalizeTaxID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '/' || r == ' ':
		default:
			return ""
		}
	}
	return b.String()
}

// DetectTaxID tags a tax id by length after normalization: 11 digits is a
// CPF, 14 digits a CNPJ. Check digits are verified; an invalid id is
// TaxIDUnknown.
func DetectTaxID(raw string) TaxIDKind {
	digits := NormalizeTaxID(raw)
	switch len(digits) {
	case 11:
		if validCPF(digits) {
			return TaxIDCPF
		}
	case 14:
		if validCNPJ(digits) {
			return TaxIDCNPJ
		}
	}
	return TaxIDUnknown
}

func ValidTaxID(field, value string) Rule {
	return Rule{
		Check: func() bool { return DetectTaxID(value) != TaxIDUnknown },
		Error: ValidationError{Field: field, Message: "must be a valid CPF or CNPJ", Code: "tax_id"},
	}
}

func ValidCPF(field, value string) Rule {
	return Rule{
		Check: func() bool { return DetectTaxID(value) == TaxIDCPF },
		Error: ValidationError{Field: field, Message: "must be a valid CPF", Code: "cpf"},
	}
}

func ValidCNPJ(field, value string) Rule {
	return Rule{
		Check: func() bool { return DetectTaxID(value) == TaxIDCNPJ },
		Error: ValidationError{Field: field, Message: "must be a valid CNPJ", Code: "cnpj"},
	}
}

func validCPF(d string) bool {
	if repeated(d) {
		return false
	}
	return cpfDigit(d[:9], 10) == d[9] && cpfDigit(d[:10], 11) == d[10]
}

func cpfDigit(d string, weight int) byte {
	sum := 0
	for i := range len(d) {
		sum += int(d[i]-'0') * (weight - i)
	}
	r := sum * 10 % 11
	if r == 10 {
		r = 0
	}
	return byte('0' + r)
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

func validCNPJ(d string) bool {
	if repeated(d) {
		return false
	}
	return cnpjDigit(d[:12], cnpjWeights1) == d[12] && cnpjDigit(d[:13], cnpjWeights2) == d[13]
}

func cnpjDigit(d string, weights []int) byte {
	sum := 0
	for i := range len(d) {
		sum += int(d[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}

func repeated(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}
