package validator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func PositiveDecimal(field string, value decimal.Decimal) Rule {
	return Rule{
		Check: func() bool { return value.IsPositive() },
		Error: ValidationError{Field: field, Message: "amount must be positive", Code: "positive_amount"},
	}
}

// MaxDecimalPlaces rejects amounts with more fractional digits than places.
func MaxDecimalPlaces(field string, value decimal.Decimal, places int32) Rule {
	return Rule{
		Check: func() bool { return value.Equal(value.Truncate(places)) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d decimal places", places), Code: "decimal_places"},
	}
}

// supportedCurrencies lists what the configured providers can charge in.
var supportedCurrencies = map[string]bool{"BRL": true, "USD": true, "EUR": true}

func ValidCurrency(field, value string) Rule {
	return Rule{
		Check: func() bool { return supportedCurrencies[value] },
		Error: ValidationError{Field: field, Message: "unsupported currency", Code: "currency"},
	}
}
