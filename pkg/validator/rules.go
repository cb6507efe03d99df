package validator

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"unicode/utf8"
)

func Required(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "is required", Code: "required"},
	}
}

func MaxLength(field, value string, n int) Rule {
	return Rule{
		Check: func() bool { return utf8.RuneCountInString(value) <= n },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", n), Code: "max_length"},
	}
}

// ValidEmail accepts bare addresses only ("a@b.c", not "Name <a@b.c>").
func ValidEmail(field, value string) Rule {
	return Rule{
		Check: func() bool {
			addr, err := mail.ParseAddress(value)
			return err == nil && addr.Address == value
		},
		Error: ValidationError{Field: field, Message: "must be a valid email address", Code: "email"},
	}
}

func OneOf[T comparable](field string, value T, allowed ...T) Rule {
	return Rule{
		Check: func() bool { return slices.Contains(allowed, value) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be one of %v", allowed), Code: "one_of"},
	}
}

func Min[T ~int | ~int64](field string, value, minimum T) Rule {
	return Rule{
		Check: func() bool { return value >= minimum },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at least %d", minimum), Code: "min"},
	}
}
