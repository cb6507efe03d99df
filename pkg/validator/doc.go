// Package validator provides small composable validation rules.
//
// A Rule pairs a check with the ValidationError reported when it fails.
// Apply evaluates rules in order and returns ValidationErrors:
//
//	err := validator.Apply(
//		validator.Required("description", req.Description),
//		validator.PositiveDecimal("amount", req.Amount),
//		validator.ValidTaxID("payer.tax_id", req.Payer.TaxID),
//	)
//
// Brazilian tax identifiers are checked with their modulo-11 check digits:
// 11 digits as CPF, 14 digits as CNPJ. DetectTaxID returns the kind of a
// well-formed identifier.
package validator
