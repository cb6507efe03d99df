package payment

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/validator"
)

// Operation names used in error context, logs and metrics.
const (
	OpCreateOneOffPayment = "createOneOffPayment"
	OpGetPaymentStatus    = "getPaymentStatus"
	OpCancelPayment       = "cancelPayment"
	OpCreateCustomer      = "createCustomer"
	OpCreateSubscription  = "createSubscription"
	OpUpdateSubscription  = "updateSubscription"
	OpCancelSubscription  = "cancelSubscription"
	OpGetSubscription     = "getSubscription"
	OpEnrichEvent         = "enrichEvent"
)

// Method is a one-off payment method.
type Method string

const (
	MethodPix        Method = "pix"
	MethodBoleto     Method = "boleto"
	MethodCreditCard Method = "credit_card"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPix, MethodBoleto, MethodCreditCard:
		return true
	}
	return false
}

// Extras keys set on PaymentResult.
const (
	ExtraPixQRCode       = "pix_qr_code"
	ExtraPixQRCodeBase64 = "pix_qr_code_base64"
	ExtraBoletoURL       = "boleto_url"
	ExtraBoletoBarcode   = "boleto_barcode"
	ExtraTicketURL       = "ticket_url"
	ExtraTaxIDType       = "tax_id_type"
	ExtraExpiresAt       = "expires_at"
)

// PayerIdentity identifies who pays. TaxID accepts CPF or CNPJ, with or
// without punctuation.
type PayerIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	TaxID string `json:"tax_id"`
}

// TaxIDType tags the tax id as CPF or CNPJ; empty when it is not valid.
func (p PayerIdentity) TaxIDType() validator.TaxIDKind {
	return validator.DetectTaxID(p.TaxID)
}

// TaxIDDigits returns the tax id without punctuation.
func (p PayerIdentity) TaxIDDigits() string {
	return validator.NormalizeTaxID(p.TaxID)
}

// FirstName returns the first word of Name.
func (p PayerIdentity) FirstName() string {
	first, _, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
	return first
}

// LastName returns everything after the first word of Name.
func (p PayerIdentity) LastName() string {
	_, last, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
	return strings.TrimSpace(last)
}

// PaymentRequest describes a one-off charge.
type PaymentRequest struct {
	TenantID       string          `json:"tenant_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	Payer          PayerIdentity   `json:"payer"`
	Method         Method          `json:"method"`
	CardToken      string          `json:"card_token,omitempty"`
	CardBrand      string          `json:"card_brand,omitempty"`
	Installments   int             `json:"installments,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// Validate checks the request before any provider call.
func (r PaymentRequest) Validate() error {
	return validator.Apply(
		validator.Required("tenant_id", r.TenantID),
		validator.PositiveDecimal("amount", r.Amount),
		validator.MaxDecimalPlaces("amount", r.Amount, 2),
		validator.ValidCurrency("currency", r.Currency),
		validator.Required("description", r.Description),
		validator.MaxLength("description", r.Description, 255),
		validator.OneOf("method", r.Method, MethodPix, MethodBoleto, MethodCreditCard),
		validator.ValidEmail("payer.email", r.Payer.Email),
		validator.ValidTaxID("payer.tax_id", r.Payer.TaxID),
		validator.When(r.Method == MethodBoleto, validator.Required("payer.name", r.Payer.Name)),
		validator.When(r.Method == MethodCreditCard, validator.Required("card_token", r.CardToken)),
	)
}

// PaymentResult is the provider-independent view of a one-off payment.
// Status is the provider's own status string and StatusDetail is passed
// through untouched.
type PaymentResult struct {
	ID           string            `json:"id"`
	Provider     string            `json:"provider"`
	Status       string            `json:"status"`
	StatusDetail string            `json:"status_detail,omitempty"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency"`
	CreatedAt    time.Time         `json:"created_at"`
	ApprovedAt   *time.Time        `json:"approved_at,omitempty"`
	Extras       map[string]string `json:"extras,omitempty"`
}

// CustomerRequest registers a tenant with a recurring provider.
type CustomerRequest struct {
	TenantID string
	Payer    PayerIdentity
}

// SubscriptionRequest starts a recurring subscription. PlanRef is the
// provider-side price or plan reference; Amount and Currency are used by
// providers without a hosted price catalog.
type SubscriptionRequest struct {
	TenantID       string
	CustomerRef    string
	PlanRef        string
	PlanName       string
	Amount         decimal.Decimal
	Currency       string
	TrialDays      int
	PayerEmail     string
	BackURL        string
	IdempotencyKey string
}

func (r SubscriptionRequest) Validate() error {
	return validator.Apply(
		validator.Required("tenant_id", r.TenantID),
		validator.Required("customer_ref", r.CustomerRef),
		validator.Required("plan_ref", r.PlanRef),
		validator.Min("trial_days", r.TrialDays, 0),
	)
}

// SubscriptionUpdate changes a subscription. Nil fields are left alone.
type SubscriptionUpdate struct {
	PlanRef           *string
	Amount            *decimal.Decimal
	CancelAtPeriodEnd *bool
}

// SubscriptionResult is the provider-independent view of a subscription.
type SubscriptionResult struct {
	ID                 string       `json:"id"`
	CustomerRef        string       `json:"customer_ref,omitempty"`
	Status             event.Status `json:"status"`
	CurrentPeriodStart time.Time    `json:"current_period_start"`
	CurrentPeriodEnd   time.Time    `json:"current_period_end"`
	TrialEnd           *time.Time   `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool         `json:"cancel_at_period_end"`
	CanceledAt         *time.Time   `json:"canceled_at,omitempty"`
	// ActionURL is set when the payer must finish the change on a hosted
	// page (checkout, authorization or customer portal).
	ActionURL string `json:"action_url,omitempty"`
}

// PaymentClient is implemented by providers that take one-off payments.
type PaymentClient interface {
	CreateOneOffPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	GetPaymentStatus(ctx context.Context, id string) (*PaymentResult, error)
	CancelPayment(ctx context.Context, id string) error
}

// SubscriptionClient is implemented by recurring-billing providers.
type SubscriptionClient interface {
	Name() string
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error)
	UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, id string, immediate bool) (*SubscriptionResult, error)
}

// Provider implements both one-off and recurring operations.
type Provider interface {
	PaymentClient
	SubscriptionClient
}

// Enricher completes events whose notification carried only resource ids.
type Enricher interface {
	Enrich(ctx context.Context, ev event.Event) (event.Event, error)
}

// TerminalPaymentStatus reports whether a provider payment status can no
// longer change through cancellation.
func TerminalPaymentStatus(status string) bool {
	switch status {
	case "approved", "rejected", "cancelled", "canceled", "refunded", "charged_back", "succeeded":
		return true
	}
	return false
}
