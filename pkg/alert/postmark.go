package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"maps"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/mrz1836/postmark"

	"github.com/imobcloud/billing/pkg/logger"
)

// Mailer is the part of *postmark.Client the reporter uses.
type Mailer interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

type postmarkReporter struct {
	mailer  Mailer
	config  Config
	log     *slog.Logger
	timeout time.Duration
}

// PostmarkOption configures the Postmark reporter.
type PostmarkOption func(*postmarkReporter)

// WithMailer replaces the Postmark API client.
func WithMailer(m Mailer) PostmarkOption {
	return func(r *postmarkReporter) { r.mailer = m }
}

// WithPostmarkLogger sets where delivery failures are logged.
func WithPostmarkLogger(l *slog.Logger) PostmarkOption {
	return func(r *postmarkReporter) {
		if l != nil {
			r.log = l
		}
	}
}

// NewPostmarkReporter e-mails incidents to cfg.Recipients through Postmark.
// Delivery failures are logged, never returned. Report waits for the API
// call; wrap the reporter in NewAsyncReporter on request paths.
func NewPostmarkReporter(cfg Config, opts ...PostmarkOption) (Reporter, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidConfig)
	}
	for _, rcpt := range cfg.Recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return nil, fmt.Errorf("%w: invalid recipient %q", ErrInvalidConfig, rcpt)
		}
	}

	r := &postmarkReporter{
		mailer:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config:  cfg,
		log:     logger.Nop(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MustNewPostmarkReporter panics on invalid config.
func MustNewPostmarkReporter(cfg Config, opts ...PostmarkOption) Reporter {
	r, err := NewPostmarkReporter(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *postmarkReporter) Report(ctx context.Context, inc Incident) {
	if err := r.send(ctx, inc); err != nil {
		r.log.WarnContext(ctx, "alert e-mail not delivered",
			logger.Component("alert"),
			logger.EventID(inc.EventID),
			logger.Error(err),
		)
	}
}

func (r *postmarkReporter) send(ctx context.Context, inc Incident) error {
	body, err := renderIncident(inc)
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}

	// the incident is often reported from a request that is about to end
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	resp, err := r.mailer.SendEmail(ctx, postmark.Email{
		From:     r.config.SenderEmail,
		To:       strings.Join(r.config.Recipients, ","),
		Subject:  subject(inc),
		Tag:      r.config.Tag,
		HTMLBody: body,
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSend,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}

func subject(inc Incident) string {
	s := fmt.Sprintf("[billing] %s %s failed", inc.Provider, inc.Operation)
	if inc.EventID != "" {
		s += " (" + inc.EventID + ")"
	}
	return s
}

var incidentTemplate = template.Must(template.New("incident").Parse(`<h2>Billing incident</h2>
<table>
<tr><th align="left">Provider</th><td>{{.Provider}}</td></tr>
<tr><th align="left">Operation</th><td>{{.Operation}}</td></tr>
{{- if .EventID}}
<tr><th align="left">Event</th><td>{{.EventID}}</td></tr>
{{- end}}
{{- if .TenantID}}
<tr><th align="left">Tenant</th><td>{{.TenantID}}</td></tr>
{{- end}}
<tr><th align="left">Time</th><td>{{.At}}</td></tr>
<tr><th align="left">Error</th><td><pre>{{.Error}}</pre></td></tr>
{{- range .Fields}}
<tr><th align="left">{{.Key}}</th><td>{{.Value}}</td></tr>
{{- end}}
</table>`))

type field struct{ Key, Value string }

func renderIncident(inc Incident) (string, error) {
	at := inc.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	errText := "unknown error"
	if inc.Err != nil {
		errText = inc.Err.Error()
	}
	fields := make([]field, 0, len(inc.Fields))
	for _, k := range slices.Sorted(maps.Keys(inc.Fields)) {
		fields = append(fields, field{Key: k, Value: inc.Fields[k]})
	}

	var buf bytes.Buffer
	err := incidentTemplate.Execute(&buf, struct {
		Provider, Operation, EventID, TenantID, Error, At string
		Fields                                           []field
	}{
		Provider:  inc.Provider,
		Operation: inc.Operation,
		EventID:   inc.EventID,
		TenantID:  inc.TenantID,
		Error:     errText,
		At:        at.Format(time.RFC3339),
		Fields:    fields,
	})
	return buf.String(), err
}
