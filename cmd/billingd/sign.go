package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imobcloud/billing/pkg/webhook"
)

var signFlags struct {
	secret    string
	dataID    string
	requestID string
	timestamp int64
}

var signWebhookCmd = &cobra.Command{
	Use:   "sign-webhook",
	Short: "Print a Mercado Pago x-signature header for a test notification",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if signFlags.secret == "" {
			return errors.New("--secret is required")
		}
		ts := signFlags.timestamp
		if ts == 0 {
			ts = time.Now().Unix()
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", webhook.MercadoPagoSignatureHeader,
			webhook.SignMercadoPago(signFlags.secret, signFlags.dataID, signFlags.requestID, ts))
		if signFlags.requestID != "" {
			fmt.Fprintf(out, "%s: %s\n", webhook.MercadoPagoRequestIDHeader, signFlags.requestID)
		}
		return nil
	},
}

func init() {
	f := signWebhookCmd.Flags()
	f.StringVar(&signFlags.secret, "secret", "", "webhook signing secret")
	f.StringVar(&signFlags.dataID, "data-id", "", "notification data.id")
	f.StringVar(&signFlags.requestID, "request-id", "", "x-request-id header value")
	f.Int64Var(&signFlags.timestamp, "ts", 0, "unix timestamp to sign (default now)")
}
