package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("req", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "req", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestBillingAttrs(t *testing.T) {
	tests := []struct {
		attr  slog.Attr
		key   string
		value any
	}{
		{logger.TenantID("t-1"), "tenant_id", "t-1"},
		{logger.Provider("stripe"), "provider", "stripe"},
		{logger.Operation("cancelPayment"), "operation", "cancelPayment"},
		{logger.EventID("evt_1"), "event_id", "evt_1"},
		{logger.PaymentID("pay_1"), "payment_id", "pay_1"},
		{logger.SubscriptionID("sub_1"), "subscription_id", "sub_1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.value, tt.attr.Value.Any())
		})
	}

	assert.True(t, logger.TenantID(nil).Equal(slog.Attr{}))
	assert.True(t, logger.EventID("").Equal(slog.Attr{}))
}
