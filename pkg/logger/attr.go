package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups non-nil errors under "errors". All-nil input yields an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under "error". A nil error yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TenantID records the tenant identifier. Nil yields an empty Attr.
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("tenant_id", id)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// EventID records the provider event id. Empty ids yield an empty Attr.
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func PaymentID(id string) slog.Attr {
	return slog.String("payment_id", id)
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
