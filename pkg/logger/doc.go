// Package logger builds the *slog.Logger used across the billing service.
//
// New assembles a text or JSON handler from functional options and wraps it
// in LogHandlerDecorator, which copies request-scoped values (request id,
// tenant id, provider) from context.Context into every record.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.AppEnv, "billingd"),
//		logger.WithContextExtractors(logger.ContextAttrsExtractor()),
//	)
//	ctx = logger.ContextWithAttrs(ctx, logger.TenantID(tenantID))
//	log.InfoContext(ctx, "subscription updated", logger.Provider("stripe"))
//
// Attribute helpers such as TenantID, Provider, EventID and Operation keep
// key names consistent so log queries work across components.
package logger
