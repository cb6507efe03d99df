package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imobcloud/billing/pkg/alert"
	"github.com/imobcloud/billing/pkg/httpserver"
	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/logger"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/pg"
	"github.com/imobcloud/billing/pkg/redis"
	"github.com/imobcloud/billing/pkg/subscription"
	"github.com/imobcloud/billing/pkg/webhook"
	"github.com/imobcloud/billing/svc/billing"
)

const (
	ledgerPruneInterval    = time.Hour
	reporterDrainTimeout   = 10 * time.Second
	unsignedReportInterval = 15 * time.Minute
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing HTTP API and webhook receivers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	closers := []func(){pool.Close}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	if migrateOnStart {
		if err := pg.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
			return err
		}
	}
	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	store := billing.NewPGStore(pool, billing.WithPGLedgerTTL(cfg.LedgerTTL))

	var (
		ledger subscription.Ledger
		prune  bool
	)
	switch cfg.Ledger {
	case billing.LedgerMemory:
		ledger = subscription.NewMemoryLedger(subscription.WithLedgerTTL(cfg.LedgerTTL))
	case billing.LedgerRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = client.Close() })
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		ledger = billing.NewRedisLedger(client, cfg.LedgerTTL)
	case billing.LedgerPostgres, "":
		ledger = store
		prune = true
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}

	var source limits.Source = store
	if cfg.PlansFile != "" {
		source = limits.NewYAMLSource(cfg.PlansFile)
	}
	catalog, err := limits.NewCatalog(ctx, source)
	if err != nil {
		return err
	}
	counters, err := store.UsageCounters(usageTables(cfg.UsageTables))
	if err != nil {
		return err
	}

	metrics := alert.NewMetrics(alert.WithSubjectFilter(catalog.Known))
	reporter, closeReporter, err := newReporter(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reporterDrainTimeout)
		defer cancel()
		if err := closeReporter(ctx); err != nil {
			log.WarnContext(ctx, "pending alerts not delivered", logger.Error(err))
		}
	}()

	subs := subscription.NewService(store,
		subscription.WithLedger(ledger),
		subscription.WithLogger(log),
		subscription.WithPlanResolver(catalog.PlanForPrice),
	)
	enforcer := limits.NewEnforcer(subs, catalog, counters, limits.WithObserver(metrics.ObserveEnforcement))

	opts, err := providerOptions(cfg, log, reporter)
	if err != nil {
		return err
	}
	svc := billing.NewService(subs, enforcer, catalog, store, append(opts,
		billing.WithReporter(reporter),
		billing.WithMetrics(metrics),
		billing.WithLogger(log),
		billing.WithDefaultTrialDays(cfg.DefaultTrialDays),
	)...)

	router := billing.Router(svc, billing.RouterConfig{
		Logger:      log,
		Metrics:     metrics.Handler(),
		ReadyChecks: checks,
	})
	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	g.Go(func() error {
		defer stop()
		return server.Run(gctx, router)
	})
	if prune {
		g.Go(func() error {
			pruneLedger(gctx, store, log)
			return nil
		})
	}
	return g.Wait()
}

// providerOptions builds the configured providers and their webhook
// sources. Providers without credentials are skipped; the selected default
// providers must be available.
func providerOptions(cfg billing.Config, log *slog.Logger, reporter alert.Reporter) ([]billing.Option, error) {
	recurring := map[string]payment.SubscriptionClient{}
	oneOff := map[string]billing.OneOffProvider{}
	var sources []billing.WebhookSource

	if sp, err := payment.NewStripeProvider(cfg.Stripe); err == nil {
		recurring[sp.Name()] = sp
		oneOff[sp.Name()] = sp
	} else if !errors.Is(err, payment.ErrMissingCredentials) {
		return nil, err
	}
	sources = append(sources, billing.StripeSource(webhook.NewStripeVerifier(cfg.Stripe.WebhookSecret)))

	if pp, err := payment.NewPaddleProvider(cfg.Paddle); err == nil {
		recurring[pp.Name()] = pp
	} else if !errors.Is(err, payment.ErrMissingCredentials) {
		return nil, err
	}
	sources = append(sources, billing.PaddleSource(webhook.NewPaddleVerifier(cfg.Paddle.WebhookSecret)))

	var enricher payment.Enricher
	if mp, err := payment.NewMercadoPagoProvider(cfg.MercadoPago); err == nil {
		recurring[mp.Name()] = mp
		oneOff[mp.Name()] = mp
		enricher = mp
	} else if !errors.Is(err, payment.ErrMissingCredentials) {
		return nil, err
	}
	mpVerifier := webhook.NewMercadoPagoVerifier(cfg.MercadoPago.WebhookSecret,
		webhook.WithAllowUnsigned(cfg.MercadoPago.AllowUnsignedWebhooks),
		webhook.WithLogger(log),
		webhook.WithUnsignedHook(billing.UnsignedHook(reporter, unsignedReportInterval)),
	)
	sources = append(sources, billing.MercadoPagoSource(mpVerifier, enricher))

	defRecurring, ok := recurring[cfg.RecurringProvider]
	if !ok {
		return nil, fmt.Errorf("%w: recurring provider %q has no credentials", payment.ErrMissingCredentials, cfg.RecurringProvider)
	}
	defOneOff, ok := oneOff[cfg.OneOffProvider]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %q has no credentials", payment.ErrMissingCredentials, cfg.OneOffProvider)
	}

	var otherRecurring []payment.SubscriptionClient
	for name, c := range recurring {
		if name != cfg.RecurringProvider {
			otherRecurring = append(otherRecurring, c)
		}
	}
	var otherOneOff []billing.OneOffProvider
	for name, c := range oneOff {
		if name != cfg.OneOffProvider {
			otherOneOff = append(otherOneOff, c)
		}
	}
	log.Info("payment providers configured",
		slog.String("recurring", cfg.RecurringProvider),
		slog.String("one_off", cfg.OneOffProvider),
		slog.Int("recurring_available", len(recurring)),
		slog.Int("one_off_available", len(oneOff)),
	)

	return []billing.Option{
		billing.WithRecurringProviders(defRecurring, otherRecurring...),
		billing.WithOneOffProviders(defOneOff, otherOneOff...),
		billing.WithWebhookSources(sources...),
	}, nil
}

// newReporter logs every incident and, when configured, e-mails it from a
// background queue. The returned func drains that queue.
func newReporter(cfg billing.Config, log *slog.Logger) (alert.Reporter, func(context.Context) error, error) {
	reporters := []alert.Reporter{alert.NewLogReporter(log)}
	closeFn := func(context.Context) error { return nil }
	if cfg.Alert.Enabled() {
		pm, err := alert.NewPostmarkReporter(cfg.Alert, alert.WithPostmarkLogger(log))
		if err != nil {
			return nil, nil, err
		}
		queued := alert.NewAsyncReporter(pm, alert.WithAsyncLogger(log))
		reporters = append(reporters, queued)
		closeFn = queued.Close
	}
	return alert.Multi(reporters...), closeFn, nil
}

func usageTables(raw map[string]string) map[limits.Resource]string {
	out := make(map[limits.Resource]string, len(raw))
	for res, table := range raw {
		out[limits.Resource(res)] = table
	}
	return out
}

func pruneLedger(ctx context.Context, store *billing.PGStore, log *slog.Logger) {
	ticker := time.NewTicker(ledgerPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PruneLedger(ctx)
			if err != nil {
				log.WarnContext(ctx, "ledger prune failed", logger.Error(err))
				continue
			}
			log.DebugContext(ctx, "ledger pruned", slog.Int64("deleted", n))
		}
	}
}
