package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	auditclient "github.com/Strob0t/TheraGate/internal/adapter/auditsink"
	"github.com/Strob0t/TheraGate/internal/adapter/billingapi"
	tghttp "github.com/Strob0t/TheraGate/internal/adapter/http"
	tgnats "github.com/Strob0t/TheraGate/internal/adapter/nats"
	"github.com/Strob0t/TheraGate/internal/adapter/natskv"
	tgotel "github.com/Strob0t/TheraGate/internal/adapter/otel"
	"github.com/Strob0t/TheraGate/internal/adapter/postgres"
	"github.com/Strob0t/TheraGate/internal/adapter/ristretto"
	"github.com/Strob0t/TheraGate/internal/adapter/tiered"
	"github.com/Strob0t/TheraGate/internal/adapter/ws"
	"github.com/Strob0t/TheraGate/internal/config"
	"github.com/Strob0t/TheraGate/internal/logger"
	"github.com/Strob0t/TheraGate/internal/metrics"
	"github.com/Strob0t/TheraGate/internal/middleware"
	"github.com/Strob0t/TheraGate/internal/port/auditsink"
	"github.com/Strob0t/TheraGate/internal/port/messagequeue"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
	"github.com/Strob0t/TheraGate/internal/resilience"
	"github.com/Strob0t/TheraGate/internal/service"
)

const idempotencyTTL = 24 * time.Hour

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway and operator API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"version", Version,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"webhook_env", cfg.Webhook.Environment,
		"webhook_async", cfg.Webhook.Async,
		"keystore", cfg.Keystore.Backend,
	)

	// --- Observability ---

	otelShutdown, err := tgotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	otelMets, err := tgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	mets := metrics.New()

	// --- Infrastructure ---

	pool, err := openDatabase(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	queue, err := tgnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	vault, err := newVault()
	if err != nil {
		return err
	}
	keyStore, sealer, err := openKeyStore(cfg, pool, vault)
	if err != nil {
		return err
	}
	if sealer == nil {
		return fmt.Errorf("keystore.master_key is required: high-assurance audit entries are sealed at rest")
	}
	store := postgres.NewStore(pool, sealer)

	// L1 in-process cache, L2 JetStream KV shared across replicas.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	accountCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)

	// --- Outbound clients ---

	breakerHook := func(name string) resilience.Option {
		return resilience.WithStateHook(func(from, to string) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
		})
	}
	billing := billingapi.NewClient(cfg.Billing.URL, cfg.Billing.APIKey, cfg.Billing.Timeout,
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
			resilience.WithFailureFilter(billingapi.CountsAsFailure), breakerHook("billing")))

	var sink auditsink.Sink
	if cfg.Audit.RemoteURL != "" {
		sink = auditclient.NewClient(cfg.Audit.RemoteURL, cfg.Audit.RemoteTimeout,
			resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
				resilience.WithFailureFilter(auditclient.CountsAsFailure), breakerHook("audit_sink")))
	}

	// --- Notification channels ---

	hub := ws.NewHub(cfg.Server.AdminToken, nil)
	defer hub.Close()
	channels, authority := buildNotifiers(cfg.Incident, hub, tgnats.NewNotifier(queue))

	// --- Services ---

	auditSvc := service.NewAuditService(cfg.Audit, store, hub, sink)
	auditSvc.SetRedactor(vault.RedactString)
	auditSvc.SetMetrics(mets)

	notifySvc := service.NewNotificationService(channels, authority, cfg.Incident.ChannelTimeout)
	notifySvc.SetMetrics(mets)

	incidentSvc := service.NewIncidentService(store, auditSvc, notifySvc, hub)
	incidentSvc.SetQueue(queue)
	incidentSvc.SetMetrics(mets)
	incidentSvc.SetOTelMetrics(otelMets)
	auditSvc.SetEscalator(incidentSvc)

	keySvc := service.NewKeyService(keyStore, l1, cfg.Keystore.CacheTTL, auditSvc)
	caps := service.NewCapabilityCache(accountCache, cfg.Cache.L2TTL)

	dispatcher := service.NewDispatcher(billing, billing, caps, notifySvc, auditSvc)
	dispatcher.SetMetrics(mets)
	dispatcher.SetOTelMetrics(otelMets)

	retry := service.NewRetryCoordinator(dispatcher, cfg.Retry)
	retry.SetMetrics(mets)
	retry.SetOTelMetrics(otelMets)

	webhookSvc := service.NewWebhookService(cfg.Webhook, keySvc, dispatcher, retry, auditSvc)
	webhookSvc.SetMetrics(mets)
	webhookSvc.SetOTelMetrics(otelMets)
	webhookSvc.Start(context.WithoutCancel(ctx))

	cancelFindings, err := queue.Subscribe(ctx, messagequeue.SubjectSecurityFinding, incidentSvc.HandleFinding)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectSecurityFinding, err)
	}
	defer cancelFindings()

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &tghttp.Handlers{
		Webhooks:        webhookSvc,
		Audit:           auditSvc,
		Incidents:       incidentSvc,
		Capabilities:    caps,
		SignatureHeader: cfg.Webhook.SignatureHeader,
	}
	tghttp.Version = Version

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(tghttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(tghttp.SecurityHeaders)
	r.Use(mets.Middleware)
	r.Use(tgotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/health", healthHandler(store, queue, webhookSvc, notifySvc))
	r.Handle("/metrics", mets.Handler())
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		tghttp.MountRoutes(r, handlers, tghttp.RouteConfig{
			MaxBodyBytes:   cfg.Webhook.MaxBodyBytes,
			AdminToken:     cfg.Server.AdminToken,
			RateLimiter:    limiter,
			Idempotency:    l1,
			IdempotencyTTL: idempotencyTTL,
		})
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	serveErr := make(chan error, 1)

	go func() {
		slog.Info("starting server", "addr", addr, "channels", notifySvc.Channels())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Drain in dependency order: queued events, in-flight notifications, the
	// remote audit mirror, then the bus.
	webhookSvc.Close()
	notifySvc.Wait()
	auditSvc.Close()
	if derr := queue.Drain(); derr != nil {
		slog.Warn("nats drain", "error", derr)
	}
	return err
}

// buildNotifiers resolves the configured channel names. ws and nats are
// always constructed in-process; the rest come from the notifier registry.
// A channel whose settings are missing is skipped with a warning.
func buildNotifiers(cfg config.Incident, hub *ws.Hub, bus notifier.Notifier) (channels []notifier.Notifier, authority notifier.Notifier) {
	settings := map[string]map[string]string{
		"slack":   {"webhook_url": cfg.SlackWebhook},
		"discord": {"webhook_url": cfg.DiscordWebhook},
		"pager":   {"url": cfg.PagerURL, "routing_key": cfg.PagerRoutingKey},
		"email":   smtpSettings(cfg, cfg.SMTPTo),
	}

	for _, name := range cfg.Channels {
		switch name {
		case notifier.ChannelWS:
			channels = append(channels, hub)
			continue
		case notifier.ChannelBus:
			channels = append(channels, bus)
			continue
		}
		n, err := notifier.New(name, settings[name])
		if err != nil {
			slog.Warn("notification channel disabled", "channel", name, "error", err)
			continue
		}
		channels = append(channels, n)
	}

	if cfg.AuthorityTo != "" {
		n, err := notifier.New(notifier.ChannelAuthority, smtpSettings(cfg, cfg.AuthorityTo))
		if err != nil {
			slog.Warn("authority channel disabled", "error", err)
		} else {
			authority = n
		}
	}
	if authority == nil {
		slog.Warn("no authority channel configured; emergencies requiring authority notification will be reported as not notified",
			"available", notifier.Available())
	}
	return channels, authority
}

func smtpSettings(cfg config.Incident, to string) map[string]string {
	return map[string]string{
		"host":     cfg.SMTPHost,
		"port":     cfg.SMTPPort,
		"from":     cfg.SMTPFrom,
		"to":       to,
		"username": cfg.SMTPUsername,
		"password": cfg.SMTPPassword,
	}
}

// healthHandler reports dependency status. It returns 503 when the database
// or the bus is unreachable.
func healthHandler(store *postgres.Store, queue messagequeue.Queue, webhooks *service.WebhookService, notify *service.NotificationService) http.HandlerFunc {
	type healthStatus struct {
		Status         string   `json:"status"`
		Postgres       string   `json:"postgres"`
		NATS           string   `json:"nats"`
		LedgerSize     int      `json:"ledger_size"`
		LedgerCapacity int      `json:"ledger_capacity"`
		Channels       []string `json:"channels"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:         "ok",
			Postgres:       "ok",
			NATS:           "ok",
			LedgerSize:     webhooks.Ledger().Len(),
			LedgerCapacity: webhooks.Ledger().Capacity(),
			Channels:       notify.Channels(),
		}
		code := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			status.Postgres = "unreachable"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.NATS = "disconnected"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
