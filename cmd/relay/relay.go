package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/attachments/retention"
	"mercator-hq/webrelay/pkg/cli"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/files"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providerfactory"
	"mercator-hq/webrelay/pkg/security/auth"
	"mercator-hq/webrelay/pkg/security/secrets"
	"mercator-hq/webrelay/pkg/server"
	"mercator-hq/webrelay/pkg/telemetry/health"
	"mercator-hq/webrelay/pkg/telemetry/metrics"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// gaugeInterval is how often backend health and record counts are exported.
const gaugeInterval = 30 * time.Second

// relay holds every long-lived component of a running instance.
type relay struct {
	cfg    *config.Config
	logger *slog.Logger

	secrets     *secrets.Manager
	pool        *pow.Pool
	attachments attachments.Store
	files       *files.Store
	manager     *providerfactory.Manager
	dispatcher  *dispatcher.Dispatcher
	health      *health.Checker
	metrics     *metrics.Collector
	tracing     *tracing.Provider
	keys        *auth.KeySet
	scheduler   *retention.Scheduler
	server      *server.Server
}

// buildRelay wires the components described by cfg. Backends that fail to
// build are logged and skipped; everything else is fatal. On error every
// component built so far is closed.
func buildRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *relay, err error) {
	r := &relay{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			r.close(context.Background())
		}
	}()

	if cfg.Telemetry.Metrics.Enabled {
		r.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	}

	r.tracing, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	r.secrets, err = secrets.NewFromConfig(cfg.Secrets)
	if err != nil {
		return nil, err
	}

	r.pool = pow.NewPool(cfg.PoW.Workers)

	r.attachments, err = attachments.OpenStore(cfg.Attachments.Driver, cfg.Attachments.Path, cfg.Attachments.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("attachment store: %w", err)
	}

	r.files, err = files.NewStore(cfg.Files.Dir, cfg.Files.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}

	policy, err := attachments.ParsePolicy(cfg.Attachments.FallbackPolicy)
	if err != nil {
		return nil, cli.NewConfigError("attachments.fallback_policy", err.Error())
	}

	deps := providerfactory.Deps{
		Secrets:     r.secrets,
		Attachments: r.attachments,
		AttachmentOptions: attachments.Options{
			Policy:       policy,
			PollAttempts: cfg.Attachments.PollAttempts,
			PollInterval: cfg.Attachments.PollInterval,
			Logger:       logger,
		},
		Pool:   r.pool,
		PoW:    cfg.PoW,
		Logger: logger,
	}
	var observer dispatcher.Observer
	if r.metrics != nil {
		deps.AttachmentOptions.Observer = r.metrics
		deps.CredentialObserver = r.metrics
		deps.PoWObserver = r.metrics
		observer = r.metrics
	}

	r.manager = providerfactory.NewManager()
	if err := r.manager.LoadFromConfig(ctx, cfg.Backends, deps); err != nil {
		logger.Warn("some backends failed to initialize", "error", err)
	}
	if r.manager.Count() == 0 {
		logger.Warn("no backends enabled; every completion will fail with model_not_supported")
	}

	opts := dispatcher.OptionsFromConfig(cfg.Dispatch)
	opts.Sink = r.files
	opts.Observer = observer
	opts.Logger = logger
	reg, err := dispatcher.NewRegistry(r.manager.Adapters()...)
	if err != nil {
		return nil, err
	}
	r.dispatcher = dispatcher.New(reg, opts)

	r.health = health.New(5 * time.Second)
	r.health.RegisterBackends(r.manager.Adapters())
	r.health.RegisterCheck("attachments", health.StoreCheck(r.attachments))

	var authMW *auth.Middleware
	if cfg.Proxy.Auth.Enabled {
		r.keys, err = auth.LoadKeySet(ctx, r.secrets, cfg.Proxy.Auth.KeysSecret)
		if err != nil {
			return nil, err
		}
		authMW = auth.NewMiddleware(r.keys, nil)
	}

	r.secrets.OnChange(r.secretChanged)

	if cfg.Attachments.Retention.Enabled {
		pruner := retention.NewPruner(r.attachments, r.files, &retention.Config{
			RetentionDays: cfg.Attachments.Retention.Days,
			Schedule:      cfg.Attachments.Retention.Schedule,
		})
		r.scheduler = retention.NewScheduler(pruner)
	}

	sd := server.Deps{
		Dispatcher: r.dispatcher,
		Files:      r.files,
		Health:     r.health,
		Auth:       authMW,
		Version:    Version,
		Commit:     GitCommit,
		BuildTime:  BuildDate,
	}
	if r.metrics != nil {
		sd.Metrics = r.metrics.Handler()
		sd.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	r.server = server.NewServer(&cfg.Proxy, sd)

	return r, nil
}

// secretChanged invalidates the credentials of every backend reading name
// and reloads the relay keys when they changed.
func (r *relay) secretChanged(name string) {
	for _, backend := range secretOwners(r.cfg.Backends)[name] {
		adapter, err := r.manager.Get(backend)
		if err != nil {
			continue
		}
		adapter.Credential().Invalidate()
		r.logger.Info("secret changed, credential invalidated", "secret", name, "backend", backend)
	}

	if r.keys != nil && name == r.cfg.Proxy.Auth.KeysSecret {
		if err := r.keys.Reload(context.Background(), r.secrets, name); err != nil {
			r.logger.Error("failed to reload relay keys", "error", err)
			return
		}
		r.logger.Info("relay keys reloaded", "count", r.keys.Len())
	}
}

// secretOwners maps each configured secret name to the backends that read it.
func secretOwners(b config.BackendsConfig) map[string][]string {
	owners := make(map[string][]string)
	add := func(secret, backend string, enabled bool) {
		if secret != "" && enabled {
			owners[secret] = append(owners[secret], backend)
		}
	}
	add(b.ChatGPT.SessionTokenSecret, "chatgpt", b.ChatGPT.Enabled)
	add(b.DeepSeek.TokenSecret, "deepseek", b.DeepSeek.Enabled)
	add(b.DeepSeek.CookiesSecret, "deepseek", b.DeepSeek.Enabled)
	add(b.HuggingChat.CookieSecret, "huggingchat", b.HuggingChat.Enabled)
	add(b.TheB.AccountsSecret, "theb", b.TheB.Enabled)
	return owners
}

// updateGauges exports backend health and the attachment record count.
func (r *relay) updateGauges(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	for _, a := range r.manager.Adapters() {
		r.metrics.UpdateBackendHealth(a.Name(), a.IsHealthy())
	}
	recs, err := r.attachments.List(ctx, "")
	if err != nil {
		r.logger.Warn("failed to count attachment records", "error", err)
		return
	}
	r.metrics.UpdateAttachmentRecords(len(recs))
}

func (r *relay) exportGauges(ctx context.Context) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	r.updateGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.updateGauges(ctx)
		}
	}
}

// serve starts background jobs and blocks in the HTTP server until ctx is
// cancelled or the server fails.
func (r *relay) serve(ctx context.Context) error {
	if r.scheduler != nil {
		if err := r.scheduler.Start(ctx); err != nil {
			r.logger.Warn("failed to start retention scheduler", "error", err)
		} else if next := r.scheduler.NextRun(); next != nil {
			r.logger.Debug("retention scheduler started", "next_run", next)
		}
	}

	go r.exportGauges(ctx)

	return r.server.Start(ctx)
}

// close releases components in reverse order of construction.
func (r *relay) close(ctx context.Context) {
	var errs []error
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.manager != nil {
		errs = append(errs, r.manager.Close())
	}
	if r.attachments != nil {
		errs = append(errs, r.attachments.Close())
	}
	if r.pool != nil {
		r.pool.Close()
	}
	if r.secrets != nil {
		errs = append(errs, r.secrets.Close())
	}
	if r.tracing != nil {
		errs = append(errs, r.tracing.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("error during shutdown", "error", err)
	}
}
