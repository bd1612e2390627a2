// Package app собирает компоненты control plane из конфигурации.
// Используется и сервером, и CLI, чтобы оба работали с одними и теми же хранилищами.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/connectors"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
	"github.com/xela07ax/spaceai-control-plane/internal/infra"
	"github.com/xela07ax/spaceai-control-plane/internal/killswitch"
	"github.com/xela07ax/spaceai-control-plane/internal/policy"
	"github.com/xela07ax/spaceai-control-plane/internal/reconciler"
	"github.com/xela07ax/spaceai-control-plane/internal/registry"
	"github.com/xela07ax/spaceai-control-plane/internal/repository/memory"
	"github.com/xela07ax/spaceai-control-plane/internal/repository/postgres"
	"github.com/xela07ax/spaceai-control-plane/internal/repository/sqlite"
	"github.com/xela07ax/spaceai-control-plane/internal/simulation"
	"github.com/xela07ax/spaceai-control-plane/internal/token"
)

type App struct {
	Config *infra.Config
	Logger *zap.Logger

	Prometheus *prometheus.Registry
	Metrics    *engine.Metrics

	AuditLog *audit.MemoryLog
	Auditor  audit.Auditor
	journal  *audit.Journal

	Registry   *registry.Registry
	KillSwitch *killswitch.Manager
	PDP        *policy.PDP
	Simulation *simulation.Service
	Tokens     *token.Issuer
	Backends   *connectors.Set
	Dispatcher *engine.Dispatcher
	Reconciler *reconciler.Reconciler

	DB    *sql.DB
	Redis *redis.Client

	closers []func() error
}

// Build поднимает все компоненты. При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger, Prometheus: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Metrics = engine.NewMetrics(a.Prometheus)

	// 1. Хранилище реестра
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Аудит: асинхронный журнал в постоянный sink + память для /audit
	a.AuditLog = audit.NewMemoryLog(cfg.Engine.AuditBufferSize)
	a.journal = audit.NewJournal(a.auditSink(), logger, audit.JournalOptions{
		BufferSize:    cfg.Engine.AuditBufferSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
		OnDepth:       func(n int) { a.Metrics.AuditBufferFill.Set(float64(n)) },
	})
	a.journal.Start()
	a.Auditor = audit.Tee{a.journal, a.AuditLog}

	a.Registry = registry.New(store, a.Auditor, logger)

	// 3. Kill-switch
	ksStore, err := a.killSwitchStore(ctx)
	if err != nil {
		return nil, err
	}
	a.KillSwitch = killswitch.NewManager(ksStore, a.Auditor, logger)

	// 4. PDP и симуляция
	rules, err := a.ruleSource()
	if err != nil {
		return nil, err
	}
	a.PDP = policy.NewPDP(rules, logger)
	a.Simulation = simulation.NewService(simulation.NewFileStore(cfg.Simulation.ReportDir), a.PDP,
		[]byte(cfg.Simulation.Secret), a.Auditor, logger)

	// 5. Токены исполнения
	if a.Tokens, err = a.issuer(ctx); err != nil {
		return nil, err
	}

	// 6. Бэкенды
	if a.Backends, err = a.backends(); err != nil {
		return nil, err
	}

	a.Dispatcher = engine.NewDispatcher(engine.Deps{
		Triggers:       a.Registry,
		KillSwitch:     a.KillSwitch,
		PDP:            a.PDP,
		Simulation:     a.Simulation,
		Tokens:         a.Tokens,
		Backends:       a.Backends,
		Auditor:        a.Auditor,
		Metrics:        a.Metrics,
		Logger:         logger,
		DefaultBackend: cfg.Engine.DefaultBackend,
	})
	a.Reconciler = reconciler.New(a.Registry, a.Dispatcher,
		reconciler.NewDetector(detectionRules(cfg.Reconciler.Rules)), a.Auditor, a.Metrics, logger)

	return a, nil
}

// Close дописывает аудит и закрывает соединения в обратном порядке.
func (a *App) Close() {
	if a.journal != nil {
		a.journal.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (registry.Store, error) {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case "", "memory":
		a.Logger.Warn("using in-memory trigger store: data is lost on restart")
		return memory.NewTriggerRepo(), nil
	case "sqlite":
		repo, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case "postgres":
		db, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewTriggerRepo(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// postgres открывает пул один раз: он общий для реестра, аудита и правил.
func (a *App) postgres(ctx context.Context) (*sql.DB, error) {
	if a.DB != nil {
		return a.DB, nil
	}
	if a.Config.Database.URL == "" {
		return nil, errors.New("database.url is required for postgres")
	}
	db, err := postgres.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, err
	}
	a.DB = db
	return db, nil
}

func (a *App) auditSink() audit.Sink {
	switch {
	case a.DB != nil:
		return postgres.NewAuditRepo(a.DB)
	case a.Config.Engine.AuditFile != "":
		return audit.NewFileSink(a.Config.Engine.AuditFile)
	default:
		return audit.NewLogSink(a.Logger)
	}
}

func (a *App) killSwitchStore(ctx context.Context) (killswitch.Store, error) {
	cfg := a.Config.KillSwitch
	switch cfg.Store {
	case "memory":
		return killswitch.NewMemoryStore(), nil
	case "", "file":
		return killswitch.NewFileStore(cfg.StatePath), nil
	case "redis":
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		store := killswitch.NewRedisStore(a.Redis)
		if cfg.StatePath != "" {
			// файловый снимок прогревает пустой Redis
			if _, err := os.Stat(cfg.StatePath); err == nil {
				snapshot, err := killswitch.NewFileStore(cfg.StatePath).Load(ctx)
				if err != nil {
					return nil, err
				}
				if _, err := store.Seed(ctx, snapshot, a.Logger); err != nil {
					return nil, err
				}
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown kill-switch store %q", cfg.Store)
	}
}

func (a *App) ruleSource() (policy.RuleSource, error) {
	switch a.Config.Policy.Source {
	case "", "file":
		return policy.NewFileSource(a.Config.Policy.RulesPath), nil
	case "postgres":
		if a.DB == nil {
			return nil, errors.New("policy.source=postgres requires storage.driver=postgres")
		}
		return postgres.NewPolicyRepo(a.DB), nil
	default:
		return nil, fmt.Errorf("unknown policy source %q", a.Config.Policy.Source)
	}
}

func (a *App) issuer(ctx context.Context) (*token.Issuer, error) {
	cfg := a.Config.Signer
	opts := token.Options{
		Issuer:     cfg.Issuer,
		DefaultTTL: cfg.DefaultTTL,
		OnAttempt:  a.Metrics.ObserveSigner,
	}
	if cfg.RemoteURL != "" {
		opts.Remote = token.NewRemoteSigner(cfg.RemoteURL, cfg.RemoteTimeout)
	}
	if cfg.KMSKeyID != "" {
		client, err := token.NewKMSClient(ctx, cfg.KMSRegion)
		if err != nil {
			return nil, err
		}
		opts.KMS = token.NewKMSSigner(client, cfg.KMSKeyID)
	}
	if cfg.LocalSecret != "" {
		opts.Local = token.NewLocalSigner([]byte(cfg.LocalSecret))
	}
	return token.NewIssuer(opts, a.Logger), nil
}

func (a *App) backends() (*connectors.Set, error) {
	cfg := a.Config
	breaker := connectors.BreakerSettings{
		MaxRequests: uint32(cfg.Engine.CBMaxRequests),
		Interval:    cfg.Engine.CBInterval,
		Timeout:     cfg.Engine.CBTimeout,
		MaxFailures: uint32(cfg.Engine.CBMaxFailures),
	}
	set := connectors.NewSet()
	wrap := func(b connectors.Backend) {
		set.Register(connectors.NewReliabilityWrapper(b, breaker, cfg.Engine.BackendTimeout, a.Metrics.ObserveBreaker))
	}

	if cfg.Backends.TemporalAddr != "" {
		t, err := connectors.DialTemporal(cfg.Backends.TemporalAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, t.Close)
		wrap(t)
	}
	if cfg.Backends.DAGURL != "" {
		wrap(connectors.NewDAGBackend(cfg.Backends.DAGURL, &http.Client{Timeout: cfg.Engine.BackendTimeout}))
	}
	if cfg.Backends.EchoEnabled {
		wrap(connectors.NewEchoBackend("echo", 0))
	}
	if len(set.Names()) == 0 {
		a.Logger.Warn("no workflow backends configured: every start will fail with backend-unavailable")
	}
	return set, nil
}

func detectionRules(cfg []infra.ReconcileRuleConfig) []reconciler.DetectionRule {
	if len(cfg) == 0 {
		return nil
	}
	out := make([]reconciler.DetectionRule, 0, len(cfg))
	for _, r := range cfg {
		out = append(out, reconciler.DetectionRule{
			Match:    r.Match,
			Issue:    r.Issue,
			Severity: domain.Severity(r.Severity),
			Action:   r.Action,
		})
	}
	return out
}

// WatchKillSwitch слушает сигналы других инстансов, если состояние живет в Redis.
func (a *App) WatchKillSwitch(ctx context.Context) {
	if a.Redis == nil {
		return
	}
	go a.KillSwitch.WatchRemote(ctx, a.Redis, infra.RedisChanKillSwitch)
}

// ReconcileInterval: период фоновой сверки; 0 выключает цикл.
func (a *App) ReconcileInterval() time.Duration {
	return a.Config.Reconciler.Interval
}
