package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/notify"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore/fsstore"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore/s3store"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/resilience"
)

// environment holds everything a command needs, built from config.
type environment struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	store    objectstore.Store
	ledger   *ledger.Ledger
	reports  *report.Store
	notifier *notify.Notifier
	checker  *health.Checker
	closers  []func() error
}

func (e *environment) deps() pipeline.Deps {
	d := pipeline.Deps{
		Store:   e.store,
		Ledger:  e.ledger,
		Metrics: e.metrics,
	}
	// Leave the interfaces nil rather than holding typed nil pointers.
	if e.reports != nil {
		d.Reports = e.reports
	}
	if e.notifier != nil {
		d.Notifier = e.notifier
	}
	return d
}

// Close releases connections in reverse order of creation.
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func needsNetwork(phases []string) bool {
	return slices.Contains(phases, pipeline.PhaseDownload) || slices.Contains(phases, pipeline.PhaseUpload)
}

// setup loads config, configures logging and connects the collaborators
// the given phases need. With no phases only the report store is opened.
func setup(ctx context.Context, c *cli.Context, phases []string) (*environment, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("failed to load config: %v", err), exitFatal)
	}
	if n := c.Int("max-concurrency"); n > 0 {
		cfg.Pipeline.MaxConcurrency = n
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	env := &environment{cfg: cfg, checker: health.NewChecker()}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	if len(phases) > 0 {
		env.metrics = metrics.New(nil)
	}
	if needsNetwork(phases) {
		if err := env.openStore(ctx, phases); err != nil {
			return nil, err
		}
	}
	if slices.Contains(phases, pipeline.PhaseUpload) && cfg.Ledger.Enabled {
		env.openLedger(ctx)
	}
	if cfg.Report.Driver != "none" {
		if err := env.openReports(ctx); err != nil {
			return nil, err
		}
	}
	if len(phases) > 0 && cfg.Notify.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunComplete)
		env.closers = append(env.closers, producer.Close)
		env.notifier = notify.New(producer)
		env.checker.Register("kafka", health.PingCheck(producer.Ping, true))
	}

	if len(phases) > 0 && cfg.Health.Preflight {
		if err := env.checker.Preflight(ctx, cfg.Health.Timeout); err != nil {
			return nil, err
		}
	}
	if len(phases) > 0 && cfg.Metrics.Enabled {
		srv, err := metrics.Serve(cfg.Metrics.Port, map[string]http.Handler{
			"/health/live":  env.checker.LiveHandler(),
			"/health/ready": env.checker.ReadyHandler(),
		})
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, srv.Shutdown)
	}
	ok = true
	return env, nil
}

func (e *environment) openStore(ctx context.Context, phases []string) error {
	sc := e.cfg.Store
	var driver objectstore.Store
	switch sc.Driver {
	case "fs":
		driver = fsstore.New(sc.Root, sc.SkipExisting)
	case "s3":
		s, err := s3store.New(ctx, sc)
		if err != nil {
			return err
		}
		driver = s
	}

	m := e.metrics
	breaker := resilience.NewCircuitBreaker("object-store", resilience.CircuitBreakerConfig{
		FailureThreshold: sc.CircuitBreaker.FailureThreshold,
		ResetTimeout:     sc.CircuitBreaker.ResetTimeout,
		IsFailure:        objectstore.CountsAsFailure,
		OnStateChange: func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	e.store = objectstore.NewGuarded(driver, sc.CallTimeout, breaker)

	if checker, ok := driver.(objectstore.BucketChecker); ok && slices.Contains(phases, pipeline.PhaseDownload) {
		bucket := e.cfg.Pipeline.SourceBucket
		e.checker.Register("store", health.PingCheck(func(ctx context.Context) error {
			return checker.CheckBucket(ctx, bucket)
		}, false))
	}
	return nil
}

// openLedger connects to Redis. The ledger only saves work, so an
// unreachable Redis disables it instead of failing the run.
func (e *environment) openLedger(ctx context.Context) {
	client, err := redis.NewClient(ctx, e.cfg.Redis, e.cfg.Health.Timeout)
	if err != nil {
		slog.Warn("upload ledger disabled", "addr", e.cfg.Redis.Addr, "error", err)
		return
	}
	e.closers = append(e.closers, client.Close)
	e.ledger = ledger.New(client, e.cfg.Ledger.TTL)
	e.checker.Register("redis", health.PingCheck(client.Ping, true))
}

func (e *environment) openReports(ctx context.Context) error {
	var (
		db  *postgres.Client
		err error
	)
	switch e.cfg.Report.Driver {
	case "postgres":
		db, err = postgres.New(ctx, e.cfg.Postgres, e.cfg.Health.Timeout)
	case "sqlite":
		db, err = postgres.OpenSQLite(ctx, e.cfg.Report.SQLitePath)
	}
	if err != nil {
		return err
	}
	e.closers = append(e.closers, db.Close)
	e.checker.Register(e.cfg.Report.Driver, health.PingCheck(db.Ping, false))

	store := report.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	e.reports = store
	return nil
}
