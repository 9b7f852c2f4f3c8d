// Package healthmonitor wraps topologymetrics/sdk-go/dephealth to expose the gateway's
// two possible dependencies — the Postgres shadow schema (relational backend only) and
// the ICAT catalogue itself — as Prometheus gauges (app_dependency_health,
// app_dependency_latency_seconds, app_dependency_status, app_dependency_status_detail).
package healthmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the gateway-identity fields every dependency shares.
type Config struct {
	// ServiceID names this gateway instance's vertex in the dependency graph.
	ServiceID string
	// Group is the metrics grouping label (gateway's dephealth_group setting).
	Group string
	// CheckInterval is how often each dependency is probed.
	CheckInterval time.Duration
	// IsEntry marks every dependency with isentry=yes when this gateway is a graph
	// entry point (DEPHEALTH_ISENTRY).
	IsEntry bool
}

// Monitor periodically checks the gateway's configured dependencies and exposes their
// state as Prometheus gauges.
type Monitor struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// New builds a Monitor. pgPool may be nil when the gateway is configured to query the
// catalogue directly with no relational shadow schema; catalogueURL may be empty only
// in a deployment with no catalogue backend at all, which in practice never happens
// since the session pool needs it regardless of which query backend serves requests.
func New(cfg Config, pgPool *pgxpool.Pool, pgConnURL string, catalogueURL string, logger *slog.Logger, registerer prometheus.Registerer) (*Monitor, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	if registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(registerer))
	}

	if pgPool != nil {
		db := stdlib.OpenDBFromPool(pgPool)
		pgOpts := []dephealth.DependencyOption{
			dephealth.FromURL(pgConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		}
		if cfg.IsEntry {
			pgOpts = append(pgOpts, dephealth.WithLabel("isentry", "yes"))
		}
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)), pgOpts...))
	}

	if catalogueURL != "" {
		icatOpts := []dephealth.DependencyOption{
			dephealth.FromURL(catalogueURL),
			dephealth.WithHTTPHealthPath("/ping"),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		}
		if cfg.IsEntry {
			icatOpts = append(icatOpts, dephealth.WithLabel("isentry", "yes"))
		}
		if parsed, err := url.Parse(catalogueURL); err == nil && parsed.Scheme == "https" {
			icatOpts = append(icatOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP("icat-catalogue", icatOpts...))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising dependency health monitor: %w", err)
	}

	return &Monitor{
		dh:     dh,
		logger: logger.With(slog.String("component", "healthmonitor")),
	}, nil
}

// Start begins the periodic dependency checks and returns; Stop halts them.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("dependency health monitoring started")
	return m.dh.Start(ctx)
}

// Stop halts the periodic checks.
func (m *Monitor) Stop() {
	m.dh.Stop()
	m.logger.Info("dependency health monitoring stopped")
}

// Health reports the current state of every configured dependency, keyed by name.
func (m *Monitor) Health() map[string]bool {
	return m.dh.Health()
}
