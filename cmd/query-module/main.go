// Command query-module runs the ICAT Query Gateway: a DataGateway CRUD API and a
// Search API, both fronting either an ICAT catalogue directly or a relational
// shadow schema kept in sync with one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	apierrors "github.com/icatgateway/gateway/internal/api/errors"
	"github.com/icatgateway/gateway/internal/api/handlers"
	"github.com/icatgateway/gateway/internal/api/middleware"
	"github.com/icatgateway/gateway/internal/api/openapi"
	"github.com/icatgateway/gateway/internal/config"
	"github.com/icatgateway/gateway/internal/healthmonitor"
	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/orchestrator"
	"github.com/icatgateway/gateway/internal/projection"
	"github.com/icatgateway/gateway/internal/relational"
	"github.com/icatgateway/gateway/internal/server"
	"github.com/icatgateway/gateway/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("query-module exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := config.SetupLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("icat query gateway starting", slog.String("version", config.Version), slog.Int("port", cfg.Port), slog.String("backend", string(cfg.Backend)))

	ctx := context.Background()

	client, err := icatclient.New(cfg.CatalogueURL, cfg.CatalogueCheckCert, cfg.CatalogueCACertPath, cfg.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("building catalogue client: %w", err)
	}

	pool, err := session.New(ctx, client, session.Config{
		Mechanism:        cfg.TestMechanism,
		Credentials:      cfg.TestUserCredentials,
		InitSize:         cfg.ClientPoolInitSize,
		MaxSize:          cfg.ClientPoolMaxSize,
		BorrowTimeout:    cfg.PoolBorrowTimeout,
		RefreshThreshold: cfg.SessionRefreshThreshold,
		MaintenanceTick:  cfg.SessionMaintenanceTick,
	}, logger)
	if err != nil {
		return fmt.Errorf("warming up session pool: %w", err)
	}
	pool.StartMaintenance()
	defer pool.Stop()

	mapping, err := projection.Load("configs/search_api_mapping.json")
	if err != nil {
		return fmt.Errorf("loading search API mapping: %w", err)
	}

	var backend orchestrator.Backend
	var pgPool *pgxpool.Pool
	switch cfg.Backend {
	case config.BackendCatalogue:
		backend = orchestrator.NewCatalogueBackend(pool, client)
	case config.BackendRelational:
		if err := relational.Migrate(cfg.DBURL); err != nil {
			return fmt.Errorf("migrating relational shadow schema: %w", err)
		}
		pgPool, err = relational.Connect(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connecting to relational shadow schema: %w", err)
		}
		defer pgPool.Close()
		backend = orchestrator.NewRelationalBackend(relational.NewExecutor(pgPool))
	default:
		return fmt.Errorf("unknown GW_BACKEND %q", cfg.Backend)
	}

	orch := orchestrator.New(backend, mapping, logger)
	authCache := session.NewAuthenticatorCache(cfg.ClientCacheSize, cfg.ClientCacheTTL)

	monitor, err := healthmonitor.New(healthmonitor.Config{
		ServiceID:     "icat-query-gateway",
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, pgPool, cfg.DBURL, cfg.CatalogueURL, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("building dependency health monitor: %w", err)
	}
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("starting dependency health monitor: %w", err)
	}
	defer monitor.Stop()

	router := buildRouter(cfg, logger, orch, pool, client, authCache, monitor)

	logger.Info("icat query gateway ready")
	return server.New(cfg, logger, router).Run()
}

// buildRouter mounts the health, metrics, OpenAPI, DataGateway, and Search API
// routes onto one chi router with logging and metrics middleware applied globally.
func buildRouter(cfg *config.Config, logger *slog.Logger, orch *orchestrator.Orchestrator, pool *session.Pool, client *icatclient.Client, authCache *session.AuthenticatorCache, monitor *healthmonitor.Monitor) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	health := handlers.NewHealthHandler(monitor)
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)
	router.Get("/openapi.json", openapi.Handler())

	dataGateway := handlers.NewDataGatewayHandler(orch, pool, client, authCache)
	router.Route(cfg.Extension+"/datagateway-api", dataGateway.Routes)

	searchAPI := handlers.NewSearchAPIHandler(orch)
	router.Route(cfg.Extension+"/search-api", searchAPI.Routes)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.Write(w, apierrors.ErrNotFound)
	})

	return router
}
