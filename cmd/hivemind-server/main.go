// Command hivemind-server is the process entrypoint: it loads
// configuration, opens the database and keyed-store connections, wires
// every pkg/ collaborator into the ingestion orchestrator and service
// layer, then serves the RPC tool surface, the REST mirror, and the
// Prometheus metrics endpoint until an interrupt or termination signal
// arrives.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivemind-ai/hivemind/internal/config"
	"github.com/hivemind-ai/hivemind/migrations"
	"github.com/hivemind-ai/hivemind/pkg/api/rest"
	"github.com/hivemind-ai/hivemind/pkg/api/rpc"
	"github.com/hivemind-ai/hivemind/pkg/api/service"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/repository"
	"github.com/hivemind-ai/hivemind/pkg/distillation"
	"github.com/hivemind-ai/hivemind/pkg/embedding"
	"github.com/hivemind-ai/hivemind/pkg/injection"
	"github.com/hivemind-ai/hivemind/pkg/llm"
	"github.com/hivemind-ai/hivemind/pkg/minhash"
	"github.com/hivemind-ai/hivemind/pkg/notification"
	"github.com/hivemind-ai/hivemind/pkg/orchestrator"
	"github.com/hivemind-ai/hivemind/pkg/quality"
	"github.com/hivemind-ai/hivemind/pkg/ratelimit"
	"github.com/hivemind-ai/hivemind/pkg/rbac"
	"github.com/hivemind-ai/hivemind/pkg/sanitization"
	"github.com/hivemind-ai/hivemind/pkg/scheduler"
	"github.com/hivemind-ai/hivemind/pkg/shared/idgen"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("HIVEMIND_CONFIG"), "path to the YAML config file")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hivemind-server: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Error("hivemind-server: fatal", logging.NewFields().Component("main").Error(err).Zap()...)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("HIVEMIND_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := migrations.Up(db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Repositories.
	items := repository.NewKnowledgeItemRepository(db, logger)
	pending := repository.NewPendingContributionRepository(db)
	signals := repository.NewQualitySignalRepository(db)
	apiKeys := repository.NewApiKeyRepository(db)
	policies := repository.NewAuthorizationPolicyRepository(db)
	roleBindings := repository.NewRoleBindingRepository(db)
	autoApprove := repository.NewAutoApproveRuleRepository(db)
	webhookEndpoints := repository.NewWebhookEndpointRepository(db)
	qualityStore := repository.NewQualityStoreRepository(db)
	distillationStore := repository.NewDistillationRepository(db, items)

	// Process-wide, immutable collaborators.
	embedder := embedding.NewHashEmbedder(cfg.Embedding.Model, cfg.Embedding.Revision, cfg.Embedding.Dimensions)
	sanitizer := sanitization.NewSanitizer()
	scanner := injection.NewScanner(cfg.Injection.CharBudget)
	cosineFinder := repository.NewCosineFinder(db, embedder, cfg.Dedup.CosineDistanceMax)

	var classifier llm.Classifier
	if cfg.LLM.APIKey != "" {
		classifier = llm.NewAnthropicClassifier(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	} else {
		logger.Warn("hivemind-server: no LLM API key configured, dedup/conflict/distillation LLM stages degrade to their no-classifier fallback",
			logging.NewFields().Component("main").Zap()...)
	}

	// MinHash-LSH index is process-wide mutable state; rebuild it from the
	// current authoritative set before the server starts taking writes.
	minhashIdx := minhash.NewIndex(cfg.Minhash.Permutations, cfg.Minhash.Bands, cfg.Minhash.Threshold)
	rebuilt, err := minhashIdx.Rebuild(ctx, func(ctx context.Context) ([]minhash.Item, error) {
		return items.AllCurrentForMinhash(ctx)
	})
	if err != nil {
		return fmt.Errorf("rebuild minhash index: %w", err)
	}
	logger.Info("hivemind-server: minhash index rebuilt", logging.NewFields().Component("main").Count("items", rebuilt).Zap()...)

	burstGate := ratelimit.NewGate(redisClient, time.Duration(cfg.Burst.WindowSeconds)*time.Second, cfg.Burst.Threshold, logger)

	enforcer, err := rbac.NewEnforcer(ctx, policies, roleBindings, logger)
	if err != nil {
		return fmt.Errorf("build rbac enforcer: %w", err)
	}

	hub := notification.NewHub()
	publisher := notification.NewPublisher(db)
	dispatcher := notification.NewDispatcher(webhookEndpoints, 4, logger)

	listener := notification.NewListener(cfg.Database.URL, logger)

	orch := orchestrator.New(orchestrator.Deps{
		InjectionScanner:   scanner,
		InjectionThreshold: cfg.Injection.Threshold,
		BurstGate:          burstGate,
		Sanitizer:          sanitizer,
		CosineFinder:       cosineFinder,
		MinhashIndex:       minhashIdx,
		MinhashQuerier:     minhashIdx,
		Classifier:         classifier,
		ConflictStore:      items,
		AutoApprove:        autoApprove,
		Embedder:           embedder,
		KnowledgeStore:     items,
		PendingStore:       pending,
		Publisher:          publisher,
		Hub:                hub,
		Dispatcher:         dispatcher,
		Logger:             logger,
	})

	svc := service.New(service.Deps{
		Orchestrator: orch,
		Items:        items,
		Pending:      pending,
		Signals:      signals,
		Stats:        items,
		Enforcer:     enforcer,
		Policies:     policies,
		Roles:        roleBindings,
		Embedder:     embedder,
		NewID:        idgen.New,
		Logger:       logger,
	})

	quotas := tierQuotas(cfg.Tiers)
	secret := []byte(cfg.Auth.SecretKey)

	rpcDispatcher := rpc.NewDispatcher(rpc.Deps{
		Service: svc,
		ApiKeys: apiKeys,
		Secret:  secret,
		Gate:    burstGate,
		Quotas:  quotas,
		Logger:  logger,
	})

	restHandler := rest.Router(rest.Deps{
		Service:        svc,
		ApiKeys:        apiKeys,
		Secret:         secret,
		Gate:           burstGate,
		Quotas:         quotas,
		Hub:            hub,
		Logger:         logger,
		AllowedOrigins: allowedOrigins(),
	})

	root := chi.NewRouter()
	root.Mount("/rpc", rpc.Router(rpcDispatcher))
	root.Mount("/", restHandler)

	apiServer := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived; bounded by client/server shutdown instead.
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Server.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	sched := scheduler.New(logger)
	sched.Register("quality_aggregation", quality.NewAggregator(qualityStore, quality.Weights{
		Usefulness:    cfg.Quality.WeightUsefulness,
		Popularity:    cfg.Quality.WeightPopularity,
		Freshness:     cfg.Quality.WeightFreshness,
		Contradiction: cfg.Quality.WeightContradiction,
		VersionBonus:  cfg.Quality.VersionBonus,
		HalfLifeDays:  cfg.Quality.HalfLifeDays,
	}, logger), cfg.Quality.AggregationInterval)
	sched.Register("distillation", tenantFanoutJob{
		job: distillation.NewJob(distillationStore, classifier, sanitizer, quality.Weights{
			Usefulness:    cfg.Quality.WeightUsefulness,
			Popularity:    cfg.Quality.WeightPopularity,
			Freshness:     cfg.Quality.WeightFreshness,
			Contradiction: cfg.Quality.WeightContradiction,
			VersionBonus:  cfg.Quality.VersionBonus,
			HalfLifeDays:  cfg.Quality.HalfLifeDays,
		}, idgen.New, logger),
		store:  distillationStore,
		logger: logger,
	}, cfg.Distillation.Interval)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("hivemind-server: API server listening", logging.NewFields().Component("main").Operation(cfg.Server.HTTPPort).Zap()...)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("hivemind-server: metrics server listening", logging.NewFields().Component("main").Operation(cfg.Server.MetricsPort).Zap()...)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := listener.Run(ctx, hub); err != nil && ctx.Err() == nil {
			logger.Warn("hivemind-server: notification listener exited, SSE feed will miss events until restart",
				logging.NewFields().Component("main").Error(err).Zap()...)
		}
		return nil
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		logger.Info("hivemind-server: shutting down", logging.NewFields().Component("main").Zap()...)
		_ = apiServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
		dispatcher.Stop()
		return nil
	})

	return g.Wait()
}

func tierQuotas(tiers map[string]config.TierQuota) map[models.Tier]rpc.Quota {
	out := make(map[models.Tier]rpc.Quota, len(tiers))
	for name, q := range tiers {
		out[models.Tier(name)] = rpc.NewQuota(q.ContributePerMinute, q.SearchPerMinute)
	}
	return out
}

func allowedOrigins() []string {
	if v := os.Getenv("HIVEMIND_ALLOWED_ORIGINS"); v != "" {
		return []string{v}
	}
	return nil
}

// tenantFanoutJob adapts distillation.Job's per-tenant RunTenant method to
// scheduler.Runnable's whole-process Run(ctx, interval) contract: each
// tick lists every known tenant and runs the job for each in turn.
type tenantFanoutJob struct {
	job    *distillation.Job
	store  distillation.Store
	logger *zap.Logger
}

func (t tenantFanoutJob) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tenants, err := t.store.ListTenants(ctx)
			if err != nil {
				t.logger.Warn("distillation: list tenants failed, skipping this tick",
					logging.NewFields().Component("distillation").Error(err).Zap()...)
				continue
			}
			for _, tenantID := range tenants {
				if _, err := t.job.RunTenant(ctx, tenantID, time.Now()); err != nil {
					t.logger.Warn("distillation: tenant run failed, continuing with remaining tenants",
						logging.NewFields().Component("distillation").Tenant(tenantID).Error(err).Zap()...)
				}
			}
		}
	}
}
