// Command core runs the industrial decision-and-deployment control
// plane: it wires the cache, database, judgment pipeline, and
// background schedulers, then serves the one public HTTP surface.
// Startup order follows the teacher's gateway main.go (dependencies
// first, listener last) and shutdown reverses it.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/audit"
	"github.com/triflow-ai/core/internal/auth"
	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/classifier"
	"github.com/triflow-ai/core/internal/config"
	"github.com/triflow-ai/core/internal/datasource"
	"github.com/triflow-ai/core/internal/deployment"
	"github.com/triflow-ai/core/internal/evaluator"
	"github.com/triflow-ai/core/internal/flags"
	"github.com/triflow-ai/core/internal/health"
	"github.com/triflow-ai/core/internal/httpapi"
	"github.com/triflow-ai/core/internal/judgment"
	"github.com/triflow-ai/core/internal/llmgateway"
	"github.com/triflow-ai/core/internal/metrics"
	"github.com/triflow-ai/core/internal/orchestrator"
	"github.com/triflow-ai/core/internal/policy"
	"github.com/triflow-ai/core/internal/scheduler"
	"github.com/triflow-ai/core/internal/store"
	"github.com/triflow-ai/core/internal/trust"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// cache first: the judgment pipeline's hot path depends on it.
	var cacheStore cache.Store
	if cfg.Cache.URL != "" {
		redisStore, err := cache.NewRedisStore(cfg.Cache.URL, logger)
		if err != nil {
			logger.Fatal("connect cache", zap.Error(err))
		}
		cacheStore = redisStore
	} else {
		cacheStore = cache.NewMemoryStore(cfg.Cache.PolicyCacheCap)
	}

	// database next.
	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	judgmentCache := cache.NewJudgmentCache(cacheStore, cfg.Cache.JudgmentTTL)
	evalClient := evaluator.NewHTTPClient(cfg.EvaluatorURL, cfg.Timeouts.Evaluator)
	gateway := llmgateway.NewHTTPClient(cfg.LLMGatewayURL, cfg.Timeouts.Model)
	assigner := canary.New(db)
	aggregator := metrics.NewAggregator(db)

	guards, err := policy.NewEvaluator(context.Background(), cfg.PolicyFailClose, logger)
	if err != nil {
		logger.Fatal("compile guard policy", zap.Error(err))
	}

	judgments := judgment.New(db, cfg.Cache.JudgmentTTL, judgmentCache, evalClient, gateway, assigner, guards, aggregator)
	trustEngine := trust.New(db, cfg.TrustThresholds, cfg.TrustWeights)
	deployer := deployment.New(db, assigner, judgmentCache)
	classify := classifier.New(gateway)
	orch := orchestrator.New(classify, judgments, cacheStore)
	auditWriter := audit.New(db, logger)
	defer auditWriter.Shutdown()

	// scheduler: background drivers, started after their dependencies exist.
	sched := scheduler.New(db, deployer, trustEngine, assigner, aggregator, logger)
	if err := sched.Start(cfg.Scheduler); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	verifier := auth.New(cfg.JWTSecret)

	healthManager := health.NewManager()
	healthManager.Register(health.NewDatabaseChecker(db))
	healthManager.Register(health.NewCacheChecker(cacheStore))

	flagStore := flags.New(db)
	dataSources := datasource.New(db, cfg.EncryptionKey, cfg.Timeouts.DataSourceProbe)

	mux := httpapi.NewRouter(verifier, auditWriter,
		httpapi.NewHealthHandler(healthManager, logger),
		httpapi.NewAgentsHandler(orch, logger),
		httpapi.NewRulesetsHandler(db, judgments, evalClient, logger),
		httpapi.NewJudgmentHandler(judgments, logger),
		httpapi.NewDeploymentsHandler(db, deployer, logger),
		httpapi.NewTrustHandler(db, trustEngine, logger),
		httpapi.NewFlagsHandler(db, flagStore, logger),
		httpapi.NewDataSourcesHandler(dataSources, logger),
	)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses never time out on write
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		logger.Info("core starting", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("core shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("core stopped")
}
