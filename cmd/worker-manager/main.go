// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"underwriting-workers/internal/common/camunda"
	"underwriting-workers/internal/common/config"
	"underwriting-workers/internal/common/database"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/common/observability"
	"underwriting-workers/internal/underwriting/audit"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/notify"
	"underwriting-workers/internal/underwriting/premium"
	"underwriting-workers/internal/underwriting/product"
	"underwriting-workers/internal/underwriting/store"

	// Underwriting Workers (4)
	ep "underwriting-workers/internal/workers/underwriting/evaluate-products"
	nr "underwriting-workers/internal/workers/underwriting/notify-referral"
	qq "underwriting-workers/internal/workers/underwriting/quick-quote"
	vrs "underwriting-workers/internal/workers/underwriting/validate-rule-set"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// cachedReferenceData is the engine's data surface: everything reads
// straight from Postgres except rule sets, which go through Redis.
type cachedReferenceData struct {
	*store.Store
	ruleSets *store.CachedRuleSetStore
}

func (d *cachedReferenceData) GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
	return d.ruleSets.GetRuleSetsForCarrier(ctx, carrierID)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	tracing := observability.NewTracing("worker-manager", cfg.Tracing.JaegerEndpoint)
	defer tracing.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var camundaClient *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		camundaClient, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zeebeClient := camundaClient.GetClient()
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (decision audit trail) ---
	var esClient *database.ElasticsearchClient
	if cfg.Audit.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			// Test the connection
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	} else {
		zapLog.Info("Decision auditing disabled, skipping Elasticsearch")
	}

	// --- Build Underwriting Engine ---
	ruleCacheTTL := config.GetDuration(cfg.Engine.RuleCacheTTL)
	pgStore := store.New(pg.DB, log)
	refData := &cachedReferenceData{
		Store:    pgStore,
		ruleSets: store.NewCachedRuleSetStore(pgStore, redis.Client, ruleCacheTTL, log),
	}

	premiumSvc := premium.NewService(log, cfg.Engine.PremiumGuardrailMonthly)

	engine := product.NewEngine(refData, premiumSvc, log, product.Options{
		ParallelProductLimit:    cfg.Engine.ParallelProductLimit,
		AllowSinglePointScaling: cfg.Engine.AllowSinglePointScaling,
		AlternativeQuoteCount:   cfg.Engine.AlternativeQuoteCount,
	}).WithTracing(tracing)

	var auditSink ep.AuditSink
	if cfg.Audit.Enabled {
		auditSink = audit.NewSink(esClient.Client, cfg.Audit.Index, log)
	}

	zapLog.Info("Underwriting engine initialized",
		zap.Int("parallelProductLimit", cfg.Engine.ParallelProductLimit),
		zap.Duration("ruleCacheTTL", ruleCacheTTL),
	)

	// --- START: Register ALL 4 Workers ---

	var workers []*camunda.Worker

	if cfg.Workers[ep.TaskType].Enabled {
		handler := ep.NewHandler(
			&ep.Config{
				Timeout:      time.Duration(cfg.Workers[ep.TaskType].Timeout) * time.Millisecond,
				AuditEnabled: cfg.Audit.Enabled,
			},
			engine, auditSink, log,
		)
		workers = append(workers, startWorker(zeebeClient, ep.TaskType, cfg.Workers[ep.TaskType], handler.Handle, zapLog))
	}

	if cfg.Workers[vrs.TaskType].Enabled {
		handler := vrs.NewHandler(
			&vrs.Config{
				Timeout: time.Duration(cfg.Workers[vrs.TaskType].Timeout) * time.Millisecond,
			},
			log,
		)
		workers = append(workers, startWorker(zeebeClient, vrs.TaskType, cfg.Workers[vrs.TaskType], handler.Handle, zapLog))
	}

	if cfg.Workers[qq.TaskType].Enabled {
		handler := qq.NewHandler(
			&qq.Config{
				Timeout: time.Duration(cfg.Workers[qq.TaskType].Timeout) * time.Millisecond,
			},
			pgStore, premiumSvc, log,
		)
		workers = append(workers, startWorker(zeebeClient, qq.TaskType, cfg.Workers[qq.TaskType], handler.Handle, zapLog))
	}

	if cfg.Workers[nr.TaskType].Enabled {
		notifier, err := notify.New(ctx, cfg.Notifications, log)
		if err != nil {
			zapLog.Fatal("failed to create referral notifier", zap.Error(err))
		}
		handler := nr.NewHandler(
			&nr.Config{
				Timeout: time.Duration(cfg.Workers[nr.TaskType].Timeout) * time.Millisecond,
			},
			notifier, log,
		)
		workers = append(workers, startWorker(zeebeClient, nr.TaskType, cfg.Workers[nr.TaskType], handler.Handle, zapLog))
	}

	zapLog.Info("All 4 workers registered successfully")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")

	for _, w := range workers {
		w.Close()
	}

	if err := camundaClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func startWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handlerFunc camunda.JobHandlerFunc, log *zap.Logger) *camunda.Worker {
	return camunda.StartWorker(
		client,
		taskType,
		wcfg.MaxJobsActive,
		time.Duration(wcfg.Timeout)*time.Millisecond,
		handlerFunc,
		log,
	)
}
