package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/config"
	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/extract"
	logpkg "github.com/ledgerlens/ledgerlens/internal/logger"
	"github.com/ledgerlens/ledgerlens/internal/metrics"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
	"github.com/ledgerlens/ledgerlens/internal/repository/embcache"
	"github.com/ledgerlens/ledgerlens/internal/transport/httpapi"
	openaiProvider "github.com/ledgerlens/ledgerlens/internal/transport/openai"
	indexeruc "github.com/ledgerlens/ledgerlens/internal/usecase/indexer"
	llmscoreuc "github.com/ledgerlens/ledgerlens/internal/usecase/llmscore"
	reconcileuc "github.com/ledgerlens/ledgerlens/internal/usecase/reconcile"
	retrievaluc "github.com/ledgerlens/ledgerlens/internal/usecase/retrieval"
	rulefilteruc "github.com/ledgerlens/ledgerlens/internal/usecase/rulefilter"
	"github.com/ledgerlens/ledgerlens/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ledgerlens API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("storage_root", cfg.Storage.Root),
	)

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	store, err := batchstore.New(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("Failed to open batch store", zap.Error(err))
	}

	// Build embedder chain — composition root
	baseEmbedder := openaiProvider.NewEmbedder(&openaiProvider.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	var embedder interface {
		domain.Embedder
		domain.BatchEmbedder
	} = baseEmbedder
	if cfg.Cache.Enabled {
		cacheClient, err := embcache.NewClient(embcache.ClientConfig{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to connect embedding cache", zap.Error(err))
		}
		defer cacheClient.Close()
		embedder = embcache.New(baseEmbedder, cacheClient, metrics.EmbeddingCacheTotal, logger)
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	scorer := openaiProvider.NewScorer(&openaiProvider.ScorerConfig{
		APIKey:         cfg.Scoring.APIKey,
		BaseURL:        cfg.Scoring.BaseURL,
		Model:          cfg.Scoring.Model,
		Provider:       cfg.Scoring.Provider,
		BreakerEnabled: cfg.Scoring.BreakerEnabled,
		Logger:         logger,
	})

	var reranker domain.Reranker
	if cfg.Scoring.RerankModel != "" {
		reranker = openaiProvider.NewReranker(&openaiProvider.RerankerConfig{
			APIKey:  cfg.Scoring.APIKey,
			BaseURL: cfg.Scoring.BaseURL,
			Model:   cfg.Scoring.RerankModel,
			Logger:  logger,
		})
	}

	extractor := extract.New(extract.Config{
		ChunkSize:    cfg.Extract.ChunkSize,
		ChunkOverlap: cfg.Extract.ChunkOverlap,
		Workers:      cfg.Extract.Workers,
	}, logger)

	// Create use case services
	indexerSvc := indexeruc.New(extractor, embedder, store, cfg.Storage.BatchSize, logger)
	retrievalSvc := retrievaluc.New(store, embedder, reranker,
		cfg.Retrieval.TopKPerBatch, cfg.Retrieval.GlobalTopK, cfg.Retrieval.Rerank, logger)
	filterSvc := rulefilteruc.New(cfg.Matching.DateWindowDays, cfg.Matching.MinMatchScore, logger)
	llmSvc := llmscoreuc.New(scorer, cfg.Matching.MaxLLMItems, cfg.Matching.Workers, logger)
	reconcileSvc := reconcileuc.New(filterSvc, llmSvc, retrievalSvc, reconcileuc.Config{
		LLMThreshold:       cfg.Matching.LLMThreshold,
		RetrievalThreshold: cfg.Retrieval.Threshold,
		GlobalTopK:         cfg.Retrieval.GlobalTopK,
		Workers:            cfg.Matching.Workers,
	}, logger)

	checks := map[string]domain.HealthChecker{
		"embedding": baseEmbedder,
		"scoring":   scorer,
	}

	server := httpapi.NewServer(indexerSvc, retrievalSvc, reconcileSvc, checks,
		cfg.Retrieval.GlobalTopK, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(httpapi.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
