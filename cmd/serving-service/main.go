package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/synaptica-ai/halo/pkg/common/config"
	"github.com/synaptica-ai/halo/pkg/common/database"
	"github.com/synaptica-ai/halo/pkg/common/kafka"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/serving"
	"github.com/synaptica-ai/halo/pkg/storage"
)

func main() {
	_ = godotenv.Load()
	logger.Init("serving-service")
	cfg := config.Load()

	modelPath := filepath.Join(cfg.ArtifactDir, storage.ModelFile)
	scorer := serving.LoadScorer(modelPath)

	var source *serving.ImportanceSource
	importancePath := filepath.Join(cfg.OutputDir, storage.ImportanceFile)
	if cfg.ImportanceCacheEnabled {
		redisClient := database.NewRedis(cfg)
		defer redisClient.Close()
		cache := storage.NewImportanceCache(redisClient, cfg.ImportanceCacheKey, cfg.ImportanceCacheTTL)
		source = serving.NewImportanceSource(cache, importancePath)
	} else {
		source = serving.NewImportanceSource(nil, importancePath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.EventsEnabled {
		consumer := kafka.NewConsumer(cfg)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, serving.ReloadHandler(scorer, modelPath)); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("Model event consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(serving.Recovery, serving.Logging, serving.CORS)
	metricsPath := filepath.Join(cfg.OutputDir, storage.MetricsFile)
	serving.NewHandler(scorer, source, metricsPath, cfg.MaxRequestBody).Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":         cfg.ServerHost,
			"port":         cfg.ServerPort,
			"model_loaded": scorer.Model() != nil,
		}).Info("Serving Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Serving Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Serving Service stopped")
}
