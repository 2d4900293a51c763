package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rtgsim/internal/evalcache"
	"rtgsim/internal/handler"
	"rtgsim/internal/middleware"
	"rtgsim/internal/runstore"
	"rtgsim/pkg/config"
	"rtgsim/pkg/logger"
	"rtgsim/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("rtgsim-gateway")

	log.Info("Starting simulation gateway", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	registry := handler.NewRegistry()
	val := validator.New()

	// The run store and the eval cache are optional backing services; the
	// gateway still runs simulations in memory without them.
	var repo *runstore.Repository
	if cfg.Database.URL != "" {
		var err error
		repo, err = runstore.NewRepository(
			cfg.Database.URL,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			log.Warn("Run store unavailable, archiving disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer repo.Close()
		}
	}

	var cache *evalcache.Cache
	var limiter *middleware.RateLimiter
	if cfg.Redis.URL != "" {
		var err error
		cache, err = evalcache.New(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Sim.ResultCacheTTL)
		if err != nil {
			log.Warn("Evaluation cache unavailable, memoization disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer cache.Close()
			limiter = middleware.NewRateLimiter(cache.Client(), cfg.Sim.RateLimitPerMinute, time.Minute)
		}
	}

	router := handler.NewRouter(handler.RouterDeps{
		Simulations: handler.NewSimulationHandler(registry, val, log),
		Policies:    handler.NewPolicyHandler(log),
		Stream:      handler.NewStreamHandler(registry, cfg.Sim.StreamInterval, log),
		Runs:        handler.NewRunsHandler(registry, repo, cache, log),
		RateLimiter: limiter,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Simulation gateway started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down simulation gateway...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Simulation gateway forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Simulation gateway stopped gracefully", nil)
}
