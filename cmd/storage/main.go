package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/twmb/franz-go/pkg/kgo"

	"classification-pipeline/internal/aggregator"
	"classification-pipeline/internal/api"
	"classification-pipeline/internal/cache"
	"classification-pipeline/internal/config"
	"classification-pipeline/internal/logger"
	"classification-pipeline/internal/store"
	"classification-pipeline/internal/stream"
)

func init() {
	if os.Getenv("RUNNING_IN_DOCKER") == "" {
		godotenv.Load()
	}
}

func main() {
	log := logger.New("storage")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.SetupStorage(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up configuration")
	}
	defer cfg.Consumer.Close()
	defer cfg.Pg.Close()
	defer cfg.Redis.Close()

	st := store.New(cfg.Pg)
	statsCache := cache.New(cfg.Redis, cfg.CacheTTL)
	agg := aggregator.New(st, statsCache, log)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewHandler(st, statsCache, log).Routes(),
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("read API starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("read API stopped")
			cancel()
		}
	}()

	consumer := stream.NewConsumer(cfg.Consumer, log)
	log.Info().Msg("storage consuming classified transactions")
	if err := consumer.Run(ctx, func(ctx context.Context, record *kgo.Record) error {
		return agg.Process(ctx, record.Value)
	}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}

	server.Shutdown(context.Background())
	log.Info().Msg("shutting down gracefully")
}
