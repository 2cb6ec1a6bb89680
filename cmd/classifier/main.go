package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/twmb/franz-go/pkg/kgo"

	"classification-pipeline/internal/classifier"
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
	log := logger.New("classifier")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.SetupClassifier(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up configuration")
	}
	defer cfg.Consumer.Close()
	defer cfg.Producer.Close()
	defer cfg.Pg.Close()

	engine := classifier.New(
		store.New(cfg.Pg),
		stream.NewProducer(cfg.Producer, cfg.ClassifiedTopic),
		log,
	)

	consumer := stream.NewConsumer(cfg.Consumer, log)
	log.Info().Msg("classifier consuming raw transactions")
	if err := consumer.Run(ctx, func(ctx context.Context, record *kgo.Record) error {
		return engine.Process(ctx, record.Value)
	}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}

	log.Info().Msg("shutting down gracefully")
}
