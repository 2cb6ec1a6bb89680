package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"classification-pipeline/internal/config"
	"classification-pipeline/internal/events"
	"classification-pipeline/internal/logger"
	"classification-pipeline/internal/stream"
)

func init() {
	if os.Getenv("RUNNING_IN_DOCKER") == "" {
		godotenv.Load()
	}
}

var products = []string{"laptop", "phone", "tablet", "monitor", "keyboard", "headphones"}
var locations = []string{"Tunis", "Sousse", "Sfax", "Bizerte", "Gabes"}

func randomTransaction(faker *gofakeit.Faker, clients []string) events.Transaction {
	paymentType := events.PaymentTypeOther
	if faker.Bool() {
		paymentType = events.PaymentTypeCard
	}

	return events.Transaction{
		TransactionID: uuid.NewString(),
		ClientID:      faker.RandomString(clients),
		Amount:        faker.Float64Range(5, 1200),
		Product:       faker.RandomString(products),
		PaymentType:   paymentType,
		Location:      faker.RandomString(locations),
		OccurredAt:    time.Now().UTC().Add(-time.Duration(faker.Number(0, 3600)) * time.Second),
		Metadata: map[string]interface{}{
			"channel": faker.RandomString([]string{"web", "mobile", "pos"}),
		},
	}
}

func main() {
	log := logger.New("datagen")

	count := flag.Int("count", 100, "number of transactions to produce")
	clientCount := flag.Int("clients", 10, "number of distinct clients")
	seed := flag.Uint64("seed", 0, "faker seed, 0 means random")
	flag.Parse()

	cfg, err := config.SetupDatagen()
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up configuration")
	}
	defer cfg.Kafka.Close()

	faker := gofakeit.New(*seed)
	clients := make([]string, 0, *clientCount)
	for i := 0; i < *clientCount; i++ {
		clients = append(clients, faker.Username())
	}

	producer := stream.NewProducer(cfg.Kafka, cfg.RawTopic)
	ctx := context.Background()

	for i := 0; i < *count; i++ {
		tx := randomTransaction(faker, clients)
		if err := producer.Publish(ctx, tx.ClientID, tx); err != nil {
			log.Fatal().Err(err).Str("transaction_id", tx.TransactionID).Msg("produce failed")
		}
	}

	log.Info().Int("count", *count).Int("clients", *clientCount).Msg("synthetic transactions produced")
}
