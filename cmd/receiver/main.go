package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

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

type receiver struct {
	producer *stream.Producer
	log      zerolog.Logger
}

func (rc *receiver) ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	tx, err := events.ParseTransaction(body)
	if err != nil {
		rc.log.Warn().Err(err).Msg("rejected transaction")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := rc.producer.Publish(r.Context(), tx.ClientID, tx); err != nil {
		rc.log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Str("stage", "produce").
			Msg("could not enqueue transaction")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "transaction could not be enqueued"})
		return
	}

	rc.log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("client_id", tx.ClientID).
		Msg("transaction accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"transaction_id": tx.TransactionID,
	})
}

func healthcheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func main() {
	log := logger.New("receiver")

	cfg, err := config.SetupReceiver()
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up configuration")
	}
	defer cfg.Kafka.Close()

	rc := &receiver{
		producer: stream.NewProducer(cfg.Kafka, cfg.RawTopic),
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions", rc.ingest)
	mux.HandleFunc("GET /healthcheck", healthcheck)

	log.Info().Str("addr", cfg.ListenAddr).Msg("receiver starting")
	err = http.ListenAndServe(cfg.ListenAddr, mux)
	if errors.Is(err, http.ErrServerClosed) {
		log.Info().Msg("server closed")
	} else if err != nil {
		log.Fatal().Err(err).Msg("error starting server")
	}
}
