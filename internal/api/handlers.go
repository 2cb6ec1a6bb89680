package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"classification-pipeline/internal/cache"
	"classification-pipeline/internal/stats"
	"classification-pipeline/internal/store"
)

// Reader is the read-only view the query surface has over the aggregation
// store. Satisfied by store.Store.
type Reader interface {
	ListTransactions(ctx context.Context, filter store.ListFilter) ([]store.StoredTransaction, error)
	GetClientStats(ctx context.Context, clientID string) (*stats.ClientStatistics, error)
	GetClassificationStats(ctx context.Context) ([]store.ClassificationStats, error)
}

type Handler struct {
	reader Reader
	cache  *cache.StatsCache
	log    zerolog.Logger
}

func NewHandler(reader Reader, statsCache *cache.StatsCache, log zerolog.Logger) *Handler {
	return &Handler{reader: reader, cache: statsCache, log: log}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/transactions", h.listTransactions)
	mux.HandleFunc("GET /api/client-stats/{client_id}", h.getClientStats)
	mux.HandleFunc("GET /api/classification-stats", h.getClassificationStats)
	mux.HandleFunc("GET /healthcheck", h.healthcheck)
	return mux
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ListFilter{
		ClientID:       query.Get("client_id"),
		Classification: query.Get("classification"),
	}

	var err error
	if filter.Start, err = parseDateParam(query.Get("start_date")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date: %v", err))
		return
	}
	if filter.End, err = parseDateParam(query.Get("end_date")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date: %v", err))
		return
	}

	transactions, err := h.reader.ListTransactions(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("list transactions failed")
		writeError(w, http.StatusInternalServerError, "could not list transactions")
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) getClientStats(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")

	if cached, ok := h.cache.GetClientStats(r.Context(), clientID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	clientStats, err := h.reader.GetClientStats(r.Context(), clientID)
	if err != nil {
		h.log.Error().Err(err).Str("client_id", clientID).Msg("get client stats failed")
		writeError(w, http.StatusInternalServerError, "could not read client statistics")
		return
	}
	if clientStats == nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	h.cache.SetClientStats(r.Context(), *clientStats)
	writeJSON(w, http.StatusOK, clientStats)
}

func (h *Handler) getClassificationStats(w http.ResponseWriter, r *http.Request) {
	groups, err := h.reader.GetClassificationStats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("classification stats failed")
		writeError(w, http.StatusInternalServerError, "could not read classification statistics")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) healthcheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseDateParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
