package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"classification-pipeline/internal/cache"
	"classification-pipeline/internal/events"
	"classification-pipeline/internal/store"
)

// Storer is the write side of the aggregation store. Satisfied by
// store.Store.
type Storer interface {
	StoreClassified(ctx context.Context, ct events.ClassifiedTransaction) error
}

// Aggregator consumes classified transactions and drives durable storage
// plus statistics maintenance. Offsets are only committed once a record is
// stored or confirmed duplicate, so redelivery after a crash is absorbed by
// the store's dedup.
type Aggregator struct {
	store Storer
	cache *cache.StatsCache
	log   zerolog.Logger
}

func New(storer Storer, statsCache *cache.StatsCache, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: storer, cache: statsCache, log: log}
}

// Process handles one classified-transactions record.
func (a *Aggregator) Process(ctx context.Context, raw []byte) error {
	ct, err := events.ParseClassified(raw)
	if err != nil {
		return err
	}

	err = a.store.StoreClassified(ctx, ct)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		a.log.Debug().
			Str("transaction_id", ct.TransactionID).
			Msg("duplicate delivery absorbed")
		return nil
	case store.IsCorruptAggregate(err):
		// Never auto-repair. The record stays uncommitted and keeps
		// redelivering until an operator fixes the row.
		a.log.Error().Err(err).
			Str("transaction_id", ct.TransactionID).
			Str("client_id", ct.ClientID).
			Str("stage", "store").
			Msg("aggregate invariant violated, operator intervention required")
		return err
	case err != nil:
		a.log.Error().Err(err).
			Str("transaction_id", ct.TransactionID).
			Str("stage", "store").
			Msg("storage failed")
		return fmt.Errorf("store transaction %s: %w", ct.TransactionID, err)
	}

	a.cache.InvalidateClient(ctx, ct.ClientID)

	a.log.Info().
		Str("transaction_id", ct.TransactionID).
		Str("client_id", ct.ClientID).
		Msg("transaction stored")
	return nil
}
