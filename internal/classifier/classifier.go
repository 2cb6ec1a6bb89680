package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"classification-pipeline/internal/events"
	"classification-pipeline/internal/rules"
)

// Emitter publishes classified transactions downstream. Satisfied by
// stream.Producer.
type Emitter interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// Engine validates incoming transactions, runs the rule set against live
// history, and emits the classified event. It never writes to the store;
// duplicate emission after redelivery is harmless because storage dedupes on
// transaction id.
type Engine struct {
	history rules.History
	emitter Emitter
	ruleSet []rules.Rule
	log     zerolog.Logger
	now     func() time.Time
}

func New(history rules.History, emitter Emitter, log zerolog.Logger) *Engine {
	return &Engine{
		history: history,
		emitter: emitter,
		ruleSet: rules.Default(),
		log:     log,
		now:     time.Now,
	}
}

// NewWithClock pins the evaluation clock, mainly for tests around the
// recurring purchase window.
func NewWithClock(history rules.History, emitter Emitter, log zerolog.Logger, now func() time.Time) *Engine {
	engine := New(history, emitter, log)
	engine.now = now
	return engine
}

// Process handles one raw-transactions record. A ValidationError means the
// payload is rejected upstream and must not be retried; any other error is
// transient and leaves the record to be redelivered.
func (e *Engine) Process(ctx context.Context, raw []byte) error {
	tx, err := events.ParseTransaction(raw)
	if err != nil {
		return err
	}

	now := e.now().UTC()
	labels, err := rules.ClassifyWith(ctx, e.ruleSet, tx, e.history, now)
	if err != nil {
		e.log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Str("stage", "classify").
			Msg("classification failed")
		return fmt.Errorf("classify transaction %s: %w", tx.TransactionID, err)
	}

	classified := events.ClassifiedTransaction{
		Transaction:     tx,
		Classifications: labels,
		ClassifiedAt:    now,
	}
	if err := e.emitter.Publish(ctx, tx.ClientID, classified); err != nil {
		e.log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Str("stage", "emit").
			Msg("emit failed")
		return fmt.Errorf("emit classified transaction %s: %w", tx.TransactionID, err)
	}

	e.log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("client_id", tx.ClientID).
		Strs("classifications", labels).
		Msg("transaction classified")
	return nil
}
