package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classification-pipeline/internal/events"
	"classification-pipeline/internal/stats"
)

const defaultTimeout = 10 * time.Second

// listLimit caps read queries the same way the original storage API does.
const listLimit = 100

// Store owns all writes to the transactions and client_stats tables. Reads
// are exposed to the rule engine (history) and to the query surface.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, timeout: defaultTimeout}
}

func NewWithTimeout(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{pool: pool, timeout: timeout}
}

// StoredTransaction is a classified transaction as persisted, with the
// storage timestamp attached.
type StoredTransaction struct {
	events.ClassifiedTransaction
	StoredAt time.Time `json:"stored_at"`
}

const insertTransactionSQL = `
INSERT INTO transactions
	(transaction_id, client_id, amount, product, payment_type, location,
	 occurred_at, classifications, classified_at, metadata, stored_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (transaction_id) DO NOTHING`

const upsertClientStatsSQL = `
INSERT INTO client_stats
	(client_id, transaction_count, total_amount, average_amount, std_dev,
	 last_transaction_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (client_id) DO UPDATE SET
	transaction_count = EXCLUDED.transaction_count,
	total_amount = EXCLUDED.total_amount,
	average_amount = EXCLUDED.average_amount,
	std_dev = EXCLUDED.std_dev,
	last_transaction_at = EXCLUDED.last_transaction_at,
	updated_at = EXCLUDED.updated_at`

// StoreClassified durably stores one classified transaction and rebuilds the
// client's statistics, all in a single database transaction. Same-client
// calls are serialized by an advisory lock held for the duration of the
// transaction, so the read-modify-write on client_stats is safe across
// concurrent workers. A replayed transaction id returns ErrDuplicate and
// mutates nothing.
func (s *Store) StoreClassified(ctx context.Context, ct events.ClassifiedTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin storage transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", ct.ClientID); err != nil {
		return fmt.Errorf("acquire client lock for %s: %w", ct.ClientID, err)
	}

	metadata, err := json.Marshal(ct.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", ct.TransactionID, err)
	}

	tag, err := tx.Exec(ctx, insertTransactionSQL,
		ct.TransactionID, ct.ClientID, ct.Amount, ct.Product, ct.PaymentType,
		ct.Location, ct.OccurredAt.UTC(), ct.Classifications, ct.ClassifiedAt.UTC(), metadata)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", ct.TransactionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}

	clientStats, err := s.recomputeClientStats(ctx, tx, ct.ClientID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, upsertClientStatsSQL,
		clientStats.ClientID, clientStats.TransactionCount, clientStats.TotalAmount,
		clientStats.AverageAmount, clientStats.StdDev,
		clientStats.LastTransactionAt.UTC(), clientStats.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert client stats for %s: %w", ct.ClientID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit storage transaction for %s: %w", ct.TransactionID, err)
	}
	return nil
}

// recomputeClientStats rebuilds the aggregate row from every stored
// transaction for the client. The scan runs inside the storage transaction,
// so it sees the row just inserted and the result can never drift from the
// durable set. Full recomputation is intentional; an incremental variance
// update would have to reproduce identical rounding to stay consistent with
// the outlier rule.
func (s *Store) recomputeClientStats(ctx context.Context, tx pgx.Tx, clientID string) (stats.ClientStatistics, error) {
	rows, err := tx.Query(ctx,
		"SELECT amount, occurred_at FROM transactions WHERE client_id = $1", clientID)
	if err != nil {
		return stats.ClientStatistics{}, fmt.Errorf("scan transactions for %s: %w", clientID, err)
	}
	defer rows.Close()

	var amounts []float64
	var lastTransactionAt time.Time
	for rows.Next() {
		var amount float64
		var occurredAt time.Time
		if err := rows.Scan(&amount, &occurredAt); err != nil {
			return stats.ClientStatistics{}, fmt.Errorf("scan transaction row for %s: %w", clientID, err)
		}
		amounts = append(amounts, amount)
		if occurredAt.After(lastTransactionAt) {
			lastTransactionAt = occurredAt
		}
	}
	if err := rows.Err(); err != nil {
		return stats.ClientStatistics{}, fmt.Errorf("iterate transactions for %s: %w", clientID, err)
	}

	clientStats := stats.Compute(clientID, amounts, lastTransactionAt)
	if err := checkAggregate(clientStats); err != nil {
		return stats.ClientStatistics{}, err
	}
	return clientStats, nil
}

func checkAggregate(cs stats.ClientStatistics) error {
	switch {
	case cs.TransactionCount <= 0:
		return &CorruptAggregateError{ClientID: cs.ClientID, Reason: fmt.Sprintf("transaction_count = %d after insert", cs.TransactionCount)}
	case cs.TotalAmount < 0:
		return &CorruptAggregateError{ClientID: cs.ClientID, Reason: fmt.Sprintf("total_amount = %v", cs.TotalAmount)}
	case cs.StdDev < 0:
		return &CorruptAggregateError{ClientID: cs.ClientID, Reason: fmt.Sprintf("std_dev = %v", cs.StdDev)}
	case cs.LastTransactionAt.IsZero():
		return &CorruptAggregateError{ClientID: cs.ClientID, Reason: "last_transaction_at is zero"}
	}
	return nil
}

// CountRecentPurchases counts stored transactions for a client and product
// since the given instant. Used by the recurring purchase rule.
func (s *Store) CountRecentPurchases(ctx context.Context, clientID, product string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM transactions WHERE client_id = $1 AND product = $2 AND occurred_at >= $3",
		clientID, product, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent purchases for %s: %w", clientID, err)
	}
	return count, nil
}

// GetClientStats returns the statistics row for a client, or (nil, nil) when
// the client has no stored transactions.
func (s *Store) GetClientStats(ctx context.Context, clientID string) (*stats.ClientStatistics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cs stats.ClientStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, transaction_count, total_amount, average_amount,
		       std_dev, last_transaction_at, updated_at
		FROM client_stats WHERE client_id = $1`, clientID).
		Scan(&cs.ClientID, &cs.TransactionCount, &cs.TotalAmount, &cs.AverageAmount,
			&cs.StdDev, &cs.LastTransactionAt, &cs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client stats for %s: %w", clientID, err)
	}

	if err := checkAggregate(cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// ListFilter narrows ListTransactions. Zero values mean "no filter".
type ListFilter struct {
	ClientID       string
	Classification string
	Start          time.Time
	End            time.Time
}

// ListTransactions returns stored transactions matching the filter, most
// recent first.
func (s *Store) ListTransactions(ctx context.Context, filter ListFilter) ([]StoredTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT transaction_id, client_id, amount, product, payment_type,
		       location, occurred_at, classifications, classified_at,
		       metadata, stored_at
		FROM transactions`

	var conds []string
	var args []interface{}
	addCond := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ClientID != "" {
		addCond("client_id = $%d", filter.ClientID)
	}
	if filter.Classification != "" {
		addCond("$%d = ANY(classifications)", filter.Classification)
	}
	if !filter.Start.IsZero() {
		addCond("occurred_at >= $%d", filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		addCond("occurred_at <= $%d", filter.End.UTC())
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT %d", listLimit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]StoredTransaction, 0)
	for rows.Next() {
		var st StoredTransaction
		var metadata []byte
		err := rows.Scan(&st.TransactionID, &st.ClientID, &st.Amount, &st.Product,
			&st.PaymentType, &st.Location, &st.OccurredAt, &st.Classifications,
			&st.ClassifiedAt, &metadata, &st.StoredAt)
		if err != nil {
			return nil, fmt.Errorf("scan stored transaction: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &st.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", st.TransactionID, err)
			}
		}
		transactions = append(transactions, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return transactions, nil
}

// ClassificationStats is one per-label aggregate group.
type ClassificationStats struct {
	Classification string  `json:"classification"`
	Count          int64   `json:"count"`
	TotalAmount    float64 `json:"total_amount"`
	AverageAmount  float64 `json:"average_amount"`
}

// GetClassificationStats groups stored transactions by label. A transaction
// with N labels contributes to all N groups.
func (s *Store) GetClassificationStats(ctx context.Context) ([]ClassificationStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT c.label, count(*), coalesce(sum(t.amount), 0)
		FROM transactions t, unnest(t.classifications) AS c(label)
		GROUP BY c.label
		ORDER BY c.label`)
	if err != nil {
		return nil, fmt.Errorf("classification stats: %w", err)
	}
	defer rows.Close()

	groups := make([]ClassificationStats, 0)
	for rows.Next() {
		var cs ClassificationStats
		if err := rows.Scan(&cs.Classification, &cs.Count, &cs.TotalAmount); err != nil {
			return nil, fmt.Errorf("scan classification stats: %w", err)
		}
		if cs.Count > 0 {
			cs.AverageAmount = cs.TotalAmount / float64(cs.Count)
		}
		groups = append(groups, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification stats: %w", err)
	}
	return groups, nil
}
