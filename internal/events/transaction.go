package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	PaymentTypeCard  = "card"
	PaymentTypeOther = "other"
)

type Transaction struct {
	TransactionID string                 `json:"transaction_id"`
	ClientID      string                 `json:"client_id"`
	Amount        float64                `json:"amount"`
	Product       string                 `json:"product"`
	PaymentType   string                 `json:"payment_type"`
	Location      string                 `json:"location"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ParseTransaction decodes and validates a raw-transactions payload. A
// missing amount is distinguished from an explicit zero, which is valid.
// occurred_at is required even though ingestion could limp along without
// it: the recurring-purchase window, outlier statistics, and a client's
// last_transaction_at all derive from it, so a transaction without a
// timestamp cannot be classified or aggregated correctly.
func ParseTransaction(raw []byte) (Transaction, error) {
	var wire struct {
		TransactionID string                 `json:"transaction_id"`
		ClientID      string                 `json:"client_id"`
		Amount        *float64               `json:"amount"`
		Product       string                 `json:"product"`
		PaymentType   string                 `json:"payment_type"`
		Location      string                 `json:"location"`
		OccurredAt    time.Time              `json:"occurred_at"`
		Metadata      map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Transaction{}, NewValidationError("unmarshal transaction: %v", err)
	}

	if wire.TransactionID == "" {
		return Transaction{}, NewValidationError("transaction_id is required")
	}
	if wire.ClientID == "" {
		return Transaction{}, NewValidationError("client_id is required")
	}
	if wire.Amount == nil {
		return Transaction{}, NewValidationError("amount is required")
	}
	if *wire.Amount < 0 {
		return Transaction{}, NewValidationError("amount must not be negative, got %v", *wire.Amount)
	}
	if wire.OccurredAt.IsZero() {
		return Transaction{}, NewValidationError("occurred_at is required")
	}

	if wire.Metadata == nil {
		wire.Metadata = map[string]interface{}{}
	}

	return Transaction{
		TransactionID: wire.TransactionID,
		ClientID:      wire.ClientID,
		Amount:        *wire.Amount,
		Product:       wire.Product,
		PaymentType:   wire.PaymentType,
		Location:      wire.Location,
		OccurredAt:    wire.OccurredAt,
		Metadata:      wire.Metadata,
	}, nil
}

func (t Transaction) Validate() error {
	if t.TransactionID == "" {
		return NewValidationError("transaction_id is required")
	}
	if t.ClientID == "" {
		return NewValidationError("client_id is required")
	}
	if t.Amount < 0 {
		return NewValidationError("amount must not be negative, got %v", t.Amount)
	}
	if t.OccurredAt.IsZero() {
		return NewValidationError("occurred_at is required")
	}
	return nil
}

type ClassifiedTransaction struct {
	Transaction
	Classifications []string  `json:"classifications"`
	ClassifiedAt    time.Time `json:"classified_at"`
}

// ParseClassified decodes a classified-transactions payload. The label set
// is never empty for a well-formed message; the classifier always falls back
// to the standard label.
func ParseClassified(raw []byte) (ClassifiedTransaction, error) {
	var ct ClassifiedTransaction
	if err := json.Unmarshal(raw, &ct); err != nil {
		return ClassifiedTransaction{}, NewValidationError("unmarshal classified transaction: %v", err)
	}
	if err := ct.Transaction.Validate(); err != nil {
		return ClassifiedTransaction{}, fmt.Errorf("invalid classified transaction: %w", err)
	}
	if len(ct.Classifications) == 0 {
		return ClassifiedTransaction{}, NewValidationError("classifications must not be empty")
	}
	if ct.ClassifiedAt.IsZero() {
		return ClassifiedTransaction{}, NewValidationError("classified_at is required")
	}
	return ct, nil
}
