package rules

import (
	"context"
	"fmt"
	"time"

	"classification-pipeline/internal/events"
	"classification-pipeline/internal/stats"
)

const (
	LabelImportantPurchase   = "important_purchase"
	LabelRecurringPurchase   = "recurring_purchase"
	LabelRiskyTransaction    = "risky_transaction"
	LabelOutlierTransaction  = "outlier_transaction"
	LabelPromotionalPurchase = "promotional_purchase"

	// LabelStandard is reserved for transactions no other rule matched and
	// is never combined with other labels.
	LabelStandard = "standard"
)

const (
	importantAmountThreshold   = 800
	riskyAmountThreshold       = 500
	promotionalAmountThreshold = 100
	outlierStdDevFactor        = 3
	trustedLocation            = "Tunis"
)

// History is the read-only view into previously stored transactions and
// aggregates consumed by the stateful rules. GetClientStats returns
// (nil, nil) for a client with no stored transactions.
type History interface {
	CountRecentPurchases(ctx context.Context, clientID, product string, since time.Time) (int, error)
	GetClientStats(ctx context.Context, clientID string) (*stats.ClientStatistics, error)
}

// Rule is one classification predicate. NeedsHistory marks the rules whose
// Evaluate reads History; ClassifyWith withholds history from the rest and
// refuses to run a stateful rule without one.
type Rule struct {
	Label        string
	NeedsHistory bool
	Evaluate     func(ctx context.Context, tx events.Transaction, history History, now time.Time) (bool, error)
}

// Default returns the rule set in evaluation order. Order only affects the
// ordering of the resulting labels; rules are independent predicates.
func Default() []Rule {
	return []Rule{
		{
			Label: LabelImportantPurchase,
			Evaluate: func(_ context.Context, tx events.Transaction, _ History, _ time.Time) (bool, error) {
				return tx.Amount > importantAmountThreshold, nil
			},
		},
		{
			Label:        LabelRecurringPurchase,
			NeedsHistory: true,
			Evaluate: func(ctx context.Context, tx events.Transaction, history History, now time.Time) (bool, error) {
				// Rolling one-calendar-month window anchored at the
				// evaluation instant, not at the transaction's own
				// timestamp. Intentional: results near month boundaries
				// depend on when the event is processed.
				since := now.AddDate(0, -1, 0)
				count, err := history.CountRecentPurchases(ctx, tx.ClientID, tx.Product, since)
				if err != nil {
					return false, err
				}
				return count > 0, nil
			},
		},
		{
			Label: LabelRiskyTransaction,
			Evaluate: func(_ context.Context, tx events.Transaction, _ History, _ time.Time) (bool, error) {
				return tx.PaymentType == events.PaymentTypeCard &&
					tx.Location != trustedLocation &&
					tx.Amount > riskyAmountThreshold, nil
			},
		},
		{
			Label:        LabelOutlierTransaction,
			NeedsHistory: true,
			Evaluate: func(ctx context.Context, tx events.Transaction, history History, _ time.Time) (bool, error) {
				// Uses the statistics as they stood before this transaction
				// is stored. Classification runs ahead of storage, so the
				// snapshot never includes the transaction being evaluated.
				clientStats, err := history.GetClientStats(ctx, tx.ClientID)
				if err != nil {
					return false, err
				}
				if clientStats == nil {
					return false, nil
				}
				threshold := clientStats.AverageAmount + outlierStdDevFactor*clientStats.StdDev
				return tx.Amount > threshold, nil
			},
		},
		{
			Label: LabelPromotionalPurchase,
			Evaluate: func(_ context.Context, tx events.Transaction, _ History, _ time.Time) (bool, error) {
				return tx.Amount < promotionalAmountThreshold, nil
			},
		},
	}
}

// Classify evaluates the default rule set against one transaction and
// returns the ordered label list, falling back to the standard label when
// nothing fired. A History failure fails the whole classification; a
// transaction is never labelled from partial rule results.
func Classify(ctx context.Context, tx events.Transaction, history History, now time.Time) ([]string, error) {
	return ClassifyWith(ctx, Default(), tx, history, now)
}

func ClassifyWith(ctx context.Context, ruleSet []Rule, tx events.Transaction, history History, now time.Time) ([]string, error) {
	labels := make([]string, 0, len(ruleSet))
	for _, rule := range ruleSet {
		ruleHistory := history
		if !rule.NeedsHistory {
			ruleHistory = nil
		} else if history == nil {
			return nil, fmt.Errorf("rule %s requires a history source", rule.Label)
		}
		fired, err := rule.Evaluate(ctx, tx, ruleHistory, now)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %s: %w", rule.Label, err)
		}
		if fired {
			labels = append(labels, rule.Label)
		}
	}

	if len(labels) == 0 {
		return []string{LabelStandard}, nil
	}
	return labels, nil
}
