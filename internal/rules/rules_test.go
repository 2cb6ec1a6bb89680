package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classification-pipeline/internal/events"
	"classification-pipeline/internal/stats"
)

type stubHistory struct {
	recentCount int
	recentErr   error
	clientStats *stats.ClientStatistics
	statsErr    error

	gotClientID string
	gotProduct  string
	gotSince    time.Time
}

func (s *stubHistory) CountRecentPurchases(_ context.Context, clientID, product string, since time.Time) (int, error) {
	s.gotClientID = clientID
	s.gotProduct = product
	s.gotSince = since
	return s.recentCount, s.recentErr
}

func (s *stubHistory) GetClientStats(_ context.Context, clientID string) (*stats.ClientStatistics, error) {
	return s.clientStats, s.statsErr
}

var evalTime = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func makeTransaction(amount float64, paymentType, location string) events.Transaction {
	return events.Transaction{
		TransactionID: "tx-1",
		ClientID:      "C1",
		Amount:        amount,
		Product:       "laptop",
		PaymentType:   paymentType,
		Location:      location,
		OccurredAt:    evalTime.Add(-time.Hour),
	}
}

func TestClassifyScenarios(t *testing.T) {
	tests := []struct {
		name    string
		tx      events.Transaction
		history *stubHistory
		want    []string
	}{
		{
			name:    "standard when nothing fires",
			tx:      makeTransaction(300, events.PaymentTypeOther, "Tunis"),
			history: &stubHistory{},
			want:    []string{LabelStandard},
		},
		{
			name:    "important and risky, not promotional",
			tx:      makeTransaction(900, events.PaymentTypeCard, "Sousse"),
			history: &stubHistory{},
			want:    []string{LabelImportantPurchase, LabelRiskyTransaction},
		},
		{
			name:    "card in Tunis is not risky",
			tx:      makeTransaction(600, events.PaymentTypeCard, "Tunis"),
			history: &stubHistory{},
			want:    []string{LabelStandard},
		},
		{
			name:    "cash over threshold is not risky",
			tx:      makeTransaction(600, events.PaymentTypeOther, "Sousse"),
			history: &stubHistory{},
			want:    []string{LabelStandard},
		},
		{
			name:    "promotional below hundred",
			tx:      makeTransaction(99.99, events.PaymentTypeOther, "Tunis"),
			history: &stubHistory{},
			want:    []string{LabelPromotionalPurchase},
		},
		{
			name:    "amount exactly at thresholds fires nothing",
			tx:      makeTransaction(800, events.PaymentTypeCard, "Tunis"),
			history: &stubHistory{},
			want:    []string{LabelStandard},
		},
		{
			name:    "recurring purchase",
			tx:      makeTransaction(300, events.PaymentTypeOther, "Tunis"),
			history: &stubHistory{recentCount: 2},
			want:    []string{LabelRecurringPurchase},
		},
		{
			name: "outlier against prior stats",
			tx:   makeTransaction(700, events.PaymentTypeOther, "Tunis"),
			history: &stubHistory{clientStats: &stats.ClientStatistics{
				ClientID:      "C1",
				AverageAmount: 200,
				StdDev:        81.65,
			}},
			want: []string{LabelOutlierTransaction},
		},
		{
			name: "within three std devs is not an outlier",
			tx:   makeTransaction(400, events.PaymentTypeOther, "Tunis"),
			history: &stubHistory{clientStats: &stats.ClientStatistics{
				ClientID:      "C1",
				AverageAmount: 200,
				StdDev:        81.65,
			}},
			want: []string{LabelStandard},
		},
		{
			name:    "first transaction never an outlier",
			tx:      makeTransaction(1000000, events.PaymentTypeOther, "Tunis"),
			history: &stubHistory{},
			want:    []string{LabelImportantPurchase},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := Classify(context.Background(), tt.tx, tt.history, evalTime)
			require.NoError(t, err)
			assert.Equal(t, tt.want, labels)
		})
	}
}

func TestClassifyNeverReturnsEmptyLabels(t *testing.T) {
	labels, err := Classify(context.Background(), makeTransaction(300, "", ""), &stubHistory{}, evalTime)
	require.NoError(t, err)
	require.NotEmpty(t, labels)
	assert.Equal(t, []string{LabelStandard}, labels)
}

func TestStandardNeverCombined(t *testing.T) {
	labels, err := Classify(context.Background(), makeTransaction(900, events.PaymentTypeCard, "Sousse"), &stubHistory{}, evalTime)
	require.NoError(t, err)
	assert.NotContains(t, labels, LabelStandard)
}

func TestRecurringWindowAnchoredAtEvaluationInstant(t *testing.T) {
	history := &stubHistory{}

	_, err := Classify(context.Background(), makeTransaction(300, events.PaymentTypeOther, "Tunis"), history, evalTime)
	require.NoError(t, err)

	assert.Equal(t, "C1", history.gotClientID)
	assert.Equal(t, "laptop", history.gotProduct)
	assert.Equal(t, evalTime.AddDate(0, -1, 0), history.gotSince)
}

func TestHistoryFailureFailsClassification(t *testing.T) {
	boom := errors.New("store unavailable")

	_, err := Classify(context.Background(), makeTransaction(300, events.PaymentTypeOther, "Tunis"),
		&stubHistory{recentErr: boom}, evalTime)
	require.ErrorIs(t, err, boom)

	_, err = Classify(context.Background(), makeTransaction(300, events.PaymentTypeOther, "Tunis"),
		&stubHistory{statsErr: boom}, evalTime)
	require.ErrorIs(t, err, boom)
}

func TestStatefulRulesRefuseNilHistory(t *testing.T) {
	_, err := Classify(context.Background(), makeTransaction(300, events.PaymentTypeOther, "Tunis"), nil, evalTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), LabelRecurringPurchase)
}

func TestStatelessRulesNeverSeeHistory(t *testing.T) {
	var seen []History
	ruleSet := []Rule{
		{
			Label: "stateless-capture",
			Evaluate: func(_ context.Context, _ events.Transaction, history History, _ time.Time) (bool, error) {
				seen = append(seen, history)
				return false, nil
			},
		},
		{
			Label:        "stateful-capture",
			NeedsHistory: true,
			Evaluate: func(_ context.Context, _ events.Transaction, history History, _ time.Time) (bool, error) {
				seen = append(seen, history)
				return false, nil
			},
		},
	}

	history := &stubHistory{}
	_, err := ClassifyWith(context.Background(), ruleSet, makeTransaction(300, events.PaymentTypeOther, "Tunis"), history, evalTime)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0], "a rule that does not declare history must not receive it")
	assert.Same(t, history, seen[1].(*stubHistory))
}

func TestDefaultRuleTags(t *testing.T) {
	ruleSet := Default()
	require.Len(t, ruleSet, 5)

	needsHistory := map[string]bool{}
	for _, r := range ruleSet {
		needsHistory[r.Label] = r.NeedsHistory
	}
	assert.False(t, needsHistory[LabelImportantPurchase])
	assert.True(t, needsHistory[LabelRecurringPurchase])
	assert.False(t, needsHistory[LabelRiskyTransaction])
	assert.True(t, needsHistory[LabelOutlierTransaction])
	assert.False(t, needsHistory[LabelPromotionalPurchase])
}
