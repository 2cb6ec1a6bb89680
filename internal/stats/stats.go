package stats

import (
	"math"
	"time"
)

// ClientStatistics is the per-client aggregate row maintained by the storage
// service. AverageAmount and StdDev are always derived from the full stored
// transaction set for the client, never from a partial update.
type ClientStatistics struct {
	ClientID          string    `json:"client_id"`
	TransactionCount  int64     `json:"transaction_count"`
	TotalAmount       float64   `json:"total_amount"`
	AverageAmount     float64   `json:"average_amount"`
	StdDev            float64   `json:"std_dev"`
	LastTransactionAt time.Time `json:"last_transaction_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func Sum(amounts []float64) float64 {
	var total float64
	for _, a := range amounts {
		total += a
	}
	return total
}

func Mean(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	return Sum(amounts) / float64(len(amounts))
}

// PopulationStdDev computes the standard deviation over the entire value set,
// not a sample estimate.
func PopulationStdDev(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}

	mean := Mean(amounts)
	var variance float64
	for _, a := range amounts {
		variance += math.Pow(a-mean, 2)
	}

	return math.Sqrt(variance / float64(len(amounts)))
}

// Compute rebuilds a full ClientStatistics row from the complete set of
// stored amounts for one client.
func Compute(clientID string, amounts []float64, lastTransactionAt time.Time) ClientStatistics {
	return ClientStatistics{
		ClientID:          clientID,
		TransactionCount:  int64(len(amounts)),
		TotalAmount:       Sum(amounts),
		AverageAmount:     Mean(amounts),
		StdDev:            PopulationStdDev(amounts),
		LastTransactionAt: lastTransactionAt,
		UpdatedAt:         time.Now().UTC(),
	}
}
