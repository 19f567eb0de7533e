// Package analytics computes the per-chunk aggregates and merges them into
// the job-wide report.
package analytics

import "github.com/iago/autoconnect-pipeline/internal/domain"

// ComputePartial runs the three chunk-level aggregations.
func ComputePartial(jobID string, chunkIndex int, rows []domain.Transaction) *domain.PartialResult {
	return &domain.PartialResult{
		JobID:          jobID,
		ChunkIndex:     chunkIndex,
		RowCount:       len(rows),
		MonthlyRevenue: MonthlyRevenueByCity(rows),
		TypeCounts:     TypeCountsByCity(rows),
		ModelCounts:    ModelCountsByCity(rows),
	}
}

// MonthlyRevenueByCity sums prices per (city, year-month).
func MonthlyRevenueByCity(rows []domain.Transaction) map[string]map[string]float64 {
	revenue := make(map[string]map[string]float64)
	for _, row := range rows {
		months, ok := revenue[row.City]
		if !ok {
			months = make(map[string]float64)
			revenue[row.City] = months
		}
		months[row.Month()] += row.Price
	}
	return revenue
}

// TypeCountsByCity counts rows per (city, transaction type).
func TypeCountsByCity(rows []domain.Transaction) map[string]map[string]int {
	return countBy(rows, func(row domain.Transaction) string { return row.Type })
}

// ModelCountsByCity counts rows per (city, model). The output is not truncated.
func ModelCountsByCity(rows []domain.Transaction) map[string]map[string]int {
	return countBy(rows, func(row domain.Transaction) string { return row.Model })
}

func countBy(rows []domain.Transaction, key func(domain.Transaction) string) map[string]map[string]int {
	counts := make(map[string]map[string]int)
	for _, row := range rows {
		values, ok := counts[row.City]
		if !ok {
			values = make(map[string]int)
			counts[row.City] = values
		}
		values[key(row)]++
	}
	return counts
}
