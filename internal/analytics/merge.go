package analytics

import (
	"math"
	"sort"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

const TopModelsLimit = 5

// Merge folds partial results into one report. Partials are ordered by chunk
// index first so float sums come out identical whatever the arrival order.
func Merge(jobID string, partials []*domain.PartialResult) *domain.AggregatedResult {
	ordered := make([]*domain.PartialResult, 0, len(partials))
	for _, partial := range partials {
		if partial != nil {
			ordered = append(ordered, partial)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ChunkIndex < ordered[j].ChunkIndex
	})

	revenue := make(map[string]map[string]float64)
	typeCounts := make(map[string]map[string]int)
	modelCounts := make(map[string]map[string]int)

	for _, partial := range ordered {
		for city, months := range partial.MonthlyRevenue {
			merged, ok := revenue[city]
			if !ok {
				merged = make(map[string]float64)
				revenue[city] = merged
			}
			for month, amount := range months {
				merged[month] += amount
			}
		}
		addCounts(typeCounts, partial.TypeCounts)
		addCounts(modelCounts, partial.ModelCounts)
	}

	return &domain.AggregatedResult{
		JobID:           jobID,
		PartialCount:    len(ordered),
		MonthlyRevenue:  revenue,
		TypeCounts:      typeCounts,
		TypePercentages: Percentages(typeCounts),
		TopModels:       TopModels(modelCounts, TopModelsLimit),
	}
}

func addCounts(dst, src map[string]map[string]int) {
	for city, values := range src {
		merged, ok := dst[city]
		if !ok {
			merged = make(map[string]int)
			dst[city] = merged
		}
		for key, count := range values {
			merged[key] += count
		}
	}
}

// TopModels keeps the `limit` most frequent models per city, ties broken by
// ascending model name.
func TopModels(counts map[string]map[string]int, limit int) map[string][]domain.ModelCount {
	top := make(map[string][]domain.ModelCount, len(counts))
	for city, models := range counts {
		ranked := make([]domain.ModelCount, 0, len(models))
		for model, count := range models {
			ranked = append(ranked, domain.ModelCount{Model: model, Count: count})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Count != ranked[j].Count {
				return ranked[i].Count > ranked[j].Count
			}
			return ranked[i].Model < ranked[j].Model
		})
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		top[city] = ranked
	}
	return top
}

// Percentages derives the share of each transaction type per city, rounded to
// two decimals. Cities without any transaction get an empty map.
func Percentages(counts map[string]map[string]int) map[string]map[string]float64 {
	percentages := make(map[string]map[string]float64, len(counts))
	for city, types := range counts {
		total := 0
		for _, count := range types {
			total += count
		}
		shares := make(map[string]float64, len(types))
		percentages[city] = shares
		if total == 0 {
			continue
		}
		for kind, count := range types {
			shares[kind] = round2(100 * float64(count) / float64(total))
		}
	}
	return percentages
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
