package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PartialResult holds the three aggregates computed over a single chunk.
// Model counts are complete per chunk; ranking only happens after the merge.
type PartialResult struct {
	JobID          string                        `json:"job_id"`
	ChunkIndex     int                           `json:"chunk_index"`
	RowCount       int                           `json:"row_count"`
	MonthlyRevenue map[string]map[string]float64 `json:"ca_mensuel_ville"`
	TypeCounts     map[string]map[string]int     `json:"repartition_vente_location"`
	ModelCounts    map[string]map[string]int     `json:"modeles"`
}

type ModelCount struct {
	Model string `json:"modele"`
	Count int    `json:"count"`
}

// AggregatedResult is the job-wide merge of every partial result.
type AggregatedResult struct {
	JobID           string                        `json:"job_id"`
	GeneratedAt     time.Time                     `json:"generated_at"`
	PartialCount    int                           `json:"partial_count"`
	MonthlyRevenue  map[string]map[string]float64 `json:"ca_mensuel_ville"`
	TypeCounts      map[string]map[string]int     `json:"repartition_vente_location"`
	TypePercentages map[string]map[string]float64 `json:"pourcentage_vente_location"`
	TopModels       map[string][]ModelCount       `json:"top_models"`
}

func (p *PartialResult) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil partial result", ErrInvalidPayload)
	}
	if p.JobID == "" || p.ChunkIndex < 0 || p.RowCount < 0 {
		return fmt.Errorf("%w: partial result identity", ErrInvalidPayload)
	}
	if err := validateCounts(p.TypeCounts); err != nil {
		return err
	}
	return validateCounts(p.ModelCounts)
}

func (r *AggregatedResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil aggregated result", ErrInvalidPayload)
	}
	if r.JobID == "" {
		return fmt.Errorf("%w: aggregated result without job id", ErrInvalidPayload)
	}
	if err := validateCounts(r.TypeCounts); err != nil {
		return err
	}
	for city, models := range r.TopModels {
		if len(models) > 5 {
			return fmt.Errorf("%w: city %q has %d top models", ErrInvalidPayload, city, len(models))
		}
	}
	return nil
}

// TotalTransactions sums the per-type counts of every city.
func (r *AggregatedResult) TotalTransactions() int {
	total := 0
	for _, types := range r.TypeCounts {
		for _, count := range types {
			total += count
		}
	}
	return total
}

// Cities lists every city present in the report, sorted.
func (r *AggregatedResult) Cities() []string {
	seen := make(map[string]struct{})
	for city := range r.MonthlyRevenue {
		seen[city] = struct{}{}
	}
	for city := range r.TypeCounts {
		seen[city] = struct{}{}
	}
	cities := make([]string, 0, len(seen))
	for city := range seen {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}

func EncodePartialResult(result *PartialResult) ([]byte, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode partial result: %w", err)
	}
	return encoded, nil
}

func DecodePartialResult(raw []byte) (*PartialResult, error) {
	var result PartialResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

func EncodeAggregatedResult(result *AggregatedResult) ([]byte, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode aggregated result: %w", err)
	}
	return encoded, nil
}

func DecodeAggregatedResult(raw []byte) (*AggregatedResult, error) {
	var result AggregatedResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

func validateCounts(counts map[string]map[string]int) error {
	for city, values := range counts {
		for key, count := range values {
			if count < 0 {
				return fmt.Errorf("%w: negative count for %s/%s", ErrInvalidPayload, city, key)
			}
		}
	}
	return nil
}
