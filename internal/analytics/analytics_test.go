package analytics

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

func tx(date, city, kind, model string, price float64) domain.Transaction {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return domain.Transaction{Date: parsed, City: city, Type: kind, Model: model, Price: price}
}

func sampleRows() []domain.Transaction {
	return []domain.Transaction{
		tx("2024-01-03", "Paris", "vente", "Clio", 12000.5),
		tx("2024-01-20", "Paris", "vente", "Clio", 13000.25),
		tx("2024-02-11", "Paris", "location", "208", 450),
		tx("2024-02-14", "Lyon", "vente", "Golf", 18000),
		tx("2024-02-15", "Lyon", "vente", "Clio", 11000),
		tx("2024-03-01", "Lyon", "location", "Golf", 390.75),
		tx("2024-03-05", "Paris", "vente", "Zoe", 21000),
		tx("2024-03-09", "Marseille", "location", "208", 300),
		tx("2024-03-17", "Marseille", "vente", "Tesla 3", 38000.1),
		tx("2024-04-02", "Paris", "vente", "Clio", 9900.9),
	}
}

func TestComputePartialGroupsByCityAndMonth(t *testing.T) {
	partial := ComputePartial("job-1", 0, sampleRows())

	if partial.RowCount != 10 {
		t.Fatalf("expected 10 rows, got %d", partial.RowCount)
	}
	if got := partial.MonthlyRevenue["Paris"]["2024-01"]; got != 25000.75 {
		t.Fatalf("unexpected Paris January revenue %v", got)
	}
	if got := partial.TypeCounts["Lyon"]["vente"]; got != 2 {
		t.Fatalf("expected 2 Lyon sales, got %d", got)
	}
	if got := partial.ModelCounts["Paris"]["Clio"]; got != 3 {
		t.Fatalf("expected 3 Paris Clio, got %d", got)
	}
}

func TestComputePartialKeepsFullModelCounts(t *testing.T) {
	rows := make([]domain.Transaction, 0)
	for i := 0; i < 8; i++ {
		rows = append(rows, tx("2024-05-01", "Nice", "vente", fmt.Sprintf("model-%d", i), 1))
	}
	partial := ComputePartial("job-1", 0, rows)
	if len(partial.ModelCounts["Nice"]) != 8 {
		t.Fatalf("expected 8 models in chunk output, got %d", len(partial.ModelCounts["Nice"]))
	}
}

func splitPartials(rows []domain.Transaction, size int) []*domain.PartialResult {
	partials := make([]*domain.PartialResult, 0)
	for start, index := 0, 0; start < len(rows); start, index = start+size, index+1 {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		partials = append(partials, ComputePartial("job-1", index, rows[start:end]))
	}
	return partials
}

func TestMergeIsOrderIndependent(t *testing.T) {
	partials := splitPartials(sampleRows(), 3)

	forward := Merge("job-1", partials)
	reversed := make([]*domain.PartialResult, len(partials))
	for i := range partials {
		reversed[len(partials)-1-i] = partials[i]
	}
	backward := Merge("job-1", reversed)
	shuffled := Merge("job-1", []*domain.PartialResult{partials[2], partials[0], partials[3], partials[1]})

	if !reflect.DeepEqual(forward, backward) || !reflect.DeepEqual(forward, shuffled) {
		t.Fatalf("merge depends on partial order:\n%+v\n%+v", forward, backward)
	}
}

func TestMergeMatchesSingleChunkComputation(t *testing.T) {
	rows := sampleRows()
	whole := Merge("job-1", []*domain.PartialResult{ComputePartial("job-1", 0, rows)})
	chunked := Merge("job-1", splitPartials(rows, 4))

	if !reflect.DeepEqual(whole.TypeCounts, chunked.TypeCounts) {
		t.Fatalf("type counts differ: %v vs %v", whole.TypeCounts, chunked.TypeCounts)
	}
	if !reflect.DeepEqual(whole.TopModels, chunked.TopModels) {
		t.Fatalf("top models differ: %v vs %v", whole.TopModels, chunked.TopModels)
	}
	if chunked.TotalTransactions() != 10 {
		t.Fatalf("expected 10 transactions, got %d", chunked.TotalTransactions())
	}
	for city, months := range whole.MonthlyRevenue {
		for month, amount := range months {
			if math.Abs(chunked.MonthlyRevenue[city][month]-amount) > 1e-6 {
				t.Fatalf("revenue %s/%s differs: %v vs %v", city, month, amount, chunked.MonthlyRevenue[city][month])
			}
		}
	}
}

func TestMergeTreatsMissingCitiesAsZero(t *testing.T) {
	left := ComputePartial("job-1", 0, []domain.Transaction{tx("2024-01-01", "Paris", "vente", "Clio", 10)})
	right := ComputePartial("job-1", 1, []domain.Transaction{tx("2024-02-01", "Lyon", "vente", "Clio", 5)})

	merged := Merge("job-1", []*domain.PartialResult{left, nil, right})
	if merged.PartialCount != 2 {
		t.Fatalf("expected nil partial to be skipped, got count %d", merged.PartialCount)
	}
	if merged.MonthlyRevenue["Paris"]["2024-01"] != 10 || merged.MonthlyRevenue["Lyon"]["2024-02"] != 5 {
		t.Fatalf("unexpected revenue %v", merged.MonthlyRevenue)
	}
	if _, ok := merged.MonthlyRevenue["Paris"]["2024-02"]; ok {
		t.Fatalf("expected no revenue entry for absent month")
	}
}

func TestPercentagesForSalesAndRentals(t *testing.T) {
	percentages := Percentages(map[string]map[string]int{
		"Paris": {"vente": 3, "location": 1},
	})
	if percentages["Paris"]["vente"] != 75.0 || percentages["Paris"]["location"] != 25.0 {
		t.Fatalf("unexpected percentages %v", percentages["Paris"])
	}
}

func TestPercentagesSumToHundred(t *testing.T) {
	merged := Merge("job-1", splitPartials(sampleRows(), 2))
	merged.TypeCounts["Bordeaux"] = map[string]int{"vente": 1, "location": 1, "leasing": 1}
	percentages := Percentages(merged.TypeCounts)

	for city, shares := range percentages {
		sum := 0.0
		for _, share := range shares {
			sum += share
		}
		if math.Abs(sum-100) > 0.01+1e-9 {
			t.Fatalf("percentages for %s sum to %v", city, sum)
		}
	}
}

func TestPercentagesEmptyCityHasNoShares(t *testing.T) {
	percentages := Percentages(map[string]map[string]int{"Ghost": {}})
	if shares, ok := percentages["Ghost"]; !ok || len(shares) != 0 {
		t.Fatalf("expected empty share map, got %v", percentages)
	}
}

func TestTopModelsRanksAfterGlobalSum(t *testing.T) {
	// "Rare" never leads a single chunk but leads the merged count.
	partials := []*domain.PartialResult{
		{JobID: "job-1", ChunkIndex: 0, ModelCounts: map[string]map[string]int{"Paris": {"A": 3, "B": 3, "C": 3, "D": 3, "E": 3, "Rare": 2}}},
		{JobID: "job-1", ChunkIndex: 1, ModelCounts: map[string]map[string]int{"Paris": {"F": 3, "G": 3, "H": 3, "I": 3, "J": 3, "Rare": 2}}},
		{JobID: "job-1", ChunkIndex: 2, ModelCounts: map[string]map[string]int{"Paris": {"K": 1, "Rare": 2}}},
	}
	merged := Merge("job-1", partials)
	top := merged.TopModels["Paris"]

	if len(top) != TopModelsLimit {
		t.Fatalf("expected %d models, got %d", TopModelsLimit, len(top))
	}
	if top[0].Model != "Rare" || top[0].Count != 6 {
		t.Fatalf("expected Rare to lead with 6, got %+v", top[0])
	}
	for i := 1; i < len(top); i++ {
		if top[i-1].Count < top[i].Count {
			t.Fatalf("top models not sorted by count: %+v", top)
		}
	}
}

func TestTopModelsBreaksTiesByName(t *testing.T) {
	top := TopModels(map[string]map[string]int{
		"Lyon": {"Zoe": 2, "Clio": 2, "Golf": 2, "Arona": 2, "Megane": 2, "Captur": 2, "Polo": 5},
	}, 5)

	want := []domain.ModelCount{
		{Model: "Polo", Count: 5},
		{Model: "Arona", Count: 2},
		{Model: "Captur", Count: 2},
		{Model: "Clio", Count: 2},
		{Model: "Golf", Count: 2},
	}
	if !reflect.DeepEqual(top["Lyon"], want) {
		t.Fatalf("unexpected ranking %+v", top["Lyon"])
	}
}

func TestMergeWithoutPartialsIsEmpty(t *testing.T) {
	merged := Merge("job-empty", nil)
	if merged.TotalTransactions() != 0 || len(merged.MonthlyRevenue) != 0 || len(merged.TopModels) != 0 {
		t.Fatalf("expected empty report, got %+v", merged)
	}
	if merged.MonthlyRevenue == nil || merged.TypePercentages == nil || merged.TopModels == nil {
		t.Fatalf("expected non-nil empty maps")
	}
}
