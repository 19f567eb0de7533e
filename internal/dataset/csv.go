package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

var (
	ErrEmptySource     = errors.New("data source has no header")
	ErrMalformedRecord = errors.New("malformed record")
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// columnAliases maps accepted header names onto the canonical columns.
var columnAliases = map[string]string{
	"date":   "date",
	"ville":  "ville",
	"city":   "ville",
	"type":   "type",
	"modele": "modele",
	"modèle": "modele",
	"model":  "modele",
	"prix":   "prix",
	"price":  "prix",
}

var requiredColumns = []string{"date", "ville", "type", "modele", "prix"}

// DecodeCSV reads a header row followed by transaction rows. A header with no
// rows yields an empty, non-nil slice.
func DecodeCSV(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptySource
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Transaction, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		line, _ := reader.FieldPos(0)

		row, err := parseRecord(record, index)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, line, err)
		}
		rows = append(rows, row)
	}
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(requiredColumns))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		name = strings.Trim(name, `"`)
		if canonical, ok := columnAliases[name]; ok {
			if _, seen := index[canonical]; !seen {
				index[canonical] = i
			}
		}
	}
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedRecord, column)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int) (domain.Transaction, error) {
	field := func(column string) string {
		return strings.TrimSpace(record[index[column]])
	}

	date, err := parseDate(field("date"))
	if err != nil {
		return domain.Transaction{}, err
	}
	city := field("ville")
	if city == "" {
		return domain.Transaction{}, errors.New("empty city")
	}
	price, err := strconv.ParseFloat(field("prix"), 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("price %q: %w", field("prix"), err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return domain.Transaction{}, fmt.Errorf("price %q is not a finite number", field("prix"))
	}

	return domain.Transaction{
		Date:  date,
		City:  city,
		Type:  field("type"),
		Model: field("modele"),
		Price: price,
	}, nil
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q does not match a known layout", value)
}
