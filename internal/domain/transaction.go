package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const MonthLayout = "2006-01"

// Transaction is one real-estate transaction row of the input dataset.
type Transaction struct {
	Date  time.Time `json:"date"`
	City  string    `json:"ville"`
	Type  string    `json:"type"`
	Model string    `json:"modele"`
	Price float64   `json:"prix"`
}

// Month returns the year-month bucket used for revenue grouping.
func (t Transaction) Month() string {
	return t.Date.UTC().Format(MonthLayout)
}

func EncodeRows(rows []Transaction) ([]byte, error) {
	if rows == nil {
		rows = []Transaction{}
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return encoded, nil
}

func DecodeRows(raw []byte) ([]Transaction, error) {
	var rows []Transaction
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if rows == nil {
		return nil, fmt.Errorf("%w: chunk payload is not a list", ErrInvalidPayload)
	}
	for i, row := range rows {
		if row.City == "" {
			return nil, fmt.Errorf("%w: row %d has no city", ErrInvalidPayload, i)
		}
		if row.Date.IsZero() {
			return nil, fmt.Errorf("%w: row %d has no date", ErrInvalidPayload, i)
		}
	}
	return rows, nil
}
