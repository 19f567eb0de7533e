package coordinator

import (
	"errors"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

var ErrInvalidWorkerCount = errors.New("worker count must be at least 1")

// SplitChunks cuts rows into contiguous windows of ceil(len/workers) rows.
// The last chunk may be shorter; an empty dataset yields no chunks.
func SplitChunks(rows []domain.Transaction, workerCount int) ([]domain.Chunk, error) {
	if workerCount < 1 {
		return nil, ErrInvalidWorkerCount
	}
	if len(rows) == 0 {
		return []domain.Chunk{}, nil
	}

	size := (len(rows) + workerCount - 1) / workerCount
	chunks := make([]domain.Chunk, 0, workerCount)
	for start, index := 0, 0; start < len(rows); start, index = start+size, index+1 {
		end := min(start+size, len(rows))
		chunks = append(chunks, domain.Chunk{Index: index, Rows: rows[start:end:end]})
	}
	return chunks, nil
}
