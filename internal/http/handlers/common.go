package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iago/autoconnect-pipeline/internal/http/middleware"
	"github.com/iago/autoconnect-pipeline/internal/service"
	"github.com/sirupsen/logrus"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	jobsService *service.JobsService
	updates     *UpdatesHub
	idempotency *idempotencyStore
	upgrader    websocket.Upgrader
	logger      logrus.FieldLogger
}

// NewAPI builds the handler set. allowedOrigins also gates websocket
// upgrades; an empty list or "*" accepts every origin.
func NewAPI(jobsService *service.JobsService, updates *UpdatesHub, allowedOrigins []string, logger logrus.FieldLogger) *API {
	return &API{
		jobsService: jobsService,
		updates:     updates,
		idempotency: newIdempotencyStore(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.WithField("component", "http"),
	}
}

type processRequest struct {
	DataSource  string `json:"data_source,omitempty"`
	WorkerCount int    `json:"worker_count,omitempty"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// decodeJSON accepts an empty body as the zero value.
func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   createdAt,
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
