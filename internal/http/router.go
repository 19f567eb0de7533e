package httpserver

import (
	"net/http"

	"github.com/iago/autoconnect-pipeline/internal/http/handlers"
	"github.com/iago/autoconnect-pipeline/internal/http/middleware"
	"github.com/sirupsen/logrus"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         logrus.FieldLogger
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", deps.API.Health)

	mux.HandleFunc("GET /api/ca-mensuel", deps.API.MonthlyRevenue)
	mux.HandleFunc("GET /api/repartition", deps.API.TypeDistribution)
	mux.HandleFunc("GET /api/top-modeles", deps.API.TopModels)
	mux.HandleFunc("GET /api/villes", deps.API.Cities)

	mux.HandleFunc("POST /api/process", deps.API.Process)
	mux.HandleFunc("GET /api/jobs/{id}", deps.API.JobStatus)
	mux.HandleFunc("GET /api/jobs/{id}/results", deps.API.JobResult)
	mux.HandleFunc("GET /api/results/latest", deps.API.LatestResult)
	mux.HandleFunc("GET /api/ws/jobs", deps.API.JobUpdates)

	handler := http.Handler(mux)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:            deps.RateLimitRPS,
		Burst:          deps.RateLimitBurst,
		ExemptPrefixes: []string{"/healthz", "/api/ws/"},
	})(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
