package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/service"
)

// MonthlyRevenue serves GET /api/ca-mensuel?ville=&mois=YYYY-MM.
func (api *API) MonthlyRevenue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	month := strings.TrimSpace(query.Get("mois"))
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "mois must be YYYY-MM")
			return
		}
	}

	revenue, err := api.jobsService.MonthlyRevenue(r.Context(), strings.TrimSpace(query.Get("ville")), month)
	if err != nil {
		api.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revenue)
}

// TypeDistribution serves GET /api/repartition?ville=&format=percentage.
func (api *API) TypeDistribution(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	percentage := strings.EqualFold(strings.TrimSpace(query.Get("format")), "percentage")

	distribution, err := api.jobsService.TypeDistribution(r.Context(), strings.TrimSpace(query.Get("ville")), percentage)
	if err != nil {
		api.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, distribution)
}

func (api *API) TopModels(w http.ResponseWriter, r *http.Request) {
	models, err := api.jobsService.TopModels(r.Context(), strings.TrimSpace(r.URL.Query().Get("ville")))
	if err != nil {
		api.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (api *API) Cities(w http.ResponseWriter, r *http.Request) {
	cities, err := api.jobsService.Cities(r.Context())
	if err != nil {
		api.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"villes": cities})
}

func (api *API) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrNoResult) {
		writeError(w, r, http.StatusNotFound, "no_result", "no result available")
		return
	}
	api.logger.WithError(err).Error("cannot load latest result")
	writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load latest result")
}
