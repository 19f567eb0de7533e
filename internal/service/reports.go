package service

import (
	"context"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

// MonthlyRevenue returns revenue per city and month from the latest report.
// An unknown city yields an empty map; a month filter keeps every selected
// city, with an empty map where the month is absent.
func (s *JobsService) MonthlyRevenue(ctx context.Context, city, month string) (map[string]map[string]float64, error) {
	latest, err := s.GetLatestResult(ctx)
	if err != nil {
		return nil, err
	}

	revenue := filterCity(latest.MonthlyRevenue, city)
	if month == "" {
		return revenue, nil
	}
	filtered := make(map[string]map[string]float64, len(revenue))
	for name, months := range revenue {
		filtered[name] = map[string]float64{}
		if amount, ok := months[month]; ok {
			filtered[name][month] = amount
		}
	}
	return filtered, nil
}

// TypeDistribution returns raw counts, or rounded percentages when asked.
func (s *JobsService) TypeDistribution(ctx context.Context, city string, percentage bool) (any, error) {
	latest, err := s.GetLatestResult(ctx)
	if err != nil {
		return nil, err
	}
	if percentage {
		return filterCity(latest.TypePercentages, city), nil
	}
	return filterCity(latest.TypeCounts, city), nil
}

func (s *JobsService) TopModels(ctx context.Context, city string) (map[string][]domain.ModelCount, error) {
	latest, err := s.GetLatestResult(ctx)
	if err != nil {
		return nil, err
	}
	return filterCity(latest.TopModels, city), nil
}

func (s *JobsService) Cities(ctx context.Context) ([]string, error) {
	latest, err := s.GetLatestResult(ctx)
	if err != nil {
		return nil, err
	}
	return latest.Cities(), nil
}

func filterCity[V any](byCity map[string]V, city string) map[string]V {
	if byCity == nil {
		byCity = map[string]V{}
	}
	if city == "" {
		return byCity
	}
	value, ok := byCity[city]
	if !ok {
		return map[string]V{}
	}
	return map[string]V{city: value}
}
