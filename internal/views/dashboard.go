// Package views computes the derived price views served to clients.
// Every function is pure: records in, view out.
package views

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/kjannette/pvpc-backend/internal/models"
)

var ErrNoDataAvailable = errors.New("no hay datos de precios disponibles")

const ComparisonFixedTariff = "tarifa fija"

type DashboardStats struct {
	CurrentPrice          float64   `json:"currentPrice"`
	NextHourPrice         float64   `json:"nextHourPrice"`
	PriceChangePercentage float64   `json:"priceChangePercentage"`
	MonthlySavings        float64   `json:"monthlySavings"`
	ComparisonType        string    `json:"comparisonType"`
	LastUpdated           time.Time `json:"lastUpdated"`
	IsFallback            bool      `json:"isFallback"`
}

// BuildDashboard computes the dashboard for one day's records. now must already be
// in the local timezone: its hour selects the current row.
func BuildDashboard(records []models.PriceRecord, now time.Time, fixedTariff float64) (DashboardStats, error) {
	if len(records) == 0 {
		return DashboardStats{}, ErrNoDataAvailable
	}
	rows := byHour(records)
	hour := now.Hour()

	current := rows[0]
	if r, ok := findHour(rows, hour); ok {
		current = r
	}
	var next float64
	if r, ok := findHour(rows, hour+1); ok {
		next = r.PriceFloat()
	} else if len(rows) > 1 {
		next = rows[1].PriceFloat()
	}

	cur := current.PriceFloat()
	var change float64
	if next > 0 && cur != 0 {
		change = (next - cur) / cur * 100
	}

	var savings float64
	if fixedTariff > 0 {
		savings = (fixedTariff - average(rows)) / fixedTariff * 100
	}

	return DashboardStats{
		CurrentPrice:          cur,
		NextHourPrice:         next,
		PriceChangePercentage: round(change, 2),
		MonthlySavings:        round(savings, 2),
		ComparisonType:        ComparisonFixedTariff,
		LastUpdated:           now,
		IsFallback:            slices.ContainsFunc(rows, func(r models.PriceRecord) bool { return r.IsFallback }),
	}, nil
}

// --- helpers ---

func byHour(records []models.PriceRecord) []models.PriceRecord {
	rows := slices.Clone(records)
	slices.SortStableFunc(rows, func(a, b models.PriceRecord) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return a.Hour - b.Hour
	})
	return rows
}

func findHour(rows []models.PriceRecord, hour int) (models.PriceRecord, bool) {
	for _, r := range rows {
		if r.Hour == hour {
			return r, true
		}
	}
	return models.PriceRecord{}, false
}

func average(rows []models.PriceRecord) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += r.PriceFloat()
	}
	return sum / float64(len(rows))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
