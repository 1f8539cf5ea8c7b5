package views

import (
	"fmt"
	"time"

	"github.com/kjannette/pvpc-backend/internal/models"
)

type Level string

const (
	LevelLow      Level = "bajo"
	LevelMedium   Level = "medio"
	LevelHigh     Level = "alto"
	LevelVeryHigh Level = "muy-alto"
)

const currencyEUR = "EUR"

type HourlyPrice struct {
	Timestamp time.Time `json:"timestamp"`
	Hour      string    `json:"hour"`
	Price     float64   `json:"price"`
	Level     Level     `json:"level"`
	Currency  string    `json:"currency"`
}

type HourlyPrices struct {
	Prices  []HourlyPrice `json:"prices"`
	Average float64       `json:"average"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
}

// LevelFor buckets price into quartiles of [min, max]; each upper bound is inclusive.
func LevelFor(price, min, max float64) Level {
	q := (max - min) / 4
	switch {
	case price <= min+q:
		return LevelLow
	case price <= min+2*q:
		return LevelMedium
	case price <= min+3*q:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}

// FixedLevel classifies a price against absolute €/kWh thresholds,
// for contexts without a period to compare against.
func FixedLevel(price float64) Level {
	switch {
	case price < 0.10:
		return LevelLow
	case price < 0.15:
		return LevelMedium
	case price < 0.20:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}

// BuildHourly levels every record against the min/max of the whole input.
// Empty input yields a zero result with an empty series.
func BuildHourly(records []models.PriceRecord) HourlyPrices {
	if len(records) == 0 {
		return HourlyPrices{Prices: []HourlyPrice{}}
	}
	rows := byHour(records)

	lo, hi := rows[0].PriceFloat(), rows[0].PriceFloat()
	for _, r := range rows[1:] {
		p := r.PriceFloat()
		lo = min(lo, p)
		hi = max(hi, p)
	}

	out := HourlyPrices{
		Prices:  make([]HourlyPrice, 0, len(rows)),
		Average: round(average(rows), 3),
		Min:     round(lo, 3),
		Max:     round(hi, 3),
	}
	for _, r := range rows {
		p := r.PriceFloat()
		out.Prices = append(out.Prices, HourlyPrice{
			Timestamp: models.DayOf(r.Date).Add(time.Duration(r.Hour) * time.Hour),
			Hour:      fmt.Sprintf("%02d", r.Hour),
			Price:     p,
			Level:     LevelFor(p, lo, hi),
			Currency:  currencyEUR,
		})
	}
	return out
}
