package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is the authoritative price for one hour of one calendar day.
// (Date, Hour) is unique in the store.
type PriceRecord struct {
	Date       time.Time       `json:"date"`
	Hour       int             `json:"hour"`
	Price      decimal.Decimal `json:"price"`
	IsFallback bool            `json:"isFallback"`
	Timestamp  time.Time       `json:"timestamp"`
}

// RawPriceEntry is a provider entry after normalization, before persistence.
type RawPriceEntry struct {
	Date  time.Time       `json:"date"`
	Hour  int             `json:"hour"`
	Price decimal.Decimal `json:"price"`
}

// Record converts a normalized provider entry into a fresh (non-fallback) record.
func (e RawPriceEntry) Record() PriceRecord {
	return PriceRecord{
		Date:  DayOf(e.Date),
		Hour:  e.Hour,
		Price: e.Price,
	}
}

// PriceFloat is the record price as float64, for derived computations.
func (p PriceRecord) PriceFloat() float64 {
	return p.Price.InexactFloat64()
}

// DailyStats is one row of the per-day aggregation.
type DailyStats struct {
	Day string  `json:"day"`
	Avg float64 `json:"avgPrice"`
	Min float64 `json:"minPrice"`
	Max float64 `json:"maxPrice"`
}

// CircuitBreakerState is a read-only snapshot of a breaker.
type CircuitBreakerState struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    uint32    `json:"failureCount"`
	SuccessCount    uint32    `json:"successCount"`
	LastFailureTime time.Time `json:"lastFailureTime"`
}

// ValidHour reports whether h is an hour of day.
func ValidHour(h int) bool {
	return h >= 0 && h <= 23
}
