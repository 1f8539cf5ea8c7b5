package views

import (
	"fmt"
	"math"
	"time"

	"github.com/kjannette/pvpc-backend/internal/models"
)

const NoDataTip = "No hay datos de precios disponibles para generar recomendaciones."

const (
	RecommendIdeal    = "ideal"
	RecommendAvoid    = "avoid"
	RecommendSchedule = "schedule"
)

const (
	idealRatio = 0.8
	avoidRatio = 1.2
)

type Recommendation struct {
	Type              string  `json:"type"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	TimeRange         string  `json:"timeRange"`
	Percentage        string  `json:"percentage,omitempty"`
	Appliance         string  `json:"appliance"`
	SavingsPercentage float64 `json:"savingsPercentage,omitempty"`
}

type Recommendations struct {
	Recommendations []Recommendation `json:"recommendations"`
	DailyTip        string           `json:"dailyTip"`
}

// BuildRecommendations derives usage advice from today's series. now must be local time.
func BuildRecommendations(records []models.PriceRecord, now time.Time) Recommendations {
	if len(records) == 0 {
		return Recommendations{Recommendations: []Recommendation{}, DailyTip: NoDataTip}
	}
	rows := byHour(records)
	hour := now.Hour()
	avg := average(rows)

	current := rows[0]
	if r, ok := findHour(rows, hour); ok {
		current = r
	}
	cur := current.PriceFloat()

	recs := []Recommendation{}
	if avg > 0 && cur <= avg*idealRatio {
		gap := math.Round((avg - cur) / avg * 100)
		recs = append(recs, Recommendation{
			Type:              RecommendIdeal,
			Title:             "Momento ideal",
			Description:       "Pon la lavadora ahora",
			TimeRange:         "Próximas 2 horas",
			Percentage:        fmt.Sprintf("%.0f%%", gap),
			Appliance:         "lavadora",
			SavingsPercentage: gap,
		})
	}
	if avg > 0 && cur >= avg*avoidRatio {
		over := math.Round((cur - avg) / avg * 100)
		recs = append(recs, Recommendation{
			Type:        RecommendAvoid,
			Title:       "Evita consumir ahora",
			Description: "Retrasa el uso del horno y la secadora",
			TimeRange:   "Hora actual",
			Percentage:  fmt.Sprintf("+%.0f%%", over),
			Appliance:   "horno",
		})
	}

	var later []models.PriceRecord
	for _, r := range rows {
		if r.Hour > hour {
			later = append(later, r)
		}
	}
	if len(later) > 0 {
		best := cheapest(later)
		rec := Recommendation{
			Type:        RecommendSchedule,
			Title:       "Programa tu consumo",
			Description: fmt.Sprintf("Programa el lavavajillas a las %d:00", best.Hour),
			TimeRange:   fmt.Sprintf("%02d:00 - %02d:00", best.Hour, (best.Hour+1)%24),
			Appliance:   "lavavajillas",
		}
		if avg > 0 {
			rec.SavingsPercentage = math.Round((avg - best.PriceFloat()) / avg * 100)
		}
		recs = append(recs, rec)
	}

	return Recommendations{
		Recommendations: recs,
		DailyTip: fmt.Sprintf("Los precios más baratos serán a las %d:00 y los más caros a las %d:00.",
			cheapest(rows).Hour, priciest(rows).Hour),
	}
}

func cheapest(rows []models.PriceRecord) models.PriceRecord {
	best := rows[0]
	for _, r := range rows[1:] {
		if r.Price.LessThan(best.Price) {
			best = r
		}
	}
	return best
}

func priciest(rows []models.PriceRecord) models.PriceRecord {
	worst := rows[0]
	for _, r := range rows[1:] {
		if r.Price.GreaterThan(worst.Price) {
			worst = r
		}
	}
	return worst
}
