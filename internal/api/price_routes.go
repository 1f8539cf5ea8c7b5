package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/views"
)

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	records, err := s.prices.TodayPrices(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("fetch today's prices")
		writeError(w, http.StatusInternalServerError, "failed to fetch prices")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) handleTomorrow(w http.ResponseWriter, r *http.Request) {
	records, err := s.prices.TomorrowPrices(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("fetch tomorrow's prices")
		writeError(w, http.StatusInternalServerError, "failed to fetch prices")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(r, 7)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
		return
	}
	records, err := s.prices.History(r.Context(), days)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int("days", days).Msg("fetch price history")
		writeError(w, http.StatusInternalServerError, "failed to fetch price history")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(r, 30)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
		return
	}
	stats, err := s.prices.Stats(r.Context(), days)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int("days", days).Msg("fetch price stats")
		writeError(w, http.StatusInternalServerError, "failed to fetch price stats")
		return
	}
	if stats == nil {
		stats = []models.DailyStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.prices.DashboardStats(r.Context())
	if errors.Is(err, views.ErrNoDataAvailable) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("compute dashboard stats")
		writeError(w, http.StatusInternalServerError, "failed to compute dashboard stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	period := models.ParsePeriod(r.URL.Query().Get("period"))
	hourly, err := s.prices.HourlyPrices(r.Context(), period)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("period", string(period)).Msg("fetch hourly prices")
		writeError(w, http.StatusInternalServerError, "failed to fetch hourly prices")
		return
	}
	writeJSON(w, http.StatusOK, hourly)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.prices.Recommendations(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("build recommendations")
		writeError(w, http.StatusInternalServerError, "failed to build recommendations")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleLatestLevel(w http.ResponseWriter, r *http.Request) {
	level, err := s.prices.LatestPriceLevel(r.Context())
	if errors.Is(err, views.ErrNoDataAvailable) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("fetch latest price level")
		writeError(w, http.StatusInternalServerError, "failed to fetch latest price level")
		return
	}
	writeJSON(w, http.StatusOK, level)
}

type fetchResponse struct {
	Message string `json:"message"`
	Saved   int    `json:"saved"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	saved, err := s.ingestion.RunNow(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("manual price fetch")
		writeError(w, http.StatusBadGateway, "price update failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fetchResponse{Message: "Prices updated successfully", Saved: saved})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ingestion.Status())
}

func nonNil(records []models.PriceRecord) []models.PriceRecord {
	if records == nil {
		return []models.PriceRecord{}
	}
	return records
}
