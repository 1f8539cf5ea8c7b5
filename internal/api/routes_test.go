package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/pvpc-backend/internal/metrics"
	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/prices"
	"github.com/kjannette/pvpc-backend/internal/scheduler"
	"github.com/kjannette/pvpc-backend/internal/views"
)

type fakePrices struct {
	today       []models.PriceRecord
	dashErr     error
	historyDays int
	period      models.Period
}

func (f *fakePrices) TodayPrices(context.Context) ([]models.PriceRecord, error) { return f.today, nil }

func (f *fakePrices) TomorrowPrices(context.Context) ([]models.PriceRecord, error) { return nil, nil }

func (f *fakePrices) History(_ context.Context, days int) ([]models.PriceRecord, error) {
	f.historyDays = days
	return f.today, nil
}

func (f *fakePrices) Stats(context.Context, int) ([]models.DailyStats, error) {
	return []models.DailyStats{{Day: "2025-10-06", Avg: 0.12, Min: 0.05, Max: 0.25}}, nil
}

func (f *fakePrices) DashboardStats(context.Context) (views.DashboardStats, error) {
	if f.dashErr != nil {
		return views.DashboardStats{}, f.dashErr
	}
	return views.DashboardStats{CurrentPrice: 0.12, ComparisonType: views.ComparisonFixedTariff}, nil
}

func (f *fakePrices) HourlyPrices(_ context.Context, p models.Period) (views.HourlyPrices, error) {
	f.period = p
	return views.BuildHourly(f.today), nil
}

func (f *fakePrices) Recommendations(context.Context) (views.Recommendations, error) {
	return views.BuildRecommendations(f.today, time.Now()), nil
}

func (f *fakePrices) LatestPriceLevel(ctx context.Context) (prices.PriceLevel, error) {
	if f.dashErr != nil {
		return prices.PriceLevel{}, f.dashErr
	}
	return prices.PriceLevel{CurrentPrice: 0.12, Level: views.LevelMedium}, nil
}

type fakeIngestion struct {
	err    error
	status scheduler.Status
}

func (f *fakeIngestion) RunNow(context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 24, nil
}

func (f *fakeIngestion) Status() scheduler.Status { return f.status }

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

func newTestServer(p *fakePrices, ing *fakeIngestion, db Pinger) http.Handler {
	m := metrics.New()
	s := NewServer(Deps{Prices: p, Ingestion: ing, DB: db, Metrics: m.Handler()}, 0, "*", "test", zerolog.Nop())
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
	}
	return rr
}

func sampleDay() []models.PriceRecord {
	day := time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)
	return []models.PriceRecord{
		{Date: day, Hour: 0, Price: decimal.RequireFromString("0.09")},
		{Date: day, Hour: 1, Price: decimal.RequireFromString("0.12")},
	}
}

func TestToday(t *testing.T) {
	h := newTestServer(&fakePrices{today: sampleDay()}, &fakeIngestion{}, fakeDB{})

	var got []map[string]any
	rr := do(t, h, http.MethodGet, "/v1/prices/today", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, got, 2)
	assert.Equal(t, "0.09", got[0]["price"])
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestTomorrow_EmptyIsArray(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	rr := do(t, h, http.MethodGet, "/v1/prices/tomorrow", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHistory_DaysParam(t *testing.T) {
	p := &fakePrices{}
	h := newTestServer(p, &fakeIngestion{}, fakeDB{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/prices/history?days=14", nil).Code)
	assert.Equal(t, 14, p.historyDays)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/prices/history", nil).Code)
	assert.Equal(t, 7, p.historyDays)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/prices/history?days=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/prices/stats?days=999", nil).Code)
}

func TestStats(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	var got []models.DailyStats
	rr := do(t, h, http.MethodGet, "/v1/prices/stats", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, got, 1)
	assert.Equal(t, 0.25, got[0].Max)
}

func TestDashboardStats(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	var got views.DashboardStats
	rr := do(t, h, http.MethodGet, "/v1/prices/dashboard-stats", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0.12, got.CurrentPrice)
}

func TestDashboardStats_NoDataIs404(t *testing.T) {
	h := newTestServer(&fakePrices{dashErr: views.ErrNoDataAvailable}, &fakeIngestion{}, fakeDB{})

	var body map[string]string
	rr := do(t, h, http.MethodGet, "/v1/prices/dashboard-stats", &body)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, views.ErrNoDataAvailable.Error(), body["error"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/prices/latest-level", nil).Code)
}

func TestDashboardStats_OtherErrorIs500(t *testing.T) {
	h := newTestServer(&fakePrices{dashErr: errors.New("db down")}, &fakeIngestion{}, fakeDB{})
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/v1/prices/dashboard-stats", nil).Code)
}

func TestHourly_PeriodParam(t *testing.T) {
	p := &fakePrices{today: sampleDay()}
	h := newTestServer(p, &fakeIngestion{}, fakeDB{})

	var got views.HourlyPrices
	rr := do(t, h, http.MethodGet, "/v1/prices/hourly?period=week", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.PeriodWeek, p.period)
	assert.Len(t, got.Prices, 2)

	do(t, h, http.MethodGet, "/v1/prices/hourly?period=year", nil)
	assert.Equal(t, models.PeriodToday, p.period)
}

func TestRecommendations_Empty(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	var got views.Recommendations
	rr := do(t, h, http.MethodGet, "/v1/prices/recommendations", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, views.NoDataTip, got.DailyTip)
}

func TestLatestLevel(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	var got prices.PriceLevel
	do(t, h, http.MethodGet, "/v1/prices/latest-level", &got)
	assert.Equal(t, views.LevelMedium, got.Level)
}

func TestFetch(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	var got fetchResponse
	rr := do(t, h, http.MethodPost, "/v1/prices/fetch", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 24, got.Saved)
	assert.Equal(t, "Prices updated successfully", got.Message)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/v1/prices/fetch", nil).Code)
}

func TestFetch_Failure(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{err: errors.New("upstream down")}, fakeDB{})
	rr := do(t, h, http.MethodPost, "/v1/prices/fetch", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "upstream down")
}

func TestSchedulerStatus(t *testing.T) {
	ing := &fakeIngestion{status: scheduler.Status{State: scheduler.StateSucceeded, Timezone: "Europe/Madrid"}}
	h := newTestServer(&fakePrices{}, ing, fakeDB{})

	var got map[string]any
	do(t, h, http.MethodGet, "/v1/scheduler/status", &got)
	assert.Equal(t, "succeeded", got["state"])
	assert.Equal(t, "Europe/Madrid", got["timezone"])
}

func TestHealth(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	ing := &fakeIngestion{status: scheduler.Status{
		LastSuccess:    &recent,
		CircuitBreaker: models.CircuitBreakerState{Name: "ree", State: "CLOSED"},
	}}
	h := newTestServer(&fakePrices{}, ing, fakeDB{})

	var got healthResponse
	rr := do(t, h, http.MethodGet, "/health", &got)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, statusUp, got.Services.Database.Status)
	assert.Equal(t, "test", got.Version)
}

func TestHealth_Unhealthy(t *testing.T) {
	ing := &fakeIngestion{status: scheduler.Status{
		CircuitBreaker: models.CircuitBreakerState{Name: "ree", State: "OPEN", FailureCount: 5},
	}}
	h := newTestServer(&fakePrices{}, ing, fakeDB{err: errors.New("refused")})

	var got healthResponse
	do(t, h, http.MethodGet, "/health", &got)
	assert.Equal(t, "unhealthy", got.Status)
	assert.Equal(t, statusDown, got.Services.Database.Status)
	assert.Equal(t, statusDown, got.Services.ExternalAPI.Status)
	assert.Equal(t, statusDegraded, got.Services.CronJobs.Status)
}

func TestReadiness(t *testing.T) {
	ok := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	assert.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/health/ready", nil).Code)

	down := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{err: errors.New("refused")})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/health/ready", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, down, http.MethodGet, "/health/live", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakePrices{}, &fakeIngestion{}, fakeDB{})
	rr := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pvpc_fallback_applied_total")
}
