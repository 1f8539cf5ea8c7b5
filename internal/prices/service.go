package prices

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/pvpc-backend/internal/cache"
	"github.com/kjannette/pvpc-backend/internal/metrics"
	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/resilience"
	"github.com/kjannette/pvpc-backend/internal/views"
)

var ErrNoHistory = errors.New("no historical price data to fall back on")

// Store is the persistence the service needs; repository.PriceRepo implements it.
type Store interface {
	Upsert(ctx context.Context, rec models.PriceRecord) error
	FindByDateRange(ctx context.Context, start, end time.Time) ([]models.PriceRecord, error)
	FindForDate(ctx context.Context, day time.Time) ([]models.PriceRecord, error)
	CountForDate(ctx context.Context, day time.Time) (int, error)
	FindLatestDay(ctx context.Context, before time.Time) ([]models.PriceRecord, error)
	AggregateDailyStats(ctx context.Context, since time.Time) ([]models.DailyStats, error)
}

// Fetcher returns normalized upstream entries; external.Source implements it.
type Fetcher interface {
	FetchPriceData(ctx context.Context) ([]models.RawPriceEntry, error)
}

type Options struct {
	Location    *time.Location
	FixedTariff float64
	TTLs        cache.TTLs
	Retry       resilience.Options
	Now         func() time.Time
}

// PriceLevel is the current price as exposed to push clients.
type PriceLevel struct {
	CurrentPrice float64     `json:"currentPrice"`
	Level        views.Level `json:"level"`
	Timestamp    time.Time   `json:"timestamp"`
	IsFallback   bool        `json:"isFallback"`
}

type Service struct {
	fetcher Fetcher
	exec    *resilience.Executor
	store   Store
	cache   cache.Cache
	metrics *metrics.Metrics
	opts    Options
	log     zerolog.Logger
}

func NewService(fetcher Fetcher, exec *resilience.Executor, store Store, c cache.Cache, m *metrics.Metrics, opts Options, log zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.FixedTariff <= 0 {
		opts.FixedTariff = 0.20
	}
	if opts.TTLs == (cache.TTLs{}) {
		opts.TTLs = cache.DefaultTTLs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		fetcher: fetcher,
		exec:    exec,
		store:   store,
		cache:   c,
		metrics: m,
		opts:    opts,
		log:     log,
	}
}

func (s *Service) localNow() time.Time { return s.opts.Now().In(s.opts.Location) }

func (s *Service) today() time.Time { return models.Today(s.opts.Now(), s.opts.Location) }

func (s *Service) Breaker() models.CircuitBreakerState { return s.exec.Status() }

// --- write path ---

// FetchFromExternal pulls the provider chain through the retry and breaker envelope.
func (s *Service) FetchFromExternal(ctx context.Context) ([]models.RawPriceEntry, error) {
	start := time.Now()
	s.log.Info().Msg("price fetch started")

	entries, err := resilience.Retry(ctx, s.exec, s.fetcher.FetchPriceData, s.opts.Retry)
	if err != nil {
		s.log.Error().Err(err).Dur("duration", time.Since(start)).Msg("price fetch failed")
		return nil, err
	}

	s.log.Info().Int("count", len(entries)).Dur("duration", time.Since(start)).Msg("price fetch completed")
	return entries, nil
}

// SavePrices upserts each record independently and returns how many were written.
// A failed record is logged and skipped. Any successful write invalidates every cached view.
func (s *Service) SavePrices(ctx context.Context, records []models.PriceRecord) int {
	start := time.Now()
	saved := 0

	days := make([]string, 0, 2)
	for _, r := range records {
		if k := models.DayKey(r.Date); !slices.Contains(days, k) {
			days = append(days, k)
		}
	}
	s.log.Info().Int("count", len(records)).Strs("dates", days).Msg("saving prices")

	for _, r := range records {
		if err := s.store.Upsert(ctx, r); err != nil {
			s.log.Error().Err(err).Str("date", models.DayKey(r.Date)).Int("hour", r.Hour).Msg("save price failed")
			continue
		}
		saved++
	}

	if saved > 0 {
		if err := s.cache.Invalidate(ctx, cache.AllKeys()...); err != nil {
			s.log.Error().Err(err).Msg("cache invalidation failed")
		}
	}

	s.metrics.ObserveSave(saved, len(records)-saved)
	s.log.Info().Int("saved", saved).Int("total", len(records)).Dur("duration", time.Since(start)).Msg("save completed")
	return saved
}

// Ingest fetches fresh data and saves it. An empty write counts as a failure.
func (s *Service) Ingest(ctx context.Context) (int, error) {
	entries, err := s.FetchFromExternal(ctx)
	if err != nil {
		return 0, err
	}

	records := make([]models.PriceRecord, len(entries))
	for i, e := range entries {
		records[i] = e.Record()
	}

	saved := s.SavePrices(ctx, records)
	if saved == 0 {
		return 0, fmt.Errorf("no records saved out of %d fetched", len(records))
	}
	return saved, nil
}

// HasDataForDate reports whether any record is stored for day.
func (s *Service) HasDataForDate(ctx context.Context, day time.Time) (bool, error) {
	n, err := s.store.CountForDate(ctx, day)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ApplyFallback copies the most recent stored day before day onto day, flagged as fallback.
func (s *Service) ApplyFallback(ctx context.Context, day time.Time) (int, error) {
	day = models.DayOf(day)
	latest, err := s.store.FindLatestDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("load fallback source: %w", err)
	}
	if len(latest) == 0 {
		s.log.Error().Str("date", models.DayKey(day)).Msg("no historical data available for fallback")
		return 0, ErrNoHistory
	}

	copies := make([]models.PriceRecord, len(latest))
	for i, r := range latest {
		copies[i] = models.PriceRecord{Date: day, Hour: r.Hour, Price: r.Price, IsFallback: true}
	}

	saved := s.SavePrices(ctx, copies)
	s.metrics.ObserveFallback()
	s.log.Warn().
		Str("source", models.DayKey(latest[0].Date)).
		Str("date", models.DayKey(day)).
		Int("saved", saved).
		Msg("fallback data applied")
	if saved == 0 {
		return 0, fmt.Errorf("fallback for %s: no records saved", models.DayKey(day))
	}
	return saved, nil
}

// --- read path ---

// dayEntry tags cached records with the day they were computed for,
// so a value cached yesterday is never served as today's.
type dayEntry struct {
	Stamp   string               `json:"stamp"`
	Records []models.PriceRecord `json:"records"`
}

type statsEntry struct {
	Stamp string               `json:"stamp"`
	Stats views.DashboardStats `json:"stats"`
}

func (s *Service) readCache(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		hit = false
	}
	s.metrics.ObserveCache(key, hit)
	return hit
}

func (s *Service) writeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (s *Service) dayCached(ctx context.Context, key string, day time.Time, ttl time.Duration) ([]models.PriceRecord, error) {
	stamp := models.DayKey(day)
	var entry dayEntry
	if s.readCache(ctx, key, &entry) && entry.Stamp == stamp {
		return entry.Records, nil
	}

	records, err := s.store.FindForDate(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.log.Info().Str("date", stamp).Msg("no prices stored for date")
		return []models.PriceRecord{}, nil
	}
	s.writeCache(ctx, key, dayEntry{Stamp: stamp, Records: records}, ttl)
	return records, nil
}

func (s *Service) TodayPrices(ctx context.Context) ([]models.PriceRecord, error) {
	return s.dayCached(ctx, cache.KeyTodayPrices, s.today(), s.opts.TTLs.Today)
}

func (s *Service) TomorrowPrices(ctx context.Context) ([]models.PriceRecord, error) {
	return s.dayCached(ctx, cache.KeyTomorrowPrices, s.today().AddDate(0, 0, 1), s.opts.TTLs.Tomorrow)
}

// History returns records from days ago through tomorrow.
func (s *Service) History(ctx context.Context, days int) ([]models.PriceRecord, error) {
	if days <= 0 {
		days = 7
	}
	today := s.today()
	return s.store.FindByDateRange(ctx, today.AddDate(0, 0, -days), today.AddDate(0, 0, 1))
}

func (s *Service) Stats(ctx context.Context, days int) ([]models.DailyStats, error) {
	if days <= 0 {
		days = 30
	}
	return s.store.AggregateDailyStats(ctx, s.today().AddDate(0, 0, -days))
}

// DashboardStats computes today's dashboard. When today has no data the latest
// stored day stands in, flagged as fallback; with no data at all it returns
// views.ErrNoDataAvailable.
func (s *Service) DashboardStats(ctx context.Context) (views.DashboardStats, error) {
	now := s.localNow()
	stamp := now.Format("2006-01-02T15")

	var entry statsEntry
	if s.readCache(ctx, cache.KeyDashboardStats, &entry) && entry.Stamp == stamp {
		return entry.Stats, nil
	}

	records, err := s.TodayPrices(ctx)
	if err != nil {
		return views.DashboardStats{}, err
	}
	if len(records) == 0 {
		s.log.Info().Msg("using fallback data for dashboard")
		latest, err := s.store.FindLatestDay(ctx, s.today())
		if err != nil {
			return views.DashboardStats{}, err
		}
		if len(latest) == 0 {
			return views.DashboardStats{}, views.ErrNoDataAvailable
		}
		records = make([]models.PriceRecord, len(latest))
		for i, r := range latest {
			r.IsFallback = true
			records[i] = r
		}
		s.log.Info().Str("dataDate", models.DayKey(latest[0].Date)).Int("records", len(latest)).Msg("fallback data used")
	}

	stats, err := views.BuildDashboard(records, now, s.opts.FixedTariff)
	if err != nil {
		return views.DashboardStats{}, err
	}
	s.writeCache(ctx, cache.KeyDashboardStats, statsEntry{Stamp: stamp, Stats: stats}, s.opts.TTLs.Stats)
	return stats, nil
}

func (s *Service) HourlyPrices(ctx context.Context, period models.Period) (views.HourlyPrices, error) {
	today := s.today()
	records, err := s.store.FindByDateRange(ctx, period.Start(today), today)
	if err != nil {
		return views.HourlyPrices{}, err
	}
	return views.BuildHourly(records), nil
}

func (s *Service) Recommendations(ctx context.Context) (views.Recommendations, error) {
	records, err := s.TodayPrices(ctx)
	if err != nil {
		return views.Recommendations{}, err
	}
	return views.BuildRecommendations(records, s.localNow()), nil
}

// LatestPriceLevel is the current price and its absolute level, for push clients.
func (s *Service) LatestPriceLevel(ctx context.Context) (PriceLevel, error) {
	stats, err := s.DashboardStats(ctx)
	if err != nil {
		return PriceLevel{}, err
	}
	return PriceLevel{
		CurrentPrice: stats.CurrentPrice,
		Level:        views.FixedLevel(stats.CurrentPrice),
		Timestamp:    stats.LastUpdated,
		IsFallback:   stats.IsFallback,
	}, nil
}
