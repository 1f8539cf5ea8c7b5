package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kjannette/pvpc-backend/internal/models"
)

const priceColumns = `date, hour, price::text, is_fallback, timestamp`

type PriceRepo struct {
	pool *pgxpool.Pool
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

// Upsert inserts or replaces the record for (date, hour). The stored timestamp
// is the write instant.
func (r *PriceRepo) Upsert(ctx context.Context, rec models.PriceRecord) error {
	if !models.ValidHour(rec.Hour) {
		return fmt.Errorf("upsert %s hour %d: hour out of range", models.DayKey(rec.Date), rec.Hour)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO prices (date, hour, price, is_fallback, timestamp)
		 VALUES ($1, $2, $3::numeric, $4, NOW())
		 ON CONFLICT (date, hour) DO UPDATE
		 SET price = EXCLUDED.price,
		     is_fallback = EXCLUDED.is_fallback,
		     timestamp = EXCLUDED.timestamp`,
		models.DayOf(rec.Date), rec.Hour, rec.Price.String(), rec.IsFallback,
	)
	if err != nil {
		return fmt.Errorf("upsert %s hour %d: %w", models.DayKey(rec.Date), rec.Hour, err)
	}
	return nil
}

// FindByDateRange returns records with start <= date <= end, ordered by date then hour.
func (r *PriceRepo) FindByDateRange(ctx context.Context, start, end time.Time) ([]models.PriceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM prices
		 WHERE date >= $1 AND date <= $2
		 ORDER BY date ASC, hour ASC`,
		models.DayOf(start), models.DayOf(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrices(rows)
}

// FindForDate returns one day's records ordered by hour.
func (r *PriceRepo) FindForDate(ctx context.Context, day time.Time) ([]models.PriceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM prices WHERE date = $1 ORDER BY hour ASC`,
		models.DayOf(day),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrices(rows)
}

func (r *PriceRepo) CountForDate(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prices WHERE date = $1`,
		models.DayOf(day),
	).Scan(&n)
	return n, err
}

// FindLatestDay returns the records of the most recent stored day strictly before
// the given day. It returns nil without error when no such day exists.
func (r *PriceRepo) FindLatestDay(ctx context.Context, before time.Time) ([]models.PriceRecord, error) {
	var latest *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(date) FROM prices WHERE date < $1`,
		models.DayOf(before),
	).Scan(&latest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return r.FindForDate(ctx, *latest)
}

// AggregateDailyStats groups records since the given day by calendar day, newest first.
func (r *PriceRepo) AggregateDailyStats(ctx context.Context, since time.Time) ([]models.DailyStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'),
		        AVG(price)::float8, MIN(price)::float8, MAX(price)::float8
		 FROM prices
		 WHERE date >= $1
		 GROUP BY date
		 ORDER BY date DESC`,
		models.DayOf(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailyStats
	for rows.Next() {
		var s models.DailyStats
		if err := rows.Scan(&s.Day, &s.Avg, &s.Min, &s.Max); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- scan helpers ---

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectPrices(rows rowsIter) ([]models.PriceRecord, error) {
	var out []models.PriceRecord
	for rows.Next() {
		var p models.PriceRecord
		var price string
		if err := rows.Scan(&p.Date, &p.Hour, &price, &p.IsFallback, &p.Timestamp); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		p.Price = d
		p.Date = models.DayOf(p.Date)
		out = append(out, p)
	}
	return out, rows.Err()
}
