package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS prices (
    date        DATE        NOT NULL,
    hour        SMALLINT    NOT NULL CHECK (hour BETWEEN 0 AND 23),
    price       NUMERIC     NOT NULL,
    is_fallback BOOLEAN     NOT NULL DEFAULT FALSE,
    timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (date, hour)
);

CREATE INDEX IF NOT EXISTS idx_prices_date_desc ON prices (date DESC, hour ASC);
`

// EnsureSchema creates the prices table and its index when missing.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
