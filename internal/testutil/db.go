package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kjannette/pvpc-backend/internal/db"
)

// SetupPool connects to TEST_DATABASE_URL and ensures the schema exists.
// The test is skipped when no database is configured or reachable.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, db.PoolOptions{MaxConns: 4, AppName: "pvpc-test"}, zerolog.Nop())
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}

// ClearDays removes every stored record for the given days.
func ClearDays(t *testing.T, pool *pgxpool.Pool, days ...time.Time) {
	t.Helper()
	for _, d := range days {
		if _, err := pool.Exec(context.Background(), `DELETE FROM prices WHERE date = $1`, d); err != nil {
			t.Fatalf("clear %s: %v", d.Format("2006-01-02"), err)
		}
	}
}
