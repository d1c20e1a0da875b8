package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"orbwatch/internal/config"
	"orbwatch/internal/timezone"
)

// setupTestDB starts a disposable Postgres, opens a Store against it and
// applies the embedded migrations.
func setupTestDB(t *testing.T) (*Store, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in -short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	store, err := Open(ctx, config.DatabaseConfig{DSN: dsn, ConnectTimeout: 10 * time.Second})
	require.NoError(t, err, "failed to open store")
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx))
	return store, dsn
}

func observation(id string, price string, at time.Time) Observation {
	return Observation{
		CurrencyID:         id,
		CurrencyName:       "Divine Orb",
		PriceValue:         price,
		ExchangePriceValue: "0",
		ObservedAt:         timezone.Stamp(at),
	}
}

func TestStoreEnsureSchemaIsIdempotent(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStoreInsertAndRecent(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	obs := observation("divine", "180.5", now.Add(-time.Hour))
	obs.CurrencyName = "Divine Orb (Legacy)"
	require.NoError(t, store.Insert(ctx, obs))

	rows, err := store.Recent(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	require.Equal(t, "divine", got.CurrencyID)
	require.Equal(t, "Divine Orb (Legacy)", got.CurrencyName)
	require.Equal(t, "DivineOrbLegacy", got.FormattedName)
	require.Equal(t, "180.5", got.PriceValue)
	require.Equal(t, "0", got.ExchangePriceValue)
	require.True(t, obs.ObservedAt.Equal(got.ObservedAt), "observed_at %s != %s", got.ObservedAt, obs.ObservedAt)
	require.Equal(t, timezone.Name, got.ObservedAt.Location().String())
	require.False(t, got.CreatedAt.IsZero())
}

func TestStoreInsertRejectsEmptyCurrencyID(t *testing.T) {
	store, _ := setupTestDB(t)

	err := store.Insert(context.Background(), observation("", "1", time.Now()))
	require.ErrorIs(t, err, ErrInsert)
	require.ErrorIs(t, err, ErrEmptyCurrencyID)
}

func TestStoreLatestPrice(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	_, ok, err := store.LatestPrice(ctx, "divine")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Insert(ctx, observation("divine", "170", now.Add(-3*time.Hour))))
	require.NoError(t, store.Insert(ctx, observation("divine", "182", now.Add(-time.Hour))))
	require.NoError(t, store.Insert(ctx, observation("divine", "175", now.Add(-2*time.Hour))))
	require.NoError(t, store.Insert(ctx, observation("chaos", "1", now)))

	price, ok, err := store.LatestPrice(ctx, "divine")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "182", price)
}

func TestStoreRecentHonoursWindow(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Insert(ctx, observation("divine", "150", now.Add(-30*time.Hour))))
	require.NoError(t, store.Insert(ctx, observation("divine", "181", now.Add(-time.Hour))))
	require.NoError(t, store.Insert(ctx, observation("divine", "179", now.Add(-2*time.Hour))))

	rows, err := store.Recent(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "179", rows[0].PriceValue)
	require.Equal(t, "181", rows[1].PriceValue)

	rows, err = store.Recent(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, rows)

	latest, err := store.Latest(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "181", latest[0].PriceValue)

	require.NoError(t, store.Insert(ctx, observation("chaos", "1", now.Add(-time.Hour))))
	latest, err = store.Latest(ctx, "divine", 10)
	require.NoError(t, err)
	require.Len(t, latest, 3, "按币种过滤")
	for _, row := range latest {
		require.Equal(t, "divine", row.CurrencyID)
	}
}

func TestStoreAdvisoryLock(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, again, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.False(t, again, "lock held by another session")

	unlock()

	unlock, ok, err = store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}

func TestOpenCreatesMissingDatabase(t *testing.T) {
	_, dsn := setupTestDB(t)
	ctx := context.Background()

	fresh := strings.Replace(dsn, "/testdb?", "/orbwatch_fresh?", 1)
	require.NotEqual(t, dsn, fresh)

	_, err := Open(ctx, config.DatabaseConfig{DSN: fresh})
	require.ErrorIs(t, err, ErrConnection)

	store, err := Open(ctx, config.DatabaseConfig{DSN: fresh, CreateDatabase: true})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, CreateDatabase(ctx, fresh), "existing database is not an error")
}

func TestStoreReadsBeforeMigrationAreEmpty(t *testing.T) {
	_, dsn := setupTestDB(t)
	ctx := context.Background()

	unmigrated := strings.Replace(dsn, "/testdb?", "/orbwatch_unmigrated?", 1)
	store, err := Open(ctx, config.DatabaseConfig{DSN: unmigrated, CreateDatabase: true})
	require.NoError(t, err)
	defer store.Close()

	rows, err := store.Recent(ctx, 24*time.Hour)
	require.NoError(t, err, "尚未建表时读取应视为空结果")
	require.Empty(t, rows)

	rows, err = store.Latest(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestIsUndefinedTable(t *testing.T) {
	require.True(t, isUndefinedTable(&pgconn.PgError{Code: "42P01"}))
	require.True(t, isUndefinedTable(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"})))
	require.False(t, isUndefinedTable(&pgconn.PgError{Code: "3D000"}))
	require.False(t, isUndefinedTable(errors.New("boom")))
}

func TestStoreWithoutPool(t *testing.T) {
	var store *Store

	_, _, err := store.LatestPrice(context.Background(), "divine")
	require.ErrorIs(t, err, ErrNotConfigured)

	err = (&Store{}).Insert(context.Background(), observation("divine", "1", time.Now()))
	require.ErrorIs(t, err, ErrNotConfigured)
}
