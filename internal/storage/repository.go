package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orbwatch/internal/timezone"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrConnection indicates the database could not be reached.
	ErrConnection = errors.New("storage: connection failure")
	// ErrInsert indicates a single observation could not be written.
	ErrInsert = errors.New("storage: insert failure")
	// ErrEmptyCurrencyID rejects observations without a currency id.
	ErrEmptyCurrencyID = errors.New("storage: currency_id is empty")
)

const (
	insertObservationSQL = `INSERT INTO orbwatcher (
        currency_id,
        currency_name,
        price_value,
        exchange_price_value,
        date
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	latestPriceSQL = `SELECT price_value
    FROM orbwatcher
    WHERE currency_id = $1
    ORDER BY date DESC, id DESC
    LIMIT 1;`

	listSinceSQL = `SELECT
        id,
        currency_id,
        currency_name,
        price_value,
        exchange_price_value,
        date,
        created_at
    FROM orbwatcher
    WHERE date >= $1
    ORDER BY date ASC, id ASC;`

	listLatestSQL = `SELECT
        id,
        currency_id,
        currency_name,
        price_value,
        exchange_price_value,
        date,
        created_at
    FROM orbwatcher
    WHERE $2::text = '' OR currency_id = $2::text
    ORDER BY date DESC, id DESC
    LIMIT $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM orbwatcher;`

	databaseExistsSQL = `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HistoryReader answers charting queries.
type HistoryReader interface {
	Recent(ctx context.Context, window time.Duration) ([]Observation, error)
}

// ObservationStore defines the persistence contract of one scrape cycle.
type ObservationStore interface {
	HistoryReader
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, obs Observation) error
	LatestPrice(ctx context.Context, currencyID string) (string, bool, error)
	Close()
}

// Connector acquires a fresh ObservationStore.
type Connector interface {
	Connect(ctx context.Context) (ObservationStore, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists observations in the orbwatcher table.
type Store struct {
	pool       *pgxpool.Pool
	connString string
	now        func() time.Time
}

// NewStore wires a pgx pool into a Store. connString is used by EnsureSchema.
func NewStore(pool *pgxpool.Pool, connString string) *Store {
	return &Store{pool: pool, connString: connString, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// closing the session also drops the lock, so a failed unlock is harmless
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Insert appends one observation inside its own transaction.
func (s *Store) Insert(ctx context.Context, obs Observation) error {
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrInsert, err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if _, err := tx.Exec(ctx, insertObservationSQL,
		obs.CurrencyID,
		obs.CurrencyName,
		obs.PriceValue,
		obs.ExchangePriceValue,
		obs.ObservedAt,
	); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInsert, obs.CurrencyID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrInsert, err)
	}
	return nil
}

// LatestPrice returns the price of the most recent observation for a
// currency; ok is false when none exists.
func (s *Store) LatestPrice(ctx context.Context, currencyID string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}

	var price string
	if err := pool.QueryRow(ctx, latestPriceSQL, currencyID).Scan(&price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("latest price: %w", err)
	}
	return price, true, nil
}

// Recent lists observations from the trailing window in ascending order.
func (s *Store) Recent(ctx context.Context, window time.Duration) ([]Observation, error) {
	return s.ListSince(ctx, s.now().Add(-window))
}

// ListSince lists observations at or after since in ascending order. An
// unmigrated database reads as empty.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSinceSQL, since)
	if queryErr != nil {
		if isUndefinedTable(queryErr) {
			return []Observation{}, nil
		}
		return nil, fmt.Errorf("list observations since: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, 0)
}

// Latest lists the newest observations of currency, newest first. An empty
// currency lists all.
func (s *Store) Latest(ctx context.Context, currency string, limit int) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLatestSQL, limit, currency)
	if queryErr != nil {
		if isUndefinedTable(queryErr) {
			return []Observation{}, nil
		}
		return nil, fmt.Errorf("list latest observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, limit)
}

// Count counts stored observations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

func collectObservations(rows pgx.Rows, capacity int) ([]Observation, error) {
	observations := make([]Observation, 0, capacity)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var obs Observation
	if err := rows.Scan(
		&obs.ID,
		&obs.CurrencyID,
		&obs.CurrencyName,
		&obs.PriceValue,
		&obs.ExchangePriceValue,
		&obs.ObservedAt,
		&obs.CreatedAt,
	); err != nil {
		return Observation{}, fmt.Errorf("scan observation: %w", err)
	}

	obs.FormattedName = FormatName(obs.CurrencyName)
	obs.ObservedAt = obs.ObservedAt.In(timezone.Location)
	return obs, nil
}

var (
	_ ObservationStore = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
