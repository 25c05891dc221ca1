package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	db querier
}

// NewPriceStore creates a PriceStore reading committed rows from the pool.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{db: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

const priceColumns = `id, ticker, fetched_at, market_time, price, volume, day_open, day_high, day_low, prev_close, data_source`

// Insert adds one observation row.
func (s *PriceStore) Insert(ctx context.Context, obs *domain.PriceObservation) error {
	query := `
		INSERT INTO price_snapshots (
			ticker, fetched_at, market_time, price, volume, day_open, day_high, day_low, prev_close, data_source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.Exec(ctx, query,
		obs.Ticker,
		obs.FetchedAt,
		obs.MarketTime,
		obs.Price,
		obs.Volume,
		obs.DayOpen,
		obs.DayHigh,
		obs.DayLow,
		obs.PrevClose,
		obs.DataSource,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert price snapshot: %w", err)
	}
	return nil
}

// LatestPerTicker retrieves the most recent observation per ticker.
func (s *PriceStore) LatestPerTicker(ctx context.Context) (map[string]*domain.PriceObservation, error) {
	query := `
		SELECT DISTINCT ON (ticker) ` + priceColumns + `
		FROM price_snapshots
		ORDER BY ticker, fetched_at DESC, id DESC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get latest prices: %w", err)
	}
	defer rows.Close()

	observations, err := scanObservations(rows)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*domain.PriceObservation, len(observations))
	for _, obs := range observations {
		latest[obs.Ticker] = obs
	}
	return latest, nil
}

// RecentByTicker retrieves up to limit observations for one ticker, most recent first.
func (s *PriceStore) RecentByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceObservation, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM price_snapshots
		WHERE ticker = $1
		ORDER BY fetched_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// scanObservations scans multiple rows into a slice of PriceObservation.
func scanObservations(rows pgx.Rows) ([]*domain.PriceObservation, error) {
	var observations []*domain.PriceObservation

	for rows.Next() {
		var obs domain.PriceObservation

		err := rows.Scan(
			&obs.ID,
			&obs.Ticker,
			&obs.FetchedAt,
			&obs.MarketTime,
			&obs.Price,
			&obs.Volume,
			&obs.DayOpen,
			&obs.DayHigh,
			&obs.DayLow,
			&obs.PrevClose,
			&obs.DataSource,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price snapshot row: %w", err)
		}

		observations = append(observations, &obs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price snapshot rows: %w", err)
	}

	return observations, nil
}
