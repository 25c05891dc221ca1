package memory

import (
	"context"
	"errors"
	"sort"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("memory: transaction already resolved")

// BeginCycle opens a staged write scope. Writes land in per-transaction
// buffers; reads through the transaction's stores observe committed rows
// plus the staged ones, matching the visibility a pending PostgreSQL
// transaction gives the reconciliation engine. Commit publishes the staged
// rows atomically; Rollback discards them.
func (s *Store) BeginCycle(_ context.Context) (storage.CycleTx, error) {
	return &cycleTx{store: s}, nil
}

type cycleTx struct {
	store *Store
	done  bool

	stagedPrices    []*domain.PriceObservation
	stagedNavs      []*domain.NavSnapshot
	stagedPositions []*domain.PositionSnapshot
	stagedRecons    []*domain.ReconRecord
	stagedAnomalies []*domain.AnomalyRecord
}

var _ storage.CycleTx = (*cycleTx)(nil)

func (t *cycleTx) Prices() storage.PriceStore       { return &txPriceStore{tx: t} }
func (t *cycleTx) Snapshots() storage.SnapshotStore { return &txSnapshotStore{tx: t} }
func (t *cycleTx) Recon() storage.ReconStore        { return &txReconStore{tx: t} }
func (t *cycleTx) Anomalies() storage.AnomalyStore  { return &txAnomalyStore{tx: t} }

func (t *cycleTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.store.prices = append(t.store.prices, t.stagedPrices...)
	t.store.navs = append(t.store.navs, t.stagedNavs...)
	t.store.positions = append(t.store.positions, t.stagedPositions...)
	t.store.recons = append(t.store.recons, t.stagedRecons...)
	t.store.anomalies = append(t.store.anomalies, t.stagedAnomalies...)
	return nil
}

// Rollback discards staged rows. After Commit it is a no-op.
func (t *cycleTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.stagedPrices = nil
	t.stagedNavs = nil
	t.stagedPositions = nil
	t.stagedRecons = nil
	t.stagedAnomalies = nil
	return nil
}

type txPriceStore struct {
	tx *cycleTx
}

func (s *txPriceStore) Insert(_ context.Context, obs *domain.PriceObservation) error {
	if s.tx.done {
		return ErrTxDone
	}

	s.tx.store.mu.Lock()
	id := s.tx.store.allocID()
	s.tx.store.mu.Unlock()

	obsCopy := *obs
	obsCopy.ID = id
	s.tx.stagedPrices = append(s.tx.stagedPrices, &obsCopy)
	return nil
}

func (s *txPriceStore) LatestPerTicker(_ context.Context) (map[string]*domain.PriceObservation, error) {
	if s.tx.done {
		return nil, ErrTxDone
	}

	s.tx.store.mu.RLock()
	defer s.tx.store.mu.RUnlock()

	visible := make([]*domain.PriceObservation, 0, len(s.tx.store.prices)+len(s.tx.stagedPrices))
	visible = append(visible, s.tx.store.prices...)
	visible = append(visible, s.tx.stagedPrices...)
	return latestPerTicker(visible), nil
}

func (s *txPriceStore) RecentByTicker(_ context.Context, ticker string, limit int) ([]*domain.PriceObservation, error) {
	if s.tx.done {
		return nil, ErrTxDone
	}

	s.tx.store.mu.RLock()
	defer s.tx.store.mu.RUnlock()

	var matched []*domain.PriceObservation
	for _, obs := range s.tx.store.prices {
		if obs.Ticker == ticker {
			matched = append(matched, obs)
		}
	}
	for _, obs := range s.tx.stagedPrices {
		if obs.Ticker == ticker {
			matched = append(matched, obs)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].FetchedAt.Equal(matched[j].FetchedAt) {
			return matched[i].FetchedAt.After(matched[j].FetchedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*domain.PriceObservation, len(matched))
	for i, obs := range matched {
		obsCopy := *obs
		out[i] = &obsCopy
	}
	return out, nil
}

type txSnapshotStore struct {
	tx *cycleTx
}

func (s *txSnapshotStore) InsertNav(_ context.Context, snap *domain.NavSnapshot) (int64, error) {
	if s.tx.done {
		return 0, ErrTxDone
	}

	s.tx.store.mu.Lock()
	id := s.tx.store.allocID()
	s.tx.store.mu.Unlock()

	snapCopy := *snap
	snapCopy.ID = id
	s.tx.stagedNavs = append(s.tx.stagedNavs, &snapCopy)
	return id, nil
}

func (s *txSnapshotStore) InsertPositions(_ context.Context, positions []*domain.PositionSnapshot) error {
	if s.tx.done {
		return ErrTxDone
	}

	s.tx.store.mu.Lock()
	defer s.tx.store.mu.Unlock()

	for _, pos := range positions {
		posCopy := *pos
		posCopy.ID = s.tx.store.allocID()
		s.tx.stagedPositions = append(s.tx.stagedPositions, &posCopy)
	}
	return nil
}

func (s *txSnapshotStore) SumPositionValues(_ context.Context, navSnapshotID int64) (float64, error) {
	if s.tx.done {
		return 0, ErrTxDone
	}

	s.tx.store.mu.RLock()
	defer s.tx.store.mu.RUnlock()

	var sum float64
	for _, pos := range s.tx.store.positions {
		if pos.NavSnapshotID == navSnapshotID {
			sum += pos.MarketValue
		}
	}
	for _, pos := range s.tx.stagedPositions {
		if pos.NavSnapshotID == navSnapshotID {
			sum += pos.MarketValue
		}
	}
	return sum, nil
}

func (s *txSnapshotStore) CountPositions(_ context.Context, navSnapshotID int64) (int, error) {
	if s.tx.done {
		return 0, ErrTxDone
	}

	s.tx.store.mu.RLock()
	defer s.tx.store.mu.RUnlock()

	tickers := make(map[string]struct{})
	for _, pos := range s.tx.store.positions {
		if pos.NavSnapshotID == navSnapshotID {
			tickers[pos.Ticker] = struct{}{}
		}
	}
	for _, pos := range s.tx.stagedPositions {
		if pos.NavSnapshotID == navSnapshotID {
			tickers[pos.Ticker] = struct{}{}
		}
	}
	return len(tickers), nil
}

type txReconStore struct {
	tx *cycleTx
}

func (s *txReconStore) Insert(_ context.Context, rec *domain.ReconRecord) error {
	if s.tx.done {
		return ErrTxDone
	}

	s.tx.store.mu.Lock()
	id := s.tx.store.allocID()
	s.tx.store.mu.Unlock()

	recCopy := *rec
	recCopy.ID = id
	s.tx.stagedRecons = append(s.tx.stagedRecons, &recCopy)
	return nil
}

type txAnomalyStore struct {
	tx *cycleTx
}

func (s *txAnomalyStore) InsertBulk(_ context.Context, recs []*domain.AnomalyRecord) error {
	if s.tx.done {
		return ErrTxDone
	}
	if len(recs) == 0 {
		return nil
	}

	s.tx.store.mu.Lock()
	defer s.tx.store.mu.Unlock()

	for _, rec := range recs {
		recCopy := *rec
		recCopy.ID = s.tx.store.allocID()
		s.tx.stagedAnomalies = append(s.tx.stagedAnomalies, &recCopy)
	}
	return nil
}
