// Package memory provides in-memory storage implementations mirroring the
// PostgreSQL semantics: append-only tables, generated ids, and a staged
// cycle transaction whose reads observe its own uncommitted rows. Used by
// orchestrator tests and the -use-memory development mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// Store is the shared in-memory database holding all six tables.
type Store struct {
	mu sync.RWMutex

	prices    []*domain.PriceObservation
	navs      []*domain.NavSnapshot
	positions []*domain.PositionSnapshot
	recons    []*domain.ReconRecord
	anomalies []*domain.AnomalyRecord
	health    []*domain.CycleHealthRecord

	nextID int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{}
}

// Compile-time interface checks.
var (
	_ storage.TxBeginner  = (*Store)(nil)
	_ storage.HealthStore = (*Store)(nil)
	_ storage.QueryStore  = (*Store)(nil)
)

// allocID hands out the next generated id. Like a database sequence, ids
// consumed by a rolled-back transaction are not reused.
func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// Insert adds one cycle health record. Health writes never join a cycle
// transaction, so a rolled-back cycle still leaves its record.
func (s *Store) Insert(_ context.Context, rec *domain.CycleHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	recCopy.ID = s.allocID()
	s.health = append(s.health, &recCopy)
	return nil
}

// LatestPrices returns the most recent committed observation per ticker.
func (s *Store) LatestPrices(_ context.Context) (map[string]*domain.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return latestPerTicker(s.prices), nil
}

// NavHistory returns the n most recent NAV snapshots in ascending order.
func (s *Store) NavHistory(_ context.Context, n int) ([]*domain.NavSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]*domain.NavSnapshot, len(s.navs))
	copy(snapshots, s.navs)
	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].ComputedAt.Equal(snapshots[j].ComputedAt) {
			return snapshots[i].ComputedAt.Before(snapshots[j].ComputedAt)
		}
		return snapshots[i].ID < snapshots[j].ID
	})

	if len(snapshots) > n {
		snapshots = snapshots[len(snapshots)-n:]
	}

	out := make([]*domain.NavSnapshot, len(snapshots))
	for i, snap := range snapshots {
		snapCopy := *snap
		out[i] = &snapCopy
	}
	return out, nil
}

// AssetClassAttribution aggregates the latest snapshot's positions by asset class.
func (s *Store) AssetClassAttribution(_ context.Context) ([]*domain.AssetClassSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latestNavIDLocked()
	if latest == 0 {
		return nil, nil
	}

	type acc struct {
		value, pnl, weight, pnlPct float64
		count                      int
	}
	byClass := make(map[string]*acc)
	for _, pos := range s.positions {
		if pos.NavSnapshotID != latest {
			continue
		}
		a := byClass[pos.AssetClass]
		if a == nil {
			a = &acc{}
			byClass[pos.AssetClass] = a
		}
		a.value += pos.MarketValue
		a.pnl += pos.UnrealizedPnl
		a.weight += pos.Weight
		a.pnlPct += pos.PnlPct
		a.count++
	}

	var summaries []*domain.AssetClassSummary
	for class, a := range byClass {
		summaries = append(summaries, &domain.AssetClassSummary{
			AssetClass:       class,
			TotalMarketValue: a.value,
			TotalPnl:         a.pnl,
			TotalWeight:      a.weight,
			AvgPnlPct:        a.pnlPct / float64(a.count),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TotalMarketValue > summaries[j].TotalMarketValue
	})
	return summaries, nil
}

// PositionDetail returns the latest snapshot's positions ordered by market value DESC.
func (s *Store) PositionDetail(_ context.Context) ([]*domain.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latestNavIDLocked()
	var out []*domain.PositionSnapshot
	for _, pos := range s.positions {
		if pos.NavSnapshotID == latest {
			posCopy := *pos
			out = append(out, &posCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketValue != out[j].MarketValue {
			return out[i].MarketValue > out[j].MarketValue
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out, nil
}

// ReconStatus returns the most recent record per check type.
func (s *Store) ReconStatus(_ context.Context) ([]*domain.ReconRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[domain.CheckType]*domain.ReconRecord)
	for _, rec := range s.recons {
		cur, ok := latest[rec.CheckType]
		if !ok || rec.CheckedAt.After(cur.CheckedAt) ||
			(rec.CheckedAt.Equal(cur.CheckedAt) && rec.ID > cur.ID) {
			latest[rec.CheckType] = rec
		}
	}

	var out []*domain.ReconRecord
	for _, rec := range latest {
		recCopy := *rec
		out = append(out, &recCopy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckType < out[j].CheckType })
	return out, nil
}

// SystemHealth returns the n most recent health records in ascending order.
func (s *Store) SystemHealth(_ context.Context, n int) ([]*domain.CycleHealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*domain.CycleHealthRecord, len(s.health))
	copy(records, s.health)
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CycleAt.Equal(records[j].CycleAt) {
			return records[i].CycleAt.Before(records[j].CycleAt)
		}
		return records[i].ID < records[j].ID
	})

	if len(records) > n {
		records = records[len(records)-n:]
	}

	out := make([]*domain.CycleHealthRecord, len(records))
	for i, rec := range records {
		recCopy := *rec
		out[i] = &recCopy
	}
	return out, nil
}

// latestNavIDLocked returns the id of the most recent NAV snapshot, 0 when none.
func (s *Store) latestNavIDLocked() int64 {
	var latest *domain.NavSnapshot
	for _, snap := range s.navs {
		if latest == nil || snap.ComputedAt.After(latest.ComputedAt) ||
			(snap.ComputedAt.Equal(latest.ComputedAt) && snap.ID > latest.ID) {
			latest = snap
		}
	}
	if latest == nil {
		return 0
	}
	return latest.ID
}

// latestPerTicker picks the most recent observation per ticker from rows.
func latestPerTicker(rows []*domain.PriceObservation) map[string]*domain.PriceObservation {
	latest := make(map[string]*domain.PriceObservation)
	for _, obs := range rows {
		cur, ok := latest[obs.Ticker]
		if !ok || obs.FetchedAt.After(cur.FetchedAt) ||
			(obs.FetchedAt.Equal(cur.FetchedAt) && obs.ID > cur.ID) {
			latest[obs.Ticker] = obs
		}
	}

	out := make(map[string]*domain.PriceObservation, len(latest))
	for ticker, obs := range latest {
		obsCopy := *obs
		out[ticker] = &obsCopy
	}
	return out
}
