package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-ops/internal/storage"
)

// BeginCycle opens the atomic write scope for one cycle. Every store
// obtained from the returned transaction reads and writes inside the same
// pending serializable transaction, so reconciliation observes the cycle's
// own uncommitted rows. Concurrent readers on the pool only ever see
// committed snapshots.
func (p *Pool) BeginCycle(ctx context.Context) (storage.CycleTx, error) {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin cycle tx: %w", err)
	}
	return &cycleTx{tx: tx}, nil
}

// Compile-time interface check.
var _ storage.TxBeginner = (*Pool)(nil)

// cycleTx implements storage.CycleTx over a pgx transaction.
type cycleTx struct {
	tx pgx.Tx
}

var _ storage.CycleTx = (*cycleTx)(nil)

func (t *cycleTx) Prices() storage.PriceStore {
	return &PriceStore{db: t.tx}
}

func (t *cycleTx) Snapshots() storage.SnapshotStore {
	return &SnapshotStore{db: t.tx}
}

func (t *cycleTx) Recon() storage.ReconStore {
	return &ReconStore{db: t.tx}
}

func (t *cycleTx) Anomalies() storage.AnomalyStore {
	return &AnomalyStore{db: t.tx}
}

func (t *cycleTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cycle tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. After a successful Commit it is a no-op,
// which allows the deferred-rollback idiom in the orchestrator.
func (t *cycleTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback cycle tx: %w", err)
	}
	return nil
}
