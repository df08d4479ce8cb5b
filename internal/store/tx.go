package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// querier is the subset of pgx.Pool / pgx.Tx every entity accessor needs.
// Accessor methods take a querier instead of *Store directly so the same
// code path works whether it's called inside WithTx or standalone.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is a unit of work spanning multiple entities; it commits or rolls back
// atomically (§4.1). Obtained only through Store.WithTx.
type Tx struct {
	store *Store
	pgTx  pgx.Tx
}

// WithTx runs fn inside a single Postgres transaction. If fn returns an
// error, or panics, the transaction is rolled back; otherwise it is
// committed. This is the "nested transaction" unit of work the Pipeline
// ordering guarantee (§4.6) depends on: everything fn does through tx is
// visible together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	tx := &Tx{store: s, pgTx: pgTx}

	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		err = pgTx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}

// LockTicket takes a transaction-scoped Postgres advisory lock keyed by
// ticketNumber. It is released automatically at commit or rollback — the
// concrete mechanism behind the "advisory lock keyed by ticket_number" in
// §5, serializing Pipeline/Dispatcher/ApprovalQueue steps for the same
// ticket without a separate in-process lock manager when multiple process
// replicas are involved.
func (tx *Tx) LockTicket(ctx context.Context, ticketNumber string) error {
	_, err := tx.pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketNumber)
	if err != nil {
		return fmt.Errorf("acquiring advisory lock for ticket %s: %w", ticketNumber, err)
	}
	return nil
}

func (tx *Tx) q() querier { return tx.pgTx }

func (s *Store) q() querier { return s.pool }
