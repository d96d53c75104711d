package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arklim/social-platform-growth/internal/core/port"
)

// txBeginner is satisfied by *pgxpool.Pool and pgxmock pools.
type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Transactor runs repository work inside a READ COMMITTED transaction. Row locks taken with
// SELECT ... FOR UPDATE serialize writers of the same user or referral.
type Transactor struct {
	db   txBeginner
	opts pgx.TxOptions
}

// NewTransactor constructs a transactor over db.
func NewTransactor(db txBeginner) *Transactor {
	return &Transactor{db: db, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

var _ port.Transactor = (*Transactor)(nil)

// WithinTx commits when fn returns nil and rolls back otherwise, including on panic.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) error {
	tx, err := t.db.BeginTx(ctx, t.opts)
	if err != nil {
		return mapPgError(err, "begin tx")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	repos := port.TxRepositories{
		Users:     newUserRepository(tx),
		Referrals: newReferralRepository(tx),
	}

	if err := fn(ctx, repos); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err, "commit tx")
	}
	return nil
}
