package port

import "context"

// TxRepositories groups the repositories bound to a single transaction.
type TxRepositories struct {
	Users     UserRepository
	Referrals ReferralRepository
}

// Transactor runs fn inside one database transaction, committing only when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
