package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
	"github.com/arklim/social-platform-growth/internal/repository"
)

const referralsTable = "growth.referrals"

var referralColumns = []string{
	"id",
	"referrer_id",
	"referred_id",
	"code",
	"status",
	"review_status",
	"risk_score",
	"flags",
	"origin_signal",
	"client_signature",
	"device_hash",
	"created_at",
	"reviewed_by",
	"reviewed_at",
	"review_reason",
}

// ReferralRepository implements port.ReferralRepository and port.SignalStore using PostgreSQL.
type ReferralRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewReferralRepository wires a PostgreSQL-backed referral repository.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	repo := newReferralRepository(pool)
	repo.pool = pool
	return repo
}

func newReferralRepository(exec pgExecutor) *ReferralRepository {
	return &ReferralRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *ReferralRepository) WithTx(tx pgx.Tx) *ReferralRepository {
	if tx == nil {
		return r
	}
	return &ReferralRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var (
	_ port.ReferralRepository = (*ReferralRepository)(nil)
	_ port.SignalStore        = (*ReferralRepository)(nil)
)

// Create inserts a new referral row. A second referral for the same referred user violates a unique index.
func (r *ReferralRepository) Create(ctx context.Context, referral domain.Referral) error {
	flags := referral.Flags
	if flags == nil {
		flags = []string{}
	}

	query := r.builder.Insert(referralsTable).
		Columns(referralColumns...).
		Values(
			referral.ID,
			referral.ReferrerID,
			referral.ReferredID,
			referral.Code,
			string(referral.Status),
			string(referral.ReviewStatus),
			referral.RiskScore,
			flags,
			referral.OriginSignal,
			referral.ClientSignature,
			referral.DeviceHash,
			referral.CreatedAt,
			referral.ReviewedBy,
			referral.ReviewedAt,
			referral.ReviewReason,
		)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert referral: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStr, args...); err != nil {
		return mapPgError(err, "insert referral")
	}
	return nil
}

// GetByID fetches a referral without locking.
func (r *ReferralRepository) GetByID(ctx context.Context, id string) (*domain.Referral, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate fetches a referral and locks its row until the surrounding transaction ends.
func (r *ReferralRepository) GetForUpdate(ctx context.Context, id string) (*domain.Referral, error) {
	return r.get(ctx, id, true)
}

func (r *ReferralRepository) get(ctx context.Context, id string, lock bool) (*domain.Referral, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}

	query := r.builder.Select(referralColumns...).
		From(referralsTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1)
	if lock {
		query = query.Suffix("FOR UPDATE")
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select referral: %w", err)
	}

	referral, err := scanReferral(r.exec.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return nil, mapPgError(err, "select referral")
	}
	return referral, nil
}

// UpdateRisk stores the scorer's output on a PENDING referral.
func (r *ReferralRepository) UpdateRisk(ctx context.Context, id string, score int, flags []string, status domain.ReviewStatus) error {
	if flags == nil {
		flags = []string{}
	}

	query := r.builder.Update(referralsTable).
		Set("risk_score", score).
		Set("flags", flags).
		Set("review_status", string(status)).
		Where(squirrel.Eq{"id": id, "status": string(domain.ReferralStatusPending)})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update referral risk: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sqlStr, args...)
	if err != nil {
		return mapPgError(err, "update referral risk")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleState
	}
	return nil
}

// Finalize moves a PENDING referral to its terminal status. The status guard makes the write single-winner.
func (r *ReferralRepository) Finalize(ctx context.Context, f domain.ReferralFinalization) error {
	query := r.builder.Update(referralsTable).
		Set("status", string(f.Status)).
		Set("review_status", string(f.ReviewStatus)).
		Set("reviewed_by", f.ReviewerID).
		Set("reviewed_at", f.DecidedAt).
		Set("review_reason", f.Reason).
		Where(squirrel.Eq{"id": f.ReferralID, "status": string(domain.ReferralStatusPending)})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build finalize referral: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sqlStr, args...)
	if err != nil {
		return mapPgError(err, "finalize referral")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleState
	}
	return nil
}

// ListPendingReview returns PENDING referrals classified for manual review, oldest first.
func (r *ReferralRepository) ListPendingReview(ctx context.Context, limit int) ([]domain.Referral, error) {
	query := r.builder.Select(referralColumns...).
		From(referralsTable).
		Where(squirrel.Eq{
			"status":        string(domain.ReferralStatusPending),
			"review_status": []string{string(domain.ReviewStatusPendingReview), string(domain.ReviewStatusHighRisk)},
		}).
		OrderBy("created_at", "id").
		Limit(uint64(limit))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pending review: %w", err)
	}

	rows, err := r.exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, mapPgError(err, "list pending review")
	}
	defer rows.Close()

	referrals := make([]domain.Referral, 0, limit)
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		referrals = append(referrals, *referral)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referrals: %w", err)
	}
	return referrals, nil
}

// CountVerifiedByReferrer counts VERIFIED referrals; it should always equal the user's counter.
func (r *ReferralRepository) CountVerifiedByReferrer(ctx context.Context, referrerID string) (int, error) {
	return r.count(ctx, "count verified referrals", squirrel.Eq{
		"referrer_id": referrerID,
		"status":      string(domain.ReferralStatusVerified),
	})
}

// CountReferrerAttempts counts referral attempts by referrerID in (reference-window, reference].
func (r *ReferralRepository) CountReferrerAttempts(ctx context.Context, referrerID string, window time.Duration, reference time.Time) (int, error) {
	return r.count(ctx, "count referrer attempts", squirrel.And{
		squirrel.Eq{"referrer_id": referrerID},
		windowPredicate(window, reference),
	})
}

// CountByOrigin counts referrals sharing a network origin across all referrers.
func (r *ReferralRepository) CountByOrigin(ctx context.Context, origin string, window time.Duration, reference time.Time) (int, error) {
	return r.count(ctx, "count by origin", squirrel.And{
		squirrel.Eq{"origin_signal": origin},
		windowPredicate(window, reference),
	})
}

// CountByDevice counts referrals sharing a hashed device signature across all referrers.
func (r *ReferralRepository) CountByDevice(ctx context.Context, deviceHash string, window time.Duration, reference time.Time) (int, error) {
	return r.count(ctx, "count by device", squirrel.And{
		squirrel.Eq{"device_hash": deviceHash},
		windowPredicate(window, reference),
	})
}

// CountReferredWithClientSignature counts distinct users referred by referrerID that share a client signature.
func (r *ReferralRepository) CountReferredWithClientSignature(ctx context.Context, referrerID, clientSignature string, window time.Duration, reference time.Time) (int, error) {
	query := r.builder.Select("COUNT(DISTINCT referred_id)").
		From(referralsTable).
		Where(squirrel.And{
			squirrel.Eq{"referrer_id": referrerID, "client_signature": clientSignature},
			windowPredicate(window, reference),
		})
	return r.scanCount(ctx, "count client signature duplicates", query)
}

func (r *ReferralRepository) count(ctx context.Context, op string, where squirrel.Sqlizer) (int, error) {
	query := r.builder.Select("COUNT(*)").From(referralsTable).Where(where)
	return r.scanCount(ctx, op, query)
}

func (r *ReferralRepository) scanCount(ctx context.Context, op string, query squirrel.SelectBuilder) (int, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s: %w", op, err)
	}

	var n int64
	if err := r.exec.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, mapPgError(err, op)
	}
	return int(n), nil
}

func windowPredicate(window time.Duration, reference time.Time) squirrel.Sqlizer {
	return squirrel.And{
		squirrel.Gt{"created_at": reference.Add(-window)},
		squirrel.LtOrEq{"created_at": reference},
	}
}

func scanReferral(row pgx.Row) (*domain.Referral, error) {
	var (
		referral     domain.Referral
		status       string
		reviewStatus string
		origin       sql.NullString
		client       sql.NullString
		device       sql.NullString
		reviewedBy   sql.NullString
		reviewedAt   sql.NullTime
		reason       sql.NullString
	)

	if err := row.Scan(
		&referral.ID,
		&referral.ReferrerID,
		&referral.ReferredID,
		&referral.Code,
		&status,
		&reviewStatus,
		&referral.RiskScore,
		&referral.Flags,
		&origin,
		&client,
		&device,
		&referral.CreatedAt,
		&reviewedBy,
		&reviewedAt,
		&reason,
	); err != nil {
		return nil, err
	}

	referral.Status = domain.ReferralStatus(status)
	referral.ReviewStatus = domain.ReviewStatus(reviewStatus)
	referral.OriginSignal = nullStringPtr(origin)
	referral.ClientSignature = nullStringPtr(client)
	referral.DeviceHash = nullStringPtr(device)
	referral.ReviewedBy = nullStringPtr(reviewedBy)
	referral.ReviewedAt = nullTimePtr(reviewedAt)
	referral.ReviewReason = nullStringPtr(reason)
	if referral.Flags == nil {
		referral.Flags = []string{}
	}
	return &referral, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
