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

const (
	usersTable       = "growth.users"
	transitionsTable = "growth.user_state_transitions"
)

var userColumns = []string{
	"id",
	"display_name",
	"handle",
	"lifecycle_state",
	"verified_referrals",
	"tier_unlocked_at",
	"last_activity_at",
	"decay_warned",
	"decay_warned_at",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	repo := newUserRepository(pool)
	repo.pool = pool
	return repo
}

func newUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var (
	_ port.UserRepository = (*UserRepository)(nil)
	_ port.UserDirectory  = (*UserRepository)(nil)
)

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := user.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := r.builder.Insert(usersTable).
		Columns(userColumns...).
		Values(
			user.ID,
			user.DisplayName,
			user.Handle,
			stateValue(user.State),
			user.VerifiedReferrals,
			user.TierUnlockedAt,
			user.LastActivityAt,
			user.DecayWarned,
			user.DecayWarnedAt,
			createdAt,
			updatedAt,
		)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert user: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStr, args...); err != nil {
		return mapPgError(err, "insert user")
	}
	return nil
}

// GetByID fetches a user by id without locking.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate fetches a user and locks its row until the surrounding transaction ends.
func (r *UserRepository) GetForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, id, true)
}

func (r *UserRepository) get(ctx context.Context, id string, lock bool) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}

	query := r.builder.Select(userColumns...).
		From(usersTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1)
	if lock {
		query = query.Suffix("FOR UPDATE")
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return nil, mapPgError(err, "select user")
	}
	return user, nil
}

// UpdateLifecycle persists the lifecycle columns. The verified counter is only changed by IncrementVerifiedReferrals.
func (r *UserRepository) UpdateLifecycle(ctx context.Context, user domain.User) error {
	updatedAt := user.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := r.builder.Update(usersTable).
		Set("lifecycle_state", stateValue(user.State)).
		Set("tier_unlocked_at", user.TierUnlockedAt).
		Set("last_activity_at", user.LastActivityAt).
		Set("decay_warned", user.DecayWarned).
		Set("decay_warned_at", user.DecayWarnedAt).
		Set("updated_at", updatedAt).
		Where(squirrel.Eq{"id": user.ID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update user lifecycle: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sqlStr, args...)
	if err != nil {
		return mapPgError(err, "update user lifecycle")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// IncrementVerifiedReferrals atomically bumps the counter and returns the new value.
func (r *UserRepository) IncrementVerifiedReferrals(ctx context.Context, id string) (int, error) {
	query := r.builder.Update(usersTable).
		Set("verified_referrals", squirrel.Expr("verified_referrals + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING verified_referrals")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment verified referrals: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, mapPgError(err, "increment verified referrals")
	}
	return count, nil
}

// AppendTransition writes an audit row for an applied lifecycle edge.
func (r *UserRepository) AppendTransition(ctx context.Context, transition domain.StateTransition) error {
	var reason any
	if transition.Reason != "" {
		reason = transition.Reason
	}

	query := r.builder.Insert(transitionsTable).
		Columns("id", "user_id", "from_state", "to_state", "reason", "actor", "applied_at").
		Values(
			transition.ID,
			transition.UserID,
			string(transition.From),
			string(transition.To),
			reason,
			transition.Actor,
			transition.AppliedAt,
		)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert transition: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStr, args...); err != nil {
		return mapPgError(err, "insert transition")
	}
	return nil
}

// ListTransitions returns the most recent audit rows for userID, newest first.
func (r *UserRepository) ListTransitions(ctx context.Context, userID string, limit int) ([]domain.StateTransition, error) {
	if limit <= 0 {
		limit = 20
	}

	query := r.builder.Select("id", "user_id", "from_state", "to_state", "reason", "actor", "applied_at").
		From(transitionsTable).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("applied_at DESC", "id DESC").
		Limit(uint64(limit))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select transitions: %w", err)
	}

	rows, err := r.exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, mapPgError(err, "select transitions")
	}
	defer rows.Close()

	var transitions []domain.StateTransition
	for rows.Next() {
		var (
			t        domain.StateTransition
			from, to string
			reason   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &from, &to, &reason, &t.Actor, &t.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To = parseState(from), parseState(to)
		t.Reason = reason.String
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return transitions, nil
}

// ListIDsByState pages through user ids in the given states using keyset pagination on id.
func (r *UserRepository) ListIDsByState(ctx context.Context, states []domain.LifecycleState, afterID string, limit int) ([]string, error) {
	if len(states) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(states))
	for _, s := range states {
		values = append(values, string(s))
	}

	query := r.builder.Select("id").
		From(usersTable).
		Where(squirrel.Eq{"lifecycle_state": values}).
		OrderBy("id").
		Limit(uint64(limit))
	if afterID != "" {
		query = query.Where(squirrel.Gt{"id": afterID})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users by state: %w", err)
	}

	rows, err := r.exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, mapPgError(err, "list users by state")
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

// GetUserDisplayInfo resolves the name shown in the review queue.
func (r *UserRepository) GetUserDisplayInfo(ctx context.Context, userID string) (domain.UserDisplayInfo, error) {
	query := r.builder.Select("display_name", "handle").
		From(usersTable).
		Where(squirrel.Eq{"id": userID}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return domain.UserDisplayInfo{}, fmt.Errorf("build select display info: %w", err)
	}

	var info domain.UserDisplayInfo
	if err := r.exec.QueryRow(ctx, sqlStr, args...).Scan(&info.Name, &info.Handle); err != nil {
		return domain.UserDisplayInfo{}, mapPgError(err, "select display info")
	}
	return info, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user         domain.User
		state        sql.NullString
		tierUnlocked sql.NullTime
		lastActivity sql.NullTime
		warnedAt     sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Handle,
		&state,
		&user.VerifiedReferrals,
		&tierUnlocked,
		&lastActivity,
		&user.DecayWarned,
		&warnedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	user.State = parseState(state.String)
	user.TierUnlockedAt = nullTimePtr(tierUnlocked)
	user.LastActivityAt = nullTimePtr(lastActivity)
	user.DecayWarnedAt = nullTimePtr(warnedAt)
	return &user, nil
}

// parseState treats NULL and unrecognised values as LEGACY.
func parseState(raw string) domain.LifecycleState {
	state, ok := domain.ParseLifecycleState(raw)
	if !ok {
		return domain.StateLegacy
	}
	return state
}

func stateValue(state domain.LifecycleState) any {
	if state == "" || state == domain.StateLegacy {
		return nil
	}
	return string(state)
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
