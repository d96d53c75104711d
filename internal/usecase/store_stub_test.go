package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
	"github.com/arklim/social-platform-growth/internal/repository"
)

// memStore is an in-memory stand-in for the postgres repositories. WithinTx serializes
// transactions and restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	users       map[string]domain.User
	referrals   map[string]domain.Referral
	transitions []domain.StateTransition

	conflicts int
	txCount   int
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]domain.User),
		referrals: make(map[string]domain.Referral),
	}
}

func (s *memStore) addUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.State == "" {
		u.State = domain.StateRegistered
	}
	s.users[u.ID] = u
}

func (s *memStore) user(id string) domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id]
}

func (s *memStore) referral(id string) domain.Referral {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referrals[id]
}

func (s *memStore) transitionsFor(userID string) []domain.StateTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StateTransition
	for _, t := range s.transitions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.txCount++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return repository.ErrConflict
	}
	users := make(map[string]domain.User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	referrals := make(map[string]domain.Referral, len(s.referrals))
	for k, v := range s.referrals {
		referrals[k] = v
	}
	transitions := append([]domain.StateTransition(nil), s.transitions...)
	s.mu.Unlock()

	if err := fn(ctx, port.TxRepositories{Users: memUsers{s}, Referrals: memReferrals{s}}); err != nil {
		s.mu.Lock()
		s.users, s.referrals, s.transitions = users, referrals, transitions
		s.mu.Unlock()
		return err
	}
	return nil
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(_ context.Context, user domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.users[user.ID] = user
	return nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r memUsers) GetForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return r.GetByID(ctx, id)
}

func (r memUsers) UpdateLifecycle(_ context.Context, user domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	current.State = user.State
	current.TierUnlockedAt = user.TierUnlockedAt
	current.LastActivityAt = user.LastActivityAt
	current.DecayWarned = user.DecayWarned
	current.DecayWarnedAt = user.DecayWarnedAt
	current.UpdatedAt = user.UpdatedAt
	r.s.users[user.ID] = current
	return nil
}

func (r memUsers) IncrementVerifiedReferrals(_ context.Context, id string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	current.VerifiedReferrals++
	r.s.users[id] = current
	return current.VerifiedReferrals, nil
}

func (r memUsers) AppendTransition(_ context.Context, transition domain.StateTransition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.transitions = append(r.s.transitions, transition)
	return nil
}

func (r memUsers) ListTransitions(_ context.Context, userID string, limit int) ([]domain.StateTransition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.StateTransition
	for i := len(r.s.transitions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.transitions[i].UserID == userID {
			out = append(out, r.s.transitions[i])
		}
	}
	return out, nil
}

func (r memUsers) ListIDsByState(_ context.Context, states []domain.LifecycleState, afterID string, limit int) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	wanted := make(map[domain.LifecycleState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	var ids []string
	for id, u := range r.s.users {
		if wanted[u.State] && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r memUsers) GetUserDisplayInfo(ctx context.Context, userID string) (domain.UserDisplayInfo, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return domain.UserDisplayInfo{}, err
	}
	return domain.UserDisplayInfo{Name: u.DisplayName, Handle: u.Handle}, nil
}

type memReferrals struct{ s *memStore }

func (r memReferrals) Create(_ context.Context, referral domain.Referral) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// Mirrors the referrer foreign key.
	if _, ok := r.s.users[referral.ReferrerID]; !ok {
		return repository.ErrNotFound
	}
	for _, existing := range r.s.referrals {
		if existing.ReferredID == referral.ReferredID {
			return repository.ErrDuplicate
		}
	}
	r.s.referrals[referral.ID] = referral
	return nil
}

func (r memReferrals) GetByID(_ context.Context, id string) (*domain.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ref, ok := r.s.referrals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ref, nil
}

func (r memReferrals) GetForUpdate(ctx context.Context, id string) (*domain.Referral, error) {
	return r.GetByID(ctx, id)
}

func (r memReferrals) UpdateRisk(_ context.Context, id string, score int, flags []string, status domain.ReviewStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.referrals[id]
	if !ok {
		return repository.ErrNotFound
	}
	if ref.Status != domain.ReferralStatusPending {
		return repository.ErrStaleState
	}
	ref.RiskScore, ref.Flags, ref.ReviewStatus = score, flags, status
	r.s.referrals[id] = ref
	return nil
}

func (r memReferrals) Finalize(_ context.Context, f domain.ReferralFinalization) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.referrals[f.ReferralID]
	if !ok {
		return repository.ErrNotFound
	}
	if ref.Status != domain.ReferralStatusPending {
		return repository.ErrStaleState
	}
	decided := f.DecidedAt
	ref.Status, ref.ReviewStatus = f.Status, f.ReviewStatus
	ref.ReviewedBy, ref.ReviewReason, ref.ReviewedAt = f.ReviewerID, f.Reason, &decided
	r.s.referrals[f.ReferralID] = ref
	return nil
}

func (r memReferrals) ListPendingReview(_ context.Context, limit int) ([]domain.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Referral
	for _, ref := range r.s.referrals {
		if ref.Status == domain.ReferralStatusPending &&
			(ref.ReviewStatus == domain.ReviewStatusPendingReview || ref.ReviewStatus == domain.ReviewStatusHighRisk) {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memReferrals) CountVerifiedByReferrer(_ context.Context, referrerID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, ref := range r.s.referrals {
		if ref.ReferrerID == referrerID && ref.Status == domain.ReferralStatusVerified {
			n++
		}
	}
	return n, nil
}

func inWindow(at, reference time.Time, window time.Duration) bool {
	return at.After(reference.Add(-window)) && !at.After(reference)
}

func (r memReferrals) count(match func(domain.Referral) bool, window time.Duration, reference time.Time) int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, ref := range r.s.referrals {
		if inWindow(ref.CreatedAt, reference, window) && match(ref) {
			n++
		}
	}
	return n
}

func (r memReferrals) CountReferrerAttempts(_ context.Context, referrerID string, window time.Duration, reference time.Time) (int, error) {
	return r.count(func(ref domain.Referral) bool { return ref.ReferrerID == referrerID }, window, reference), nil
}

func (r memReferrals) CountByOrigin(_ context.Context, origin string, window time.Duration, reference time.Time) (int, error) {
	return r.count(func(ref domain.Referral) bool { return deref(ref.OriginSignal) == origin }, window, reference), nil
}

func (r memReferrals) CountByDevice(_ context.Context, device string, window time.Duration, reference time.Time) (int, error) {
	return r.count(func(ref domain.Referral) bool { return deref(ref.DeviceHash) == device }, window, reference), nil
}

func (r memReferrals) CountReferredWithClientSignature(_ context.Context, referrerID, client string, window time.Duration, reference time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, ref := range r.s.referrals {
		if ref.ReferrerID == referrerID && deref(ref.ClientSignature) == client && inWindow(ref.CreatedAt, reference, window) {
			seen[ref.ReferredID] = struct{}{}
		}
	}
	return len(seen), nil
}

// failingSignals wraps a SignalStore and fails device lookups.
type failingSignals struct {
	port.SignalStore
	err error
}

func (f failingSignals) CountByDevice(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, f.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	changed  []domain.StateChangedEvent
	outcomes []domain.ReviewOutcomeEvent
	scored   []domain.ReferralScoredEvent
	warnings []domain.DecayWarningEvent
	err      error
}

func (p *recordingPublisher) PublishStateChanged(_ context.Context, e domain.StateChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

func (p *recordingPublisher) PublishReviewOutcome(_ context.Context, e domain.ReviewOutcomeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, e)
	return p.err
}

func (p *recordingPublisher) PublishReferralScored(_ context.Context, e domain.ReferralScoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scored = append(p.scored, e)
	return p.err
}

func (p *recordingPublisher) PublishDecayWarning(_ context.Context, e domain.DecayWarningEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warnings = append(p.warnings, e)
	return p.err
}

// fixedClock is a settable clock safe for concurrent reads.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{now: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store     *memStore
	events    *recordingPublisher
	clock     *fixedClock
	policy    domain.Policy
	lifecycle *LifecycleStateMachine
	review    *ReviewWorkflow
	scorer    *FraudScorer
	referrals *ReferralService
	decay     *DecayMonitor
}

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newHarness() *harness {
	return newHarnessWithSignals(nil)
}

func newHarnessWithSignals(wrap func(port.SignalStore) port.SignalStore) *harness {
	store := newMemStore()
	events := &recordingPublisher{}
	clock := newFixedClock(baseTime)
	policy := domain.DefaultPolicy()

	var signals port.SignalStore = memReferrals{store}
	if wrap != nil {
		signals = wrap(signals)
	}

	lifecycle := NewLifecycleStateMachine(store, memUsers{store}, events, policy.Lifecycle).WithNow(clock.Now)
	review := NewReviewWorkflow(store, memReferrals{store}, memUsers{store}, lifecycle, events).WithNow(clock.Now)
	scorer := NewFraudScorer(signals, policy.Scoring)
	referrals := NewReferralService(memReferrals{store}, nil, scorer, review, lifecycle, events).WithNow(clock.Now)
	decay := NewDecayMonitor(store, memUsers{store}, lifecycle, events, policy.Decay, DecayOptions{Concurrency: 4, PageSize: 2}).WithNow(clock.Now)

	return &harness{
		store:     store,
		events:    events,
		clock:     clock,
		policy:    policy,
		lifecycle: lifecycle,
		review:    review,
		scorer:    scorer,
		referrals: referrals,
		decay:     decay,
	}
}

// seedPending inserts a PENDING_REVIEW referral directly.
func (h *harness) seedPending(id, referrerID, referredID string, createdAt time.Time) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.referrals[id] = domain.Referral{
		ID:           id,
		ReferrerID:   referrerID,
		ReferredID:   referredID,
		Status:       domain.ReferralStatusPending,
		ReviewStatus: domain.ReviewStatusPendingReview,
		RiskScore:    45,
		Flags:        []string{domain.FlagVelocityHour},
		CreatedAt:    createdAt,
	}
}
