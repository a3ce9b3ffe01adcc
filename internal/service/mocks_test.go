package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/wangwalk/tanstack-start-dev/internal/billing"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	"github.com/wangwalk/tanstack-start-dev/internal/payments"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Users ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		r.put(u)
	}
	return r
}

func (r *fakeUserRepo) put(u *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	c := *u
	r.users[u.ID] = &c
}

// get returns the stored row, for assertions.
func (r *fakeUserRepo) get(id uuid.UUID) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		c := *u
		return &c
	}
	return nil
}

func (r *fakeUserRepo) find(match func(*models.User) bool) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}

func (r *fakeUserRepo) update(id uuid.UUID, fn func(*models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNoRows
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	user.Email = repository.NormalizeEmail(user.Email)
	if r.find(func(u *models.User) bool { return u.Email == user.Email }) != nil {
		return repository.ErrDuplicate
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.put(user)
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return r.get(id), nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *fakeUserRepo) GetByOAuth(_ context.Context, provider, providerID string) (*models.User, error) {
	return r.find(func(u *models.User) bool {
		return u.OAuthProvider != nil && *u.OAuthProvider == provider &&
			u.OAuthProviderID != nil && *u.OAuthProviderID == providerID
	}), nil
}

func (r *fakeUserRepo) GetByStripeCustomer(_ context.Context, customerID string) (*models.User, error) {
	return r.find(func(u *models.User) bool {
		return u.StripeCustomerID != nil && *u.StripeCustomerID == customerID
	}), nil
}

func (r *fakeUserRepo) List(_ context.Context, filter models.UserFilter) ([]*models.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, u := range r.users {
		if filter.Search != "" && !strings.Contains(u.Email, filter.Search) && !strings.Contains(u.Name, filter.Search) {
			continue
		}
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, int64(len(out)), nil
}

func (r *fakeUserRepo) Stats(_ context.Context, _ time.Time) (*models.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.UserStats{TotalUsers: int64(len(r.users))}
	for _, u := range r.users {
		if u.IsAdmin() {
			stats.Admins++
		}
		if u.Banned {
			stats.Banned++
		}
	}
	return stats, nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, id uuid.UUID, name string, image *string) error {
	return r.update(id, func(u *models.User) { u.Name, u.Image = name, image })
}

func (r *fakeUserRepo) UpdateImage(_ context.Context, id uuid.UUID, image *string) error {
	return r.update(id, func(u *models.User) { u.Image = image })
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = &hash })
}

func (r *fakeUserRepo) UpdateOAuth(_ context.Context, id uuid.UUID, provider, providerID string) error {
	return r.update(id, func(u *models.User) { u.OAuthProvider, u.OAuthProviderID = &provider, &providerID })
}

func (r *fakeUserRepo) SetEmailVerified(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *models.User) { u.EmailVerified = true })
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.update(id, func(u *models.User) { u.LastLoginAt = &now })
}

func (r *fakeUserRepo) SetRole(_ context.Context, id uuid.UUID, role models.Role) error {
	return r.update(id, func(u *models.User) { u.Role = role })
}

func (r *fakeUserRepo) SetBan(_ context.Context, id uuid.UUID, reason *string, expires *time.Time) error {
	return r.update(id, func(u *models.User) { u.Banned, u.BanReason, u.BanExpires = true, reason, expires })
}

func (r *fakeUserRepo) ClearBan(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *models.User) { u.Banned, u.BanReason, u.BanExpires = false, nil, nil })
}

func (r *fakeUserRepo) SetStripeCustomerIfNull(_ context.Context, id uuid.UUID, customerID string) (string, error) {
	var effective string
	err := r.update(id, func(u *models.User) {
		if u.StripeCustomerID == nil {
			u.StripeCustomerID = &customerID
		}
		effective = *u.StripeCustomerID
	})
	return effective, err
}

func (r *fakeUserRepo) SetSubscriptionByCustomer(_ context.Context, customerID string, state models.SubscriptionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.StripeCustomerID != nil && *u.StripeCustomerID == customerID {
			u.SubscriptionStatus, u.SubscriptionPlan = state.Status, state.Plan
			return true, nil
		}
	}
	return false, nil
}

// --- Sessions ---

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*models.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	c := *s
	r.sessions[s.ID] = &c
	return nil
}

func (r *fakeSessionRepo) GetByToken(_ context.Context, token string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Expired(time.Now()) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) DeleteForUser(_ context.Context, id, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(r.sessions, id)
	return true, nil
}

func (r *fakeSessionRepo) DeleteByToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.Token == token {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *fakeSessionRepo) deleteWhere(match func(*models.Session) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if match(s) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *fakeSessionRepo) DeleteAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(s *models.Session) bool { return s.UserID == userID }), nil
}

func (r *fakeSessionRepo) DeleteOthersForUser(_ context.Context, userID, keepID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(s *models.Session) bool { return s.UserID == userID && s.ID != keepID }), nil
}

func (r *fakeSessionRepo) CleanupExpired(_ context.Context) (int64, error) {
	now := time.Now()
	return r.deleteWhere(func(s *models.Session) bool { return s.Expired(now) }), nil
}

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *fakeSessionRepo) has(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// --- API keys ---

type fakeAPIKeyRepo struct {
	mu      sync.Mutex
	keys    map[string]*models.APIKey
	touches int
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{keys: make(map[string]*models.APIKey)}
}

func (r *fakeAPIKeyRepo) Create(_ context.Context, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.KeyPrefix == key.KeyPrefix {
			return repository.ErrDuplicate
		}
	}
	key.CreatedAt = time.Now()
	c := *key
	r.keys[key.ID] = &c
	return nil
}

func (r *fakeAPIKeyRepo) GetByPrefix(_ context.Context, prefix string) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.KeyPrefix == prefix {
			c := *k
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeAPIKeyRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.APIKey
	for _, k := range r.keys {
		if k.UserID == userID {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeAPIKeyRepo) DeleteForUser(_ context.Context, id string, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok || k.UserID != userID {
		return false, nil
	}
	delete(r.keys, id)
	return true, nil
}

func (r *fakeAPIKeyRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.keys[id]; ok {
		k.LastUsedAt = &at
		r.touches++
	}
	return nil
}

// --- Audit ---

// MockAuditRepository is a mock implementation of repository.AuditRepository.
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByTarget(ctx context.Context, userID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

// --- Payments ---

type fakeGateway struct {
	webhookConfigured bool

	createCustomerFn func(ctx context.Context, p payments.CustomerParams) (string, error)
	checkoutFn       func(ctx context.Context, p payments.CheckoutParams) (string, error)
	portalFn         func(ctx context.Context, customerID, returnURL string) (string, error)
	periodEndFn      func(ctx context.Context, subscriptionID string) (time.Time, error)
	parseFn          func(payload []byte, signature string) (*billing.Event, error)

	customersCreated atomic.Int32
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, p payments.CustomerParams) (string, error) {
	g.customersCreated.Add(1)
	if g.createCustomerFn != nil {
		return g.createCustomerFn(ctx, p)
	}
	return "cus_" + p.UserID[:8], nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, p payments.CheckoutParams) (string, error) {
	if g.checkoutFn != nil {
		return g.checkoutFn(ctx, p)
	}
	return "https://checkout.stripe.test/" + p.CustomerID, nil
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if g.portalFn != nil {
		return g.portalFn(ctx, customerID, returnURL)
	}
	return "https://billing.stripe.test/" + customerID, nil
}

func (g *fakeGateway) SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	if g.periodEndFn != nil {
		return g.periodEndFn(ctx, subscriptionID)
	}
	return time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC), nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	return g.parseFn(payload, signature)
}

func (g *fakeGateway) WebhookConfigured() bool {
	return g.webhookConfigured
}

// --- Notifications ---

type sentNotification struct {
	kind   string
	userID uuid.UUID
	detail string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *fakeNotifier) record(kind string, user *models.User, detail string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: kind, userID: user.ID, detail: detail})
	return n.err
}

func (n *fakeNotifier) SendWelcome(_ context.Context, user *models.User) error {
	return n.record("welcome", user, "")
}

func (n *fakeNotifier) SendVerification(_ context.Context, user *models.User, token string) error {
	return n.record("verification", user, token)
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, user *models.User, token string, _ time.Duration) error {
	return n.record("reset", user, token)
}

func (n *fakeNotifier) SendSubscriptionConfirmed(_ context.Context, user *models.User, planName string, amountCents int64, currency string, nextBilling time.Time) error {
	return n.record("subscription_confirmed", user, planName+"|"+FormatAmount(amountCents, currency)+"|"+nextBilling.Format("2006-01-02"))
}

func (n *fakeNotifier) SendPaymentFailed(_ context.Context, user *models.User, planName string) error {
	return n.record("payment_failed", user, planName)
}

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

func (n *fakeNotifier) last(kind string) (sentNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i], true
		}
	}
	return sentNotification{}, false
}

// --- Event ledger ---

type memoryLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{seen: make(map[string]bool)}
}

func (l *memoryLedger) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[eventID] {
		return false, nil
	}
	l.seen[eventID] = true
	return true, nil
}

func strPtr(s string) *string { return &s }

func statusPtr(s models.SubscriptionStatus) *models.SubscriptionStatus { return &s }
