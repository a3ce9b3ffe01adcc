package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/billing"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
	"github.com/wangwalk/tanstack-start-dev/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asCaller is a guard that authenticates every request as p.
func asCaller(p *access.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
		})
	}
}

func testPrincipal(role models.Role) *access.Principal {
	userID := uuid.New()
	return &access.Principal{
		User: &models.User{ID: userID, Email: "ada@example.com", Name: "Ada", Role: role},
		Session: &models.Session{
			ID:        uuid.New(),
			Token:     "session-token",
			UserID:    userID,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
}

// mockAuthService is a mock implementation of AuthService for testing.
type mockAuthService struct {
	signUpFunc             func(ctx context.Context, in service.SignUpInput, client service.ClientInfo) (*models.User, *models.Session, error)
	signInFunc             func(ctx context.Context, email, password string, client service.ClientInfo) (*models.User, *models.Session, error)
	signOutFunc            func(ctx context.Context, token string) error
	verifyEmailFunc        func(ctx context.Context, token string) (*models.User, error)
	resendVerificationFunc func(ctx context.Context, user *models.User) error
	forgotPasswordFunc     func(ctx context.Context, email string) error
	resetPasswordFunc      func(ctx context.Context, token, newPassword string) error
	changePasswordFunc     func(ctx context.Context, user *models.User, current, next string, keepSessionID uuid.UUID, revokeOthers bool) error
}

func (m *mockAuthService) SignUp(ctx context.Context, in service.SignUpInput, client service.ClientInfo) (*models.User, *models.Session, error) {
	if m.signUpFunc != nil {
		return m.signUpFunc(ctx, in, client)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string, client service.ClientInfo) (*models.User, *models.Session, error) {
	if m.signInFunc != nil {
		return m.signInFunc(ctx, email, password, client)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignOut(ctx context.Context, token string) error {
	if m.signOutFunc != nil {
		return m.signOutFunc(ctx, token)
	}
	return nil
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	if m.verifyEmailFunc != nil {
		return m.verifyEmailFunc(ctx, token)
	}
	return nil, nil
}

func (m *mockAuthService) ResendVerification(ctx context.Context, user *models.User) error {
	if m.resendVerificationFunc != nil {
		return m.resendVerificationFunc(ctx, user)
	}
	return nil
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.forgotPasswordFunc != nil {
		return m.forgotPasswordFunc(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.resetPasswordFunc != nil {
		return m.resetPasswordFunc(ctx, token, newPassword)
	}
	return nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, user *models.User, current, next string, keepSessionID uuid.UUID, revokeOthers bool) error {
	if m.changePasswordFunc != nil {
		return m.changePasswordFunc(ctx, user, current, next, keepSessionID, revokeOthers)
	}
	return nil
}

// mockOAuthService is a mock implementation of OAuthService for testing.
type mockOAuthService struct {
	getAuthURLFunc     func(provider, state string) (string, error)
	handleCallbackFunc func(ctx context.Context, provider, code string, client service.ClientInfo) (*models.User, *models.Session, error)
	providers          []string
}

func (m *mockOAuthService) GetAuthURL(provider, state string) (string, error) {
	if m.getAuthURLFunc != nil {
		return m.getAuthURLFunc(provider, state)
	}
	return "https://provider.test/authorize?state=" + state, nil
}

func (m *mockOAuthService) HandleCallback(ctx context.Context, provider, code string, client service.ClientInfo) (*models.User, *models.Session, error) {
	if m.handleCallbackFunc != nil {
		return m.handleCallbackFunc(ctx, provider, code, client)
	}
	return nil, nil, nil
}

func (m *mockOAuthService) GetSupportedProviders() []string {
	return m.providers
}

// mockAccountService is a mock implementation of AccountService for testing.
type mockAccountService struct {
	updateProfileFunc       func(ctx context.Context, user *models.User, name string) (*models.User, error)
	listSessionsFunc        func(ctx context.Context, p *access.Principal) ([]models.SessionInfo, error)
	revokeSessionFunc       func(ctx context.Context, userID, sessionID uuid.UUID) error
	revokeOtherSessionsFunc func(ctx context.Context, p *access.Principal) (int64, error)
	uploadAvatarFunc        func(ctx context.Context, user *models.User, data []byte, declaredType string) (string, error)
	getAvatarFunc           func(ctx context.Context, userID uuid.UUID) (*storage.Object, error)
	deleteAvatarFunc        func(ctx context.Context, user *models.User) error
}

func (m *mockAccountService) UpdateProfile(ctx context.Context, user *models.User, name string) (*models.User, error) {
	if m.updateProfileFunc != nil {
		return m.updateProfileFunc(ctx, user, name)
	}
	return user, nil
}

func (m *mockAccountService) ListSessions(ctx context.Context, p *access.Principal) ([]models.SessionInfo, error) {
	if m.listSessionsFunc != nil {
		return m.listSessionsFunc(ctx, p)
	}
	return nil, nil
}

func (m *mockAccountService) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	if m.revokeSessionFunc != nil {
		return m.revokeSessionFunc(ctx, userID, sessionID)
	}
	return nil
}

func (m *mockAccountService) RevokeOtherSessions(ctx context.Context, p *access.Principal) (int64, error) {
	if m.revokeOtherSessionsFunc != nil {
		return m.revokeOtherSessionsFunc(ctx, p)
	}
	return 0, nil
}

func (m *mockAccountService) UploadAvatar(ctx context.Context, user *models.User, data []byte, declaredType string) (string, error) {
	if m.uploadAvatarFunc != nil {
		return m.uploadAvatarFunc(ctx, user, data, declaredType)
	}
	return "", nil
}

func (m *mockAccountService) GetAvatar(ctx context.Context, userID uuid.UUID) (*storage.Object, error) {
	if m.getAvatarFunc != nil {
		return m.getAvatarFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockAccountService) DeleteAvatar(ctx context.Context, user *models.User) error {
	if m.deleteAvatarFunc != nil {
		return m.deleteAvatarFunc(ctx, user)
	}
	return nil
}

// mockAPIKeyService is a mock implementation of APIKeyService for testing.
type mockAPIKeyService struct {
	createFunc func(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*models.APIKeyResponse, error)
	listFunc   func(ctx context.Context, userID uuid.UUID) ([]models.APIKeyResponse, error)
	revokeFunc func(ctx context.Context, id string, userID uuid.UUID) error
}

func (m *mockAPIKeyService) Create(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*models.APIKeyResponse, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, userID, name, expiresIn)
	}
	return nil, nil
}

func (m *mockAPIKeyService) List(ctx context.Context, userID uuid.UUID) ([]models.APIKeyResponse, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockAPIKeyService) Revoke(ctx context.Context, id string, userID uuid.UUID) error {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, id, userID)
	}
	return nil
}

func (m *mockAPIKeyService) Verify(ctx context.Context, secret string) (*models.APIKey, error) {
	return nil, nil
}

// mockBillingService is a mock implementation of BillingService for testing.
type mockBillingService struct {
	plans                     []billing.Plan
	getSubscriptionFunc       func(ctx context.Context, user *models.User) (*service.SubscriptionInfo, error)
	createCheckoutSessionFunc func(ctx context.Context, user *models.User, plan string, interval billing.Interval) (string, error)
	createPortalSessionFunc   func(ctx context.Context, user *models.User) (string, error)
	handleWebhookFunc         func(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

func (m *mockBillingService) Plans() []billing.Plan {
	return m.plans
}

func (m *mockBillingService) GetSubscription(ctx context.Context, user *models.User) (*service.SubscriptionInfo, error) {
	if m.getSubscriptionFunc != nil {
		return m.getSubscriptionFunc(ctx, user)
	}
	return nil, nil
}

func (m *mockBillingService) CreateCheckoutSession(ctx context.Context, user *models.User, plan string, interval billing.Interval) (string, error) {
	if m.createCheckoutSessionFunc != nil {
		return m.createCheckoutSessionFunc(ctx, user, plan, interval)
	}
	return "", nil
}

func (m *mockBillingService) CreatePortalSession(ctx context.Context, user *models.User) (string, error) {
	if m.createPortalSessionFunc != nil {
		return m.createPortalSessionFunc(ctx, user)
	}
	return "", nil
}

func (m *mockBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error) {
	if m.handleWebhookFunc != nil {
		return m.handleWebhookFunc(ctx, payload, signature)
	}
	return &service.WebhookResult{Outcome: service.OutcomeIgnored}, nil
}

func (m *mockBillingService) ApplyEvent(ctx context.Context, ev *billing.Event) (service.WebhookOutcome, error) {
	return service.OutcomeIgnored, nil
}

// mockAdminService is a mock implementation of AdminService for testing.
type mockAdminService struct {
	statsFunc          func(ctx context.Context) (*models.UserStats, error)
	listUsersFunc      func(ctx context.Context, filter models.UserFilter) ([]*models.User, int64, error)
	getUserFunc        func(ctx context.Context, id uuid.UUID) (*service.AdminUserDetail, error)
	setRoleFunc        func(ctx context.Context, actor *models.User, targetID uuid.UUID, role models.Role, client service.ClientInfo) (*models.User, error)
	banFunc            func(ctx context.Context, actor *models.User, targetID uuid.UUID, reason string, expiresIn *time.Duration, client service.ClientInfo) (*models.User, error)
	unbanFunc          func(ctx context.Context, actor *models.User, targetID uuid.UUID, client service.ClientInfo) (*models.User, error)
	revokeSessionsFunc func(ctx context.Context, actor *models.User, targetID uuid.UUID, client service.ClientInfo) (int64, error)
	auditLogFunc       func(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditLog, error)
}

func (m *mockAdminService) Stats(ctx context.Context) (*models.UserStats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx)
	}
	return &models.UserStats{}, nil
}

func (m *mockAdminService) ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, int64, error) {
	if m.listUsersFunc != nil {
		return m.listUsersFunc(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockAdminService) GetUser(ctx context.Context, id uuid.UUID) (*service.AdminUserDetail, error) {
	if m.getUserFunc != nil {
		return m.getUserFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockAdminService) SetRole(ctx context.Context, actor *models.User, targetID uuid.UUID, role models.Role, client service.ClientInfo) (*models.User, error) {
	if m.setRoleFunc != nil {
		return m.setRoleFunc(ctx, actor, targetID, role, client)
	}
	return nil, nil
}

func (m *mockAdminService) Ban(ctx context.Context, actor *models.User, targetID uuid.UUID, reason string, expiresIn *time.Duration, client service.ClientInfo) (*models.User, error) {
	if m.banFunc != nil {
		return m.banFunc(ctx, actor, targetID, reason, expiresIn, client)
	}
	return nil, nil
}

func (m *mockAdminService) Unban(ctx context.Context, actor *models.User, targetID uuid.UUID, client service.ClientInfo) (*models.User, error) {
	if m.unbanFunc != nil {
		return m.unbanFunc(ctx, actor, targetID, client)
	}
	return nil, nil
}

func (m *mockAdminService) RevokeSessions(ctx context.Context, actor *models.User, targetID uuid.UUID, client service.ClientInfo) (int64, error) {
	if m.revokeSessionsFunc != nil {
		return m.revokeSessionsFunc(ctx, actor, targetID, client)
	}
	return 0, nil
}

func (m *mockAdminService) AuditLog(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	if m.auditLogFunc != nil {
		return m.auditLogFunc(ctx, targetID, limit)
	}
	return nil, nil
}

var (
	_ service.AuthService    = (*mockAuthService)(nil)
	_ service.OAuthService   = (*mockOAuthService)(nil)
	_ service.AccountService = (*mockAccountService)(nil)
	_ service.APIKeyService  = (*mockAPIKeyService)(nil)
	_ service.BillingService = (*mockBillingService)(nil)
	_ service.AdminService   = (*mockAdminService)(nil)
)
