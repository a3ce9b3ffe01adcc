package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/wangwalk/tanstack-start-dev/internal/config"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

// OAuthUserInfo contains user information fetched from OAuth providers.
type OAuthUserInfo struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}

// OAuthService signs users in through GitHub and Google.
type OAuthService interface {
	// GetAuthURL returns the provider's consent URL carrying state.
	GetAuthURL(provider, state string) (string, error)

	// HandleCallback exchanges code, finds or links the user and opens a
	// session.
	HandleCallback(ctx context.Context, provider, code string, client ClientInfo) (*models.User, *models.Session, error)

	// GetSupportedProviders lists the configured providers.
	GetSupportedProviders() []string
}

type oauthService struct {
	configs      map[string]*oauth2.Config
	userInfoURLs map[string]string
	users        repository.UserRepository
	issuer       *SessionIssuer
	httpClient   *http.Client
	logger       *slog.Logger
}

var defaultUserInfoURLs = map[string]string{
	"github":        "https://api.github.com/user",
	"github_emails": "https://api.github.com/user/emails",
	"google":        "https://www.googleapis.com/oauth2/v2/userinfo",
}

// NewOAuthService creates a new OAuth service with the given configuration.
func NewOAuthService(
	cfg *config.AuthConfig,
	users repository.UserRepository,
	issuer *SessionIssuer,
	logger *slog.Logger,
) OAuthService {
	callbackBaseURL := strings.TrimRight(cfg.OAuthCallbackURL, "/")
	configs := make(map[string]*oauth2.Config)

	if cfg.OAuthGitHubID != "" && cfg.OAuthGitHubSecret != "" {
		configs["github"] = &oauth2.Config{
			ClientID:     cfg.OAuthGitHubID,
			ClientSecret: cfg.OAuthGitHubSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  callbackBaseURL + "/api/auth/oauth/github/callback",
			Scopes:       []string{"read:user", "user:email"},
		}
	}

	if cfg.OAuthGoogleID != "" && cfg.OAuthGoogleSecret != "" {
		configs["google"] = &oauth2.Config{
			ClientID:     cfg.OAuthGoogleID,
			ClientSecret: cfg.OAuthGoogleSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  callbackBaseURL + "/api/auth/oauth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
		}
	}

	urls := make(map[string]string, len(defaultUserInfoURLs))
	for k, v := range defaultUserInfoURLs {
		urls[k] = v
	}

	return &oauthService{
		configs:      configs,
		userInfoURLs: urls,
		users:        users,
		issuer:       issuer,
		httpClient:   http.DefaultClient,
		logger:       logger,
	}
}

func (s *oauthService) GetAuthURL(provider, state string) (string, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return "", apierrors.NewNotFoundError("OAuth provider")
	}
	return cfg.AuthCodeURL(state), nil
}

func (s *oauthService) HandleCallback(ctx context.Context, provider, code string, client ClientInfo) (*models.User, *models.Session, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return nil, nil, apierrors.NewNotFoundError("OAuth provider")
	}
	if code == "" {
		return nil, nil, apierrors.NewValidationError("code", "authorization code is missing")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, nil, apierrors.NewUpstreamError(provider, fmt.Errorf("token exchange failed: %w", err))
	}

	info, err := s.fetchUserInfo(ctx, provider, cfg.Client(ctx, token))
	if err != nil {
		return nil, nil, apierrors.NewUpstreamError(provider, err)
	}
	if info.Email == "" {
		return nil, nil, apierrors.NewValidationError("email", "your "+provider+" account has no verified email address")
	}

	user, err := s.findOrCreateUser(ctx, provider, info)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find or create user: %w", err)
	}
	if user.IsBanned(s.issuer.now()) {
		return nil, nil, apierrors.NewBannedError(user.BanReason, user.BanExpires)
	}

	session, err := s.issuer.issue(ctx, user.ID, client)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to record last login", slog.String("error", err.Error()))
	}
	return user, session, nil
}

func (s *oauthService) GetSupportedProviders() []string {
	providers := make([]string, 0, len(s.configs))
	for provider := range s.configs {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}

func (s *oauthService) fetchUserInfo(ctx context.Context, provider string, client *http.Client) (*OAuthUserInfo, error) {
	switch provider {
	case "github":
		return s.fetchGitHubUser(ctx, client)
	case "google":
		return s.fetchGoogleUser(ctx, client)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *oauthService) fetchGitHubUser(ctx context.Context, client *http.Client) (*OAuthUserInfo, error) {
	var data struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, s.userInfoURLs["github"], &data); err != nil {
		return nil, fmt.Errorf("failed to fetch GitHub user: %w", err)
	}

	// Public profile emails are optional on GitHub.
	email := data.Email
	if email == "" {
		emails, err := s.fetchGitHubEmails(ctx, client)
		if err == nil && len(emails) > 0 {
			email = emails[0]
		}
	}

	name := data.Name
	if name == "" {
		name = data.Login
	}

	return &OAuthUserInfo{
		ID:        strconv.FormatInt(data.ID, 10),
		Email:     email,
		Name:      name,
		AvatarURL: data.AvatarURL,
	}, nil
}

// fetchGitHubEmails returns verified addresses, primary first.
func (s *oauthService) fetchGitHubEmails(ctx context.Context, client *http.Client) ([]string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, s.userInfoURLs["github_emails"], &emails); err != nil {
		return nil, err
	}

	var result []string
	for _, e := range emails {
		if e.Verified && e.Primary {
			result = append([]string{e.Email}, result...)
		} else if e.Verified {
			result = append(result, e.Email)
		}
	}
	return result, nil
}

func (s *oauthService) fetchGoogleUser(ctx context.Context, client *http.Client) (*OAuthUserInfo, error) {
	var data struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, s.userInfoURLs["google"], &data); err != nil {
		return nil, fmt.Errorf("failed to fetch Google user: %w", err)
	}

	email := data.Email
	if !data.VerifiedEmail {
		email = ""
	}
	return &OAuthUserInfo{
		ID:        data.ID,
		Email:     email,
		Name:      data.Name,
		AvatarURL: data.Picture,
	}, nil
}

// ErrOAuthAccountUnverified is returned when a provider identity matches an
// existing password account whose email was never verified.
var ErrOAuthAccountUnverified = apierrors.NewConflictError(
	"An account with this email exists but is not verified. Sign in with your password and verify your email first",
)

func (s *oauthService) findOrCreateUser(ctx context.Context, provider string, info *OAuthUserInfo) (*models.User, error) {
	user, err := s.users.GetByOAuth(ctx, provider, info.ID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// Link by email. An unverified password account may belong to whoever
	// registered the address first, so it is never linked.
	user, err = s.users.GetByEmail(ctx, repository.NormalizeEmail(info.Email))
	if err != nil {
		return nil, err
	}
	if user != nil {
		if !user.EmailVerified && user.PasswordHash != nil {
			return nil, ErrOAuthAccountUnverified
		}
		if err := s.users.UpdateOAuth(ctx, user.ID, provider, info.ID); err != nil {
			return nil, err
		}
		user.OAuthProvider = &provider
		user.OAuthProviderID = &info.ID
		if !user.EmailVerified {
			if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
				return nil, err
			}
			user.EmailVerified = true
		}
		return user, nil
	}

	name := strings.TrimSpace(info.Name)
	if name == "" {
		name = strings.SplitN(info.Email, "@", 2)[0]
	}
	user = &models.User{
		Email:           info.Email,
		Name:            name,
		Image:           optional(info.AvatarURL),
		EmailVerified:   true,
		Role:            models.RoleUser,
		OAuthProvider:   &provider,
		OAuthProviderID: &info.ID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apierrors.NewConflictError("An account with this email already exists")
		}
		return nil, err
	}
	return user, nil
}

// Compile-time check to ensure oauthService implements OAuthService.
var _ OAuthService = (*oauthService)(nil)
