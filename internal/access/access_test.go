package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

// sessionResolver maps session tokens to principals.
type sessionResolver map[string]*Principal

func (r sessionResolver) Resolve(_ context.Context, creds Credentials) (*Principal, error) {
	return r[creds.SessionToken], nil
}

func principal(user *models.User) *Principal {
	return &Principal{
		User:    user,
		Session: &models.Session{ID: uuid.New(), Token: "tok", UserID: user.ID, ExpiresAt: now.Add(time.Hour)},
	}
}

func TestRequireAuthenticated(t *testing.T) {
	user := &models.User{ID: uuid.New(), Role: models.RoleUser}
	r := sessionResolver{"good": principal(user)}

	t.Run("no credentials", func(t *testing.T) {
		_, err := RequireAuthenticated(context.Background(), r, Credentials{})
		assert.ErrorIs(t, err, apierrors.ErrUnauthorized)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := RequireAuthenticated(context.Background(), r, Credentials{SessionToken: "bad"})
		assert.ErrorIs(t, err, apierrors.ErrUnauthorized)
	})

	t.Run("valid token", func(t *testing.T) {
		p, err := RequireAuthenticated(context.Background(), r, Credentials{SessionToken: "good"})
		require.NoError(t, err)
		assert.Equal(t, user.ID, p.UserID())
	})

	t.Run("resolver error surfaces", func(t *testing.T) {
		boom := errors.New("db down")
		failing := ResolverFunc(func(context.Context, Credentials) (*Principal, error) { return nil, boom })
		_, err := RequireAuthenticated(context.Background(), failing, Credentials{SessionToken: "x"})
		assert.ErrorIs(t, err, boom)
	})
}

func TestRequireActiveAccount(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(24 * time.Hour)
	reason := "chargeback abuse"

	tests := []struct {
		name    string
		user    models.User
		wantErr bool
	}{
		{"not banned", models.User{}, false},
		{"banned forever", models.User{Banned: true, BanReason: &reason}, true},
		{"banned until future", models.User{Banned: true, BanExpires: &future}, true},
		{"ban lapsed", models.User{Banned: true, BanExpires: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireActiveAccount(&tt.user, now)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apierrors.ErrAccountBanned)
			assert.Equal(t, apierrors.KindForbidden, apierrors.KindOf(err))
		})
	}
}

func TestGate_BannedUserWithPreBanSession(t *testing.T) {
	user := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	r := sessionResolver{"pre-ban": principal(user)}
	gate := NewGate(r, fixedNow)
	creds := Credentials{SessionToken: "pre-ban"}

	_, err := gate.Authorize(context.Background(), creds, gate.SelfService())
	require.NoError(t, err)

	// Banned after the session was issued.
	user.Banned = true

	for name, pipeline := range map[string]Pipeline{"self-service": gate.SelfService(), "admin": gate.Admin()} {
		t.Run(name, func(t *testing.T) {
			_, err := gate.Authorize(context.Background(), creds, pipeline)
			assert.ErrorIs(t, err, apierrors.ErrAccountBanned)
		})
	}

	// Authentication alone still succeeds so sign-out keeps working.
	_, err = gate.Resolve(context.Background(), creds)
	assert.NoError(t, err)
}

func TestGate_AdminPipeline(t *testing.T) {
	member := &models.User{ID: uuid.New(), Role: models.RoleUser}
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	bannedMember := &models.User{ID: uuid.New(), Role: models.RoleUser, Banned: true}
	r := sessionResolver{
		"member": principal(member),
		"admin":  principal(admin),
		"banned": principal(bannedMember),
	}
	gate := NewGate(r, fixedNow)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"unauthenticated fails first", "", apierrors.ErrUnauthorized},
		{"expired or unknown session", "stale", apierrors.ErrUnauthorized},
		{"non-admin forbidden", "member", apierrors.ErrForbidden},
		{"banned non-admin reports ban before role", "banned", apierrors.ErrAccountBanned},
		{"admin passes", "admin", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := gate.Authorize(context.Background(), Credentials{SessionToken: tt.token}, gate.Admin())
			if tt.want == nil {
				require.NoError(t, err)
				assert.True(t, p.User.IsAdmin())
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, p)
		})
	}
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	gate := NewGate(sessionResolver{"t": principal(user)}, fixedNow)

	var ran []string
	step := func(name string, err error) AuthCheck {
		return AuthCheckFunc(func(context.Context, *Principal) error {
			ran = append(ran, name)
			return err
		})
	}

	_, err := gate.Authorize(context.Background(), Credentials{SessionToken: "t"},
		Pipeline{step("a", nil), step("b", apierrors.ErrForbidden), step("c", nil)})
	assert.ErrorIs(t, err, apierrors.ErrForbidden)
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestPrincipalContext(t *testing.T) {
	_, err := MustFromContext(context.Background())
	assert.ErrorIs(t, err, apierrors.ErrUnauthorized)

	p := principal(&models.User{ID: uuid.New()})
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, p.Session.ID, got.SessionID())

	keyOnly := &Principal{User: p.User, APIKey: &models.APIKey{ID: "01H"}}
	assert.Equal(t, uuid.Nil, keyOnly.SessionID())
}
