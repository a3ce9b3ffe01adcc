package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newAccountRouter(account *mockAccountService, auth *mockAuthService, caller *access.Principal) http.Handler {
	if auth == nil {
		auth = &mockAuthService{}
	}
	h := NewAccountHandler(account, auth, 1<<20, discardLogger())
	return h.Routes(Guards{SelfService: asCaller(caller)})
}

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="avatar.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAccountHandler_UpdateProfile(t *testing.T) {
	caller := testPrincipal(models.RoleUser)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"updates name", `{"name":"Ada Lovelace"}`, http.StatusOK},
		{"rejects empty name", `{"name":""}`, http.StatusBadRequest},
		{"rejects long name", `{"name":"` + strings.Repeat("a", 101) + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &mockAccountService{
				updateProfileFunc: func(ctx context.Context, user *models.User, name string) (*models.User, error) {
					assert.Equal(t, caller.User.ID, user.ID)
					updated := *user
					updated.Name = name
					return &updated, nil
				},
			}
			router := newAccountRouter(account, nil, caller)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/profile", strings.NewReader(tt.body)))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Contains(t, rec.Body.String(), "Ada Lovelace")
			}
		})
	}
}

func TestAccountHandler_ChangePassword(t *testing.T) {
	caller := testPrincipal(models.RoleUser)
	var keep uuid.UUID
	var revokeOthers bool
	auth := &mockAuthService{
		changePasswordFunc: func(ctx context.Context, user *models.User, current, next string, keepSessionID uuid.UUID, revoke bool) error {
			if current != "old password" {
				return apierrors.NewValidationError("current_password", "Current password is incorrect")
			}
			keep, revokeOthers = keepSessionID, revoke
			return nil
		},
	}
	router := newAccountRouter(&mockAccountService{}, auth, caller)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/password", strings.NewReader(
		`{"current_password":"old password","new_password":"new password","confirm_password":"new password","revoke_other_sessions":true}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, caller.Session.ID, keep)
	assert.True(t, revokeOthers)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/password", strings.NewReader(
		`{"current_password":"wrong","new_password":"new password","confirm_password":"new password"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountHandler_RevokeSession(t *testing.T) {
	caller := testPrincipal(models.RoleUser)
	own := uuid.New()
	account := &mockAccountService{
		revokeSessionFunc: func(ctx context.Context, userID, sessionID uuid.UUID) error {
			assert.Equal(t, caller.User.ID, userID)
			if sessionID != own {
				return apierrors.NewNotFoundError("Session")
			}
			return nil
		},
	}
	router := newAccountRouter(account, nil, caller)

	tests := []struct {
		name           string
		id             string
		expectedStatus int
	}{
		{"own session", own.String(), http.StatusNoContent},
		{"someone else's session", uuid.NewString(), http.StatusNotFound},
		{"malformed id", "not-a-uuid", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+tt.id, nil))
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestAccountHandler_ListSessions(t *testing.T) {
	caller := testPrincipal(models.RoleUser)
	router := newAccountRouter(&mockAccountService{}, nil, caller)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestAccountHandler_UploadAvatar(t *testing.T) {
	caller := testPrincipal(models.RoleUser)

	t.Run("stores file", func(t *testing.T) {
		var gotData []byte
		var gotType string
		account := &mockAccountService{
			uploadAvatarFunc: func(ctx context.Context, user *models.User, data []byte, declared string) (string, error) {
				gotData, gotType = data, declared
				return storage.AvatarURL(user.ID.String()), nil
			},
		}
		router := newAccountRouter(account, nil, caller)

		body, ct := multipartBody(t, "file", "image/png", pngBytes)
		req := httptest.NewRequest(http.MethodPost, "/avatar", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, pngBytes, gotData)
		assert.Equal(t, "image/png", gotType)
		assert.Contains(t, rec.Body.String(), "/api/avatar/"+caller.User.ID.String())
	})

	t.Run("missing file field", func(t *testing.T) {
		router := newAccountRouter(&mockAccountService{}, nil, caller)

		body, ct := multipartBody(t, "image", "image/png", pngBytes)
		req := httptest.NewRequest(http.MethodPost, "/avatar", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized file", func(t *testing.T) {
		called := false
		account := &mockAccountService{
			uploadAvatarFunc: func(ctx context.Context, user *models.User, data []byte, declared string) (string, error) {
				called = true
				return "", nil
			},
		}
		router := newAccountRouter(account, nil, caller)

		body, ct := multipartBody(t, "file", "image/png", bytes.Repeat([]byte{0}, 2<<20))
		req := httptest.NewRequest(http.MethodPost, "/avatar", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, called)
	})
}

func TestAccountHandler_ServeAvatar(t *testing.T) {
	userID := uuid.New()
	account := &mockAccountService{
		getAvatarFunc: func(ctx context.Context, id uuid.UUID) (*storage.Object, error) {
			if id != userID {
				return nil, apierrors.NewNotFoundError("Avatar")
			}
			return &storage.Object{
				Body:        io.NopCloser(bytes.NewReader(pngBytes)),
				ContentType: "image/png",
				Size:        int64(len(pngBytes)),
			}, nil
		},
	}
	h := NewAccountHandler(account, &mockAuthService{}, 0, discardLogger())
	router := chi.NewRouter()
	router.Get("/api/avatar/{id}", h.ServeAvatar)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/avatar/"+userID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/avatar/"+userID.String(), nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/avatar/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestAccountHandler_RequiresCaller(t *testing.T) {
	router := NewAccountHandler(&mockAccountService{}, &mockAuthService{}, 0, discardLogger()).Routes(Guards{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
