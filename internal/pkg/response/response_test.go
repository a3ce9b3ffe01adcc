package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

func TestError_Envelope(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", apierrors.NewNotFoundError("API key"), http.StatusNotFound, "not_found"},
		{"banned", apierrors.ErrAccountBanned, http.StatusForbidden, "account_banned"},
		{"unknown error is internal", errors.New("pq: broken"), http.StatusInternalServerError, "internal_error"},
		{"configuration", apierrors.NewConfigurationError("no secret"), http.StatusInternalServerError, "configuration_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "pq:")
		})
	}
}

func TestError_UnauthorizedSetsChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	Unauthorized(rec)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestNewMeta(t *testing.T) {
	assert.Equal(t, 3, NewMeta(1, 20, 41).TotalPages)
	assert.Equal(t, 2, NewMeta(1, 20, 40).TotalPages)
	assert.Equal(t, 0, NewMeta(1, 20, 0).TotalPages)
}
