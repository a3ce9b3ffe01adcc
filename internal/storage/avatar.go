package storage

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

// DefaultMaxAvatarBytes caps avatar uploads at 5 MiB.
const DefaultMaxAvatarBytes = 5 << 20

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// AllowedAvatarType reports whether contentType may be stored as an avatar.
func AllowedAvatarType(contentType string) bool {
	return avatarTypes[contentType]
}

// ValidateAvatar checks size, the client-declared content type and the
// sniffed content type. It returns the sniffed type.
func ValidateAvatar(data []byte, declared string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAvatarBytes
	}
	if len(data) == 0 {
		return "", apierrors.NewValidationError("file", "file is required")
	}
	if int64(len(data)) > maxBytes {
		return "", apierrors.NewValidationError("file",
			fmt.Sprintf("file must be at most %d MB", maxBytes>>20))
	}

	if declared != "" {
		mt, _, err := mime.ParseMediaType(declared)
		if err != nil || !AllowedAvatarType(mt) {
			return "", apierrors.NewValidationError("file", "file must be a JPEG, PNG, GIF, or WebP image")
		}
	}

	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if !AllowedAvatarType(sniffed) {
		return "", apierrors.NewValidationError("file", "file must be a JPEG, PNG, GIF, or WebP image")
	}
	return sniffed, nil
}

// AvatarKey returns the object key of a user's avatar.
func AvatarKey(userID string) string {
	return "users/" + userID + "/avatar"
}

// AvatarURL returns the public path serving a user's avatar.
func AvatarURL(userID string) string {
	return "/api/avatar/" + userID
}
