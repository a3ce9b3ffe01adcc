// Package handler provides HTTP handlers for the API server.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/middleware"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
)

// maxJSONBody caps ordinary request bodies.
const maxJSONBody = 64 << 10

// Guards are the access middlewares applied to route groups.
type Guards struct {
	// Identify attaches the caller when credentials are present.
	Identify func(http.Handler) http.Handler
	// SelfService requires an authenticated, non-banned caller.
	SelfService func(http.Handler) http.Handler
	// Admin additionally requires the admin role.
	Admin func(http.Handler) http.Handler
	// AuthLimit throttles credential endpoints.
	AuthLimit func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

func (g Guards) withDefaults() Guards {
	if g.Identify == nil {
		g.Identify = passthrough
	}
	if g.SelfService == nil {
		g.SelfService = passthrough
	}
	if g.Admin == nil {
		g.Admin = passthrough
	}
	if g.AuthLimit == nil {
		g.AuthLimit = passthrough
	}
	return g
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierrors.ErrBadRequest.WithMessage("Invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError maps validator field errors onto the error envelope.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.ErrBadRequest.WithMessage("Invalid request body")
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fieldMessage(fe)
	}
	return apierrors.NewValidationErrors(out)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "eqfield":
		return "must match " + strings.ToLower(fe.Param())
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}

// clientInfo describes the caller for session and audit records.
func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IPAddress: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

// principal returns the authenticated caller set by the access middleware.
func principal(r *http.Request) (*access.Principal, error) {
	return access.MustFromContext(r.Context())
}
