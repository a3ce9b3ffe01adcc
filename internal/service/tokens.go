package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A token minted for one purpose is rejected for another.
const (
	purposeVerifyEmail   = "verify-email"
	purposeResetPassword = "reset-password"
)

var errInvalidToken = errors.New("invalid or expired token")

type tokenClaims struct {
	jwt.RegisteredClaims
	Purpose     string `json:"purpose"`
	Email       string `json:"email,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
}

// TokenIssuer mints and checks HS256 one-time tokens for email links.
type TokenIssuer struct {
	secret       []byte
	verifyExpiry time.Duration
	resetExpiry  time.Duration
	now          func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret.
func NewTokenIssuer(secret string, verifyExpiry, resetExpiry time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:       []byte(secret),
		verifyExpiry: verifyExpiry,
		resetExpiry:  resetExpiry,
		now:          time.Now,
	}
}

// ResetExpiry is how long a reset link stays valid.
func (t *TokenIssuer) ResetExpiry() time.Duration {
	return t.resetExpiry
}

// IssueVerification mints an email verification token bound to the address
// it was sent to.
func (t *TokenIssuer) IssueVerification(userID uuid.UUID, email string) (string, error) {
	return t.sign(tokenClaims{
		RegisteredClaims: t.registered(userID, t.verifyExpiry),
		Purpose:          purposeVerifyEmail,
		Email:            email,
	})
}

// ParseVerification returns the user and email a verification token was
// issued for.
func (t *TokenIssuer) ParseVerification(token string) (uuid.UUID, string, error) {
	claims, err := t.parse(token, purposeVerifyEmail)
	if err != nil {
		return uuid.Nil, "", err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", errInvalidToken
	}
	return id, claims.Email, nil
}

// IssueReset mints a password reset token bound to the current password
// hash, so it stops working once the password changes.
func (t *TokenIssuer) IssueReset(userID uuid.UUID, passwordHash string) (string, error) {
	return t.sign(tokenClaims{
		RegisteredClaims: t.registered(userID, t.resetExpiry),
		Purpose:          purposeResetPassword,
		Fingerprint:      passwordFingerprint(passwordHash),
	})
}

// ParseReset returns the user and password fingerprint of a reset token.
func (t *TokenIssuer) ParseReset(token string) (uuid.UUID, string, error) {
	claims, err := t.parse(token, purposeResetPassword)
	if err != nil {
		return uuid.Nil, "", err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", errInvalidToken
	}
	return id, claims.Fingerprint, nil
}

func (t *TokenIssuer) registered(userID uuid.UUID, ttl time.Duration) jwt.RegisteredClaims {
	now := t.now()
	return jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (t *TokenIssuer) sign(claims tokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(token, purpose string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.Purpose != purpose {
		return nil, errInvalidToken
	}
	return claims, nil
}

// passwordFingerprint is a short digest of a password hash. An empty hash
// (OAuth-only account) has its own fingerprint.
func passwordFingerprint(hash string) string {
	sum := sha256.Sum256([]byte("pw:" + hash))
	return hex.EncodeToString(sum[:8])
}
