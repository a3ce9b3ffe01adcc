package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_IsBanned(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		banned  bool
		expires *time.Time
		want    bool
	}{
		{"not banned", false, nil, false},
		{"permanent ban", true, nil, true},
		{"ban in force", true, &future, true},
		{"lapsed ban", true, &past, false},
		{"expiry exactly now has lapsed", true, &now, false},
		{"stale expiry without ban flag", false, &future, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Banned: tt.banned, BanExpires: tt.expires}
			assert.Equal(t, tt.want, u.IsBanned(now))
		})
	}
}

func TestUser_Entitled(t *testing.T) {
	status := func(s SubscriptionStatus) *SubscriptionStatus { return &s }

	assert.False(t, (&User{}).Entitled())
	assert.True(t, (&User{SubscriptionStatus: status(SubscriptionActive)}).Entitled())
	assert.True(t, (&User{SubscriptionStatus: status(SubscriptionPastDue)}).Entitled())
	assert.False(t, (&User{SubscriptionStatus: status(SubscriptionCanceled)}).Entitled())
}

func TestSubscriptionState_Equal(t *testing.T) {
	active := SubscriptionActive
	active2 := SubscriptionActive
	pro := "pro"
	pro2 := "pro"

	assert.True(t, SubscriptionState{}.Equal(SubscriptionState{}))
	assert.True(t, SubscriptionState{Status: &active, Plan: &pro}.Equal(SubscriptionState{Status: &active2, Plan: &pro2}))
	assert.False(t, SubscriptionState{Status: &active}.Equal(SubscriptionState{Status: &active, Plan: &pro}))
	assert.True(t, SubscriptionState{}.IsFree())
}

func TestAPIKey_ResponseOmitsSecret(t *testing.T) {
	k := &APIKey{ID: "01J", Name: "CI", KeyPrefix: "nwa_abcdefgh", KeyHash: "deadbeef"}
	resp := k.Response()
	assert.Empty(t, resp.Key)
	assert.Equal(t, "nwa_abcdefgh", resp.KeyPrefix)
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	assert.True(t, (&Session{ExpiresAt: now}).Expired(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Minute)}).Expired(now))
}
