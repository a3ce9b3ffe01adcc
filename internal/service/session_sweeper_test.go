package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
)

func TestSessionSweeper_Sweep(t *testing.T) {
	sessions := newFakeSessionRepo()
	user := &models.User{Email: "ada@example.com"}
	newFakeUserRepo(user)

	live := newSession(t, sessions, user.ID)
	for i := 0; i < 3; i++ {
		require.NoError(t, sessions.Create(context.Background(), &models.Session{
			Token:     "old-" + string(rune('a'+i)),
			UserID:    user.ID,
			ExpiresAt: time.Now().Add(-time.Hour),
		}))
	}

	sweeper := NewSessionSweeper(sessions, time.Minute, discardLogger())
	assert.Equal(t, int64(3), sweeper.Sweep(context.Background()))
	assert.Equal(t, 1, sessions.count())
	assert.True(t, sessions.has(live.ID))
	assert.Equal(t, int64(0), sweeper.Sweep(context.Background()))
}

func TestSessionSweeper_RunStopsWithContext(t *testing.T) {
	sweeper := NewSessionSweeper(newFakeSessionRepo(), time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
