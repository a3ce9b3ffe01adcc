package ulid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsValidAndSortable(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = New()
		require.True(t, IsValid(ids[i]))
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestAt_RoundTripsTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	got, err := Time(At(ts))
	require.NoError(t, err)
	assert.True(t, got.Equal(ts.Truncate(time.Millisecond)))
}

func TestIsValid_Rejects(t *testing.T) {
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("not-a-ulid"))
}
