package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_SetAndExpire(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.SetTyping(ctx, "c1", "u1", 50*time.Millisecond))
	users, err := s.ActiveTypers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	time.Sleep(60 * time.Millisecond)
	users, err = s.ActiveTypers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestInMemoryStore_ClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.SetTyping(ctx, "c1", "assistant", time.Minute))

	// Completion and timeout paths may both clear; the second call must be
	// a harmless no-op.
	require.NoError(t, s.ClearTyping(ctx, "c1", "assistant"))
	require.NoError(t, s.ClearTyping(ctx, "c1", "assistant"))

	users, err := s.ActiveTypers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, users)
}
