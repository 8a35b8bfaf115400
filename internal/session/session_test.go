package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreDefaultsToHybrid(t *testing.T) {
	s := NewMemoryStore()
	sess, err := s.Get(context.Background(), "+62811")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, sess.Mode)
	assert.Empty(t, sess.PendingConfirm)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sess := Session{Mode: ModeGeneral, PendingConfirm: "redeem"}
	require.NoError(t, s.Save(ctx, "+62811", sess))

	got, err := s.Get(ctx, "+62811")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	// Other identities are unaffected.
	other, err := s.Get(ctx, "+62812")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, other.Mode)
}
