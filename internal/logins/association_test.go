package logins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSynchronized_MovesRowFromLocalToMirror(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	require.NoError(t, store.MarkSynchronized(ctx, []string{added.ID}, 5000))

	outgoing, err := store.OutgoingChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, outgoing, "once marked synchronized the row is mirror-only and has nothing left to upload")

	got, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	require.True(t, found, "GetByID reads the effective view across L and M")
	assert.Equal(t, "alice", got.Username)
}

func TestMarkSynchronized_AdvancesLastSyncServerTS(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ts, err := store.LastSyncServerTS(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	require.NoError(t, store.MarkSynchronized(ctx, nil, 9999))

	ts, err = store.LastSyncServerTS(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), ts)
}
