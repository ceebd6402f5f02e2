package logins

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutgoingChanges_DeletedLocalRowBecomesTombstone(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	_, err = store.Delete(ctx, added.ID)
	require.NoError(t, err)

	outgoing, err := store.OutgoingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.True(t, outgoing[0].Tombstone)
	assert.Equal(t, added.ID, outgoing[0].GUID)
}

func TestOutgoingChanges_PreservesUnknownFieldsFromMirror(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]any{
		"id":               "guid-unknown",
		"origin":           "https://example.com",
		"formActionOrigin": "https://example.com",
		"username":         "alice",
		"password":         "hunter2",
		"someFutureField":  "keep-me",
	})
	require.NoError(t, err)

	triples, _, err := store.LoadSyncBatch(ctx, []RawIncoming{{Payload: payload, ServerModified: 1000}})
	require.NoError(t, err)
	plan, _, err := store.Reconcile(ctx, triples, 1000, 2000, NeverInterrupt{})
	require.NoError(t, err)
	require.NoError(t, store.ExecuteUpdatePlan(ctx, plan, NeverInterrupt{}))

	// Locally edit the record so it becomes outgoing again, while the
	// mirror still carries the unknown field from the original upload.
	_, err = store.Update(ctx, "guid-unknown", testFields("https://example.com"), testSecure("alice", "rotated"))
	require.NoError(t, err)

	outgoing, err := store.OutgoingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	require.Contains(t, outgoing[0].Unknown, "someFutureField")
	assert.JSONEq(t, `"keep-me"`, string(outgoing[0].Unknown["someFutureField"]))
}

func TestOutgoingChanges_NoneWhenAllSynced(t *testing.T) {
	store, _ := newTestStore(t)
	outgoing, err := store.OutgoingChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outgoing)
}
