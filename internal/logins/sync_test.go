package logins

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIncomingRaw(t *testing.T, id, origin, username, password string, serverModified int64) RawIncoming {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":               id,
		"origin":           origin,
		"formActionOrigin": origin,
		"username":         username,
		"password":         password,
	})
	require.NoError(t, err)
	return RawIncoming{Payload: payload, ServerModified: serverModified}
}

func TestSync_NewIncomingRecordBecomesMirrorInsertWithNothingOutgoing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	raw := newIncomingRaw(t, "guid-1", "https://example.com", "alice", "hunter2", 1000)
	triples, malformed, err := store.LoadSyncBatch(ctx, []RawIncoming{raw})
	require.NoError(t, err)
	assert.Equal(t, 0, malformed)
	require.Len(t, triples, 1)

	plan, stats, err := store.Reconcile(ctx, triples, 1000, 2000, NeverInterrupt{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)

	require.NoError(t, store.ExecuteUpdatePlan(ctx, plan, NeverInterrupt{}))

	login, found, err := store.GetByID(ctx, "guid-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", login.Username)

	outgoing, err := store.OutgoingChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, outgoing, "a record materialized straight from the mirror has nothing outstanding to upload")
}

func TestSync_LocalChangeSurvivesUntilUploaded(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	outgoing, err := store.OutgoingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, added.ID, outgoing[0].GUID)
	assert.False(t, outgoing[0].Tombstone)
	assert.Equal(t, "alice", outgoing[0].Secure.Username)
}

func TestSync_TombstoneDeletesLocalAndMirror(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	raw := newIncomingRaw(t, "guid-2", "https://example.com", "alice", "hunter2", 1000)
	triples, _, err := store.LoadSyncBatch(ctx, []RawIncoming{raw})
	require.NoError(t, err)
	plan, _, err := store.Reconcile(ctx, triples, 1000, 2000, NeverInterrupt{})
	require.NoError(t, err)
	require.NoError(t, store.ExecuteUpdatePlan(ctx, plan, NeverInterrupt{}))

	_, found, err := store.GetByID(ctx, "guid-2")
	require.NoError(t, err)
	require.True(t, found)

	tombstonePayload, err := json.Marshal(map[string]any{"id": "guid-2", "deleted": true})
	require.NoError(t, err)
	triples, _, err = store.LoadSyncBatch(ctx, []RawIncoming{{Payload: tombstonePayload, ServerModified: 3000}})
	require.NoError(t, err)
	plan, stats, err := store.Reconcile(ctx, triples, 3000, 4000, NeverInterrupt{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)
	require.NoError(t, store.ExecuteUpdatePlan(ctx, plan, NeverInterrupt{}))

	_, found, err = store.GetByID(ctx, "guid-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSync_MalformedRecordIsSkippedNotFatal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	bad := RawIncoming{Payload: json.RawMessage(`{"origin": "https://example.com"}`), ServerModified: 1000}
	good := newIncomingRaw(t, "guid-3", "https://good.example.com", "bob", "hunter3", 1000)

	triples, malformed, err := store.LoadSyncBatch(ctx, []RawIncoming{bad, good})
	require.NoError(t, err)
	assert.Equal(t, 1, malformed)
	require.Len(t, triples, 1)
	assert.Equal(t, "guid-3", triples[0].GUID)
}

func TestSync_ReconcileRespectsInterrupter(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	raw := newIncomingRaw(t, "guid-4", "https://example.com", "alice", "hunter2", 1000)
	triples, _, err := store.LoadSyncBatch(ctx, []RawIncoming{raw})
	require.NoError(t, err)

	var flag InterruptFlag
	flag.Signal()
	_, _, err = store.Reconcile(ctx, triples, 1000, 2000, &flag)
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestSync_AssociationRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assoc, err := store.GetAssociation(ctx)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, assoc)

	require.NoError(t, store.Reset(ctx, Connect("global-1", "coll-1")))

	assoc, err = store.GetAssociation(ctx)
	require.NoError(t, err)
	assert.True(t, assoc.Connected)
	assert.Equal(t, "global-1", assoc.GlobalSyncID)
	assert.Equal(t, "coll-1", assoc.CollectionSyncID)
}

func TestSync_ResetMarksExistingLocalRowsOutgoingAgain(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, Connect("global-1", "coll-1")))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "reset preserves unsynced local content; it only clears mirror bookkeeping")
	assert.Equal(t, added.ID, all[0].ID)

	outgoing, err := store.OutgoingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, outgoing, 1, "a reset store re-treats all local rows as new content to upload")
	assert.Equal(t, added.ID, outgoing[0].GUID)
}

func TestSync_ThreeWayMerge_RemoteWinsCleanlyClearsOverride(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	require.NoError(t, store.MarkSynchronized(ctx, []string{added.ID}, 1000))

	// Materialize a local row that is a byte-for-byte copy of the mirror,
	// the same way ensureOverlay would, but with no local-only change on
	// top of it: no genuine content conflict exists yet.
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO loginsL (
			guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
			secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
			timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status
		)
		SELECT guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
			secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
			timeOfLastBreach, timeLastBreachAlertDismissed, NULL, 0, ?
		FROM loginsM WHERE guid = ?
	`, int(SyncStatusSynced), added.ID)
	require.NoError(t, err)

	raw := newIncomingRaw(t, added.ID, "https://example.com", "alice", "hunter2", 2000)
	triples, _, err := store.LoadSyncBatch(ctx, []RawIncoming{raw})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	require.NotNil(t, triples[0].Local)
	require.NotNil(t, triples[0].Mirror)

	plan, stats, err := store.Reconcile(ctx, triples, 2000, 3000, NeverInterrupt{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reconciled)
	require.NoError(t, store.ExecuteUpdatePlan(ctx, plan, NeverInterrupt{}))

	var overridden int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT is_overridden FROM loginsM WHERE guid = ?`, added.ID).Scan(&overridden))
	assert.Equal(t, 0, overridden, "a merge with no surviving content conflict must clear the mirror's override flag")
}

func TestSync_ThreeWayMerge_ConflictingFieldsKeepOverride(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	require.NoError(t, store.MarkSynchronized(ctx, []string{added.ID}, 1000))

	_, err = store.Update(ctx, added.ID, testFields("https://example.com"), testSecure("alice", "newpassword"))
	require.NoError(t, err)

	raw := newIncomingRaw(t, added.ID, "https://changed.example.com", "alice", "hunter2", 2000)
	triples, _, err := store.LoadSyncBatch(ctx, []RawIncoming{raw})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	require.NotNil(t, triples[0].Local)
	require.NotNil(t, triples[0].Mirror)

	plan, stats, err := store.Reconcile(ctx, triples, 2000, 3000, NeverInterrupt{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reconciled)
	require.NoError(t, store.ExecuteUpdatePlan(ctx, plan, NeverInterrupt{}))

	var overridden int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT is_overridden FROM loginsM WHERE guid = ?`, added.ID).Scan(&overridden))
	assert.Equal(t, 1, overridden, "the merged local row still carries a password the mirror's content doesn't, so the mirror must stay overridden")

	got, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "newpassword", got.Password, "the local row keeps precedence while it still diverges from the mirror")
}
