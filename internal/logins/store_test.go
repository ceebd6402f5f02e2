package logins

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/vaultline/logins/internal/db/migrations"
)

// passthroughEncryptor is a test Encryptor: it "encrypts" by prefixing the
// plaintext with the id, so round-tripping is verifiable without pulling in
// real crypto, and decrypting a value bound to the wrong id fails like the
// real codec would.
type passthroughEncryptor struct{}

func (passthroughEncryptor) Encrypt(id string, plaintext []byte) ([]byte, error) {
	out := append([]byte(id+"\x00"), plaintext...)
	return out, nil
}

func (passthroughEncryptor) Decrypt(id string, ciphertext []byte) ([]byte, error) {
	prefix := []byte(id + "\x00")
	if len(ciphertext) < len(prefix) || string(ciphertext[:len(prefix)]) != string(prefix) {
		return nil, &CryptoFailureError{Op: "decrypt", Err: assert.AnError}
	}
	return ciphertext[len(prefix):], nil
}

// fakeClock lets tests drive NowMillis deterministically.
type fakeClock struct{ millis int64 }

func (c *fakeClock) NowMillis() int64 { return c.millis }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr := migrations.NewMigrationManager(db, nil)
	require.NoError(t, mgr.Migrate())

	clock := &fakeClock{millis: 1_700_000_000_000}
	store := NewStore(db, passthroughEncryptor{}, clock)
	return store, clock
}

func testFields(origin string) LoginFields {
	return LoginFields{Origin: origin, FormActionOrigin: origin, UsernameField: "user", PasswordField: "pass"}
}

func testSecure(username, password string) SecureFields {
	return SecureFields{Username: username, Password: password}
}

func TestStore_AddAndGetByID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "https://example.com", added.Origin)

	got, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "hunter2", got.Password)
}

func TestStore_GetByID_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, found, err := store.GetByID(context.Background(), "missing-guid")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Add_RejectsDuplicateTarget(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	_, err = store.Add(ctx, testFields("https://example.com"), testSecure("alice", "different"))
	require.Error(t, err)
	var dupErr *DuplicateLoginError
	assert.ErrorAs(t, err, &dupErr)
}

func TestStore_Add_RejectsInvalidOrigin(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Add(context.Background(), LoginFields{FormActionOrigin: "https://example.com"}, testSecure("alice", "hunter2"))
	require.Error(t, err)
	var invalidErr *InvalidLoginError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestStore_Update(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	updated, err := store.Update(ctx, added.ID, testFields("https://example.com"), testSecure("alice", "newpassword"))
	require.NoError(t, err)
	assert.Equal(t, "newpassword", updated.Password)

	got, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "newpassword", got.Password)
}

func TestStore_Update_NoSuchRecord(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Update(context.Background(), "does-not-exist", testFields("https://example.com"), testSecure("a", "b"))
	require.Error(t, err)
	var notFound *NoSuchRecordError
	assert.ErrorAs(t, err, &notFound)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, added.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	assert.False(t, found)

	deletedAgain, err := store.Delete(ctx, added.ID)
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestStore_Delete_AfterSyncOverridesMirrorAndDoesNotResurrect(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	require.NoError(t, store.MarkSynchronized(ctx, []string{added.ID}, 1000))

	deleted, err := store.Delete(ctx, added.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	assert.False(t, found, "a tombstoned local row must not be resurrected by a still-overridable mirror row")

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	for _, login := range all {
		assert.NotEqual(t, added.ID, login.ID, "deleted record must not reappear in GetAll")
	}

	var overridden int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT is_overridden FROM loginsM WHERE guid = ?`, added.ID).Scan(&overridden))
	assert.Equal(t, 1, overridden, "mirror row must be marked overridden once the local copy is tombstoned")
}

func TestStore_AddMany_MixedBatchCommitsSuccessesSkipsFailures(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	existing, err := store.Add(ctx, testFields("https://taken.example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	batch := []Login{
		{LoginFields: testFields("https://one.example.com"), SecureFields: testSecure("bob", "hunter3")},
		{LoginFields: testFields("https://taken.example.com"), SecureFields: testSecure("alice", "different")},
		{LoginFields: testFields("https://two.example.com"), SecureFields: testSecure("carol", "hunter4")},
		{LoginFields: testFields("https://two.example.com"), SecureFields: testSecure("carol", "also-hunter4")},
	}

	results, err := store.AddMany(ctx, batch)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "bob", results[0].Login.Username)

	require.Error(t, results[1].Err)
	var dupErr *DuplicateLoginError
	assert.ErrorAs(t, results[1].Err, &dupErr)
	assert.Equal(t, existing.ID, dupErr.ExistingID)

	assert.NoError(t, results[2].Err)
	assert.Equal(t, "carol", results[2].Login.Username)

	require.Error(t, results[3].Err, "a duplicate against an earlier entry in the same batch must also be rejected")
	assert.ErrorAs(t, results[3].Err, &dupErr)
	assert.Equal(t, results[2].Login.ID, dupErr.ExistingID)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3, "only the pre-existing record plus the two successful batch entries were committed")

	_, found, err := store.GetByID(ctx, results[0].Login.ID)
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = store.GetByID(ctx, results[2].Login.ID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_Touch(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), added.TimesUsed)

	clock.millis += 1000
	require.NoError(t, store.Touch(ctx, added.ID))

	got, found, err := store.GetByID(ctx, added.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.TimesUsed)
	assert.Equal(t, clock.millis, got.TimeLastUsed)
}

func TestStore_GetAll_ExcludesDeleted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, err := store.Add(ctx, testFields("https://a.example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)
	_, err = store.Add(ctx, testFields("https://b.example.com"), testSecure("bob", "hunter3"))
	require.NoError(t, err)

	_, err = store.Delete(ctx, a.ID)
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "https://b.example.com", all[0].Origin)
}

func TestStore_CountAll(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	count, err = store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_AddOrUpdate_UpdatesExistingTarget(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Add(ctx, testFields("https://example.com"), testSecure("alice", "hunter2"))
	require.NoError(t, err)

	second, err := store.AddOrUpdate(ctx, testFields("https://example.com"), testSecure("alice", "rotated"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "rotated", second.Password)
}

func TestStore_WithChunkSize(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Equal(t, sqliteMaxVariables, store.chunk())

	store.WithChunkSize(7)
	assert.Equal(t, 7, store.chunk())
}
