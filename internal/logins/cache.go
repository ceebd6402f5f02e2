package logins

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"
)

// DedupeCache is a read-through accelerator in front of the target-
// equivalence lookup in dedupe.go. It never changes dedupe semantics: a
// cache hit still hands its candidate guids back through the normal
// decrypt-and-compare path, and a miss always falls through to SQL. It only
// saves re-scanning L∪M when a sync batch probes the same target
// repeatedly.
type DedupeCache struct {
	db *pebble.DB
}

// OpenDedupeCache opens (creating if necessary) a pebble instance rooted at
// dataDir/dedupe-cache. A small block cache is enough: the cache holds guid
// lists, not secret material.
func OpenDedupeCache(dataDir string) (*DedupeCache, error) {
	path := filepath.Join(dataDir, "dedupe-cache")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create dedupe cache directory: %w", err)
	}

	cache := pebble.NewCache(32 << 20)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("open dedupe cache: %w", err)
	}
	return &DedupeCache{db: db}, nil
}

// Close releases the underlying pebble handle.
func (c *DedupeCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// targetKey derives a stable cache key from a target tuple. form_action_origin
// and http_realm are mutually exclusive per §4.D so concatenating them with a
// separator byte that can't appear in either (both are URL/string fields
// that never contain NUL) keeps the key collision-free.
func targetKey(target Target) []byte {
	h := sha256.New()
	h.Write([]byte(target.Origin))
	h.Write([]byte{0})
	h.Write([]byte(target.FormActionOrigin))
	h.Write([]byte{0})
	h.Write([]byte(target.HTTPRealm))
	sum := h.Sum(nil)
	return append([]byte("target:"), sum...)
}

// candidateGUIDs is the cached value shape: just the guids, since the cache
// only exists to skip the scan — decryption and comparison against the
// caller's username still happen on the live rows.
type candidateGUIDs struct {
	GUIDs []string `json:"guids"`
}

// lookup returns cached candidate guids for target, or (nil, false) on a
// miss. A lookup error is treated as a miss rather than surfaced, since the
// cache is purely an optimization.
func (c *DedupeCache) lookup(target Target) ([]string, bool) {
	if c == nil || c.db == nil {
		return nil, false
	}
	val, closer, err := c.db.Get(targetKey(target))
	if err != nil {
		return nil, false
	}
	defer closer.Close()

	var cached candidateGUIDs
	if err := json.Unmarshal(val, &cached); err != nil {
		return nil, false
	}
	return cached.GUIDs, true
}

// store populates the cache entry for target. Errors are swallowed for the
// same reason as lookup: a failed cache write must never fail the caller's
// dedupe query.
func (c *DedupeCache) store(target Target, guids []string) {
	if c == nil || c.db == nil {
		return
	}
	payload, err := json.Marshal(candidateGUIDs{GUIDs: guids})
	if err != nil {
		return
	}
	_ = c.db.Set(targetKey(target), payload, pebble.NoSync)
}

// invalidate drops the cache entry for target. Called by add, update and
// delete; reconciler mutations drop the whole cache through
// invalidatePrefix instead.
func (c *DedupeCache) invalidate(target Target) {
	if c == nil || c.db == nil {
		return
	}
	_ = c.db.Delete(targetKey(target), pebble.NoSync)
}

// invalidatePrefix drops every cached target entry. Used by operations that
// touch an unbounded set of targets at once (wipe_local, association reset)
// where computing the precise target set isn't worth it.
func (c *DedupeCache) invalidatePrefix() {
	if c == nil || c.db == nil {
		return
	}
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: []byte("target:")})
	if err != nil {
		return
	}
	defer iter.Close()

	batch := c.db.NewBatch()
	for iter.SeekGE([]byte("target:")); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !strings.HasPrefix(string(key), "target:") {
			break
		}
		_ = batch.Delete(key, nil)
	}
	_ = batch.Commit(pebble.NoSync)
}
