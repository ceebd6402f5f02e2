package logins

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	metaKeyLastSyncServerTS = "last_sync_server_ts"
	metaKeyGlobalSyncID     = "global_sync_id"
	metaKeyCollectionSyncID = "collection_sync_id"
	metaKeyGlobalStateBlob  = "global_state_blob"
)

// Association is the store's sync identity: either Disconnected (the zero
// value) or Connected to a specific (global_sync_id, collection_sync_id)
// pair handed down by the sync manager.
type Association struct {
	Connected        bool
	GlobalSyncID     string
	CollectionSyncID string
}

// Disconnected is the zero-value association, recording no sync identity.
var Disconnected = Association{}

// Connect builds a Connected association for the given id pair.
func Connect(globalSyncID, collectionSyncID string) Association {
	return Association{Connected: true, GlobalSyncID: globalSyncID, CollectionSyncID: collectionSyncID}
}

func getMeta(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM loginsSyncMeta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sync meta %q: %w", key, err)
	}
	return value, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO loginsSyncMeta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write sync meta %q: %w", key, err)
	}
	return nil
}

func deleteMeta(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM loginsSyncMeta WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete sync meta %q: %w", key, err)
	}
	return nil
}

// GetAssociation reports the currently recorded sync identity.
func (s *Store) GetAssociation(ctx context.Context) (Association, error) {
	global, err := getMeta(ctx, s.db, metaKeyGlobalSyncID)
	if err != nil {
		return Association{}, err
	}
	collection, err := getMeta(ctx, s.db, metaKeyCollectionSyncID)
	if err != nil {
		return Association{}, err
	}
	if global == "" && collection == "" {
		return Disconnected, nil
	}
	return Connect(global, collection), nil
}

// LastSyncServerTS returns the last_sync_server_ts marker, 0 if never set.
func (s *Store) LastSyncServerTS(ctx context.Context) (int64, error) {
	v, err := getMeta(ctx, s.db, metaKeyLastSyncServerTS)
	if err != nil || v == "" {
		return 0, err
	}
	var ts int64
	if _, err := fmt.Sscanf(v, "%d", &ts); err != nil {
		return 0, fmt.Errorf("parse last_sync_server_ts: %w", err)
	}
	return ts, nil
}

// Reset clones M into L as all-new content, empties M, and (re)establishes
// the given association, discarding any prior sync bookkeeping. After
// Reset, the next sync treats the entire local store as new content to
// upload.
func (s *Store) Reset(ctx context.Context, assoc Association) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO loginsL (
				guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
				secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
				timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status
			)
			SELECT guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
				secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
				timeOfLastBreach, timeLastBreachAlertDismissed, NULL, 0, ?
			FROM loginsM
			ON CONFLICT(guid) DO UPDATE SET
				origin = excluded.origin, httpRealm = excluded.httpRealm, formActionOrigin = excluded.formActionOrigin,
				usernameField = excluded.usernameField, passwordField = excluded.passwordField,
				secFields = excluded.secFields, timesUsed = excluded.timesUsed, timeCreated = excluded.timeCreated,
				timeLastUsed = excluded.timeLastUsed, timePasswordChanged = excluded.timePasswordChanged,
				timeOfLastBreach = excluded.timeOfLastBreach, timeLastBreachAlertDismissed = excluded.timeLastBreachAlertDismissed,
				local_modified = NULL, is_deleted = 0, sync_status = ?
		`, int(SyncStatusNew), int(SyncStatusNew))
		if err != nil {
			return fmt.Errorf("clone mirror into local: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM loginsM`); err != nil {
			return fmt.Errorf("empty mirror: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE loginsL SET sync_status = ?`, int(SyncStatusNew)); err != nil {
			return fmt.Errorf("force local rows new: %w", err)
		}

		if err := setMeta(ctx, tx, metaKeyLastSyncServerTS, "0"); err != nil {
			return err
		}

		if assoc.Connected {
			if err := setMeta(ctx, tx, metaKeyGlobalSyncID, assoc.GlobalSyncID); err != nil {
				return err
			}
			if err := setMeta(ctx, tx, metaKeyCollectionSyncID, assoc.CollectionSyncID); err != nil {
				return err
			}
		} else {
			if err := deleteMeta(ctx, tx, metaKeyGlobalSyncID); err != nil {
				return err
			}
			if err := deleteMeta(ctx, tx, metaKeyCollectionSyncID); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.cache.invalidatePrefix()
	}
	return err
}

// MarkSynchronized moves each synced guid's local row into the mirror,
// clearing overlay state, and advances the last-sync marker. Called by the
// sync transport after a successful upload of outgoing records.
func (s *Store) MarkSynchronized(ctx context.Context, guids []string, newServerTS int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkStrings(guids, s.chunk()) {
			placeholders, args := inClause(chunk)

			if _, err := tx.ExecContext(ctx, `DELETE FROM loginsM WHERE guid IN (`+placeholders+`)`, args...); err != nil {
				return fmt.Errorf("clear mirror rows before re-sync: %w", err)
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO loginsM (
					guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
					secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
					timeOfLastBreach, timeLastBreachAlertDismissed, server_modified, is_overridden, enc_unknown_fields
				)
				SELECT guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
					secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
					timeOfLastBreach, timeLastBreachAlertDismissed, ?, 0, NULL
				FROM loginsL WHERE guid IN (`+placeholders+`) AND is_deleted = 0
			`, append([]any{newServerTS}, args...)...)
			if err != nil {
				return fmt.Errorf("materialize synced rows into mirror: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM loginsL WHERE guid IN (`+placeholders+`)`, args...); err != nil {
				return fmt.Errorf("clear local rows after sync: %w", err)
			}
		}

		return setMeta(ctx, tx, metaKeyLastSyncServerTS, fmt.Sprintf("%d", newServerTS))
	})
	if err == nil {
		s.cache.invalidatePrefix()
	}
	return err
}
