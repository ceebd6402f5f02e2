package logins

import (
	"context"
	"database/sql"
	"fmt"
)

// mirrorInsertOp is one entry of UpdatePlan.MirrorInserts: a brand-new
// mirror row, with no prior value to preserve.
type mirrorInsertOp struct {
	Incoming     IncomingRecord
	IsOverridden bool
}

// mirrorUpdateOp is one entry of UpdatePlan.MirrorUpdates: an overwrite of
// an existing mirror row, subject to avoid-zero semantics against it.
// IsOverridden carries whether the corresponding local row still diverges
// from this mirror content after reconciliation.
type mirrorUpdateOp struct {
	Incoming     IncomingRecord
	IsOverridden bool
}

// localUpdateOp is one entry of UpdatePlan.LocalUpdates: a merged row to
// write into L, always landing with sync_status = Changed.
type localUpdateOp struct {
	GUID   string
	Fields LoginFields
	Secure SecureFields
	Meta   Meta
}

// UpdatePlan is the reconciler's output: five ordered, independently
// chunkable batches executed inside a single transaction.
type UpdatePlan struct {
	DeleteLocal   []string
	DeleteMirror  []string
	MirrorInserts []mirrorInsertOp
	MirrorUpdates []mirrorUpdateOp
	LocalUpdates  []localUpdateOp
}

func (p UpdatePlan) empty() bool {
	return len(p.DeleteLocal) == 0 && len(p.DeleteMirror) == 0 &&
		len(p.MirrorInserts) == 0 && len(p.MirrorUpdates) == 0 && len(p.LocalUpdates) == 0
}

// ExecuteUpdatePlan applies an UpdatePlan in the five-batch order the
// reconciler assumes: local deletes, mirror deletes, mirror inserts,
// mirror updates, local updates. All five run in one transaction; any
// failure, including an observed interrupt, rolls the whole plan back.
func (s *Store) ExecuteUpdatePlan(ctx context.Context, plan UpdatePlan, interrupter Interrupter) error {
	if plan.empty() {
		return nil
	}
	if s.metrics != nil {
		s.metrics.SetUpdatePlanSize(
			len(plan.DeleteLocal), len(plan.DeleteMirror),
			len(plan.MirrorInserts), len(plan.MirrorUpdates), len(plan.LocalUpdates),
		)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.execDeleteBatch(ctx, tx, "loginsL", plan.DeleteLocal, interrupter); err != nil {
			return err
		}
		if err := s.execDeleteBatch(ctx, tx, "loginsM", plan.DeleteMirror, interrupter); err != nil {
			return err
		}
		if err := s.execMirrorInserts(ctx, tx, plan.MirrorInserts, interrupter); err != nil {
			return err
		}
		if err := s.execMirrorUpdates(ctx, tx, plan.MirrorUpdates, interrupter); err != nil {
			return err
		}
		if err := s.execLocalUpdates(ctx, tx, plan.LocalUpdates, interrupter); err != nil {
			return err
		}
		return nil
	})
	if err == nil {
		// A reconciliation batch can touch an arbitrary set of targets across
		// its five op lists; invalidating precisely would mean re-deriving a
		// target per op, so the whole cache is dropped instead.
		s.cache.invalidatePrefix()
	}
	return err
}

func (s *Store) execDeleteBatch(ctx context.Context, tx *sql.Tx, table string, guids []string, interrupter Interrupter) error {
	for _, chunk := range chunkStrings(guids, s.chunk()) {
		if err := checkInterrupt(interrupter); err != nil {
			return err
		}
		placeholders, args := inClause(chunk)
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE guid IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) execMirrorInserts(ctx context.Context, tx *sql.Tx, ops []mirrorInsertOp, interrupter Interrupter) error {
	for _, op := range ops {
		if err := checkInterrupt(interrupter); err != nil {
			return err
		}
		encoded, err := encryptSecureFields(s.enc, op.Incoming.GUID, op.Incoming.Secure)
		if err != nil {
			return err
		}
		unknown, err := encodeUnknownFields(op.Incoming.Unknown)
		if err != nil {
			return fmt.Errorf("encode unknown fields for %q: %w", op.Incoming.GUID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loginsM (
				guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
				secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
				timeOfLastBreach, timeLastBreachAlertDismissed, server_modified, is_overridden, enc_unknown_fields
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?)
			ON CONFLICT(guid) DO UPDATE SET
				origin = excluded.origin, httpRealm = excluded.httpRealm, formActionOrigin = excluded.formActionOrigin,
				usernameField = excluded.usernameField, passwordField = excluded.passwordField,
				secFields = excluded.secFields, timesUsed = excluded.timesUsed, timeCreated = excluded.timeCreated,
				timeLastUsed = excluded.timeLastUsed, timePasswordChanged = excluded.timePasswordChanged,
				server_modified = excluded.server_modified, is_overridden = excluded.is_overridden,
				enc_unknown_fields = excluded.enc_unknown_fields
		`, op.Incoming.GUID, op.Incoming.Fields.Origin, op.Incoming.Fields.HTTPRealm, op.Incoming.Fields.FormActionOrigin,
			op.Incoming.Fields.UsernameField, op.Incoming.Fields.PasswordField, encoded,
			op.Incoming.TimesUsed, op.Incoming.TimeCreated, op.Incoming.TimeLastUsed, op.Incoming.TimePasswordChanged,
			op.Incoming.ServerModified, op.IsOverridden, unknown)
		if err != nil {
			return fmt.Errorf("insert mirror row %q: %w", op.Incoming.GUID, err)
		}
	}
	return nil
}

// avoidZero returns prior when incoming is non-positive, tolerating older
// clients that upload records with stripped metadata.
func avoidZero(incoming, prior int64) int64 {
	if incoming <= 0 {
		return prior
	}
	return incoming
}

func (s *Store) execMirrorUpdates(ctx context.Context, tx *sql.Tx, ops []mirrorUpdateOp, interrupter Interrupter) error {
	for _, op := range ops {
		if err := checkInterrupt(interrupter); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `SELECT `+mirrorColumns+` FROM loginsM WHERE guid = ?`, op.Incoming.GUID)
		scan, err := scanMirrorRow(row)
		if err != nil {
			return fmt.Errorf("load prior mirror row %q: %w", op.Incoming.GUID, err)
		}
		prior := scan.toMirrorRow()

		encoded, err := encryptSecureFields(s.enc, op.Incoming.GUID, op.Incoming.Secure)
		if err != nil {
			return err
		}
		unknown, err := encodeUnknownFields(op.Incoming.Unknown)
		if err != nil {
			return fmt.Errorf("encode unknown fields for %q: %w", op.Incoming.GUID, err)
		}

		timesUsed := avoidZero(op.Incoming.TimesUsed, prior.TimesUsed)
		timeCreated := avoidZero(op.Incoming.TimeCreated, prior.TimeCreated)
		timeLastUsed := avoidZero(op.Incoming.TimeLastUsed, prior.TimeLastUsed)
		timePasswordChanged := avoidZero(op.Incoming.TimePasswordChanged, prior.TimePasswordChanged)

		_, err = tx.ExecContext(ctx, `
			UPDATE loginsM SET
				origin = ?, httpRealm = ?, formActionOrigin = ?, usernameField = ?, passwordField = ?,
				secFields = ?, timesUsed = ?, timeCreated = ?, timeLastUsed = ?, timePasswordChanged = ?,
				server_modified = ?, is_overridden = ?, enc_unknown_fields = ?
			WHERE guid = ?
		`, op.Incoming.Fields.Origin, op.Incoming.Fields.HTTPRealm, op.Incoming.Fields.FormActionOrigin,
			op.Incoming.Fields.UsernameField, op.Incoming.Fields.PasswordField, encoded,
			timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
			op.Incoming.ServerModified, op.IsOverridden, unknown, op.Incoming.GUID)
		if err != nil {
			return fmt.Errorf("update mirror row %q: %w", op.Incoming.GUID, err)
		}
	}
	return nil
}

func (s *Store) execLocalUpdates(ctx context.Context, tx *sql.Tx, ops []localUpdateOp, interrupter Interrupter) error {
	for _, op := range ops {
		if err := checkInterrupt(interrupter); err != nil {
			return err
		}
		now := s.clock.NowMillis()
		encoded, err := encryptSecureFields(s.enc, op.GUID, op.Secure)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loginsL (
				guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
				secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
				timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, 0, ?)
			ON CONFLICT(guid) DO UPDATE SET
				origin = excluded.origin, httpRealm = excluded.httpRealm, formActionOrigin = excluded.formActionOrigin,
				usernameField = excluded.usernameField, passwordField = excluded.passwordField,
				secFields = excluded.secFields, timesUsed = excluded.timesUsed, timeCreated = excluded.timeCreated,
				timeLastUsed = excluded.timeLastUsed, timePasswordChanged = excluded.timePasswordChanged,
				local_modified = excluded.local_modified, is_deleted = 0, sync_status = excluded.sync_status
		`, op.GUID, op.Fields.Origin, op.Fields.HTTPRealm, op.Fields.FormActionOrigin,
			op.Fields.UsernameField, op.Fields.PasswordField, encoded,
			op.Meta.TimesUsed, op.Meta.TimeCreated, op.Meta.TimeLastUsed, op.Meta.TimePasswordChanged,
			now, int(SyncStatusChanged))
		if err != nil {
			return fmt.Errorf("write local update %q: %w", op.GUID, err)
		}
	}
	return nil
}
