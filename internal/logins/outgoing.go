package logins

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// OutgoingChanges returns every local row not yet reflected on the server
// (sync_status != Synced), rendered as OutgoingRecord values ready for the
// sync transport to upload. Deleted rows become tombstones; others carry
// the current field/secure/meta values and, for rows materialized from a
// mirror, the mirror's preserved unknown fields.
func (s *Store) OutgoingChanges(ctx context.Context) (records []OutgoingRecord, err error) {
	defer func() { s.recordOp("outgoing_changes", err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT `+localColumns+` FROM loginsL WHERE sync_status != ?`, int(SyncStatusSynced))
	if err != nil {
		return nil, fmt.Errorf("query outgoing local rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		scan, err := scanLocalRow(rows)
		if err != nil {
			return nil, err
		}
		lr := scan.toLocalRow()
		if lr.IsDeleted {
			records = append(records, OutgoingRecord{GUID: lr.ID, Tombstone: true})
			continue
		}
		secure, err := decryptSecureFields(s.enc, lr.ID, scan.secFields.String)
		if err != nil {
			return nil, err
		}
		lr.SecureFields = secure
		unknown, err := s.unknownFieldsFor(ctx, lr.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, OutgoingRecord{
			GUID:    lr.ID,
			Fields:  lr.LoginFields,
			Secure:  lr.SecureFields,
			Meta:    lr.Meta,
			Unknown: unknown,
		})
	}
	return records, rows.Err()
}

// unknownFieldsFor returns the mirror row's preserved unknown fields for id,
// if a mirror row still exists, so edits made through the local overlay
// continue to re-emit server fields this store doesn't understand.
func (s *Store) unknownFieldsFor(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mirrorColumns+` FROM loginsM WHERE guid = ?`, id)
	scan, err := scanMirrorRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mirror unknown fields for %q: %w", id, err)
	}
	return scan.toMirrorRow().UnknownFields, nil
}
