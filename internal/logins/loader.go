package logins

import (
	"context"
	"encoding/json"
	"fmt"
)

// RawIncoming is one record as received from the sync transport, paired
// with the server timestamp the transport observed alongside it.
type RawIncoming struct {
	Payload        json.RawMessage
	ServerModified int64
}

// SyncLoginData is one reconciliation unit: an incoming record plus
// whatever local and mirror rows already exist for its id.
type SyncLoginData struct {
	GUID     string
	Local    *LocalRow
	Mirror   *MirrorRow
	Incoming IncomingRecord
}

// LoadSyncBatch decodes a batch of incoming records and assembles
// SyncLoginData triples against the current L and M tables, using chunked
// IN-list queries so arbitrarily large batches don't exceed SQLite's
// bound-variable limit. Malformed records are skipped rather than failing
// the batch; malformedCount reports how many were dropped.
func (s *Store) LoadSyncBatch(ctx context.Context, raws []RawIncoming) (triples []SyncLoginData, malformedCount int, err error) {
	incoming := make(map[string]IncomingRecord, len(raws))
	order := make([]string, 0, len(raws))
	for _, raw := range raws {
		rec, err := DecodeIncoming(raw.Payload, raw.ServerModified)
		if err != nil {
			s.logger.WithError(err).Warn("skipping malformed incoming sync record")
			malformedCount++
			s.recordSyncOutcome("malformed")
			continue
		}
		if _, dup := incoming[rec.GUID]; !dup {
			order = append(order, rec.GUID)
		}
		incoming[rec.GUID] = rec
	}
	if len(order) == 0 {
		return nil, malformedCount, nil
	}

	locals := make(map[string]LocalRow, len(order))
	mirrors := make(map[string]MirrorRow, len(order))

	for _, chunk := range chunkStrings(order, s.chunk()) {
		placeholders, args := inClause(chunk)

		lrows, err := s.db.QueryContext(ctx, `SELECT `+localColumns+` FROM loginsL WHERE guid IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, malformedCount, fmt.Errorf("load local rows for sync batch: %w", err)
		}
		if err := func() error {
			defer lrows.Close()
			for lrows.Next() {
				scan, err := scanLocalRow(lrows)
				if err != nil {
					return err
				}
				lr := scan.toLocalRow()
				if !lr.IsDeleted {
					secure, err := decryptSecureFields(s.enc, lr.ID, scan.secFields.String)
					if err != nil {
						return err
					}
					lr.SecureFields = secure
				}
				locals[lr.ID] = lr
			}
			return lrows.Err()
		}(); err != nil {
			return nil, malformedCount, err
		}

		mrows, err := s.db.QueryContext(ctx, `SELECT `+mirrorColumns+` FROM loginsM WHERE guid IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, malformedCount, fmt.Errorf("load mirror rows for sync batch: %w", err)
		}
		if err := func() error {
			defer mrows.Close()
			for mrows.Next() {
				scan, err := scanMirrorRow(mrows)
				if err != nil {
					return err
				}
				mr := scan.toMirrorRow()
				secure, err := decryptSecureFields(s.enc, mr.ID, scan.secFields.String)
				if err != nil {
					return err
				}
				mr.SecureFields = secure
				mirrors[mr.ID] = mr
			}
			return mrows.Err()
		}(); err != nil {
			return nil, malformedCount, err
		}
	}

	triples = make([]SyncLoginData, 0, len(order))
	for _, guid := range order {
		t := SyncLoginData{GUID: guid, Incoming: incoming[guid]}
		if l, ok := locals[guid]; ok {
			lCopy := l
			t.Local = &lCopy
		}
		if m, ok := mirrors[guid]; ok {
			mCopy := m
			t.Mirror = &mCopy
		}
		triples = append(triples, t)
	}
	return triples, malformedCount, nil
}
