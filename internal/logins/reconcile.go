package logins

import (
	"context"
	"fmt"
	"time"
)

// ReconcileStats tallies per-triple outcomes for telemetry: how many
// records were applied without a merge, how many required an actual
// two-way or three-way merge, and how many failed outright.
type ReconcileStats struct {
	Applied    int
	Reconciled int
	Failed     int
}

// Reconcile runs the per-triple case analysis of the sync algorithm over a
// loaded batch, returning an UpdatePlan ready for ExecuteUpdatePlan plus
// outcome counters. serverNow is the server timestamp of the sync batch,
// used for merge age comparisons; now is the local wall-clock time.
func (s *Store) Reconcile(ctx context.Context, triples []SyncLoginData, serverNow, now int64, interrupter Interrupter) (UpdatePlan, ReconcileStats, error) {
	start := time.Now()
	if s.metrics != nil {
		defer func() { s.metrics.ObserveSyncDuration(time.Since(start)) }()
	}

	var plan UpdatePlan
	var stats ReconcileStats

	for _, t := range triples {
		if err := checkInterrupt(interrupter); err != nil {
			return UpdatePlan{}, stats, err
		}

		switch {
		case t.Incoming.Tombstone:
			plan.DeleteLocal = append(plan.DeleteLocal, t.GUID)
			plan.DeleteMirror = append(plan.DeleteMirror, t.GUID)
			stats.Applied++
			s.recordSyncOutcome("tombstone_deleted")

		case t.Local == nil && t.Mirror == nil:
			dupe, err := s.findContentDupe(ctx, s.db, t.Incoming)
			if err != nil {
				return UpdatePlan{}, stats, err
			}
			if dupe != nil && dupe.Username == t.Incoming.Secure.Username {
				var dupeModified int64
				if dupe.LocalModified != nil {
					dupeModified = *dupe.LocalModified
				}
				s.twoWayMerge(&plan, t.GUID, dupe.ID, fieldSetOf(dupe.Login), fieldSet{}, t.Incoming, now, dupeModified, serverNow)
				stats.Reconciled++
				s.recordSyncOutcome("two_way_merged")
			} else {
				plan.MirrorInserts = append(plan.MirrorInserts, mirrorInsertOp{Incoming: t.Incoming, IsOverridden: false})
				stats.Applied++
				s.recordSyncOutcome("mirror_inserted")
			}

		case t.Mirror != nil && t.Local == nil:
			plan.MirrorUpdates = append(plan.MirrorUpdates, mirrorUpdateOp{Incoming: t.Incoming, IsOverridden: false})
			stats.Applied++
			s.recordSyncOutcome("mirror_updated")

		case t.Local != nil && t.Mirror == nil:
			if t.Local.IsDeleted {
				plan.DeleteLocal = append(plan.DeleteLocal, t.GUID)
				plan.MirrorInserts = append(plan.MirrorInserts, mirrorInsertOp{Incoming: t.Incoming, IsOverridden: false})
				stats.Applied++
				s.recordSyncOutcome("mirror_inserted")
				continue
			}
			if t.Local.TimePasswordChanged > t.Incoming.TimePasswordChanged {
				plan.MirrorInserts = append(plan.MirrorInserts, mirrorInsertOp{Incoming: t.Incoming, IsOverridden: true})
			} else {
				plan.MirrorInserts = append(plan.MirrorInserts, mirrorInsertOp{Incoming: t.Incoming, IsOverridden: false})
				plan.DeleteLocal = append(plan.DeleteLocal, t.GUID)
			}
			stats.Reconciled++
			s.recordSyncOutcome("mirror_inserted")

		default:
			s.threeWayMerge(&plan, t, serverNow, now)
			stats.Reconciled++
			s.recordSyncOutcome("three_way_merged")
		}
	}

	return plan, stats, nil
}

func (s *Store) recordSyncOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSyncOutcome(outcome)
	}
}

// findContentDupe mirrors the dedupe target-equivalence lookup, scoped to
// non-deleted L rows only, for the "incoming matches an unsynced local
// record" case (§4.F case 2).
func (s *Store) findContentDupe(ctx context.Context, q querier, incoming IncomingRecord) (*LocalRow, error) {
	target := incoming.Fields.Target()
	rows, err := q.QueryContext(ctx, `
		SELECT `+localColumns+` FROM loginsL
		WHERE is_deleted = 0 AND origin = ? AND formActionOrigin = ? AND httpRealm = ?
	`, target.Origin, target.FormActionOrigin, target.HTTPRealm)
	if err != nil {
		return nil, fmt.Errorf("query content dupe: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	scan, err := scanLocalRow(rows)
	if err != nil {
		return nil, err
	}
	lr := scan.toLocalRow()
	secure, err := decryptSecureFields(s.enc, lr.ID, scan.secFields.String)
	if err != nil {
		return nil, err
	}
	lr.SecureFields = secure
	return &lr, nil
}

// twoWayMerge handles a content-dupe merge with no common ancestor: every
// local field and every incoming field counts as "changed", so the
// smaller-age side wins wherever they disagree. The dupe's old guid is
// retired in favor of the incoming record's guid, which becomes the
// canonical id for both the mirror insert and the local row going forward.
func (s *Store) twoWayMerge(plan *UpdatePlan, incomingGUID, dupeGUID string, local, ancestor fieldSet, incoming IncomingRecord, now, localModified, serverNow int64) {
	localDelta := diff(local, ancestor)
	upstreamDelta := diff(fieldSetOfIncoming(incoming), ancestor)
	merged := mergeDeltas(localDelta, upstreamDelta, ageInputs{now: now, localModified: localModified, serverNow: serverNow, serverModified: incoming.ServerModified})
	result := merged.apply(ancestor)

	mergedIncoming := incoming
	mergedIncoming.Fields = result.toLoginFields()
	mergedIncoming.Secure = result.toSecureFields()
	mergedIncoming.TimeCreated = result.TimeCreated
	mergedIncoming.TimeLastUsed = result.TimeLastUsed
	mergedIncoming.TimePasswordChanged = result.TimePasswordChanged
	mergedIncoming.TimesUsed = result.TimesUsed

	plan.MirrorInserts = append(plan.MirrorInserts, mirrorInsertOp{Incoming: mergedIncoming, IsOverridden: false})
	if dupeGUID != incomingGUID {
		plan.DeleteLocal = append(plan.DeleteLocal, dupeGUID)
	}
	plan.LocalUpdates = append(plan.LocalUpdates, localUpdateOp{
		GUID:   incomingGUID,
		Fields: result.toLoginFields(),
		Secure: result.toSecureFields(),
		Meta: Meta{
			ID:                  incomingGUID,
			TimeCreated:         result.TimeCreated,
			TimeLastUsed:        result.TimeLastUsed,
			TimePasswordChanged: result.TimePasswordChanged,
			TimesUsed:           result.TimesUsed,
		},
	})
}

// threeWayMerge implements §4.F's three-way merge using the mirror row as
// the common ancestor.
func (s *Store) threeWayMerge(plan *UpdatePlan, t SyncLoginData, serverNow, now int64) {
	ancestor := fieldSetOf(t.Mirror.Login)
	upstreamDelta := diff(fieldSetOfIncoming(t.Incoming), ancestor)

	var localDelta delta
	var localModified int64
	if t.Local.IsDeleted {
		localDelta = upstreamDelta
	} else {
		localDelta = diff(fieldSetOf(t.Local.Login), ancestor)
		if t.Local.LocalModified != nil {
			localModified = *t.Local.LocalModified
		}
	}

	merged := mergeDeltas(localDelta, upstreamDelta, ageInputs{now: now, localModified: localModified, serverNow: serverNow, serverModified: t.Incoming.ServerModified})
	result := merged.apply(ancestor)

	// The mirror is about to hold the incoming content (non-positive
	// timestamps falling back to the ancestor's, per execMirrorUpdates'
	// avoidZero rule); the local row holds the merged result. If the two
	// disagree on anything but times_used, the local copy must keep taking
	// precedence over the mirror until it is itself uploaded.
	effectiveMirror := fieldSetOfIncoming(t.Incoming)
	effectiveMirror.TimeCreated = avoidZero(effectiveMirror.TimeCreated, ancestor.TimeCreated)
	effectiveMirror.TimeLastUsed = avoidZero(effectiveMirror.TimeLastUsed, ancestor.TimeLastUsed)
	effectiveMirror.TimePasswordChanged = avoidZero(effectiveMirror.TimePasswordChanged, ancestor.TimePasswordChanged)
	overridden := !result.equalContent(effectiveMirror)

	plan.MirrorUpdates = append(plan.MirrorUpdates, mirrorUpdateOp{Incoming: t.Incoming, IsOverridden: overridden})
	plan.LocalUpdates = append(plan.LocalUpdates, localUpdateOp{
		GUID:   t.GUID,
		Fields: result.toLoginFields(),
		Secure: result.toSecureFields(),
		Meta: Meta{
			ID:                  t.GUID,
			TimeCreated:         result.TimeCreated,
			TimeLastUsed:        result.TimeLastUsed,
			TimePasswordChanged: result.TimePasswordChanged,
			TimesUsed:           result.TimesUsed,
		},
	})
}
