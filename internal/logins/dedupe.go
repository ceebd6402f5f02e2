package logins

import (
	"context"
	"fmt"
)

// candidate is a target-equivalent record surfaced by dedupe, with its
// secure fields already decrypted.
type candidate struct {
	id       string
	username string
}

// findTargetEquivalent returns every record (drawn from non-deleted L rows
// and non-overridden M rows) whose target matches the given one, excluding
// a given "self" id. Decryption happens here because dedupe always needs
// the plaintext username to decide duplicate-ness.
//
// When the store has a dedupe cache, the full (un-excluded) candidate id
// set for target is read through it: a hit resolves guids by id instead of
// rescanning L∪M by target. This never changes the result, only how it's
// computed — the returned rows are still freshly read and decrypted.
func (s *Store) findTargetEquivalent(ctx context.Context, q querier, target Target, excludeID string) ([]candidate, error) {
	if ids, ok := s.cache.lookup(target); ok {
		all, err := s.fetchCandidatesByIDs(ctx, q, ids)
		if err != nil {
			return nil, err
		}
		return excludeCandidate(all, excludeID), nil
	}

	all, err := s.scanTargetEquivalents(ctx, q, target)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.id
	}
	s.cache.store(target, ids)
	return excludeCandidate(all, excludeID), nil
}

func excludeCandidate(in []candidate, excludeID string) []candidate {
	if excludeID == "" {
		return in
	}
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		if c.id != excludeID {
			out = append(out, c)
		}
	}
	return out
}

// scanTargetEquivalents is the uncached full scan: every non-deleted L row
// and non-overridden M row matching target, with no excludeID filter.
func (s *Store) scanTargetEquivalents(ctx context.Context, q querier, target Target) ([]candidate, error) {
	seen := make(map[string]bool)
	var out []candidate

	localRows, err := q.QueryContext(ctx, `
		SELECT `+localColumns+` FROM loginsL
		WHERE is_deleted = 0 AND origin = ?
		AND formActionOrigin = ? AND httpRealm = ?
	`, target.Origin, target.FormActionOrigin, target.HTTPRealm)
	if err != nil {
		return nil, fmt.Errorf("query local target-equivalents: %w", err)
	}
	err = func() error {
		defer localRows.Close()
		for localRows.Next() {
			r, err := scanLocalRow(localRows)
			if err != nil {
				return err
			}
			row := r.toLocalRow()
			sec, err := decryptSecureFields(s.enc, row.ID, r.secFields.String)
			if err != nil {
				return err
			}
			seen[row.ID] = true
			out = append(out, candidate{id: row.ID, username: sec.Username})
		}
		return localRows.Err()
	}()
	if err != nil {
		return nil, err
	}

	mirrorRows, err := q.QueryContext(ctx, `
		SELECT `+mirrorColumns+` FROM loginsM
		WHERE is_overridden = 0 AND origin = ?
		AND formActionOrigin = ? AND httpRealm = ?
	`, target.Origin, target.FormActionOrigin, target.HTTPRealm)
	if err != nil {
		return nil, fmt.Errorf("query mirror target-equivalents: %w", err)
	}
	defer mirrorRows.Close()
	for mirrorRows.Next() {
		r, err := scanMirrorRow(mirrorRows)
		if err != nil {
			return nil, err
		}
		row := r.toMirrorRow()
		if seen[row.ID] {
			continue
		}
		sec, err := decryptSecureFields(s.enc, row.ID, r.secFields.String)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{id: row.ID, username: sec.Username})
	}
	return out, mirrorRows.Err()
}

// fetchCandidatesByIDs resolves a cached guid list back into candidates by
// looking each one up in L first, then M. A guid that's vanished from both
// (deleted since the cache entry was written) is silently skipped; the
// caller's subsequent write path will invalidate the stale entry.
func (s *Store) fetchCandidatesByIDs(ctx context.Context, q querier, ids []string) ([]candidate, error) {
	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		row := q.QueryRowContext(ctx, `SELECT `+localColumns+` FROM loginsL WHERE guid = ? AND is_deleted = 0`, id)
		scan, err := scanLocalRow(row)
		if err == nil {
			lr := scan.toLocalRow()
			sec, err := decryptSecureFields(s.enc, lr.ID, scan.secFields.String)
			if err != nil {
				return nil, err
			}
			out = append(out, candidate{id: lr.ID, username: sec.Username})
			continue
		}

		row = q.QueryRowContext(ctx, `SELECT `+mirrorColumns+` FROM loginsM WHERE guid = ? AND is_overridden = 0`, id)
		mscan, err := scanMirrorRow(row)
		if err != nil {
			continue
		}
		mr := mscan.toMirrorRow()
		sec, err := decryptSecureFields(s.enc, mr.ID, mscan.secFields.String)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{id: mr.ID, username: sec.Username})
	}
	return out, nil
}

// checkDuplicate rejects add/update calls that would create two records
// sharing a target and an exact username match.
func (s *Store) checkDuplicate(ctx context.Context, q querier, target Target, username, excludeID string) error {
	candidates, err := s.findTargetEquivalent(ctx, q, target, excludeID)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if c.username == username {
			return &DuplicateLoginError{ExistingID: c.id}
		}
	}
	return nil
}

// findLoginToUpdate implements the add-or-update dedupe algorithm: prefer
// an exact username match; otherwise, a candidate with a blank username is
// treated as a second-chance match to be filled in by the new entry.
func (s *Store) findLoginToUpdate(ctx context.Context, q querier, target Target, username string) (*candidate, error) {
	candidates, err := s.findTargetEquivalent(ctx, q, target, "")
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.username == username {
			return &c, nil
		}
	}
	for _, c := range candidates {
		if c.username == "" {
			return &c, nil
		}
	}
	return nil, nil
}
