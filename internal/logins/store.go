package logins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vaultline/logins/internal/telemetry"
)

// Clock abstracts wall-clock time so that tests can drive the store with
// literal timestamps instead of real time.
type Clock interface {
	// NowMillis returns the current time as milliseconds since the epoch.
	NowMillis() int64
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// Store is the local credentials store: SQLite-backed tables L and M,
// behind an injected field Encryptor and Clock.
type Store struct {
	db        *sql.DB
	enc       Encryptor
	clock     Clock
	logger    *logrus.Logger
	cache     *DedupeCache
	metrics   *telemetry.Metrics
	chunkSize int
}

// chunk returns the configured IN-list chunk size, defaulting to
// sqliteMaxVariables when WithChunkSize was never called.
func (s *Store) chunk() int {
	if s.chunkSize <= 0 {
		return sqliteMaxVariables
	}
	return s.chunkSize
}

// NewStore wraps an already-migrated database handle. Callers are expected
// to have run the migrations package's MigrationManager against db first.
func NewStore(db *sql.DB, enc Encryptor, clock Clock) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Store{db: db, enc: enc, clock: clock, logger: logrus.StandardLogger()}
}

// WithLogger overrides the logger used for non-fatal diagnostics.
func (s *Store) WithLogger(logger *logrus.Logger) *Store {
	s.logger = logger
	return s
}

// WithDedupeCache attaches a read-through accelerator for target-equivalence
// lookups. Optional: a nil cache (the default) just means every lookup
// falls through to SQL, which is always correct, only slower under heavy
// repeat-target traffic.
func (s *Store) WithDedupeCache(cache *DedupeCache) *Store {
	s.cache = cache
	return s
}

// WithMetrics attaches the Prometheus counters/histograms Store and
// Reconcile report through. Optional: a nil value (the default) just means
// telemetry calls become no-ops.
func (s *Store) WithMetrics(metrics *telemetry.Metrics) *Store {
	s.metrics = metrics
	return s
}

// WithChunkSize overrides the IN-list chunk size used when batching guid
// sets into SQL queries. Optional: non-positive values are ignored and the
// sqliteMaxVariables default applies.
func (s *Store) WithChunkSize(size int) *Store {
	s.chunkSize = size
	return s
}

func (s *Store) recordOp(op string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.RecordStoreOperation(op, result)
}

// Add inserts a new record, minting a fresh id, rejecting target+username
// duplicates.
func (s *Store) Add(ctx context.Context, fields LoginFields, secure SecureFields) (Login, error) {
	return s.AddWithMeta(ctx, fields, secure, Meta{})
}

// AddWithMeta inserts a new record with caller-supplied id/timestamps/
// times_used, used by import paths that must preserve foreign metadata.
func (s *Store) AddWithMeta(ctx context.Context, fields LoginFields, secure SecureFields, meta Meta) (result Login, err error) {
	defer func() { s.recordOp("add", err) }()

	fields, secure, err = FixupAndValidate(fields, secure)
	if err != nil {
		return Login{}, err
	}

	now := s.clock.NowMillis()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.TimeCreated == 0 {
		meta.TimeCreated = now
	}
	if meta.TimeLastUsed == 0 {
		meta.TimeLastUsed = meta.TimeCreated
	}
	if meta.TimePasswordChanged == 0 {
		meta.TimePasswordChanged = meta.TimeCreated
	}
	if meta.TimesUsed == 0 {
		meta.TimesUsed = 1
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkDuplicate(ctx, tx, fields.Target(), secure.Username, ""); err != nil {
			return err
		}
		encoded, err := encryptSecureFields(s.enc, meta.ID, secure)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loginsL (
				guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
				secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
				timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		`, meta.ID, fields.Origin, fields.HTTPRealm, fields.FormActionOrigin, fields.UsernameField, fields.PasswordField,
			encoded, meta.TimesUsed, meta.TimeCreated, meta.TimeLastUsed, meta.TimePasswordChanged,
			nullIfZero(fields.TimeOfLastBreach), nullIfZero(fields.TimeLastBreachAlertDismissed), now, int(SyncStatusNew))
		if err != nil {
			return fmt.Errorf("insert local row: %w", err)
		}
		result = Login{Meta: meta, LoginFields: fields, SecureFields: secure}
		return nil
	})
	if err != nil {
		return Login{}, err
	}
	s.cache.invalidate(fields.Target())
	return result, nil
}

// AddManyResult is one entry's outcome from AddMany: either the record as
// committed (Err nil) or the validation/duplicate failure that kept it out
// of the batch.
type AddManyResult struct {
	Login Login
	Err   error
}

// AddMany inserts several records in a single transaction. A per-entry
// validation or duplicate failure is recorded in that entry's Result and
// does not stop the remaining entries from being attempted; a duplicate
// against an earlier entry in the same batch is caught too, since
// checkDuplicate sees the other entries' uncommitted inserts within the
// same tx. A storage-level failure (anything other than InvalidLoginError/
// DuplicateLoginError) aborts and rolls back the whole batch.
func (s *Store) AddMany(ctx context.Context, entries []Login) (results []AddManyResult, err error) {
	defer func() { s.recordOp("add_many", err) }()

	results = make([]AddManyResult, len(entries))
	var committedTargets []Target

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for i, e := range entries {
			fields, secure, ferr := FixupAndValidate(e.LoginFields, e.SecureFields)
			if ferr != nil {
				results[i] = AddManyResult{Err: ferr}
				continue
			}

			meta := e.Meta
			now := s.clock.NowMillis()
			if meta.ID == "" {
				meta.ID = uuid.NewString()
			}
			if meta.TimeCreated == 0 {
				meta.TimeCreated = now
			}
			if meta.TimeLastUsed == 0 {
				meta.TimeLastUsed = meta.TimeCreated
			}
			if meta.TimePasswordChanged == 0 {
				meta.TimePasswordChanged = meta.TimeCreated
			}
			if meta.TimesUsed == 0 {
				meta.TimesUsed = 1
			}

			if derr := s.checkDuplicate(ctx, tx, fields.Target(), secure.Username, ""); derr != nil {
				var dup *DuplicateLoginError
				if !errors.As(derr, &dup) {
					return derr
				}
				results[i] = AddManyResult{Err: derr}
				continue
			}

			encoded, eerr := encryptSecureFields(s.enc, meta.ID, secure)
			if eerr != nil {
				return eerr
			}
			_, ierr := tx.ExecContext(ctx, `
				INSERT INTO loginsL (
					guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
					secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
					timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
			`, meta.ID, fields.Origin, fields.HTTPRealm, fields.FormActionOrigin, fields.UsernameField, fields.PasswordField,
				encoded, meta.TimesUsed, meta.TimeCreated, meta.TimeLastUsed, meta.TimePasswordChanged,
				nullIfZero(fields.TimeOfLastBreach), nullIfZero(fields.TimeLastBreachAlertDismissed), now, int(SyncStatusNew))
			if ierr != nil {
				return fmt.Errorf("insert local row %q: %w", meta.ID, ierr)
			}

			results[i] = AddManyResult{Login: Login{Meta: meta, LoginFields: fields, SecureFields: secure}}
			committedTargets = append(committedTargets, fields.Target())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range committedTargets {
		s.cache.invalidate(t)
	}
	return results, nil
}

// ensureOverlay guarantees a row for id exists in L, copying it from M (and
// marking M overridden) if it doesn't. Returns ErrNoSuchRecord if id is
// absent from both tables. Must run inside tx.
func (s *Store) ensureOverlay(ctx context.Context, tx *sql.Tx, id string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM loginsL WHERE guid = ?`, id).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check local overlay: %w", err)
	}

	var mirrorExists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM loginsM WHERE guid = ?`, id).Scan(&mirrorExists)
	if err == sql.ErrNoRows {
		return &NoSuchRecordError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("check mirror row for overlay: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loginsL (
			guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
			secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
			timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status
		)
		SELECT guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
			secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
			timeOfLastBreach, timeLastBreachAlertDismissed, NULL, 0, ?
		FROM loginsM WHERE guid = ?
	`, int(SyncStatusSynced), id)
	if err != nil {
		return fmt.Errorf("materialize overlay: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE loginsM SET is_overridden = 1 WHERE guid = ?`, id)
	if err != nil {
		return fmt.Errorf("mark mirror overridden: %w", err)
	}
	return nil
}

// Update replaces the fields and secure payload of an existing record,
// bumping times_used/time_last_used unconditionally and time_password_changed
// only if the password actually changed.
func (s *Store) Update(ctx context.Context, id string, fields LoginFields, secure SecureFields) (result Login, err error) {
	defer func() { s.recordOp("update", err) }()

	fields, secure, err = FixupAndValidate(fields, secure)
	if err != nil {
		return Login{}, err
	}

	var existingTarget Target
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureOverlay(ctx, tx, id); err != nil {
			return err
		}
		if err := s.checkDuplicate(ctx, tx, fields.Target(), secure.Username, id); err != nil {
			var dup *DuplicateLoginError
			if errors.As(err, &dup) {
				s.logger.WithFields(logrus.Fields{"id": id, "existing_id": dup.ExistingID}).
					Warn("update would violate target+username uniqueness against a pre-existing record; proceeding anyway")
			} else {
				return err
			}
		}

		row := tx.QueryRowContext(ctx, `SELECT `+localColumns+` FROM loginsL WHERE guid = ?`, id)
		scan, err := scanLocalRow(row)
		if err != nil {
			return fmt.Errorf("load local row: %w", err)
		}
		existing := scan.toLocalRow()
		existingTarget = existing.Target()
		existingSecure, err := decryptSecureFields(s.enc, id, scan.secFields.String)
		if err != nil {
			return err
		}

		now := s.clock.NowMillis()
		passwordChanged := secure.Password != existingSecure.Password
		timePasswordChanged := existing.TimePasswordChanged
		if passwordChanged {
			timePasswordChanged = now
		}

		encoded, err := encryptSecureFields(s.enc, id, secure)
		if err != nil {
			return err
		}

		newStatus := existing.SyncStatus.merge(SyncStatusChanged)
		_, err = tx.ExecContext(ctx, `
			UPDATE loginsL SET
				origin = ?, httpRealm = ?, formActionOrigin = ?, usernameField = ?, passwordField = ?,
				secFields = ?, timesUsed = timesUsed + 1, timeLastUsed = ?, timePasswordChanged = ?,
				timeOfLastBreach = ?, timeLastBreachAlertDismissed = ?, local_modified = ?, sync_status = ?
			WHERE guid = ?
		`, fields.Origin, fields.HTTPRealm, fields.FormActionOrigin, fields.UsernameField, fields.PasswordField,
			encoded, now, timePasswordChanged,
			nullIfZero(fields.TimeOfLastBreach), nullIfZero(fields.TimeLastBreachAlertDismissed), now, int(newStatus), id)
		if err != nil {
			return fmt.Errorf("update local row: %w", err)
		}

		result = Login{
			Meta: Meta{
				ID:                  id,
				TimeCreated:         existing.TimeCreated,
				TimeLastUsed:        now,
				TimePasswordChanged: timePasswordChanged,
				TimesUsed:           existing.TimesUsed + 1,
			},
			LoginFields: fields,
			SecureFields: secure,
		}
		return nil
	})
	if err != nil {
		return Login{}, err
	}
	s.cache.invalidate(existingTarget)
	s.cache.invalidate(fields.Target())
	return result, nil
}

// AddOrUpdate finds a target-equivalent record via the dedupe second-chance
// rule and updates it, or adds a new record if none matches.
func (s *Store) AddOrUpdate(ctx context.Context, fields LoginFields, secure SecureFields) (Login, error) {
	fields, secure, err := FixupAndValidate(fields, secure)
	if err != nil {
		return Login{}, err
	}

	var match *candidate
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := s.findLoginToUpdate(ctx, tx, fields.Target(), secure.Username)
		if err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return Login{}, err
	}
	if match == nil {
		return s.Add(ctx, fields, secure)
	}
	return s.Update(ctx, match.id, fields, secure)
}

// Touch records a use of a record without treating it as a content change:
// times_used increments and time_last_used advances, but sync_status is not
// forced to Changed by this call alone.
func (s *Store) Touch(ctx context.Context, id string) (err error) {
	defer func() { s.recordOp("touch", err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureOverlay(ctx, tx, id); err != nil {
			return err
		}
		now := s.clock.NowMillis()
		_, err := tx.ExecContext(ctx, `
			UPDATE loginsL SET timesUsed = timesUsed + 1, timeLastUsed = ?, local_modified = ?
			WHERE guid = ?
		`, now, now, id)
		if err != nil {
			return fmt.Errorf("touch local row: %w", err)
		}
		return nil
	})
}

// Delete turns a record into a local tombstone in L (content cleared,
// sync_status Changed), creating the L row if the record exists only in M,
// and marks any M row overridden so a future sync upload reports the
// deletion. It returns whether the record existed; an already tombstoned
// record counts as absent.
func (s *Store) Delete(ctx context.Context, id string) (deleted bool, err error) {
	defer func() { s.recordOp("delete", err) }()

	existing, found, _ := s.GetByID(ctx, id)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var localDeleted bool
		err := tx.QueryRowContext(ctx, `SELECT is_deleted FROM loginsL WHERE guid = ?`, id).Scan(&localDeleted)
		hasLocal := err == nil && !localDeleted
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check local row: %w", err)
		}

		var hasMirror bool
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM loginsM WHERE guid = ? AND is_overridden = 0`, id).Scan(new(int))
		if err == nil {
			hasMirror = true
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("check mirror row: %w", err)
		}

		if !hasLocal && !hasMirror {
			return nil
		}
		deleted = true

		now := s.clock.NowMillis()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loginsL (
				guid, origin, httpRealm, formActionOrigin, usernameField, passwordField, secFields,
				local_modified, is_deleted, sync_status, timesUsed, timeCreated, timeLastUsed, timePasswordChanged
			)
			VALUES (?, NULL, NULL, NULL, NULL, NULL, NULL, ?, 1, ?, 0, 0, 0, 0)
			ON CONFLICT(guid) DO UPDATE SET
				origin = NULL, httpRealm = NULL, formActionOrigin = NULL,
				usernameField = NULL, passwordField = NULL, secFields = NULL,
				is_deleted = 1, local_modified = excluded.local_modified, sync_status = ?
		`, id, now, int(SyncStatusChanged), int(SyncStatusChanged))
		if err != nil {
			return fmt.Errorf("tombstone local row: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE loginsM SET is_overridden = 1 WHERE guid = ?`, id)
		if err != nil {
			return fmt.Errorf("mark mirror overridden: %w", err)
		}
		return nil
	})
	if err == nil && found {
		s.cache.invalidate(existing.Target())
	}
	return deleted, err
}

// DeleteMany deletes several records, returning the subset actually found.
// Each id is deleted by Delete in its own transaction; the first error stops
// the loop and deletions already made stay committed.
func (s *Store) DeleteMany(ctx context.Context, ids []string) ([]string, error) {
	var removed []string
	for _, id := range ids {
		ok, err := s.Delete(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// GetByID returns the effective (overlay-resolved) view of a record: the L
// row if present and not deleted, else the M row if not overridden.
func (s *Store) GetByID(ctx context.Context, id string) (login Login, found bool, err error) {
	defer func() { s.recordOp("get_by_id", err) }()

	row := s.db.QueryRowContext(ctx, `SELECT `+localColumns+` FROM loginsL WHERE guid = ?`, id)
	scan, err := scanLocalRow(row)
	if err == nil {
		if scan.isDeleted {
			return Login{}, false, nil
		}
		lr := scan.toLocalRow()
		secure, err := decryptSecureFields(s.enc, id, scan.secFields.String)
		if err != nil {
			return Login{}, false, err
		}
		lr.SecureFields = secure
		return lr.Login, true, nil
	}
	if err != sql.ErrNoRows {
		return Login{}, false, fmt.Errorf("load local row: %w", err)
	}

	mrow := s.db.QueryRowContext(ctx, `SELECT `+mirrorColumns+` FROM loginsM WHERE guid = ? AND is_overridden = 0`, id)
	mscan, err := scanMirrorRow(mrow)
	if err == sql.ErrNoRows {
		return Login{}, false, nil
	}
	if err != nil {
		return Login{}, false, fmt.Errorf("load mirror row: %w", err)
	}
	mr := mscan.toMirrorRow()
	secure, err := decryptSecureFields(s.enc, id, mscan.secFields.String)
	if err != nil {
		return Login{}, false, err
	}
	mr.SecureFields = secure
	return mr.Login, true, nil
}

// GetAll returns the effective view of every non-deleted record: every
// non-deleted L row, plus every non-overridden M row whose id has no L row.
func (s *Store) GetAll(ctx context.Context) (logins []Login, err error) {
	defer func() { s.recordOp("get_all", err) }()
	logins, err = s.queryEffective(ctx, "", nil, nil)
	return logins, err
}

// GetByBaseDomain returns the effective view of every record whose origin
// host matches base: exact equality for IP literals, and either exact
// equality or a strict sub-domain match (host ends with "."+base) for DNS
// hosts.
func (s *Store) GetByBaseDomain(ctx context.Context, base string) ([]Login, error) {
	normalized, err := FixupOrigin(base)
	if err != nil {
		// base may be a bare host rather than a full origin; fall back to
		// matching it as one directly.
		normalized = strings.TrimSpace(base)
	}
	base = normalized
	baseHost := hostOf(base)
	if baseHost == "" {
		baseHost = base
	}
	return s.queryEffective(ctx, "", nil, func(l Login) bool {
		return hostMatchesBaseDomain(hostOf(l.Origin), baseHost)
	})
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	return u.Hostname()
}

func hostMatchesBaseDomain(host, base string) bool {
	if host == "" || base == "" {
		return false
	}
	if host == base {
		return true
	}
	if net.ParseIP(base) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+base)
}

func (s *Store) queryEffective(ctx context.Context, whereClause string, args []any, filter func(Login) bool) ([]Login, error) {
	where := ""
	if whereClause != "" {
		where = " AND " + whereClause
	}

	var out []Login
	seen := make(map[string]bool)

	lrows, err := s.db.QueryContext(ctx, `SELECT `+localColumns+` FROM loginsL WHERE is_deleted = 0`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query local rows: %w", err)
	}
	err = func() error {
		defer lrows.Close()
		for lrows.Next() {
			scan, err := scanLocalRow(lrows)
			if err != nil {
				return err
			}
			lr := scan.toLocalRow()
			secure, err := decryptSecureFields(s.enc, lr.ID, scan.secFields.String)
			if err != nil {
				return err
			}
			lr.SecureFields = secure
			seen[lr.ID] = true
			if filter == nil || filter(lr.Login) {
				out = append(out, lr.Login)
			}
		}
		return lrows.Err()
	}()
	if err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx, `SELECT `+mirrorColumns+` FROM loginsM WHERE is_overridden = 0`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query mirror rows: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		scan, err := scanMirrorRow(mrows)
		if err != nil {
			return nil, err
		}
		mr := scan.toMirrorRow()
		if seen[mr.ID] {
			continue
		}
		secure, err := decryptSecureFields(s.enc, mr.ID, scan.secFields.String)
		if err != nil {
			return nil, err
		}
		mr.SecureFields = secure
		if filter == nil || filter(mr.Login) {
			out = append(out, mr.Login)
		}
	}
	return out, mrows.Err()
}

// CountAll returns the number of effective (non-deleted, non-overridden-
// only) records.
func (s *Store) CountAll(ctx context.Context) (count int, err error) {
	defer func() { s.recordOp("count_all", err) }()

	all, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// CountByOrigin returns how many effective records have exactly this
// origin, after normalization.
func (s *Store) CountByOrigin(ctx context.Context, origin string) (count int, err error) {
	defer func() { s.recordOp("count_by_origin", err) }()

	normalized, err := FixupOrigin(origin)
	if err != nil {
		return 0, err
	}
	rows, err := s.queryEffective(ctx, "origin = ?", []any{normalized}, nil)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// CountByFormActionOrigin returns how many effective records target
// formActionOrigin as a form submission target.
func (s *Store) CountByFormActionOrigin(ctx context.Context, formActionOrigin string) (count int, err error) {
	defer func() { s.recordOp("count_by_form_action_origin", err) }()

	rows, err := s.queryEffective(ctx, "formActionOrigin = ?", []any{formActionOrigin}, nil)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// WipeLocal empties L and M and clears sync metadata entirely, as if the
// store had never synced.
func (s *Store) WipeLocal(ctx context.Context) (err error) {
	defer func() { s.recordOp("wipe_local", err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM loginsL`); err != nil {
			return fmt.Errorf("wipe local rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM loginsM`); err != nil {
			return fmt.Errorf("wipe mirror rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM loginsSyncMeta`); err != nil {
			return fmt.Errorf("wipe sync metadata: %w", err)
		}
		return nil
	})
	if err == nil {
		s.cache.invalidatePrefix()
	}
	return err
}

// DeleteLocalRecordsForRemoteReplacement hard-deletes L and M rows for the
// given ids, with no tombstone, used when local content is unrecoverable
// and the server is about to be re-downloaded wholesale.
func (s *Store) DeleteLocalRecordsForRemoteReplacement(ctx context.Context, ids []string) (err error) {
	defer func() { s.recordOp("delete_local_records_for_remote_replacement", err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkStrings(ids, s.chunk()) {
			placeholders, args := inClause(chunk)
			if _, err := tx.ExecContext(ctx, `DELETE FROM loginsL WHERE guid IN (`+placeholders+`)`, args...); err != nil {
				return fmt.Errorf("delete local rows for remote replacement: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM loginsM WHERE guid IN (`+placeholders+`)`, args...); err != nil {
				return fmt.Errorf("delete mirror rows for remote replacement: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		s.cache.invalidatePrefix()
	}
	return err
}

// RecordBreach sets the breach-detected timestamp on a record, creating an
// overlay if needed.
func (s *Store) RecordBreach(ctx context.Context, id string, at int64) (err error) {
	defer func() { s.recordOp("record_breach", err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureOverlay(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE loginsL SET timeOfLastBreach = ? WHERE guid = ?`, at, id)
		if err != nil {
			return fmt.Errorf("record breach: %w", err)
		}
		return nil
	})
}

// RecordBreachAlertDismissal sets the breach-alert-dismissed timestamp.
func (s *Store) RecordBreachAlertDismissal(ctx context.Context, id string, at int64) (err error) {
	defer func() { s.recordOp("record_breach_alert_dismissal", err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureOverlay(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE loginsL SET timeLastBreachAlertDismissed = ? WHERE guid = ?`, at, id)
		if err != nil {
			return fmt.Errorf("record breach alert dismissal: %w", err)
		}
		return nil
	})
}

// ResetAllBreaches clears breach bookkeeping on every record, used when the
// user acknowledges a stale breach data set wholesale.
func (s *Store) ResetAllBreaches(ctx context.Context) (err error) {
	defer func() { s.recordOp("reset_all_breaches", err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE loginsL SET timeOfLastBreach = NULL, timeLastBreachAlertDismissed = NULL`); err != nil {
			return fmt.Errorf("reset local breach fields: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE loginsM SET timeOfLastBreach = NULL, timeLastBreachAlertDismissed = NULL`); err != nil {
			return fmt.Errorf("reset mirror breach fields: %w", err)
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrStorage, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrStorage, err)
	}
	return nil
}
