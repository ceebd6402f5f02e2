package logins

import (
	"context"
	"database/sql"
	"encoding/json"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run either outside a transaction or inside one already opened by a
// mutating operation.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const localColumns = `guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
	secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
	timeOfLastBreach, timeLastBreachAlertDismissed, local_modified, is_deleted, sync_status`

const mirrorColumns = `guid, origin, httpRealm, formActionOrigin, usernameField, passwordField,
	secFields, timesUsed, timeCreated, timeLastUsed, timePasswordChanged,
	timeOfLastBreach, timeLastBreachAlertDismissed, server_modified, is_overridden, enc_unknown_fields`

type localScan struct {
	guid                         string
	origin                       sql.NullString
	httpRealm                    sql.NullString
	formActionOrigin             sql.NullString
	usernameField                sql.NullString
	passwordField                sql.NullString
	secFields                    sql.NullString
	timesUsed                    int64
	timeCreated                  int64
	timeLastUsed                 int64
	timePasswordChanged          int64
	timeOfLastBreach             sql.NullInt64
	timeLastBreachAlertDismissed sql.NullInt64
	localModified                sql.NullInt64
	isDeleted                    bool
	syncStatus                   int
}

func scanLocalRow(row interface{ Scan(...any) error }) (localScan, error) {
	var r localScan
	err := row.Scan(
		&r.guid, &r.origin, &r.httpRealm, &r.formActionOrigin, &r.usernameField, &r.passwordField,
		&r.secFields, &r.timesUsed, &r.timeCreated, &r.timeLastUsed, &r.timePasswordChanged,
		&r.timeOfLastBreach, &r.timeLastBreachAlertDismissed, &r.localModified, &r.isDeleted, &r.syncStatus,
	)
	return r, err
}

func (r localScan) toLocalRow() LocalRow {
	lr := LocalRow{
		Login: Login{
			Meta: Meta{
				ID:                  r.guid,
				TimeCreated:         r.timeCreated,
				TimeLastUsed:        r.timeLastUsed,
				TimePasswordChanged: r.timePasswordChanged,
				TimesUsed:           r.timesUsed,
			},
			LoginFields: LoginFields{
				Origin:           r.origin.String,
				HTTPRealm:        r.httpRealm.String,
				FormActionOrigin: r.formActionOrigin.String,
				UsernameField:    r.usernameField.String,
				PasswordField:    r.passwordField.String,
			},
		},
		IsDeleted:  r.isDeleted,
		SyncStatus: SyncStatus(r.syncStatus),
	}
	if r.timeOfLastBreach.Valid {
		lr.TimeOfLastBreach = r.timeOfLastBreach.Int64
	}
	if r.timeLastBreachAlertDismissed.Valid {
		lr.TimeLastBreachAlertDismissed = r.timeLastBreachAlertDismissed.Int64
	}
	if r.localModified.Valid {
		v := r.localModified.Int64
		lr.LocalModified = &v
	}
	return lr
}

type mirrorScan struct {
	guid                         string
	origin                       sql.NullString
	httpRealm                    sql.NullString
	formActionOrigin             sql.NullString
	usernameField                sql.NullString
	passwordField                sql.NullString
	secFields                    sql.NullString
	timesUsed                    int64
	timeCreated                  int64
	timeLastUsed                 int64
	timePasswordChanged          int64
	timeOfLastBreach             sql.NullInt64
	timeLastBreachAlertDismissed sql.NullInt64
	serverModified               int64
	isOverridden                 bool
	encUnknownFields             sql.NullString
}

func scanMirrorRow(row interface{ Scan(...any) error }) (mirrorScan, error) {
	var r mirrorScan
	err := row.Scan(
		&r.guid, &r.origin, &r.httpRealm, &r.formActionOrigin, &r.usernameField, &r.passwordField,
		&r.secFields, &r.timesUsed, &r.timeCreated, &r.timeLastUsed, &r.timePasswordChanged,
		&r.timeOfLastBreach, &r.timeLastBreachAlertDismissed, &r.serverModified, &r.isOverridden, &r.encUnknownFields,
	)
	return r, err
}

func (r mirrorScan) toMirrorRow() MirrorRow {
	mr := MirrorRow{
		Login: Login{
			Meta: Meta{
				ID:                  r.guid,
				TimeCreated:         r.timeCreated,
				TimeLastUsed:        r.timeLastUsed,
				TimePasswordChanged: r.timePasswordChanged,
				TimesUsed:           r.timesUsed,
			},
			LoginFields: LoginFields{
				Origin:           r.origin.String,
				HTTPRealm:        r.httpRealm.String,
				FormActionOrigin: r.formActionOrigin.String,
				UsernameField:    r.usernameField.String,
				PasswordField:    r.passwordField.String,
			},
		},
		ServerModified: r.serverModified,
		IsOverridden:   r.isOverridden,
	}
	if r.timeOfLastBreach.Valid {
		mr.TimeOfLastBreach = r.timeOfLastBreach.Int64
	}
	if r.timeLastBreachAlertDismissed.Valid {
		mr.TimeLastBreachAlertDismissed = r.timeLastBreachAlertDismissed.Int64
	}
	if r.encUnknownFields.Valid && r.encUnknownFields.String != "" {
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(r.encUnknownFields.String), &m); err == nil {
			mr.UnknownFields = m
		}
	}
	return mr
}

func encodeUnknownFields(m map[string]json.RawMessage) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullIfZero(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
