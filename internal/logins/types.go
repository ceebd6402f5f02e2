// Package logins implements a local, encrypted credentials store for
// website login records and the two-stage sync reconciliation engine that
// merges a remote mirror of server state with local changes.
package logins

import "encoding/json"

// SyncStatus tracks whether a local row still needs to be uploaded.
type SyncStatus int

const (
	// SyncStatusSynced means the local row matches what has already been
	// uploaded (or was just materialized from the mirror as an overlay).
	SyncStatusSynced SyncStatus = iota
	// SyncStatusChanged means the row was modified locally since the last
	// successful sync and needs to be uploaded.
	SyncStatusChanged
	// SyncStatusNew means the row has never been synced; no mirror row
	// exists for it.
	SyncStatusNew
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStatusSynced:
		return "synced"
	case SyncStatusChanged:
		return "changed"
	case SyncStatusNew:
		return "new"
	default:
		return "unknown"
	}
}

// merge picks the "most outgoing" of two statuses: New beats Changed beats
// Synced, so an already-new row stays new after a second local edit.
func (s SyncStatus) merge(other SyncStatus) SyncStatus {
	if s > other {
		return s
	}
	return other
}

// LoginFields is the non-secret descriptor of a login: the origin it
// belongs to, exactly one of a form target or an HTTP realm, and optional
// form field names and breach bookkeeping.
type LoginFields struct {
	Origin                        string
	FormActionOrigin              string
	HTTPRealm                     string
	UsernameField                 string
	PasswordField                 string
	TimeOfLastBreach              int64
	TimeLastBreachAlertDismissed  int64
}

// HasFormTarget reports whether this record targets a form submission
// origin rather than an HTTP auth realm.
func (f LoginFields) HasFormTarget() bool {
	return f.FormActionOrigin != ""
}

// Target returns the (origin, form-or-realm) pair used for dedupe.
func (f LoginFields) Target() Target {
	if f.HasFormTarget() {
		return Target{Origin: f.Origin, FormActionOrigin: f.FormActionOrigin}
	}
	return Target{Origin: f.Origin, HTTPRealm: f.HTTPRealm}
}

// Target identifies "the same login slot": an origin plus exactly one of a
// form action origin or an HTTP realm.
type Target struct {
	Origin           string
	FormActionOrigin string
	HTTPRealm        string
}

// Equal reports target-equivalence: origins match exactly and the same
// non-empty arm (form target or realm) matches exactly.
func (t Target) Equal(other Target) bool {
	if t.Origin != other.Origin {
		return false
	}
	if t.FormActionOrigin != "" || other.FormActionOrigin != "" {
		return t.FormActionOrigin == other.FormActionOrigin && t.HTTPRealm == "" && other.HTTPRealm == ""
	}
	return t.HTTPRealm == other.HTTPRealm
}

// SecureFields is the secret payload, always stored encrypted at rest.
type SecureFields struct {
	Username string
	Password string
}

// Meta is per-record metadata shared by local and mirror rows.
type Meta struct {
	ID                   string
	TimeCreated          int64
	TimeLastUsed         int64
	TimePasswordChanged  int64
	TimesUsed            int64
}

// Login bundles the three facets of a record together, the shape callers
// pass across the public Store API.
type Login struct {
	Meta
	LoginFields
	SecureFields
}

// LocalRow is a row from table L (loginsL), carrying the overlay/outgoing
// bookkeeping fields on top of a Login.
type LocalRow struct {
	Login
	LocalModified *int64
	IsDeleted     bool
	SyncStatus    SyncStatus
}

// MirrorRow is a row from table M (loginsM), believed to reflect server
// state, with the overlay flag and opaque passthrough fields.
type MirrorRow struct {
	Login
	ServerModified int64
	IsOverridden   bool
	UnknownFields  map[string]json.RawMessage
}
