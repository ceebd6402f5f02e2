package logins

import (
	"encoding/json"
	"errors"
)

// knownIncomingFields lists the JSON keys the wire format interprets; every
// other key in a record is preserved opaquely and re-emitted verbatim.
var knownIncomingFields = map[string]bool{
	"id": true, "deleted": true, "origin": true, "httpRealm": true,
	"formActionOrigin": true, "usernameField": true, "passwordField": true,
	"username": true, "password": true, "timeCreated": true,
	"timeLastUsed": true, "timePasswordChanged": true, "timesUsed": true,
}

// IncomingRecord is a decoded record received from the sync transport: a
// tombstone or a content record, tagged with the server timestamp the
// transport observed alongside it. TimeCreated/TimeLastUsed/
// TimePasswordChanged/TimesUsed are zero when the sender omitted them,
// which the merge step treats as "no opinion" rather than "reset to zero".
type IncomingRecord struct {
	GUID                string
	Tombstone           bool
	Fields              LoginFields
	Secure              SecureFields
	ServerModified      int64
	TimeCreated         int64
	TimeLastUsed        int64
	TimePasswordChanged int64
	TimesUsed           int64
	Unknown             map[string]json.RawMessage
}

type incomingWire struct {
	ID                  string `json:"id"`
	Deleted             bool   `json:"deleted,omitempty"`
	Origin              string `json:"origin,omitempty"`
	HTTPRealm           string `json:"httpRealm,omitempty"`
	FormActionOrigin    string `json:"formActionOrigin,omitempty"`
	UsernameField       string `json:"usernameField,omitempty"`
	PasswordField       string `json:"passwordField,omitempty"`
	Username            string `json:"username,omitempty"`
	Password            string `json:"password,omitempty"`
	TimeCreated         int64  `json:"timeCreated,omitempty"`
	TimeLastUsed        int64  `json:"timeLastUsed,omitempty"`
	TimePasswordChanged int64  `json:"timePasswordChanged,omitempty"`
	TimesUsed           int64  `json:"timesUsed,omitempty"`
}

// DecodeIncoming parses a raw sync payload into an IncomingRecord, tagging
// it with the server timestamp the transport supplied alongside it.
// Decoding failures are wrapped as MalformedIncomingRecordError so the
// reconciler can log and skip them without aborting the batch.
func DecodeIncoming(raw json.RawMessage, serverModified int64) (IncomingRecord, error) {
	var w incomingWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return IncomingRecord{}, &MalformedIncomingRecordError{Err: err}
	}
	if w.ID == "" {
		return IncomingRecord{}, &MalformedIncomingRecordError{Err: errMissingID}
	}

	rec := IncomingRecord{
		GUID:           w.ID,
		Tombstone:      w.Deleted,
		ServerModified: serverModified,
	}
	if !w.Deleted {
		rec.Fields = LoginFields{
			Origin:           w.Origin,
			HTTPRealm:        w.HTTPRealm,
			FormActionOrigin: w.FormActionOrigin,
			UsernameField:    w.UsernameField,
			PasswordField:    w.PasswordField,
		}
		rec.Secure = SecureFields{Username: w.Username, Password: w.Password}
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return IncomingRecord{}, &MalformedIncomingRecordError{GUID: w.ID, Err: err}
	}
	for key, value := range asMap {
		if knownIncomingFields[key] {
			continue
		}
		if rec.Unknown == nil {
			rec.Unknown = make(map[string]json.RawMessage)
		}
		rec.Unknown[key] = value
	}

	rec.TimeCreated = w.TimeCreated
	rec.TimeLastUsed = w.TimeLastUsed
	rec.TimePasswordChanged = w.TimePasswordChanged
	rec.TimesUsed = w.TimesUsed
	return rec, nil
}

var errMissingID = errors.New(`incoming record missing "id"`)

// OutgoingRecord is a record ready to hand back to the sync transport: a
// tombstone, or a full payload re-emitting unknown fields verbatim.
type OutgoingRecord struct {
	GUID      string
	Tombstone bool
	Fields    LoginFields
	Secure    SecureFields
	Meta      Meta
	Unknown   map[string]json.RawMessage
}

// MarshalJSON renders the outgoing wire shape, merging known fields with
// any preserved unknown ones.
func (o OutgoingRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(o.Unknown)+12)
	for k, v := range o.Unknown {
		out[k] = v
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}

	if err := set("id", o.GUID); err != nil {
		return nil, err
	}
	if o.Tombstone {
		if err := set("deleted", true); err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}

	fields := map[string]any{
		"origin":              o.Fields.Origin,
		"username":            o.Secure.Username,
		"password":            o.Secure.Password,
		"timeCreated":         o.Meta.TimeCreated,
		"timeLastUsed":        o.Meta.TimeLastUsed,
		"timePasswordChanged": o.Meta.TimePasswordChanged,
		"timesUsed":           o.Meta.TimesUsed,
	}
	if o.Fields.HTTPRealm != "" {
		fields["httpRealm"] = o.Fields.HTTPRealm
	}
	if o.Fields.FormActionOrigin != "" {
		fields["formActionOrigin"] = o.Fields.FormActionOrigin
	}
	if o.Fields.UsernameField != "" {
		fields["usernameField"] = o.Fields.UsernameField
	}
	if o.Fields.PasswordField != "" {
		fields["passwordField"] = o.Fields.PasswordField
	}
	for k, v := range fields {
		if err := set(k, v); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}
