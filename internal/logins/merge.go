package logins

// fieldSet is the flattened view of a record's non-commutative fields plus
// the times_used counter, shared by local rows, mirror rows, and incoming
// records so diff/merge can operate on any of them uniformly.
type fieldSet struct {
	Origin              string
	HTTPRealm           string
	FormActionOrigin    string
	UsernameField       string
	PasswordField       string
	Username            string
	Password            string
	TimeCreated         int64
	TimeLastUsed        int64
	TimePasswordChanged int64
	TimesUsed           int64
}

func fieldSetOf(l Login) fieldSet {
	return fieldSet{
		Origin:              l.Origin,
		HTTPRealm:           l.HTTPRealm,
		FormActionOrigin:    l.FormActionOrigin,
		UsernameField:       l.UsernameField,
		PasswordField:       l.PasswordField,
		Username:            l.Username,
		Password:            l.Password,
		TimeCreated:         l.TimeCreated,
		TimeLastUsed:        l.TimeLastUsed,
		TimePasswordChanged: l.TimePasswordChanged,
		TimesUsed:           l.TimesUsed,
	}
}

func fieldSetOfIncoming(r IncomingRecord) fieldSet {
	return fieldSet{
		Origin:              r.Fields.Origin,
		HTTPRealm:           r.Fields.HTTPRealm,
		FormActionOrigin:    r.Fields.FormActionOrigin,
		UsernameField:       r.Fields.UsernameField,
		PasswordField:       r.Fields.PasswordField,
		Username:            r.Secure.Username,
		Password:            r.Secure.Password,
		TimeCreated:         r.TimeCreated,
		TimeLastUsed:        r.TimeLastUsed,
		TimePasswordChanged: r.TimePasswordChanged,
		TimesUsed:           r.TimesUsed,
	}
}

// delta is the merge's intermediate shape: a pointer per non-commutative
// field (nil meaning "unchanged from the ancestor") plus a single additive
// integer for the commutative times_used counter.
type delta struct {
	Origin              *string
	HTTPRealm           *string
	FormActionOrigin    *string
	UsernameField       *string
	PasswordField       *string
	Username            *string
	Password            *string
	TimeCreated         *int64
	TimeLastUsed        *int64
	TimePasswordChanged *int64
	TimesUsedDelta      int64
}

// diff computes candidate's changes relative to ancestor. Timestamp fields
// only produce a delta entry when the candidate value is strictly positive
// and differs from the ancestor, so clients that omit a timestamp don't
// regress it.
func diff(candidate, ancestor fieldSet) delta {
	var d delta
	strField := func(c, a string) *string {
		if c != a {
			return &c
		}
		return nil
	}
	tsField := func(c, a int64) *int64 {
		if c > 0 && c != a {
			return &c
		}
		return nil
	}

	d.Origin = strField(candidate.Origin, ancestor.Origin)
	d.HTTPRealm = strField(candidate.HTTPRealm, ancestor.HTTPRealm)
	d.FormActionOrigin = strField(candidate.FormActionOrigin, ancestor.FormActionOrigin)
	d.UsernameField = strField(candidate.UsernameField, ancestor.UsernameField)
	d.PasswordField = strField(candidate.PasswordField, ancestor.PasswordField)
	d.Username = strField(candidate.Username, ancestor.Username)
	d.Password = strField(candidate.Password, ancestor.Password)
	d.TimeCreated = tsField(candidate.TimeCreated, ancestor.TimeCreated)
	d.TimeLastUsed = tsField(candidate.TimeLastUsed, ancestor.TimeLastUsed)
	d.TimePasswordChanged = tsField(candidate.TimePasswordChanged, ancestor.TimePasswordChanged)
	d.TimesUsedDelta = candidate.TimesUsed - ancestor.TimesUsed
	return d
}

// ageInputs carries the timestamps needed to break a both-sides-changed
// tie between the local and upstream deltas.
type ageInputs struct {
	now            int64
	localModified  int64
	serverNow      int64
	serverModified int64
}

func (a ageInputs) preferRemote() bool {
	localAge := a.now - a.localModified
	remoteAge := a.serverNow - a.serverModified
	return remoteAge < localAge
}

// mergeDeltas combines a local and an upstream delta into one, applying the
// non-commutative "smaller age wins" rule when both sides touched the same
// field, and summing the commutative times_used deltas unconditionally.
func mergeDeltas(local, upstream delta, ages ageInputs) delta {
	remoteWins := ages.preferRemote()

	pick := func(l, u *string) *string {
		switch {
		case l == nil:
			return u
		case u == nil:
			return l
		case remoteWins:
			return u
		default:
			return l
		}
	}
	pickTS := func(l, u *int64) *int64 {
		switch {
		case l == nil:
			return u
		case u == nil:
			return l
		case remoteWins:
			return u
		default:
			return l
		}
	}

	return delta{
		Origin:              pick(local.Origin, upstream.Origin),
		HTTPRealm:           pick(local.HTTPRealm, upstream.HTTPRealm),
		FormActionOrigin:    pick(local.FormActionOrigin, upstream.FormActionOrigin),
		UsernameField:       pick(local.UsernameField, upstream.UsernameField),
		PasswordField:       pick(local.PasswordField, upstream.PasswordField),
		Username:            pick(local.Username, upstream.Username),
		Password:            pick(local.Password, upstream.Password),
		TimeCreated:         pickTS(local.TimeCreated, upstream.TimeCreated),
		TimeLastUsed:        pickTS(local.TimeLastUsed, upstream.TimeLastUsed),
		TimePasswordChanged: pickTS(local.TimePasswordChanged, upstream.TimePasswordChanged),
		TimesUsedDelta:      local.TimesUsedDelta + upstream.TimesUsedDelta,
	}
}

// apply produces the merged field set by laying delta over ancestor: a nil
// delta field keeps the ancestor's value, a set one replaces it, and
// times_used advances by the (possibly negative-canceling) summed delta.
func (d delta) apply(ancestor fieldSet) fieldSet {
	out := ancestor
	if d.Origin != nil {
		out.Origin = *d.Origin
	}
	if d.HTTPRealm != nil {
		out.HTTPRealm = *d.HTTPRealm
	}
	if d.FormActionOrigin != nil {
		out.FormActionOrigin = *d.FormActionOrigin
	}
	if d.UsernameField != nil {
		out.UsernameField = *d.UsernameField
	}
	if d.PasswordField != nil {
		out.PasswordField = *d.PasswordField
	}
	if d.Username != nil {
		out.Username = *d.Username
	}
	if d.Password != nil {
		out.Password = *d.Password
	}
	if d.TimeCreated != nil {
		out.TimeCreated = *d.TimeCreated
	}
	if d.TimeLastUsed != nil {
		out.TimeLastUsed = *d.TimeLastUsed
	}
	if d.TimePasswordChanged != nil {
		out.TimePasswordChanged = *d.TimePasswordChanged
	}
	out.TimesUsed += d.TimesUsedDelta
	return out
}

// equalContent reports whether two field sets agree on every field a
// conflict can actually occur on, ignoring times_used: that counter merges
// additively across every sync and so almost never matches between a merged
// local row and the raw incoming record, without that implying a genuine
// content conflict.
func (fs fieldSet) equalContent(other fieldSet) bool {
	fs.TimesUsed = 0
	other.TimesUsed = 0
	return fs == other
}

func (fs fieldSet) toLoginFields() LoginFields {
	return LoginFields{
		Origin:           fs.Origin,
		HTTPRealm:        fs.HTTPRealm,
		FormActionOrigin: fs.FormActionOrigin,
		UsernameField:    fs.UsernameField,
		PasswordField:    fs.PasswordField,
	}
}

func (fs fieldSet) toSecureFields() SecureFields {
	return SecureFields{Username: fs.Username, Password: fs.Password}
}
