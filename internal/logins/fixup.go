package logins

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// allowedOpaqueSchemes lists schemes without a network authority that are
// still accepted as origins verbatim (e.g. internal proxy-auth prompts).
var allowedOpaqueSchemes = map[string]bool{
	"moz-proxy": true,
}

var schemeHostPortRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.\-]*)://([^/?#]+)`)

func stripBytes(s, bad string) string {
	if !strings.ContainsAny(s, bad) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(bad, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func replaceBytes(s, bad string, repl rune) string {
	if !strings.ContainsAny(s, bad) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(bad, r) {
			b.WriteRune(repl)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractSchemeHostPort pulls a "scheme://host[:port]" prefix out of a
// string that failed to parse as a full URL (e.g. it has an unescaped path
// component), so origin recovery has something to re-parse.
func extractSchemeHostPort(s string) (string, bool) {
	m := schemeHostPortRe.FindString(s)
	if m == "" {
		return "", false
	}
	return m, true
}

func isTupleOrigin(u *url.URL) bool {
	return u.Host != ""
}

// FixupOrigin normalizes a raw origin string: trims whitespace and control
// bytes, rejects empty/"." input, parses it as a URL (recovering from a
// slightly malformed string by re-parsing just the scheme/host/port
// prefix), and serializes tuple origins as scheme://host[:port] in ASCII
// (IDNA), dropping any path, query or fragment. Fixup is
// idempotent: FixupOrigin(FixupOrigin(x)) == FixupOrigin(x).
func FixupOrigin(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = stripBytes(s, "\x00\r\n")
	if s == "" || s == "." {
		return "", &InvalidLoginError{Reason: ReasonEmptyOrigin}
	}

	u, err := url.Parse(s)
	if err != nil || (u.Scheme == "" && u.Host == "") {
		prefix, ok := extractSchemeHostPort(s)
		if !ok {
			return "", &InvalidLoginError{Reason: ReasonIllegalOriginFieldValue, Detail: raw}
		}
		u, err = url.Parse(prefix)
		if err != nil {
			return "", &InvalidLoginError{Reason: ReasonIllegalOriginFieldValue, Detail: raw}
		}
	}

	if isTupleOrigin(u) {
		host, err := idna.ToASCII(u.Hostname())
		if err != nil {
			host = u.Hostname()
		}
		origin := u.Scheme + "://" + host
		if port := u.Port(); port != "" {
			origin += ":" + port
		}
		return origin, nil
	}

	if allowedOpaqueSchemes[u.Scheme] {
		return s, nil
	}

	return "", &InvalidLoginError{Reason: ReasonIllegalOriginFieldValue, Detail: raw}
}

// FixupFormActionOrigin runs the same pipeline as FixupOrigin, but an empty
// input fixes up to an empty result rather than an error (the field is
// optional whenever HTTPRealm is set instead).
func FixupFormActionOrigin(raw string) (string, error) {
	if strings.TrimSpace(stripBytes(raw, "\x00\r\n")) == "" {
		return "", nil
	}
	return FixupOrigin(raw)
}

// FixupHTTPRealm replaces control bytes with spaces instead of discarding
// them: realms are user-visible and are remembered verbatim otherwise.
func FixupHTTPRealm(raw string) string {
	return replaceBytes(raw, "\r\n\x00", ' ')
}

// FixupFormFieldName clears a username/password field name if it contains
// control bytes or is the sentinel "." used by older clients.
func FixupFormFieldName(raw string) string {
	if raw == "." || strings.ContainsAny(raw, "\r\n\x00") {
		return ""
	}
	return raw
}

// FixupSecureField strips NUL bytes from a username or password.
func FixupSecureField(raw string) string {
	return stripBytes(raw, "\x00")
}

// FixupLogin normalizes every field that participates in validation or
// dedupe. It never rejects a record for being merely odd — only FixupOrigin
// failures propagate, since everything else either has a safe fallback
// (clearing a field name) or is validated separately by Validate.
func FixupLogin(fields LoginFields, secure SecureFields) (LoginFields, SecureFields, error) {
	origin, err := FixupOrigin(fields.Origin)
	if err != nil {
		return fields, secure, err
	}
	formAction, err := FixupFormActionOrigin(fields.FormActionOrigin)
	if err != nil {
		return fields, secure, err
	}

	out := fields
	out.Origin = origin
	out.FormActionOrigin = formAction
	out.HTTPRealm = FixupHTTPRealm(fields.HTTPRealm)
	out.UsernameField = FixupFormFieldName(fields.UsernameField)
	out.PasswordField = FixupFormFieldName(fields.PasswordField)

	outSecure := SecureFields{
		Username: FixupSecureField(secure.Username),
		Password: FixupSecureField(secure.Password),
	}

	return out, outSecure, nil
}

// Validate enforces the rules that are not already handled by fixup:
// non-empty origin, non-empty password, and exactly one of
// form_action_origin/http_realm.
func Validate(fields LoginFields, secure SecureFields) error {
	if fields.Origin == "" {
		return &InvalidLoginError{Reason: ReasonEmptyOrigin}
	}
	if secure.Password == "" {
		return &InvalidLoginError{Reason: ReasonEmptyPassword}
	}

	hasForm := fields.FormActionOrigin != ""
	hasRealm := fields.HTTPRealm != ""
	switch {
	case hasForm && hasRealm:
		return &InvalidLoginError{Reason: ReasonBothTargets}
	case !hasForm && !hasRealm:
		return &InvalidLoginError{Reason: ReasonNoTarget}
	}

	return nil
}

// FixupAndValidate runs FixupLogin followed by Validate, the pipeline that
// Add, AddWithMeta, AddMany, Update and AddOrUpdate run input through before
// any lookup or storage. Incoming sync records are not passed through it:
// DecodeIncoming and the reconciler store their fields as received.
func FixupAndValidate(fields LoginFields, secure SecureFields) (LoginFields, SecureFields, error) {
	fields, secure, err := FixupLogin(fields, secure)
	if err != nil {
		return fields, secure, err
	}
	if err := Validate(fields, secure); err != nil {
		return fields, secure, err
	}
	return fields, secure, nil
}
