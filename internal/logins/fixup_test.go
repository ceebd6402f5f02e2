package logins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixupOrigin_NormalizesTupleOrigin(t *testing.T) {
	origin, err := FixupOrigin("https://example.com:443/some/path?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:443", origin)
}

func TestFixupOrigin_RejectsEmpty(t *testing.T) {
	_, err := FixupOrigin("   ")
	require.Error(t, err)
	var invalid *InvalidLoginError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonEmptyOrigin, invalid.Reason)
}

func TestFixupOrigin_IsIdempotent(t *testing.T) {
	once, err := FixupOrigin("https://Example.com")
	require.NoError(t, err)
	twice, err := FixupOrigin(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestFixupOrigin_AllowsOpaqueProxyScheme(t *testing.T) {
	origin, err := FixupOrigin("moz-proxy://example.com")
	require.NoError(t, err)
	assert.Equal(t, "moz-proxy://example.com", origin)
}

func TestFixupFormActionOrigin_EmptyStaysEmpty(t *testing.T) {
	out, err := FixupFormActionOrigin("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFixupFormFieldName_ClearsSentinelDot(t *testing.T) {
	assert.Empty(t, FixupFormFieldName("."))
	assert.Equal(t, "username", FixupFormFieldName("username"))
}

func TestFixupSecureField_StripsNulBytes(t *testing.T) {
	assert.Equal(t, "hunter2", FixupSecureField("hun\x00ter2"))
}

func TestValidate_RequiresExactlyOneTarget(t *testing.T) {
	err := Validate(LoginFields{Origin: "https://example.com"}, SecureFields{Password: "x"})
	require.Error(t, err)
	var invalid *InvalidLoginError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNoTarget, invalid.Reason)

	err = Validate(LoginFields{
		Origin:           "https://example.com",
		FormActionOrigin: "https://example.com",
		HTTPRealm:        "realm",
	}, SecureFields{Password: "x"})
	require.Error(t, err)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonBothTargets, invalid.Reason)
}

func TestValidate_RequiresNonEmptyPassword(t *testing.T) {
	err := Validate(LoginFields{Origin: "https://example.com", HTTPRealm: "realm"}, SecureFields{})
	require.Error(t, err)
	var invalid *InvalidLoginError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonEmptyPassword, invalid.Reason)
}

func TestFixupAndValidate_HappyPath(t *testing.T) {
	fields, secure, err := FixupAndValidate(
		LoginFields{Origin: "https://example.com", FormActionOrigin: "https://example.com", UsernameField: "."},
		SecureFields{Username: "alice", Password: "hun\x00ter2"},
	)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", fields.Origin)
	assert.Empty(t, fields.UsernameField)
	assert.Equal(t, "hunter2", secure.Password)
}
