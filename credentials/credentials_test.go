package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, r *Resolver, input string) (*Credentials, error) {
	t.Helper()
	return r.Resolve(context.Background(), strings.NewReader(input))
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("TEST_TOKEN", "secret123")

	creds, err := resolve(t, NewResolver(), `auth_token: {{ env "TEST_TOKEN" | quote }}`)
	require.NoError(t, err)
	require.Equal(t, "secret123", creds.AuthToken)
}

func TestResolveEnvMissing(t *testing.T) {
	_, err := resolve(t, NewResolver(), `auth_token: {{ env "NONEXISTENT_VAR_XYZ" | quote }}`)
	require.ErrorContains(t, err, "NONEXISTENT_VAR_XYZ")
}

func TestResolveEnvDefault(t *testing.T) {
	creds, err := resolve(t, NewResolver(), `auth_token: {{ envDefault "NONEXISTENT_VAR_XYZ" "fallback" | quote }}`)
	require.NoError(t, err)
	require.Equal(t, "fallback", creds.AuthToken)

	t.Setenv("TEST_VAR", "actual")
	creds, err = resolve(t, NewResolver(), `auth_token: {{ envDefault "TEST_VAR" "fallback" | quote }}`)
	require.NoError(t, err)
	require.Equal(t, "actual", creds.AuthToken)
}

func TestResolveFileFunction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o600))

	creds, err := resolve(t, NewResolver(), `auth_token: {{ file "`+path+`" | quote }}`)
	require.NoError(t, err)
	require.Equal(t, "file-secret", creds.AuthToken)
}

func TestResolveQuotesSpecialCharacters(t *testing.T) {
	t.Setenv("TEST_SPECIAL", `value: with "quotes" # and \backslash`)

	creds, err := resolve(t, NewResolver(), `auth_token: {{ env "TEST_SPECIAL" | quote }}`)
	require.NoError(t, err)
	require.Equal(t, `value: with "quotes" # and \backslash`, creds.AuthToken)
}

func TestResolveProviderIsMemoised(t *testing.T) {
	calls := 0
	provider := func(_ context.Context, ref string) (string, error) {
		calls++
		return "resolved-" + ref, nil
	}

	input := `
auth_token: {{ vault "shared" | quote }}
origin:
  token: {{ vault "shared" | quote }}
`
	creds, err := resolve(t, NewResolver(WithProvider("vault", provider)), input)
	require.NoError(t, err)
	require.Equal(t, "resolved-shared", creds.AuthToken)
	require.Equal(t, "resolved-shared", creds.Origin.Token)
	require.Equal(t, 1, calls)
}

func TestResolveProviderError(t *testing.T) {
	provider := func(context.Context, string) (string, error) {
		return "", errors.New("access denied")
	}
	_, err := resolve(t, NewResolver(WithProvider("vault", provider)), `auth_token: {{ vault "x" | quote }}`)
	require.ErrorContains(t, err, "access denied")
}

func TestResolveOriginBasicAuth(t *testing.T) {
	input := `
origin:
  username: reader
  password: {{ "p@ss: word" | quote }}
`
	creds, err := resolve(t, NewResolver(), input)
	require.NoError(t, err)
	require.Empty(t, creds.AuthToken)
	require.Equal(t, OriginAuth{Username: "reader", Password: "p@ss: word"}, creds.Origin)
}

func TestResolveRejectsUnknownFields(t *testing.T) {
	_, err := resolve(t, NewResolver(), "npm:\n  token: x\n")
	require.ErrorContains(t, err, "invalid credentials YAML")
}

func TestResolveTemplateErrors(t *testing.T) {
	_, err := resolve(t, NewResolver(), `auth_token: {{ nope "x" }}`)
	require.ErrorContains(t, err, "parsing credentials template")
}

func TestResolveEmptyInput(t *testing.T) {
	creds, err := resolve(t, NewResolver(), "")
	require.NoError(t, err)
	require.Equal(t, &Credentials{}, creds)
}

func TestResolveOversizedInput(t *testing.T) {
	_, err := resolve(t, NewResolver(), strings.Repeat("#", maxSize+1))
	require.ErrorContains(t, err, "exceeds maximum size")
}

func TestResolveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("auth_token: static\n"), 0o600))

	creds, err := NewResolver().ResolveFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "static", creds.AuthToken)

	_, err = NewResolver().ResolveFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
