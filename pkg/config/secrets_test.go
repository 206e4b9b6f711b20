package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{EnvOpenAIAPIKey: "sk-test", EnvAnthropicAPIKey: "ant-test"}

	assert.False(t, SecretsFileExists(dir))
	require.NoError(t, EncryptSecretsFile(dir, "hunter2", secrets))
	assert.True(t, SecretsFileExists(dir))

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, got)

	_, err = DecryptSecretsFile(dir, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestDecryptFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"A": "b"}))
	require.NoError(t, os.Chmod(SecretsPath(dir), 0o644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)
	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDecryptRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{}))
	require.NoError(t, os.WriteFile(SecretsPath(dir), []byte("short"), 0o600))

	_, err := DecryptSecretsFile(dir, "pw")
	assert.ErrorContains(t, err, "too small")
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("SHORTLIST_TEST_SECRET", "from-env")

	v, err := GetSecret("SHORTLIST_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	SetDecryptedSecrets(map[string]string{"SHORTLIST_TEST_SECRET": "from-file"})
	v, err = GetSecret("SHORTLIST_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
	assert.Equal(t, []string{"SHORTLIST_TEST_SECRET"}, SecretNames())

	_, err = GetSecret("SHORTLIST_ABSENT_SECRET")
	assert.Error(t, err)
}

func TestGetAPIKey(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv(EnvOllamaHost, "")
	t.Setenv(EnvGoogleAPIKey, "g-key")

	host, err := GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaHostURL, host)

	key, err := GetAPIKey(ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "g-key", key)

	_, err = GetAPIKey("acme")
	assert.Error(t, err)
}
