package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testVault(t *testing.T) *Vault {
	key := sha256.Sum256([]byte("unit-test-key"))
	v, err := New(key[:])
	require.NoError(t, err)
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt("zd_refresh_token_abc123")
	require.NoError(t, err)
	assert.NotContains(t, ct, "zd_refresh_token")

	plain, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "zd_refresh_token_abc123", plain)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v := testVault(t)

	a, err := v.Encrypt("same secret")
	require.NoError(t, err)
	b, err := v.Encrypt("same secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[0] = 0x7f
	_, err = v.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	_, err = v.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v := testVault(t)

	_, err := v.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}))
	assert.Error(t, err)
}

func TestNewFromEnvSynthesizesDevKey(t *testing.T) {
	t.Setenv("TOKEN_ENCRYPTION_KEY", "")
	t.Setenv("ENVIRONMENT", "development")

	v, err := NewFromEnv(zaptest.NewLogger(t))
	require.NoError(t, err)

	ct, err := v.Encrypt("dev secret")
	require.NoError(t, err)
	plain, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "dev secret", plain)
}

func TestNewFromEnvFatalInProduction(t *testing.T) {
	t.Setenv("TOKEN_ENCRYPTION_KEY", "")
	t.Setenv("ENVIRONMENT", "production")

	_, err := NewFromEnv(zaptest.NewLogger(t))
	assert.Error(t, err)
}
