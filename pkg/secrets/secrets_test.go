package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptTokenRoundTrip(t *testing.T) {
	m, err := NewManagerFromPassphrase("correct horse battery staple")
	require.NoError(t, err)

	encrypted, err := m.EncryptToken("abc123.def456.ghi789")
	require.NoError(t, err)

	decrypted, err := m.DecryptToken(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "abc123.def456.ghi789", decrypted)
}

func TestDecryptWithWrongPassphraseFails(t *testing.T) {
	m1, err := NewManagerFromPassphrase("passphrase-one")
	require.NoError(t, err)
	m2, err := NewManagerFromPassphrase("passphrase-two")
	require.NoError(t, err)

	encrypted, err := m1.EncryptToken("a-secret-token")
	require.NoError(t, err)

	_, err = m2.DecryptToken(encrypted)
	assert.Error(t, err)
}

func TestEncryptTokenProducesDistinctCiphertextsEachTime(t *testing.T) {
	m, err := NewManagerFromPassphrase("passphrase")
	require.NoError(t, err)

	a, err := m.EncryptToken("same-token")
	require.NoError(t, err)
	b, err := m.EncryptToken("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "a fresh random nonce per call means repeated encryption of the same token never matches")
}

func TestNewManagerRejectsWrongKeyLength(t *testing.T) {
	_, err := NewManager([]byte("too-short"))
	assert.Error(t, err)
}

func TestDecryptTokenRejectsTruncatedCiphertext(t *testing.T) {
	m, err := NewManagerFromPassphrase("passphrase")
	require.NoError(t, err)

	_, err = m.DecryptToken([]byte{1, 2, 3})
	assert.Error(t, err)
}
