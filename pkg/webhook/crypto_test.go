package webhook

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, raw)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestKeyringRoundTrip(t *testing.T) {
	keyring, err := NewKeyring([]string{testKey(t)})
	require.NoError(t, err)

	ciphertext, err := keyring.Encrypt("super secret")
	require.NoError(t, err)
	assert.NotEqual(t, "super secret", ciphertext)

	plaintext, err := keyring.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super secret", plaintext)
}

func TestKeyringRotationOldKeyStillDecrypts(t *testing.T) {
	oldKey := testKey(t)
	oldRing, err := NewKeyring([]string{oldKey})
	require.NoError(t, err)
	ciphertext, err := oldRing.Encrypt("rotate me")
	require.NoError(t, err)

	// new key prepended, old key retained
	newRing, err := NewKeyring([]string{testKey(t), oldKey})
	require.NoError(t, err)

	plaintext, err := newRing.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", plaintext)

	// fresh encryptions use the new key only
	fresh, err := newRing.Encrypt("rotate me")
	require.NoError(t, err)
	_, err = oldRing.Decrypt(fresh)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestKeyringDecryptUnknownKeyFails(t *testing.T) {
	ringA, err := NewKeyring([]string{testKey(t)})
	require.NoError(t, err)
	ringB, err := NewKeyring([]string{testKey(t)})
	require.NoError(t, err)

	ciphertext, err := ringA.Encrypt("secret")
	require.NoError(t, err)

	_, err = ringB.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNewKeyringRejectsBadKeys(t *testing.T) {
	_, err := NewKeyring(nil)
	assert.Error(t, err)

	_, err = NewKeyring([]string{"not base64!!!"})
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewKeyring([]string{short})
	assert.Error(t, err)
}
