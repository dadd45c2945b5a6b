package ledger

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoreRoundTrip(t *testing.T) {
	ks, err := NewKeystore(strings.Repeat("ab", 32))
	require.NoError(t, err)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := ks.Encrypt(kp.PrivateKeyHex)
	require.NoError(t, err)
	assert.NotContains(t, sealed, kp.PrivateKeyHex)

	opened, err := ks.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKeyHex, opened)
}

func TestKeystoreRejectsWrongKey(t *testing.T) {
	ks1, err := NewKeystore(strings.Repeat("ab", 32))
	require.NoError(t, err)
	ks2, err := NewKeystore(strings.Repeat("cd", 32))
	require.NoError(t, err)

	sealed, err := ks1.Encrypt("secret-key-material")
	require.NoError(t, err)

	_, err = ks2.Decrypt(sealed)
	assert.Error(t, err)
}

func TestKeystoreKeyValidation(t *testing.T) {
	_, err := NewKeystore("zz")
	assert.Error(t, err)

	_, err = NewKeystore(hex.EncodeToString(make([]byte, 16)))
	assert.Error(t, err, "16-byte key is too short")
}
