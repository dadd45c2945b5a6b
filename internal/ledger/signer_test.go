package ledger

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	priv, err := hex.DecodeString(kp.PrivateKeyHex)
	require.NoError(t, err)
	assert.Len(t, priv, 32)

	pub, err := hex.DecodeString(kp.PublicKeyHex)
	require.NoError(t, err)
	assert.Len(t, pub, 64, "uncompressed point without the 04 prefix")
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("transfer 40.00000000 to 0xprovider")
	sig, err := signMessage(kp.PrivateKeyHex, message)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	priv, err := parsePrivateKey(kp.PrivateKeyHex)
	require.NoError(t, err)

	assert.True(t, verifySignature(&priv.PublicKey, message, sig))
	assert.False(t, verifySignature(&priv.PublicKey, []byte("tampered"), sig))

	sig[0] ^= 0xff
	assert.False(t, verifySignature(&priv.PublicKey, message, sig))
}

func TestSignRejectsBadKey(t *testing.T) {
	_, err := signMessage("not-hex", []byte("msg"))
	assert.Error(t, err)

	_, err = signMessage(hex.EncodeToString(make([]byte, 32)), []byte("msg"))
	assert.Error(t, err, "zero scalar is out of curve order")
}
