package ledger

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// KeyPair is a freshly generated custodial signing key. The public key
// is the uncompressed point without the 0x04 prefix, as the chain's
// account-key format expects.
type KeyPair struct {
	PrivateKeyHex string
	PublicKeyHex  string
}

// GenerateKeyPair creates a new ECDSA P-256 keypair for a custodial
// account.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privBytes := make([]byte, 32)
	priv.D.FillBytes(privBytes)

	pubBytes := make([]byte, 64)
	priv.PublicKey.X.FillBytes(pubBytes[:32])
	priv.PublicKey.Y.FillBytes(pubBytes[32:])

	return &KeyPair{
		PrivateKeyHex: hex.EncodeToString(privBytes),
		PublicKeyHex:  hex.EncodeToString(pubBytes),
	}, nil
}

// signMessage pre-hashes the message with SHA3-256 and produces a
// 64-byte r||s ECDSA signature over it.
func signMessage(privateKeyHex string, message []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	digest := sha3.Sum256(message)

	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// verifySignature checks a 64-byte r||s signature against the SHA3-256
// digest of message. Used in tests and diagnostics.
func verifySignature(pub *ecdsa.PublicKey, message, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	digest := sha3.Sum256(message)
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}

	d := new(big.Int).SetBytes(raw)
	curve := elliptic.P256()
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("private key out of curve order")
	}

	priv := &ecdsa.PrivateKey{D: d}
	priv.Curve = curve
	priv.X, priv.Y = curve.ScalarBaseMult(raw)
	return priv, nil
}
