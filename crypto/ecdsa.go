package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
)

// SignatureSize is the encoded length of a signature: two 32-byte,
// big-endian, fixed-width field elements (r||s). P-256's order fits in
// 32 bytes, so this encoding never needs the variable-width framing
// ASN.1 DER would require, and a given (r, s) pair has exactly one
// encoding. Signing is randomized, so two signatures over the same
// message with the same key still differ.
const SignatureSize = 64

// KeyPair is a P-256 signing key and its corresponding public key.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateKeyPair creates a fresh P-256 signing key.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// EncodePublicKey returns the uncompressed SEC1 point encoding of pub:
// 0x04 || X (32 bytes) || Y (32 bytes).
func EncodePublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

// DecodePublicKey parses an uncompressed SEC1 point into a P-256 public key.
func DecodePublicKey(b []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), b)
	if x == nil {
		return nil, fmt.Errorf("crypto: invalid public key encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// EncodePrivateKey returns the raw 32-byte big-endian scalar D.
func EncodePrivateKey(priv *ecdsa.PrivateKey) []byte {
	out := make([]byte, 32)
	priv.D.FillBytes(out)
	return out
}

// DecodePrivateKey reconstructs a P-256 private key from its raw scalar.
func DecodePrivateKey(b []byte) (*ecdsa.PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(b))
	}
	d := new(big.Int).SetBytes(b)
	priv := new(ecdsa.PrivateKey)
	priv.Curve = elliptic.P256()
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = elliptic.P256().ScalarBaseMult(b)
	return priv, nil
}

// Sign signs a 32-byte digest and returns the fixed-width r||s encoding.
// msg is always a digest, never a raw payload (§4.1): signing a variable
// length, attacker-influenced value directly would open the door to
// cross-protocol signature confusion.
func Sign(priv *ecdsa.PrivateKey, digest [32]byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	out := make([]byte, SignatureSize)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

// Verify checks a fixed-width r||s signature over a 32-byte digest.
func Verify(pub *ecdsa.PublicKey, digest [32]byte, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}
