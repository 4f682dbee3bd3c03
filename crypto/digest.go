// Package crypto implements the cryptographic primitives the ledger is
// built on: SHA3-256 digests, P-256 ECDSA signing, and the fixed-width
// signature encoding stored on-chain as hash_signature/prev_hash_signature.
package crypto

import "golang.org/x/crypto/sha3"

// Digest returns the SHA3-256 digest of input. This is the one hash
// function used throughout the core: block hashes, Merkle leaves and
// nodes, and public-key key_ids are all Digest of some canonical
// encoding.
func Digest(input []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
