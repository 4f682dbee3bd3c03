// Package merkle builds the balanced binary commitment tree over an
// ordered sequence of payload leaves and produces per-leaf inclusion
// proofs. Combination is untagged digest(left||right): no domain
// separation tag is prepended, matching the wire-compatible definition
// fixed by the protocol rather than a tagged variant some other Merkle
// implementations use.
package merkle

import "github.com/geofmureithi/ubu-block/crypto"

// Leaf hashes an already canonically-encoded entry into a tree leaf.
func Leaf(encodedEntry []byte) [32]byte {
	return crypto.Digest(encodedEntry)
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return crypto.Digest(buf)
}

// EmptyRoot is the root of a tree with zero leaves: digest of the empty
// byte string. Genesis blocks and any block with no payload entries
// commit to this value.
func EmptyRoot() [32]byte {
	return crypto.Digest(nil)
}

// Tree is a fully materialized Merkle tree: levels[0] holds the leaves,
// levels[len(levels)-1] holds the single root. Keeping every level lets
// Proof walk straight up without recomputation.
type Tree struct {
	levels [][][32]byte
}

// Build constructs a tree over leaves in order. An odd-cardinality level
// duplicates its last node and pairs it with itself before combining.
func Build(leaves [][32]byte) *Tree {
	if len(leaves) == 0 {
		return &Tree{levels: [][][32]byte{{EmptyRoot()}}}
	}

	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	levels := [][][32]byte{level}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}
}

// Root returns the commitment for the whole leaf sequence.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// RootOf is a convenience wrapper for callers that just want a root
// without keeping the tree around for proofs.
func RootOf(leaves [][32]byte) [32]byte {
	return Build(leaves).Root()
}

// Proof returns the ordered sibling digests from leaf index to root.
func (t *Tree) Proof(index int) ([][32]byte, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, &indexError{index: index, n: len(t.levels[0])}
	}
	proof := make([][32]byte, 0, len(t.levels)-1)
	idx := index
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		level := t.levels[lvl]
		var siblingIdx int
		if idx%2 == 0 {
			if idx+1 < len(level) {
				siblingIdx = idx + 1
			} else {
				siblingIdx = idx // duplicated last node: sibling is itself
			}
		} else {
			siblingIdx = idx - 1
		}
		proof = append(proof, level[siblingIdx])
		idx /= 2
	}
	return proof, nil
}

type indexError struct {
	index int
	n     int
}

func (e *indexError) Error() string {
	return "merkle: leaf index out of range"
}

// VerifyProof reconstructs the root from leaf by walking proof, using
// index's bits (LSB first, consumed one per level) to decide whether the
// accumulated hash is the left or right child at each step. A
// duplicated-last-node position consumes an index bit like any other.
func VerifyProof(leaf [32]byte, proof [][32]byte, root [32]byte, index int, n int) bool {
	if n == 0 {
		return root == EmptyRoot()
	}
	if index < 0 || index >= n {
		return false
	}
	current := leaf
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
		idx /= 2
	}
	return current == root
}
