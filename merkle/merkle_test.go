package merkle

import "testing"

func leafFor(s string) [32]byte {
	return Leaf([]byte(s))
}

func TestEmptyTreeRoot(t *testing.T) {
	tree := Build(nil)
	if tree.Root() != EmptyRoot() {
		t.Fatalf("empty tree root mismatch")
	}
}

func TestSingleLeafRootEqualsLeaf(t *testing.T) {
	leaf := leafFor("only")
	tree := Build([][32]byte{leaf})
	if tree.Root() != leaf {
		t.Fatalf("single-leaf root should equal the leaf itself")
	}
}

func TestTwoLeavesRoot(t *testing.T) {
	l0, l1 := leafFor("a"), leafFor("b")
	tree := Build([][32]byte{l0, l1})
	want := hashPair(l0, l1)
	if tree.Root() != want {
		t.Fatalf("two-leaf root = %x, want %x", tree.Root(), want)
	}
}

func TestOddCountDuplicatesLastNode(t *testing.T) {
	leaves := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c"), leafFor("d"), leafFor("e")}
	tree := Build(leaves)

	n01 := hashPair(leaves[0], leaves[1])
	n23 := hashPair(leaves[2], leaves[3])
	n44 := hashPair(leaves[4], leaves[4])
	top := hashPair(n01, n23)
	want := hashPair(top, hashPair(n44, n44))
	if tree.Root() != want {
		t.Fatalf("odd-count root = %x, want %x", tree.Root(), want)
	}
}

func TestProofVerifyRoundTripAllIndices(t *testing.T) {
	leaves := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c"), leafFor("d"), leafFor("e")}
	tree := Build(leaves)
	root := tree.Root()

	for i := range leaves {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("Proof(%d): %v", i, err)
		}
		if !VerifyProof(leaves[i], proof, root, i, len(leaves)) {
			t.Fatalf("VerifyProof failed for index %d", i)
		}
	}
}

func TestVerifyProofRejectsWrongLeaf(t *testing.T) {
	leaves := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c")}
	tree := Build(leaves)
	root := tree.Root()
	proof, err := tree.Proof(1)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if VerifyProof(leafFor("not-a-member"), proof, root, 1, len(leaves)) {
		t.Fatalf("VerifyProof accepted a non-member leaf")
	}
}

func TestVerifyProofRejectsTamperedSibling(t *testing.T) {
	leaves := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c"), leafFor("d")}
	tree := Build(leaves)
	root := tree.Root()
	proof, err := tree.Proof(2)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	proof[0] = leafFor("tampered")
	if VerifyProof(leaves[2], proof, root, 2, len(leaves)) {
		t.Fatalf("VerifyProof accepted a tampered sibling")
	}
}

func TestVerifyProofRejectsNonMemberIndex(t *testing.T) {
	leaves := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c"), leafFor("d"), leafFor("e")}
	tree := Build(leaves)
	root := tree.Root()
	proof, err := tree.Proof(4)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	sixth := leafFor("f")
	if VerifyProof(sixth, proof, root, 4, len(leaves)) {
		t.Fatalf("VerifyProof accepted a non-member sixth entry reusing an existing index")
	}
}
