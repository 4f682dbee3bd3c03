package ledger

import (
	"testing"
	"time"

	"github.com/geofmureithi/ubu-block/crypto"
)

func newTestSigner(t *testing.T) Signer {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return NewSigner(kp, "test-node", 0, time.Unix(1700000000, 0).UTC())
}

func TestGenesisBlockInvariants(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000000, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	if g.Height != 0 {
		t.Fatalf("genesis height = %d, want 0", g.Height)
	}
	if g.PrevHash != GenesisSentinel() {
		t.Fatalf("genesis prev_hash not the fixed sentinel")
	}
	if g.Payload.Kind != PayloadGenesis {
		t.Fatalf("genesis payload kind = %v, want PayloadGenesis", g.Payload.Kind)
	}
	if err := VerifyStructure(g, nil); err != nil {
		t.Fatalf("VerifyStructure(genesis): %v", err)
	}
	if err := VerifySignature(g, signer.KeyPair.Public); err != nil {
		t.Fatalf("VerifySignature(genesis): %v", err)
	}
}

func TestGenesisHashDeterministicGivenFixedInputs(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000000, 0).UTC()
	g1, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	g2, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	if g1.Hash != g2.Hash {
		t.Fatalf("genesis hash not deterministic: %x vs %x", g1.Hash, g2.Hash)
	}
}

func TestResultBlockMerkleRoot(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000001, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	entries := []ResultEntry{
		{StationID: 1, CandidateID: 1, Votes: 52},
		{StationID: 1, CandidateID: 2, Votes: 99},
	}
	b, err := New(signer, g.Hash, 1, entries, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := MerkleRoot(entries)
	if b.MerkleRoot != want {
		t.Fatalf("merkle_root = %x, want %x", b.MerkleRoot, want)
	}
	if err := VerifyStructure(b, g); err != nil {
		t.Fatalf("VerifyStructure: %v", err)
	}
	if err := VerifySignature(b, signer.KeyPair.Public); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifyStructureRejectsBrokenLinkage(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000002, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	wrongPrev := [32]byte{0xff}
	b, err := New(signer, wrongPrev, 1, nil, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := VerifyStructure(b, g); err == nil {
		t.Fatalf("expected VerifyStructure to reject mismatched prev_hash")
	}
}

func TestVerifyStructureRejectsTamperedMerkleRoot(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000003, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	entries := []ResultEntry{{StationID: 1, CandidateID: 1, Votes: 1}}
	b, err := New(signer, g.Hash, 1, entries, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Payload.Entries = append(b.Payload.Entries, ResultEntry{StationID: 2, CandidateID: 2, Votes: 2})
	if err := VerifyStructure(b, g); err == nil {
		t.Fatalf("expected VerifyStructure to reject tampered payload")
	}
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)
	now := time.Unix(1700000004, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	if err := VerifySignature(g, other.KeyPair.Public); err == nil {
		t.Fatalf("expected VerifySignature to reject the wrong public key")
	}
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000005, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	entries := []ResultEntry{
		{StationID: 1, CandidateID: 1, Votes: 52},
		{StationID: 1, CandidateID: 2, Votes: 99},
		{StationID: 2, CandidateID: 1, Votes: 10},
	}
	b, err := New(signer, g.Hash, 1, entries, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, original := range []*Block{g, b} {
		encoded := EncodeBlock(original)
		decoded, err := DecodeBlock(encoded)
		if err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
		if decoded.Hash != original.Hash || decoded.Height != original.Height ||
			decoded.PrevHash != original.PrevHash || decoded.MerkleRoot != original.MerkleRoot {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded.Header, original.Header)
		}
		if len(decoded.Payload.Entries) != len(original.Payload.Entries) {
			t.Fatalf("round trip entry count mismatch: got %d, want %d", len(decoded.Payload.Entries), len(original.Payload.Entries))
		}
	}
}

func TestEncodeDecodePendingBlockRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1700000006, 0).UTC()
	g, err := Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	b, err := New(signer, g.Hash, 1, nil, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pending := Hydrate(b.Header, b.Hash, b.HashSignature, b.PrevHashSignature, nil, [32]byte{}, false)
	if pending.Payload.Kind != PayloadPending {
		t.Fatalf("Hydrate without attachment should yield PayloadPending")
	}
	encoded := EncodeBlock(pending)
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock(pending): %v", err)
	}
	if decoded.Payload.Kind != PayloadPending {
		t.Fatalf("decoded pending block kind = %v", decoded.Payload.Kind)
	}
}
