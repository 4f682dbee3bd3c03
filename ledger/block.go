package ledger

import (
	"crypto/ecdsa"
	"time"

	"github.com/geofmureithi/ubu-block/crypto"
	"github.com/geofmureithi/ubu-block/ledgererr"
	"github.com/geofmureithi/ubu-block/merkle"
	"github.com/geofmureithi/ubu-block/wire"
)

// Version is the protocol version stamped on every block header.
const Version uint32 = 1

// PayloadKind distinguishes the three payload variants a Block can
// carry. Pending is the state produced by rehydration before payload
// rows have been attached (§4.3); it is never the variant of a block
// that has passed validation end to end.
type PayloadKind uint32

const (
	PayloadGenesis PayloadKind = 0
	PayloadResults PayloadKind = 1
	PayloadPending PayloadKind = 2
)

// Payload holds whichever fields are relevant for Kind; the other
// fields are zero.
type Payload struct {
	Kind PayloadKind

	// Results entries, ordered. Only meaningful when Kind == PayloadResults.
	Entries []ResultEntry

	// InitPayloadHash is the digest of the genesis node's initialization
	// material. Only meaningful when Kind == PayloadGenesis.
	InitPayloadHash [32]byte
}

// Header is the part of a Block whose canonical encoding is hashed to
// produce Block.Hash. Payload bytes are bound only through MerkleRoot.
type Header struct {
	Height      int64
	PrevHash    [32]byte
	Timestamp   time.Time
	Version     uint32
	MerkleRoot  [32]byte
	SignerKeyID [32]byte
}

// Block is immutable once constructed; every field is fixed at
// construction or rehydration time.
type Block struct {
	Header
	Hash              [32]byte
	HashSignature     []byte
	PrevHashSignature []byte
	Payload           Payload
}

// GenesisSentinel is the fixed prev_hash of the genesis block: 31 zero
// bytes followed by 0x01 (hex "00...01").
func GenesisSentinel() [32]byte {
	var s [32]byte
	s[31] = 1
	return s
}

// EncodeHeader canonically encodes exactly the fields the hash commits
// to, in the order fixed by §3: prev_hash, timestamp, height,
// signer_key_id, merkle_root. Version is not part of the hashed header.
func EncodeHeader(h Header) []byte {
	w := wire.NewWriter()
	w.PutRaw(h.PrevHash[:])
	w.PutInt64(h.Timestamp.Unix())
	w.PutInt64(h.Height)
	w.PutRaw(h.SignerKeyID[:])
	w.PutRaw(h.MerkleRoot[:])
	return w.Bytes()
}

// ComputeHash is the pure function from header to block hash.
func ComputeHash(h Header) [32]byte {
	return crypto.Digest(EncodeHeader(h))
}

// Signer bundles everything needed to produce blocks: the key pair and
// the on-chain record identifying it. Record.KeyID must already equal
// digest(EncodePublicKey(KeyPair.Public)).
type Signer struct {
	KeyPair *crypto.KeyPair
	Record  PublicKeyRecord
}

// NewSigner derives a Signer's on-chain identity from a fresh key pair.
func NewSigner(kp *crypto.KeyPair, creatorLabel string, addedAtHeight int64, now time.Time) Signer {
	keyID := crypto.Digest(crypto.EncodePublicKey(kp.Public))
	return Signer{
		KeyPair: kp,
		Record: PublicKeyRecord{
			KeyID:         keyID,
			CreatorLabel:  creatorLabel,
			KeyBytes:      crypto.EncodePublicKey(kp.Public),
			State:         KeyActive,
			TimeAdded:     now,
			AddedAtHeight: addedAtHeight,
		},
	}
}

// New builds and signs a Results block on top of prevHash at height.
func New(signer Signer, prevHash [32]byte, height int64, entries []ResultEntry, now time.Time) (*Block, error) {
	if height <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidBlock, "New does not build genesis blocks; use Genesis")
	}
	header := Header{
		Height:      height,
		PrevHash:    prevHash,
		Timestamp:   now,
		Version:     Version,
		MerkleRoot:  MerkleRoot(entries),
		SignerKeyID: signer.Record.KeyID,
	}
	hash := ComputeHash(header)
	hashSig, err := crypto.Sign(signer.KeyPair.Private, hash)
	if err != nil {
		return nil, err
	}
	prevHashSig, err := crypto.Sign(signer.KeyPair.Private, prevHash)
	if err != nil {
		return nil, err
	}
	entriesCopy := make([]ResultEntry, len(entries))
	copy(entriesCopy, entries)
	return &Block{
		Header:            header,
		Hash:              hash,
		HashSignature:     hashSig,
		PrevHashSignature: prevHashSig,
		Payload:           Payload{Kind: PayloadResults, Entries: entriesCopy},
	}, nil
}

// Genesis builds the unique height-0 block. Its prev_hash_signature is a
// signature over the digest of initPayload (the initialization material
// hash), not over prev_hash itself — this is the one place the two
// diverge (§3).
func Genesis(signer Signer, initPayload []byte, now time.Time) (*Block, error) {
	prevHash := GenesisSentinel()
	header := Header{
		Height:      0,
		PrevHash:    prevHash,
		Timestamp:   now,
		Version:     Version,
		MerkleRoot:  merkle.EmptyRoot(),
		SignerKeyID: signer.Record.KeyID,
	}
	hash := ComputeHash(header)
	hashSig, err := crypto.Sign(signer.KeyPair.Private, hash)
	if err != nil {
		return nil, err
	}
	initHash := crypto.Digest(initPayload)
	prevHashSig, err := crypto.Sign(signer.KeyPair.Private, initHash)
	if err != nil {
		return nil, err
	}
	return &Block{
		Header:            header,
		Hash:              hash,
		HashSignature:     hashSig,
		PrevHashSignature: prevHashSig,
		Payload:           Payload{Kind: PayloadGenesis, InitPayloadHash: initHash},
	}, nil
}

// VerifyStructure checks the non-signature parts of a single block
// against its predecessor (nil for genesis): I2, I3, I5, I6. It does not
// check I4 (signature/key-registry verification); that is VerifySignature,
// since it needs the signer's public key which the caller resolves from
// the registry.
func VerifyStructure(b *Block, predecessor *Block) error {
	if ComputeHash(b.Header) != b.Hash {
		return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "hash does not match recomputed header digest")
	}

	if b.Height == 0 {
		if b.PrevHash != GenesisSentinel() {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "genesis block must carry the fixed sentinel prev_hash")
		}
		if b.Payload.Kind != PayloadGenesis {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "height 0 must carry a genesis payload")
		}
	} else {
		if predecessor == nil {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "no predecessor supplied for non-genesis block")
		}
		if b.PrevHash != predecessor.Hash {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "prev_hash does not match predecessor hash")
		}
		if b.Payload.Kind == PayloadGenesis {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "only height 0 may carry a genesis payload")
		}
	}

	switch b.Payload.Kind {
	case PayloadResults:
		if MerkleRoot(b.Payload.Entries) != b.MerkleRoot {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "merkle_root does not match recomputation over payload entries")
		}
	case PayloadGenesis:
		if b.MerkleRoot != merkle.EmptyRoot() {
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "genesis merkle_root must be the empty-tree root")
		}
	case PayloadPending:
		// Payload rows not yet attached; caller must hydrate before this
		// check can be meaningful. Without them merkle_root cannot be
		// checked, so the block is rejected as InvalidBlock.
		return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "cannot verify structure of a block with unattached (pending) payload")
	}
	return nil
}

// VerifySignature checks I4's cryptographic half: that hash_signature
// verifies against pub. Registry membership/activity is the store's
// responsibility (it alone knows the registry's state at block.Height).
func VerifySignature(b *Block, pub *ecdsa.PublicKey) error {
	if !crypto.Verify(pub, b.Hash, b.HashSignature) {
		return ledgererr.AtHeight(ledgererr.SignatureInvalid, b.Height, "hash_signature does not verify against signer public key")
	}
	return nil
}

// Hydrate assembles a Block from stored header fields plus whatever
// payload rows were attached. attached == false means "not attached yet"
// and the result's Payload.Kind is Pending (except at height 0, which is
// always Genesis per rehydration rules); attached == true yields a
// Results payload, even when entries is nil.
func Hydrate(header Header, hash [32]byte, hashSig, prevHashSig []byte, entries []ResultEntry, initPayloadHash [32]byte, attached bool) *Block {
	var payload Payload
	switch {
	case header.Height == 0:
		payload = Payload{Kind: PayloadGenesis, InitPayloadHash: initPayloadHash}
	case attached:
		payload = Payload{Kind: PayloadResults, Entries: entries}
	default:
		payload = Payload{Kind: PayloadPending}
	}
	return &Block{
		Header:            header,
		Hash:              hash,
		HashSignature:     hashSig,
		PrevHashSignature: prevHashSig,
		Payload:           payload,
	}
}
