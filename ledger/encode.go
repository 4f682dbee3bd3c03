package ledger

import (
	"fmt"
	"time"

	"github.com/geofmureithi/ubu-block/wire"
)

// EncodeBlock canonically encodes a complete Block for storage and wire
// transport: header fields, hash, both signatures, then a payload-kind
// tag and whatever fields that variant carries. This is the encoding
// used inside a BlockAnnouncement/BlockResponse/BlocksResponse P2P
// message and inside the chain store's block rows.
func EncodeBlock(b *Block) []byte {
	w := wire.NewWriter()
	w.PutInt64(b.Height)
	w.PutRaw(b.PrevHash[:])
	w.PutInt64(b.Timestamp.Unix())
	w.PutUint32(b.Version)
	w.PutRaw(b.MerkleRoot[:])
	w.PutRaw(b.SignerKeyID[:])
	w.PutRaw(b.Hash[:])
	w.PutBytes(b.HashSignature)
	w.PutBytes(b.PrevHashSignature)
	w.PutUint32(uint32(b.Payload.Kind))
	switch b.Payload.Kind {
	case PayloadResults:
		w.PutUint32(uint32(len(b.Payload.Entries)))
		for _, e := range b.Payload.Entries {
			w.PutRaw(EncodeEntry(e))
		}
	case PayloadGenesis:
		w.PutRaw(b.Payload.InitPayloadHash[:])
	case PayloadPending:
		// no extra fields
	}
	return w.Bytes()
}

// DecodeBlock is the inverse of EncodeBlock.
func DecodeBlock(data []byte) (*Block, error) {
	r := wire.NewReader(data)

	height, err := r.Int64()
	if err != nil {
		return nil, fmt.Errorf("ledger: decode height: %w", err)
	}
	prevHashRaw, err := r.Raw(32)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode prev_hash: %w", err)
	}
	var prevHash [32]byte
	copy(prevHash[:], prevHashRaw)

	ts, err := r.Int64()
	if err != nil {
		return nil, fmt.Errorf("ledger: decode timestamp: %w", err)
	}
	version, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("ledger: decode version: %w", err)
	}
	merkleRootRaw, err := r.Raw(32)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode merkle_root: %w", err)
	}
	var merkleRoot [32]byte
	copy(merkleRoot[:], merkleRootRaw)

	signerKeyIDRaw, err := r.Raw(32)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode signer_key_id: %w", err)
	}
	var signerKeyID [32]byte
	copy(signerKeyID[:], signerKeyIDRaw)

	hashRaw, err := r.Raw(32)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode hash: %w", err)
	}
	var hash [32]byte
	copy(hash[:], hashRaw)

	hashSig, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("ledger: decode hash_signature: %w", err)
	}
	prevHashSig, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("ledger: decode prev_hash_signature: %w", err)
	}

	kindRaw, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("ledger: decode payload kind: %w", err)
	}
	kind := PayloadKind(kindRaw)

	payload := Payload{Kind: kind}
	switch kind {
	case PayloadResults:
		count, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("ledger: decode entry count: %w", err)
		}
		entries := make([]ResultEntry, count)
		for i := range entries {
			e, err := DecodeEntry(r)
			if err != nil {
				return nil, fmt.Errorf("ledger: decode entry %d: %w", i, err)
			}
			entries[i] = e
		}
		payload.Entries = entries
	case PayloadGenesis:
		initRaw, err := r.Raw(32)
		if err != nil {
			return nil, fmt.Errorf("ledger: decode init_payload_hash: %w", err)
		}
		copy(payload.InitPayloadHash[:], initRaw)
	case PayloadPending:
		// no extra fields
	default:
		return nil, fmt.Errorf("ledger: unknown payload kind %d", kindRaw)
	}

	if !r.Done() {
		return nil, fmt.Errorf("ledger: trailing bytes after decoding block")
	}

	return &Block{
		Header: Header{
			Height:      height,
			PrevHash:    prevHash,
			Timestamp:   time.Unix(ts, 0).UTC(),
			Version:     version,
			MerkleRoot:  merkleRoot,
			SignerKeyID: signerKeyID,
		},
		Hash:              hash,
		HashSignature:     hashSig,
		PrevHashSignature: prevHashSig,
		Payload:           payload,
	}, nil
}
