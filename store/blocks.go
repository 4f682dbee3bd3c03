package store

import (
	"encoding/binary"
	"fmt"

	"github.com/geofmureithi/ubu-block/ledger"
	"github.com/geofmureithi/ubu-block/ledgererr"
	"github.com/geofmureithi/ubu-block/wire"

	bolt "go.etcd.io/bbolt"
)

// MaxRange bounds get_range(count) so a single request cannot force an
// unbounded scan or response.
const MaxRange = 10_000

func heightKey(height int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(height))
	return k[:]
}

func entryKey(height int64, index int) []byte {
	var k [12]byte
	binary.BigEndian.PutUint64(k[0:8], uint64(height))
	binary.BigEndian.PutUint32(k[8:12], uint32(index))
	return k[:]
}

// Height returns -1 for an empty store, else the highest committed height.
func (s *Store) Height() (int64, error) {
	height := int64(-1)
	err := s.chain.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		height = int64(binary.BigEndian.Uint64(k))
		return nil
	})
	if err != nil {
		return 0, ledgererr.Newf(ledgererr.StoreIO, "height: %v", err)
	}
	return height, nil
}

// headerOnlyCopy strips payload rows from b before it is written to the
// blocks bucket; entries are stored in payload_entries, keyed for
// ordered retrieval, to keep the header row small and to let
// ValidateChain recompute the Merkle root from the authoritative rows
// rather than trust whatever was embedded in the header row.
func headerOnlyCopy(b *ledger.Block) *ledger.Block {
	cp := *b
	switch cp.Payload.Kind {
	case ledger.PayloadResults:
		cp.Payload = ledger.Payload{Kind: ledger.PayloadPending}
	case ledger.PayloadGenesis:
		cp.Payload = ledger.Payload{Kind: ledger.PayloadGenesis, InitPayloadHash: b.Payload.InitPayloadHash}
	}
	return &cp
}

// AddBlock atomically appends block, enforcing I1 (dense heights), I6
// (unique genesis), and re-validating structure (I2, I3, I5) and the
// signature (I4) against the registry before committing. It runs inside
// a single bbolt write transaction: on any rejection the transaction is
// rolled back and no partial state is observed.
func (s *Store) AddBlock(b *ledger.Block) error {
	return s.chain.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		blocksByHash := tx.Bucket(bucketBlocksByHash)
		entries := tx.Bucket(bucketPayloadEntries)
		pubkeys := tx.Bucket(bucketPublicKeys)

		currentHeight := int64(-1)
		if k, _ := blocks.Cursor().Last(); k != nil {
			currentHeight = int64(binary.BigEndian.Uint64(k))
		}

		if b.Height == 0 {
			if currentHeight != -1 {
				return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "genesis may only be appended to an empty store")
			}
		} else if b.Height != currentHeight+1 {
			if b.Height <= currentHeight {
				return ledgererr.AtHeight(ledgererr.DuplicateHeight, b.Height, "height already committed")
			}
			return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "height does not extend the chain densely")
		}

		if blocksByHash.Get(b.Hash[:]) != nil {
			return ledgererr.AtHeight(ledgererr.DuplicateHeight, b.Height, "hash already committed")
		}

		var predecessor *ledger.Block
		if b.Height > 0 {
			pred, err := loadBlock(tx, currentHeight)
			if err != nil {
				return err
			}
			predecessor = pred
		}
		if err := ledger.VerifyStructure(b, predecessor); err != nil {
			return err
		}

		if err := verifySigner(pubkeys, b); err != nil {
			return err
		}

		if err := blocks.Put(heightKey(b.Height), encodeBlockHeaderRow(headerOnlyCopy(b))); err != nil {
			return ledgererr.Newf(ledgererr.StoreIO, "put block header: %v", err)
		}
		if err := blocksByHash.Put(b.Hash[:], heightKey(b.Height)); err != nil {
			return ledgererr.Newf(ledgererr.StoreIO, "put hash index: %v", err)
		}
		for i, e := range b.Payload.Entries {
			if err := entries.Put(entryKey(b.Height, i), ledger.EncodeEntry(e)); err != nil {
				return ledgererr.Newf(ledgererr.StoreIO, "put payload entry: %v", err)
			}
		}
		return nil
	})
}

// verifySigner checks I4: b.SignerKeyID names an active (at b.Height)
// entry in the public key registry, and hash_signature verifies against
// that key. Shared by AddBlock and ValidateChain so neither path can
// drift from the other's notion of what a validly signed block is.
func verifySigner(pubkeys *bolt.Bucket, b *ledger.Block) error {
	signerRecordRaw := pubkeys.Get(b.SignerKeyID[:])
	if signerRecordRaw == nil {
		return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "signer_key_id not found in public key registry")
	}
	signerRecord, err := ledger.DecodePublicKeyRecord(signerRecordRaw)
	if err != nil {
		return ledgererr.Newf(ledgererr.StoreIO, "decode public key record: %v", err)
	}
	if !signerRecord.ActiveAt(b.Height) {
		return ledgererr.AtHeight(ledgererr.InvalidBlock, b.Height, "signer_key_id is not active at this height")
	}
	pub, err := decodePublicKeyBytes(signerRecord.KeyBytes)
	if err != nil {
		return ledgererr.Newf(ledgererr.StoreIO, "decode signer public key: %v", err)
	}
	return ledger.VerifySignature(b, pub)
}

// encodeBlockHeaderRow and decodeBlockHeaderRow wrap ledger.EncodeBlock /
// DecodeBlock: the store's blocks bucket always holds a header-only
// (Pending or Genesis) encoding, never Results rows, since payload lives
// in payload_entries.
func encodeBlockHeaderRow(b *ledger.Block) []byte {
	return ledger.EncodeBlock(b)
}

func decodeBlockHeaderRow(data []byte) (*ledger.Block, error) {
	return ledger.DecodeBlock(data)
}

func loadBlock(tx *bolt.Tx, height int64) (*ledger.Block, error) {
	raw := tx.Bucket(bucketBlocks).Get(heightKey(height))
	if raw == nil {
		return nil, ledgererr.New(ledgererr.NotFound, "no block at that height")
	}
	header, err := decodeBlockHeaderRow(raw)
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.StoreIO, "decode block header: %v", err)
	}

	var entries []ledger.ResultEntry
	if header.Payload.Kind != ledger.PayloadGenesis {
		c := tx.Bucket(bucketPayloadEntries).Cursor()
		prefix := heightKey(height)
		for k, v := c.Seek(prefix); k != nil && len(k) == 12 && string(k[:8]) == string(prefix); k, v = c.Next() {
			e, err := ledger.DecodeEntry(wire.NewReader(v))
			if err != nil {
				return nil, ledgererr.Newf(ledgererr.StoreIO, "decode payload entry: %v", err)
			}
			entries = append(entries, e)
		}
	}

	return ledger.Hydrate(header.Header, header.Hash, header.HashSignature, header.PrevHashSignature, entries, header.Payload.InitPayloadHash, header.Payload.Kind != ledger.PayloadGenesis), nil
}

// GetBlockByHeight returns the fully hydrated block at height.
func (s *Store) GetBlockByHeight(height int64) (*ledger.Block, error) {
	var out *ledger.Block
	err := s.chain.View(func(tx *bolt.Tx) error {
		b, err := loadBlock(tx, height)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// GetBlockByHash returns the fully hydrated block with that hash.
func (s *Store) GetBlockByHash(hash [32]byte) (*ledger.Block, error) {
	var out *ledger.Block
	err := s.chain.View(func(tx *bolt.Tx) error {
		heightRaw := tx.Bucket(bucketBlocksByHash).Get(hash[:])
		if heightRaw == nil {
			return ledgererr.New(ledgererr.NotFound, "no block with that hash")
		}
		height := int64(binary.BigEndian.Uint64(heightRaw))
		b, err := loadBlock(tx, height)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// GetRange returns up to count hydrated blocks starting at start, in
// ascending height order.
func (s *Store) GetRange(start int64, count int) ([]*ledger.Block, error) {
	if count <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidBlock, "count must be positive")
	}
	if count > MaxRange {
		count = MaxRange
	}
	var out []*ledger.Block
	err := s.chain.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, _ := c.Seek(heightKey(start)); k != nil && len(out) < count; k, _ = c.Next() {
			height := int64(binary.BigEndian.Uint64(k))
			b, err := loadBlock(tx, height)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.StoreIO, "get_range: %v", err)
	}
	return out, nil
}

// ValidateChain walks every committed height and re-checks I1-I5,
// recomputing merkle_root from the authoritative payload_entries rows
// rather than trusting the header row (P2: a single tampered payload
// byte must be caught here), and I4 against the public key registry
// (a tampered hash_signature, or a block signed by a key that is no
// longer active at that height, must be caught here too).
func (s *Store) ValidateChain() error {
	return s.chain.View(func(tx *bolt.Tx) error {
		pubkeys := tx.Bucket(bucketPublicKeys)
		height := int64(-1)
		if k, _ := tx.Bucket(bucketBlocks).Cursor().Last(); k != nil {
			height = int64(binary.BigEndian.Uint64(k))
		}
		var predecessor *ledger.Block
		for h := int64(0); h <= height; h++ {
			b, err := loadBlock(tx, h)
			if err != nil {
				return ledgererr.AtHeight(ledgererr.InvalidChain, h, fmt.Sprintf("load failed: %v", err))
			}
			if err := ledger.VerifyStructure(b, predecessor); err != nil {
				return ledgererr.AtHeight(ledgererr.InvalidChain, h, err.Error())
			}
			if err := verifySigner(pubkeys, b); err != nil {
				return ledgererr.AtHeight(ledgererr.InvalidChain, h, err.Error())
			}
			predecessor = b
		}
		return nil
	})
}
