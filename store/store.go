// Package store implements the durable ledger store: an append-only
// chain of blocks and payload rows plus a public-key registry, backed by
// an embedded bbolt database, and a separate, never-replicated
// private-key store. The bucket layout mirrors the teacher's
// bucket-per-concern design in node/store/db.go, generalized from a
// UTXO chain index to the election-ledger schema of §4.4.
package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks         = []byte("blocks")
	bucketBlocksByHash   = []byte("blocks_by_hash")
	bucketPayloadEntries = []byte("payload_entries")
	bucketPublicKeys     = []byte("public_keys")
	bucketPrivateKeys    = []byte("private_keys")
)

// Store owns two independent bbolt handles: the chain database (shared,
// replicable) and the private-key database (local only). They are
// opened and closed together for operator convenience, but nothing ever
// crosses from one into a transaction on the other.
type Store struct {
	chain   *bolt.DB
	private *bolt.DB
}

// Open opens (creating if absent) the chain database at chainPath and
// the private-key database at privatePath, and ensures every bucket
// this package uses exists.
func Open(chainPath, privatePath string) (*Store, error) {
	chainDB, err := bolt.Open(chainPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open chain db: %w", err)
	}
	if err := chainDB.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketBlocksByHash, bucketPayloadEntries, bucketPublicKeys} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = chainDB.Close()
		return nil, err
	}

	privateDB, err := bolt.Open(privatePath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = chainDB.Close()
		return nil, fmt.Errorf("store: open private key db: %w", err)
	}
	if err := privateDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPrivateKeys)
		return err
	}); err != nil {
		_ = chainDB.Close()
		_ = privateDB.Close()
		return nil, err
	}

	return &Store{chain: chainDB, private: privateDB}, nil
}

func (s *Store) Close() error {
	var firstErr error
	if s.chain != nil {
		firstErr = s.chain.Close()
	}
	if s.private != nil {
		if err := s.private.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
