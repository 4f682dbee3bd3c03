package store

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/geofmureithi/ubu-block/crypto"
	"github.com/geofmureithi/ubu-block/ledger"
	"github.com/geofmureithi/ubu-block/ledgererr"

	bolt "go.etcd.io/bbolt"
)

func decodePublicKeyBytes(b []byte) (*ecdsa.PublicKey, error) {
	return crypto.DecodePublicKey(b)
}

// AddPublicKey is idempotent on key_id: re-inserting a byte-identical
// record is a no-op, but a mismatched re-insertion fails with
// KeyConflict rather than silently overwriting a registry entry.
func (s *Store) AddPublicKey(record ledger.PublicKeyRecord) error {
	return s.chain.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPublicKeys)
		existing := bucket.Get(record.KeyID[:])
		encoded := ledger.EncodePublicKeyRecord(record)
		if existing != nil {
			if bytes.Equal(existing, encoded) {
				return nil
			}
			return ledgererr.New(ledgererr.KeyConflict, "public key record already exists with different contents")
		}
		if err := bucket.Put(record.KeyID[:], encoded); err != nil {
			return ledgererr.Newf(ledgererr.StoreIO, "put public key: %v", err)
		}
		return nil
	})
}

// GetPublicKey returns the registry record for key_id, active or revoked.
func (s *Store) GetPublicKey(keyID [32]byte) (ledger.PublicKeyRecord, error) {
	var out ledger.PublicKeyRecord
	err := s.chain.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPublicKeys).Get(keyID[:])
		if raw == nil {
			return ledgererr.New(ledgererr.NotFound, "no public key record for that key_id")
		}
		r, err := ledger.DecodePublicKeyRecord(raw)
		if err != nil {
			return ledgererr.Newf(ledgererr.StoreIO, "decode public key record: %v", err)
		}
		out = r
		return nil
	})
	return out, err
}

// AddPrivateKey appends a record to the local, never-replicated
// private-key store.
func (s *Store) AddPrivateKey(record ledger.PrivateKeyRecord) error {
	return s.private.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPrivateKeys)
		if err := bucket.Put(record.KeyID[:], ledger.EncodePrivateKeyRecord(record)); err != nil {
			return ledgererr.Newf(ledgererr.StoreIO, "put private key: %v", err)
		}
		return nil
	})
}

// GetLocalSigner returns the first private key found together with its
// chain-registry record, assembled into a ledger.Signer ready to build
// blocks. A node carries exactly one local signing identity in this
// design; if more than one private key were ever added, the first
// encountered (bbolt's ascending key order) is used.
func (s *Store) GetLocalSigner() (*ledger.Signer, error) {
	var record ledger.PrivateKeyRecord
	found := false
	err := s.private.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPrivateKeys).Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		r, err := ledger.DecodePrivateKeyRecord(v)
		if err != nil {
			return ledgererr.Newf(ledgererr.StoreIO, "decode private key record: %v", err)
		}
		record = r
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ledgererr.New(ledgererr.NoLocalKey, "no local private key has been added")
	}

	priv, err := crypto.DecodePrivateKey(record.PrivateKeyBytes)
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.StoreIO, "decode private key bytes: %v", err)
	}

	publicRecord, err := s.GetPublicKey(record.KeyID)
	if err != nil {
		return nil, err
	}
	pub, err := decodePublicKeyBytes(publicRecord.KeyBytes)
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.StoreIO, "decode signer public key: %v", err)
	}

	return &ledger.Signer{
		KeyPair: &crypto.KeyPair{Private: priv, Public: pub},
		Record:  publicRecord,
	}, nil
}
