package ledger

import (
	"fmt"
	"time"

	"github.com/geofmureithi/ubu-block/wire"
)

// KeyState is the lifecycle state of a PublicKeyRecord. Revocation is an
// additional record update, never a delete (§3).
type KeyState string

const (
	KeyActive  KeyState = "active"
	KeyRevoked KeyState = "revoked"
)

// PublicKeyRecord is content-addressed by KeyID = digest(key_bytes); it
// becomes retrievable as soon as it is committed to the chain.
type PublicKeyRecord struct {
	KeyID         [32]byte
	CreatorLabel  string
	KeyBytes      []byte
	State         KeyState
	TimeAdded     time.Time
	TimeRevoked   *time.Time
	AddedAtHeight int64
}

// ActiveAt reports whether the record was committed at or before height
// and is currently in the active state. The record carries no
// revocation height, so a revoked record is inactive at every height,
// including heights before it was revoked.
func (r PublicKeyRecord) ActiveAt(height int64) bool {
	if r.AddedAtHeight > height {
		return false
	}
	if r.State != KeyActive {
		return false
	}
	return true
}

// PrivateKeyRecord lives only in the local, unreplicated private-key
// store; it never appears on the chain or the wire.
type PrivateKeyRecord struct {
	KeyID           [32]byte
	PrivateKeyBytes []byte
	TimeAdded       time.Time
}

// EncodePublicKeyRecord canonically encodes a registry record for
// durable storage.
func EncodePublicKeyRecord(r PublicKeyRecord) []byte {
	w := wire.NewWriter()
	w.PutRaw(r.KeyID[:])
	w.PutString(r.CreatorLabel)
	w.PutBytes(r.KeyBytes)
	w.PutString(string(r.State))
	w.PutInt64(r.TimeAdded.Unix())
	if r.TimeRevoked != nil {
		w.PutByte(1)
		w.PutInt64(r.TimeRevoked.Unix())
	} else {
		w.PutByte(0)
	}
	w.PutInt64(r.AddedAtHeight)
	return w.Bytes()
}

func DecodePublicKeyRecord(data []byte) (PublicKeyRecord, error) {
	var r PublicKeyRecord
	rd := wire.NewReader(data)

	keyID, err := rd.Raw(32)
	if err != nil {
		return r, fmt.Errorf("ledger: decode key_id: %w", err)
	}
	copy(r.KeyID[:], keyID)

	if r.CreatorLabel, err = rd.String(); err != nil {
		return r, fmt.Errorf("ledger: decode creator_label: %w", err)
	}
	if r.KeyBytes, err = rd.Bytes(); err != nil {
		return r, fmt.Errorf("ledger: decode key_bytes: %w", err)
	}
	state, err := rd.String()
	if err != nil {
		return r, fmt.Errorf("ledger: decode state: %w", err)
	}
	r.State = KeyState(state)

	addedUnix, err := rd.Int64()
	if err != nil {
		return r, fmt.Errorf("ledger: decode time_added: %w", err)
	}
	r.TimeAdded = time.Unix(addedUnix, 0).UTC()

	hasRevoked, err := rd.Byte()
	if err != nil {
		return r, fmt.Errorf("ledger: decode revoked flag: %w", err)
	}
	if hasRevoked == 1 {
		revokedUnix, err := rd.Int64()
		if err != nil {
			return r, fmt.Errorf("ledger: decode time_revoked: %w", err)
		}
		t := time.Unix(revokedUnix, 0).UTC()
		r.TimeRevoked = &t
	}

	if r.AddedAtHeight, err = rd.Int64(); err != nil {
		return r, fmt.Errorf("ledger: decode added_at_height: %w", err)
	}
	if !rd.Done() {
		return r, fmt.Errorf("ledger: trailing bytes after decoding public key record")
	}
	return r, nil
}

// EncodePrivateKeyRecord canonically encodes a local signing key for the
// private-key store. This value is never sent over the wire.
func EncodePrivateKeyRecord(r PrivateKeyRecord) []byte {
	w := wire.NewWriter()
	w.PutRaw(r.KeyID[:])
	w.PutBytes(r.PrivateKeyBytes)
	w.PutInt64(r.TimeAdded.Unix())
	return w.Bytes()
}

func DecodePrivateKeyRecord(data []byte) (PrivateKeyRecord, error) {
	var r PrivateKeyRecord
	rd := wire.NewReader(data)

	keyID, err := rd.Raw(32)
	if err != nil {
		return r, fmt.Errorf("ledger: decode key_id: %w", err)
	}
	copy(r.KeyID[:], keyID)

	if r.PrivateKeyBytes, err = rd.Bytes(); err != nil {
		return r, fmt.Errorf("ledger: decode private_key_bytes: %w", err)
	}
	addedUnix, err := rd.Int64()
	if err != nil {
		return r, fmt.Errorf("ledger: decode time_added: %w", err)
	}
	r.TimeAdded = time.Unix(addedUnix, 0).UTC()
	if !rd.Done() {
		return r, fmt.Errorf("ledger: trailing bytes after decoding private key record")
	}
	return r, nil
}
