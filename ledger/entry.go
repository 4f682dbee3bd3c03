package ledger

import (
	"github.com/geofmureithi/ubu-block/merkle"
	"github.com/geofmureithi/ubu-block/wire"
)

// ResultEntry is the opaque payload tuple the core commits to. The
// domain meaning of station_id/candidate_id (counties, wards,
// candidates, ...) is a consumer concern; the core never interprets
// these fields beyond ordering and hashing them.
type ResultEntry struct {
	StationID   int64
	CandidateID int64
	Votes       int64
}

// EncodeEntry canonically encodes a single entry: three fixed-width,
// little-endian i64 fields in declaration order, no length prefix (the
// fields are fixed-width, so none is needed).
func EncodeEntry(e ResultEntry) []byte {
	w := wire.NewWriter()
	w.PutInt64(e.StationID)
	w.PutInt64(e.CandidateID)
	w.PutInt64(e.Votes)
	return w.Bytes()
}

func DecodeEntry(r *wire.Reader) (ResultEntry, error) {
	var e ResultEntry
	var err error
	if e.StationID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.CandidateID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Votes, err = r.Int64(); err != nil {
		return e, err
	}
	return e, nil
}

// MerkleRoot computes the commitment over an ordered list of entries:
// each leaf is digest(canonical_encode(entry)), combined per
// merkle.Build's odd-duplication rule. A nil or empty slice yields the
// well-defined empty-tree root.
func MerkleRoot(entries []ResultEntry) [32]byte {
	if len(entries) == 0 {
		return merkle.EmptyRoot()
	}
	leaves := make([][32]byte, len(entries))
	for i, e := range entries {
		leaves[i] = merkle.Leaf(EncodeEntry(e))
	}
	return merkle.RootOf(leaves)
}
