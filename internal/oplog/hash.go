package oplog

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// HashSize is the chain digest length.
const HashSize = sha1.Size

// Hash is one link of the chain.
type Hash [HashSize]byte

// EmptyHash seeds a chain that starts at opnum 1.
var EmptyHash Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsEmpty reports whether h is the all-zero digest.
func (h Hash) IsEmpty() bool { return h == EmptyHash }

// ParseHash decodes a hex digest. The empty string yields EmptyHash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if s == "" {
		return h, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrapf(err, "parse hash %q", s)
	}
	if len(b) != HashSize {
		return h, errors.Newf("parse hash: want %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ChainHash extends prev with one request id.
func ChainHash(prev Hash, id RequestID) Hash {
	var ids [16]byte
	binary.LittleEndian.PutUint64(ids[0:8], id.ClientID)
	binary.LittleEndian.PutUint64(ids[8:16], id.ClientReqID)

	d := sha1.New()
	d.Write(prev[:])
	d.Write(ids[:])
	var out Hash
	d.Sum(out[:0])
	return out
}

// ComputeHash returns the digest entry e gets when appended after prev. Only
// the request's ids take part; payload, state and viewstamp do not.
func ComputeHash[D any](prev Hash, e *Entry[D]) Hash {
	return ChainHash(prev, e.Request.ID())
}

// FoldHash folds ids into seed in order.
func FoldHash(seed Hash, ids ...RequestID) Hash {
	h := seed
	for _, id := range ids {
		h = ChainHash(h, id)
	}
	return h
}
