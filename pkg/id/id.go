package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Size is the encoded length of an ID in bytes.
const Size = 16

// ID names a state-transfer session. It is 16 bytes big-endian:
// [8 bytes ms_timestamp][4 bytes replica][4 bytes counter], so byte order is
// creation order and IDs minted by different replicas never collide.
type ID [Size]byte

// Zero is the unset ID.
var Zero ID

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { return append([]byte(nil), i[:]...) }

// String returns the lowercase hex form used in spool keys.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the millisecond timestamp embedded in the ID.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[0:8])))
}

// Replica returns the replica index embedded in the ID.
func (i ID) Replica() uint32 { return binary.BigEndian.Uint32(i[8:12]) }

// IsZero reports whether i is unset.
func (i ID) IsZero() bool { return i == Zero }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// Parse decodes the hex form produced by String.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != 2*Size {
		return out, errors.Newf("id: want %d hex characters, got %d", 2*Size, len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, errors.Wrapf(err, "id: parse %q", s)
	}
	return out, nil
}

// Generator produces monotonically increasing IDs for one replica.
type Generator struct {
	mu      sync.Mutex
	replica uint32
	lastMs  int64
	counter uint32
}

// NewGenerator creates a Generator stamping IDs with replica.
func NewGenerator(replica uint32) *Generator { return &Generator{replica: replica} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. A regressing clock is pinned to the last millisecond
// seen; when the counter is exhausted the timestamp is advanced logically.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	switch {
	case ms > g.lastMs:
		g.counter = 0
	case g.counter == math.MaxUint32:
		ms = g.lastMs + 1
		g.counter = 0
	default:
		ms = g.lastMs
		g.counter++
	}
	g.lastMs = ms

	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint32(id[8:12], g.replica)
	binary.BigEndian.PutUint32(id[12:16], g.counter)
	return id
}
