package oplog

import (
	"github.com/cockroachdb/errors"
)

// ErrChainMismatch marks a stored hash that does not follow from its predecessor.
var ErrChainMismatch = errors.New("hash chain mismatch")

// HashAt returns the stored hash of the entry at opnum.
func (l *Log[D]) HashAt(opnum Opnum) (Hash, bool) {
	e, ok := l.Find(opnum)
	if !ok {
		return Hash{}, false
	}
	return e.Hash, true
}

// VerifyChain recomputes the chain from the seed and returns the first opnum
// whose stored hash disagrees. Unhashed logs always verify.
func (l *Log[D]) VerifyChain() (Opnum, error) {
	if !l.useHash {
		return 0, nil
	}
	return VerifyHashes[D](l.initialHash, NewSliceSource(l.entries))
}

// VerifyHashes checks that the hashes carried by src form a chain from seed.
func VerifyHashes[D any](seed Hash, src Source[D]) (Opnum, error) {
	prev := seed
	for src.Next() {
		e := src.Entry()
		want := ComputeHash(prev, e)
		if want != e.Hash {
			return e.Viewstamp.Opnum, errors.Wrapf(ErrChainMismatch,
				"opnum %d: stored %s, computed %s", errors.Safe(e.Viewstamp.Opnum), e.Hash, want)
		}
		prev = e.Hash
	}
	if err := src.Err(); err != nil {
		return 0, errors.Wrap(err, "verify")
	}
	return 0, nil
}
