package oplog

import (
	"crypto/sha1"
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// referenceHash spells out the digest layout independently of ChainHash.
func referenceHash(prev Hash, client, reqID uint64) Hash {
	buf := make([]byte, 0, HashSize+16)
	buf = append(buf, prev[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, client)
	buf = binary.LittleEndian.AppendUint64(buf, reqID)
	return Hash(sha1.Sum(buf))
}

func TestHashChainScenario(t *testing.T) {
	l := newTestLog(t, Options{UseHash: true})
	require.Equal(t, EmptyHash, l.LastHash())

	l.Append(Viewstamp{View: 1, Opnum: 1}, Request{ClientID: 5, ClientReqID: 100, Op: []byte("x")}, StatePrepared)
	h1 := referenceHash(EmptyHash, 5, 100)
	require.Equal(t, h1, l.LastHash())

	l.Append(Viewstamp{View: 1, Opnum: 2}, Request{ClientID: 6, ClientReqID: 1}, StatePrepared)
	require.Equal(t, referenceHash(h1, 6, 1), l.LastHash())

	got, ok := l.HashAt(1)
	require.True(t, ok)
	require.Equal(t, h1, got)
	_, ok = l.HashAt(3)
	require.False(t, ok)
}

func TestHashChainIgnoresPayloadAndViewstamp(t *testing.T) {
	ids := []RequestID{{1, 1}, {2, 7}, {1, 2}, {0, 0}}

	build := func(view View, op func(i int) []byte) Hash {
		l := newTestLog(t, Options{UseHash: true})
		for i, id := range ids {
			l.Append(Viewstamp{View: view, Opnum: Opnum(i + 1)},
				Request{ClientID: id.ClientID, ClientReqID: id.ClientReqID, Op: op(i)}, StateSpeculative)
		}
		return l.LastHash()
	}

	a := build(1, func(int) []byte { return []byte("alpha") })
	b := build(9, func(i int) []byte { return make([]byte, i*100) })
	require.Equal(t, a, b)
	require.Equal(t, FoldHash(EmptyHash, ids...), a)
}

func TestHashChainFromSeed(t *testing.T) {
	seed := referenceHash(EmptyHash, 42, 42)
	l := newTestLog(t, Options{UseHash: true, Start: 100, InitialHash: seed})
	l.Append(Viewstamp{View: 4, Opnum: 100}, req(3, 1), StatePrepared)
	require.Equal(t, referenceHash(seed, 3, 1), l.LastHash())
}

func TestUnhashedLogLeavesHashesEmpty(t *testing.T) {
	l := newTestLog(t, Options{})
	e := l.Append(Viewstamp{View: 1, Opnum: 1}, req(5, 100), StatePrepared)
	require.True(t, e.Hash.IsEmpty())
	require.Equal(t, EmptyHash, l.LastHash())
	op, err := l.VerifyChain()
	require.NoError(t, err)
	require.Zero(t, op)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l := newTestLog(t, Options{UseHash: true})
	appendN(l, 5)
	op, err := l.VerifyChain()
	require.NoError(t, err)
	require.Zero(t, op)

	e, _ := l.Find(3)
	e.Hash[0] ^= 0xff
	op, err = l.VerifyChain()
	require.True(t, errors.Is(err, ErrChainMismatch), "err=%v", err)
	require.Equal(t, Opnum(3), op)
}

func TestParseHash(t *testing.T) {
	h := referenceHash(EmptyHash, 1, 2)
	got, err := ParseHash(h.String())
	require.NoError(t, err)
	require.Equal(t, h, got)

	got, err = ParseHash("")
	require.NoError(t, err)
	require.Equal(t, EmptyHash, got)

	_, err = ParseHash("zz")
	require.Error(t, err)
	_, err = ParseHash("abcd")
	require.Error(t, err)
}
