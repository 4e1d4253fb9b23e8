package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/vrlog/internal/oplog"
	pebblestore "github.com/rzbill/vrlog/internal/storage/pebble"
)

func newTestSpool(t *testing.T, batch int) *Spool[[]byte] {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSpool[[]byte](db, BytesCodec{}, SpoolOptions{BatchSize: batch})
}

func newHashedLog(t *testing.T, n int) *oplog.Log[[]byte] {
	t.Helper()
	l, err := oplog.New[[]byte](oplog.Options{UseHash: true})
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		op := oplog.Opnum(i)
		e := l.AppendData(oplog.Viewstamp{View: 2, Opnum: op},
			oplog.Request{ClientID: 1 + op%3, ClientReqID: op, Op: []byte(fmt.Sprintf("op-%d", op))},
			oplog.StateCommitted, []byte{byte(op)})
		if i%2 == 0 {
			e.SetReply(wrapperspb.UInt64(op))
		}
	}
	return l
}

func readAll(t *testing.T, sp *Spool[[]byte], session string, from, to oplog.Opnum) []*oplog.Entry[[]byte] {
	t.Helper()
	r, err := sp.Reader(session, from, to)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()
	var out []*oplog.Entry[[]byte]
	for r.Next() {
		out = append(out, r.Entry())
	}
	require.NoError(t, r.Err())
	return out
}

func TestCaptureAndRead(t *testing.T) {
	sp := newTestSpool(t, 3)
	src := newHashedLog(t, 10)

	info, err := sp.Capture(context.Background(), "s1", src, 4)
	require.NoError(t, err)
	require.Equal(t, oplog.Opnum(4), info.First)
	require.Equal(t, oplog.Opnum(10), info.Last)
	require.Equal(t, uint64(7), info.Count)

	stored, err := sp.Info("s1")
	require.NoError(t, err)
	require.Equal(t, info.First, stored.First)
	require.Equal(t, info.Last, stored.Last)
	require.Equal(t, info.Count, stored.Count)

	got := readAll(t, sp, "s1", 0, ^uint64(0))
	require.Len(t, got, 7)
	for i, e := range got {
		want, ok := src.Find(oplog.Opnum(4 + i))
		require.True(t, ok)
		require.Equal(t, want.Viewstamp, e.Viewstamp)
		require.Equal(t, want.Hash, e.Hash)
		require.Equal(t, want.Request, e.Request)
		require.Equal(t, want.Data, e.Data)
		require.True(t, proto.Equal(want.Reply, e.Reply))
	}

	window := readAll(t, sp, "s1", 6, 8)
	require.Len(t, window, 3)
	require.Equal(t, oplog.Opnum(6), window[0].Opnum())
	require.Equal(t, oplog.Opnum(8), window[2].Opnum())

	require.Empty(t, readAll(t, sp, "s1", 11, 20))
}

func TestInstallIntoRebuildsLog(t *testing.T) {
	sp := newTestSpool(t, 4)
	src := newHashedLog(t, 9)
	_, err := sp.Capture(context.Background(), "peer", src, 1)
	require.NoError(t, err)

	dst, err := oplog.New[[]byte](oplog.Options{UseHash: true})
	require.NoError(t, err)
	// the lagging replica already holds a prefix
	for op := oplog.Opnum(1); op <= 3; op++ {
		e, _ := src.Find(op)
		dst.Install(e)
	}

	n, err := sp.InstallInto(dst, "peer")
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, src.LastOpnum(), dst.LastOpnum())
	require.Equal(t, src.LastHash(), dst.LastHash())

	_, err = dst.VerifyChain()
	require.NoError(t, err)

	// replaying again is a no-op
	n, err = sp.InstallInto(dst, "peer")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestInstallIntoRejectsGap(t *testing.T) {
	sp := newTestSpool(t, 0)
	src := newHashedLog(t, 8)
	_, err := sp.Capture(context.Background(), "tail", src, 5)
	require.NoError(t, err)

	dst, err := oplog.New[[]byte](oplog.Options{UseHash: true})
	require.NoError(t, err)
	_, err = sp.InstallInto(dst, "tail")
	require.Error(t, err)
	require.True(t, dst.Empty())
}

func TestSpooledChainVerifies(t *testing.T) {
	sp := newTestSpool(t, 2)
	src := newHashedLog(t, 6)
	_, err := sp.Capture(context.Background(), "v", src, 1)
	require.NoError(t, err)

	r, err := sp.Reader("v", 1, 6)
	require.NoError(t, err)
	defer r.Close()
	_, err = oplog.VerifyHashes[[]byte](oplog.EmptyHash, r)
	require.NoError(t, err)
}

func TestWriterRejectsGapAndDuplicateSession(t *testing.T) {
	sp := newTestSpool(t, 0)
	ctx := context.Background()
	w, err := sp.Create(ctx, "w")
	require.NoError(t, err)

	_, err = sp.Create(ctx, "w")
	require.ErrorIs(t, err, ErrSessionExists)

	e := &oplog.Entry[[]byte]{Viewstamp: oplog.Viewstamp{View: 1, Opnum: 5}, State: oplog.StatePrepared}
	require.NoError(t, w.Put(e))
	gap := e.Clone()
	gap.Viewstamp.Opnum = 7
	require.Error(t, w.Put(gap))
	require.Error(t, w.Close())
	require.NoError(t, w.Close())
	require.Error(t, w.Put(e))
}

func TestEmptySessionIsListed(t *testing.T) {
	sp := newTestSpool(t, 0)
	w, err := sp.Create(context.Background(), "empty")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	info, err := sp.Info("empty")
	require.NoError(t, err)
	require.Zero(t, info.Count)
	require.Empty(t, readAll(t, sp, "empty", 0, 100))
}

func TestListAndDropSessions(t *testing.T) {
	sp := newTestSpool(t, 0)
	src := newHashedLog(t, 5)
	ctx := context.Background()
	for _, s := range []string{"b", "a", "a0", "c"} {
		_, err := sp.Capture(ctx, s, src, 1)
		require.NoError(t, err)
	}

	list, err := sp.ListSessions()
	require.NoError(t, err)
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
		require.Equal(t, uint64(5), s.Count)
	}
	require.Equal(t, []string{"a", "a0", "b", "c"}, ids)

	require.NoError(t, sp.Drop("a"))
	_, err = sp.Info("a")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, sp.Drop("a"), ErrSessionNotFound)

	// the neighbouring session survives
	require.Len(t, readAll(t, sp, "a0", 1, 5), 5)

	list, err = sp.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestSessionNameValidation(t *testing.T) {
	sp := newTestSpool(t, 0)
	_, err := sp.Create(context.Background(), "a/b")
	require.Error(t, err)
	_, err = sp.Reader("", 0, 1)
	require.Error(t, err)
	_, err = sp.Reader("missing", 0, 1)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTrimBefore(t *testing.T) {
	sp := newTestSpool(t, 0)
	ctx := context.Background()
	_, err := sp.Capture(ctx, "t", newHashedLog(t, 8), 1)
	require.NoError(t, err)

	n, err := sp.TrimBefore(ctx, "t", 4)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	info, err := sp.Info("t")
	require.NoError(t, err)
	require.Equal(t, oplog.Opnum(4), info.First)
	require.Equal(t, uint64(5), info.Count)

	got := readAll(t, sp, "t", 0, 100)
	require.Len(t, got, 5)
	require.Equal(t, oplog.Opnum(4), got[0].Opnum())

	n, err = sp.TrimBefore(ctx, "t", 2)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = sp.TrimBefore(ctx, "t", 100)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	info, err = sp.Info("t")
	require.NoError(t, err)
	require.Zero(t, info.Count)
	require.Empty(t, readAll(t, sp, "t", 0, 100))
}

func TestPrune(t *testing.T) {
	sp := newTestSpool(t, 0)
	ctx := context.Background()
	for _, s := range []string{"old1", "old2"} {
		w, err := sp.Create(ctx, s)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	n, err := sp.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = sp.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	list, err := sp.ListSessions()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestVerifyReportsTamperedHash(t *testing.T) {
	sp := newTestSpool(t, 0)
	ctx := context.Background()
	src := newHashedLog(t, 5)
	_, err := sp.Capture(ctx, "good", src, 1)
	require.NoError(t, err)
	bad, err := sp.Verify("good", oplog.EmptyHash)
	require.NoError(t, err)
	require.Zero(t, bad)

	// a suffix verifies from the hash of the entry before it
	_, err = sp.Capture(ctx, "suffix", src, 3)
	require.NoError(t, err)
	prev, _ := src.HashAt(2)
	_, err = sp.Verify("suffix", prev)
	require.NoError(t, err)
	_, err = sp.Verify("suffix", oplog.EmptyHash)
	require.ErrorIs(t, err, oplog.ErrChainMismatch)

	w, err := sp.Create(ctx, "tampered")
	require.NoError(t, err)
	var dump oplog.SliceSink[[]byte]
	require.NoError(t, src.Dump(1, &dump))
	dump.Entries[2].Hash = oplog.Hash{0xba, 0xd}
	for _, e := range dump.Entries {
		require.NoError(t, w.Put(e))
	}
	require.NoError(t, w.Close())

	bad, err = sp.Verify("tampered", oplog.EmptyHash)
	require.ErrorIs(t, err, oplog.ErrChainMismatch)
	require.Equal(t, oplog.Opnum(3), bad)
}

func TestReaderSeesSnapshot(t *testing.T) {
	sp := newTestSpool(t, 1)
	ctx := context.Background()
	_, err := sp.Capture(ctx, "snap", newHashedLog(t, 4), 1)
	require.NoError(t, err)

	r, err := sp.Reader("snap", 0, 100)
	require.NoError(t, err)
	require.NoError(t, sp.Drop("snap"))

	var n int
	for r.Next() {
		n++
	}
	require.NoError(t, r.Err())
	require.NoError(t, r.Close())
	require.Equal(t, 4, n)

	_, err = sp.Reader("snap", 0, 100)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

// rejectCodec fails to encode data equal to bad.
type rejectCodec struct{ bad byte }

func (c rejectCodec) Marshal(d []byte) ([]byte, error) {
	if len(d) == 1 && d[0] == c.bad {
		return nil, errors.Newf("cannot encode %d", c.bad)
	}
	return d, nil
}

func (rejectCodec) Unmarshal(b []byte) ([]byte, error) { return BytesCodec{}.Unmarshal(b) }

func TestCaptureFailureDropsSession(t *testing.T) {
	base := newTestSpool(t, 1)
	sp := NewSpool[[]byte](base.db, rejectCodec{bad: 3}, SpoolOptions{BatchSize: 1})
	ctx := context.Background()
	src := newHashedLog(t, 5)

	_, err := sp.Capture(ctx, "retry", src, 1)
	require.Error(t, err)
	_, err = sp.Info("retry")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// the same name can be captured again
	info, err := sp.Capture(ctx, "retry", src, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(2), info.Count)
}
