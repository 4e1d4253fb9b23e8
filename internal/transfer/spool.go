package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"go.uber.org/multierr"

	"github.com/rzbill/vrlog/internal/oplog"
	pebblestore "github.com/rzbill/vrlog/internal/storage/pebble"
	logpkg "github.com/rzbill/vrlog/pkg/log"
)

var (
	// ErrSessionNotFound is returned for a session with no spool metadata.
	ErrSessionNotFound = errors.New("transfer session not found")
	// ErrSessionExists is returned by Create for a session already spooled.
	ErrSessionExists = errors.New("transfer session already exists")
)

// DefaultBatchSize is the number of entries per spool commit when unset.
const DefaultBatchSize = 256

// SessionInfo describes one spooled session.
type SessionInfo struct {
	ID      string
	First   oplog.Opnum
	Last    oplog.Opnum
	Count   uint64
	Created time.Time
}

// SpoolOptions configures a Spool.
type SpoolOptions struct {
	BatchSize int
	Logger    logpkg.Logger
}

// Spool stages state-transfer sessions in Pebble: a peer's Dump is written
// through a Writer and later replayed into a log through a Reader.
type Spool[D any] struct {
	db        *pebblestore.DB
	codec     DataCodec[D]
	batchSize int
	logger    logpkg.Logger
}

// NewSpool returns a spool over db encoding entry data with codec.
func NewSpool[D any](db *pebblestore.DB, codec DataCodec[D], opts SpoolOptions) *Spool[D] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Spool[D]{db: db, codec: codec, batchSize: opts.BatchSize, logger: logger.WithComponent("spool")}
}

func checkSession(session string) error {
	if session == "" || strings.IndexByte(session, sep) >= 0 {
		return errors.Newf("invalid session name %q", session)
	}
	return nil
}

// Info returns the metadata of session.
func (s *Spool[D]) Info(session string) (SessionInfo, error) {
	if err := checkSession(session); err != nil {
		return SessionInfo{}, err
	}
	raw, err := s.db.Get(keyMeta(session))
	return parseInfo(session, raw, err)
}

// snapshotInfo reads session metadata as of snap.
func snapshotInfo(snap *pebble.Snapshot, session string) (SessionInfo, error) {
	raw, closer, err := snap.Get(keyMeta(session))
	if err == nil {
		raw = append([]byte(nil), raw...)
		err = closer.Close()
	}
	return parseInfo(session, raw, err)
}

func parseInfo(session string, raw []byte, err error) (SessionInfo, error) {
	if errors.Is(err, pebble.ErrNotFound) {
		return SessionInfo{}, errors.Wrapf(ErrSessionNotFound, "session %s", session)
	}
	if err != nil {
		return SessionInfo{}, err
	}
	m, ok := decodeMeta(raw)
	if !ok {
		return SessionInfo{}, errors.Wrapf(ErrCorruptRecord, "meta of session %s", session)
	}
	return m.info(session), nil
}

func (m sessionMeta) info(session string) SessionInfo {
	return SessionInfo{ID: session, First: m.first, Last: m.last, Count: m.count, Created: time.UnixMilli(m.createdMs)}
}

// ListSessions returns every spooled session in key order.
func (s *Spool[D]) ListSessions() ([]SessionInfo, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: rootPrefix, UpperBound: rootEnd()})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []SessionInfo
	for valid := iter.First(); valid; {
		session, ok := sessionFromKey(iter.Key())
		if !ok {
			valid = iter.Next()
			continue
		}
		mk := keyMeta(session)
		if iter.SeekGE(mk) && string(iter.Key()) == string(mk) {
			if m, ok := decodeMeta(iter.Value()); ok {
				out = append(out, m.info(session))
			}
		}
		valid = iter.SeekGE(keySessionEnd(session))
	}
	return out, iter.Error()
}

// Drop deletes every key of session and compacts the freed range.
func (s *Spool[D]) Drop(session string) error {
	if err := s.drop(session); err != nil {
		return err
	}
	return s.compact(keySessionPrefix(session), keySessionEnd(session))
}

func (s *Spool[D]) drop(session string) error {
	if _, err := s.Info(session); err != nil {
		return err
	}
	if err := s.db.DeleteRange(keySessionPrefix(session), keySessionEnd(session)); err != nil {
		return errors.Wrapf(err, "drop session %s", session)
	}
	s.logger.Info("dropped transfer session", logpkg.Str(logpkg.SessionKey, session))
	return nil
}

// compact reclaims the space of deleted spool keys in [start, end).
func (s *Spool[D]) compact(start, end []byte) error {
	if err := s.db.CompactRange(start, end); err != nil {
		return errors.Wrap(err, "compact spool")
	}
	return nil
}

// Writer appends a contiguous run of entries to one session. It is an
// oplog.Sink, so a log can Dump straight into it. Close must be called.
type Writer[D any] struct {
	spool   *Spool[D]
	ctx     context.Context
	session string
	batch   *pebble.Batch
	pending int
	meta    sessionMeta
	err     error
	closed  bool
}

// Create registers a new session and returns a writer for it.
func (s *Spool[D]) Create(ctx context.Context, session string) (*Writer[D], error) {
	if err := checkSession(session); err != nil {
		return nil, err
	}
	if _, err := s.Info(session); err == nil {
		return nil, errors.Wrapf(ErrSessionExists, "session %s", session)
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	w := &Writer[D]{
		spool:   s,
		ctx:     ctx,
		session: session,
		batch:   s.db.NewBatch(),
		meta:    sessionMeta{createdMs: time.Now().UnixMilli()},
	}
	if err := w.flush(); err != nil {
		return nil, multierr.Append(err, w.batch.Close())
	}
	return w, nil
}

// Put stages e. Entries must arrive in consecutive opnum order.
func (w *Writer[D]) Put(e *oplog.Entry[D]) error {
	if w.closed {
		return errors.New("spool writer is closed")
	}
	if w.err != nil {
		return w.err
	}
	op := e.Opnum()
	if w.meta.count > 0 && op != w.meta.last+1 {
		w.err = errors.Newf("session %s: opnum %d does not follow %d", w.session, op, w.meta.last)
		return w.err
	}
	rec, err := EncodeEntry(e, w.spool.codec)
	if err != nil {
		w.err = err
		return err
	}
	if err := w.batch.Set(keyEntry(w.session, op), rec, nil); err != nil {
		w.err = err
		return err
	}
	if w.meta.count == 0 {
		w.meta.first = op
	}
	w.meta.last = op
	w.meta.count++
	w.pending++
	if w.pending >= w.spool.batchSize {
		w.err = w.flush()
	}
	return w.err
}

// flush commits staged entries together with the updated metadata.
func (w *Writer[D]) flush() error {
	if err := w.batch.Set(keyMeta(w.session), w.meta.encode(), nil); err != nil {
		return err
	}
	if err := w.spool.db.CommitBatch(w.ctx, w.batch); err != nil {
		return errors.Wrapf(err, "commit session %s", w.session)
	}
	err := w.batch.Close()
	w.batch = w.spool.db.NewBatch()
	w.pending = 0
	return err
}

// Info returns the session metadata as staged so far.
func (w *Writer[D]) Info() SessionInfo { return w.meta.info(w.session) }

// Close commits any staged entries. The first Put error, if any, is
// returned along with close errors.
func (w *Writer[D]) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.err
	if err == nil && w.pending > 0 {
		err = w.flush()
	}
	err = multierr.Append(err, w.batch.Close())
	if err == nil {
		w.spool.logger.Info("spooled transfer session",
			logpkg.Str(logpkg.SessionKey, w.session),
			logpkg.Uint64("first", w.meta.first),
			logpkg.Uint64("last", w.meta.last),
			logpkg.Uint64("count", w.meta.count))
	}
	return err
}

// Reader iterates over a session in opnum order. It is an oplog.Source.
// It reads from a snapshot, so writes after Reader returns are not seen.
type Reader[D any] struct {
	snap    *pebble.Snapshot
	iter    *pebble.Iterator
	codec   DataCodec[D]
	session string
	started bool
	cur     *oplog.Entry[D]
	want    oplog.Opnum
	err     error
}

// Reader returns a source over the entries of session with
// from <= opnum <= to. The caller must Close it.
func (s *Spool[D]) Reader(session string, from, to oplog.Opnum) (*Reader[D], error) {
	if err := checkSession(session); err != nil {
		return nil, err
	}
	snap := s.db.NewSnapshot()
	info, err := snapshotInfo(snap, session)
	if err != nil {
		return nil, multierr.Append(err, snap.Close())
	}
	r := &Reader[D]{snap: snap, codec: s.codec, session: session}
	if from < info.First {
		from = info.First
	}
	if to > info.Last {
		to = info.Last
	}
	if info.Count == 0 || from > to {
		return r, nil
	}
	r.want = from
	r.iter, err = snap.NewIter(&pebble.IterOptions{
		LowerBound: keyEntry(session, from),
		UpperBound: append(keyEntry(session, to), 0x00),
	})
	if err != nil {
		return nil, multierr.Append(err, snap.Close())
	}
	return r, nil
}

func (r *Reader[D]) Next() bool {
	if r.iter == nil || r.err != nil {
		return false
	}
	var valid bool
	if !r.started {
		r.started = true
		valid = r.iter.First()
	} else {
		valid = r.iter.Next()
	}
	if !valid {
		r.cur = nil
		r.err = r.iter.Error()
		return false
	}
	op, ok := opnumFromEntryKey(r.iter.Key())
	if !ok || op != r.want {
		r.err = errors.Wrapf(ErrCorruptRecord, "session %s: found key for opnum %d, want %d", r.session, op, r.want)
		return false
	}
	e, err := DecodeEntry(r.iter.Value(), r.codec)
	if err != nil {
		r.err = errors.Wrapf(err, "session %s opnum %d", r.session, op)
		return false
	}
	if e.Opnum() != op {
		r.err = errors.Wrapf(ErrCorruptRecord, "session %s: key opnum %d holds entry %s", r.session, op, e.Viewstamp)
		return false
	}
	r.cur = e
	r.want++
	return true
}

func (r *Reader[D]) Entry() *oplog.Entry[D] { return r.cur }

func (r *Reader[D]) Err() error { return r.err }

// Close releases the iterator and snapshot.
func (r *Reader[D]) Close() error {
	var err error
	if r.iter != nil {
		err = r.iter.Close()
		r.iter = nil
	}
	if r.snap != nil {
		err = multierr.Append(err, r.snap.Close())
		r.snap = nil
	}
	return err
}

// Capture dumps l from opnum from into a new session. If the dump fails the
// session is dropped, so the same name can be captured again.
func (s *Spool[D]) Capture(ctx context.Context, session string, l *oplog.Log[D], from oplog.Opnum) (SessionInfo, error) {
	w, err := s.Create(ctx, session)
	if err != nil {
		return SessionInfo{}, err
	}
	err = l.Dump(from, w)
	if err = multierr.Append(err, w.Close()); err != nil {
		return SessionInfo{}, multierr.Append(err, s.drop(session))
	}
	return w.Info(), nil
}

// Verify checks that the hashes stored in session chain from seed, the hash
// of the entry preceding the session's first opnum. It returns the first
// opnum that breaks the chain.
func (s *Spool[D]) Verify(session string, seed oplog.Hash) (bad oplog.Opnum, err error) {
	r, err := s.Reader(session, 0, ^oplog.Opnum(0))
	if err != nil {
		return 0, err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()
	return oplog.VerifyHashes[D](seed, r)
}

// InstallInto appends the part of session that follows l's tail to l and
// returns the number of entries installed. Entries l already holds are
// skipped; a gap between l's tail and the session is an error.
func (s *Spool[D]) InstallInto(l *oplog.Log[D], session string) (n int, err error) {
	info, err := s.Info(session)
	if err != nil {
		return 0, err
	}
	next := l.LastOpnum() + 1
	if info.Count > 0 && info.First > next {
		return 0, errors.Newf("session %s starts at opnum %d, log expects %d", session, info.First, next)
	}
	r, err := s.Reader(session, next, info.Last)
	if err != nil {
		return 0, err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()
	n, err = l.InstallFrom(r)
	return n, err
}
