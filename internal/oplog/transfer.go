package oplog

import (
	"github.com/cockroachdb/errors"

	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// Sink consumes entries in opnum order during state transfer. Each entry
// passed to Put is a private copy.
type Sink[D any] interface {
	Put(e *Entry[D]) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[D any] func(e *Entry[D]) error

func (f SinkFunc[D]) Put(e *Entry[D]) error { return f(e) }

// SliceSink collects entries in memory.
type SliceSink[D any] struct {
	Entries []*Entry[D]
}

func (s *SliceSink[D]) Put(e *Entry[D]) error {
	s.Entries = append(s.Entries, e)
	return nil
}

// Source produces entries in opnum order for Install. It follows the
// iterator convention: call Next until it returns false, then check Err.
type Source[D any] interface {
	Next() bool
	Entry() *Entry[D]
	Err() error
}

// SliceSource iterates over an in-memory slice.
type SliceSource[D any] struct {
	entries []*Entry[D]
	pos     int
}

// NewSliceSource returns a Source over entries.
func NewSliceSource[D any](entries []*Entry[D]) *SliceSource[D] {
	return &SliceSource[D]{entries: entries, pos: -1}
}

func (s *SliceSource[D]) Next() bool {
	if s.pos+1 >= len(s.entries) {
		s.pos = len(s.entries)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource[D]) Entry() *Entry[D] {
	if s.pos < 0 || s.pos >= len(s.entries) {
		return nil
	}
	return s.entries[s.pos]
}

func (s *SliceSource[D]) Err() error { return nil }

// Dump writes every entry from opnum from through the tail to sink.
func (l *Log[D]) Dump(from Opnum, sink Sink[D]) error {
	return l.DumpRange(from, l.LastOpnum(), sink)
}

// DumpRange writes entries with from <= opnum <= to to sink, clamped to the
// entries present. It stops at the first sink error.
func (l *Log[D]) DumpRange(from, to Opnum, sink Sink[D]) error {
	if from < l.start {
		from = l.start
	}
	if last := l.LastOpnum(); to > last {
		to = last
	}
	for op := from; op <= to; op++ {
		e, _ := l.Find(op)
		if err := sink.Put(e.Clone()); err != nil {
			return errors.Wrapf(err, "dump opnum %d", errors.Safe(op))
		}
	}
	return nil
}

// Entries returns handles to the entries with from <= opnum <= to.
func (l *Log[D]) Entries(from, to Opnum) []*Entry[D] {
	if from < l.start {
		from = l.start
	}
	if last := l.LastOpnum(); to > last {
		to = last
	}
	if from > to {
		return nil
	}
	return append([]*Entry[D](nil), l.entries[from-l.start:to-l.start+1]...)
}

// Install appends copies of foreign entries, typically a peer's dump. Each
// entry must continue the log exactly as Append requires. Hashes are
// recomputed on hashed logs and carried over verbatim otherwise; states,
// data, replies and stamps are kept.
func (l *Log[D]) Install(entries ...*Entry[D]) {
	for _, e := range entries {
		l.install(e)
	}
	if len(entries) > 0 {
		l.logger.Debug("installed log entries",
			logpkg.Uint64("from", entries[0].Viewstamp.Opnum),
			logpkg.Int("count", len(entries)))
	}
}

// InstallFrom drains src into the log and returns how many entries it added.
func (l *Log[D]) InstallFrom(src Source[D]) (int, error) {
	first := l.LastOpnum() + 1
	n := 0
	for src.Next() {
		l.install(src.Entry())
		n++
	}
	if n > 0 {
		l.logger.Debug("installed log entries",
			logpkg.Uint64("from", first),
			logpkg.Int("count", n))
	}
	if err := src.Err(); err != nil {
		return n, errors.Wrap(err, "install")
	}
	return n, nil
}

func (l *Log[D]) install(e *Entry[D]) {
	l.append(e.Clone())
}
