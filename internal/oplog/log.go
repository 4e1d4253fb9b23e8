package oplog

import (
	"sort"

	"github.com/cockroachdb/errors"

	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// DefaultCapacity is the number of entry slots reserved when Options.Capacity is zero.
const DefaultCapacity = 1 << 16

// Options configures a Log. They are fixed for the log's lifetime.
type Options struct {
	// UseHash enables the hash chain.
	UseHash bool
	// Start is the opnum of the first entry. Zero selects 1.
	Start Opnum
	// InitialHash seeds the chain. It must be EmptyHash when Start is 1.
	InitialHash Hash
	// Capacity is the number of entries to reserve up front.
	Capacity int
	// Paranoid makes RemoveAfter verify it never discards a committed entry.
	Paranoid bool
	// Logger receives debug output about truncations and installs.
	Logger logpkg.Logger
}

// Log is a replica's operation log. See the package documentation.
type Log[D any] struct {
	entries     []*Entry[D]
	start       Opnum
	initialHash Hash
	useHash     bool
	paranoid    bool
	logger      logpkg.Logger

	// coordinates registered through AppendStamped, used to find entries by
	// their position in another group's sequence.
	coords map[Coordinate]Opnum
	// opnums carrying each client request, ascending. The last one answers
	// FindRequest; earlier ones take over when it is truncated or rewritten.
	clientReqs map[RequestID][]Opnum
}

// New builds an empty log.
func New[D any](opts Options) (*Log[D], error) {
	start := opts.Start
	if start == 0 {
		start = 1
	}
	if start == 1 && opts.InitialHash != EmptyHash {
		return nil, errors.Newf("oplog: initial hash %s given for a log starting at opnum 1", opts.InitialHash)
	}
	if opts.Capacity < 0 {
		return nil, errors.Newf("oplog: capacity=%d must not be negative", opts.Capacity)
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Log[D]{
		entries:     make([]*Entry[D], 0, capacity),
		start:       start,
		initialHash: opts.InitialHash,
		useHash:     opts.UseHash,
		paranoid:    opts.Paranoid,
		logger:      logger.WithComponent("oplog"),
		coords:      make(map[Coordinate]Opnum),
		clientReqs:  make(map[RequestID][]Opnum),
	}, nil
}

// Append adds the next entry with zero-valued data and returns its handle.
// vs.Opnum must be FirstOpnum() on an empty log and LastOpnum()+1 otherwise.
func (l *Log[D]) Append(vs Viewstamp, req Request, state State) *Entry[D] {
	var data D
	return l.AppendData(vs, req, state, data)
}

// AppendData is Append with protocol data attached.
func (l *Log[D]) AppendData(vs Viewstamp, req Request, state State, data D) *Entry[D] {
	return l.append(&Entry[D]{Viewstamp: vs, State: state, Request: req, Data: data})
}

// AppendStamped appends an entry ordered by several sequencers and registers
// every coordinate of stamp so FindCoordinate resolves it to this entry.
func (l *Log[D]) AppendStamped(vs Viewstamp, req Request, stamp Multistamp, state State, data D) *Entry[D] {
	e := l.append(&Entry[D]{Viewstamp: vs, State: state, Request: req, Stamp: stamp.Clone(), Data: data})
	for _, c := range e.Stamp.Coordinates() {
		l.coords[c] = e.Viewstamp.Opnum
	}
	return e
}

func (l *Log[D]) append(e *Entry[D]) *Entry[D] {
	if want := l.LastOpnum() + 1; e.Viewstamp.Opnum != want {
		panic(errors.AssertionFailedf("oplog: append of %s, expected opnum %d", e.Viewstamp, errors.Safe(want)))
	}
	if l.useHash {
		e.Hash = ComputeHash(l.LastHash(), e)
	}
	l.entries = append(l.entries, e)
	l.indexRequest(e.Request.ID(), e.Viewstamp.Opnum)
	return e
}

// indexRequest records that op carries id, keeping the opnums sorted.
func (l *Log[D]) indexRequest(id RequestID, op Opnum) {
	if !id.Valid() {
		return
	}
	ops := l.clientReqs[id]
	i := sort.Search(len(ops), func(i int) bool { return ops[i] >= op })
	if i < len(ops) && ops[i] == op {
		return
	}
	ops = append(ops, 0)
	copy(ops[i+1:], ops[i:])
	ops[i] = op
	l.clientReqs[id] = ops
}

// unindexRequest forgets that op carries id. An older entry with the same
// id, if any, becomes the one FindRequest returns.
func (l *Log[D]) unindexRequest(id RequestID, op Opnum) {
	if !id.Valid() {
		return
	}
	ops := l.clientReqs[id]
	i := sort.Search(len(ops), func(i int) bool { return ops[i] >= op })
	if i == len(ops) || ops[i] != op {
		return
	}
	ops = append(ops[:i], ops[i+1:]...)
	if len(ops) == 0 {
		delete(l.clientReqs, id)
		return
	}
	l.clientReqs[id] = ops
}

// unindex drops mappings that still point at e.
func (l *Log[D]) unindex(e *Entry[D]) {
	op := e.Viewstamp.Opnum
	l.unindexRequest(e.Request.ID(), op)
	if e.Stamp != nil {
		for _, c := range e.Stamp.Coordinates() {
			if l.coords[c] == op {
				delete(l.coords, c)
			}
		}
	}
}

// Find returns the entry at opnum.
func (l *Log[D]) Find(opnum Opnum) (*Entry[D], bool) {
	if len(l.entries) == 0 || opnum < l.start {
		return nil, false
	}
	off := opnum - l.start
	if off >= uint64(len(l.entries)) {
		return nil, false
	}
	e := l.entries[off]
	if e.Viewstamp.Opnum != opnum {
		panic(errors.AssertionFailedf("oplog: slot for opnum %d holds %s", errors.Safe(opnum), e.Viewstamp))
	}
	return e, true
}

// FindCoordinate returns the entry registered under c by AppendStamped.
func (l *Log[D]) FindCoordinate(c Coordinate) (*Entry[D], bool) {
	op, ok := l.coords[c]
	if !ok {
		return nil, false
	}
	return l.Find(op)
}

// FindRequest returns the most recently appended entry carrying id.
func (l *Log[D]) FindRequest(id RequestID) (*Entry[D], bool) {
	ops := l.clientReqs[id]
	if len(ops) == 0 {
		return nil, false
	}
	return l.Find(ops[len(ops)-1])
}

// SetStatus overwrites the state of the entry at opnum. It reports false if
// there is no such entry.
func (l *Log[D]) SetStatus(opnum Opnum, state State) bool {
	e, ok := l.Find(opnum)
	if !ok {
		return false
	}
	e.State = state
	return true
}

// SetRequest replaces the request of the entry at opnum. Hashed logs do not
// support it: the chain already covers the old request.
func (l *Log[D]) SetRequest(opnum Opnum, req Request) bool {
	if l.useHash {
		panic(errors.AssertionFailedf("oplog: SetRequest on hashed log"))
	}
	e, ok := l.Find(opnum)
	if !ok {
		return false
	}
	l.unindexRequest(e.Request.ID(), opnum)
	e.Request = req
	l.indexRequest(req.ID(), opnum)
	return true
}

// RemoveAfter truncates the log so its last entry is opnum. It is a no-op
// when opnum >= LastOpnum().
func (l *Log[D]) RemoveAfter(opnum Opnum) {
	last := l.LastOpnum()
	if opnum >= last {
		return
	}
	if opnum < l.start-1 {
		panic(errors.AssertionFailedf("oplog: cannot truncate to %d, log starts at %d",
			errors.Safe(opnum), errors.Safe(l.start)))
	}
	keep := int(opnum - (l.start - 1))
	removed := l.entries[keep:]

	if l.paranoid {
		for _, e := range removed {
			if e.State == StateCommitted {
				panic(errors.AssertionFailedf("oplog: truncating after %d would discard committed entry %s",
					errors.Safe(opnum), e.Viewstamp))
			}
		}
	}

	l.logger.Debug("removing log entries",
		logpkg.Uint64("after", opnum),
		logpkg.Int("count", len(removed)))

	for _, e := range removed {
		l.unindex(e)
	}
	clear(removed)
	l.entries = l.entries[:keep]

	if l.LastOpnum() != opnum {
		panic(errors.AssertionFailedf("oplog: last opnum %d after truncating to %d",
			errors.Safe(l.LastOpnum()), errors.Safe(opnum)))
	}
}

// Last returns the newest entry.
func (l *Log[D]) Last() (*Entry[D], bool) {
	if len(l.entries) == 0 {
		return nil, false
	}
	return l.entries[len(l.entries)-1], true
}

// LastViewstamp returns the newest entry's viewstamp, or (0, start-1) when empty.
func (l *Log[D]) LastViewstamp() Viewstamp {
	if len(l.entries) == 0 {
		return Viewstamp{View: 0, Opnum: l.start - 1}
	}
	return l.entries[len(l.entries)-1].Viewstamp
}

// LastOpnum returns the newest opnum, or start-1 when empty.
func (l *Log[D]) LastOpnum() Opnum {
	if len(l.entries) == 0 {
		return l.start - 1
	}
	return l.entries[len(l.entries)-1].Viewstamp.Opnum
}

// FirstOpnum returns the configured start, whether or not the log is empty.
func (l *Log[D]) FirstOpnum() Opnum { return l.start }

// Empty reports whether the log holds no entries.
func (l *Log[D]) Empty() bool { return len(l.entries) == 0 }

// Len returns the number of entries.
func (l *Log[D]) Len() int { return len(l.entries) }

// UseHash reports whether the log maintains the hash chain.
func (l *Log[D]) UseHash() bool { return l.useHash }

// LastHash returns the newest entry's hash, or the seed when empty.
func (l *Log[D]) LastHash() Hash {
	if len(l.entries) == 0 {
		return l.initialHash
	}
	return l.entries[len(l.entries)-1].Hash
}
