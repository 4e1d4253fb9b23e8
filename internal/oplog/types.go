package oplog

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Opnum is a position in the replica's total order.
type Opnum = uint64

// View identifies a leadership epoch.
type View = uint64

// Viewstamp locates an entry: the view it was ordered in and its opnum.
type Viewstamp struct {
	View  View
	Opnum Opnum
}

// SafeFormat implements redact.SafeFormatter.
func (vs Viewstamp) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d.%d", redact.Safe(vs.View), redact.Safe(vs.Opnum))
}

func (vs Viewstamp) String() string { return redact.StringWithoutMarkers(vs) }

// State is an entry's progress through the commit pipeline. Protocol
// variants use different subsets; the log never validates transitions.
type State uint8

const (
	StateUnspecified State = iota
	StateReceived
	StateSpeculative
	StateFastPrepared
	StatePrepared
	StateCommitted
	StateExecuted
	StateNoop
)

var stateNames = [...]string{
	StateUnspecified:  "UNSPECIFIED",
	StateReceived:     "RECEIVED",
	StateSpeculative:  "SPECULATIVE",
	StateFastPrepared: "FASTPREPARED",
	StatePrepared:     "PREPARED",
	StateCommitted:    "COMMITTED",
	StateExecuted:     "EXECUTED",
	StateNoop:         "NOOP",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// SafeValue implements redact.SafeValue.
func (State) SafeValue() {}

// ParseState parses a state name as produced by State.String, case-insensitively.
func ParseState(s string) (State, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range stateNames {
		if i != int(StateUnspecified) && name == up {
			return State(i), nil
		}
	}
	return StateUnspecified, errors.Newf("unknown log entry state %q", s)
}

// RequestID identifies a client request for deduplication.
type RequestID struct {
	ClientID    uint64
	ClientReqID uint64
}

// Valid reports whether both ids are set. Zero means absent.
func (id RequestID) Valid() bool { return id.ClientID > 0 && id.ClientReqID > 0 }

// Request is the client operation carried by an entry. Op is opaque.
type Request struct {
	ClientID    uint64
	ClientReqID uint64
	Op          []byte
}

// ID returns the request's (client id, client request id) pair.
func (r Request) ID() RequestID {
	return RequestID{ClientID: r.ClientID, ClientReqID: r.ClientReqID}
}

// Clone returns a copy that does not share Op.
func (r Request) Clone() Request {
	if r.Op != nil {
		r.Op = append([]byte(nil), r.Op...)
	}
	return r
}

// GroupID names a sequencer group (shard) in multi-sequencer protocols.
type GroupID uint32

// Multistamp carries the externally assigned ordering of an entry: a
// sequencer session and each group's local sequence number.
type Multistamp struct {
	Session uint64
	Seqnums map[GroupID]uint64
}

// Coordinate is one (session, group, group-local seq) position of a Multistamp.
type Coordinate struct {
	Session uint64
	Group   GroupID
	Seq     uint64
}

// Coordinates expands the stamp, ordered by group.
func (m *Multistamp) Coordinates() []Coordinate {
	if m == nil {
		return nil
	}
	out := make([]Coordinate, 0, len(m.Seqnums))
	for g, seq := range m.Seqnums {
		out = append(out, Coordinate{Session: m.Session, Group: g, Seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// Clone returns a deep copy; nil stays nil.
func (m *Multistamp) Clone() *Multistamp {
	if m == nil {
		return nil
	}
	c := &Multistamp{Session: m.Session, Seqnums: make(map[GroupID]uint64, len(m.Seqnums))}
	for g, seq := range m.Seqnums {
		c.Seqnums[g] = seq
	}
	return c
}
