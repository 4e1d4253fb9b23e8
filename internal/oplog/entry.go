package oplog

import (
	"google.golang.org/protobuf/proto"
)

// Entry is one slot of the log. D is protocol-specific data the log stores
// and copies but never interprets.
type Entry[D any] struct {
	Viewstamp Viewstamp
	State     State
	Request   Request
	// Hash is the chain digest; zero when the log does not hash.
	Hash Hash
	// PrevClientReqOpnum links to the same client's previous request for
	// protocols keeping a speculative client table.
	PrevClientReqOpnum Opnum
	// Reply is an optional cached reply. Every entry owns its own message.
	Reply proto.Message
	// Stamp is the multistamp the entry was appended with, if any.
	Stamp *Multistamp
	Data  D
}

// Opnum is shorthand for e.Viewstamp.Opnum.
func (e *Entry[D]) Opnum() Opnum { return e.Viewstamp.Opnum }

// SetReply stores a private copy of m.
func (e *Entry[D]) SetReply(m proto.Message) {
	if m == nil {
		e.Reply = nil
		return
	}
	e.Reply = proto.Clone(m)
}

// Clone returns a deep copy sharing no request bytes, reply or stamp with e.
// Data is copied by value.
func (e *Entry[D]) Clone() *Entry[D] {
	c := *e
	c.Request = e.Request.Clone()
	c.Stamp = e.Stamp.Clone()
	if e.Reply != nil {
		c.Reply = proto.Clone(e.Reply)
	}
	return &c
}
