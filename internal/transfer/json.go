package transfer

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rzbill/vrlog/internal/oplog"
)

// EntryJSON is the human-facing form of an entry used by inspection output
// and JSON-lines import. Byte fields are base64 per encoding/json.
type EntryJSON struct {
	View               uint64          `json:"view"`
	Opnum              uint64          `json:"opnum"`
	State              string          `json:"state"`
	ClientID           uint64          `json:"client_id,omitempty"`
	ClientReqID        uint64          `json:"client_req_id,omitempty"`
	Op                 []byte          `json:"op,omitempty"`
	Hash               string          `json:"hash,omitempty"`
	PrevClientReqOpnum uint64          `json:"prev_client_req_opnum,omitempty"`
	Stamp              *StampJSON      `json:"stamp,omitempty"`
	Reply              json.RawMessage `json:"reply,omitempty"`
	Data               []byte          `json:"data,omitempty"`
}

// StampJSON is the JSON form of a multistamp.
type StampJSON struct {
	Session uint64                   `json:"session"`
	Seqnums map[oplog.GroupID]uint64 `json:"seqnums"`
}

// ToJSON converts e. The reply is rendered with protojson as an Any, so it
// carries its "@type".
func ToJSON[D any](e *oplog.Entry[D], codec DataCodec[D]) (EntryJSON, error) {
	out := EntryJSON{
		View:               e.Viewstamp.View,
		Opnum:              e.Viewstamp.Opnum,
		State:              e.State.String(),
		ClientID:           e.Request.ClientID,
		ClientReqID:        e.Request.ClientReqID,
		Op:                 e.Request.Op,
		PrevClientReqOpnum: e.PrevClientReqOpnum,
	}
	if !e.Hash.IsEmpty() {
		out.Hash = e.Hash.String()
	}
	if e.Stamp != nil {
		out.Stamp = &StampJSON{Session: e.Stamp.Session, Seqnums: e.Stamp.Clone().Seqnums}
	}
	if e.Reply != nil {
		a, err := anypb.New(e.Reply)
		if err != nil {
			return EntryJSON{}, errors.Wrapf(err, "pack reply of opnum %d", e.Opnum())
		}
		if out.Reply, err = protojson.Marshal(a); err != nil {
			return EntryJSON{}, errors.Wrapf(err, "render reply of opnum %d", e.Opnum())
		}
	}
	data, err := codec.Marshal(e.Data)
	if err != nil {
		return EntryJSON{}, errors.Wrapf(err, "marshal data of opnum %d", e.Opnum())
	}
	out.Data = data
	return out, nil
}

// FromJSON converts j back to an entry.
func FromJSON[D any](j EntryJSON, codec DataCodec[D]) (*oplog.Entry[D], error) {
	state, err := oplog.ParseState(j.State)
	if err != nil {
		return nil, errors.Wrapf(err, "opnum %d", j.Opnum)
	}
	e := &oplog.Entry[D]{
		Viewstamp: oplog.Viewstamp{View: j.View, Opnum: j.Opnum},
		State:     state,
		Request: oplog.Request{
			ClientID:    j.ClientID,
			ClientReqID: j.ClientReqID,
			Op:          j.Op,
		},
		PrevClientReqOpnum: j.PrevClientReqOpnum,
	}
	if j.Hash != "" {
		if e.Hash, err = oplog.ParseHash(j.Hash); err != nil {
			return nil, errors.Wrapf(err, "hash of opnum %d", j.Opnum)
		}
	}
	if j.Stamp != nil {
		e.Stamp = (&oplog.Multistamp{Session: j.Stamp.Session, Seqnums: j.Stamp.Seqnums}).Clone()
	}
	if len(j.Reply) > 0 {
		var a anypb.Any
		if err := protojson.Unmarshal(j.Reply, &a); err != nil {
			return nil, errors.Wrapf(err, "reply of opnum %d", j.Opnum)
		}
		if e.Reply, err = a.UnmarshalNew(); err != nil {
			return nil, errors.Wrapf(err, "reply of opnum %d", j.Opnum)
		}
	}
	if e.Data, err = codec.Unmarshal(j.Data); err != nil {
		return nil, errors.Wrapf(err, "data of opnum %d", j.Opnum)
	}
	return e, nil
}
