package transfer

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rzbill/vrlog/internal/oplog"
)

const recordVersion = 1

const (
	flagHash = 1 << iota
	flagStamp
	flagReply
)

// DataCodec serializes the protocol data an entry carries.
type DataCodec[D any] interface {
	Marshal(d D) ([]byte, error)
	Unmarshal(b []byte) (D, error)
}

// BytesCodec carries raw byte data verbatim.
type BytesCodec struct{}

func (BytesCodec) Marshal(d []byte) ([]byte, error) { return d, nil }

func (BytesCodec) Unmarshal(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

// EmptyCodec is for logs whose entries carry no data.
type EmptyCodec struct{}

func (EmptyCodec) Marshal(struct{}) ([]byte, error) { return nil, nil }

func (EmptyCodec) Unmarshal(b []byte) (struct{}, error) {
	if len(b) != 0 {
		return struct{}{}, errors.Newf("unexpected %d data bytes", len(b))
	}
	return struct{}{}, nil
}

// EncodeEntry serializes e into a sealed record. Replies travel as
// google.protobuf.Any so any registered message type survives the trip.
func EncodeEntry[D any](e *oplog.Entry[D], codec DataCodec[D]) ([]byte, error) {
	var flags byte
	if !e.Hash.IsEmpty() {
		flags |= flagHash
	}
	if e.Stamp != nil {
		flags |= flagStamp
	}
	var reply []byte
	if e.Reply != nil {
		a, err := anypb.New(e.Reply)
		if err != nil {
			return nil, errors.Wrapf(err, "pack reply of opnum %d", e.Opnum())
		}
		if reply, err = proto.Marshal(a); err != nil {
			return nil, errors.Wrapf(err, "marshal reply of opnum %d", e.Opnum())
		}
		flags |= flagReply
	}
	data, err := codec.Marshal(e.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal data of opnum %d", e.Opnum())
	}

	h := make([]byte, 0, 64)
	h = append(h, recordVersion, flags, byte(e.State))
	h = binary.AppendUvarint(h, e.Viewstamp.View)
	h = binary.AppendUvarint(h, e.Viewstamp.Opnum)
	h = binary.AppendUvarint(h, e.Request.ClientID)
	h = binary.AppendUvarint(h, e.Request.ClientReqID)
	h = binary.AppendUvarint(h, e.PrevClientReqOpnum)
	if flags&flagHash != 0 {
		h = append(h, e.Hash[:]...)
	}
	if flags&flagStamp != 0 {
		coords := e.Stamp.Coordinates()
		h = binary.AppendUvarint(h, e.Stamp.Session)
		h = binary.AppendUvarint(h, uint64(len(coords)))
		for _, c := range coords {
			h = binary.AppendUvarint(h, uint64(c.Group))
			h = binary.AppendUvarint(h, c.Seq)
		}
	}

	p := make([]byte, 0, len(e.Request.Op)+len(data)+len(reply)+3*binary.MaxVarintLen64)
	p = appendBytes(p, e.Request.Op)
	p = appendBytes(p, data)
	p = appendBytes(p, reply)
	return sealRecord(h, p), nil
}

// DecodeEntry reverses EncodeEntry. Failures wrap ErrCorruptRecord.
func DecodeEntry[D any](b []byte, codec DataCodec[D]) (*oplog.Entry[D], error) {
	header, payload, err := openRecord(b)
	if err != nil {
		return nil, err
	}
	h := reader{buf: header}
	if v := h.u8(); v != recordVersion {
		return nil, errors.Wrapf(ErrCorruptRecord, "record version %d", v)
	}
	flags := h.u8()
	e := &oplog.Entry[D]{State: oplog.State(h.u8())}
	e.Viewstamp.View = h.uvarint()
	e.Viewstamp.Opnum = h.uvarint()
	e.Request.ClientID = h.uvarint()
	e.Request.ClientReqID = h.uvarint()
	e.PrevClientReqOpnum = h.uvarint()
	if flags&flagHash != 0 {
		copy(e.Hash[:], h.next(oplog.HashSize))
	}
	if flags&flagStamp != 0 {
		stamp := &oplog.Multistamp{Session: h.uvarint()}
		n := h.uvarint()
		if n > uint64(len(header)) {
			return nil, errors.Wrapf(ErrCorruptRecord, "stamp with %d groups", n)
		}
		stamp.Seqnums = make(map[oplog.GroupID]uint64, n)
		for i := uint64(0); i < n; i++ {
			g := oplog.GroupID(h.uvarint())
			stamp.Seqnums[g] = h.uvarint()
		}
		e.Stamp = stamp
	}
	if h.err != nil {
		return nil, errors.Wrap(h.err, "header")
	}

	p := reader{buf: payload}
	if op := p.blob(); len(op) > 0 {
		e.Request.Op = append([]byte(nil), op...)
	}
	data := p.blob()
	reply := p.blob()
	if p.err != nil {
		return nil, errors.Wrap(p.err, "payload")
	}
	if e.Data, err = codec.Unmarshal(data); err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrCorruptRecord), "data of opnum %d", e.Opnum())
	}
	if flags&flagReply != 0 {
		var a anypb.Any
		if err := proto.Unmarshal(reply, &a); err != nil {
			return nil, errors.Wrapf(errors.Mark(err, ErrCorruptRecord), "reply of opnum %d", e.Opnum())
		}
		if e.Reply, err = a.UnmarshalNew(); err != nil {
			return nil, errors.Wrapf(err, "reply of opnum %d", e.Opnum())
		}
	}
	return e, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// reader walks a buffer and latches the first decoding error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrCorruptRecord, "truncated %s", what)
	}
}

func (r *reader) u8() byte {
	if r.err != nil || len(r.buf) < 1 {
		r.fail("byte")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail("varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) next(n int) []byte {
	if r.err != nil || len(r.buf) < n {
		r.fail("field")
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) blob() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)) {
		r.fail("bytes")
		return nil
	}
	return r.next(int(n))
}
