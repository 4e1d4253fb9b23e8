package transfer

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cockroachdb/errors"
)

// ErrCorruptRecord marks a spooled record that fails framing, checksum or
// field decoding.
var ErrCorruptRecord = errors.New("corrupt transfer record")

// Record framing: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func sealRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

// openRecord splits a sealed record. The returned slices alias b.
func openRecord(b []byte) (header, payload []byte, err error) {
	if len(b) < 1+4 {
		return nil, nil, errors.Wrapf(ErrCorruptRecord, "record of %d bytes is too short", len(b))
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, errors.Wrap(ErrCorruptRecord, "bad header length")
	}
	if len(b) < n+4 || hlen > uint64(len(b)-n-4) {
		return nil, nil, errors.Wrapf(ErrCorruptRecord, "header length %d overruns record", hlen)
	}
	header = b[n : n+int(hlen)]
	payload = b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return nil, nil, errors.Wrapf(ErrCorruptRecord, "checksum %08x, want %08x", crc, expect)
	}
	return header, payload, nil
}
