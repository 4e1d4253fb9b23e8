package transfer

import (
	"bytes"
	"encoding/binary"
)

// Keyspace for spooled sessions (byte-wise sortable):
// - xfer/{session}/e/{opnum_be8}
// - xfer/{session}/m

var (
	sep        = byte('/')
	rootPrefix = []byte("xfer/")
	entrySeg   = []byte("/e/")
	metaSuffix = []byte("/m")
)

// rootEnd is the exclusive upper bound of the spool keyspace.
func rootEnd() []byte {
	k := append([]byte(nil), rootPrefix...)
	k[len(k)-1]++
	return k
}

func keySessionPrefix(session string) []byte {
	k := make([]byte, 0, len(rootPrefix)+len(session)+1)
	k = append(k, rootPrefix...)
	k = append(k, session...)
	return append(k, sep)
}

// keySessionEnd is the exclusive upper bound of every key in session.
func keySessionEnd(session string) []byte {
	k := keySessionPrefix(session)
	k[len(k)-1] = sep + 1
	return k
}

func keyMeta(session string) []byte {
	k := make([]byte, 0, len(rootPrefix)+len(session)+len(metaSuffix))
	k = append(k, rootPrefix...)
	k = append(k, session...)
	return append(k, metaSuffix...)
}

// keyEntry uses a big-endian opnum so keys sort in log order.
func keyEntry(session string, opnum uint64) []byte {
	k := make([]byte, 0, len(rootPrefix)+len(session)+len(entrySeg)+8)
	k = append(k, rootPrefix...)
	k = append(k, session...)
	k = append(k, entrySeg...)
	return binary.BigEndian.AppendUint64(k, opnum)
}

func opnumFromEntryKey(k []byte) (uint64, bool) {
	if len(k) < len(rootPrefix)+len(entrySeg)+8 || !bytes.HasPrefix(k, rootPrefix) {
		return 0, false
	}
	if !bytes.Equal(k[len(k)-8-len(entrySeg):len(k)-8], entrySeg) {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[len(k)-8:]), true
}

// sessionFromKey extracts {session} from any spool key.
func sessionFromKey(k []byte) (string, bool) {
	if !bytes.HasPrefix(k, rootPrefix) {
		return "", false
	}
	rest := k[len(rootPrefix):]
	i := bytes.IndexByte(rest, sep)
	if i <= 0 {
		return "", false
	}
	return string(rest[:i]), true
}

// meta value: first_be8 | last_be8 | count_be8 | created_ms_be8
type sessionMeta struct {
	first, last, count uint64
	createdMs          int64
}

func (m sessionMeta) encode() []byte {
	b := make([]byte, 0, 32)
	b = binary.BigEndian.AppendUint64(b, m.first)
	b = binary.BigEndian.AppendUint64(b, m.last)
	b = binary.BigEndian.AppendUint64(b, m.count)
	return binary.BigEndian.AppendUint64(b, uint64(m.createdMs))
}

func decodeMeta(b []byte) (sessionMeta, bool) {
	if len(b) < 32 {
		return sessionMeta{}, false
	}
	return sessionMeta{
		first:     binary.BigEndian.Uint64(b[0:8]),
		last:      binary.BigEndian.Uint64(b[8:16]),
		count:     binary.BigEndian.Uint64(b[16:24]),
		createdMs: int64(binary.BigEndian.Uint64(b[24:32])),
	}, true
}
