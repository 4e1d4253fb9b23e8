// Package transfer moves operation log entries between replicas during
// state transfer.
//
// A lagging replica receives a peer's Dump into a Spool session backed by
// Pebble. Each entry is stored as a checksummed record under
// xfer/{session}/e/{opnum}; the session's first and last opnum live under
// xfer/{session}/m. Once the session is complete it is replayed into the
// local log with InstallInto, which skips the prefix the log already holds.
//
// Records frame a binary header (viewstamp, state, request ids, hash,
// multistamp) and a payload (op bytes, protocol data through a DataCodec,
// reply as a google.protobuf.Any) with a crc32c trailer.
//
// Spooled sessions can be inspected with a CEL Filter and rendered as
// EntryJSON, and their hash chain checked with oplog.VerifyHashes.
//
//	sp := transfer.NewSpool[[]byte](db, transfer.BytesCodec{}, transfer.SpoolOptions{})
//	info, err := sp.Capture(ctx, session, peerLog, from)
//	...
//	n, err := sp.InstallInto(localLog, session)
package transfer
