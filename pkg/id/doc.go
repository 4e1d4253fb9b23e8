// Package id provides sortable 128-bit identifiers for state-transfer
// sessions.
//
// # Format
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][4 bytes replica]
// [4 bytes counter]. Byte-wise comparison preserves creation order within a
// replica, and the hex form is safe to embed in storage keys.
//
// # Monotonicity
//
//   - If the system clock regresses, the Generator pins to the last seen
//     millisecond and increments the counter.
//   - If the counter would overflow within a millisecond, the timestamp is
//     advanced by one instead of waiting for the clock.
//
// Usage
//
//	g := id.NewGenerator(replicaIdx)
//	session := g.Next()
//	key := session.String()
package id
