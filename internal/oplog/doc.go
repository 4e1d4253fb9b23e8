// Package oplog implements a replica's operation log for view-stamped
// replication and its variants (speculative and fast-quorum protocols,
// multi-sequencer ordering).
//
// # Overview
//
// A Log holds a contiguous run of entries numbered [start, start+len-1]. Each
// entry records a client request, its viewstamp and its progress through the
// commit pipeline (received, speculative/prepared, committed, executed).
//
//	l, _ := oplog.New[struct{}](oplog.Options{UseHash: true})
//	e := l.Append(oplog.Viewstamp{View: 1, Opnum: 1}, req, oplog.StatePrepared)
//	_ = e // handle stays valid; attach follow-up state here
//	l.SetStatus(1, oplog.StateCommitted)
//
//	// Secondary lookups
//	l.FindRequest(oplog.RequestID{ClientID: 5, ClientReqID: 100})
//	l.FindCoordinate(oplog.Coordinate{Session: 7, Group: 0, Seq: 5})
//
//	// View change rollback of speculative history
//	l.RemoveAfter(lastCommitted)
//
// # Hash chain
//
// With UseHash set, entry k stores SHA-1(hash(k-1) | clientID | clientReqID),
// both ids as 8 little-endian bytes, seeded by Options.InitialHash. The chain
// covers only the client identifiers: the operation payload and the viewstamp
// are not part of the digest, so replicas that agree on the order of requests
// agree on the chain regardless of payload bytes.
//
// # Contract violations
//
// Appending out of sequence, truncating a committed entry (with
// Options.Paranoid), truncating below the log start, or calling SetRequest on
// a hashed log are bugs in the calling protocol and panic with an assertion
// failure. Lookups that miss return false.
//
// # Concurrency
//
// A Log has a single owner. It performs no locking; callers serialize every
// call, reads included.
package oplog
