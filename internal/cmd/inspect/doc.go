// Package inspect provides the `vrlog` command-line tool for working with
// operation log hash chains and state-transfer spools on a replica's disk.
//
// Configuration is resolved from --config (JSON or YAML), then VRLOG_*
// environment variables, then flags such as --data-dir.
//
// Usage
//
//	# Hash chain over (client, request) ids
//	vrlog hash 1:1 1:2 2:1
//	vrlog hash --seed 00000000000000000000000000000000000000aa 7:3
//
//	# Stage a JSON-lines dump, recomputing hashes from the empty seed
//	vrlog spool import --file dump.jsonl --rehash
//
//	vrlog spool ls
//	vrlog spool dump --session SESSION --from 10 --to 20
//	vrlog spool dump --session SESSION --filter 'state == "COMMITTED" && size > 0'
//	vrlog spool verify --session SESSION
//	vrlog spool replay --session SESSION
//	vrlog spool drop --session SESSION
//	vrlog spool prune --older-than 72h
//
// Notes
//
//   - Entries are JSON objects with view, opnum, state and optional
//     client_id, client_req_id, op (base64), hash (hex), stamp, reply
//     (protojson Any) and data (base64).
//   - dump filters are CEL expressions over view, opnum, state, client_id,
//     client_req_id, prev_client_req_opnum, op, text, size, has_reply and
//     has_stamp.
package inspect
