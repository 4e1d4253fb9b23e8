// Package pebblestore wraps Pebble with an fsync policy, batches, range
// deletion and a small metrics hook. It backs the state-transfer spool.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/spool",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	    Logger:  logger,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
//
//	_ = db.DeleteRange([]byte("a"), []byte("b"))
package pebblestore
