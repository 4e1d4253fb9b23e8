// Package runtime wires configuration, logging and the state-transfer spool
// store for one replica process. It exposes Open/Close, a health check, and
// helpers that build operation logs and spools from the configuration.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Transfer.DataDir = "./data"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Replica: 2})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//
//	log, _ := runtime.NewLog[[]byte](rt)
//	spool := runtime.OpenSpool[[]byte](rt, transfer.BytesCodec{})
//	_, _ = spool.Capture(ctx, rt.NewSession(), log, 1)
package runtime
