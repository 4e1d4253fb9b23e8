package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/vrlog/internal/config"
	"github.com/rzbill/vrlog/internal/oplog"
	"github.com/rzbill/vrlog/internal/transfer"
	logpkg "github.com/rzbill/vrlog/pkg/log"
)

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.Transfer.DataDir = t.TempDir()
	cfg.Transfer.Fsync = "always"
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Logger: logpkg.Nop()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err == nil {
		t.Fatalf("expected health failure after close")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transfer.Fsync = "sometimes"
	if _, err := Open(Options{Config: cfg, Logger: logpkg.Nop()}); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestLogOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.UseHash = true
	cfg.Log.Start = 11
	cfg.Log.InitialHash = "00000000000000000000000000000000000000aa"
	rt, err := Open(Options{Config: cfg, Logger: logpkg.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	l, err := NewLog[[]byte](rt)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	if l.FirstOpnum() != 11 || !l.UseHash() {
		t.Fatalf("unexpected log: first=%d hash=%v", l.FirstOpnum(), l.UseHash())
	}
	if got := l.LastHash().String(); got != cfg.Log.InitialHash {
		t.Fatalf("seed = %s", got)
	}
}

func TestSessionsAndSpool(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Replica: 4, Logger: logpkg.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	a, b := rt.NewSession(), rt.NewSession()
	if a == b || a > b {
		t.Fatalf("sessions not increasing: %s %s", a, b)
	}

	l, err := NewLog[[]byte](rt)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	for op := oplog.Opnum(1); op <= 3; op++ {
		l.Append(oplog.Viewstamp{View: 1, Opnum: op}, oplog.Request{ClientID: 1, ClientReqID: op}, oplog.StateCommitted)
	}
	sp := OpenSpool[[]byte](rt, transfer.BytesCodec{})
	info, err := sp.Capture(context.Background(), a, l, 1)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if info.Count != 3 {
		t.Fatalf("captured %d entries", info.Count)
	}
}
