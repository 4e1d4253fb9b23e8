package inspect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rzbill/vrlog/internal/oplog"
	"github.com/rzbill/vrlog/internal/transfer"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRoot()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func jsonLines(from, to uint64) string {
	var b strings.Builder
	for op := from; op <= to; op++ {
		fmt.Fprintf(&b, `{"view":1,"opnum":%d,"state":"committed","client_id":%d,"client_req_id":%d,"op":"b3A="}`+"\n", op, 1+op%2, op)
	}
	return b.String()
}

func TestHashCommand(t *testing.T) {
	out, err := run(t, "", "hash", "1:1", "2:5")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	h1 := oplog.ChainHash(oplog.EmptyHash, oplog.RequestID{ClientID: 1, ClientReqID: 1})
	h2 := oplog.ChainHash(h1, oplog.RequestID{ClientID: 2, ClientReqID: 5})
	want := fmt.Sprintf("1:1 %s\n2:5 %s\n", h1, h2)
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestHashCommandRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"hash"},
		{"hash", "12"},
		{"hash", "a:1"},
		{"hash", "--seed", "zz", "1:1"},
	} {
		if _, err := run(t, "", args...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestSpoolLifecycle(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--log-level", "error"}
	with := func(args ...string) []string { return append(append([]string(nil), base...), args...) }

	out, err := run(t, jsonLines(1, 6), with("spool", "import", "--session", "s1", "--rehash")...)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "session: s1") || !strings.Contains(out, "count: 6") {
		t.Fatalf("unexpected import output: %s", out)
	}

	out, err = run(t, "", with("spool", "ls")...)
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	var listed []struct {
		Session string `json:"session"`
		Count   uint64 `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("ls output: %v\n%s", err, out)
	}
	if len(listed) != 1 || listed[0].Session != "s1" || listed[0].Count != 6 {
		t.Fatalf("unexpected sessions: %+v", listed)
	}

	out, err = run(t, "", with("spool", "dump", "--session", "s1", "--from", "2", "--filter", "client_id == 1")...)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	var opnums []uint64
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var j transfer.EntryJSON
		if err := json.Unmarshal([]byte(line), &j); err != nil {
			t.Fatalf("dump line %q: %v", line, err)
		}
		if j.Hash == "" || j.State != "COMMITTED" || string(j.Op) != "op" {
			t.Fatalf("unexpected entry: %+v", j)
		}
		opnums = append(opnums, j.Opnum)
	}
	if fmt.Sprint(opnums) != "[2 4 6]" {
		t.Fatalf("filtered opnums = %v", opnums)
	}

	out, err = run(t, "", with("spool", "verify", "--session", "s1")...)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "status: OK") {
		t.Fatalf("unexpected verify output: %s", out)
	}

	out, err = run(t, "", with("spool", "replay", "--session", "s1")...)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, "installed: 6") || !strings.Contains(out, "last_viewstamp: 1.6") {
		t.Fatalf("unexpected replay output: %s", out)
	}

	if _, err := run(t, "", with("spool", "drop", "--session", "s1")...); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := run(t, "", with("spool", "dump", "--session", "s1")...); err == nil {
		t.Fatalf("expected dump of dropped session to fail")
	}
}

func TestVerifyDetectsMissingHashes(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--log-level", "error"}

	out, err := run(t, jsonLines(1, 3), append(base, "spool", "import")...)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	session := strings.TrimPrefix(strings.SplitN(out, "\n", 2)[0], "session: ")
	if len(session) != 32 {
		t.Fatalf("expected generated session id, got %q", session)
	}

	_, err = run(t, "", append(base, "spool", "verify", "--session", session)...)
	if err == nil || !strings.Contains(err.Error(), "diverges at opnum 1") {
		t.Fatalf("expected divergence at opnum 1, got %v", err)
	}
}

func TestImportRejectsGapWithRehash(t *testing.T) {
	dir := t.TempDir()
	input := jsonLines(1, 2) + jsonLines(4, 4)
	_, err := run(t, input, "--data-dir", dir, "--log-level", "error", "spool", "import", "--rehash")
	if err == nil {
		t.Fatalf("expected gap error")
	}
}

func TestSessionFlagRequired(t *testing.T) {
	for _, sub := range []string{"dump", "verify", "replay", "trim", "drop"} {
		if _, err := run(t, "", "--data-dir", t.TempDir(), "spool", sub); err == nil {
			t.Fatalf("%s: expected --session error", sub)
		}
	}
}

func TestPruneCommand(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--log-level", "error"}
	if _, err := run(t, jsonLines(1, 2), append(base, "spool", "import", "--session", "p")...); err != nil {
		t.Fatalf("import: %v", err)
	}
	out, err := run(t, "", append(base, "spool", "prune")...)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "dropped: 0") {
		t.Fatalf("fresh session should survive: %s", out)
	}
	out, err = run(t, "", append(base, "spool", "prune", "--older-than", "0s")...)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "dropped: 1") {
		t.Fatalf("expected one dropped session: %s", out)
	}
}

func TestReplayRejectsTamperedChain(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--log-level", "error"}

	bogus := oplog.Hash{0xde, 0xad}
	var input strings.Builder
	for op := uint64(1); op <= 3; op++ {
		fmt.Fprintf(&input, `{"view":1,"opnum":%d,"state":"committed","client_id":1,"client_req_id":%d,"hash":%q}`+"\n", op, op, bogus)
	}
	if _, err := run(t, input.String(), append(base, "spool", "import", "--session", "bad")...); err != nil {
		t.Fatalf("import: %v", err)
	}
	out, err := run(t, "", append(base, "spool", "replay", "--session", "bad")...)
	if err == nil || !strings.Contains(err.Error(), "diverges at opnum 1") {
		t.Fatalf("expected divergence at opnum 1, got %v (%s)", err, out)
	}
	if strings.Contains(out, "installed:") {
		t.Fatalf("tampered session must not be installed: %s", out)
	}
}

func TestTrimCommand(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--log-level", "error"}
	if _, err := run(t, jsonLines(1, 5), append(base, "spool", "import", "--session", "t", "--rehash")...); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := run(t, "", append(base, "spool", "trim", "--session", "t")...); err == nil {
		t.Fatalf("expected --before error")
	}

	out, err := run(t, "", append(base, "spool", "trim", "--session", "t", "--before", "3")...)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if !strings.Contains(out, "removed: 2") || !strings.Contains(out, "first: 3") || !strings.Contains(out, "count: 3") {
		t.Fatalf("unexpected trim output: %s", out)
	}

	out, err = run(t, "", append(base, "spool", "dump", "--session", "t")...)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if n := strings.Count(strings.TrimSpace(out), "\n") + 1; n != 3 {
		t.Fatalf("expected 3 entries after trim, got %d:\n%s", n, out)
	}
}
