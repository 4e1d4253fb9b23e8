package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/vrlog/internal/oplog"
)

func TestFilterMatch(t *testing.T) {
	e := &oplog.Entry[[]byte]{
		Viewstamp: oplog.Viewstamp{View: 3, Opnum: 17},
		State:     oplog.StateCommitted,
		Request:   oplog.Request{ClientID: 5, ClientReqID: 2, Op: []byte("SET color blue")},
	}
	e.SetReply(wrapperspb.Bool(true))

	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"opnum == 17", true},
		{"opnum > 17", false},
		{`state == "COMMITTED" && view == 3`, true},
		{"client_id == 5 && client_req_id == 2", true},
		{`text.startsWith("SET ")`, true},
		{`op == b"SET color blue"`, true},
		{"size == 14", true},
		{"has_reply && !has_stamp", true},
		{"prev_client_req_opnum != 0", false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			f, err := NewFilter(tc.expr)
			require.NoError(t, err)
			require.Equal(t, tc.want, Match(f, e))
		})
	}
}

func TestFilterCompileErrors(t *testing.T) {
	for _, expr := range []string{"opnum >", "unknown_var == 1", "opnum + 1"} {
		_, err := NewFilter(expr)
		require.Error(t, err, expr)
	}
}

func TestFilteredSource(t *testing.T) {
	var entries []*oplog.Entry[[]byte]
	for op := oplog.Opnum(1); op <= 6; op++ {
		entries = append(entries, &oplog.Entry[[]byte]{
			Viewstamp: oplog.Viewstamp{View: 1, Opnum: op},
			State:     oplog.StatePrepared,
		})
	}
	f, err := NewFilter("opnum % 2 == 0")
	require.NoError(t, err)

	src := Filtered[[]byte](oplog.NewSliceSource(entries), f)
	var got []oplog.Opnum
	for src.Next() {
		got = append(got, src.Entry().Opnum())
	}
	require.NoError(t, src.Err())
	require.Equal(t, []oplog.Opnum{2, 4, 6}, got)

	none, err := NewFilter("")
	require.NoError(t, err)
	plain := oplog.NewSliceSource(entries)
	require.Same(t, plain, Filtered[[]byte](plain, none))
}
