package transfer

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/cel-go/cel"

	"github.com/rzbill/vrlog/internal/oplog"
)

// Filter wraps a compiled CEL predicate over entry fields. A Filter built
// from an empty expression matches everything.
//
// Variables: view, opnum, client_id, client_req_id, prev_client_req_opnum,
// size (int); state, text (string); op (bytes); has_reply, has_stamp (bool).
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr.
func NewFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("view", cel.IntType),
		cel.Variable("opnum", cel.IntType),
		cel.Variable("state", cel.StringType),
		cel.Variable("client_id", cel.IntType),
		cel.Variable("client_req_id", cel.IntType),
		cel.Variable("prev_client_req_opnum", cel.IntType),
		cel.Variable("op", cel.BytesType),
		cel.Variable("text", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("has_reply", cel.BoolType),
		cel.Variable("has_stamp", cel.BoolType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile filter %q", expr)
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, errors.Newf("filter %q yields %s, want bool", expr, t)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filter{prog: prog, enabled: true}, nil
}

// Enabled reports whether the filter has an expression.
func (f *Filter) Enabled() bool { return f != nil && f.enabled }

// Match evaluates the predicate. Evaluation errors count as no match.
func Match[D any](f *Filter, e *oplog.Entry[D]) bool {
	if !f.Enabled() {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"view":                  int64(e.Viewstamp.View),
		"opnum":                 int64(e.Viewstamp.Opnum),
		"state":                 e.State.String(),
		"client_id":             int64(e.Request.ClientID),
		"client_req_id":         int64(e.Request.ClientReqID),
		"prev_client_req_opnum": int64(e.PrevClientReqOpnum),
		"op":                    e.Request.Op,
		"text":                  string(e.Request.Op),
		"size":                  int64(len(e.Request.Op)),
		"has_reply":             e.Reply != nil,
		"has_stamp":             e.Stamp != nil,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Filtered returns a source yielding only the entries of src that f matches.
// The result is not contiguous and must not be installed into a log.
func Filtered[D any](src oplog.Source[D], f *Filter) oplog.Source[D] {
	if !f.Enabled() {
		return src
	}
	return &filteredSource[D]{Source: src, f: f}
}

type filteredSource[D any] struct {
	oplog.Source[D]
	f *Filter
}

func (s *filteredSource[D]) Next() bool {
	for s.Source.Next() {
		if Match(s.f, s.Source.Entry()) {
			return true
		}
	}
	return false
}
