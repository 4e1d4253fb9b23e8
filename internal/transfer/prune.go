package transfer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"

	"github.com/rzbill/vrlog/internal/oplog"
	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// Prune drops every session created before cutoff and returns how many it
// removed. Sessions are dropped one at a time; ctx is checked between them.
// The spool keyspace is compacted once at the end.
func (s *Spool[D]) Prune(ctx context.Context, cutoff time.Time) (dropped int, err error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return 0, err
	}
	defer func() {
		if dropped > 0 {
			err = multierr.Append(err, s.compact(rootPrefix, rootEnd()))
		}
	}()
	for _, info := range sessions {
		if !info.Created.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		if err := s.drop(info.ID); err != nil {
			return dropped, err
		}
		dropped++
	}
	return dropped, nil
}

// TrimBefore deletes the entries of session with opnum < before, typically
// once they have been installed, and advances the session's first opnum.
// Trimming past the last entry leaves an empty session.
func (s *Spool[D]) TrimBefore(ctx context.Context, session string, before oplog.Opnum) (int, error) {
	info, err := s.Info(session)
	if err != nil {
		return 0, err
	}
	if info.Count == 0 || before <= info.First {
		return 0, nil
	}
	end := before
	if end > info.Last+1 {
		end = info.Last + 1
	}
	removed := end - info.First

	m := sessionMeta{first: end, last: info.Last, count: info.Count - removed, createdMs: info.Created.UnixMilli()}
	if m.count == 0 {
		m.first, m.last = 0, 0
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(keyEntry(session, info.First), keyEntry(session, end), nil); err != nil {
		return 0, err
	}
	if err := b.Set(keyMeta(session), m.encode(), nil); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, errors.Wrapf(err, "trim session %s", session)
	}
	s.logger.Debug("trimmed transfer session",
		logpkg.Str(logpkg.SessionKey, session),
		logpkg.Uint64("before", before),
		logpkg.Uint64("removed", removed))
	return int(removed), nil
}
