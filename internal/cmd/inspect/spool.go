package inspect

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/rzbill/vrlog/internal/oplog"
	"github.com/rzbill/vrlog/internal/runtime"
	"github.com/rzbill/vrlog/internal/transfer"
	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// Entries handled by the CLI carry raw byte data.
type spool = transfer.Spool[[]byte]

func openSpool(rt *runtime.Runtime) *spool {
	return runtime.OpenSpool[[]byte](rt, transfer.BytesCodec{})
}

// newSpoolCommand constructs the `spool` command group and subcommands.
func newSpoolCommand() *cobra.Command {
	spoolCmd := &cobra.Command{Use: "spool", Short: "State-transfer spool operations"}
	spoolCmd.AddCommand(
		newSpoolImportCommand(),
		newSpoolListCommand(),
		newSpoolDumpCommand(),
		newSpoolVerifyCommand(),
		newSpoolReplayCommand(),
		newSpoolTrimCommand(),
		newSpoolDropCommand(),
		newSpoolPruneCommand(),
	)
	return spoolCmd
}

func requireSession(cmd *cobra.Command) (string, error) {
	s, _ := cmd.Flags().GetString("session")
	if s == "" {
		return "", errors.New("--session is required")
	}
	return s, nil
}

// newSpoolImportCommand constructs `spool import`, which reads JSON lines of
// entries into a new session.
func newSpoolImportCommand() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import JSON-lines entries into a new session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			rehash, _ := cmd.Flags().GetBool("rehash")

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			entries, err := readEntries(in)
			if err != nil {
				return err
			}

			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				session, _ := cmd.Flags().GetString("session")
				if session == "" {
					session = rt.NewSession()
				}
				sp := openSpool(rt)

				var info transfer.SessionInfo
				if rehash {
					seed, err := seedFlag(cmd, rt)
					if err != nil {
						return err
					}
					l, err := chainEntries(entries, seed)
					if err != nil {
						return err
					}
					if info, err = sp.Capture(cmd.Context(), session, l, l.FirstOpnum()); err != nil {
						return err
					}
				} else {
					w, err := sp.Create(cmd.Context(), session)
					if err != nil {
						return err
					}
					for _, e := range entries {
						if err = w.Put(e); err != nil {
							break
						}
					}
					if err = multierr.Append(err, w.Close()); err != nil {
						return err
					}
					info = w.Info()
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session: %s\ncount: %d\n", info.ID, info.Count)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "-", "JSON-lines input (- for stdin)")
	importCmd.Flags().String("session", "", "Session name (default: a new session id)")
	importCmd.Flags().Bool("rehash", false, "Recompute the hash chain while importing")
	importCmd.Flags().String("seed", "", "Initial hash for --rehash (default: config log.initialHash)")
	return importCmd
}

func readEntries(in io.Reader) ([]*oplog.Entry[[]byte], error) {
	var out []*oplog.Entry[[]byte]
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var j transfer.EntryJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		e, err := transfer.FromJSON[[]byte](j, transfer.BytesCodec{})
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// chainEntries installs entries into a hashed log seeded with seed, which
// recomputes every hash.
func chainEntries(entries []*oplog.Entry[[]byte], seed oplog.Hash) (*oplog.Log[[]byte], error) {
	if len(entries) == 0 {
		return nil, errors.New("--rehash needs at least one entry")
	}
	first := entries[0].Opnum()
	for i, e := range entries {
		if e.Opnum() != first+oplog.Opnum(i) {
			return nil, errors.Newf("entry %d has opnum %d, want %d", i, e.Opnum(), first+oplog.Opnum(i))
		}
	}
	if first == 0 {
		return nil, errors.New("opnums start at 1")
	}
	l, err := oplog.New[[]byte](oplog.Options{UseHash: true, Start: first, InitialHash: seed, Capacity: len(entries)})
	if err != nil {
		return nil, err
	}
	l.Install(entries...)
	return l, nil
}

// newSpoolListCommand constructs `spool ls`.
func newSpoolListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List spooled sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				sessions, err := openSpool(rt).ListSessions()
				if err != nil {
					return err
				}
				type item struct {
					Session string `json:"session"`
					First   uint64 `json:"first"`
					Last    uint64 `json:"last"`
					Count   uint64 `json:"count"`
					Created string `json:"created"`
				}
				out := make([]item, 0, len(sessions))
				for _, s := range sessions {
					out = append(out, item{
						Session: s.ID,
						First:   s.First,
						Last:    s.Last,
						Count:   s.Count,
						Created: s.Created.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
					})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
}

// newSpoolDumpCommand constructs `spool dump`, printing one JSON entry per line.
func newSpoolDumpCommand() *cobra.Command {
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the entries of a session as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := requireSession(cmd)
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetUint64("from")
			to, _ := cmd.Flags().GetUint64("to")
			expr, _ := cmd.Flags().GetString("filter")
			filter, err := transfer.NewFilter(expr)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) (err error) {
				r, err := openSpool(rt).Reader(session, from, to)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, r.Close()) }()

				src := transfer.Filtered[[]byte](r, filter)
				enc := json.NewEncoder(cmd.OutOrStdout())
				for src.Next() {
					j, err := transfer.ToJSON[[]byte](src.Entry(), transfer.BytesCodec{})
					if err != nil {
						return err
					}
					if err := enc.Encode(j); err != nil {
						return err
					}
				}
				return src.Err()
			})
		},
	}
	dumpCmd.Flags().String("session", "", "Session name")
	dumpCmd.Flags().Uint64("from", 0, "First opnum")
	dumpCmd.Flags().Uint64("to", ^uint64(0), "Last opnum")
	dumpCmd.Flags().String("filter", "", "CEL predicate, e.g. 'state == \"COMMITTED\" && client_id == 7'")
	return dumpCmd
}

// newSpoolVerifyCommand constructs `spool verify`, which checks the hash chain
// carried by a session.
func newSpoolVerifyCommand() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := requireSession(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) (err error) {
				seed, err := seedFlag(cmd, rt)
				if err != nil {
					return err
				}
				sp := openSpool(rt)
				info, err := sp.Info(session)
				if err != nil {
					return err
				}
				r, err := sp.Reader(session, info.First, info.Last)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, r.Close()) }()
				if bad, err := oplog.VerifyHashes[[]byte](seed, r); err != nil {
					if errors.Is(err, oplog.ErrChainMismatch) {
						return errors.Wrapf(err, "session %s diverges at opnum %d", session, bad)
					}
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK\nentries: %d\n", info.Count)
				return nil
			})
		},
	}
	verifyCmd.Flags().String("session", "", "Session name")
	verifyCmd.Flags().String("seed", "", "Initial hash (default: config log.initialHash)")
	return verifyCmd
}

// newSpoolReplayCommand constructs `spool replay`, which checks a session's
// hash chain, installs it into a fresh log built from the configuration and
// reports its tail.
func newSpoolReplayCommand() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Install a session into an empty log and report its tail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := requireSession(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				sp := openSpool(rt)
				info, err := sp.Info(session)
				if err != nil {
					return err
				}
				opts, err := rt.LogOptions()
				if err != nil {
					return err
				}
				if info.Count > 0 {
					opts.Start = info.First
					if info.First == 1 {
						opts.InitialHash = oplog.EmptyHash
					}
				}
				l, err := oplog.New[[]byte](opts)
				if err != nil {
					return err
				}
				// installing recomputes hashes, so the stored chain is checked first
				if l.UseHash() {
					if bad, err := sp.Verify(session, l.LastHash()); err != nil {
						if errors.Is(err, oplog.ErrChainMismatch) {
							return errors.Wrapf(err, "session %s diverges at opnum %d", session, bad)
						}
						return err
					}
				}
				n, err := sp.InstallInto(l, session)
				if err != nil {
					return err
				}
				rt.Logger().Info("replayed transfer session",
					logpkg.Str(logpkg.SessionKey, session),
					logpkg.Int("installed", n),
					logpkg.Uint64("last", l.LastOpnum()))
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed: %d\nlast_viewstamp: %s\nlast_hash: %s\n",
					n, l.LastViewstamp(), l.LastHash())
				return nil
			})
		},
	}
	replayCmd.Flags().String("session", "", "Session name")
	return replayCmd
}

// newSpoolTrimCommand constructs `spool trim`, which drops the prefix of a
// session that has already been installed.
func newSpoolTrimCommand() *cobra.Command {
	trimCmd := &cobra.Command{
		Use:   "trim",
		Short: "Delete the entries of a session below an opnum",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := requireSession(cmd)
			if err != nil {
				return err
			}
			before, _ := cmd.Flags().GetUint64("before")
			if before == 0 {
				return errors.New("--before is required")
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				sp := openSpool(rt)
				n, err := sp.TrimBefore(cmd.Context(), session, before)
				if err != nil {
					return err
				}
				info, err := sp.Info(session)
				if err != nil {
					return err
				}
				rt.Logger().Info("trimmed transfer session",
					logpkg.Str(logpkg.SessionKey, session),
					logpkg.Int("removed", n))
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK\nremoved: %d\nfirst: %d\ncount: %d\n",
					n, info.First, info.Count)
				return nil
			})
		},
	}
	trimCmd.Flags().String("session", "", "Session name")
	trimCmd.Flags().Uint64("before", 0, "Delete entries with opnum below this")
	return trimCmd
}

// newSpoolDropCommand constructs `spool drop`.
func newSpoolDropCommand() *cobra.Command {
	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := requireSession(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				if err := openSpool(rt).Drop(session); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
	dropCmd.Flags().String("session", "", "Session name")
	return dropCmd
}

// newSpoolPruneCommand constructs `spool prune`, which drops stale sessions.
func newSpoolPruneCommand() *cobra.Command {
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop sessions older than a given age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			age, _ := cmd.Flags().GetDuration("older-than")
			if age < 0 {
				return errors.New("--older-than must not be negative")
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				n, err := openSpool(rt).Prune(cmd.Context(), time.Now().Add(-age))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK\ndropped: %d\n", n)
				return nil
			})
		},
	}
	pruneCmd.Flags().Duration("older-than", 24*time.Hour, "Minimum session age to drop")
	return pruneCmd
}
