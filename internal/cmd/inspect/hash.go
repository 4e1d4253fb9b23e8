package inspect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/rzbill/vrlog/internal/oplog"
)

// newHashCommand constructs `hash`, which folds request ids into the chain
// and prints every intermediate digest.
func newHashCommand() *cobra.Command {
	hashCmd := &cobra.Command{
		Use:   "hash CLIENT:REQ...",
		Short: "Compute the hash chain over client request ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := seedFlag(cmd, nil)
			if err != nil {
				return err
			}
			for _, arg := range args {
				id, err := parseRequestID(arg)
				if err != nil {
					return err
				}
				prev = oplog.ChainHash(prev, id)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d:%d %s\n", id.ClientID, id.ClientReqID, prev)
			}
			return nil
		},
	}
	hashCmd.Flags().String("seed", "", "Initial hash (40 hex characters)")
	return hashCmd
}

func parseRequestID(s string) (oplog.RequestID, error) {
	client, req, ok := strings.Cut(s, ":")
	if !ok {
		return oplog.RequestID{}, errors.Newf("request id %q: want CLIENT:REQ", s)
	}
	c, err := strconv.ParseUint(client, 10, 64)
	if err != nil {
		return oplog.RequestID{}, errors.Wrapf(err, "client id in %q", s)
	}
	r, err := strconv.ParseUint(req, 10, 64)
	if err != nil {
		return oplog.RequestID{}, errors.Wrapf(err, "request id in %q", s)
	}
	return oplog.RequestID{ClientID: c, ClientReqID: r}, nil
}
