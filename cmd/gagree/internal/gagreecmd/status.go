package gagreecmd

import (
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agdebug"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [SESSION_ID]",
		Short: "Print the state of a running node's sessions",
		Long: `Print the state of a running node's sessions, read from its debug socket.

With a session ID, only that session is printed.
With --candidate, the import status of a candidate digest is printed instead.`,
		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			sock := v.GetString("debug-socket")
			if sock == "" {
				return fmt.Errorf("--debug-socket is required")
			}
			c := agdebug.NewClient(sock)
			ctx := cmd.Context()

			var out any
			switch cand := v.GetString("candidate"); {
			case cand != "":
				var d agconsensus.Digest
				if err := d.UnmarshalText([]byte(cand)); err != nil {
					return fmt.Errorf("invalid candidate digest: %w", err)
				}
				cs, err := c.CandidateStatus(ctx, d)
				if err != nil {
					return err
				}
				out = cs

			case len(args) == 1:
				s, err := c.Session(ctx, agconsensus.SessionID(args[0]))
				if err != nil {
					return err
				}
				out = s

			default:
				ss, err := c.Sessions(ctx)
				if err != nil {
					return err
				}
				out = ss
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().String("debug-socket", "", "unix socket path of the node's debug API")
	cmd.Flags().String("candidate", "", "candidate digest to look up instead of sessions")

	return cmd
}
