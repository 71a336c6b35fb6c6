package gagreecmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gordian-engine/gagree/ag/agcodec/agjson"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agjustify"
	"github.com/gordian-engine/gagree/ag/agregistry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newVerifyJustificationCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-justification JUSTIFICATION_FILE",
		Short: "Check a justification against a validator set",
		Long: `Check a JSON justification against a validator set.

The validators file holds one validator set in the same form as the config file's validators.default.
With --candidate, the justification must also be a Commit quorum for that candidate.`,
		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			sid := agconsensus.SessionID(v.GetString("session"))
			if sid == "" {
				return fmt.Errorf("--session is required")
			}

			vsPath := v.GetString("validators-file")
			if vsPath == "" {
				return fmt.Errorf("--validators-file is required")
			}
			vb, err := os.ReadFile(vsPath)
			if err != nil {
				return fmt.Errorf("failed to read validators file: %w", err)
			}
			var sc agregistry.SetConfig
			if err := json.Unmarshal(vb, &sc); err != nil {
				return fmt.Errorf("failed to parse validators file: %w", err)
			}
			vs, err := agregistry.Build(newCryptoRegistry(), sc)
			if err != nil {
				return fmt.Errorf("invalid validator set: %w", err)
			}

			codec := agjson.Codec{}

			jb, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read justification: %w", err)
			}
			var j agconsensus.Justification
			if err := codec.UnmarshalJustification(jb, &j); err != nil {
				return fmt.Errorf("failed to parse justification: %w", err)
			}

			if candPath := v.GetString("candidate"); candPath != "" {
				cb, err := os.ReadFile(candPath)
				if err != nil {
					return fmt.Errorf("failed to read candidate: %w", err)
				}
				var c agconsensus.Candidate
				if err := codec.UnmarshalCandidate(cb, &c); err != nil {
					return fmt.Errorf("failed to parse candidate: %w", err)
				}

				if _, err := agjustify.CheckCandidate(sid, vs, c, j); err != nil {
					return err
				}
			} else if err := agjustify.Verify(sid, vs, j); err != nil {
				return err
			}

			_, err = fmt.Fprintf(
				cmd.OutOrStdout(),
				"OK: %s quorum for %s in round %d with %d signatures\n",
				j.Kind, j.Digest, j.Round, len(j.Signatures),
			)
			return err
		},
	}

	cmd.Flags().String("session", "", "session ID the justification was produced in")
	cmd.Flags().String("validators-file", "", "JSON validator set")
	cmd.Flags().String("candidate", "", "JSON candidate the justification must finalize")

	return cmd
}
