package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/prompt"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

var (
	markBadReason string
	markBadForce  bool
)

var markBadCmd = &cobra.Command{
	Use:   "mark-bad <id>",
	Short: "Retire a block",
	Long: `Retire a block on a running daemon, e.g. after an uncorrectable ECC
error. Retirement is permanent. Requires a token with the blocks:mark-bad
scope.

Examples:
  flashwear mark-bad 17 --reason "uncorrectable ecc"
  flashwear mark-bad 17 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runMarkBad,
}

func init() {
	markBadCmd.Flags().StringVar(&markBadReason, "reason", "", "Reason recorded with the block")
	markBadCmd.Flags().BoolVarP(&markBadForce, "force", "f", false, "Skip the confirmation prompt")
}

func runMarkBad(cmd *cobra.Command, args []string) error {
	id, err := parseBlockID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetClient(true)
	if err != nil {
		return err
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Permanently retire block %d", id), markBadForce)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}

	res, err := client.MarkBad(cmd.Context(), id, markBadReason)
	if err != nil {
		return fmt.Errorf("failed to mark block %d bad: %w", id, err)
	}

	out := cmd.OutOrStdout()
	if res.Marked {
		cmdutil.PrintSuccess(out, fmt.Sprintf("Block %d retired", id))
	} else {
		cmdutil.PrintWarning(out, fmt.Sprintf("Block %d was already bad", id))
	}
	return cmdutil.PrintOutput(out, res, BadBlockTable([]wearlevel.BadBlockRecord{res.Record}))
}
