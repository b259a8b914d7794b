package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
)

var badBlocksCmd = &cobra.Command{
	Use:   "bad-blocks",
	Short: "List retired blocks",
	Long: `List every retired block of a running daemon with the reason and time
it was retired, ordered by block id.

Examples:
  flashwear bad-blocks
  flashwear bad-blocks -o yaml`,
	Args: cobra.NoArgs,
	RunE: runBadBlocks,
}

func runBadBlocks(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetClient(false)
	if err != nil {
		return err
	}

	recs, err := client.BadBlocks(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list bad blocks: %w", err)
	}

	out := cmd.OutOrStdout()
	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}
	if p.IsStructured() {
		return p.Print(recs)
	}
	if len(recs) == 0 {
		p.Println("No bad blocks.")
		return nil
	}
	return output.PrintTable(out, BadBlockTable(recs))
}
