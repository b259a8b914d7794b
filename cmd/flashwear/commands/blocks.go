package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/pkg/apiclient"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

var (
	blocksState  string
	blocksOffset int
	blocksLimit  int
)

var blocksCmd = &cobra.Command{
	Use:   "blocks [id]",
	Short: "List block records",
	Long: `List the block table of a running daemon, or show a single block.

Examples:
  # First 50 blocks
  flashwear blocks

  # Every static block
  flashwear blocks --state static --limit 0

  # One block as JSON
  flashwear blocks 42 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBlocks,
}

func init() {
	blocksCmd.Flags().StringVar(&blocksState, "state", "", "Only blocks in this state (free|allocated|static|moved|bad)")
	blocksCmd.Flags().IntVar(&blocksOffset, "offset", 0, "Skip this many matching blocks")
	blocksCmd.Flags().IntVar(&blocksLimit, "limit", 50, "Maximum blocks to show, 0 for all")
}

func runBlocks(cmd *cobra.Command, args []string) error {
	if blocksState != "" {
		if _, err := wearlevel.ParseState(blocksState); err != nil {
			return err
		}
	}

	client, err := cmdutil.GetClient(false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		b, err := client.GetBlock(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to get block %d: %w", id, err)
		}
		return cmdutil.PrintOutput(out, b, BlockTable{*b})
	}

	list, err := client.ListBlocks(cmd.Context(), apiclient.BlockFilter{
		State:  blocksState,
		Offset: blocksOffset,
		Limit:  blocksLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list blocks: %w", err)
	}

	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}
	if p.IsStructured() {
		return p.Print(list)
	}
	if len(list.Blocks) == 0 {
		p.Println("No blocks match.")
		return nil
	}
	if err := output.PrintTable(out, BlockTable(list.Blocks)); err != nil {
		return err
	}
	if shown := list.Offset + len(list.Blocks); shown < list.Total {
		p.Printf("\nShowing %d-%d of %d. Use --offset %d for more.\n", list.Offset, shown-1, list.Total, shown)
	}
	return nil
}

func parseBlockID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid block id %q", s)
	}
	return uint32(id), nil
}
