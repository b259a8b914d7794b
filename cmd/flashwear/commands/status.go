package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/pkg/apiclient"
	"github.com/marmos91/flashwear/pkg/runtime"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

var (
	statusWear    bool
	statusBuckets int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and engine status",
	Long: `Show the state of a running flashwear daemon: block counts per state,
bad-block ratio, erase count spread and the last maintenance run.

Examples:
  # Status of the local daemon
  flashwear status

  # Include an erase count histogram
  flashwear status --wear

  # Machine readable
  flashwear status -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWear, "wear", false, "Print an erase count histogram of the good blocks")
	statusCmd.Flags().IntVar(&statusBuckets, "buckets", 10, "Histogram buckets")
}

// statusView is the structured output of 'status --wear'.
type statusView struct {
	*runtime.Status
	Wear []wearlevel.WearBucket `json:"wear,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetClient(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	view := statusView{Status: st}
	if statusWear {
		list, err := client.ListBlocks(ctx, apiclient.BlockFilter{})
		if err != nil {
			return fmt.Errorf("failed to list blocks: %w", err)
		}
		view.Wear = wearlevel.EraseHistogram(list.Blocks, statusBuckets)
	}

	out := cmd.OutOrStdout()
	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}
	if p.IsStructured() {
		return p.Print(view)
	}

	if err := output.SimpleTable(out, statusPairs(st)); err != nil {
		return err
	}
	if st.Stats.Degraded {
		p.Warning(fmt.Sprintf("Bad-block ratio %.2f%% exceeds the policy limit", st.Stats.BadRatio*100))
	}
	if statusWear {
		p.Println()
		p.Println("Erase count distribution:")
		return output.PrintHistogram(out, histogramBuckets(view.Wear), 40)
	}
	return nil
}
