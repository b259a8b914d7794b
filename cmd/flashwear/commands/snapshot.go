package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/internal/cli/timeutil"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Persist a snapshot now",
	Long: `Ask a running daemon to write a snapshot of the block table and
bad-block list to its snapshot store. Requires a token with the
snapshot:save scope.`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetClient(true)
	if err != nil {
		return err
	}

	res, err := client.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	out := cmd.OutOrStdout()
	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}
	if p.IsStructured() {
		return p.Print(res)
	}
	p.Success("Snapshot saved")
	return output.SimpleTable(out, [][2]string{
		{"Store", res.Store},
		{"Taken at", timeutil.FormatTime(res.TakenAt)},
	})
}
