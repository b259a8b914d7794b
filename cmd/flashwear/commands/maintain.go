package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/pkg/apiclient"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run a maintenance cycle now",
	Long: `Run one maintenance cycle on a running daemon and wait for its report.

A cycle scans for failing blocks, rebalances hot blocks, classifies idle
data as static and relocates worn static blocks. The daemon persists a
snapshot afterwards. Requires a token with the maintenance:run scope.

Examples:
  flashwear maintain
  flashwear maintain -o json`,
	Args: cobra.NoArgs,
	RunE: runMaintain,
}

func runMaintain(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetClient(true)
	if err != nil {
		return err
	}

	run, err := client.Maintain(cmd.Context())
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.IsConflict() {
		return errors.New("a maintenance cycle is already running, try again later")
	}
	if err != nil {
		return fmt.Errorf("maintenance failed: %w", err)
	}

	out := cmd.OutOrStdout()
	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}
	if p.IsStructured() {
		return p.Print(run)
	}
	if len(run.Errors) == 0 && !run.Canceled {
		p.Success("Maintenance completed")
	} else {
		p.Warning("Maintenance finished with errors")
	}
	if err := output.SimpleTable(out, runPairs(run)); err != nil {
		return err
	}
	if t := runErrorsTable(run); t != nil {
		p.Println()
		return output.PrintTable(out, t)
	}
	return nil
}
