package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/internal/simulate"
)

var simCfg = simulate.DefaultConfig()

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an offline wear-leveling simulation",
	Long: `Drive an in-memory device with a synthetic hot/cold write workload and
report the resulting wear distribution. No daemon is needed.

Cold pages are written once up front and left to age into static blocks.
Every later write goes to a hot page with probability --hot-ratio.

Examples:
  # Default 90/10 workload on 256 blocks
  flashwear simulate

  # Worn device with a low endurance limit
  flashwear simulate --endurance 200 --writes 100000

  # Disable static relocation to see its effect
  flashwear simulate --relocate-threshold 0 -o json`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simCfg.Blocks, "blocks", simCfg.Blocks, "Number of blocks on the simulated device")
	f.IntVar(&simCfg.BlockSize, "block-size", simCfg.BlockSize, "Block size in bytes")
	f.IntVar(&simCfg.Writes, "writes", simCfg.Writes, "Page writes to issue")
	f.IntVar(&simCfg.HotPages, "hot-pages", simCfg.HotPages, "Frequently rewritten pages")
	f.IntVar(&simCfg.ColdPages, "cold-pages", simCfg.ColdPages, "Pages written once")
	f.Float64Var(&simCfg.HotRatio, "hot-ratio", simCfg.HotRatio, "Share of writes going to hot pages")
	f.IntVar(&simCfg.MaintainEvery, "maintain-every", simCfg.MaintainEvery, "Run maintenance after this many writes, 0 to disable")
	f.DurationVar(&simCfg.Tick, "tick", simCfg.Tick, "Simulated time per write")
	f.Uint64Var(&simCfg.Endurance, "endurance", simCfg.Endurance, "Erases after which the device fails a block, 0 for unlimited")
	f.Uint64Var(&simCfg.Seed, "seed", simCfg.Seed, "Random seed")
	f.IntVar(&simCfg.Buckets, "buckets", simCfg.Buckets, "Histogram buckets")
	f.Uint64Var(&simCfg.Policy.MaxEraseCount, "max-erases", simCfg.Policy.MaxEraseCount, "Policy erase limit, 0 for none")
	f.DurationVar(&simCfg.Policy.StaticIdleThreshold, "idle", simCfg.Policy.StaticIdleThreshold, "Idle time before data is classified static")
	f.Uint64Var(&simCfg.Policy.RelocateErasesThreshold, "relocate-threshold", simCfg.Policy.RelocateErasesThreshold, "Erase count above which static data is relocated")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := simulate.Run(cmd.Context(), simCfg)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	if p.IsStructured() {
		return p.Print(res)
	}

	if res.Exhausted {
		p.Warning("Device ran out of usable blocks before the workload finished")
	}

	pairs := [][2]string{
		{"Writes", strconv.Itoa(res.Writes)},
		{"Simulated time", (time.Duration(res.SimulatedTime) * time.Second).String()},
		{"Maintenance runs", strconv.Itoa(res.MaintenanceRuns)},
		{"Classified", strconv.Itoa(res.Classified)},
		{"Rebalanced", strconv.Itoa(res.Rebalanced)},
		{"Relocated", strconv.Itoa(res.Relocated)},
		{"Device failures", strconv.Itoa(res.DeviceFailures)},
		{"Device erases", strconv.FormatUint(res.Device.Erases, 10)},
		{"Device programs", strconv.FormatUint(res.Device.Programs, 10)},
	}
	pairs = append(pairs, statsPairs(res.Stats)...)
	pairs = append(pairs, [2]string{"Elapsed", time.Since(start).Round(time.Millisecond).String()})
	if err := output.SimpleTable(out, pairs); err != nil {
		return err
	}

	if len(res.Wear) > 0 {
		p.Println("\nErase count distribution:")
		return output.PrintHistogram(out, histogramBuckets(res.Wear), 40)
	}
	return nil
}
