package commands

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/internal/cli/timeutil"
	"github.com/marmos91/flashwear/pkg/runtime"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// BlockTable renders block records.
type BlockTable []wearlevel.FlashBlock

func (t BlockTable) Headers() []string {
	return []string{"ID", "STATE", "ERASES", "WRITES", "FREQ", "DATA", "LAST ACCESS"}
}

func (t BlockTable) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(t))
	for _, b := range t {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(b.ID), 10),
			b.State.String(),
			strconv.FormatUint(b.EraseCount, 10),
			strconv.FormatUint(b.WriteCount, 10),
			strconv.FormatFloat(b.WriteFrequency, 'f', 2, 64),
			yesNo(b.HoldsData),
			timeutil.FormatAge(b.LastAccess, now),
		})
	}
	return rows
}

// BadBlockTable renders bad-block records.
type BadBlockTable []wearlevel.BadBlockRecord

func (t BadBlockTable) Headers() []string {
	return []string{"BLOCK", "REASON", "DETECTED"}
}

func (t BadBlockTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(r.BlockID), 10),
			r.Reason,
			timeutil.FormatTime(r.DetectedAt),
		})
	}
	return rows
}

func statsPairs(st wearlevel.Stats) [][2]string {
	health := "ok"
	if st.Degraded {
		health = "DEGRADED"
	}
	return [][2]string{
		{"Health", health},
		{"Blocks", fmt.Sprintf("%d total, %d usable (floor %d)", st.Total, st.Usable, st.MinUsable)},
		{"States", fmt.Sprintf("free %d, allocated %d, static %d, moved %d, bad %d",
			st.Free, st.Allocated, st.Static, st.Moved, st.Bad)},
		{"Bad ratio", fmt.Sprintf("%.2f%%", st.BadRatio*100)},
		{"Erase counts", fmt.Sprintf("min %d, mean %.1f, max %d", st.MinEraseCount, st.MeanEraseCount, st.MaxEraseCount)},
		{"Last maintenance", timeutil.FormatTime(st.LastMaintenance)},
	}
}

func statusPairs(st *runtime.Status) [][2]string {
	pairs := [][2]string{
		{"Device", st.DeviceKind},
		{"Snapshot store", st.StoreType},
		{"Journal", enabledDisabled(st.JournalEnabled)},
		{"Last snapshot", timeutil.FormatTime(st.LastPersist)},
	}
	if st.Restore.FromSnapshot {
		pairs = append(pairs, [2]string{"Restored", fmt.Sprintf("snapshot of %s, %d journal records replayed",
			timeutil.FormatTime(st.Restore.SnapshotAt), st.Restore.Replayed)})
	}
	pairs = append(pairs, statsPairs(st.Stats)...)
	if st.LastRun != nil {
		pairs = append(pairs, [2]string{"Last run", st.LastRun.RunID})
	}
	return pairs
}

func runPairs(run *runtime.MaintenanceRun) [][2]string {
	pairs := [][2]string{
		{"Run", run.RunID},
		{"Duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()},
		{"Newly bad", strconv.Itoa(run.NewlyBad)},
		{"Rebalanced", fmt.Sprintf("%d (%d deferred)", run.Rebalanced, run.RebalanceDeferred)},
		{"Classified static", strconv.Itoa(run.Classified)},
		{"Relocated", fmt.Sprintf("%d (%d deferred)", run.Relocated, run.RelocationDeferred)},
		{"Completed phases", fmt.Sprint(run.Completed)},
	}
	if run.Canceled {
		pairs = append(pairs, [2]string{"Canceled", "yes"})
	}
	return pairs
}

// runErrorsTable lists per-phase failures of a run, or nil if there were none.
func runErrorsTable(run *runtime.MaintenanceRun) *output.TableData {
	if len(run.Errors) == 0 {
		return nil
	}
	t := output.NewTableData("PHASE", "ERROR")
	for _, phase := range slices.Sorted(maps.Keys(run.Errors)) {
		t.AddRow(phase, run.Errors[phase])
	}
	return t
}

// histogramBuckets labels wear buckets for output.PrintHistogram.
func histogramBuckets(buckets []wearlevel.WearBucket) []output.Bucket {
	out := make([]output.Bucket, 0, len(buckets))
	for _, b := range buckets {
		label := strconv.FormatUint(b.Min, 10)
		if b.Max != b.Min {
			label += "-" + strconv.FormatUint(b.Max, 10)
		}
		out = append(out, output.Bucket{Label: label, Count: b.Count})
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func enabledDisabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
