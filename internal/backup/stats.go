package backup

import (
	"context"
	"encoding/json"
	"fmt"
)

// StatsResult is returned by Stats. Sizes come from restic's restore-size
// mode except RawDataSize, which is the deduplicated storage actually used.
type StatsResult struct {
	Result
	TotalSize      int64 `json:"total_size"`
	TotalFileCount int64 `json:"total_file_count"`
	SnapshotsCount int   `json:"snapshots_count"`
	RawDataSize    int64 `json:"raw_data_size"`

	DedupRatio    float64 `json:"dedup_ratio"`
	SpaceSaved    int64   `json:"space_saved"`
	SpaceSavedPct float64 `json:"space_saved_pct"`
}

// rawStats is the JSON printed by restic stats --json in any mode.
type rawStats struct {
	TotalSize      int64 `json:"total_size"`
	TotalFileCount int64 `json:"total_file_count"`
	SnapshotsCount int   `json:"snapshots_count"`
}

// Stats returns size statistics for the repository, including
// deduplication savings.
func (r *Restic) Stats(ctx context.Context, cfg ResticConfig) StatsResult {
	r.logger.Debug().Msg("getting repository stats")

	restore, err := r.statsMode(ctx, cfg, "restore-size")
	if err != nil {
		return StatsResult{Result: failed(err.Error())}
	}
	raw, err := r.statsMode(ctx, cfg, "raw-data")
	if err != nil {
		return StatsResult{Result: failed(err.Error())}
	}

	res := StatsResult{
		Result:         Result{OK: true, Message: "repository statistics retrieved"},
		TotalSize:      restore.TotalSize,
		TotalFileCount: restore.TotalFileCount,
		SnapshotsCount: restore.SnapshotsCount,
		RawDataSize:    raw.TotalSize,
	}
	res.DedupRatio, res.SpaceSaved, res.SpaceSavedPct = dedupSavings(raw.TotalSize, restore.TotalSize)
	return res
}

func (r *Restic) statsMode(ctx context.Context, cfg ResticConfig, mode string) (*rawStats, error) {
	output, err := r.run(ctx, cfg, []string{"stats", "--mode", mode, "--json"})
	if err != nil {
		return nil, err
	}

	var stats rawStats
	if err := json.Unmarshal(output, &stats); err != nil {
		return nil, fmt.Errorf("parse stats %s: %w", mode, err)
	}
	return &stats, nil
}

// dedupSavings compares the deduplicated size restic stores (raw) with the
// size a full restore would produce. All values are zero when nothing was
// saved or the repository is empty.
func dedupSavings(raw, restore int64) (ratio float64, saved int64, savedPct float64) {
	if raw > 0 {
		ratio = float64(restore) / float64(raw)
	}
	if restore > raw {
		saved = restore - raw
		savedPct = float64(saved) / float64(restore) * 100
	}
	return ratio, saved, savedPct
}
