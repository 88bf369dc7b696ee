package config

import (
	"fmt"
	"runtime"

	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
)

// Validate checks cfg for inconsistent values and fills in any
// worker-count fields left at their zero-value "auto" sentinel. It is
// called by LoadKDL after decode, following the teacher's
// ValidateAndSetDefaults pattern of validate-then-default per
// sub-struct.
func (cfg *Config) Validate() error {
	v := &validator{}

	if err := v.validateIndex(&cfg.Index); err != nil {
		return mftindexerrors.NewConfigError("index", "", err)
	}
	if err := v.validateMonitor(&cfg.Monitor); err != nil {
		return mftindexerrors.NewConfigError("monitor", "", err)
	}
	if err := v.validateQuery(&cfg.Query); err != nil {
		return mftindexerrors.NewConfigError("query", "", err)
	}

	v.setSmartDefaults(cfg)
	return nil
}

type validator struct{}

func (v *validator) validateIndex(idx *IndexConfig) error {
	if idx.SpillHighWaterMB < 0 {
		return fmt.Errorf("index.spill_high_water_mb must be >= 0, got %d", idx.SpillHighWaterMB)
	}
	if idx.BatchSize < 0 {
		return fmt.Errorf("index.batch_size must be >= 0, got %d", idx.BatchSize)
	}
	return nil
}

func (v *validator) validateMonitor(mon *MonitorConfig) error {
	if mon.CompactionRecordThreshold < 0 {
		return fmt.Errorf("monitor.compaction_record_threshold must be >= 0, got %d", mon.CompactionRecordThreshold)
	}
	if mon.CompactionBytesThreshold < 0 {
		return fmt.Errorf("monitor.compaction_bytes_threshold must be >= 0, got %d", mon.CompactionBytesThreshold)
	}
	return nil
}

func (v *validator) validateQuery(q *QueryConfig) error {
	if q.DefaultLimit <= 0 {
		return fmt.Errorf("query.default_limit must be > 0, got %d", q.DefaultLimit)
	}
	if q.MaxLimit < q.DefaultLimit {
		return fmt.Errorf("query.max_limit (%d) must be >= query.default_limit (%d)", q.MaxLimit, q.DefaultLimit)
	}
	if q.CandidateMultiplier <= 0 {
		return fmt.Errorf("query.candidate_multiplier must be > 0, got %d", q.CandidateMultiplier)
	}
	if q.PerDriveTimeoutMs <= 0 {
		return fmt.Errorf("query.per_drive_timeout_ms must be > 0, got %d", q.PerDriveTimeoutMs)
	}
	return nil
}

// setSmartDefaults fills the 0 = "auto" worker-count sentinels using
// the host's logical CPU count, the same auto-sizing rule the teacher
// applies to its parse-worker pool.
func (v *validator) setSmartDefaults(cfg *Config) {
	if cfg.Performance.ScanWorkers <= 0 {
		cfg.Performance.ScanWorkers = runtime.NumCPU()
	}
	if cfg.Performance.QueryWorkers <= 0 {
		cfg.Performance.QueryWorkers = runtime.NumCPU()
	}
}
