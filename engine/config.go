package engine

import (
	"runtime"
	"time"
)

// Config mirrors the teacher's ExecutorConfig: every field has a sensible
// zero-value fallback applied by NewEngine, so a caller only sets what it
// wants to override.
type Config struct {
	// InstanceId identifies this scheduler instance in the fired-trigger
	// ledger and the scheduler-instance heartbeat. Required; NewEngine
	// returns an error if it is empty.
	InstanceId string

	// MaxConcurrentAcquisitions bounds how many fired triggers this engine
	// resolves and dispatches to a JobFactory at once. Defaults to
	// runtime.NumCPU(), the same default the teacher's MaxWorkers uses.
	MaxConcurrentAcquisitions int

	// AcquireBatchSize caps how many triggers a single AcquireNextTriggers
	// call claims. Defaults to 1, mirroring Quartz's conservative default;
	// the teacher's analogous MaxJobsPerSweep defaults to 100 because its
	// jobs are cheaper to claim speculatively.
	AcquireBatchSize int

	// AcquisitionTimeWindow extends "next-fire-time <= now" to "<= now +
	// window" so near-future triggers are claimed in the same sweep instead
	// of waiting for the next tick. Defaults to 0 (no extension).
	AcquisitionTimeWindow time.Duration

	// AcquireRateLimit bounds how often AcquireAndFire may poll for new
	// work, the engine analogue of the teacher's SweepInterval. Defaults to
	// once per second.
	AcquireRateLimit time.Duration

	// MisfireThreshold is how far past its next-fire-time a WAITING trigger
	// must fall before ScanMisfires treats it as misfired. Defaults to 60s,
	// Quartz's own default.
	MisfireThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentAcquisitions <= 0 {
		c.MaxConcurrentAcquisitions = runtime.NumCPU()
	}
	if c.AcquireBatchSize <= 0 {
		c.AcquireBatchSize = 1
	}
	if c.AcquireRateLimit <= 0 {
		c.AcquireRateLimit = 1 * time.Second
	}
	if c.MisfireThreshold <= 0 {
		c.MisfireThreshold = 60 * time.Second
	}
	return c
}
