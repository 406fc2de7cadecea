package types

import "time"

// WorkerResourceLimits bounds a single worker: an address-space limit applied
// inside the worker process and a per-call CPU-time budget enforced by the
// server. The wall-clock budget is derived as RealTimeFactor times the CPU
// budget.
type WorkerResourceLimits struct {
	MaxMemory                uint64  `json:"max_memory"`
	MaxCPUTimeSecondsPerCall float64 `json:"max_cpu_time_seconds_per_call"`
}

// RealTimeFactor is the multiplier between the CPU-time budget of a call and
// the wall-clock time a worker is allowed to hold it.
const RealTimeFactor = 3

// MaxCPUTimePerCall returns the CPU budget as a duration.
func (l WorkerResourceLimits) MaxCPUTimePerCall() time.Duration {
	return time.Duration(l.MaxCPUTimeSecondsPerCall * float64(time.Second))
}

// MaxRealTimePerCall returns the wall-clock budget as a duration.
func (l WorkerResourceLimits) MaxRealTimePerCall() time.Duration {
	return RealTimeFactor * l.MaxCPUTimePerCall()
}
