package concurrency

import (
	"context"
	goruntime "runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// DetectTopology reads the host core layout. Lookup failures degrade to
// runtime.NumCPU with unknown performance cores.
func DetectTopology(ctx context.Context) Topology {
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil || logical < 1 {
		logical = goruntime.NumCPU()
	}
	return Topology{
		PerformanceCores: performanceCoreCount(),
		LogicalCores:     logical,
	}
}

// DefaultMemoryPressurePercent is the used-memory share treated as pressure.
const DefaultMemoryPressurePercent = 90.0

// MemoryPressure reports whether used system memory is at or above
// thresholdPercent. Lookup failures report no pressure.
func MemoryPressure(ctx context.Context, thresholdPercent float64) bool {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultMemoryPressurePercent
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return false
	}
	return vm.UsedPercent >= thresholdPercent
}
