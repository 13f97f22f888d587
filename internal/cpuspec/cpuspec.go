package cpuspec

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName      string
	PhysicalCores  int
	LogicalCores   int
	ThreadsPerCore int
}

// GetCPUSpec returns the detected CPU specification
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:      cpuid.CPU.BrandName,
		PhysicalCores:  cpuid.CPU.PhysicalCores,
		LogicalCores:   cpuid.CPU.LogicalCores,
		ThreadsPerCore: cpuid.CPU.ThreadsPerCore,
	}
}

// GetOptimalThreadCount returns the recommended number of concurrent job
// batches: physical cores when known, capped at runtime.NumCPU.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()

	n := c.PhysicalCores
	if n <= 0 {
		n = c.LogicalCores
	}
	if n <= 0 || n > available {
		n = available
	}
	return max(n, 1)
}
