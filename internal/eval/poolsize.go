package eval

import (
	"runtime"

	"github.com/pbnjay/memory"
)

const (
	// MaxPoolSize caps the number of concurrent engine handles.
	MaxPoolSize = 8
	// engineOverheadMB is the resident size of an engine beyond its hash table.
	engineOverheadMB = 32
)

// PoolSize bounds a requested pool size (0 = auto) by the number of CPUs,
// MaxPoolSize, and a quarter of physical memory divided by the per-engine
// footprint for the given hash size.
func PoolSize(requested, hashMB int) int {
	n := runtime.NumCPU()
	if requested > 0 && requested < n {
		n = requested
	}
	if n > MaxPoolSize {
		n = MaxPoolSize
	}
	if total := memory.TotalMemory(); total > 0 && hashMB > 0 {
		perEngine := uint64(hashMB+engineOverheadMB) << 20
		if m := int(total / 4 / perEngine); m < n {
			n = m
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}
