package gascost

import (
	"fmt"
	"math"
)

// ResourceCost is an amount of compute, memory and storage gas.
type ResourceCost struct {
	Compute uint64 `json:"compute"`
	Memory  uint64 `json:"memory"`
	Storage uint64 `json:"storage"`
}

// Add returns the component-wise sum of c and o. Each component saturates
// at math.MaxUint64 instead of wrapping, so a sum never decreases.
func (c ResourceCost) Add(o ResourceCost) ResourceCost {
	return ResourceCost{
		Compute: addSat(c.Compute, o.Compute),
		Memory:  addSat(c.Memory, o.Memory),
		Storage: addSat(c.Storage, o.Storage),
	}
}

// Scale multiplies every component by n, saturating.
func (c ResourceCost) Scale(n uint64) ResourceCost {
	return ResourceCost{
		Compute: mulSat(c.Compute, n),
		Memory:  mulSat(c.Memory, n),
		Storage: mulSat(c.Storage, n),
	}
}

// IsZero reports whether all components are zero.
func (c ResourceCost) IsZero() bool {
	return c == ResourceCost{}
}

func (c ResourceCost) String() string {
	return fmt.Sprintf("(compute=%d memory=%d storage=%d)", c.Compute, c.Memory, c.Storage)
}

func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func mulSat(a, n uint64) uint64 {
	if a != 0 && n > math.MaxUint64/a {
		return math.MaxUint64
	}
	return a * n
}
