package gascost

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownVersion is returned by ForVersion for a version with no table.
var ErrUnknownVersion = errors.New("unknown cost model version")

// Model is one immutable cost table.
type Model struct {
	version int
	costs   [numCategories]ResourceCost

	// Memory charged per callee frame and per argument slot.
	activationRecord uint64
	activationSlot   uint64
	// Memory charged per allocated object and per instance field.
	object uint64
	field  uint64
}

// Version is the model's version number.
func (m *Model) Version() int { return m.version }

// Cost is the static cost of one instruction of category c.
func (m *Model) Cost(c Category) ResourceCost {
	if c >= numCategories {
		return ResourceCost{}
	}
	return m.costs[c]
}

// Activation is the extra memory for a call passing slots argument slots,
// receiver included.
func (m *Model) Activation(slots int) ResourceCost {
	return ResourceCost{Memory: m.activationRecord}.Add(ResourceCost{Memory: m.activationSlot}.Scale(uint64(slots)))
}

// Object is the extra memory for allocating an object with fields instance
// fields.
func (m *Model) Object(fields int) ResourceCost {
	return ResourceCost{Memory: m.object}.Add(ResourceCost{Memory: m.field}.Scale(uint64(fields)))
}

var models = map[int]*Model{}

func register(m *Model) {
	if _, dup := models[m.version]; dup {
		panic(fmt.Sprintf("gascost: version %d registered twice", m.version))
	}
	models[m.version] = m
}

// ForVersion returns the model for version v.
func ForVersion(v int) (*Model, error) {
	m, ok := models[v]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, v)
	}
	return m, nil
}

// Latest returns the model with the highest version.
func Latest() *Model {
	vs := Versions()
	return models[vs[len(vs)-1]]
}

// Versions lists the known versions in increasing order.
func Versions() []int {
	out := make([]int, 0, len(models))
	for v := range models {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
