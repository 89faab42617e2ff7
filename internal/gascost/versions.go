package gascost

func init() {
	register(v0())
	register(v1())
}

// v0 charges one unit of compute for every instruction and memory only
// for frames and objects.
func v0() *Model {
	m := &Model{version: 0, activationRecord: 10, activationSlot: 1, object: 8, field: 4}
	for c := range m.costs {
		m.costs[c] = ResourceCost{Compute: 1}
	}
	m.costs[StorageWrite] = ResourceCost{Compute: 1, Storage: 1}
	return m
}

// v1 distinguishes instruction kinds.
func v1() *Model {
	m := &Model{version: 1, activationRecord: 10, activationSlot: 1, object: 8, field: 4}
	for c := range m.costs {
		m.costs[c] = ResourceCost{Compute: 1}
	}
	m.costs[Nop] = ResourceCost{}
	m.costs[Arithmetic] = ResourceCost{Compute: 2}
	m.costs[Conversion] = ResourceCost{Compute: 2}
	m.costs[Comparison] = ResourceCost{Compute: 2}
	m.costs[ArrayRead] = ResourceCost{Compute: 3}
	m.costs[ArrayWrite] = ResourceCost{Compute: 3}
	m.costs[ArrayLength] = ResourceCost{Compute: 2}
	m.costs[FieldRead] = ResourceCost{Compute: 3}
	m.costs[FieldWrite] = ResourceCost{Compute: 3}
	m.costs[StaticRead] = ResourceCost{Compute: 3}
	m.costs[StaticWrite] = ResourceCost{Compute: 3}
	m.costs[Switch] = ResourceCost{Compute: 4}
	m.costs[Invoke] = ResourceCost{Compute: 5}
	m.costs[InvokeDynamic] = ResourceCost{Compute: 8, Memory: 8}
	m.costs[NewObject] = ResourceCost{Compute: 10}
	m.costs[NewArray] = ResourceCost{Compute: 10, Memory: 8}
	m.costs[TypeCheck] = ResourceCost{Compute: 2}
	m.costs[Throw] = ResourceCost{Compute: 5}
	m.costs[Monitor] = ResourceCost{Compute: 5}
	m.costs[StorageWrite] = ResourceCost{Compute: 3, Storage: 4}
	return m
}
