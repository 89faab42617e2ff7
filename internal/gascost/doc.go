// Package gascost is the versioned cost model of instrumented code.
//
// A Model maps every instruction Category to a three-dimensional
// ResourceCost (compute, memory, storage). Models are pure tables: they are
// built once at init, never mutated, and several versions coexist so that a
// historical transaction can be re-instrumented with the model that was
// active when it originated.
//
// The Instrumentor sums the costs of each basic block's instructions and
// emits one charge per nonzero dimension at the block's head.
package gascost
