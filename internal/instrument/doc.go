// Package instrument rewrites verified classes so that they can run on the
// node.
//
// Every basic block is preceded by a charge of its static cost on the
// Runtime. Entry code receives two trailing parameters, the calling
// contract and a Dummy marker, and a prologue that binds the caller and
// moves the paid amount before the original body runs. Calls to entry code
// pass the extra arguments, and calls whose whitelisting obligations the
// verifier left undecided are preceded by checks executed at run time.
//
// The rewrite is a pure function of the class bytes, the verification
// result and the cost model: constants are appended to the pool in a fixed
// order and no map is iterated while code is emitted.
package instrument
