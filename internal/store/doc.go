// Package store caches verification and instrumentation results.
//
// A result is addressed by the key of its run input (ir.RunInput.Key):
// SHA-256 over the canonical JSON of the options, the whitelist digest and
// the digests of every class. Equal keys mean byte-identical results, so an
// entry is written once and never updated.
//
// The store keeps:
//   - Runs: the mode, the error flag and the report JSON of a run
//   - Artifacts: the instrumented classes of a run, in module order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Reads go through an in-process LRU in front of SQLite.
package store
