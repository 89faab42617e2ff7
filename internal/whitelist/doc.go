// Package whitelist holds the closed-world table of platform members that
// contract code may use, together with the shape of the platform type
// hierarchy those members live in.
//
// The table is a CUE document (table.cue) embedded in the binary. Load
// unifies it with schema.cue, validates it, and decodes it into an
// immutable Table. A member absent from the table may not be called or
// accessed. A present member may carry proof obligations over its receiver
// or arguments, which the verifier discharges statically or turns into
// runtime checks.
//
// Entries are versioned: an entry applies to verification version v when
// since <= v < until (until absent means open-ended).
package whitelist
