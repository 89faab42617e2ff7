// Package verifier checks the classes of an application module against the
// Takamaka rules before they may be installed.
//
// Checks are pure functions kept in two registries, one for methods and one
// for classes. A Verifier runs every rule in force at the requested
// verification version over every class of the module, collects all issues
// without stopping at the first, and sorts them into a fixed order so that
// two runs over identical input yield identical reports.
//
// Calls whose whitelisting proof obligations cannot be decided from the
// bytecode are not errors: they are returned as RuntimeChecks for the
// instrumentor to turn into checks executed at run time.
package verifier
