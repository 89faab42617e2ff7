// Package ir provides the canonical value model used for content
// addressing in moka.
//
// Cache keys, whitelist digests and report digests are all SHA-256 over
// RFC 8785 canonical JSON of a Value tree, with a domain prefix. ir imports
// nothing internal.
//
// Key design constraints:
//   - NO float types (costs, versions and offsets are integers)
//   - NO null: absent data is an absent key
//   - Strings are NFC normalised at serialisation time
package ir
