// Package pixel implements the tri-directional canonical/dialect pixel-ID
// conversion tables and the packed-grid translation codec.
package pixel

// Sentinel is the reserved "unknown/unmapped" canonical ID.
const Sentinel byte = 255

// DialectId is a short opaque dialect tag ("rps", "bps", "psp", ...).
// "standard" is reserved for the canonical form and is never a converter
// table key.
type DialectId string

const Standard DialectId = "standard"

// LookupRow is one row of the authoritative CSV lookup table: a canonical
// numeric ID plus its string ID in every configured dialect (and standard).
type LookupRow struct {
	Canonical byte
	StringIDs map[DialectId]string
}
