// Package mapcatalog parses dialect-specific map file encodings into a
// canonical run-length form and re-serializes that form into every
// supported dialect on demand.
package mapcatalog

import "github.com/spsquared/PixSim-API/internal/pixel"

// Run is a (canonicalId, count) pair — the unit of every run-length stream
// in this package.
type Run struct {
	ID    byte
	Count int
}

// BoolRun is a (value, count) pair used for placeable overlays.
type BoolRun struct {
	Value bool
	Count int
}

// TeamRun is a (teamIndex, count) pair used for team ownership grids.
type TeamRun struct {
	Team  int
	Count int
}

// CanonicalMap is the dialect-independent form every map is parsed into.
type CanonicalMap struct {
	Width, Height int
	Data          []Run
	Placeable     [2][]BoolRun
	Team          []TeamRun
	Scripts       map[string]string // event -> script path, copied verbatim
}

// EncodedMap is one dialect's re-serialization of a CanonicalMap, returned
// by Get and served over HTTP.
type EncodedMap struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Data      string            `json:"data"`
	Placeable [2]string         `json:"placeableData"`
	Team      string            `json:"teamData"`
	Rotation  string            `json:"rotationData,omitempty"`
	Scripts   map[string]string `json:"scripts"`
}

// dialectCodec parses a dialect's raw map text into a CanonicalMap and
// re-serializes a CanonicalMap back into that dialect's text.
type dialectCodec interface {
	Parse(raw rawMap, conv *pixel.Converter) (CanonicalMap, error)
	Encode(m CanonicalMap, conv *pixel.Converter) EncodedMap
}

// rawMap is the text record read from a map file before dialect-specific parsing.
type rawMap struct {
	Format        string
	Width, Height int
	Data          string
	Placeable     [2]string
	Team          string
	Rotation      string
	Scripts       map[string]string
}
