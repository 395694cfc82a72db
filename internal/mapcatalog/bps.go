package mapcatalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// bpsCodec implements the "bps" dialect: two parallel base-36 run-length
// streams (pixel, rotation) expanded to flat length-width*height arrays and
// paired per cell; the canonical ID is looked up from the concatenated
// "pixel-rotation" string. Placeable and team runs are index-count pairs,
// base-36.
type bpsCodec struct{}

const bpsBase = 36

func (bpsCodec) Parse(raw rawMap, conv *pixel.Converter) (CanonicalMap, error) {
	total := raw.Width * raw.Height

	pixels, err := expandRawRuns(raw.Data, bpsBase, total)
	if err != nil {
		return CanonicalMap{}, fmt.Errorf("bps: data: %w", err)
	}
	rotations, err := expandRawRuns(raw.Rotation, bpsBase, total)
	if err != nil {
		return CanonicalMap{}, fmt.Errorf("bps: rotationData: %w", err)
	}
	if len(pixels) != len(rotations) {
		return CanonicalMap{}, fmt.Errorf("bps: data/rotationData length mismatch (%d vs %d)", len(pixels), len(rotations))
	}

	flat := make([]byte, len(pixels))
	for i := range pixels {
		key := fmt.Sprintf("%d-%d", pixels[i], rotations[i])
		flat[i] = conv.ToCanonicalString(pixel.DialectId("bps"), key)
	}
	data := collapseRuns(flat)

	var placeable [2][]BoolRun
	for i, p := range raw.Placeable {
		pr, err := parseBoolRuns(p, bpsBase)
		if err != nil {
			return CanonicalMap{}, fmt.Errorf("bps: placeableData[%d]: %w", i, err)
		}
		placeable[i] = pr
	}

	team, err := parseTeamRuns(raw.Team, bpsBase)
	if err != nil {
		return CanonicalMap{}, fmt.Errorf("bps: teamData: %w", err)
	}

	return CanonicalMap{
		Width:     raw.Width,
		Height:    raw.Height,
		Data:      data,
		Placeable: placeable,
		Team:      team,
		Scripts:   raw.Scripts,
	}, nil
}

func (bpsCodec) Encode(m CanonicalMap, conv *pixel.Converter) EncodedMap {
	var dataB, rotB strings.Builder
	for i, r := range m.Data {
		if i > 0 {
			dataB.WriteByte(':')
			rotB.WriteByte(':')
		}
		pixelVal, rotVal := canonicalToBpsPair(conv, r.ID)
		count := strconv.FormatInt(int64(r.Count), bpsBase)
		fmt.Fprintf(&dataB, "%s-%s", strconv.FormatInt(int64(pixelVal), bpsBase), count)
		fmt.Fprintf(&rotB, "%s-%s", strconv.FormatInt(int64(rotVal), bpsBase), count)
	}

	var placeable [2]string
	for i, p := range m.Placeable {
		placeable[i] = encodeBoolRuns(p, bpsBase)
	}
	team := encodeTeamRuns(m.Team, bpsBase)

	return EncodedMap{
		Width:     m.Width,
		Height:    m.Height,
		Data:      dataB.String(),
		Rotation:  rotB.String(),
		Placeable: placeable,
		Team:      team,
		Scripts:   m.Scripts,
	}
}

// canonicalToBpsPair resolves a canonical ID back to its bps dialect numeric
// pixel and rotation values, the inverse of the "pixel-rotation" key Parse
// builds via fmt.Sprintf. An ID with no bps mapping (the dialect's table is
// empty, or this canonical ID simply doesn't exist in bps) encodes as 0-0.
func canonicalToBpsPair(conv *pixel.Converter, canonical byte) (pixelVal, rotVal int) {
	key, ok := conv.FromCanonicalString(pixel.DialectId("bps"), canonical)
	if !ok {
		return 0, 0
	}
	p, rest, found := strings.Cut(key, "-")
	if !found {
		return 0, 0
	}
	pv, err1 := strconv.Atoi(p)
	rv, err2 := strconv.Atoi(rest)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return pv, rv
}

// expandRawRuns parses "val-count:val-count:..." runs (values left raw, not
// translated through the converter) and expands them into a flat array of
// length total.
func expandRawRuns(s string, base, total int) ([]int, error) {
	out := make([]int, 0, total)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ":") {
		v, count, err := splitIDCount(part, base)
		if err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			out = append(out, v)
		}
	}
	if len(out) != total {
		return nil, fmt.Errorf("runs cover %d cells, want %d", len(out), total)
	}
	return out, nil
}
