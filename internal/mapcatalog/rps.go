package mapcatalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// rpsCodec implements the "rps" dialect: colon-separated id-count runs with
// base-16 counts; placeable runs alternate boolean 0/1; team runs carry a
// team index, also base-16.
type rpsCodec struct{}

func (rpsCodec) Parse(raw rawMap, conv *pixel.Converter) (CanonicalMap, error) {
	data, err := parseIDCountRuns(raw.Data, 16, func(id int) byte {
		return conv.ToCanonicalNumeric(pixel.DialectId("rps"), byte(id))
	})
	if err != nil {
		return CanonicalMap{}, fmt.Errorf("rps: data: %w", err)
	}

	var placeable [2][]BoolRun
	for i, p := range raw.Placeable {
		pr, err := parseBoolRuns(p, 16)
		if err != nil {
			return CanonicalMap{}, fmt.Errorf("rps: placeableData[%d]: %w", i, err)
		}
		placeable[i] = pr
	}

	team, err := parseTeamRuns(raw.Team, 16)
	if err != nil {
		return CanonicalMap{}, fmt.Errorf("rps: teamData: %w", err)
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

func (rpsCodec) Encode(m CanonicalMap, conv *pixel.Converter) EncodedMap {
	var b strings.Builder
	for i, r := range m.Data {
		if i > 0 {
			b.WriteByte(':')
		}
		dialectID := conv.FromCanonicalNumeric(pixel.DialectId("rps"), r.ID)
		fmt.Fprintf(&b, "%s-%s", strconv.FormatInt(int64(dialectID), 16), strconv.FormatInt(int64(r.Count), 16))
	}

	var placeable [2]string
	for i, p := range m.Placeable {
		placeable[i] = encodeBoolRuns(p, 16)
	}

	team := encodeTeamRuns(m.Team, 16)

	return EncodedMap{
		Width:     m.Width,
		Height:    m.Height,
		Data:      b.String(),
		Placeable: placeable,
		Team:      team,
		Scripts:   m.Scripts,
	}
}

// --- shared run-length helpers, reused by rps/bps/psp with different bases ---

func parseIDCountRuns(s string, base int, toCanonical func(id int) byte) ([]Run, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	runs := make([]Run, 0, len(parts))
	for _, part := range parts {
		id, count, err := splitIDCount(part, base)
		if err != nil {
			return nil, err
		}
		runs = append(runs, Run{ID: toCanonical(id), Count: count})
	}
	return runs, nil
}

func splitIDCount(part string, base int) (id, count int, err error) {
	idx := strings.LastIndexByte(part, '-')
	if idx < 0 {
		return 0, 0, fmt.Errorf("malformed run %q", part)
	}
	id64, err := strconv.ParseInt(part[:idx], base, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad id in run %q: %w", part, err)
	}
	count64, err := strconv.ParseInt(part[idx+1:], base, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad count in run %q: %w", part, err)
	}
	return int(id64), int(count64), nil
}

func parseBoolRuns(s string, base int) ([]BoolRun, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	runs := make([]BoolRun, 0, len(parts))
	for _, part := range parts {
		v, count, err := splitIDCount(part, base)
		if err != nil {
			return nil, err
		}
		runs = append(runs, BoolRun{Value: v != 0, Count: count})
	}
	return runs, nil
}

func parseTeamRuns(s string, base int) ([]TeamRun, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	runs := make([]TeamRun, 0, len(parts))
	for _, part := range parts {
		t, count, err := splitIDCount(part, base)
		if err != nil {
			return nil, err
		}
		runs = append(runs, TeamRun{Team: t, Count: count})
	}
	return runs, nil
}

func encodeBoolRuns(runs []BoolRun, base int) string {
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteByte(':')
		}
		v := 0
		if r.Value {
			v = 1
		}
		fmt.Fprintf(&b, "%s-%s", strconv.FormatInt(int64(v), base), strconv.FormatInt(int64(r.Count), base))
	}
	return b.String()
}

func encodeTeamRuns(runs []TeamRun, base int) string {
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%s-%s", strconv.FormatInt(int64(r.Team), base), strconv.FormatInt(int64(r.Count), base))
	}
	return b.String()
}

// expandRuns flattens run-length id sequences into a flat per-cell slice.
func expandRuns(runs []Run, total int) []byte {
	out := make([]byte, 0, total)
	for _, r := range runs {
		for i := 0; i < r.Count; i++ {
			out = append(out, r.ID)
		}
	}
	return out
}

// collapseRuns groups a flat per-cell slice back into runs of equal value.
func collapseRuns(flat []byte) []Run {
	if len(flat) == 0 {
		return nil
	}
	runs := make([]Run, 0, len(flat))
	cur := flat[0]
	count := 1
	for _, v := range flat[1:] {
		if v == cur {
			count++
			continue
		}
		runs = append(runs, Run{ID: cur, Count: count})
		cur = v
		count = 1
	}
	runs = append(runs, Run{ID: cur, Count: count})
	return runs
}
