package mapcatalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// pspCodec implements the "psp" dialect: pipe-separated "id~count" records,
// base-36, where id may carry an appended backtick-prefixed suffix that is
// discarded. No placeable or team grid exists in this dialect.
type pspCodec struct{}

const pspBase = 36

func (pspCodec) Parse(raw rawMap, conv *pixel.Converter) (CanonicalMap, error) {
	if raw.Data == "" {
		return CanonicalMap{Width: raw.Width, Height: raw.Height, Scripts: raw.Scripts}, nil
	}
	parts := strings.Split(raw.Data, "|")
	runs := make([]Run, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.LastIndexByte(part, '~')
		if idx < 0 {
			return CanonicalMap{}, fmt.Errorf("psp: malformed record %q", part)
		}
		idField := part[:idx]
		if suffix := strings.IndexByte(idField, '`'); suffix >= 0 {
			idField = idField[:suffix]
		}
		id, err := strconv.ParseInt(idField, pspBase, 32)
		if err != nil {
			return CanonicalMap{}, fmt.Errorf("psp: bad id in %q: %w", part, err)
		}
		count, err := strconv.ParseInt(part[idx+1:], pspBase, 32)
		if err != nil {
			return CanonicalMap{}, fmt.Errorf("psp: bad count in %q: %w", part, err)
		}
		canonical := conv.ToCanonicalNumeric(pixel.DialectId("psp"), byte(id))
		runs = append(runs, Run{ID: canonical, Count: int(count)})
	}

	return CanonicalMap{
		Width:   raw.Width,
		Height:  raw.Height,
		Data:    runs,
		Scripts: raw.Scripts,
	}, nil
}

func (pspCodec) Encode(m CanonicalMap, conv *pixel.Converter) EncodedMap {
	var b strings.Builder
	for i, r := range m.Data {
		if i > 0 {
			b.WriteByte('|')
		}
		dialectID := conv.FromCanonicalNumeric(pixel.DialectId("psp"), r.ID)
		fmt.Fprintf(&b, "%s~%s", strconv.FormatInt(int64(dialectID), pspBase), strconv.FormatInt(int64(r.Count), pspBase))
	}
	return EncodedMap{
		Width:   m.Width,
		Height:  m.Height,
		Data:    b.String(),
		Scripts: m.Scripts,
	}
}
