package pixel

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Extractor is the subset of scripting.Loader the converter's build phase
// depends on, so tests can supply a fake without a real Lua VM or network.
type Extractor interface {
	Ready() <-chan struct{}
	Err() error
	ExecuteMapping(expression string) (map[string]int, error)
}

// DialectSource configures one dialect's extraction script.
type DialectSource struct {
	ID          DialectId
	ExtractExpr string
	Loader      Extractor
}

// table holds one dialect's numeric and string conversion arrays, built once
// and read-only for the lifetime of the converter.
type table struct {
	fromNumeric [256]byte // dialect numeric -> canonical
	toNumeric   [256]byte // canonical -> dialect numeric
	fromString  map[string]byte
	toString    map[byte]string
}

func newTable() *table {
	t := &table{
		fromString: make(map[string]byte),
		toString:   make(map[byte]string),
	}
	for i := range t.fromNumeric {
		t.fromNumeric[i] = Sentinel
		t.toNumeric[i] = Sentinel
	}
	return t
}

// Converter builds and serves canonical<->dialect pixel ID translation.
// Tables are immutable after Ready(); concurrent readers need no locking.
type Converter struct {
	log    *zap.Logger
	tables map[DialectId]*table

	ready   chan struct{}
	readyMu sync.Once

	standardByName map[string]byte
	standardByID   map[byte]string
}

// NewConverter builds conversion tables for every dialect in sources from the
// lookup file at lookupPath. It blocks until every dialect's Loader reports
// Ready (or fails). Returns an error only for conditions that make the
// converter entirely unusable (unreadable lookup file); a single dialect's
// extraction failure is logged and that dialect's table is left empty,
// matching the "treat an unsupported dialect's table as empty" decision.
func NewConverter(lookupPath string, sources []DialectSource, log *zap.Logger) (*Converter, error) {
	rows, err := readLookupTable(lookupPath)
	if err != nil {
		return nil, fmt.Errorf("pixel: read lookup table: %w", err)
	}

	c := &Converter{
		log:            log,
		tables:         make(map[DialectId]*table, len(sources)),
		ready:          make(chan struct{}),
		standardByName: make(map[string]byte, len(rows)),
		standardByID:   make(map[byte]string, len(rows)),
	}
	for _, row := range rows {
		if name, ok := row.StringIDs[Standard]; ok {
			c.standardByName[name] = row.Canonical
			c.standardByID[row.Canonical] = name
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, src := range sources {
		wg.Add(1)
		go func(src DialectSource) {
			defer wg.Done()
			t := c.buildDialect(src, rows)
			mu.Lock()
			c.tables[src.ID] = t
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	close(c.ready)
	return c, nil
}

func (c *Converter) buildDialect(src DialectSource, rows []LookupRow) *table {
	t := newTable()
	<-src.Loader.Ready()
	if err := src.Loader.Err(); err != nil {
		c.log.Warn("dialect extraction skipped: loader not ready", zap.String("dialect", string(src.ID)), zap.Error(err))
		return t
	}
	mapping, err := src.Loader.ExecuteMapping(src.ExtractExpr)
	if err != nil {
		c.log.Warn("dialect extraction failed", zap.String("dialect", string(src.ID)), zap.Error(err))
		return t
	}
	for _, row := range rows {
		strID, ok := row.StringIDs[src.ID]
		if !ok {
			continue
		}
		numeric, ok := mapping[strID]
		if !ok || numeric < 0 || numeric > 255 {
			continue
		}
		n := byte(numeric)
		t.fromNumeric[n] = row.Canonical
		t.toNumeric[row.Canonical] = n
		t.fromString[strID] = row.Canonical
		t.toString[row.Canonical] = strID
	}
	return t
}

// Ready closes once every configured dialect has finished building (success
// or failure — a failed dialect simply has an empty table).
func (c *Converter) Ready() <-chan struct{} {
	return c.ready
}

// ConvertSingle translates one canonical-or-dialect byte between two
// dialects. Allocation-free: constant-time array indexing only.
func (c *Converter) ConvertSingle(n byte, from, to DialectId) byte {
	if from == to {
		return n
	}
	ft, ok := c.tables[from]
	if !ok {
		return Sentinel
	}
	tt, ok := c.tables[to]
	if !ok {
		return Sentinel
	}
	canonical := ft.fromNumeric[n]
	if canonical == Sentinel {
		return Sentinel
	}
	return tt.toNumeric[canonical]
}

// ToCanonicalNumeric maps one dialect's numeric pixel ID to the canonical ID,
// or Sentinel if the dialect is unknown or the ID is unmapped.
func (c *Converter) ToCanonicalNumeric(d DialectId, n byte) byte {
	t, ok := c.tables[d]
	if !ok {
		return Sentinel
	}
	return t.fromNumeric[n]
}

// FromCanonicalNumeric maps a canonical ID to one dialect's numeric pixel ID.
func (c *Converter) FromCanonicalNumeric(d DialectId, canonical byte) byte {
	t, ok := c.tables[d]
	if !ok {
		return Sentinel
	}
	return t.toNumeric[canonical]
}

// ToCanonicalString maps one dialect's string pixel ID to the canonical ID.
func (c *Converter) ToCanonicalString(d DialectId, s string) byte {
	t, ok := c.tables[d]
	if !ok {
		return Sentinel
	}
	canonical, ok := t.fromString[s]
	if !ok {
		return Sentinel
	}
	return canonical
}

// DialectStringForStandardName resolves a pixel literal written against the
// standard-column name (e.g. "stone") to its string ID in dialect d. Returns
// ("", false) if the name is unknown or d has no mapping for it.
func (c *Converter) DialectStringForStandardName(d DialectId, name string) (string, bool) {
	canonical, ok := c.standardByName[name]
	if !ok {
		return "", false
	}
	t, ok := c.tables[d]
	if !ok {
		return "", false
	}
	str, ok := t.toString[canonical]
	return str, ok
}

// FromCanonicalString maps a canonical ID to one dialect's string pixel ID,
// the inverse of ToCanonicalString. Returns ("", false) if the dialect is
// unknown or has no string mapped to that canonical ID.
func (c *Converter) FromCanonicalString(d DialectId, canonical byte) (string, bool) {
	t, ok := c.tables[d]
	if !ok {
		return "", false
	}
	str, ok := t.toString[canonical]
	return str, ok
}

// ConvertStr translates one string pixel ID between two dialects, returning
// "null" on any failure.
func (c *Converter) ConvertStr(id string, from, to DialectId) string {
	if from == to {
		return id
	}
	ft, ok := c.tables[from]
	if !ok {
		return "null"
	}
	tt, ok := c.tables[to]
	if !ok {
		return "null"
	}
	canonical, ok := ft.fromString[id]
	if !ok {
		return "null"
	}
	str, ok := tt.toString[canonical]
	if !ok {
		return "null"
	}
	return str
}

// Formats returns every loaded dialect id, excluding "standard".
func (c *Converter) Formats() []DialectId {
	out := make([]DialectId, 0, len(c.tables))
	for id := range c.tables {
		out = append(out, id)
	}
	return out
}

func readLookupTable(path string) ([]LookupRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("lookup table header must have at least 2 columns")
	}
	columns := header[1:]

	var rows []LookupRow
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		if len(rec) < 1 {
			continue
		}
		var canonical int
		if _, err := fmt.Sscanf(rec[0], "%d", &canonical); err != nil {
			continue
		}
		row := LookupRow{Canonical: byte(canonical), StringIDs: make(map[DialectId]string)}
		for i, col := range columns {
			if i+1 < len(rec) {
				row.StringIDs[DialectId(col)] = rec[i+1]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
