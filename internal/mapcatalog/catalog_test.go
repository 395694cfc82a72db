package mapcatalog

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

type fakeExtractor struct{ mapping map[string]int }

func (f *fakeExtractor) Ready() <-chan struct{} { ch := make(chan struct{}); close(ch); return ch }
func (f *fakeExtractor) Err() error             { return nil }
func (f *fakeExtractor) ExecuteMapping(string) (map[string]int, error) {
	return f.mapping, nil
}

// newIdentityConverter builds a pixel.Converter where canonical IDs 0/1/2
// (air/stone/water) round-trip as numeric 0/1/2 in rps and psp, and as the
// "pixel-rotation" strings "0-0"/"1-0"/"2-1" in bps.
func newIdentityConverter(t *testing.T) *pixel.Converter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookup.csv")
	content := "canonical,standard,rps,bps,psp\n" +
		"0,air,0,0-0,0\n" +
		"1,stone,1,1-0,1\n" +
		"2,water,2,2-1,2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write lookup csv: %v", err)
	}
	sources := []pixel.DialectSource{
		{ID: "rps", ExtractExpr: "x", Loader: &fakeExtractor{mapping: map[string]int{"0": 0, "1": 1, "2": 2}}},
		{ID: "bps", ExtractExpr: "x", Loader: &fakeExtractor{mapping: map[string]int{"0-0": 0, "1-0": 1, "2-1": 2}}},
		{ID: "psp", ExtractExpr: "x", Loader: &fakeExtractor{mapping: map[string]int{"0": 0, "1": 1, "2": 2}}},
	}
	conv, err := pixel.NewConverter(path, sources, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	<-conv.Ready()
	return conv
}

func TestRpsRoundTrip(t *testing.T) {
	conv := newIdentityConverter(t)
	raw := rawMap{Format: "rps", Width: 5, Height: 1, Data: "0-2:1-3"}
	m, err := rpsCodec{}.Parse(raw, conv)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Data) != 2 || m.Data[0].ID != 0 || m.Data[0].Count != 2 || m.Data[1].ID != 1 || m.Data[1].Count != 3 {
		t.Fatalf("unexpected parsed runs: %+v", m.Data)
	}

	enc := rpsCodec{}.Encode(m, conv)
	if enc.Data != "0-2:1-3" {
		t.Fatalf("expected round-trip encoding 0-2:1-3, got %q", enc.Data)
	}
}

func TestBpsPairLookupScenario(t *testing.T) {
	conv := newIdentityConverter(t)
	raw := rawMap{
		Format:   "bps",
		Width:    21,
		Height:   1,
		Data:     "1-a:2-b",
		Rotation: "0-a:1-b",
	}
	m, err := bpsCodec{}.Parse(raw, conv)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Data) != 2 {
		t.Fatalf("expected 2 collapsed runs, got %d: %+v", len(m.Data), m.Data)
	}
	if m.Data[0].ID != 1 || m.Data[0].Count != 10 {
		t.Fatalf("expected first run stone(1) x10, got %+v", m.Data[0])
	}
	if m.Data[1].ID != 2 || m.Data[1].Count != 11 {
		t.Fatalf("expected second run water(2) x11, got %+v", m.Data[1])
	}
}

func TestBpsEncodeReconstructsPixelAndRotation(t *testing.T) {
	conv := newIdentityConverter(t)
	raw := rawMap{
		Format:   "bps",
		Width:    21,
		Height:   1,
		Data:     "1-a:2-b",
		Rotation: "0-a:1-b",
	}
	m, err := bpsCodec{}.Parse(raw, conv)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	enc := bpsCodec{}.Encode(m, conv)
	if enc.Data != "1-a:2-b" {
		t.Fatalf("expected data 1-a:2-b, got %q", enc.Data)
	}
	if enc.Rotation != "0-a:1-b" {
		t.Fatalf("expected rotationData 0-a:1-b, got %q", enc.Rotation)
	}
}

func TestBpsDataRotationLengthMismatch(t *testing.T) {
	conv := newIdentityConverter(t)
	raw := rawMap{Format: "bps", Width: 21, Height: 1, Data: "1-a", Rotation: "0-5"}
	if _, err := (bpsCodec{}).Parse(raw, conv); err == nil {
		t.Fatalf("expected error for mismatched data/rotation lengths")
	}
}

func TestPspDiscardsBacktickSuffix(t *testing.T) {
	conv := newIdentityConverter(t)
	raw := rawMap{Format: "psp", Width: 8, Height: 1, Data: "1`extra~5|2~3"}
	m, err := pspCodec{}.Parse(raw, conv)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Data) != 2 || m.Data[0].ID != 1 || m.Data[0].Count != 5 || m.Data[1].ID != 2 || m.Data[1].Count != 3 {
		t.Fatalf("unexpected parsed runs: %+v", m.Data)
	}
}

func TestCatalogLoadListHasGet(t *testing.T) {
	conv := newIdentityConverter(t)
	dir := t.TempDir()
	modeDir := filepath.Join(dir, "deathmatch")
	if err := os.MkdirAll(modeDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mapContent := "format=rps\nwidth=5\nheight=1\ndata=0-2:1-3\nscript:onStart=scripts/start.pixasm\n"
	if err := os.WriteFile(filepath.Join(modeDir, "arena1.map"), []byte(mapContent), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	cat, err := Load(dir, conv, zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cat.Has("deathmatch", "arena1") {
		t.Fatalf("expected arena1 to be registered under deathmatch")
	}
	ids := cat.List("deathmatch")
	if len(ids) != 1 || ids[0] != "arena1" {
		t.Fatalf("expected List to return [arena1], got %v", ids)
	}

	enc := cat.Get("deathmatch", "arena1", "psp")
	if enc == nil {
		t.Fatalf("expected psp encoding to be available")
	}
	if enc.Width != 5 || enc.Height != 1 {
		t.Fatalf("expected dimensions preserved, got %dx%d", enc.Width, enc.Height)
	}
}

func TestCatalogLoadSkipsUnparsableMap(t *testing.T) {
	conv := newIdentityConverter(t)
	dir := t.TempDir()
	modeDir := filepath.Join(dir, "deathmatch")
	if err := os.MkdirAll(modeDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modeDir, "broken.map"), []byte("format=unknown-format\n"), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	cat, err := Load(dir, conv, zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Has("deathmatch", "broken") {
		t.Fatalf("expected unparsable map to be skipped, not registered")
	}
}
