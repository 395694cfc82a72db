package pixel

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
)

func TestConvertGridTranslatesPixelBytesOnly(t *testing.T) {
	path := writeLookupCSV(t, t.TempDir())
	sources := []DialectSource{
		{ID: "rps", ExtractExpr: "x", Loader: newFakeExtractor(map[string]int{
			"air_tile": 0, "stone_tile": 1, "water_tile": 2,
		}, nil)},
		{ID: "bps", ExtractExpr: "x", Loader: newFakeExtractor(map[string]int{
			"0": 0, "1": 1, "2": 2,
		}, nil)},
	}
	conv, err := NewConverter(path, sources, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	<-conv.Ready()

	// header 0b11000000: cells 0,1 are pixel-only; remaining 6 bits clear but
	// no more cells present in this short frame.
	grid := []byte{0b11000000, 1, 2}
	got := conv.ConvertGrid(grid, "rps", "bps")
	want := []byte{0b11000000, 1, 2}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// header 0: every cell carries an extra untouched byte.
	grid2 := []byte{0b00000000, 1, 99, 2, 99}
	got2 := conv.ConvertGrid(grid2, "rps", "bps")
	want2 := []byte{0b00000000, 1, 99, 2, 99}
	if !bytes.Equal(got2, want2) {
		t.Fatalf("expected %v, got %v", want2, got2)
	}
}

func TestConvertGridSameDialectIsIdentity(t *testing.T) {
	path := writeLookupCSV(t, t.TempDir())
	sources := []DialectSource{
		{ID: "rps", ExtractExpr: "x", Loader: newFakeExtractor(map[string]int{
			"air_tile": 0,
		}, nil)},
	}
	conv, err := NewConverter(path, sources, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	<-conv.Ready()

	grid := []byte{0b11111111, 1, 2, 3, 4, 5, 6, 7, 8}
	got := conv.ConvertGrid(grid, "rps", "rps")
	if !bytes.Equal(got, grid) {
		t.Fatalf("expected identity copy, got %v", got)
	}
	got[1] = 42
	if grid[1] == 42 {
		t.Fatalf("ConvertGrid must not alias the input buffer")
	}
}
