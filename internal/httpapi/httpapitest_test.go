package httpapi

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/assembly"
	"github.com/spsquared/PixSim-API/internal/config"
	"github.com/spsquared/PixSim-API/internal/mapcatalog"
	"github.com/spsquared/PixSim-API/internal/persist"
	"github.com/spsquared/PixSim-API/internal/pixel"
	"github.com/spsquared/PixSim-API/internal/relay"
	"github.com/spsquared/PixSim-API/internal/relaycrypto"
)

// fakeExtractor satisfies pixel.Extractor without a real Lua VM or network
// fetch, the same test double the pixel/mapcatalog/assembly packages use.
type fakeExtractor struct {
	mapping map[string]int
	ready   chan struct{}
}

func newFakeExtractor(mapping map[string]int) *fakeExtractor {
	f := &fakeExtractor{mapping: mapping, ready: make(chan struct{})}
	close(f.ready)
	return f
}

func (f *fakeExtractor) Ready() <-chan struct{}                        { return f.ready }
func (f *fakeExtractor) Err() error                                    { return nil }
func (f *fakeExtractor) ExecuteMapping(string) (map[string]int, error) { return f.mapping, nil }

func testConverter(t *testing.T) *pixel.Converter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookup.csv")
	content := "canonical,standard,rps,bps\n" +
		"0,air,0,0-0\n" +
		"1,stone,1,1-0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write lookup csv: %v", err)
	}
	sources := []pixel.DialectSource{
		{ID: "rps", ExtractExpr: "x", Loader: newFakeExtractor(map[string]int{"0": 0, "1": 1})},
		{ID: "bps", ExtractExpr: "x", Loader: newFakeExtractor(map[string]int{"0-0": 0, "1-0": 1})},
	}
	conv, err := pixel.NewConverter(path, sources, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	<-conv.Ready()
	return conv
}

func testCatalog(t *testing.T, conv *pixel.Converter) *mapcatalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	modeDir := filepath.Join(dir, "deathmatch")
	if err := os.MkdirAll(modeDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mapContent := "format=rps\nwidth=5\nheight=1\ndata=0-2:1-3\n"
	if err := os.WriteFile(filepath.Join(modeDir, "arena1.map"), []byte(mapContent), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}
	cat, err := mapcatalog.Load(dir, conv, zap.NewNop())
	if err != nil {
		t.Fatalf("mapcatalog.Load: %v", err)
	}
	return cat
}

type testServerFixture struct {
	server         *Server
	broker         *relay.Broker
	starting       *atomic.Bool
	controllersDir string
}

func testServer(t *testing.T) testServerFixture {
	t.Helper()
	conv := testConverter(t)
	catalog := testCatalog(t, conv)
	compiler := assembly.NewCompiler(conv, zap.NewNop())

	controllersDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(controllersDir, "turret.pixasm"), []byte(`SETPX <x> <y> {stone}`), 0o644); err != nil {
		t.Fatalf("write controller fixture: %v", err)
	}

	keys, err := relaycrypto.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	rlCfg := config.RateLimitConfig{PerIPConnectBurst: 1000, PerIPConnectWindow: time.Minute}
	broker := relay.NewBroker(rlCfg, config.NetworkConfig{}, keys, conv, persist.NoopRoomAuditRepo{}, zap.NewNop())
	t.Cleanup(broker.Close)

	starting := &atomic.Bool{}
	s := NewServer(catalog, compiler, controllersDir, broker, "/pixsim-api/game", 10*time.Second, 0, starting, zap.NewNop())
	return testServerFixture{server: s, broker: broker, starting: starting, controllersDir: controllersDir}
}

func newTestHTTPServer(t *testing.T) (*httptest.Server, testServerFixture) {
	t.Helper()
	fixture := testServer(t)
	srv := httptest.NewServer(fixture.server.Routes())
	t.Cleanup(srv.Close)
	return srv, fixture
}
