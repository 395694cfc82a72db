package mapcatalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

var codecs = map[string]dialectCodec{
	"rps": rpsCodec{},
	"bps": bpsCodec{},
	"psp": pspCodec{},
}

type mapEntry struct {
	canonical CanonicalMap
	encoded   map[pixel.DialectId]EncodedMap
}

// Catalog serves parsed and re-encoded maps, organized by game mode.
// Immutable after construction; concurrent readers need no locking.
type Catalog struct {
	modes map[string]map[string]*mapEntry // gameMode -> mapID -> entry
}

// Load scans dir for one subdirectory per game mode, each containing one map
// file per map ID (named "<id>.map"), and builds the canonical and
// per-dialect encodings for every map. A map file that fails to parse is
// logged and skipped; it never aborts the scan.
func Load(dir string, conv *pixel.Converter, log *zap.Logger) (*Catalog, error) {
	modeDirs, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("mapcatalog: read %s: %w", dir, err)
	}

	cat := &Catalog{modes: make(map[string]map[string]*mapEntry)}
	for _, modeDir := range modeDirs {
		if !modeDir.IsDir() {
			continue
		}
		mode := modeDir.Name()
		modePath := filepath.Join(dir, mode)
		files, err := os.ReadDir(modePath)
		if err != nil {
			log.Warn("mapcatalog: skip unreadable mode dir", zap.String("mode", mode), zap.Error(err))
			continue
		}

		entries := make(map[string]*mapEntry)
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".map" {
				continue
			}
			id := strings.TrimSuffix(f.Name(), ".map")
			entry, err := loadOne(filepath.Join(modePath, f.Name()), conv)
			if err != nil {
				log.Warn("mapcatalog: skip unparsable map", zap.String("mode", mode), zap.String("id", id), zap.Error(err))
				continue
			}
			entries[id] = entry
		}
		cat.modes[mode] = entries
	}
	return cat, nil
}

func loadOne(path string, conv *pixel.Converter) (*mapEntry, error) {
	raw, err := parseRawMap(path)
	if err != nil {
		return nil, err
	}
	codec, ok := codecs[raw.Format]
	if !ok {
		return nil, fmt.Errorf("unknown format %q", raw.Format)
	}
	canonical, err := codec.Parse(raw, conv)
	if err != nil {
		return nil, err
	}

	encoded := make(map[pixel.DialectId]EncodedMap, len(codecs))
	for name, c := range codecs {
		encoded[pixel.DialectId(name)] = c.Encode(canonical, conv)
	}

	return &mapEntry{canonical: canonical, encoded: encoded}, nil
}

// parseRawMap reads a "key=value" per-line text record.
func parseRawMap(path string) (rawMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return rawMap{}, err
	}
	defer f.Close()

	raw := rawMap{Scripts: make(map[string]string)}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "format":
			raw.Format = value
		case "width":
			raw.Width, _ = strconv.Atoi(value)
		case "height":
			raw.Height, _ = strconv.Atoi(value)
		case "data":
			raw.Data = value
		case "placeableData0":
			raw.Placeable[0] = value
		case "placeableData1":
			raw.Placeable[1] = value
		case "teamData":
			raw.Team = value
		case "rotationData":
			raw.Rotation = value
		default:
			if event, found := strings.CutPrefix(key, "script:"); found {
				raw.Scripts[event] = value
			}
		}
	}
	if err := sc.Err(); err != nil {
		return rawMap{}, err
	}
	return raw, nil
}

// List returns every map ID registered for gameMode.
func (c *Catalog) List(gameMode string) []string {
	mode, ok := c.modes[gameMode]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(mode))
	for id := range mode {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether id exists under gameMode.
func (c *Catalog) Has(gameMode, id string) bool {
	mode, ok := c.modes[gameMode]
	if !ok {
		return false
	}
	_, ok = mode[id]
	return ok
}

// Get returns id's encoding in the given dialect format, or nil if unknown.
func (c *Catalog) Get(gameMode, id string, format pixel.DialectId) *EncodedMap {
	mode, ok := c.modes[gameMode]
	if !ok {
		return nil
	}
	entry, ok := mode[id]
	if !ok {
		return nil
	}
	enc, ok := entry.encoded[format]
	if !ok {
		return nil
	}
	return &enc
}
