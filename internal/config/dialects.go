package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DialectManifest lists every pixel-simulator dialect the relay understands:
// where its extraction script comes from and how to extract its pixel map.
// Kept separate from the TOML server config (and in
// YAML, matching the teacher's own data-table loading convention) so an
// operator can register a new dialect without touching server.toml.
type DialectManifest struct {
	Dialects []DialectManifestEntry `yaml:"dialects"`
}

// DialectManifestEntry describes one dialect's script source and extraction
// expression. LookupColumn is parsed but not read by the relay:
// PixelConverter takes a dialect's string IDs from the lookup-table column
// named after its ID.
type DialectManifestEntry struct {
	ID           string `yaml:"id"`
	DisplayName  string `yaml:"display_name"`
	PrimaryURL   string `yaml:"primary_url"`
	FallbackURL  string `yaml:"fallback_url"`
	ExtractExpr  string `yaml:"extract_expr"`
	LookupColumn string `yaml:"lookup_column"`
}

// LoadDialectManifest reads and parses the dialect manifest at path.
func LoadDialectManifest(path string) (*DialectManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dialect manifest %s: %w", path, err)
	}
	var m DialectManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse dialect manifest %s: %w", path, err)
	}
	return &m, nil
}
