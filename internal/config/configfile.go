// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

package config

import (
	"os"

	"github.com/Teascade/pipeswitch/internal/pwerr"
)

// ConfigFile couples a decoded Config with the Document it was parsed from,
// enabling a load -> mutate -> sync -> save round trip that preserves
// decoration for untouched fields.
type ConfigFile struct {
	Path   string
	Config *Config
	doc    *Document
}

// LoadConfigFile reads path and parses it both structurally (Config) and
// for round-trip editing (Document).
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pwerr.Wrap(err, pwerr.KindConfig, "failed to read config file")
	}
	return LoadConfigFromBytes(path, data)
}

// LoadConfigFromBytes is LoadConfigFile without a filesystem read, used by
// tests and by the config watcher on a pre-read buffer.
func LoadConfigFromBytes(path string, data []byte) (*ConfigFile, error) {
	cfg, err := Load(data)
	if err != nil {
		return nil, err
	}
	return &ConfigFile{
		Path:   path,
		Config: cfg,
		doc:    ParseDocument(data),
	}, nil
}

// Save syncs the current in-memory Config onto the parsed Document and
// writes the result back to Path, preserving decoration for every untouched
// field.
func (cf *ConfigFile) Save() error {
	cf.doc.Sync(cf.Config)
	return os.WriteFile(cf.Path, cf.doc.Bytes(), 0o644)
}

// Bytes renders the current Document after syncing cf.Config onto it,
// without writing to disk.
func (cf *ConfigFile) Bytes() []byte {
	cf.doc.Sync(cf.Config)
	return cf.doc.Bytes()
}
