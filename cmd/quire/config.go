package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/jsonc"

	"github.com/jpl-au/quire"
)

// fileConfig is the on-disk CLI configuration. Comments and trailing
// commas are allowed.
type fileConfig struct {
	Dictionary string  `json:"dictionary"`
	Level      string  `json:"level"`
	SyncWrites bool    `json:"sync_writes"`
	HotBudget  int64   `json:"hot_budget"`
	WarmBudget int64   `json:"warm_budget"`
	ColdRelax  float64 `json:"cold_relax"`
	Bloat      float64 `json:"bloat"`
}

// loadConfig reads a JSONC configuration file. An empty path yields the
// zero configuration.
func loadConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// stackConfig converts the file configuration, with flag overrides already
// applied, into library configuration.
func (fc fileConfig) stackConfig() (quire.StackConfig, error) {
	cfg := quire.StackConfig{
		Config: quire.Config{
			Dictionary: fc.Dictionary,
			SyncWrites: fc.SyncWrites,
		},
		HotBudget:  fc.HotBudget,
		WarmBudget: fc.WarmBudget,
		ColdRelax:  fc.ColdRelax,
	}
	if fc.Level != "" {
		ok, level := zstd.EncoderLevelFromString(fc.Level)
		if !ok {
			return cfg, fmt.Errorf("unknown compression level %q", fc.Level)
		}
		cfg.Level = level
	}
	return cfg, nil
}
