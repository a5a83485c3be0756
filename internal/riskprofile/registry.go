// Package riskprofile manages named risk limit profiles loaded from a YAML
// file. The file is watched and reloaded in place, so operators can tighten
// limits on a live engine without a restart.
package riskprofile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"carve/internal/logger"
	"carve/internal/risk"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Profile is one named limit set.
type Profile struct {
	Name        string      `yaml:"-"`
	Description string      `yaml:"description"`
	Limits      risk.Limits `yaml:"limits"`
}

type fileConfig struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot is the published profile set. Version increments per reload.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// ChangeListener fires after every successful reload.
type ChangeListener func(Snapshot)

// Registry loads, validates and watches the profile file.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

const limitsSchema = `{
	"type": "object",
	"required": ["max_positions", "max_risk_per_trade", "max_daily_loss", "stop_loss_pct", "take_profit_pct", "max_drawdown_pct"],
	"properties": {
		"max_positions":      {"type": "integer", "minimum": 1},
		"max_risk_per_trade": {"type": "number", "exclusiveMinimum": 0},
		"max_daily_loss":     {"type": "number", "exclusiveMinimum": 0},
		"stop_loss_pct":      {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
		"take_profit_pct":    {"type": "number", "exclusiveMinimum": 0},
		"max_drawdown_pct":   {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func limitsValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("limits.json", strings.NewReader(limitsSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("limits.json")
	})
	return compiledSchema, schemaErr
}

// NewRegistry reads the profile file and starts watching it for changes.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profiles failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("Risk profile reload failed, keeping previous set: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// OnChange registers a listener fired after each successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot returns the current profile set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Profile returns the profile with the given name.
func (r *Registry) Profile(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(name)]
	return p, ok
}

// Limits resolves a profile name to its limit set.
func (r *Registry) Limits(name string) (risk.Limits, error) {
	p, ok := r.Profile(name)
	if !ok {
		return risk.Limits{}, fmt.Errorf("unknown risk profile: %s", name)
	}
	return p.Limits, nil
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("risk profile file %s defines no profiles", r.path)
	}
	validator, err := limitsValidator()
	if err != nil {
		return fmt.Errorf("compile limits schema: %w", err)
	}

	profiles := make(map[string]Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := validateLimits(validator, p.Limits); err != nil {
			return fmt.Errorf("risk profile %q: %w", name, err)
		}
		p.Name = name
		p.Description = strings.TrimSpace(p.Description)
		profiles[name] = p
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("Risk profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("risk profile listener")
			cb(snap)
		}(fn)
	}
}

// validateLimits round-trips the limits through JSON so the schema sees the
// same shape the YAML file carries.
func validateLimits(validator *jsonschema.Schema, limits risk.Limits) error {
	raw, err := json.Marshal(map[string]any{
		"max_positions":      limits.MaxPositions,
		"max_risk_per_trade": limits.MaxRiskPerTrade,
		"max_daily_loss":     limits.MaxDailyLoss,
		"stop_loss_pct":      limits.StopLossPct,
		"take_profit_pct":    limits.TakeProfitPct,
		"max_drawdown_pct":   limits.MaxDrawdownPct,
	})
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return validator.Validate(doc)
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for name, p := range src.Profiles {
		dst.Profiles[name] = p
	}
	return dst
}

func readProfileFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read risk profiles failed: %w", err)
	}
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse risk profiles failed: %w", err)
	}
	return cfg, nil
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
