// Package tenantcfg resolves effective per-tenant settings: global
// defaults overlaid with the tenant's stored overrides.
package tenantcfg

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Mode names the reply strategy a tenant runs.
type Mode string

const (
	ModeDeterministic Mode = "deterministic"
	ModeHybrid        Mode = "hybrid"
	ModeFlagship      Mode = "flagship"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDeterministic, ModeHybrid, ModeFlagship:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Snapshot is the effective configuration for one tenant at one moment.
// It is a value; a turn reads one snapshot and never sees mid-turn
// changes.
type Snapshot struct {
	Mode                Mode
	ConfidenceThreshold float64
	MaxClarifyAttempts  int
	FlagshipStepCap     int
	RewriteEnabled      bool
	ToneProfile         string
}

// Defaults is the baseline every tenant starts from.
func Defaults() Snapshot {
	return Snapshot{
		Mode:                ModeDeterministic,
		ConfidenceThreshold: 0.55,
		MaxClarifyAttempts:  2,
		FlagshipStepCap:     4,
		RewriteEnabled:      true,
		ToneProfile:         "warm",
	}
}

// ConfigReader is the storage capability the manager reads overrides
// from.
type ConfigReader interface {
	GetTenantConfig(tenantKey string) (map[string]string, error)
}

// Manager resolves tenant snapshots.
type Manager struct {
	store    ConfigReader
	defaults Snapshot
}

// NewManager creates a Manager with the stock defaults.
func NewManager(store ConfigReader) *Manager {
	return &Manager{store: store, defaults: Defaults()}
}

// Snapshot returns the tenant's effective settings. Malformed override
// values are logged and skipped so one bad row cannot take a tenant
// offline.
func (m *Manager) Snapshot(tenantKey string) (Snapshot, error) {
	snap := m.defaults
	overrides, err := m.store.GetTenantConfig(tenantKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading tenant config: %w", err)
	}

	for key, raw := range overrides {
		if err := apply(&snap, key, raw); err != nil {
			slog.Warn("ignoring tenant config override",
				"tenant", tenantKey,
				"key", key,
				"error", err,
			)
		}
	}
	return snap, nil
}

func apply(snap *Snapshot, key, raw string) error {
	switch key {
	case "mode":
		mode, err := ParseMode(raw)
		if err != nil {
			return err
		}
		snap.Mode = mode
	case "confidence_threshold":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return fmt.Errorf("confidence_threshold must be in [0,1], got %q", raw)
		}
		snap.ConfidenceThreshold = v
	case "max_clarify_attempts":
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return fmt.Errorf("max_clarify_attempts must be a positive integer, got %q", raw)
		}
		snap.MaxClarifyAttempts = v
	case "flagship_step_cap":
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return fmt.Errorf("flagship_step_cap must be a positive integer, got %q", raw)
		}
		snap.FlagshipStepCap = v
	case "rewrite_enabled":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("rewrite_enabled must be a boolean, got %q", raw)
		}
		snap.RewriteEnabled = v
	case "tone_profile":
		snap.ToneProfile = raw
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}
