// Package config loads the control daemon's TOML configuration, following
// the project's toml.DecodeFile + meta.IsDefined idiom so a config file can
// override only the fields it explicitly sets, leaving the rest at their
// documented defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// SupervisorConfig controls one controld process: its control socket, and
// the buffering/backpressure thresholds applied to every connection it
// accepts.
type SupervisorConfig struct {
	SocketPath string

	// WriteHighWaterBytes suspends reads on a connection once its write
	// buffer reaches this size; WriteLowWaterBytes resumes them once
	// drained to or below it.
	WriteHighWaterBytes int
	WriteLowWaterBytes  int

	// WriteHardCapBytes is the absolute limit; crossing it closes the
	// connection with a write-overflow error instead of queuing further.
	WriteHardCapBytes int

	// DualEmit is the process-wide compatibility mode, applied to every
	// connection alike: true emits both SERVICEEVENT5 and SERVICEEVENT for
	// every transition, false emits only SERVICEEVENT5.
	DualEmit bool

	// MetricsAddr is the administrative HTTP listen address for
	// /health and /metrics. Empty disables the HTTP surface.
	MetricsAddr string
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		SocketPath:          "/run/controld/control.sock",
		WriteHighWaterBytes: 256 * 1024,
		WriteLowWaterBytes:  64 * 1024,
		WriteHardCapBytes:   4 * 1024 * 1024,
		DualEmit:            true,
		MetricsAddr:         ":9090",
	}
}

type fileConfig struct {
	SocketPath          string `toml:"socket_path"`
	WriteHighWaterBytes int    `toml:"write_high_water_bytes"`
	WriteLowWaterBytes  int    `toml:"write_low_water_bytes"`
	WriteHardCapBytes   int    `toml:"write_hard_cap_bytes"`
	DualEmit            *bool  `toml:"dual_emit"`
	MetricsAddr         string `toml:"metrics_addr"`
}

// LoadSupervisorConfig reads path and overlays only the fields it defines
// onto DefaultSupervisorConfig.
func LoadSupervisorConfig(path string) (SupervisorConfig, error) {
	cfg := DefaultSupervisorConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return SupervisorConfig{}, fmt.Errorf("load supervisor config: %w", err)
	}

	if meta.IsDefined("socket_path") {
		if v := strings.TrimSpace(raw.SocketPath); v != "" {
			cfg.SocketPath = v
		}
	}
	if meta.IsDefined("write_high_water_bytes") {
		cfg.WriteHighWaterBytes = raw.WriteHighWaterBytes
	}
	if meta.IsDefined("write_low_water_bytes") {
		cfg.WriteLowWaterBytes = raw.WriteLowWaterBytes
	}
	if meta.IsDefined("write_hard_cap_bytes") {
		cfg.WriteHardCapBytes = raw.WriteHardCapBytes
	}
	if meta.IsDefined("dual_emit") && raw.DualEmit != nil {
		cfg.DualEmit = *raw.DualEmit
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := Validate(cfg); err != nil {
		return SupervisorConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg SupervisorConfig) error {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return fmt.Errorf("supervisor config missing socket_path")
	}
	if cfg.WriteLowWaterBytes <= 0 || cfg.WriteHighWaterBytes <= 0 {
		return fmt.Errorf("supervisor config water marks must be positive")
	}
	if cfg.WriteLowWaterBytes >= cfg.WriteHighWaterBytes {
		return fmt.Errorf("write_low_water_bytes must be less than write_high_water_bytes")
	}
	if cfg.WriteHardCapBytes <= cfg.WriteHighWaterBytes {
		return fmt.Errorf("write_hard_cap_bytes must exceed write_high_water_bytes")
	}
	return nil
}
