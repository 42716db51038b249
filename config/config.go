// Package config resolves LatencyFleX's runtime settings from
// environment variables (the primary interface, since a hooked layer
// is loaded into an arbitrary process with no command line of its
// own) with an optional YAML file overlay for the standalone
// benchmarking CLI.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the orchestrator reads at startup. Env
// vars are read once, before the process-wide manager is published, so
// no synchronization is needed around these fields afterward.
type Config struct {
	// MaxFPS is the FPS floor; 0 disables it. Read from LFX_MAX_FPS.
	MaxFPS float64 `yaml:"max_fps"`

	// Placebo disables pacing while keeping telemetry flowing, for A/B
	// comparison. Read from LFX_PLACEBO.
	Placebo bool `yaml:"placebo"`

	// Trace enables raw pre-floor frame-time reporting on the pacer.
	// Read from LFX_TRACE.
	Trace bool `yaml:"trace"`

	// EngineHookAddr is the address of the engine's tick function to
	// install a trampoline at (e.g. FEngineLoop::Tick on UE4); 0
	// disables engine hooking and leaves only the GPU-API layer active.
	// Read from LFX_UE4_HOOK, given as a hex address (accepts a "0x"
	// prefix or a bare decimal string).
	EngineHookAddr uint64 `yaml:"engine_hook_addr"`

	// MQTTBroker, when non-empty, enables the MQTT telemetry sink.
	// Read from LFX_MQTT_BROKER.
	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
}

// Default returns the configuration LatencyFleX runs with if no
// environment variables or file are set: no floor, pacing enabled, no
// tracing, no engine hook, no telemetry sink.
func Default() Config {
	return Config{MQTTTopic: "latencyflex/telemetry"}
}

// FromEnv reads LFX_* environment variables on top of Default,
// returning an error only if a variable is set but unparsable — an
// unset variable is never an error.
func FromEnv() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("LFX_MAX_FPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: LFX_MAX_FPS: %w", err)
		}
		cfg.MaxFPS = f
	}
	if v, ok := os.LookupEnv("LFX_PLACEBO"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: LFX_PLACEBO: %w", err)
		}
		cfg.Placebo = b
	}
	if v, ok := os.LookupEnv("LFX_TRACE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: LFX_TRACE: %w", err)
		}
		cfg.Trace = b
	}
	if v, ok := os.LookupEnv("LFX_UE4_HOOK"); ok {
		addr, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: LFX_UE4_HOOK: %w", err)
		}
		cfg.EngineHookAddr = addr
	}
	if v, ok := os.LookupEnv("LFX_MQTT_BROKER"); ok {
		cfg.MQTTBroker = v
	}
	if v, ok := os.LookupEnv("LFX_MQTT_TOPIC"); ok {
		cfg.MQTTTopic = v
	}

	return cfg, nil
}

// LoadFile reads a YAML overlay from path on top of Default. It is
// used by cmd/lfxbench, which has a real command line and benefits
// from a reusable settings file; the in-process layer only ever calls
// FromEnv.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, Validate(&cfg)
}

// Validate checks field ranges and returns an error describing the
// first problem found.
func Validate(cfg *Config) error {
	if cfg.MaxFPS < 0 {
		return fmt.Errorf("config: max_fps must be >= 0, got %v", cfg.MaxFPS)
	}
	if cfg.MQTTBroker != "" && cfg.MQTTTopic == "" {
		return fmt.Errorf("config: mqtt_topic is required when mqtt_broker is set")
	}
	return nil
}

// TargetFrameTimeNanos converts MaxFPS into the pacer's frame-time
// floor, or 0 if MaxFPS is 0 (no floor).
func (c Config) TargetFrameTimeNanos() int64 {
	if c.MaxFPS <= 0 {
		return 0
	}
	return int64(1e9 / c.MaxFPS)
}
