// Package config loads the scheduler's process-global configuration from
// a YAML key-value file, following the loading style of this repository's
// earlier agent-monitoring configuration. Unknown keys are ignored; a
// missing or unparseable file yields the compiled-in defaults rather than
// an error, since a payload that cannot read its own config must still
// come up and accept commands from the OBC.
package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the scheduler's runtime configuration.
type Config struct {
	// UART is the path of the serial byte device the dispatcher reads
	// framed commands from. Defaults to "/dev/serial0".
	UART string `yaml:"uart"`

	// Baudrate is the serial link's bits per second. Defaults to 921600.
	Baudrate int `yaml:"baudrate"`

	// HeartbeatPin is the digital output line id toggled at HeartbeatFreq.
	// Defaults to 34.
	HeartbeatPin int `yaml:"heartbeat_pin"`

	// UpdatePin is the digital output line id raised whenever the event
	// queue is non-empty. Defaults to 35.
	UpdatePin int `yaml:"update_pin"`

	// HeartbeatFreq is the heartbeat toggle frequency in Hz. Defaults to
	// 10.
	HeartbeatFreq int `yaml:"heartbeat_freq"`

	// Socket is the path of the local stream socket that accepts
	// asynchronous event commands (dosimeter on/off). Defaults to
	// "/tmp/scheduler_socket".
	Socket string `yaml:"socket"`
}

// Defaults returns the compiled-in configuration used whenever the file on
// disk is missing or cannot be parsed.
func Defaults() Config {
	return Config{
		UART:          "/dev/serial0",
		Baudrate:      921600,
		HeartbeatPin:  34,
		UpdatePin:     35,
		HeartbeatFreq: 10,
		Socket:        "/tmp/scheduler_socket",
	}
}

// Load reads the YAML file at path and overlays any recognized keys onto
// the compiled-in defaults. A missing file or one that fails to parse as
// YAML is logged and treated as empty: Load then returns the defaults
// unchanged, never an error.
func Load(path string, logger *slog.Logger) Config {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("config file unavailable, using defaults", slog.String("path", path), slog.Any("error", err))
		return cfg
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		logger.Warn("config file unparseable, using defaults", slog.String("path", path), slog.Any("error", err))
		return cfg
	}

	applyString(raw, "uart", &cfg.UART)
	applyInt(raw, "baudrate", &cfg.Baudrate)
	applyInt(raw, "heartbeat_pin", &cfg.HeartbeatPin)
	applyInt(raw, "update_pin", &cfg.UpdatePin)
	applyInt(raw, "heartbeat_freq", &cfg.HeartbeatFreq)
	applyString(raw, "socket", &cfg.Socket)

	return cfg
}

// applyString overlays raw[key] onto dst when present and a string,
// otherwise leaves dst at its current (default) value.
func applyString(raw map[string]any, key string, dst *string) {
	if v, ok := raw[key].(string); ok {
		*dst = v
	}
}

// applyInt overlays raw[key] onto dst when present and an integer,
// otherwise leaves dst at its current (default) value. yaml.v3 decodes
// unmarshalled YAML integers into map[string]any as int.
func applyInt(raw map[string]any, key string, dst *int) {
	if v, ok := raw[key].(int); ok {
		*dst = v
	}
}
