package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration for the reflector.
type Config struct {
	Global     GlobalConfig     `yaml:"global"`
	VAD        VADConfig        `yaml:"vad_settings"`
	Auth       map[string]string `yaml:"auth"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// GlobalConfig holds the GLOBAL section of spec.md §6.
type GlobalConfig struct {
	ListenPort         int    `yaml:"listen_port"`
	SQLTimeout         int    `yaml:"sql_timeout"`
	SQLTimeoutBlocktime int   `yaml:"sql_timeout_blocktime"`
	TGForV1Clients     uint32 `yaml:"tg_for_v1_clients"`
	RandomQsyRange     string `yaml:"random_qsy_range"`
	HTTPSrvPort        int    `yaml:"http_srv_port"`
	CommandPTY         string `yaml:"command_pty"`

	// Parsed form of RandomQsyRange, filled in by Validate.
	randomQsyLo uint32
	randomQsyHi uint32
}

// VADConfig holds the VAD_SETTINGS section of spec.md §6.
type VADConfig struct {
	Enabled                      bool     `yaml:"is_vad_enabled"`
	EnabledCallsigns             []string `yaml:"vad_enabled_callsigns"`
	SileroModelPath              string   `yaml:"silero_model_path"`
	SampleRate                   int      `yaml:"sample_rate"`
	WindowSizeSamples            int      `yaml:"window_size_samples"`
	Threshold                    float64  `yaml:"threshold"`
	ProcessedSampleBufferSize    int      `yaml:"processed_sample_buffer_size"`
	VADGateSampleSize            int      `yaml:"vad_gate_sample_size"`
	StartSilenceReplacementMs    int      `yaml:"start_silence_replacement_buffer_ms"`
}

// PrometheusConfig controls the optional Prometheus metrics exporter.
type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PushGateway string `yaml:"push_gateway"`
}

// MQTTConfig controls the optional MQTT telemetry publisher.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// GeoIPConfig controls the optional GeoIP country enrichment of status JSON.
type GeoIPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// MCPConfig controls the optional read-only MCP introspection server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a Config populated with the reflector's defaults.
func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:          5300,
			SQLTimeout:          30,
			SQLTimeoutBlocktime: 60,
			TGForV1Clients:      1,
			HTTPSrvPort:         8080,
		},
		VAD: VADConfig{
			SampleRate:                16000,
			WindowSizeSamples:         512,
			Threshold:                 0.5,
			ProcessedSampleBufferSize: 1600,
			VADGateSampleSize:         16000,
			StartSilenceReplacementMs: 200,
		},
		Auth: map[string]string{},
	}
}

// Validate enforces the ConfigInvalid policy of spec.md §7: illegal values
// that would prevent the server from operating at all refuse to enter
// service; everything else is left to per-key warnings at call sites.
func (c *Config) Validate() error {
	if c.Global.ListenPort <= 0 || c.Global.ListenPort > 65535 {
		return fmt.Errorf("config: invalid listen_port %d", c.Global.ListenPort)
	}

	if c.Global.RandomQsyRange != "" {
		lo, hi, err := parseRandomQsyRange(c.Global.RandomQsyRange)
		if err != nil {
			return fmt.Errorf("config: invalid random_qsy_range %q: %w", c.Global.RandomQsyRange, err)
		}
		c.Global.randomQsyLo = lo
		c.Global.randomQsyHi = hi
	}

	return nil
}

// parseRandomQsyRange parses the "low:count" syntax of spec.md §6 into an
// inclusive [lo, hi] range.
func parseRandomQsyRange(s string) (lo, hi uint32, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected LOW:COUNT")
	}
	loVal, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad low value: %w", err)
	}
	count, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || count == 0 {
		return 0, 0, fmt.Errorf("bad count value")
	}
	return uint32(loVal), uint32(loVal + count - 1), nil
}

// HTTPAddr returns the listen address for the status/metrics/MCP HTTP
// server.
func (c *GlobalConfig) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPSrvPort)
}

// RandomQsyRange returns the parsed inclusive TG range for auto-QSY.
func (c *Config) RandomQsyRange() (lo, hi uint32, ok bool) {
	if c.Global.RandomQsyRange == "" {
		return 0, 0, false
	}
	return c.Global.randomQsyLo, c.Global.randomQsyHi, true
}

// IsVADCallsign reports whether callsign is subject to the VAD gate.
func (c *Config) IsVADCallsign(callsign string) bool {
	if !c.VAD.Enabled {
		return false
	}
	for _, cs := range c.VAD.EnabledCallsigns {
		if strings.EqualFold(cs, callsign) {
			return true
		}
	}
	return false
}

// ApplyOverride implements the CFG control-channel command of spec.md §6,
// updating a single key at runtime. Only SQL_TIMEOUT and
// SQL_TIMEOUT_BLOCKTIME are documented as taking effect live; other keys
// are rejected so the control channel can't silently desync from what was
// validated at startup.
func (c *Config) ApplyOverride(section, key, value string) error {
	switch strings.ToUpper(section) {
	case "GLOBAL":
		switch strings.ToUpper(key) {
		case "SQL_TIMEOUT":
			v, err := strconv.Atoi(value)
			if err != nil || v < 0 {
				return fmt.Errorf("invalid SQL_TIMEOUT value %q", value)
			}
			c.Global.SQLTimeout = v
			return nil
		case "SQL_TIMEOUT_BLOCKTIME":
			v, err := strconv.Atoi(value)
			if err != nil || v < 0 {
				return fmt.Errorf("invalid SQL_TIMEOUT_BLOCKTIME value %q", value)
			}
			c.Global.SQLTimeoutBlocktime = v
			return nil
		}
	}
	return fmt.Errorf("key %s.%s cannot be updated live", section, key)
}
