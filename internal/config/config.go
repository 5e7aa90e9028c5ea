// Package config loads the installation configuration from JSON.
//
// Every field is optional. Omitted values fall back to the defaults
// returned by the Get* accessors, so a partial file is always safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the shipped defaults file.
const DefaultConfigPath = "config/kinetic.defaults.json"

// Environment variables that override the device section.
const (
	EnvPort   = "KINETIC_PORT"
	EnvMockup = "KINETIC_MOCKUP"
)

// Config is the root of the installation configuration file.
type Config struct {
	Mode         *string `json:"mode,omitempty"`
	TickInterval *string `json:"tick_interval,omitempty"` // duration string like "100ms"
	WindowSize   *int    `json:"window_size,omitempty"`
	StaleAfter   *string `json:"stale_after,omitempty"`

	// Journal params
	RecordSnapshots  *bool   `json:"record_snapshots,omitempty"`
	JournalRetention *string `json:"journal_retention,omitempty"`

	Cameras   []CameraConfig   `json:"cameras,omitempty"`
	Behaviors []BehaviorConfig `json:"behaviors,omitempty"`
	Device    *DeviceConfig    `json:"device,omitempty"`
}

// CameraConfig describes one camera.
type CameraConfig struct {
	ID                string   `json:"id"`
	Enabled           *bool    `json:"enabled,omitempty"`
	DistanceThreshold *float64 `json:"distance_threshold,omitempty"`
	// MachinePosition is [x, y] or [x, y, z].
	MachinePosition []float64 `json:"machine_position,omitempty"`
}

// BehaviorConfig describes one behaviour rule.
type BehaviorConfig struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Command    string            `json:"command"`
	Loop       bool              `json:"loop,omitempty"`
	Parameters []ParameterConfig `json:"parameters,omitempty"`
}

// ParameterConfig is one behaviour constraint. Measured kinds take min and
// max; elapsed_time takes a timeout duration string.
type ParameterConfig struct {
	Kind    string   `json:"kind"`
	Enabled *bool    `json:"enabled,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Timeout *string  `json:"timeout,omitempty"`
}

// DeviceConfig is the serial device and protocol section.
type DeviceConfig struct {
	Port         *string         `json:"port,omitempty"`
	BaudRate     *int            `json:"baud_rate,omitempty"`
	DataBits     *int            `json:"data_bits,omitempty"`
	StopBits     *int            `json:"stop_bits,omitempty"`
	Parity       *string         `json:"parity,omitempty"`
	Mockup       *bool           `json:"mockup,omitempty"`
	PollInterval *string         `json:"poll_interval,omitempty"`
	Timeouts     *TimeoutsConfig `json:"timeouts,omitempty"`
	Schedule     *ScheduleConfig `json:"schedule,omitempty"`
}

// TimeoutsConfig holds the per-state protocol timeouts.
type TimeoutsConfig struct {
	CommandSent     *TimeoutConfig `json:"command_sent,omitempty"`
	CommandReceived *TimeoutConfig `json:"command_received,omitempty"`
	CoolingDown     *TimeoutConfig `json:"cooling_down,omitempty"`
}

// TimeoutConfig is one state's timeout pair.
type TimeoutConfig struct {
	Operational *string `json:"operational,omitempty"`
	Testing     *string `json:"testing,omitempty"`
}

// ScheduleConfig is the weekly working-hours window.
type ScheduleConfig struct {
	Days     []string `json:"days,omitempty"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Timezone string   `json:"timezone,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides the device port and mockup flag from the environment.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	port := getenv(EnvPort)
	mockup := getenv(EnvMockup)
	if port == "" && mockup == "" {
		return nil
	}
	if c.Device == nil {
		c.Device = &DeviceConfig{}
	}
	if port != "" {
		c.Device.Port = ptrString(port)
	}
	switch mockup {
	case "":
	case "1", "true", "TRUE", "True", "yes":
		c.Device.Mockup = ptrBool(true)
	case "0", "false", "FALSE", "False", "no":
		c.Device.Mockup = ptrBool(false)
	default:
		return fmt.Errorf("%s must be a boolean, got %q", EnvMockup, mockup)
	}
	return nil
}

func parseDurationField(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks the structure of the configuration. Behaviour
// parameters are deliberately not checked here: a malformed parameter only
// disables its own behaviour at evaluation time.
func (c *Config) Validate() error {
	for name, v := range map[string]*string{
		"tick_interval":     c.TickInterval,
		"stale_after":       c.StaleAfter,
		"journal_retention": c.JournalRetention,
	} {
		if err := parseDurationField(name, v); err != nil {
			return err
		}
	}
	if c.TickInterval != nil && *c.TickInterval != "" && c.GetTickInterval() == 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}

	cameras := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: id is required", i)
		}
		if cameras[cam.ID] {
			return fmt.Errorf("cameras[%d]: duplicate id %q", i, cam.ID)
		}
		cameras[cam.ID] = true
		if n := len(cam.MachinePosition); n != 0 && n != 2 && n != 3 {
			return fmt.Errorf("camera %q: machine_position needs 2 or 3 coordinates, got %d", cam.ID, n)
		}
	}

	behaviors := make(map[string]bool, len(c.Behaviors))
	for i, b := range c.Behaviors {
		if b.Name == "" {
			return fmt.Errorf("behaviors[%d]: name is required", i)
		}
		if behaviors[b.Name] {
			return fmt.Errorf("behaviors[%d]: duplicate name %q", i, b.Name)
		}
		behaviors[b.Name] = true
	}

	if c.Device != nil {
		if err := c.Device.validate(); err != nil {
			return fmt.Errorf("device: %w", err)
		}
	}
	return nil
}

// GetMode returns the initial operating mode or the default.
func (c *Config) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return "normal" // default
	}
	return *c.Mode
}

// GetTickInterval returns the control tick period.
func (c *Config) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 100*time.Millisecond)
}

// GetWindowSize returns the rolling window capacity.
func (c *Config) GetWindowSize() int {
	if c.WindowSize == nil {
		return 30 // default
	}
	return *c.WindowSize
}

// GetStaleAfter returns how long detections stay usable.
func (c *Config) GetStaleAfter() time.Duration {
	return durationOr(c.StaleAfter, 2*time.Second)
}

// GetRecordSnapshots returns whether every tick snapshot is journaled.
func (c *Config) GetRecordSnapshots() bool {
	if c.RecordSnapshots == nil {
		return false
	}
	return *c.RecordSnapshots
}

// GetJournalRetention returns how long journal rows are kept. Zero keeps
// them forever.
func (c *Config) GetJournalRetention() time.Duration {
	return durationOr(c.JournalRetention, 7*24*time.Hour)
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}
