// Package config holds the operator-tunable runtime settings: serial pool
// thresholds, workstation addressing, SVG output handling, and layout knobs.
// Settings persist as one JSON file and can be rewritten at runtime through
// the settings endpoint.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
)

var (
	ErrInvalidThresholds = errors.New("warning threshold must be below critical threshold")
	ErrInvalidIP         = errors.New("device host is not a valid IP address")
	ErrInvalidPort       = errors.New("port out of range 1-65535")
	ErrInvalidTimeout    = errors.New("UDP timeout out of range 1-30 seconds")
	ErrMissingOutputDir  = errors.New("SVG output directory not configured")
	ErrInvalidTopOffset  = errors.New("SVG top offset out of range -5..5 mm")
	ErrInvalidTracking   = errors.New("LED code tracking out of range 0.5..3.0")
	ErrInvalidRotation   = errors.New("SVG rotation must be 0, 90, 180 or 270")
)

// Config is the full runtime configuration. Zero value is not usable; start
// from Default.
type Config struct {
	// Serial pool alarm thresholds, in remaining serials.
	WarningThreshold  int `json:"warning_threshold"`
	CriticalThreshold int `json:"critical_threshold"`

	// Workstation addressing.
	DeviceHost        string `json:"device_host"`
	SendPort          int    `json:"send_port"`
	RecvPort          int    `json:"recv_port"`
	UDPTimeoutSeconds int    `json:"udp_timeout_seconds"`
	DeviceEnabled     bool   `json:"device_enabled"`
	AutoLoad          bool   `json:"auto_load"`

	// SVG output.
	OutputDir    string `json:"output_dir"`
	PathPrefix   string `json:"path_prefix"`
	KeepSVGFiles bool   `json:"keep_svg_files"`

	// Layout knobs. TopOffset is quantized to 0.02 mm, tracking to 0.05.
	SVGTopOffset    float64 `json:"svg_top_offset"`
	LedCodeTracking float64 `json:"led_code_tracking"`
	SVGRotation     int     `json:"svg_rotation"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		WarningThreshold:  10000,
		CriticalThreshold: 1000,
		DeviceHost:        "127.0.0.1",
		SendPort:          19840,
		RecvPort:          19841,
		UDPTimeoutSeconds: 5,
		DeviceEnabled:     true,
		AutoLoad:          false,
		OutputDir:         "svg-out",
		PathPrefix:        "",
		KeepSVGFiles:      false,
		SVGTopOffset:      0,
		LedCodeTracking:   1.0,
		SVGRotation:       0,
	}
}

// Check validates the configuration without touching the filesystem or
// network.
func (c *Config) Check() error {
	if c.WarningThreshold <= c.CriticalThreshold {
		return fmt.Errorf("%w: warning=%d critical=%d", ErrInvalidThresholds, c.WarningThreshold, c.CriticalThreshold)
	}
	if net.ParseIP(c.DeviceHost) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, c.DeviceHost)
	}
	for _, p := range []int{c.SendPort, c.RecvPort} {
		if p < 1 || p > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, p)
		}
	}
	if c.UDPTimeoutSeconds < 1 || c.UDPTimeoutSeconds > 30 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, c.UDPTimeoutSeconds)
	}
	if c.OutputDir == "" {
		return ErrMissingOutputDir
	}
	if c.SVGTopOffset < -5 || c.SVGTopOffset > 5 {
		return fmt.Errorf("%w: %g", ErrInvalidTopOffset, c.SVGTopOffset)
	}
	if c.LedCodeTracking < 0.5 || c.LedCodeTracking > 3.0 {
		return fmt.Errorf("%w: %g", ErrInvalidTracking, c.LedCodeTracking)
	}
	switch c.SVGRotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRotation, c.SVGRotation)
	}
	return nil
}

// Quantize snaps the stepped float settings to their grid. Applied on load
// and on every settings write so stored values are always exact steps.
func (c *Config) Quantize() {
	c.SVGTopOffset = snap(c.SVGTopOffset, 0.02)
	c.LedCodeTracking = snap(c.LedCodeTracking, 0.05)
}

func snap(v, step float64) float64 {
	return math.Round(math.Round(v/step)*step*1000) / 1000
}

// Load reads the configuration from path. A missing file yields Default; a
// present but invalid file is an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	c.Quantize()
	if err := c.Check(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes the configuration to path atomically enough for a single
// writer: temp file then rename.
func (c *Config) Save(path string) error {
	c.Quantize()
	if err := c.Check(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
