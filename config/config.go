// Package config handles the gstream.toml configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mastercactapus/gstream/machine"
	"github.com/mastercactapus/gstream/machine/grbl"
	"github.com/mastercactapus/gstream/spjs"
)

// Config is the full server configuration.
type Config struct {
	Addr    string `toml:"addr"`
	DataDir string `toml:"data-dir"`

	Link  Link  `toml:"link"`
	Grbl  Grbl  `toml:"grbl"`
	Probe Probe `toml:"probe"`
	Jog   Jog   `toml:"jog"`
}

// Link selects how the controller is reached. When SPJS is set the port
// is opened through that server, otherwise Serial is a glob matched
// against local serial devices.
type Link struct {
	Serial string   `toml:"serial"`
	Baud   int      `toml:"baud"`
	SPJS   string   `toml:"spjs"`
	Port   string   `toml:"port"`
	Retry  Duration `toml:"retry"`
}

// Grbl configures the protocol writer.
type Grbl struct {
	// Basic disables compensation and check mode regardless of the
	// other settings.
	Basic bool `toml:"basic"`

	BannerTimeout   Duration `toml:"banner-timeout"`
	ResponseTimeout Duration `toml:"response-timeout"`
	MotionTimeout   Duration `toml:"motion-timeout"`
	Suppress        []string `toml:"suppress"`
	Compensation    bool     `toml:"compensation"`
	CheckMode       bool     `toml:"check-mode"`
}

// Probe holds the defaults for probe requests.
type Probe struct {
	FeedRate  float64 `toml:"feed-rate"`
	MaxTravel float64 `toml:"max-travel"`
	Retract   float64 `toml:"retract"`
	Spacing   float64 `toml:"spacing"`
	Clearance float64 `toml:"clearance"`
	Offset    float64 `toml:"offset"`
}

// Jog configures interactive moves.
type Jog struct {
	// Interval is how often input devices repeat a held jog; each jog
	// is sized to last about this long.
	Interval Duration `toml:"interval"`
}

// Duration is a time.Duration written as a string, e.g. "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	w := grbl.DefaultConfig()
	return Config{
		Addr:    ":9091",
		DataDir: "./data",
		Link: Link{
			Serial: "/dev/ttyUSB*",
			Baud:   115200,
			Port:   "/dev/ttyUSB0",
			Retry:  Duration{2 * time.Second},
		},
		Grbl: Grbl{
			BannerTimeout:   Duration{w.BannerTimeout},
			ResponseTimeout: Duration{w.ResponseTimeout},
			MotionTimeout:   Duration{w.MotionTimeout},
			Suppress:        w.Suppress,
			Compensation:    w.Compensation,
			CheckMode:       w.CheckMode,
		},
		Probe: Probe{
			FeedRate:  25,
			MaxTravel: 10,
			Retract:   2,
			Spacing:   10,
			Clearance: 2,
		},
		Jog: Jog{Interval: Duration{200 * time.Millisecond}},
	}
}

// Load parses a configuration file over Default. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &cfg, nil
}

// Writer returns the protocol writer configuration.
func (c *Config) Writer() grbl.Config {
	var w grbl.Config
	if c.Grbl.Basic {
		w = grbl.BasicConfig()
	} else {
		w.Suppress = c.Grbl.Suppress
		w.Compensation = c.Grbl.Compensation
		w.CheckMode = c.Grbl.CheckMode
	}
	w.BannerTimeout = c.Grbl.BannerTimeout.Duration
	w.ResponseTimeout = c.Grbl.ResponseTimeout.Duration
	w.MotionTimeout = c.Grbl.MotionTimeout.Duration
	return w
}

// Opener returns the link to the controller.
func (c *Config) Opener() grbl.Opener {
	if c.Link.SPJS != "" {
		return spjs.Opener{URL: c.Link.SPJS, Port: c.Link.Port, Baud: c.Link.Baud}
	}
	return grbl.SerialOpener{Pattern: c.Link.Serial, Baud: c.Link.Baud}
}

// ProbeOptions returns the single probe defaults.
func (c *Config) ProbeOptions() machine.ProbeOptions {
	return machine.ProbeOptions{
		FeedRate:  c.Probe.FeedRate,
		MaxTravel: c.Probe.MaxTravel,
		Retract:   c.Probe.Retract,
		Offset:    c.Probe.Offset,
	}
}

// GridOptions returns the grid probe defaults.
func (c *Config) GridOptions() machine.GridOptions {
	return machine.GridOptions{
		Spacing:   c.Probe.Spacing,
		Clearance: c.Probe.Clearance,
		FeedRate:  c.Probe.FeedRate,
		MaxTravel: c.Probe.MaxTravel,
		Offset:    c.Probe.Offset,
	}
}
