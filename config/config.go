package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/thetooth/hopwatch/record"
	"github.com/thetooth/hopwatch/statistics"
)

// Load reads a YAML configuration file. A missing file yields the defaults.
func Load(path string) (cfg *Config, err error) {
	cfg = &Config{}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Debugf("[ CONFIG ] %v not found, using defaults", path)
		cfg.ApplyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %v: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}

	return cfg, nil
}

type Config struct {
	// BadZScore is the anomaly threshold, scores at or above it are flagged
	BadZScore float64 `json:"bad_zscore" yaml:"bad_zscore"`
	// WindowDays bounds the history used for baselines
	WindowDays int     `json:"window_days" yaml:"window_days"`
	Percentile float64 `json:"percentile" yaml:"percentile"`
	RTTColumn  string  `json:"rtt_column" yaml:"rtt_column"`

	ProbeCount    int      `json:"probe_count" yaml:"probe_count"`
	MaxTTL        int      `json:"max_ttl" yaml:"max_ttl"`
	ProbeTimeout  Interval `json:"probe_timeout" yaml:"probe_timeout"`
	ProbeInterval Interval `json:"probe_interval" yaml:"probe_interval"`
	Privileged    *bool    `json:"privileged" yaml:"privileged"`
	Interface     string   `json:"interface" yaml:"interface"`

	CollectInterval Interval `json:"collect_interval" yaml:"collect_interval"`
	Parallel        int      `json:"parallel" yaml:"parallel"`
	FastRun         bool     `json:"fast_run" yaml:"fast_run"`

	DataDir      string `json:"data_dir" yaml:"data_dir"`
	PopularSites string `json:"popular_sites" yaml:"popular_sites"`
	Sites        string `json:"sites" yaml:"sites"`
	GeoIPASN     string `json:"geoip_asn" yaml:"geoip_asn"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.BadZScore == 0 {
		c.BadZScore = 1.0
	}
	if c.WindowDays == 0 {
		c.WindowDays = 7
	}
	if c.Percentile == 0 {
		c.Percentile = statistics.DefaultPercentile
	}
	if c.RTTColumn == "" {
		c.RTTColumn = record.ColumnMaxRTT
	}
	if c.ProbeCount == 0 {
		c.ProbeCount = 5
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 30
	}
	if c.ProbeTimeout.Duration == 0 {
		c.ProbeTimeout.Duration = time.Second
	}
	if c.ProbeInterval.Duration == 0 {
		c.ProbeInterval.Duration = 200 * time.Millisecond
	}
	if c.Privileged == nil {
		privileged := true
		c.Privileged = &privileged
	}
	if c.CollectInterval.Duration == 0 {
		c.CollectInterval.Duration = 30 * time.Minute
	}
	if c.Parallel == 0 {
		c.Parallel = 1
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.PopularSites == "" {
		c.PopularSites = "popular_us_sites.csv"
	}
	if c.Sites == "" {
		c.Sites = "sites.csv"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	switch {
	case c.BadZScore < 0:
		return errors.New("bad_zscore must not be negative")
	case c.WindowDays < 1:
		return errors.New("window_days must be at least 1")
	case c.Percentile <= 0 || c.Percentile > 100:
		return fmt.Errorf("percentile %v out of range (0, 100]", c.Percentile)
	case !record.ValidColumn(c.RTTColumn):
		return fmt.Errorf("unknown rtt_column %q", c.RTTColumn)
	case c.ProbeCount < 1:
		return errors.New("probe_count must be at least 1")
	case c.MaxTTL < 1 || c.MaxTTL > 255:
		return fmt.Errorf("max_ttl %d out of range [1, 255]", c.MaxTTL)
	case c.ProbeTimeout.Duration < 0 || c.ProbeInterval.Duration < 0 || c.CollectInterval.Duration < 0:
		return errors.New("durations must not be negative")
	case c.Parallel < 1:
		return errors.New("parallel must be at least 1")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsPrivileged reports whether raw ICMP sockets should be used
func (c *Config) IsPrivileged() bool {
	return c.Privileged == nil || *c.Privileged
}

type Interval struct {
	time.Duration
}

func (d *Interval) UnmarshalJSON(data []byte) (err error) {
	var pstr string
	err = json.Unmarshal(data, &pstr)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d *Interval) MarshalJSON() (data []byte, err error) {
	s := d.Duration.String()
	data, err = json.Marshal(s)
	return
}

func (d *Interval) UnmarshalYAML(value *yaml.Node) (err error) {
	var pstr string
	if err = value.Decode(&pstr); err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d Interval) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
