package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thetooth/hopwatch/config"
)

func TestInterval(t *testing.T) {
	expectedInterval := config.Interval{Duration: 1 * time.Second}
	expected := []byte(`"1s"`)

	b, err := expectedInterval.MarshalJSON()
	if err != nil {
		t.Error(err)
	}
	if !bytes.Equal(b, expected) {
		t.Error("Encoded interval does not match expected value")
	}

	n := config.Interval{}
	err = n.UnmarshalJSON(expected)
	if err != nil {
		t.Error(err)
	}
	if !reflect.DeepEqual(n, expectedInterval) {
		t.Error("Decoded interval does not match expected value")
	}
}

func TestIntervalYAML(t *testing.T) {
	var v struct {
		Every config.Interval `yaml:"every"`
	}
	if err := yaml.Unmarshal([]byte("every: 45m\n"), &v); err != nil {
		t.Fatal(err)
	}
	if v.Every.Duration != 45*time.Minute {
		t.Errorf("Decoded %v, expected 45m", v.Every)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "every: 45m0s\n" {
		t.Errorf("Encoded %q", out)
	}

	if err := yaml.Unmarshal([]byte("every: soon\n"), &v); err == nil {
		t.Error("Expected an error for an invalid duration")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BadZScore != 1.0 || cfg.WindowDays != 7 || cfg.Percentile != 97.73 || cfg.RTTColumn != "max_rtt" {
		t.Errorf("Unexpected baseline defaults %+v", cfg)
	}
	if cfg.ProbeCount != 5 || cfg.MaxTTL != 30 || cfg.ProbeTimeout.Duration != time.Second ||
		cfg.ProbeInterval.Duration != 200*time.Millisecond || !cfg.IsPrivileged() {
		t.Errorf("Unexpected probe defaults %+v", cfg)
	}
	if cfg.CollectInterval.Duration != 30*time.Minute || cfg.Parallel != 1 {
		t.Errorf("Unexpected collection defaults %+v", cfg)
	}
	if cfg.DataDir != "data" || cfg.PopularSites != "popular_us_sites.csv" || cfg.Sites != "sites.csv" {
		t.Errorf("Unexpected path defaults %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "hopwatch.yaml", `
bad_zscore: 2.5
window_days: 3
rtt_column: avg_rtt
probe_count: 3
probe_timeout: 500ms
privileged: false
collect_interval: 1h
parallel: 4
data_dir: /var/lib/hopwatch
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.BadZScore != 2.5 || cfg.WindowDays != 3 || cfg.RTTColumn != "avg_rtt" {
		t.Errorf("Loaded configuration does not match expected: %+v", cfg)
	}
	if cfg.ProbeCount != 3 || cfg.ProbeTimeout.Duration != 500*time.Millisecond || cfg.IsPrivileged() {
		t.Errorf("Loaded probe settings do not match expected: %+v", cfg)
	}
	if cfg.CollectInterval.Duration != time.Hour || cfg.Parallel != 4 || cfg.DataDir != "/var/lib/hopwatch" {
		t.Errorf("Loaded collection settings do not match expected: %+v", cfg)
	}
	if cfg.Percentile != 97.73 || cfg.MaxTTL != 30 {
		t.Error("Unset fields should keep their defaults")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for _, body := range []string{
		"rtt_column: median\n",
		"percentile: 120\n",
		"window_days: -1\n",
		"log_level: chatty\n",
		"probe_timeout: fast\n",
		"bad_zscore: [1]\n",
	} {
		if _, err := config.Load(writeFile(t, "bad.yaml", body)); err == nil {
			t.Errorf("Expected %q to be rejected", body)
		}
	}
}

func TestLoadSites(t *testing.T) {
	path := writeFile(t, "sites.csv", "site\ngoogle.com\n\nexample.com\ngoogle.com\n  wikipedia.org\n")
	sites, err := config.LoadSites(path)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"google.com", "example.com", "wikipedia.org"}
	if !reflect.DeepEqual(sites, expected) {
		t.Errorf("LoadSites = %v, expected %v", sites, expected)
	}

	if !config.Contains(sites, "Example.com") || config.Contains(sites, "bing.com") {
		t.Error("Contains does not match listed sites")
	}

	if _, err := config.LoadSites(filepath.Join(t.TempDir(), "missing.csv")); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}
