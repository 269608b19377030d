// Package config loads the optional INI configuration layered under the
// mandatory CLI positional arguments (SPEC_FULL.md §4.5, §6). The four
// positional listen/backend arguments are never read from here — only
// ambient knobs the wire protocol itself has no opinion about.
package config

import (
	"os"

	"gopkg.in/ini.v1"
)

// SinkType selects which sink.Sink implementation cmd/pgquerylog wires up.
type SinkType string

const (
	SinkFile   SinkType = "file"
	SinkStdout SinkType = "stdout"
)

// Config holds every setting not carried by the mandatory CLI positional
// arguments.
type Config struct {
	Sink    SinkConfig
	Metrics MetricsConfig
	Debug   DebugConfig
}

// SinkConfig configures the rotating-file (or stdout) sink.
type SinkConfig struct {
	Type     SinkType
	Dir      string
	Name     string
	MaxBytes int64
	MaxFiles int
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Listen string
}

// DebugConfig toggles the alternative hex-dump interceptor in place of
// the SQL dissector (SPEC_FULL.md §4.2).
type DebugConfig struct {
	HexDump     bool
	HexDumpPath string
}

// Default returns the configuration used when no INI file is given or a
// key is absent from it — matches the teacher's MustString/MustInt
// defaulting idiom.
func Default() *Config {
	return &Config{
		Sink: SinkConfig{
			Type:     SinkFile,
			Dir:      "logs",
			Name:     "query",
			MaxBytes: 4 * 1024 * 1024,
			MaxFiles: 10,
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		Debug: DebugConfig{
			HexDump:     false,
			HexDumpPath: "hex_dump.log",
		},
	}
}

// Load reads path as an INI file layered over Default(), then applies
// PGQUERYLOG_* environment variable overrides. A missing path is not an
// error — it simply returns the defaults, matching deployments that
// configure everything through environment variables or flags alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			file, err := ini.Load(path)
			if err != nil {
				return nil, err
			}
			applySink(file, cfg)
			applyMetrics(file, cfg)
			applyDebug(file, cfg)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applySink(file *ini.File, cfg *Config) {
	sec := file.Section("sink")
	cfg.Sink.Type = SinkType(sec.Key("type").MustString(string(cfg.Sink.Type)))
	cfg.Sink.Dir = sec.Key("dir").MustString(cfg.Sink.Dir)
	cfg.Sink.Name = sec.Key("name").MustString(cfg.Sink.Name)
	cfg.Sink.MaxBytes = sec.Key("max_bytes").MustInt64(cfg.Sink.MaxBytes)
	cfg.Sink.MaxFiles = sec.Key("max_files").MustInt(cfg.Sink.MaxFiles)
}

func applyMetrics(file *ini.File, cfg *Config) {
	sec := file.Section("metrics")
	cfg.Metrics.Listen = sec.Key("listen").MustString(cfg.Metrics.Listen)
}

func applyDebug(file *ini.File, cfg *Config) {
	sec := file.Section("debug")
	cfg.Debug.HexDump = sec.Key("hexdump").MustBool(cfg.Debug.HexDump)
	cfg.Debug.HexDumpPath = sec.Key("hexdump_path").MustString(cfg.Debug.HexDumpPath)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PGQUERYLOG_SINK_DIR"); v != "" {
		cfg.Sink.Dir = v
	}
	if v := os.Getenv("PGQUERYLOG_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}
