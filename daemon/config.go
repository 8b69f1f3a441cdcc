// Copyright (c) 2024 Bryan Frimin <bryan@frimin.fr>.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

package daemon

// Config is the daemon's runtime configuration: defaults, then an
// optional YAML file given by -cfg-file, then CLI flags, each layer
// overriding the one before, mirroring the source's configuration
// bridge.
type Config struct {
	Definition      string        `json:"definition" yaml:"definition"`
	Sources         []string      `json:"sources" yaml:"sources"`
	Port            int           `json:"port" yaml:"port"`
	Dynamic         bool          `json:"dynamic" yaml:"dynamic"`
	CleanupInterval float64       `json:"cleanup-interval" yaml:"cleanup-interval"`
	MetricsAddr     string        `json:"metrics-addr" yaml:"metrics-addr"`
	DumpFile        string        `json:"dump-file" yaml:"dump-file"`
	BlockSize       int           `json:"block-size" yaml:"block-size"`
	Tracing         TracingConfig `json:"tracing" yaml:"tracing"`
}

// TracingConfig controls the optional OTLP/HTTP trace exporter. It is
// off by default; a -cfg-file is the only way to turn it on, since
// the CLI surface mirrors the original's positional/flag-only
// arguments and has no room for exporter tuning knobs.
type TracingConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	MaxBatchSize  int     `json:"max-batch-size" yaml:"max-batch-size"`
	BatchTimeout  float64 `json:"batch-timeout" yaml:"batch-timeout"`
	ExportTimeout float64 `json:"export-timeout" yaml:"export-timeout"`
	MaxQueueSize  int     `json:"max-queue-size" yaml:"max-queue-size"`
}

// defaultConfig returns the configuration in force before any flag or
// file override is applied.
func defaultConfig() Config {
	return Config{
		Sources:         []string{"localhost"},
		Port:            11211,
		CleanupInterval: 30,
		MetricsAddr:     ":9090",
		BlockSize:       4,
		Tracing: TracingConfig{
			MaxBatchSize:  512,
			BatchTimeout:  5,
			ExportTimeout: 30,
			MaxQueueSize:  2048,
		},
	}
}
