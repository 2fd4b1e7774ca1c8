package renderer

import (
	"fmt"
	"io"
	"os"

	"github.com/achilleasa/polaris-accum/imageop"
	"gopkg.in/yaml.v3"
)

// Config is the file representation of a render job: the render options
// followed by the ordered image operation pipeline.
//
//	width: 640
//	height: 480
//	format: srgba
//	channels: accum,variance
//	pipeline:
//	  - name: exposure
//	    params: {scale: 1.5}
//	  - name: tonemap-reinhard
type Config struct {
	Options  `yaml:",inline"`
	Pipeline []imageop.Descriptor `yaml:"pipeline"`
}

// Load a render configuration from a YAML file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("renderer: could not open config: %w", err)
	}
	defer f.Close()

	return DecodeConfig(f)
}

// Decode a render configuration.
func DecodeConfig(in io.Reader) (*Config, error) {
	cfg := &Config{Options: DefaultOptions()}
	if err := yaml.NewDecoder(in).Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("renderer: could not decode config: %w", err)
	}
	return cfg, nil
}

// Assemble the configured pipeline using the given operation registry.
func (cfg *Config) BuildPipeline(reg *imageop.Registry) (*imageop.Pipeline, error) {
	return reg.Build(cfg.Pipeline)
}
