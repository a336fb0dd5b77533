package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/flint/flash"
)

// Config describes the image and geometry the tool operates on.
type Config struct {
	Image    string         `yaml:"image"`
	Window   WindowConfig   `yaml:"window"`
	Geometry GeometryConfig `yaml:"geometry"`
}

// WindowConfig is the storage window, both bounds inclusive.
type WindowConfig struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// GeometryConfig is the block geometry of the filesystem consumer.
type GeometryConfig struct {
	BlockSize  uint32 `yaml:"block_size"`
	BlockCount uint32 `yaml:"block_count"`
	PageSize   uint32 `yaml:"page_size"`
}

// LoadConfig reads and validates the yaml config.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.WithStack(err)
	}

	if cfg.Window.Start == 0 && cfg.Window.End == 0 {
		cfg.Window.Start = flash.DefaultStartAddr
		cfg.Window.End = flash.DefaultEndAddr
	}
	if cfg.Geometry.PageSize == 0 {
		cfg.Geometry.PageSize = cfg.Geometry.BlockSize
	}

	if cfg.Image == "" {
		return Config{}, errors.New("config: image path is required")
	}
	if cfg.Geometry.BlockSize == 0 {
		return Config{}, errors.New("config: block_size is required")
	}
	if cfg.Window.End <= cfg.Window.Start {
		return Config{}, errors.Errorf("config: invalid window %#x-%#x", cfg.Window.Start, cfg.Window.End)
	}
	if cfg.FlashWindow().Size()%cfg.Geometry.PageSize != 0 {
		return Config{}, errors.Errorf("config: window size %d is not a multiple of page size %d", cfg.FlashWindow().Size(), cfg.Geometry.PageSize)
	}

	return cfg, nil
}

// FlashWindow returns the window as the flash package type.
func (c Config) FlashWindow() flash.Window {
	return flash.Window{Start: c.Window.Start, End: c.Window.End}
}
