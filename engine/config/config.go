// Package config loads the engine's TOML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultBackend is the renderer backend used when none is configured.
	DefaultBackend = "wgpu"

	// DefaultPoolCapacity is the constant pool capacity in buffers.
	DefaultPoolCapacity = 4096

	// DefaultPreloadWorkers is the number of goroutines compiling stages during preload.
	DefaultPreloadWorkers = 4

	// DefaultDebounceMillis is the quiet interval in milliseconds before a changed shader file is reloaded.
	DefaultDebounceMillis = 100

	// DefaultExposure is the tonemapping exposure.
	DefaultExposure float32 = 1

	// DefaultShadowMapDimension is the width and height of the shadow map.
	DefaultShadowMapDimension = 2048

	// DefaultInstanceCount is the number of world matrices per instanced shadow draw.
	DefaultInstanceCount = 256

	// DefaultTickRate is the engine update rate in ticks per second.
	DefaultTickRate = 60.0

	// DefaultWidth and DefaultHeight are the offscreen target size.
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Config is the root of a configuration file.
type Config struct {
	Renderer    RendererConfig    `toml:"renderer"`
	Shaders     ShaderConfig      `toml:"shaders"`
	PostProcess PostProcessConfig `toml:"postprocess"`
	Shadow      ShadowConfig      `toml:"shadow"`
	Engine      EngineConfig      `toml:"engine"`
}

// RendererConfig selects and sizes the device.
type RendererConfig struct {
	Backend       string `toml:"backend"`
	ForceSoftware bool   `toml:"force_software"`
	Width         uint32 `toml:"width"`
	Height        uint32 `toml:"height"`
}

// ShaderConfig configures shader loading and the constant pool.
type ShaderConfig struct {
	Dir            string   `toml:"dir"`
	HotReload      bool     `toml:"hot_reload"`
	DebounceMillis int      `toml:"debounce_ms"`
	PoolCapacity   int      `toml:"pool_capacity"`
	PreloadWorkers int      `toml:"preload_workers"`
	Preload        []string `toml:"preload"`
}

// PostProcessConfig holds the tonemapping settings.
type PostProcessConfig struct {
	Exposure      float32 `toml:"exposure"`
	HDR           bool    `toml:"hdr"`
	SingleChannel bool    `toml:"single_channel"`
}

// ShadowConfig sizes the shadow pass.
type ShadowConfig struct {
	MapDimension  uint32 `toml:"map_dimension"`
	InstanceCount int    `toml:"instance_count"`
}

// EngineConfig configures the update loop.
type EngineConfig struct {
	TickRate   float64 `toml:"tick_rate"`
	FrameLimit float64 `toml:"frame_limit"`
	Profiling  bool    `toml:"profiling"`
}

// Default returns the configuration used when no file is given.
//
// Returns:
//   - Config: the default configuration
func Default() Config {
	return Config{
		Renderer: RendererConfig{
			Backend: DefaultBackend,
			Width:   DefaultWidth,
			Height:  DefaultHeight,
		},
		Shaders: ShaderConfig{
			HotReload:      false,
			DebounceMillis: DefaultDebounceMillis,
			PoolCapacity:   DefaultPoolCapacity,
			PreloadWorkers: DefaultPreloadWorkers,
		},
		PostProcess: PostProcessConfig{
			Exposure: DefaultExposure,
			HDR:      true,
		},
		Shadow: ShadowConfig{
			MapDimension:  DefaultShadowMapDimension,
			InstanceCount: DefaultInstanceCount,
		},
		Engine: EngineConfig{
			TickRate: DefaultTickRate,
		},
	}
}

// Load reads a configuration file. A leading ~ in path is expanded to the home directory.
// Keys missing from the file keep their defaults.
//
// Parameters:
//   - path: the file path
//
// Returns:
//   - Config: the configuration
//   - error: an error if the file cannot be read or decoded
func Load(path string) (Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to expand config path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", expanded, err)
	}
	// A relative shader directory is taken relative to the config file.
	if cfg.Shaders.Dir != "" && !filepath.IsAbs(cfg.Shaders.Dir) {
		cfg.Shaders.Dir = filepath.Join(filepath.Dir(expanded), cfg.Shaders.Dir)
	}
	return cfg, nil
}

// Parse decodes a TOML document over the defaults. Unknown keys are rejected.
//
// Parameters:
//   - data: the TOML document
//
// Returns:
//   - Config: the configuration
//   - error: a decode or validation error
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as TOML.
//
// Parameters:
//   - path: the file path; a leading ~ is expanded
//   - cfg: the configuration
//
// Returns:
//   - error: an error if the file cannot be written
func Save(path string, cfg Config) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand config path %q: %w", path, err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(expanded, data, 0o644)
}

// normalize replaces explicit zero values with defaults, expands ~ and rejects negative sizes.
func (c *Config) normalize() error {
	def := Default()

	c.Renderer.Backend = common.Coalesce(c.Renderer.Backend, def.Renderer.Backend)
	c.Renderer.Width = common.Coalesce(c.Renderer.Width, def.Renderer.Width)
	c.Renderer.Height = common.Coalesce(c.Renderer.Height, def.Renderer.Height)

	c.Shaders.DebounceMillis = common.Coalesce(c.Shaders.DebounceMillis, def.Shaders.DebounceMillis)
	c.Shaders.PoolCapacity = common.Coalesce(c.Shaders.PoolCapacity, def.Shaders.PoolCapacity)
	c.Shaders.PreloadWorkers = common.Coalesce(c.Shaders.PreloadWorkers, def.Shaders.PreloadWorkers)

	c.PostProcess.Exposure = common.Coalesce(c.PostProcess.Exposure, def.PostProcess.Exposure)

	c.Shadow.MapDimension = common.Coalesce(c.Shadow.MapDimension, def.Shadow.MapDimension)
	c.Shadow.InstanceCount = common.Coalesce(c.Shadow.InstanceCount, def.Shadow.InstanceCount)

	c.Engine.TickRate = common.Coalesce(c.Engine.TickRate, def.Engine.TickRate)

	switch {
	case c.Shaders.DebounceMillis < 0:
		return fmt.Errorf("shaders.debounce_ms must not be negative, got %d", c.Shaders.DebounceMillis)
	case c.Shaders.PoolCapacity < 0:
		return fmt.Errorf("shaders.pool_capacity must not be negative, got %d", c.Shaders.PoolCapacity)
	case c.Shaders.PreloadWorkers < 0:
		return fmt.Errorf("shaders.preload_workers must not be negative, got %d", c.Shaders.PreloadWorkers)
	case c.Shadow.InstanceCount < 0:
		return fmt.Errorf("shadow.instance_count must not be negative, got %d", c.Shadow.InstanceCount)
	case c.Engine.TickRate < 0 || c.Engine.FrameLimit < 0:
		return fmt.Errorf("engine rates must not be negative")
	}

	if c.Shaders.Dir != "" {
		dir, err := homedir.Expand(c.Shaders.Dir)
		if err != nil {
			return fmt.Errorf("failed to expand shaders.dir %q: %w", c.Shaders.Dir, err)
		}
		c.Shaders.Dir = dir
	}
	return nil
}
