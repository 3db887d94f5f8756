// Command oxyshade compiles shader programs headlessly and prints their constant buffer layouts.
//
// Usage:
//
//	oxyshade [-config oxy.toml] [-dir shaders] [-stages vs,ps] [-D NAME=VALUE]... [-spirv out] Name...
//
// Without -dir or a configured shader directory the built-in shaders are used.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-render/shaders"
)

// defineFlags collects repeated -D flags.
type defineFlags []shader.Macro

func (d *defineFlags) String() string {
	parts := make([]string, len(*d))
	for i, m := range *d {
		parts[i] = m.Name + "=" + m.Value
	}
	return strings.Join(parts, ",")
}

func (d *defineFlags) Set(v string) error {
	m, err := parseDefine(v)
	if err != nil {
		return err
	}
	*d = append(*d, m)
	return nil
}

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		dir        = flag.String("dir", "", "shader directory (overrides the configuration)")
		stageList  = flag.String("stages", "vs,ps", "comma separated stages: vs, gs, ps, cs")
		spirvDir   = flag.String("spirv", "", "directory to write SPIR-V binaries to")
		verbose    = flag.Bool("v", false, "debug logging")
		defines    defineFlags
	)
	flag.Var(&defines, "D", "macro definition NAME[=VALUE], repeatable")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *configPath, *dir, *stageList, *spirvDir, defines, flag.Args()); err != nil {
		logger.Error("oxyshade failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, dir, stageList, spirvDir string, defines []shader.Macro, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("no shader names given")
	}
	stages, err := parseStages(stageList)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	opts := []renderer.RendererBuilderOption{
		renderer.WithLogger(logger),
		renderer.WithRegistryOptions(
			registry.WithPoolCapacity(cfg.Shaders.PoolCapacity),
			registry.WithPreloadWorkers(cfg.Shaders.PreloadWorkers),
		),
	}
	switch {
	case dir != "":
		opts = append(opts, renderer.WithShaderDir(dir))
	case cfg.Shaders.Dir != "":
		opts = append(opts, renderer.WithShaderDir(cfg.Shaders.Dir))
	default:
		opts = append(opts, renderer.WithShaderFS(shaders.FS))
	}

	r, err := renderer.NewRenderer(renderer.BackendTypeMemory, opts...)
	if err != nil {
		return err
	}
	defer r.Exit()

	descs := make([]shader.Descriptor, len(names))
	for i, name := range names {
		descs[i] = shader.NewDescriptor(name, stages...).WithMacros(defines...)
	}
	if err := r.PreloadShaders(descs...); err != nil {
		return err
	}

	reg := r.Registry()
	for _, id := range reg.Programs() {
		p, _ := reg.Get(id)
		p.LogLayouts()
		for _, bp := range p.Textures() {
			logger.Info("texture", "shader", p.Name(), "name", bp.Name, "stage", bp.Stage, "slot", bp.Slot)
		}
		for _, bp := range p.Samplers() {
			logger.Info("sampler", "shader", p.Name(), "name", bp.Name, "stage", bp.Stage, "slot", bp.Slot)
		}
		if spirvDir == "" {
			continue
		}
		if err := writeBinaries(spirvDir, p.Name(), p.Binaries()); err != nil {
			return err
		}
	}
	return nil
}

// writeBinaries writes one <name>_<stage>.spv file per compiled stage.
func writeBinaries(dir, name string, bins []*shader.Binary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, bin := range bins {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.spv", name, bin.Stage))
		if err := os.WriteFile(path, bin.Code, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

var stageNames = map[string]device.Stage{
	"vs": device.StageVertex, "vertex": device.StageVertex,
	"gs": device.StageGeometry, "geometry": device.StageGeometry,
	"ps": device.StagePixel, "pixel": device.StagePixel, "fs": device.StagePixel,
	"cs": device.StageCompute, "compute": device.StageCompute,
}

// parseStages parses a comma separated stage list.
func parseStages(list string) ([]device.Stage, error) {
	var stages []device.Stage
	for _, part := range strings.Split(list, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		s, ok := stageNames[part]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", part)
		}
		stages = append(stages, s)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages given")
	}
	return stages, nil
}

// parseDefine parses NAME or NAME=VALUE. A bare name is defined as 1.
func parseDefine(v string) (shader.Macro, error) {
	name, value, found := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return shader.Macro{}, fmt.Errorf("empty macro name in %q", v)
	}
	if !found {
		value = "1"
	}
	return shader.Macro{Name: name, Value: value}, nil
}
