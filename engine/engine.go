// Package engine runs the update and render loops around the renderer and its passes.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/light"
	"github.com/Carmen-Shannon/oxy-render/engine/profiler"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pass"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-render/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrNotInitialized is returned by Load, Render and Run before Init.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrNotLoaded is returned by Render and Run before Load.
	ErrNotLoaded = errors.New("engine not loaded")
)

// ShadowFrame is the shadow pass input of one frame. The pass renders from Light's light space
// around Center, usually the camera position. Without a shadow-casting light, or for a point
// light, the pass is skipped.
type ShadowFrame struct {
	Light     light.Light
	Center    mgl32.Vec3
	Casters   []pass.ShadowCaster
	Instanced map[device.MeshID][]mgl32.Mat4
}

// engine implements the Engine interface.
// Coordinates the update and render goroutines.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	mu      *sync.Mutex
	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    *sync.Once // Ensures quitChannel is only closed once
	renderErr   error

	cfg             config.Config
	rendererOptions []renderer.RendererBuilderOption
	extraShaders    []shader.Descriptor
	baseLogger      *slog.Logger
	logger          *slog.Logger

	renderer    renderer.Renderer
	sceneTarget device.RenderTargetID
	sceneColor  device.TextureID
	shadow      *pass.ShadowPass
	postProcess *pass.PostProcessPass
	resolve     *pass.ResolvePass
	tonemapping pass.TonemappingSettings
	loaded      bool

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(r renderer.Renderer, deltaTime float32) error
	shadowSource   func() ShadowFrame

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
//
// The lifecycle is Init, Load, then Run (or repeated Update and Render calls driven by the
// caller), then Exit. Render and every renderer call must stay on one goroutine.
type Engine interface {
	// Init creates the renderer and the offscreen scene target.
	//
	// Returns:
	//   - error: an error if the backend is unknown or the device cannot be created
	Init() error

	// Load compiles every shader the passes use plus the configured preload list, in
	// parallel, then creates the shadow, post-process and resolve passes.
	//
	// Returns:
	//   - error: the joined compile errors, or a pass creation error
	Load() error

	// Renderer returns the renderer created by Init.
	//
	// Returns:
	//   - renderer.Renderer: the renderer, nil before Init
	Renderer() renderer.Renderer

	// Output returns the texture holding the last resolved frame.
	//
	// Returns:
	//   - device.TextureID: the texture
	Output() device.TextureID

	// ShadowMap returns the depth texture written by the shadow pass.
	//
	// Returns:
	//   - device.TextureID: the texture
	ShadowMap() device.TextureID

	// SceneTarget returns the offscreen target the render callback draws into.
	//
	// Returns:
	//   - device.RenderTargetID: the target
	SceneTarget() device.RenderTargetID

	// SetTonemapping replaces the post-process settings used by subsequent frames.
	//
	// Parameters:
	//   - settings: the tonemapping settings
	SetTonemapping(settings pass.TonemappingSettings)

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for game logic; it runs on the update goroutine and must not touch the renderer.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function that draws the scene into SceneTarget each frame.
	//
	// Parameters:
	//   - callback: function called on the render goroutine with the renderer and the delta time
	SetRenderCallback(callback func(r renderer.Renderer, deltaTime float32) error)

	// SetShadowSource registers the function that supplies the light and shadow casters of
	// each frame. Without a source the shadow pass is skipped.
	//
	// Parameters:
	//   - source: the shadow frame supplier
	SetShadowSource(source func() ShadowFrame)

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Update runs one engine tick.
	//
	// Parameters:
	//   - deltaTime: seconds since the previous tick
	Update(deltaTime float32)

	// Render draws one frame: shader hot reload, shadows, the scene, tonemapping and resolve.
	//
	// Parameters:
	//   - deltaTime: seconds since the previous frame
	//
	// Returns:
	//   - error: the first pass or callback error
	Render(deltaTime float32) error

	// Run starts the update and render goroutines and blocks until Quit or a render error.
	//
	// Returns:
	//   - error: the render error that stopped the loop, if any
	Run() error

	// Quit signals all engine goroutines to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()

	// Exit stops the loops and releases the renderer. Safe to call multiple times.
	Exit()
}

var _ Engine = &engine{}

// NewEngine creates a new Engine instance with the provided options.
//
// Parameters:
//   - options: functional options for engine configuration (config, profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		mu:              &sync.Mutex{},
		quitChannel:     make(chan struct{}),
		quitOnce:        &sync.Once{},
		cfg:             config.Default(),
		sceneTarget:     -1,
		sceneColor:      -1,
	}

	for _, opt := range options {
		opt(e)
	}
	if e.baseLogger == nil {
		e.baseLogger = slog.Default()
	}
	e.logger = e.baseLogger.With("component", "engine")

	e.profilingEnabled = e.profilingEnabled || e.cfg.Engine.Profiling
	if e.engineTickRate == 0 {
		e.engineTickRate = tickDuration(e.cfg.Engine.TickRate)
	}
	if e.renderFrameLimit == 0 && e.cfg.Engine.FrameLimit > 0 {
		e.renderFrameLimit = time.Second / time.Duration(e.cfg.Engine.FrameLimit)
	}
	e.tonemapping = pass.TonemappingSettings{
		Exposure:      e.cfg.PostProcess.Exposure,
		HDREnabled:    e.cfg.PostProcess.HDR,
		SingleChannel: e.cfg.PostProcess.SingleChannel,
	}
	e.profiler = profiler.NewProfiler(profiler.WithLogger(e.baseLogger))
	return e
}

func (e *engine) Init() error {
	if e.renderer != nil {
		return nil
	}
	backend, err := renderer.ParseBackendType(e.cfg.Renderer.Backend)
	if err != nil {
		return err
	}

	r, err := renderer.NewRenderer(backend, e.rendererConfig()...)
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}
	rt, color, err := r.CreateRenderTarget("Scene", e.cfg.Renderer.Width, e.cfg.Renderer.Height)
	if err != nil {
		r.Exit()
		return fmt.Errorf("failed to create scene target: %w", err)
	}
	e.renderer = r
	e.sceneTarget = rt
	e.sceneColor = color
	e.logger.Info("engine initialized", "backend", backend, "width", e.cfg.Renderer.Width, "height", e.cfg.Renderer.Height)
	return nil
}

// rendererConfig maps the configuration to renderer options. Options passed with
// WithRendererOptions are applied last.
func (e *engine) rendererConfig() []renderer.RendererBuilderOption {
	opts := []renderer.RendererBuilderOption{
		renderer.WithLogger(e.baseLogger),
		renderer.WithForceSoftwareRenderer(e.cfg.Renderer.ForceSoftware),
		renderer.WithHotReload(e.cfg.Shaders.HotReload),
		renderer.WithRegistryOptions(
			registry.WithPoolCapacity(e.cfg.Shaders.PoolCapacity),
			registry.WithPreloadWorkers(e.cfg.Shaders.PreloadWorkers),
		),
		renderer.WithWatcherOptions(
			registry.WithDebounce(time.Duration(e.cfg.Shaders.DebounceMillis) * time.Millisecond),
		),
	}
	if e.cfg.Shaders.Dir != "" {
		opts = append(opts, renderer.WithShaderDir(e.cfg.Shaders.Dir))
	} else {
		opts = append(opts, renderer.WithShaderFS(shaders.FS))
	}
	return append(opts, e.rendererOptions...)
}

func (e *engine) Load() error {
	if e.renderer == nil {
		return ErrNotInitialized
	}

	descs := []shader.Descriptor{
		pass.DepthShaderDescriptor(),
		pass.InstancedDepthShaderDescriptor(e.cfg.Shadow.InstanceCount),
		pass.FullScreenDescriptor("Tonemapping"),
		pass.FullScreenDescriptor("AAResolve"),
	}
	for _, name := range e.cfg.Shaders.Preload {
		descs = append(descs, shader.NewDescriptor(name, device.StageVertex, device.StagePixel))
	}
	descs = append(descs, e.extraShaders...)

	start := time.Now()
	if err := e.renderer.PreloadShaders(descs...); err != nil {
		return fmt.Errorf("failed to load shaders: %w", err)
	}
	e.logger.Info("shaders loaded", "count", e.renderer.Registry().Len(), "elapsed", time.Since(start))

	var err error
	e.shadow, err = pass.NewShadowPass(e.renderer,
		pass.WithShadowMapDimension(e.cfg.Shadow.MapDimension),
		pass.WithInstanceCount(e.cfg.Shadow.InstanceCount),
	)
	if err != nil {
		return err
	}
	if e.postProcess, err = pass.NewPostProcessPass(e.renderer, e.cfg.Renderer.Width, e.cfg.Renderer.Height); err != nil {
		return err
	}
	if e.resolve, err = pass.NewResolvePass(e.renderer, e.postProcess.Output(), e.cfg.Renderer.Width, e.cfg.Renderer.Height); err != nil {
		return err
	}
	e.loaded = true
	return nil
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Output() device.TextureID {
	if e.resolve == nil {
		return -1
	}
	return e.resolve.Output()
}

func (e *engine) ShadowMap() device.TextureID {
	if e.shadow == nil {
		return -1
	}
	return e.shadow.ShadowMap()
}

func (e *engine) SceneTarget() device.RenderTargetID {
	return e.sceneTarget
}

func (e *engine) SetTonemapping(settings pass.TonemappingSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tonemapping = settings
}

func (e *engine) Update(deltaTime float32) {
	if e.tickCallback != nil {
		e.tickCallback(deltaTime)
	}
}

func (e *engine) Render(deltaTime float32) error {
	if e.renderer == nil {
		return ErrNotInitialized
	}
	if !e.loaded {
		return ErrNotLoaded
	}

	// Reload failures keep the previous programs; the renderer logs them.
	e.renderer.PollShaderFiles()

	if e.shadowSource != nil {
		if err := e.renderShadows(e.shadowSource()); err != nil {
			return fmt.Errorf("shadow pass: %w", err)
		}
	}

	if err := e.renderer.BindRenderTarget(e.sceneTarget); err != nil {
		return err
	}
	if e.renderCallback != nil {
		if err := e.renderCallback(e.renderer, deltaTime); err != nil {
			return fmt.Errorf("scene: %w", err)
		}
	}

	e.mu.Lock()
	settings := e.tonemapping
	e.mu.Unlock()
	if err := e.postProcess.Render(e.sceneColor, settings); err != nil {
		return fmt.Errorf("post process pass: %w", err)
	}
	e.resolve.SetInput(e.postProcess.Output())
	if err := e.resolve.Render(); err != nil {
		return fmt.Errorf("resolve pass: %w", err)
	}

	if e.profilingEnabled && e.profiler != nil {
		e.profiler.Tick()
	}
	return nil
}

// renderShadows runs the shadow pass from the frame's light.
func (e *engine) renderShadows(frame ShadowFrame) error {
	if frame.Light == nil || !frame.Light.CastsShadows() {
		return nil
	}
	lightSpace, ok := frame.Light.LightSpace(frame.Center)
	if !ok {
		e.logger.Debug("light has no single light space, shadow pass skipped", "light_type", int(frame.Light.Type()))
		return nil
	}
	return e.shadow.Render(lightSpace, frame.Casters, frame.Instanced)
}

func (e *engine) Run() error {
	if e.renderer == nil {
		return ErrNotInitialized
	}
	if !e.loaded {
		return ErrNotLoaded
	}
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.handle()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	return e.renderErr
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Exit() {
	e.signalQuit()
	e.wg.Wait()
	if e.renderer != nil {
		e.renderer.Exit()
	}
}

// handle launches the engine and render goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleEngine()
	go e.handleRender()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now
			e.Update(dt)
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// A render error or panic stops the engine.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("render goroutine panicked: %v", r))
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			if err := e.Render(dt); err != nil {
				e.fail(err)
				return
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// fail records the error that stopped the render loop and signals quit.
func (e *engine) fail(err error) {
	e.logger.Error("render loop stopped", "error", err)
	e.mu.Lock()
	if e.renderErr == nil {
		e.renderErr = err
	}
	e.mu.Unlock()
	e.signalQuit()
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickDuration(fps)

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		e.engineTickRate = newRate
		return
	}

	// Non-blocking send; a pending update is replaced.
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderCallback(callback func(r renderer.Renderer, deltaTime float32) error) {
	e.renderCallback = callback
}

func (e *engine) SetShadowSource(source func() ShadowFrame) {
	e.shadowSource = source
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}

// tickDuration converts a rate in ticks per second to a period, defaulting to 60Hz.
func tickDuration(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}
