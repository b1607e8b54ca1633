// Package renderer runs the two GPU passes: the first pass rasterizes the
// tiles of every data source into a layered texture, the second pass
// composes those layers through the configured shader layers.
package renderer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/richinsley/goflex/atlas"
	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/graphics"
	"github.com/richinsley/goflex/log"
	"github.com/richinsley/goflex/shader"
)

const (
	FirstPassKey  = "first-pass"
	SecondPassKey = "second-pass"
)

// Event types.
const (
	EventProgramUsed     = "program-used"
	EventControlsCreated = "html-controls-created"
)

var (
	ErrCompile       = errors.New("shader program failed to compile")
	ErrNotRegistered = errors.New("program not registered")
	ErrUnsupported   = errors.New("context lacks required OpenGL features")
)

// Program produces the source of one GPU program and manages its state
// while bound.
type Program interface {
	Name() string
	Build(layers map[string]*shader.Layer, order []string) (*ProgramSource, error)
	// Load runs when the program is bound for the first time after being
	// (re)built.
	Load(u controls.Uniforms)
	// Unload runs when another program replaces it.
	Unload()
	Destroy()
}

// LayerControls describes the controls of one compiled layer.
type LayerControls struct {
	ID          string
	UID         string
	Name        string
	Descriptors []controls.Descriptor
}

type Event struct {
	Type     string
	Pass     string
	Controls []LayerControls
}

type Options struct {
	Logger *log.Logger
	// Mediator defaults to a new mediator with the built-in layers.
	Mediator *shader.Mediator
	// Atlas defaults to a new atlas with atlas.DefaultOptions.
	Atlas            *atlas.Atlas
	ProgramCacheSize int
	// MaxTextureUnits caps the tiles of one raster batch; zero queries
	// the context.
	MaxTextureUnits int
	// SkipTranslation compiles the generated GLSL ES 3.00 as written,
	// which only GLES contexts accept.
	SkipTranslation bool
	// Layer hooks.
	OnInvalidate func()
	OnRebuild    func()
}

// SecondPassData is the per-frame input of the second pass.
type SecondPassData struct {
	Output RenderOutput
	// Opacities holds one opacity per data source; missing entries are 1.
	Opacities []float32
	PixelSize float32
	Zoom      float32
}

type registered struct {
	program      Program
	gl           *glProgram
	src          *ProgramSource
	requiresLoad bool
}

// Renderer owns a context's GL state. All methods must run on the thread
// where the context is current.
type Renderer struct {
	ctx       graphics.Context
	log       *log.Logger
	opts      Options
	mediator  *shader.Mediator
	atlas     *atlas.Atlas
	ownsAtlas bool

	programs map[string]*registered
	active   string
	cache    *lru.Cache[string, *glProgram]
	evicted  map[*glProgram]bool

	firstPass  *FirstPass
	secondPass *SecondPass
	canvas     *canvas
	quadVAO    uint32

	layers map[string]*shader.Layer
	order  []string

	x, y, width, height int
	output              RenderOutput

	listeners map[string][]func(Event)
}

var (
	glInitOnce sync.Once
	glInitErr  error
)

// New initializes GL for ctx, which must be current, and registers both
// programs.
func New(ctx graphics.Context, opts Options) (*Renderer, error) {
	glInitOnce.Do(func() { glInitErr = gl.Init() })
	if glInitErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, glInitErr)
	}
	version := gl.GoStr(gl.GetString(gl.VERSION))
	if !versionSupported(version) {
		return nil, fmt.Errorf("%w: OpenGL %s", ErrUnsupported, version)
	}

	if opts.ProgramCacheSize <= 0 {
		opts.ProgramCacheSize = 16
	}
	r := &Renderer{
		ctx:       ctx,
		log:       opts.Logger,
		opts:      opts,
		mediator:  opts.Mediator,
		atlas:     opts.Atlas,
		programs:  make(map[string]*registered),
		evicted:   make(map[*glProgram]bool),
		layers:    make(map[string]*shader.Layer),
		listeners: make(map[string][]func(Event)),
	}
	if r.mediator == nil {
		r.mediator = shader.NewDefaultMediator(r.log)
	}
	if r.atlas == nil {
		r.atlas = atlas.New(atlas.DefaultOptions(), r.log)
		r.ownsAtlas = true
	}
	cache, err := lru.NewWithEvict(opts.ProgramCacheSize, r.onEvict)
	if err != nil {
		return nil, err
	}
	r.cache = cache
	r.log.Info("renderer initialized", "version", version, "gles", ctx.IsGLES())

	units := opts.MaxTextureUnits
	if units <= 0 {
		var n int32
		gl.GetIntegerv(gl.MAX_TEXTURE_IMAGE_UNITS, &n)
		units = int(n)
	}
	gl.GenVertexArrays(1, &r.quadVAO)

	r.firstPass = newFirstPass(r, units)
	r.secondPass = &SecondPass{r: r}
	if err := r.RegisterProgram(r.firstPass, FirstPassKey); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := r.RegisterProgram(r.secondPass, SecondPassKey); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

// versionSupported accepts desktop OpenGL 4.1+ and OpenGL ES 3.0+.
func versionSupported(v string) bool {
	var major, minor int
	if rest, ok := strings.CutPrefix(v, "OpenGL ES "); ok {
		if _, err := fmt.Sscanf(rest, "%d.%d", &major, &minor); err != nil {
			return false
		}
		return major >= 3
	}
	if _, err := fmt.Sscanf(v, "%d.%d", &major, &minor); err != nil {
		return false
	}
	return major > 4 || (major == 4 && minor >= 1)
}

func (r *Renderer) Mediator() *shader.Mediator { return r.mediator }
func (r *Renderer) Atlas() *atlas.Atlas        { return r.atlas }
func (r *Renderer) Context() graphics.Context  { return r.ctx }
func (r *Renderer) Logger() *log.Logger        { return r.log }

// On subscribes fn to events of the given type.
func (r *Renderer) On(event string, fn func(Event)) {
	r.listeners[event] = append(r.listeners[event], fn)
}

func (r *Renderer) emit(e Event) {
	for _, fn := range r.listeners[e.Type] {
		fn(e)
	}
}

// onEvict deletes evicted programs unless a pass still uses them; those are
// deleted when replaced.
func (r *Renderer) onEvict(_ string, p *glProgram) {
	for _, e := range r.programs {
		if e.gl == p {
			r.evicted[p] = true
			return
		}
	}
	r.deleteProgram(p)
}

func (r *Renderer) deleteProgram(p *glProgram) {
	r.atlas.Forget(p.id)
	p.delete()
}

// compile links src, reusing a cached program built from identical source.
func (r *Renderer) compile(src *ProgramSource) (*glProgram, error) {
	sum := sha256.Sum256([]byte(src.Vertex + "\x00" + src.Fragment))
	key := hex.EncodeToString(sum[:])
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}
	p, err := linkProgram(src.Vertex, src.Fragment, r.ctx.IsGLES(), !r.opts.SkipTranslation)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, p)
	return p, nil
}

// RegisterProgram builds p against the current layers, compiles it and
// binds it under key. A program already registered at key is replaced.
func (r *Renderer) RegisterProgram(p Program, key string) error {
	if old, ok := r.programs[key]; ok {
		if r.active == key {
			old.program.Unload()
			r.active = ""
		}
		if old.program != p {
			old.program.Destroy()
		}
		delete(r.programs, key)
		if r.evicted[old.gl] && !r.inUse(old.gl) {
			delete(r.evicted, old.gl)
			r.deleteProgram(old.gl)
		}
	}
	r.revalidateLayers()

	src, err := p.Build(r.layers, r.order)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if src.Empty() {
		return fmt.Errorf("%s: %w: empty source", key, ErrCompile)
	}
	prog, err := r.compile(src)
	if err != nil && key == SecondPassKey && len(src.Active) > 0 && r.isolateFailures(src) {
		if src, err = p.Build(r.layers, r.order); err == nil {
			prog, err = r.compile(src)
		}
	}
	if err != nil {
		r.log.Error("program compilation failed", "program", key, "error", err)
		r.log.Errorf("vertex source:\n%s", numbered(src.Vertex))
		r.log.Errorf("fragment source:\n%s", numbered(src.Fragment))
		return fmt.Errorf("%s: %w", key, err)
	}

	r.programs[key] = &registered{program: p, gl: prog, src: src, requiresLoad: true}
	r.log.Debug("program registered", "program", key, "layers", len(src.Active))
	return r.UseProgram(key)
}

func (r *Renderer) inUse(p *glProgram) bool {
	for _, e := range r.programs {
		if e.gl == p {
			return true
		}
	}
	return false
}

// isolateFailures compiles every layer of src alone and marks those that
// fail. It reports whether any layer was marked.
func (r *Renderer) isolateFailures(src *ProgramSource) bool {
	marked := false
	opts := SecondPassOptions{Mediator: r.mediator, Atlas: r.atlas}
	for _, id := range src.Active {
		l := r.layers[id]
		single := BuildSecondPass(map[string]*shader.Layer{id: l}, []string{id}, opts)
		if _, err := r.compile(single); err != nil {
			l.Fail(err)
			marked = true
		}
	}
	return marked
}

// UseProgram binds the program registered at key. Binding the active
// program again is a no-op unless it was rebuilt.
func (r *Renderer) UseProgram(key string) error {
	e, ok := r.programs[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNotRegistered)
	}
	if r.active == key && !e.requiresLoad {
		return nil
	}
	if prev, ok := r.programs[r.active]; ok && r.active != key {
		prev.program.Unload()
	}
	gl.UseProgram(e.gl.id)
	r.active = key
	if !e.requiresLoad {
		return nil
	}
	e.requiresLoad = false

	var lc []LayerControls
	if key == SecondPassKey {
		for _, id := range e.src.Active {
			l := r.layers[id]
			l.Init()
			lc = append(lc, LayerControls{ID: id, UID: l.UID(), Name: l.Config().Name, Descriptors: l.Descriptors()})
		}
	}
	e.program.Load(e.gl)
	r.emit(Event{Type: EventProgramUsed, Pass: key})
	if key == SecondPassKey {
		r.emit(Event{Type: EventControlsCreated, Pass: key, Controls: lc})
	}
	return nil
}

// Rebuild recompiles the second pass from the current layers and order.
func (r *Renderer) Rebuild() error {
	return r.RegisterProgram(r.secondPass, SecondPassKey)
}

// Source returns the source of the program registered at key.
func (r *Renderer) Source(key string) (*ProgramSource, bool) {
	e, ok := r.programs[key]
	if !ok {
		return nil, false
	}
	return e.src, true
}

func (r *Renderer) hooks() shader.Hooks {
	return shader.Hooks{Invalidate: r.opts.OnInvalidate, Rebuild: r.opts.OnRebuild}
}

// revalidateLayers recreates layers whose config type no longer matches
// their class.
func (r *Renderer) revalidateLayers() {
	for id, l := range r.layers {
		if l.Class().Type == l.Config().Type {
			continue
		}
		l.Destroy()
		nl, err := shader.NewLayer(r.mediator, l.Config(), r.hooks())
		if err != nil {
			r.log.Warn("dropping layer", "layer", id, "error", err)
			delete(r.layers, id)
			continue
		}
		r.layers[id] = nl
	}
}

// CreateLayer instantiates cfg, replacing any layer with the same id. The
// order is not changed.
func (r *Renderer) CreateLayer(cfg *shader.Config) (*shader.Layer, error) {
	l, err := shader.NewLayer(r.mediator, cfg, r.hooks())
	if err != nil {
		return nil, err
	}
	if old, ok := r.layers[cfg.ID]; ok {
		old.Destroy()
	}
	r.layers[cfg.ID] = l
	return l, nil
}

func (r *Renderer) RemoveLayer(id string) {
	if l, ok := r.layers[id]; ok {
		l.Destroy()
		delete(r.layers, id)
	}
}

// Configure replaces every layer with instances of configs and sets the
// order. Configs that fail to instantiate are skipped and returned joined.
func (r *Renderer) Configure(configs map[string]*shader.Config, order []string) error {
	for id := range r.layers {
		if _, ok := configs[id]; !ok {
			r.RemoveLayer(id)
		}
	}
	var errs []error
	for _, id := range slices.Sorted(maps.Keys(configs)) {
		if _, err := r.CreateLayer(configs[id]); err != nil {
			errs = append(errs, fmt.Errorf("layer %s: %w", id, err))
		}
	}
	r.SetOrder(order)
	return errors.Join(errs...)
}

func (r *Renderer) Layer(id string) (*shader.Layer, bool) {
	l, ok := r.layers[id]
	return l, ok
}

// Layers returns the live layers; callers must not modify the map.
func (r *Renderer) Layers() map[string]*shader.Layer { return r.layers }

func (r *Renderer) Order() []string { return slices.Clone(r.order) }

func (r *Renderer) SetOrder(order []string) { r.order = slices.Clone(order) }

// SetDimensions sizes the canvas and the first-pass targets. x, y place
// the canvas when presented.
func (r *Renderer) SetDimensions(x, y, width, height, sources int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	r.x, r.y = x, y
	if r.canvas == nil || r.width != width || r.height != height {
		if r.canvas != nil {
			r.canvas.destroy()
			r.canvas = nil
		}
		c, err := newCanvas(width, height)
		if err != nil {
			return err
		}
		r.canvas = c
		r.width, r.height = width, height
	}
	return r.firstPass.resize(width, height, sources)
}

func (r *Renderer) Size() (int, int) { return r.width, r.height }

// FirstPassProcessData renders one package per data source.
func (r *Renderer) FirstPassProcessData(packages []FPRenderPackage) (RenderOutput, error) {
	if r.canvas == nil {
		return RenderOutput{}, fmt.Errorf("first pass: dimensions not set")
	}
	if len(packages) > r.firstPass.layers {
		if err := r.firstPass.resize(r.width, r.height, len(packages)); err != nil {
			return RenderOutput{}, err
		}
	}
	if err := r.UseProgram(FirstPassKey); err != nil {
		return RenderOutput{}, err
	}
	r.output = r.firstPass.draw(r.programs[FirstPassKey].gl, packages)
	return r.output, nil
}

// SecondPassProcessData composes data.Output into the canvas.
func (r *Renderer) SecondPassProcessData(data SecondPassData) error {
	if r.canvas == nil {
		return fmt.Errorf("second pass: dimensions not set")
	}
	if err := r.UseProgram(SecondPassKey); err != nil {
		return err
	}
	e := r.programs[SecondPassKey]
	u := e.gl

	gl.BindFramebuffer(gl.FRAMEBUFFER, r.canvas.fbo)
	gl.Viewport(0, 0, int32(r.width), int32(r.height))
	gl.Disable(gl.BLEND)
	gl.Disable(gl.STENCIL_TEST)
	gl.Disable(gl.DEPTH_TEST)
	gl.ClearColor(0, 0, 0, 0)
	gl.Clear(gl.COLOR_BUFFER_BIT)

	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, data.Output.Texture)
	u.Uniform1i(u.Location("u_inputTextures"), 0)
	gl.ActiveTexture(gl.TEXTURE1)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, data.Output.Stencil)
	u.Uniform1i(u.Location("u_stencilTextures"), 1)
	if e.src.Atlas {
		r.atlas.Load(u, u.id, 2)
	}

	info := r.instanceInfo(e.src, data)
	u.Uniform4fv(u.Location("u_instanceInfo"), info)
	for _, id := range e.src.Active {
		r.layers[id].GLDrawing(u)
	}

	gl.BindVertexArray(r.quadVAO)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
	gl.BindVertexArray(0)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return nil
}

// instanceInfo fills u_instanceInfo: opacity, pixel size and zoom per
// slot. Slots whose source is absent this frame get zero opacity.
func (r *Renderer) instanceInfo(src *ProgramSource, data SecondPassData) []float32 {
	info := make([]float32, 4*max(len(src.Order), 1))
	for slot, id := range src.Order {
		l, ok := r.layers[id]
		if !ok {
			continue
		}
		var opacity float32
		if idx := l.TextureIndex(0); idx >= 0 && idx < data.Output.SourcesLength {
			opacity = 1
			if idx < len(data.Opacities) {
				opacity = data.Opacities[idx]
			}
		}
		info[4*slot] = opacity
		info[4*slot+1] = data.PixelSize
		info[4*slot+2] = data.Zoom
	}
	return info
}

// Present blits the canvas to the default framebuffer.
func (r *Renderer) Present() {
	if r.canvas != nil {
		r.canvas.present(r.x, r.y, r.width, r.height)
	}
}

// Canvas is the texture holding the last second-pass result.
func (r *Renderer) Canvas() uint32 {
	if r.canvas == nil {
		return 0
	}
	return r.canvas.textureID
}

// Output is the last first-pass result.
func (r *Renderer) Output() RenderOutput { return r.output }

// ReadPixels returns the canvas, top row first.
func (r *Renderer) ReadPixels() (*image.NRGBA, error) {
	if r.canvas == nil {
		return nil, fmt.Errorf("read pixels: dimensions not set")
	}
	return r.canvas.read()
}

// CopyRenderOutputTo draws this renderer's canvas into dst's canvas and
// presents it; swapping dst's buffers is left to its host. The contexts
// need not share objects. r's context must be current on entry and is
// current again on return.
func (r *Renderer) CopyRenderOutputTo(dst *Renderer) error {
	img, err := r.ReadPixels()
	if err != nil {
		return err
	}
	if dst.ctx != r.ctx {
		r.ctx.DetachCurrent()
		dst.ctx.MakeCurrent()
		defer func() {
			dst.ctx.DetachCurrent()
			r.ctx.MakeCurrent()
		}()
	}
	if dst.canvas == nil {
		return fmt.Errorf("copy render output: destination dimensions not set")
	}
	dst.canvas.write(img)
	dst.Present()
	return nil
}

// Destroy frees every GL object and resets the mediator's runtime state.
func (r *Renderer) Destroy() {
	for id := range r.layers {
		r.RemoveLayer(id)
	}
	for key, e := range r.programs {
		e.program.Destroy()
		delete(r.programs, key)
	}
	r.active = ""
	r.cache.Purge()
	for p := range r.evicted {
		r.deleteProgram(p)
	}
	clear(r.evicted)
	if r.canvas != nil {
		r.canvas.destroy()
		r.canvas = nil
	}
	if r.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &r.quadVAO)
		r.quadVAO = 0
	}
	if r.ownsAtlas {
		r.atlas.Destroy()
	}
	r.mediator.Reset()
	r.log.Info("renderer destroyed")
}
