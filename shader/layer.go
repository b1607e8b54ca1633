package shader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/log"
)

// Hooks let controls reach the host: Invalidate requests a redraw and
// Rebuild requests a program rebuild.
type Hooks struct {
	Invalidate func()
	Rebuild    func()
}

// Layer is the runtime instance of a Class bound to one Config.
type Layer struct {
	class    *Class
	shader   Shader
	config   *Config
	mediator *Mediator
	log      *log.Logger
	hooks    Hooks
	uid      string

	controlOrder []string
	controls     map[string]controls.Control
	channels     []string
	mode         Mode
	blend        string
	filters      Filters
	err          error
}

// NewLayer instantiates the class registered for cfg.Type. Unknown types
// and identifiers that can not be spliced into GLSL are errors.
func NewLayer(m *Mediator, cfg *Config, hooks Hooks) (*Layer, error) {
	class, ok := m.GetClass(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("%s: %w", cfg.Type, ErrUnknownType)
	}
	typ, err := SanitizeID(class.Type)
	if err != nil {
		return nil, err
	}
	if !ValidID(cfg.ID) {
		return nil, fmt.Errorf("%q: %w", cfg.ID, ErrInvalidID)
	}
	uid := typ + "_" + cfg.ID
	if !ValidID(uid) {
		return nil, fmt.Errorf("%q: %w", uid, ErrInvalidID)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]any)
	}
	if cfg.Cache == nil {
		cfg.Cache = make(map[string]any)
	}

	l := &Layer{
		class:    class,
		shader:   class.New(),
		config:   cfg,
		mediator: m,
		log:      m.Logger(),
		hooks:    hooks,
		uid:      uid,
	}
	l.Construct()
	return l, nil
}

func (l *Layer) UID() string           { return l.uid }
func (l *Layer) ID() string            { return l.config.ID }
func (l *Layer) Class() *Class         { return l.class }
func (l *Layer) Config() *Config       { return l.config }
func (l *Layer) Cache() map[string]any { return l.config.Cache }
func (l *Layer) Logger() *log.Logger   { return l.log }
func (l *Layer) Mode() Mode            { return l.mode }
func (l *Layer) Channels() []string    { return l.channels }
func (l *Layer) Filters() Filters      { return l.filters }
func (l *Layer) Err() error            { return l.err }

// Blend is the effective blend function name; show mode always uses
// source-over.
func (l *Layer) Blend() string {
	if l.mode == ModeShow {
		return BlendFunctions[0]
	}
	return l.blend
}

// Active reports whether the layer contributes to the second pass.
func (l *Layer) Active() bool {
	return l.err == nil && l.config.IsVisible()
}

func (l *Layer) Invalidate() {
	if l.hooks.Invalidate != nil {
		l.hooks.Invalidate()
	}
}

func (l *Layer) Rebuild() {
	if l.hooks.Rebuild != nil {
		l.hooks.Rebuild()
	}
}

// Construct resets channels, mode, blend, filters and controls from the
// config. Problems with user-editable values are logged and replaced by
// defaults; a source that can not be sampled at all is a layer error.
func (l *Layer) Construct() {
	l.err = nil
	l.config.Error = ""

	l.resolveChannels()
	l.resolveMode()
	l.filters = l.parseFilters()
	l.buildControls()

	if l.err != nil {
		l.config.Error = l.err.Error()
		l.log.Error("layer construction failed", "layer", l.uid, "error", l.err)
	}
}

// Fail marks the layer as errored for problems found outside construction,
// such as a program that does not compile. It lasts until the next
// Construct.
func (l *Layer) Fail(err error) {
	l.err = err
	l.config.Error = err.Error()
	l.log.Error("layer disabled", "layer", l.uid, "error", err)
}

// reserved resolves a reserved param: a required override wins, then the
// config param, then the declared default.
func (l *Layer) reserved(name string) (any, bool) {
	var decl *ControlDecl
	for i := range l.class.Controls {
		if l.class.Controls[i].Name == name {
			decl = &l.class.Controls[i]
		}
	}
	if decl != nil {
		if v, ok := decl.Required["default"]; ok {
			return v, true
		}
	}
	if v, ok := l.config.Params[name]; ok {
		return v, true
	}
	if decl != nil {
		if v, ok := decl.Default["default"]; ok {
			return v, true
		}
	}
	return nil, false
}

func isReserved(name string) bool {
	if name == "use_mode" || name == "use_blend" || strings.HasPrefix(name, "use_channel") {
		return true
	}
	for _, f := range filterParams {
		if f == name {
			return true
		}
	}
	return false
}

func validSwizzle(s string) bool {
	if len(s) < 1 || len(s) > 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune("rgba", rune(s[i])) {
			return false
		}
	}
	return true
}

func (l *Layer) resolveChannels() {
	l.channels = make([]string, len(l.class.Sources))
	for i, src := range l.class.Sources {
		var accepted []int
		for n := 1; n <= 4; n++ {
			if src.AcceptsChannelCount == nil || src.AcceptsChannelCount(n) {
				accepted = append(accepted, n)
			}
		}
		if len(accepted) == 0 {
			l.err = fmt.Errorf("%s: source %d accepts no channel count", l.uid, i)
			l.channels[i] = "rgba"
			continue
		}
		def := "rgba"[:accepted[0]]

		key := "use_channel" + strconv.Itoa(i)
		raw, ok := l.reserved(key)
		if !ok {
			l.channels[i] = def
			continue
		}
		s, _ := raw.(string)
		if !validSwizzle(s) || !slices.Contains(accepted, len(s)) {
			l.log.Warn("invalid channel, using default", "layer", l.uid, "param", key,
				"value", raw, "default", def)
			s = def
		}
		l.channels[i] = s
	}
}

func (l *Layer) resolveMode() {
	l.mode = Modes[0]
	if raw, ok := l.reserved("use_mode"); ok {
		s, _ := raw.(string)
		m, valid := ParseMode(s)
		if !valid {
			l.log.Warn("invalid blend mode, using default", "layer", l.uid, "value", raw, "default", m)
		}
		l.mode = m
	}

	l.blend = BlendFunctions[0]
	if raw, ok := l.reserved("use_blend"); ok {
		s, _ := raw.(string)
		if ValidBlend(s) {
			l.blend = s
		} else {
			l.log.Warn("invalid blend function, using default", "layer", l.uid, "value", raw,
				"default", BlendFunctions[0])
		}
	}
}

func (l *Layer) buildControls() {
	l.controls = make(map[string]controls.Control)
	l.controlOrder = nil
	for _, decl := range l.class.Controls {
		if isReserved(decl.Name) {
			continue
		}
		var custom map[string]any
		switch p := l.config.Params[decl.Name].(type) {
		case map[string]any:
			custom = p
		case nil:
		default:
			custom = map[string]any{"default": p}
		}
		c, err := l.mediator.Controls().Build(l, decl.Name, decl.Spec, custom)
		if err != nil {
			// Dropped: the execution code falls back to its literal.
			continue
		}
		l.controls[decl.Name] = c
		l.controlOrder = append(l.controlOrder, decl.Name)
	}
}

// Control returns the named control, or nil when it was dropped.
func (l *Layer) Control(name string) controls.Control {
	return l.controls[name]
}

// Controls returns the controls in declaration order.
func (l *Layer) Controls() []controls.Control {
	r := make([]controls.Control, 0, len(l.controlOrder))
	for _, n := range l.controlOrder {
		r = append(r, l.controls[n])
	}
	return r
}

// Sample returns the GLSL sample of the named control, or fallback when
// the control was dropped.
func (l *Layer) Sample(name, value, glType, fallback string) string {
	if c := l.controls[name]; c != nil {
		return c.Sample(value, glType)
	}
	return fallback
}

// Param returns a raw config param.
func (l *Layer) Param(name string) (any, bool) {
	v, ok := l.config.Params[name]
	return v, ok
}

// TextureIndex is the layer of the first-pass output bound to the given
// source.
func (l *Layer) TextureIndex(source int) int {
	if source >= 0 && source < len(l.config.TiledImages) {
		return l.config.TiledImages[source]
	}
	if t := l.config.TiledImage(); t >= 0 {
		return t
	}
	return 0
}

// SampleChannel returns a GLSL expression sampling the given source at
// coords, with filters applied unless raw, swizzled by the channel.
func (l *Layer) SampleChannel(coords string, source int, raw bool) string {
	swizzle := "rgba"
	if source >= 0 && source < len(l.channels) {
		swizzle = l.channels[source]
	}
	expr := fmt.Sprintf("osd_texture(%d, %s)", l.TextureIndex(source), coords)
	if !raw && l.filters.Active() {
		expr = l.uid + "_filters(" + expr + ")"
	}
	return expr + "." + swizzle
}

// Definition is everything the layer declares outside main: control
// uniforms, filters and the shader's own definitions.
func (l *Layer) Definition() string {
	var parts []string
	for _, c := range l.Controls() {
		parts = append(parts, c.Define())
	}
	if f := l.filters.definition(l.uid); f != "" {
		parts = append(parts, f)
	}
	if d := strings.TrimSpace(l.shader.FragmentShaderDefinition(l)); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, "\n")
}

func (l *Layer) Execution() string {
	return strings.TrimSpace(l.shader.FragmentShaderExecution(l))
}

// BlendDefinition defines <uid>_blend_func.
func (l *Layer) BlendDefinition() string {
	return blendFuncDefinition(l.uid, l.Blend(), l.mode)
}

// Init runs on every program switch.
func (l *Layer) Init() {
	for _, c := range l.Controls() {
		c.Init()
	}
	if i, ok := l.shader.(Initializer); ok {
		i.Init(l)
	}
}

func (l *Layer) Destroy() {
	if d, ok := l.shader.(Destroyer); ok {
		d.Destroy(l)
	}
}

func (l *Layer) GLLoaded(u controls.Uniforms) {
	for _, c := range l.Controls() {
		c.GLLoaded(u)
	}
}

func (l *Layer) GLDrawing(u controls.Uniforms) {
	for _, c := range l.Controls() {
		c.GLDrawing(u)
	}
}

// Descriptors describes the controls for the host's control panel.
func (l *Layer) Descriptors() []controls.Descriptor {
	var d []controls.Descriptor
	for _, c := range l.Controls() {
		d = append(d, c.Describe())
	}
	return d
}

// SetMode and SetBlend update the config and reconstruct the layer; the
// caller rebuilds the program.
func (l *Layer) SetMode(m Mode) {
	l.config.Params["use_mode"] = string(m)
	l.Construct()
}

func (l *Layer) SetBlend(name string) {
	l.config.Params["use_blend"] = name
	l.Construct()
}
