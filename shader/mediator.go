package shader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/log"
)

// Source declares one data source a layer reads.
type Source struct {
	Description string
	// AcceptsChannelCount reports whether a swizzle of n (1-4) components
	// is usable for this source.
	AcceptsChannelCount func(n int) bool
}

// ControlDecl declares a named control of a layer class.
type ControlDecl struct {
	Name string
	controls.Spec
}

// Shader is implemented by every kind of layer. Both methods may use the
// layer's helpers (SampleChannel, Sample, UID) to build GLSL.
type Shader interface {
	// FragmentShaderDefinition returns declarations placed outside main.
	// Symbols must be prefixed with l.UID().
	FragmentShaderDefinition(l *Layer) string
	// FragmentShaderExecution returns a function body (no braces) that
	// returns a vec4.
	FragmentShaderExecution(l *Layer) string
}

// Initializer is implemented by shaders that need per-program setup.
type Initializer interface {
	Init(l *Layer)
}

// Destroyer is implemented by shaders that hold resources.
type Destroyer interface {
	Destroy(l *Layer)
}

// Class describes one kind of layer; the mediator maps Type to it.
type Class struct {
	Type        string
	Name        string
	Description string
	Sources     []Source
	Controls    []ControlDecl
	// Includes are GLSL snippets shared by all instances, keyed by name;
	// each is emitted once per program.
	Includes map[string]string
	New      func() Shader
}

// Mediator is a registry of layer classes. Each renderer owns one so main
// and navigator renderers never share registrations or includes.
type Mediator struct {
	mu       sync.RWMutex
	classes  map[string]*Class
	accepts  bool
	includes map[string]string
	controls *controls.Registry
	log      *log.Logger
}

func NewMediator(lg *log.Logger) *Mediator {
	return &Mediator{
		classes:  make(map[string]*Class),
		accepts:  true,
		includes: make(map[string]string),
		controls: controls.NewRegistry(),
		log:      lg,
	}
}

// NewDefaultMediator returns a mediator with the built-in layers.
func NewDefaultMediator(lg *log.Logger) *Mediator {
	m := NewMediator(lg)
	for _, c := range BuiltinClasses() {
		if err := m.RegisterLayer(c); err != nil {
			lg.Error("registering built-in layer", "type", c.Type, "error", err)
		}
	}
	return m
}

// RegisterLayer stores c under c.Type. Re-registering a type replaces it,
// which supports reloading custom layers.
func (m *Mediator) RegisterLayer(c *Class) error {
	if c == nil || c.Type == "" || c.New == nil {
		return fmt.Errorf("layer class must have a type and a constructor")
	}
	if _, err := SanitizeID(c.Type); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.accepts {
		m.log.Warn("layer registration refused", "type", c.Type)
		return fmt.Errorf("%s: %w", c.Type, ErrRegistrationsClosed)
	}
	if _, ok := m.classes[c.Type]; ok {
		m.log.Warn("layer type registered twice, replacing", "type", c.Type)
	}
	m.classes[c.Type] = c
	return nil
}

func (m *Mediator) SetAcceptsRegistrations(accept bool) {
	m.mu.Lock()
	m.accepts = accept
	m.mu.Unlock()
}

func (m *Mediator) GetClass(typ string) (*Class, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[typ]
	return c, ok
}

// AvailableShaders returns the registered classes sorted by type.
func (m *Mediator) AvailableShaders() []*Class {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := make([]*Class, 0, len(m.classes))
	for _, c := range m.classes {
		r = append(r, c)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Type < r[j].Type })
	return r
}

func (m *Mediator) AvailableTypes() []string {
	var t []string
	for _, c := range m.AvailableShaders() {
		t = append(t, c.Type)
	}
	return t
}

// Controls is the control registry used to build layer controls.
func (m *Mediator) Controls() *controls.Registry { return m.controls }

func (m *Mediator) Logger() *log.Logger { return m.log }

// AddInclude registers a global GLSL snippet at runtime.
func (m *Mediator) AddInclude(name, code string) {
	m.mu.Lock()
	m.includes[name] = code
	m.mu.Unlock()
}

// Includes returns the global snippets needed by the given classes plus
// those added at runtime, sorted by name.
func (m *Mediator) Includes(classes []*Class) []string {
	m.mu.RLock()
	all := make(map[string]string, len(m.includes))
	for k, v := range m.includes {
		all[k] = v
	}
	m.mu.RUnlock()
	for _, c := range classes {
		for k, v := range c.Includes {
			all[k] = v
		}
	}
	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	sort.Strings(names)
	r := make([]string, len(names))
	for i, n := range names {
		r[i] = all[n]
	}
	return r
}

// Reset drops runtime includes and reopens registrations; classes stay.
func (m *Mediator) Reset() {
	m.mu.Lock()
	m.includes = make(map[string]string)
	m.accepts = true
	m.mu.Unlock()
}
