// Package controls implements the typed parameters shader layers expose.
// A control holds a UI-facing encoded value and the normalized value the
// GPU sees, knows how to declare and sample itself in GLSL, and pushes its
// value to the current program when it changes.
package controls

import (
	"github.com/richinsley/goflex/log"
)

// Uniforms is the GPU side a control talks to. The renderer implements it
// on top of the active program; tests use a recording fake.
type Uniforms interface {
	Location(name string) int32
	Uniform1f(loc int32, v float32)
	Uniform1i(loc int32, v int32)
	Uniform3f(loc int32, x, y, z float32)
	Uniform1fv(loc int32, v []float32)
	Uniform2fv(loc int32, v []float32)
	Uniform3fv(loc int32, v []float32)
}

// Owner is the layer a control belongs to.
type Owner interface {
	// UID is the layer's unique GLSL identifier prefix.
	UID() string
	// Cache is the persistent per-config store that survives rebuilds.
	Cache() map[string]any
	Logger() *log.Logger
	// Invalidate asks the host for a redraw; Rebuild asks for a program
	// rebuild when a value changes the shader structure.
	Invalidate()
	Rebuild()
}

type Control interface {
	Name() string
	// Type is the control type name ("range", "color", "colormap", ...).
	Type() string
	// GLType is the GLSL type Sample returns without conversion.
	GLType() string
	Interactive() bool
	Params() map[string]any

	// Init loads the cached value or the default and marks the value dirty.
	Init()
	// Set decodes, normalizes, notifies listeners and persists encoded.
	Set(encoded any)
	Encoded() any
	// Value is the normalized GPU-facing value.
	Value() any

	// Sample returns a GLSL expression of type glType ("" for GLType).
	// value is the input expression for controls that map a value
	// (colormaps); other controls ignore it.
	Sample(value, glType string) string
	// Define returns the GLSL declarations the control needs.
	Define() string
	GLLoaded(u Uniforms)
	GLDrawing(u Uniforms)

	OnChange(fn func(c Control))
	Describe() Descriptor
}

// Descriptor is what the host's control panel receives for each control.
type Descriptor struct {
	Owner       string         `json:"owner"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	GLType      string         `json:"glType"`
	Interactive bool           `json:"interactive"`
	Params      map[string]any `json:"params"`
	Value       any            `json:"value"`
	Children    []Descriptor   `json:"children,omitempty"`
}

// Spec declares a control on a layer class.
type Spec struct {
	// Default parameters, including "type" and "default".
	Default map[string]any
	// Accepts reports whether the layer can use a control of glType.
	Accepts func(glType string, c Control) bool
	// Required parameters override everything and make the control
	// non-interactive.
	Required map[string]any
}

// AcceptsType is a convenience Accepts predicate.
func AcceptsType(types ...string) func(string, Control) bool {
	return func(glType string, _ Control) bool {
		for _, t := range types {
			if t == glType {
				return true
			}
		}
		return false
	}
}

// uniformName is the unique GLSL uniform symbol for a control.
func uniformName(o Owner, name string) string {
	return o.UID() + "_" + name
}

// convert casts expr of type from to the GLSL type to.
func convert(expr, from, to string) string {
	if to == "" || to == from {
		return expr
	}
	switch to {
	case "float", "int", "bool":
		if from == "vec3" || from == "vec4" || from == "vec2" {
			return to + "(" + expr + ".x)"
		}
		return to + "(" + expr + ")"
	case "vec2", "vec3", "vec4":
		switch from {
		case "bool", "int":
			return to + "(float(" + expr + "))"
		case "vec3":
			if to == "vec4" {
				return "vec4(" + expr + ", 1.0)"
			}
			if to == "vec2" {
				return expr + ".xy"
			}
		case "vec4":
			if to == "vec3" {
				return expr + ".rgb"
			}
			if to == "vec2" {
				return expr + ".xy"
			}
		}
		return to + "(" + expr + ")"
	}
	return to + "(" + expr + ")"
}

// listeners is embedded by controls that fire change events.
type listeners struct {
	fns []func(c Control)
}

func (l *listeners) OnChange(fn func(c Control)) { l.fns = append(l.fns, fn) }

func (l *listeners) fire(c Control) {
	for _, fn := range l.fns {
		fn(c)
	}
}

func copyParams(p map[string]any) map[string]any {
	r := make(map[string]any, len(p))
	for k, v := range p {
		r[k] = v
	}
	return r
}
