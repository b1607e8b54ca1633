package controls

import (
	"fmt"
	"sort"
)

// Constructor creates a class-based (non-primitive) control.
type Constructor func(owner Owner, name string, params map[string]any, interactive bool) (Control, error)

// Registry maps non-primitive control type names to constructors. Each
// shader mediator owns one, so separate renderers never share
// registrations.
type Registry struct {
	classes map[string]Constructor
}

// NewRegistry returns a registry with the built-in compound controls.
func NewRegistry() *Registry {
	r := &Registry{classes: make(map[string]Constructor)}
	r.Register("range_input", newRangeInput)
	r.Register("colormap", newColorMap)
	return r
}

func (r *Registry) Register(typ string, ctor Constructor) {
	r.classes[typ] = ctor
}

// Types lists every control type, primitives included.
func (r *Registry) Types() []string {
	var t []string
	for k := range primitives {
		t = append(t, k)
	}
	for k := range r.classes {
		t = append(t, k)
	}
	sort.Strings(t)
	return t
}

func (r *Registry) instantiate(owner Owner, name, typ string, params map[string]any, interactive bool) (Control, error) {
	if IsPrimitive(typ) {
		return newSimple(owner, name, typ, params, interactive)
	}
	ctor, ok := r.classes[typ]
	if !ok {
		return nil, fmt.Errorf("%s: unknown control type", typ)
	}
	return ctor(owner, name, params, interactive)
}

// Build resolves the effective parameters of a control and instantiates
// it. Parameters merge with increasing priority: the declared defaults,
// custom (caller supplied) params, then the required override. When the
// layer's Accepts predicate rejects the resulting GLSL type, Build retries
// with the declared default type as a non-interactive control; if that
// fails too, the control is dropped and (nil, error) is returned.
func (r *Registry) Build(owner Owner, name string, spec Spec, custom map[string]any) (Control, error) {
	params := make(map[string]any)
	for k, v := range spec.Default {
		params[k] = v
	}
	for k, v := range custom {
		params[k] = v
	}
	interactive := true
	for k, v := range spec.Required {
		params[k] = v
		interactive = false
	}
	if b, ok := params["interactive"]; ok {
		if bb, err := ParseBool(b); err == nil && !bb {
			interactive = false
		}
	}

	typ, _ := params["type"].(string)
	c, err := r.instantiate(owner, name, typ, params, interactive)
	if err == nil && accepts(spec, c) {
		return c, nil
	}
	if err != nil {
		owner.Logger().Warn("unable to build control", "control", uniformName(owner, name),
			"type", typ, "error", err)
	}

	// Fall back to the declared type with only the declared defaults.
	origType, _ := spec.Default["type"].(string)
	fallback := make(map[string]any)
	for k, v := range spec.Default {
		fallback[k] = v
	}
	c, err = r.instantiate(owner, name, origType, fallback, false)
	if err == nil && accepts(spec, c) {
		owner.Logger().Warn("control type rejected by layer, using fixed default",
			"control", uniformName(owner, name), "requested", typ, "used", origType)
		return c, nil
	}
	if err == nil {
		err = fmt.Errorf("%s: layer does not accept GLSL type %s", uniformName(owner, name), c.GLType())
	}
	owner.Logger().Error("control dropped", "control", uniformName(owner, name), "error", err)
	return nil, err
}

func accepts(spec Spec, c Control) bool {
	return spec.Accepts == nil || spec.Accepts(c.GLType(), c)
}
