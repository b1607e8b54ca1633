package controls

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/richinsley/goflex/geom"
)

// primitive describes one of the built-in value types handled by
// SimpleControl.
type primitive struct {
	glType    string
	defaults  map[string]any
	decode    func(encoded any, p map[string]any) (any, error)
	normalize func(v any, p map[string]any) any
	upload    func(u Uniforms, loc int32, v any)
}

var primitives = map[string]primitive{
	"number": {
		glType:    "float",
		defaults:  map[string]any{"default": 0.0, "min": 0.0, "max": 1.0, "step": 0.1, "title": "Number"},
		decode:    decodeFloat,
		normalize: normalizeFloat,
		upload:    uploadFloat,
	},
	"range": {
		glType:    "float",
		defaults:  map[string]any{"default": 0.0, "min": 0.0, "max": 100.0, "step": 1.0, "title": "Range"},
		decode:    decodeFloat,
		normalize: normalizeFloat,
		upload:    uploadFloat,
	},
	"color": {
		glType:   "vec3",
		defaults: map[string]any{"default": "#fff700", "title": "Color"},
		decode: func(encoded any, _ map[string]any) (any, error) {
			s, ok := encoded.(string)
			if !ok {
				return nil, fmt.Errorf("%v: color must be a hex string", encoded)
			}
			return ParseHexColor(s)
		},
		normalize: func(v any, _ map[string]any) any { return v },
		upload: func(u Uniforms, loc int32, v any) {
			c := v.([3]float64)
			u.Uniform3f(loc, float32(c[0]), float32(c[1]), float32(c[2]))
		},
	},
	"bool": {
		glType:   "bool",
		defaults: map[string]any{"default": false, "title": "Checkbox"},
		decode: func(encoded any, _ map[string]any) (any, error) {
			return ParseBool(encoded)
		},
		normalize: func(v any, _ map[string]any) any { return v },
		upload: func(u Uniforms, loc int32, v any) {
			if v.(bool) {
				u.Uniform1i(loc, 1)
			} else {
				u.Uniform1i(loc, 0)
			}
		},
	},
}

// IsPrimitive reports whether typ is handled by SimpleControl.
func IsPrimitive(typ string) bool {
	_, ok := primitives[typ]
	return ok
}

// SimpleControl wraps a primitive value type behind the Control interface.
type SimpleControl struct {
	listeners
	owner       Owner
	name        string
	typ         string
	prim        primitive
	params      map[string]any
	interactive bool

	encoded any
	value   any
	loc     int32
	dirty   bool
}

func newSimple(owner Owner, name, typ string, params map[string]any, interactive bool) (*SimpleControl, error) {
	prim, ok := primitives[typ]
	if !ok {
		return nil, fmt.Errorf("%s: not a primitive control type", typ)
	}
	p := copyParams(prim.defaults)
	for k, v := range params {
		p[k] = v
	}
	p["type"] = typ
	c := &SimpleControl{
		owner:       owner,
		name:        name,
		typ:         typ,
		prim:        prim,
		params:      p,
		interactive: interactive,
		loc:         -1,
	}
	c.apply(p["default"])
	return c, nil
}

func (c *SimpleControl) Name() string           { return c.name }
func (c *SimpleControl) Type() string           { return c.typ }
func (c *SimpleControl) GLType() string         { return c.prim.glType }
func (c *SimpleControl) Interactive() bool      { return c.interactive }
func (c *SimpleControl) Params() map[string]any { return c.params }
func (c *SimpleControl) Encoded() any           { return c.encoded }
func (c *SimpleControl) Value() any             { return c.value }

func (c *SimpleControl) Init() {
	enc, ok := c.owner.Cache()[c.name]
	if !ok || !c.interactive {
		enc = c.params["default"]
	}
	c.apply(enc)
	c.dirty = true
}

func (c *SimpleControl) Set(encoded any) {
	c.apply(encoded)
	c.dirty = true
	c.owner.Cache()[c.name] = c.encoded
	c.fire(c)
	c.owner.Invalidate()
}

// apply decodes encoded, falling back to the declared default and then to
// the type default when decoding fails.
func (c *SimpleControl) apply(encoded any) {
	v, err := c.prim.decode(encoded, c.params)
	if err != nil {
		c.owner.Logger().Warn("invalid control value, using default",
			"control", uniformName(c.owner, c.name), "value", encoded, "error", err)
		encoded = c.params["default"]
		if v, err = c.prim.decode(encoded, c.params); err != nil {
			encoded = c.prim.defaults["default"]
			v, _ = c.prim.decode(encoded, c.params)
		}
	}
	c.encoded = encoded
	c.value = c.prim.normalize(v, c.params)
}

func (c *SimpleControl) Sample(_ string, glType string) string {
	return convert(uniformName(c.owner, c.name), c.prim.glType, glType)
}

func (c *SimpleControl) Define() string {
	return fmt.Sprintf("uniform %s %s;", c.prim.glType, uniformName(c.owner, c.name))
}

func (c *SimpleControl) GLLoaded(u Uniforms) {
	c.loc = u.Location(uniformName(c.owner, c.name))
	c.dirty = true
}

func (c *SimpleControl) GLDrawing(u Uniforms) {
	if !c.dirty || c.loc < 0 {
		return
	}
	c.prim.upload(u, c.loc, c.value)
	c.dirty = false
}

func (c *SimpleControl) Describe() Descriptor {
	return Descriptor{
		Owner:       c.owner.UID(),
		Name:        c.name,
		Type:        c.typ,
		GLType:      c.prim.glType,
		Interactive: c.interactive,
		Params:      c.params,
		Value:       c.encoded,
	}
}

///////////////////////////////////////////////////////////////////////////
// decoding helpers

func decodeFloat(encoded any, _ map[string]any) (any, error) {
	return ToFloat(encoded)
}

func normalizeFloat(v any, p map[string]any) any {
	f := v.(float64)
	lo, err1 := ToFloat(p["min"])
	hi, err2 := ToFloat(p["max"])
	if err1 != nil || err2 != nil || hi == lo {
		return geom.Clamp(f, 0, 1)
	}
	return geom.Clamp((f-lo)/(hi-lo), 0, 1)
}

func uploadFloat(u Uniforms, loc int32, v any) {
	u.Uniform1f(loc, float32(v.(float64)))
}

// ToFloat converts JSON-ish scalars to float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("%v: not a number", v)
	}
}

// ParseBool accepts "1", 1, true and "true" as true.
func ParseBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.TrimSpace(strings.ToLower(b)) {
		case "1", "true":
			return true, nil
		case "0", "false", "":
			return false, nil
		}
	case nil:
		return false, nil
	default:
		if f, err := ToFloat(v); err == nil {
			return f != 0, nil
		}
	}
	return false, fmt.Errorf("%v: not a boolean", v)
}

// ParseHexColor decodes "#rrggbb" or "#rgb" into floats in [0,1].
func ParseHexColor(s string) ([3]float64, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return [3]float64{}, fmt.Errorf("%q: invalid hex color", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return [3]float64{}, fmt.Errorf("%q: invalid hex color: %w", s, err)
	}
	return [3]float64{
		float64((n>>16)&0xff) / 255,
		float64((n>>8)&0xff) / 255,
		float64(n&0xff) / 255,
	}, nil
}
