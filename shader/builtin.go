package shader

import (
	"fmt"

	"github.com/richinsley/goflex/controls"
)

func acceptsOne(n int) bool  { return n == 1 }
func acceptsFour(n int) bool { return n == 4 }
func acceptsAny(n int) bool  { return n >= 1 && n <= 4 }

// BuiltinClasses returns the layer classes every default mediator knows.
func BuiltinClasses() []*Class {
	return []*Class{
		identityClass(),
		heatmapClass(),
		bipolarHeatmapClass(),
		edgeClass(),
		colormapClass(),
		atlasPatternClass(),
		codeClass(),
	}
}

// funcShader adapts two closures to Shader.
type funcShader struct {
	define  func(l *Layer) string
	execute func(l *Layer) string
}

func (f funcShader) FragmentShaderDefinition(l *Layer) string {
	if f.define == nil {
		return ""
	}
	return f.define(l)
}

func (f funcShader) FragmentShaderExecution(l *Layer) string { return f.execute(l) }

func identityClass() *Class {
	return &Class{
		Type:        "identity",
		Name:        "Identity",
		Description: "shows the data as is, without modification",
		Sources: []Source{{
			Description:         "4D data to show as RGBA",
			AcceptsChannelCount: acceptsFour,
		}},
		New: func() Shader {
			return funcShader{execute: func(l *Layer) string {
				return fmt.Sprintf("return %s;", l.SampleChannel("v_texture_coords", 0, false))
			}}
		},
	}
}

var (
	colorControl = controls.Spec{
		Default: map[string]any{"type": "color", "default": "#fff700", "title": "Color: "},
		Accepts: controls.AcceptsType("vec3"),
	}
	thresholdControl = controls.Spec{
		Default: map[string]any{"type": "range_input", "default": 1.0, "min": 0.0, "max": 100.0,
			"step": 1.0, "title": "Threshold: "},
		Accepts: controls.AcceptsType("float"),
	}
	inverseControl = controls.Spec{
		Default: map[string]any{"type": "bool", "default": false, "title": "Invert: "},
		Accepts: controls.AcceptsType("bool"),
	}
)

func heatmapClass() *Class {
	return &Class{
		Type:        "heatmap",
		Name:        "Heatmap",
		Description: "data values encoded in color opacity, values below the threshold are transparent",
		Sources: []Source{{
			Description:         "1D data mapped to color opacity",
			AcceptsChannelCount: acceptsOne,
		}},
		Controls: []ControlDecl{
			{Name: "color", Spec: colorControl},
			{Name: "threshold", Spec: thresholdControl},
			{Name: "inverse", Spec: inverseControl},
		},
		New: func() Shader {
			return funcShader{execute: func(l *Layer) string {
				channel := l.SampleChannel("v_texture_coords", 0, false)
				color := l.Sample("color", "", "vec3", "vec3(1.0, 0.968, 0.0)")
				threshold := l.Sample("threshold", "", "float", "0.01")
				inverse := l.Sample("inverse", "", "bool", "false")
				return fmt.Sprintf(`float chan = %s;
bool switch_alpha = %s;
if (switch_alpha) chan = 1.0 - chan;
if (chan < %s) return vec4(0.0);
return vec4(%s, chan);`, channel, inverse, threshold, color)
			}}
		},
	}
}

func bipolarHeatmapClass() *Class {
	return &Class{
		Type:        "bipolar-heatmap",
		Name:        "Bipolar Heatmap",
		Description: "values below 0.5 use the low color, values above use the high color",
		Sources: []Source{{
			Description:         "1D diverging data",
			AcceptsChannelCount: acceptsOne,
		}},
		Controls: []ControlDecl{
			{Name: "color_high", Spec: controls.Spec{
				Default: map[string]any{"type": "color", "default": "#ff1000", "title": "Color High: "},
				Accepts: controls.AcceptsType("vec3"),
			}},
			{Name: "color_low", Spec: controls.Spec{
				Default: map[string]any{"type": "color", "default": "#01ff00", "title": "Color Low: "},
				Accepts: controls.AcceptsType("vec3"),
			}},
			{Name: "threshold", Spec: thresholdControl},
		},
		New: func() Shader {
			return funcShader{execute: func(l *Layer) string {
				return fmt.Sprintf(`float chan = %s;
float dist = abs(chan - 0.5) * 2.0;
if (dist < %s) return vec4(0.0);
if (chan < 0.5) return vec4(%s, dist);
return vec4(%s, dist);`,
					l.SampleChannel("v_texture_coords", 0, false),
					l.Sample("threshold", "", "float", "0.01"),
					l.Sample("color_low", "", "vec3", "vec3(0.004, 1.0, 0.0)"),
					l.Sample("color_high", "", "vec3", "vec3(1.0, 0.063, 0.0)"))
			}}
		},
	}
}

func edgeClass() *Class {
	return &Class{
		Type:        "edge",
		Name:        "Edges",
		Description: "highlights edges of regions at the threshold value",
		Sources: []Source{{
			Description:         "1D data to detect edges on",
			AcceptsChannelCount: acceptsOne,
		}},
		Controls: []ControlDecl{
			{Name: "color", Spec: colorControl},
			{Name: "threshold", Spec: controls.Spec{
				Default: map[string]any{"type": "range_input", "default": 50.0, "min": 0.0, "max": 100.0,
					"step": 1.0, "title": "Threshold: "},
				Accepts: controls.AcceptsType("float"),
			}},
			{Name: "edge_thickness", Spec: controls.Spec{
				Default: map[string]any{"type": "range", "default": 1.0, "min": 0.5, "max": 3.0,
					"step": 0.1, "title": "Edge thickness: "},
				Accepts: controls.AcceptsType("float"),
			}},
		},
		New: func() Shader {
			return funcShader{
				define: func(l *Layer) string {
					uid := l.UID()
					return fmt.Sprintf(`float %s_value(vec2 uv) {
    return %s;
}
float %s_edge(float t, vec2 d) {
    float mid = %s_value(v_texture_coords);
    float u = %s_value(v_texture_coords + vec2(0.0, d.y));
    float b = %s_value(v_texture_coords - vec2(0.0, d.y));
    float lf = %s_value(v_texture_coords - vec2(d.x, 0.0));
    float r = %s_value(v_texture_coords + vec2(d.x, 0.0));
    bool inside = mid >= t;
    if (inside && (u < t || b < t || lf < t || r < t)) return 1.0;
    return 0.0;
}`, uid, l.SampleChannel("uv", 0, false), uid, uid, uid, uid, uid, uid)
				},
				execute: func(l *Layer) string {
					// The thickness range is normalized to [0,1] over [0.5,3].
					return fmt.Sprintf(`float thickness = mix(0.5, 3.0, %s);
vec2 offset = osd_texel_size() * thickness;
float edge = %s_edge(%s, offset);
return vec4(%s, edge);`,
						l.Sample("edge_thickness", "", "float", "0.2"),
						l.UID(),
						l.Sample("threshold", "", "float", "0.5"),
						l.Sample("color", "", "vec3", "vec3(1.0, 0.968, 0.0)"))
				},
			}
		},
	}
}

func colormapClass() *Class {
	return &Class{
		Type:        "colormap",
		Name:        "ColorMap",
		Description: "data values mapped through a palette",
		Sources: []Source{{
			Description:         "1D data mapped to color map",
			AcceptsChannelCount: acceptsOne,
		}},
		Controls: []ControlDecl{
			{Name: "color", Spec: controls.Spec{
				Default: map[string]any{"type": "colormap", "default": "viridis", "steps": 8.0,
					"continuous": true, "title": "Colormap: "},
				Accepts: controls.AcceptsType("vec3"),
			}},
			{Name: "threshold", Spec: thresholdControl},
			{Name: "alpha", Spec: controls.Spec{
				Default: map[string]any{"type": "number", "default": 1.0, "min": 0.0, "max": 1.0,
					"step": 0.05, "title": "Alpha: "},
				Accepts: controls.AcceptsType("float"),
			}},
		},
		New: func() Shader {
			return funcShader{execute: func(l *Layer) string {
				return fmt.Sprintf(`float chan = %s;
if (chan < %s) return vec4(0.0);
return vec4(%s, %s);`,
					l.SampleChannel("v_texture_coords", 0, false),
					l.Sample("threshold", "", "float", "0.01"),
					l.Sample("color", "chan", "vec3", "vec3(chan)"),
					l.Sample("alpha", "", "float", "1.0"))
			}}
		},
	}
}

func atlasPatternClass() *Class {
	return &Class{
		Type:        "atlas-pattern",
		Name:        "Atlas pattern",
		Description: "fills regions above the threshold with an image from the texture atlas",
		Sources: []Source{{
			Description:         "1D data selecting where the pattern shows",
			AcceptsChannelCount: acceptsOne,
		}},
		Controls: []ControlDecl{
			{Name: "threshold", Spec: thresholdControl},
			{Name: "tiling", Spec: controls.Spec{
				Default: map[string]any{"type": "range", "default": 8.0, "min": 1.0, "max": 64.0,
					"step": 1.0, "title": "Tiling: "},
				Accepts: controls.AcceptsType("float"),
			}},
		},
		New: func() Shader {
			return funcShader{execute: func(l *Layer) string {
				id := 0
				if v, ok := l.Param("atlas_id"); ok {
					if f, err := controls.ToFloat(v); err == nil && f >= 0 {
						id = int(f)
					}
				}
				return fmt.Sprintf(`float chan = %s;
if (chan < %s) return vec4(0.0);
float tiles = mix(1.0, 64.0, %s);
vec4 pattern = osd_atlas_texture(%d, fract(v_texture_coords * tiles));
return vec4(pattern.rgb, pattern.a * chan);`,
					l.SampleChannel("v_texture_coords", 0, false),
					l.Sample("threshold", "", "float", "0.01"),
					l.Sample("tiling", "", "float", "0.1"),
					id)
			}}
		},
	}
}

// codeClass runs GLSL supplied in the fs_define and fs_execute params. It
// is meant for developing new layers.
func codeClass() *Class {
	str := func(l *Layer, key string) string {
		v, _ := l.Param(key)
		s, _ := v.(string)
		return s
	}
	return &Class{
		Type:        "code",
		Name:        "GLSL code",
		Description: "custom GLSL taken from the fs_define and fs_execute params",
		Sources: []Source{{
			Description:         "data available to the code",
			AcceptsChannelCount: acceptsAny,
		}},
		New: func() Shader {
			return funcShader{
				define: func(l *Layer) string { return str(l, "fs_define") },
				execute: func(l *Layer) string {
					if s := str(l, "fs_execute"); s != "" {
						return s
					}
					return fmt.Sprintf("return %s;", asVec4(l.SampleChannel("v_texture_coords", 0, false), len(l.Channels()[0])))
				},
			}
		},
	}
}

// asVec4 widens a sample of n channels to an opaque vec4.
func asVec4(expr string, n int) string {
	switch n {
	case 1:
		return "vec4(vec3(" + expr + "), 1.0)"
	case 2:
		return "vec4(" + expr + ", 0.0, 1.0)"
	case 3:
		return "vec4(" + expr + ", 1.0)"
	}
	return expr
}
