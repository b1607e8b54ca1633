package controls

import (
	"fmt"
	"sort"
	"strings"

	"github.com/richinsley/goflex/geom"
)

// Palettes are the named colormaps available to the colormap control.
// Stops are evenly spaced.
var Palettes = map[string][]string{
	"viridis": {"#440154", "#3b528b", "#21918c", "#5ec962", "#fde725"},
	"magma":   {"#000004", "#51127c", "#b73779", "#fc8961", "#fcfdbf"},
	"inferno": {"#000004", "#56106e", "#bb3754", "#f98c0a", "#fcffa4"},
	"greys":   {"#ffffff", "#bdbdbd", "#737373", "#252525", "#000000"},
	"rdbu":    {"#b2182b", "#ef8a62", "#f7f7f7", "#67a9cf", "#2166ac"},
	"hot":     {"#000000", "#e60000", "#ffd200", "#ffffff"},
}

func PaletteNames() []string {
	names := make([]string, 0, len(Palettes))
	for n := range Palettes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// maxColormapSteps bounds the uniform arrays the colormap declares.
const maxColormapSteps = 16

// ColorMap maps a float expression to a color by sampling a palette at
// a fixed number of steps.
type ColorMap struct {
	listeners
	owner       Owner
	name        string
	params      map[string]any
	interactive bool

	encoded string
	colors  []float32 // steps*3
	steps   int
	locs    [2]int32
	dirty   bool
}

func newColorMap(owner Owner, name string, params map[string]any, interactive bool) (Control, error) {
	p := map[string]any{"default": "viridis", "steps": 5.0, "continuous": true, "title": "Colormap"}
	for k, v := range params {
		p[k] = v
	}
	p["type"] = "colormap"
	steps, err := ToFloat(p["steps"])
	if err != nil {
		steps = 5
	}
	c := &ColorMap{
		owner:       owner,
		name:        name,
		params:      p,
		interactive: interactive,
		steps:       geom.Clamp(int(steps), 2, maxColormapSteps),
		locs:        [2]int32{-1, -1},
	}
	c.apply(p["default"])
	return c, nil
}

func (c *ColorMap) Name() string           { return c.name }
func (c *ColorMap) Type() string           { return "colormap" }
func (c *ColorMap) GLType() string         { return "vec3" }
func (c *ColorMap) Interactive() bool      { return c.interactive }
func (c *ColorMap) Params() map[string]any { return c.params }
func (c *ColorMap) Encoded() any           { return c.encoded }
func (c *ColorMap) Value() any             { return c.colors }

func (c *ColorMap) apply(encoded any) {
	name, _ := encoded.(string)
	stops, ok := Palettes[strings.ToLower(name)]
	if !ok {
		c.owner.Logger().Warn("unknown palette, using default",
			"control", uniformName(c.owner, c.name), "value", encoded)
		name, _ = c.params["default"].(string)
		if stops, ok = Palettes[name]; !ok {
			name, stops = "viridis", Palettes["viridis"]
		}
	}
	c.encoded = strings.ToLower(name)
	c.colors = resample(stops, c.steps)
}

// resample linearly interpolates the palette stops to n colors.
func resample(stops []string, n int) []float32 {
	rgb := make([][3]float64, len(stops))
	for i, s := range stops {
		rgb[i], _ = ParseHexColor(s)
	}
	out := make([]float32, 0, n*3)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1) * float64(len(rgb)-1)
		lo := int(t)
		hi := geom.Clamp(lo+1, 0, len(rgb)-1)
		f := t - float64(lo)
		for k := 0; k < 3; k++ {
			out = append(out, float32(rgb[lo][k]*(1-f)+rgb[hi][k]*f))
		}
	}
	return out
}

func (c *ColorMap) Init() {
	enc, ok := c.owner.Cache()[c.name]
	if !ok || !c.interactive {
		enc = c.params["default"]
	}
	c.apply(enc)
	c.dirty = true
}

func (c *ColorMap) Set(encoded any) {
	c.apply(encoded)
	c.dirty = true
	c.owner.Cache()[c.name] = c.encoded
	c.fire(c)
	c.owner.Invalidate()
}

func (c *ColorMap) continuous() bool {
	b, err := ParseBool(c.params["continuous"])
	return err == nil && b
}

func (c *ColorMap) Sample(value, glType string) string {
	if value == "" {
		value = "0.0"
	}
	return convert(fmt.Sprintf("%s_sample(%s)", uniformName(c.owner, c.name), value), "vec3", glType)
}

func (c *ColorMap) Define() string {
	u := uniformName(c.owner, c.name)
	var b strings.Builder
	fmt.Fprintf(&b, "uniform vec3 %s_colors[%d];\n", u, c.steps)
	fmt.Fprintf(&b, "uniform int %s_steps;\n", u)
	fmt.Fprintf(&b, "vec3 %s_sample(float v) {\n", u)
	fmt.Fprintf(&b, "    float t = clamp(v, 0.0, 1.0) * float(%s_steps - 1);\n", u)
	b.WriteString("    int i = int(floor(t));\n")
	fmt.Fprintf(&b, "    if (i >= %s_steps - 1) return %s_colors[%d];\n", u, u, c.steps-1)
	if c.continuous() {
		fmt.Fprintf(&b, "    return mix(%s_colors[i], %s_colors[i + 1], t - float(i));\n", u, u)
	} else {
		fmt.Fprintf(&b, "    return %s_colors[i];\n", u)
	}
	b.WriteString("}")
	return b.String()
}

func (c *ColorMap) GLLoaded(u Uniforms) {
	name := uniformName(c.owner, c.name)
	c.locs[0] = u.Location(name + "_colors")
	c.locs[1] = u.Location(name + "_steps")
	c.dirty = true
}

func (c *ColorMap) GLDrawing(u Uniforms) {
	if !c.dirty {
		return
	}
	if c.locs[0] >= 0 {
		u.Uniform3fv(c.locs[0], c.colors)
	}
	if c.locs[1] >= 0 {
		u.Uniform1i(c.locs[1], int32(c.steps))
	}
	c.dirty = false
}

func (c *ColorMap) Describe() Descriptor {
	return Descriptor{
		Owner:       c.owner.UID(),
		Name:        c.name,
		Type:        "colormap",
		GLType:      "vec3",
		Interactive: c.interactive,
		Params:      c.params,
		Value:       c.encoded,
	}
}
