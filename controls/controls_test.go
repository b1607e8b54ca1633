package controls

import (
	"math"
	"strings"
	"testing"

	"github.com/richinsley/goflex/log"
)

type testOwner struct {
	cache       map[string]any
	invalidated int
	rebuilt     int
}

func newOwner() *testOwner { return &testOwner{cache: make(map[string]any)} }

func (o *testOwner) UID() string           { return "heatmap_layer1" }
func (o *testOwner) Cache() map[string]any { return o.cache }
func (o *testOwner) Logger() *log.Logger   { return log.Discard() }
func (o *testOwner) Invalidate()           { o.invalidated++ }
func (o *testOwner) Rebuild()              { o.rebuilt++ }

type recordingUniforms struct {
	names  map[string]int32
	floats map[int32]float32
	ints   map[int32]int32
	vec3s  map[int32][3]float32
	arrays map[int32][]float32
	pushes int
}

func newUniforms() *recordingUniforms {
	return &recordingUniforms{
		names:  make(map[string]int32),
		floats: make(map[int32]float32),
		ints:   make(map[int32]int32),
		vec3s:  make(map[int32][3]float32),
		arrays: make(map[int32][]float32),
	}
}

func (u *recordingUniforms) Location(name string) int32 {
	if l, ok := u.names[name]; ok {
		return l
	}
	l := int32(len(u.names))
	u.names[name] = l
	return l
}
func (u *recordingUniforms) Uniform1f(loc int32, v float32)       { u.floats[loc] = v; u.pushes++ }
func (u *recordingUniforms) Uniform1i(loc int32, v int32)         { u.ints[loc] = v; u.pushes++ }
func (u *recordingUniforms) Uniform3f(loc int32, x, y, z float32) { u.vec3s[loc] = [3]float32{x, y, z}; u.pushes++ }
func (u *recordingUniforms) Uniform1fv(loc int32, v []float32)    { u.arrays[loc] = v; u.pushes++ }
func (u *recordingUniforms) Uniform2fv(loc int32, v []float32)    { u.arrays[loc] = v; u.pushes++ }
func (u *recordingUniforms) Uniform3fv(loc int32, v []float32)    { u.arrays[loc] = v; u.pushes++ }

func TestNumericNormalization(t *testing.T) {
	for _, typ := range []string{"number", "range"} {
		reg := NewRegistry()
		c, err := reg.Build(newOwner(), "threshold", Spec{
			Default: map[string]any{"type": typ, "default": 40.0, "min": 0.0, "max": 100.0},
			Accepts: AcceptsType("float"),
		}, nil)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		c.Init()
		v := c.Value().(float64)
		if math.Abs(v-0.4) > 1e-9 {
			t.Errorf("%s: expected 0.4, got %f", typ, v)
		}

		// Normalizing again from the encoded value is stable.
		c.Set(c.Encoded())
		if v2 := c.Value().(float64); v2 != v {
			t.Errorf("%s: normalize not idempotent: %f vs %f", typ, v, v2)
		}
	}
}

func TestNumericClampAndFallback(t *testing.T) {
	o := newOwner()
	c, err := NewRegistry().Build(o, "threshold", Spec{
		Default: map[string]any{"type": "range", "default": 50.0, "min": 0.0, "max": 100.0},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Set(250.0)
	if v := c.Value().(float64); v != 1 {
		t.Errorf("expected clamp to 1, got %f", v)
	}
	c.Set("not a number")
	if v := c.Value().(float64); v != 0.5 {
		t.Errorf("expected fallback to default 0.5, got %f", v)
	}
	if o.cache["threshold"] != 50.0 {
		t.Errorf("cache holds %v, expected the default", o.cache["threshold"])
	}
	if o.invalidated != 2 {
		t.Errorf("expected 2 invalidations, got %d", o.invalidated)
	}
}

func TestColorDecode(t *testing.T) {
	tests := []struct {
		in   string
		want [3]float64
	}{
		{"#ffffff", [3]float64{1, 1, 1}},
		{"#000", [3]float64{0, 0, 0}},
		{"#ff0080", [3]float64{1, 0, 128.0 / 255}},
		{"#f80", [3]float64{1, 136.0 / 255, 0}},
	}
	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		for i := range got {
			if math.Abs(got[i]-tt.want[i]) > 1e-9 {
				t.Errorf("%s: got %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
	if _, err := ParseHexColor("#12345"); err == nil {
		t.Errorf("expected error for malformed color")
	}

	c, err := NewRegistry().Build(newOwner(), "color", Spec{
		Default: map[string]any{"type": "color", "default": "#ff0000"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Init()
	before := c.Value().([3]float64)
	c.Set(c.Encoded())
	if after := c.Value().([3]float64); after != before {
		t.Errorf("color round trip changed value: %v -> %v", before, after)
	}
}

func TestBoolDecode(t *testing.T) {
	for _, v := range []any{"1", true, "true", 1.0} {
		if b, err := ParseBool(v); err != nil || !b {
			t.Errorf("%v: expected true, got %v (%v)", v, b, err)
		}
	}
	for _, v := range []any{"0", false, "false", 0.0} {
		if b, err := ParseBool(v); err != nil || b {
			t.Errorf("%v: expected false, got %v (%v)", v, b, err)
		}
	}
}

func TestCachedValueSurvivesRebuild(t *testing.T) {
	o := newOwner()
	reg := NewRegistry()
	spec := Spec{Default: map[string]any{"type": "range", "default": 10.0, "min": 0.0, "max": 100.0}}
	c, _ := reg.Build(o, "threshold", spec, nil)
	c.Init()
	c.Set(75.0)

	// A new control instance for the same owner picks up the cache.
	c2, _ := reg.Build(o, "threshold", spec, nil)
	c2.Init()
	if v := c2.Value().(float64); math.Abs(v-0.75) > 1e-9 {
		t.Errorf("expected cached 0.75, got %f", v)
	}
}

func TestRequiredIsFixed(t *testing.T) {
	o := newOwner()
	o.cache["inverse"] = true
	c, err := NewRegistry().Build(o, "inverse", Spec{
		Default:  map[string]any{"type": "bool", "default": true},
		Required: map[string]any{"default": false},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Interactive() {
		t.Errorf("required control must not be interactive")
	}
	c.Init()
	if c.Value().(bool) {
		t.Errorf("required value must override the cache")
	}
}

func TestIncompatibleTypeFallback(t *testing.T) {
	spec := Spec{
		Default: map[string]any{"type": "range", "default": 10.0},
		Accepts: AcceptsType("float"),
	}
	// A color control yields vec3, which the layer rejects; the declared
	// range is used instead, non-interactive.
	c, err := NewRegistry().Build(newOwner(), "threshold", spec, map[string]any{"type": "color"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Type() != "range" || c.Interactive() {
		t.Errorf("expected non-interactive range fallback, got %s interactive=%v", c.Type(), c.Interactive())
	}

	// When even the declared type is rejected, the control is dropped.
	spec.Accepts = AcceptsType("vec4")
	if c, err := NewRegistry().Build(newOwner(), "threshold", spec, nil); err == nil || c != nil {
		t.Errorf("expected control to be dropped")
	}
}

func TestGLDrawingPushesOnlyWhenDirty(t *testing.T) {
	c, _ := NewRegistry().Build(newOwner(), "threshold", Spec{
		Default: map[string]any{"type": "range", "default": 50.0},
	}, nil)
	u := newUniforms()
	c.Init()
	c.GLLoaded(u)
	c.GLDrawing(u)
	c.GLDrawing(u)
	if u.pushes != 1 {
		t.Errorf("expected one push, got %d", u.pushes)
	}
	c.Set(20.0)
	c.GLDrawing(u)
	if u.pushes != 2 {
		t.Errorf("expected a push after Set, got %d", u.pushes)
	}
	loc := u.names["heatmap_layer1_threshold"]
	if got := u.floats[loc]; math.Abs(float64(got)-0.2) > 1e-6 {
		t.Errorf("expected 0.2 uploaded, got %f", got)
	}
}

func TestSampleAndDefine(t *testing.T) {
	reg := NewRegistry()
	o := newOwner()
	c, _ := reg.Build(o, "use", Spec{Default: map[string]any{"type": "bool"}}, nil)
	if got := c.Define(); got != "uniform bool heatmap_layer1_use;" {
		t.Errorf("unexpected define %q", got)
	}
	if got := c.Sample("", "float"); got != "float(heatmap_layer1_use)" {
		t.Errorf("unexpected sample %q", got)
	}

	cm, err := reg.Build(o, "palette", Spec{Default: map[string]any{"type": "colormap", "steps": 4.0}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := cm.Sample("v", ""); got != "heatmap_layer1_palette_sample(v)" {
		t.Errorf("unexpected colormap sample %q", got)
	}
	if def := cm.Define(); !strings.Contains(def, "uniform vec3 heatmap_layer1_palette_colors[4];") {
		t.Errorf("colormap define missing color array:\n%s", def)
	}
	if n := len(cm.Value().([]float32)); n != 12 {
		t.Errorf("expected 4 colors, got %d floats", n)
	}
}

func TestRangeInputForwards(t *testing.T) {
	o := newOwner()
	c, err := NewRegistry().Build(o, "threshold", Spec{
		Default: map[string]any{"type": "range_input", "default": 25.0, "min": 0.0, "max": 50.0},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Init()
	if v := c.Value().(float64); v != 0.5 {
		t.Errorf("expected 0.5, got %f", v)
	}
	fired := 0
	c.OnChange(func(Control) { fired++ })
	c.Set(10.0)
	if fired != 1 {
		t.Errorf("expected one change event, got %d", fired)
	}
	d := c.Describe()
	if len(d.Children) != 2 || d.Children[1].Value != 10.0 {
		t.Errorf("children not kept in sync: %+v", d.Children)
	}
}
