package renderer

import (
	"errors"
	"strings"
	"testing"

	"github.com/richinsley/goflex/atlas"
	"github.com/richinsley/goflex/geom"
	"github.com/richinsley/goflex/log"
	"github.com/richinsley/goflex/shader"
)

type layerSpec struct {
	id, typ string
	source  int
	params  map[string]any
	hidden  bool
}

func makeLayers(t *testing.T, m *shader.Mediator, specs ...layerSpec) (map[string]*shader.Layer, []string) {
	t.Helper()
	layers := make(map[string]*shader.Layer)
	var order []string
	for _, s := range specs {
		cfg := shader.NewConfig(s.id, s.typ, s.source)
		for k, v := range s.params {
			cfg.Params[k] = v
		}
		if s.hidden {
			cfg.Visible = 0
		}
		l, err := shader.NewLayer(m, cfg, shader.Hooks{})
		if err != nil {
			t.Fatal(err)
		}
		layers[s.id] = l
		order = append(order, s.id)
	}
	return layers, order
}

func TestBuildDeterministic(t *testing.T) {
	specs := []layerSpec{
		{id: "a", typ: "heatmap"},
		{id: "b", typ: "edge", source: 1, params: map[string]any{"use_mode": "blend", "use_blend": "multiply"}},
		{id: "c", typ: "colormap", source: 2, params: map[string]any{"use_gamma": 2.2}},
	}
	build := func() string {
		m := shader.NewDefaultMediator(log.Discard())
		layers, order := makeLayers(t, m, specs...)
		return BuildSecondPass(layers, order, SecondPassOptions{Mediator: m}).Fragment
	}
	first := build()
	for i := 0; i < 5; i++ {
		if got := build(); got != first {
			t.Fatalf("build %d differs from the first", i)
		}
	}
}

func TestSlotsStayAligned(t *testing.T) {
	m := shader.NewDefaultMediator(log.Discard())
	layers, order := makeLayers(t, m,
		layerSpec{id: "a", typ: "identity"},
		layerSpec{id: "b", typ: "identity", source: 1, hidden: true},
		layerSpec{id: "c", typ: "identity", source: 2},
	)
	src := BuildSecondPass(layers, order, SecondPassOptions{Mediator: m})
	for _, want := range []string{
		"uniform vec4 u_instanceInfo[3];",
		"instance_id = 0;\n",
		"instance_id = 1; opacity = 0.0;",
		"instance_id = 2;\n",
		"opacity = u_instanceInfo[2].x;",
	} {
		if !strings.Contains(src.Fragment, want) {
			t.Errorf("fragment lacks %q", want)
		}
	}
	if strings.Contains(src.Fragment, "identity_b_execution") {
		t.Errorf("hidden layer was compiled")
	}
	if len(src.Active) != 2 || src.Active[0] != "a" || src.Active[1] != "c" {
		t.Errorf("unexpected active layers %v", src.Active)
	}
}

func TestEmptyOrder(t *testing.T) {
	src := BuildSecondPass(nil, nil, SecondPassOptions{})
	if src.Empty() {
		t.Fatal("empty order must still produce a program")
	}
	if strings.Contains(src.Fragment, "_execution") {
		t.Errorf("empty program calls a layer")
	}
	for _, want := range []string{"u_instanceInfo[1]", "osd_fragment_color = final_color;", "void main()"} {
		if !strings.Contains(src.Fragment, want) {
			t.Errorf("fragment lacks %q", want)
		}
	}
}

func TestClipAppliesBeforeFlush(t *testing.T) {
	m := shader.NewDefaultMediator(log.Discard())
	layers, order := makeLayers(t, m,
		layerSpec{id: "a", typ: "heatmap"},
		layerSpec{id: "b", typ: "identity", source: 1, params: map[string]any{"use_mode": "clip", "use_blend": "source-in"}},
		layerSpec{id: "c", typ: "identity", source: 2},
	)
	f := BuildSecondPass(layers, order, SecondPassOptions{Mediator: m}).Fragment
	clip := strings.Index(f, "intermediate_color = identity_b_blend_func(")
	flushA := strings.Index(f, "final_color = heatmap_a_blend_func(intermediate_color, final_color);")
	flushC := strings.Index(f, "final_color = identity_c_blend_func(intermediate_color, final_color);")
	if clip < 0 || flushA < 0 || flushC < 0 {
		t.Fatalf("missing statements: clip %d flushA %d flushC %d", clip, flushA, flushC)
	}
	if !(clip < flushA && flushA < flushC) {
		t.Errorf("unexpected statement order: clip %d flushA %d flushC %d", clip, flushA, flushC)
	}
}

func TestFailedLayerSkipped(t *testing.T) {
	m := shader.NewDefaultMediator(log.Discard())
	layers, order := makeLayers(t, m,
		layerSpec{id: "a", typ: "identity"},
		layerSpec{id: "b", typ: "code", source: 1, params: map[string]any{"fs_execute": "return broken;"}},
	)
	layers["b"].Fail(errors.New("does not compile"))
	src := BuildSecondPass(layers, order, SecondPassOptions{Mediator: m})
	if strings.Contains(src.Fragment, "code_b") {
		t.Errorf("failed layer was compiled")
	}
	if !strings.Contains(src.Fragment, "instance_id = 1; opacity = 0.0;") {
		t.Errorf("failed layer lost its slot")
	}
	if layers["b"].Config().Error == "" {
		t.Errorf("config error not recorded")
	}
}

func TestAtlasDeclaredOnDemand(t *testing.T) {
	m := shader.NewDefaultMediator(log.Discard())
	a := atlas.New(atlas.DefaultOptions(), log.Discard())

	layers, order := makeLayers(t, m, layerSpec{id: "a", typ: "identity"})
	if src := BuildSecondPass(layers, order, SecondPassOptions{Mediator: m, Atlas: a}); src.Atlas ||
		strings.Contains(src.Fragment, "osd_atlas_array") {
		t.Errorf("atlas declared without a user")
	}

	layers, order = makeLayers(t, m, layerSpec{id: "p", typ: "atlas-pattern"})
	src := BuildSecondPass(layers, order, SecondPassOptions{Mediator: m, Atlas: a})
	if !src.Atlas || !strings.Contains(src.Fragment, "uniform sampler2DArray osd_atlas_array;") {
		t.Errorf("atlas not declared for atlas-pattern")
	}
}

func TestComposer(t *testing.T) {
	type step struct {
		uid  string
		clip bool
		skip bool
	}
	tests := []struct {
		name    string
		steps   []step
		state   composerState
		flushes []string
	}{
		{"none", nil, composerIdle, nil},
		{"one", []step{{uid: "a"}}, composerPending, []string{"a"}},
		{"two", []step{{uid: "a"}, {uid: "b"}}, composerPending, []string{"a", "b"}},
		{"clip keeps pending", []step{{uid: "a"}, {uid: "c", clip: true}}, composerPending, []string{"a"}},
		{"leading clip", []step{{uid: "c", clip: true}}, composerIdle, nil},
		{"skip keeps pending", []step{{uid: "a"}, {skip: true}, {uid: "b"}}, composerPending, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c composer
			for i, s := range tt.steps {
				if s.skip {
					c.skip(i)
				} else {
					c.layer(s.uid, i, i, s.clip)
				}
			}
			if c.state != tt.state {
				t.Errorf("state %v, want %v", c.state, tt.state)
			}
			body := c.finish()
			if c.state != composerIdle {
				t.Errorf("finish left state %v", c.state)
			}
			if n := strings.Count(body, "final_color = "); n != len(tt.flushes) {
				t.Errorf("%d flushes, want %d:\n%s", n, len(tt.flushes), body)
			}
			last := -1
			for _, uid := range tt.flushes {
				i := strings.Index(body, "final_color = "+uid+"_blend_func(")
				if i <= last {
					t.Errorf("flush of %s missing or out of order", uid)
				}
				last = i
			}
		})
	}
}

func TestVersionSupported(t *testing.T) {
	tests := []struct {
		v    string
		want bool
	}{
		{"4.1 Metal - 88", true},
		{"4.6.0 NVIDIA 550.54", true},
		{"3.3 (Core Profile) Mesa 23.0", false},
		{"OpenGL ES 3.2 Mesa 24.0", true},
		{"OpenGL ES 2.0", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := versionSupported(tt.v); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestTriangulate(t *testing.T) {
	square := []geom.Point{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}
	out := triangulate([][]geom.Point{square, square[:2]})
	if len(out) != 2 {
		t.Fatalf("expected one list per polygon, got %d", len(out))
	}
	if len(out[0]) != 2*3*2 {
		t.Errorf("square should give two triangles, got %d floats", len(out[0]))
	}
	if len(out[1]) != 0 {
		t.Errorf("degenerate polygon produced triangles")
	}
	var area float64
	for i := 0; i+6 <= len(out[0]); i += 6 {
		v := out[0][i : i+6]
		area += 0.5 * abs(float64((v[2]-v[0])*(v[5]-v[1])-(v[4]-v[0])*(v[3]-v[1])))
	}
	if area != 4 {
		t.Errorf("triangles cover %v, want 4", area)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestFirstPassFragment(t *testing.T) {
	f := firstPassFragment(3)
	for _, want := range []string{"uniform sampler2D u_texture2;", "if (v_texture_id == 2) return texture(u_texture2, v_texture_coords);"} {
		if !strings.Contains(f, want) {
			t.Errorf("fragment lacks %q", want)
		}
	}
	if strings.Contains(f, "u_texture3") {
		t.Errorf("fragment declares too many samplers")
	}
}
