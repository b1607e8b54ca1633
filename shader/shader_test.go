package shader

import (
	"bytes"
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/richinsley/goflex/log"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"layer1", "layer1"},
		{"__a__b__", "a_b"},
		{"layer_", "layer"},
		{"my-layer 2", "mylayer2"},
		{"_x", "x"},
		{"a.b/c", "abc"},
	}
	for _, tt := range tests {
		got, err := SanitizeID(tt.in)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := SanitizeID("-- ..!"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}

	r := rand.New(rand.NewSource(1))
	alphabet := []rune("ab_Z9-_. é")
	for i := 0; i < 500; i++ {
		n := 1 + r.Intn(12)
		rs := make([]rune, n)
		for j := range rs {
			rs[j] = alphabet[r.Intn(len(alphabet))]
		}
		s, err := SanitizeID(string(rs))
		if err != nil {
			continue
		}
		if !ValidID(s) {
			t.Fatalf("%q sanitized to invalid %q", string(rs), s)
		}
		if again, _ := SanitizeID(s); again != s {
			t.Fatalf("sanitize not idempotent: %q -> %q", s, again)
		}
	}
}

func TestRegistryOrderIndependence(t *testing.T) {
	want := NewDefaultMediator(log.Discard()).AvailableTypes()
	if len(want) != len(BuiltinClasses()) {
		t.Fatalf("expected %d types, got %v", len(BuiltinClasses()), want)
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		classes := BuiltinClasses()
		r.Shuffle(len(classes), func(a, b int) { classes[a], classes[b] = classes[b], classes[a] })
		m := NewMediator(log.Discard())
		for _, c := range classes {
			if err := m.RegisterLayer(c); err != nil {
				t.Fatal(err)
			}
		}
		if got := m.AvailableTypes(); !reflect.DeepEqual(got, want) {
			t.Fatalf("order %d: got %v, want %v", i, got, want)
		}
	}
}

func TestRegistrationsClosed(t *testing.T) {
	m := NewMediator(log.Discard())
	m.SetAcceptsRegistrations(false)
	if err := m.RegisterLayer(identityClass()); !errors.Is(err, ErrRegistrationsClosed) {
		t.Errorf("expected ErrRegistrationsClosed, got %v", err)
	}
	m.Reset()
	if err := m.RegisterLayer(identityClass()); err != nil {
		t.Errorf("registration after reset: %v", err)
	}
	if _, ok := m.GetClass("identity"); !ok {
		t.Errorf("identity not registered")
	}
}

func newTestLayer(t *testing.T, m *Mediator, cfg *Config) *Layer {
	t.Helper()
	l, err := NewLayer(m, cfg, Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestNewLayerErrors(t *testing.T) {
	m := NewDefaultMediator(log.Discard())
	if _, err := NewLayer(m, NewConfig("a", "nope", 0), Hooks{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if _, err := NewLayer(m, NewConfig("a b", "heatmap", 0), Hooks{}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	// Generated symbols append "_blend_func", which would form "__".
	if _, err := NewLayer(m, NewConfig("a_", "identity", 0), Hooks{}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("trailing underscore: expected ErrInvalidID, got %v", err)
	}
	l := newTestLayer(t, m, NewConfig("a", "bipolar-heatmap", 0))
	if l.UID() != "bipolarheatmap_a" {
		t.Errorf("unexpected uid %q", l.UID())
	}
}

func TestLayerFallbacks(t *testing.T) {
	m := NewDefaultMediator(log.Discard())

	cfg := NewConfig("h", "heatmap", 0)
	cfg.Params["use_channel0"] = "rg"
	cfg.Params["use_mode"] = "bogus"
	cfg.Params["use_blend"] = "nope"
	l := newTestLayer(t, m, cfg)
	if l.Err() != nil {
		t.Fatalf("fallbacks must not fail the layer: %v", l.Err())
	}
	if got := l.Channels(); len(got) != 1 || got[0] != "r" {
		t.Errorf("expected channel r, got %v", got)
	}
	if l.Mode() != ModeShow || l.Blend() != "source-over" {
		t.Errorf("expected show/source-over, got %s/%s", l.Mode(), l.Blend())
	}

	cfg.Params["use_channel0"] = "g"
	cfg.Params["use_mode"] = "mask_clip"
	cfg.Params["use_blend"] = "multiply"
	l.Construct()
	if l.Channels()[0] != "g" || l.Mode() != ModeClipMask || l.Blend() != "multiply" {
		t.Errorf("got %v %s %s", l.Channels(), l.Mode(), l.Blend())
	}

	// Show ignores the configured blend function.
	l.SetMode(ModeShow)
	if l.Blend() != "source-over" {
		t.Errorf("show must use source-over, got %s", l.Blend())
	}
}

func TestLayerSourceError(t *testing.T) {
	m := NewMediator(log.Discard())
	err := m.RegisterLayer(&Class{
		Type:    "broken",
		Sources: []Source{{AcceptsChannelCount: func(n int) bool { return n > 4 }}},
		New:     identityClass().New,
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := NewConfig("b", "broken", 0)
	l := newTestLayer(t, m, cfg)
	if l.Err() == nil || cfg.Error == "" {
		t.Fatalf("expected a layer error")
	}
	if l.Active() {
		t.Errorf("errored layer must not be active")
	}
}

func TestChannelWithoutPredicate(t *testing.T) {
	m := NewMediator(log.Discard())
	if err := m.RegisterLayer(&Class{
		Type:    "open",
		Sources: []Source{{Description: "anything"}},
		New:     identityClass().New,
	}); err != nil {
		t.Fatal(err)
	}
	cfg := NewConfig("o", "open", 0)
	cfg.Params["use_channel0"] = "rg"
	l := newTestLayer(t, m, cfg)
	if got := l.Channels()[0]; got != "rg" {
		t.Errorf("channel = %q, want rg", got)
	}

	cfg.Params["use_channel0"] = "xyz"
	l.Construct()
	if got := l.Channels()[0]; got != "r" {
		t.Errorf("invalid swizzle: channel = %q, want r", got)
	}
}

func TestCodeLayerReturnsVec4(t *testing.T) {
	m := NewDefaultMediator(log.Discard())
	cfg := NewConfig("c", "code", 0)
	l := newTestLayer(t, m, cfg)
	want := "return vec4(vec3(osd_texture(0, v_texture_coords).r), 1.0);"
	if got := l.Execution(); got != want {
		t.Errorf("default: got %q, want %q", got, want)
	}

	for swizzle, want := range map[string]string{
		"rg":   "return vec4(osd_texture(0, v_texture_coords).rg, 0.0, 1.0);",
		"rgb":  "return vec4(osd_texture(0, v_texture_coords).rgb, 1.0);",
		"rgba": "return osd_texture(0, v_texture_coords).rgba;",
	} {
		cfg.Params["use_channel0"] = swizzle
		l.Construct()
		if got := l.Execution(); got != want {
			t.Errorf("%s: got %q, want %q", swizzle, got, want)
		}
	}
}

func TestSampleChannel(t *testing.T) {
	m := NewDefaultMediator(log.Discard())
	cfg := NewConfig("i", "identity", 3)
	l := newTestLayer(t, m, cfg)
	if got, want := l.SampleChannel("uv", 0, false), "osd_texture(3, uv).rgba"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	cfg.Params["use_gamma"] = 2.0
	l.Construct()
	if got, want := l.SampleChannel("uv", 0, false), "identity_i_filters(osd_texture(3, uv)).rgba"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := l.SampleChannel("uv", 0, true), "osd_texture(3, uv).rgba"; got != want {
		t.Errorf("raw: got %q, want %q", got, want)
	}
	if !strings.Contains(l.Definition(), "vec4 identity_i_filters(vec4 v)") {
		t.Errorf("filters function missing from definition:\n%s", l.Definition())
	}
}

func TestHeatmapExecution(t *testing.T) {
	m := NewDefaultMediator(log.Discard())
	cfg := NewConfig("h", "heatmap", 0)
	cfg.Params["threshold"] = 50.0
	l := newTestLayer(t, m, cfg)
	if len(l.Controls()) != 3 {
		t.Fatalf("expected 3 controls, got %d", len(l.Controls()))
	}
	exec := l.Execution()
	for _, s := range []string{"osd_texture(0, v_texture_coords).r", "heatmap_h_threshold", "heatmap_h_color"} {
		if !strings.Contains(exec, s) {
			t.Errorf("execution lacks %q:\n%s", s, exec)
		}
	}
	l.Init()
	if v := l.Control("threshold").Value().(float64); v != 0.5 {
		t.Errorf("expected threshold 0.5, got %f", v)
	}
}

func TestBlendDefinition(t *testing.T) {
	def := blendFuncDefinition("x", "multiply", ModeMask)
	if !strings.Contains(def, "vec4(bg.rgb, bg.a * fg.a)") {
		t.Errorf("mask mode must multiply alpha:\n%s", def)
	}
	def = blendFuncDefinition("x", "source-over", ModeBlend)
	if !strings.HasPrefix(def, "vec4 x_blend_func(vec4 fg, vec4 bg) {") {
		t.Errorf("unexpected definition:\n%s", def)
	}
	for name := range separable {
		if !strings.Contains(BlendFunction(name, ModeBlend), "osd_blend_separable") {
			t.Errorf("%s: expected a separable blend", name)
		}
	}
	for _, name := range BlendFunctions {
		if _, pd := porterDuff[name]; !pd && separable[name] == "" {
			t.Errorf("%s has no implementation", name)
		}
	}
}

const testConfigs = `{
  "b": {"type": "heatmap", "tiledImages": [0], "params": {"threshold": 50}},
  "a": {"id": "a", "type": "identity", "visible": false, "tiledImages": [1]}
}`

func TestParseConfigsOrder(t *testing.T) {
	configs, order, err := ParseConfigs([]byte(testConfigs))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []string{"b", "a"}) {
		t.Errorf("order %v", order)
	}
	if configs["b"].ID != "b" || !configs["b"].IsVisible() {
		t.Errorf("b: %+v", configs["b"])
	}
	if configs["a"].IsVisible() {
		t.Errorf("a must be hidden")
	}

	out, err := MarshalConfigs(configs, order)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(string(out), `"b"`) > strings.Index(string(out), `"a"`) {
		t.Errorf("marshal lost order:\n%s", out)
	}
}

func TestConfigClone(t *testing.T) {
	c := NewConfig("x", "heatmap", 0)
	c.Params["threshold"] = 10.0
	d := c.Clone()
	d.Params["threshold"] = 20.0
	d.TiledImages[0] = 5
	if c.Params["threshold"] != 10.0 || c.TiledImages[0] != 0 {
		t.Errorf("clone shares state with original")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	configs, order, err := ParseConfigs([]byte(testConfigs))
	if err != nil {
		t.Fatal(err)
	}
	configs["b"].Cache["threshold"] = 75.0

	var buf bytes.Buffer
	if err := SaveSession(&buf, configs, order); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSession(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.Order, order) {
		t.Errorf("order %v", s.Order)
	}
	b := s.Configs["b"]
	if b == nil || b.Type != "heatmap" || b.Cache["threshold"] != 75.0 {
		t.Errorf("b: %+v", b)
	}
	if s.Configs["a"].IsVisible() {
		t.Errorf("a must stay hidden")
	}
}
