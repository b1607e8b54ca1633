package shader

import (
	"fmt"
	"strings"
)

// Mode is the compositing role of a layer.
type Mode string

const (
	// ModeShow blends the layer into the output with source-over.
	ModeShow Mode = "show"
	// ModeBlend blends the layer into the output with its blend function.
	ModeBlend Mode = "blend"
	// ModeClip blends the layer into the preceding layer's pending output
	// before that output reaches the accumulator.
	ModeClip Mode = "clip"
	// ModeMask multiplies the accumulator alpha by the layer alpha.
	ModeMask Mode = "mask"
	// ModeClipMask multiplies the preceding layer's pending alpha by the
	// layer alpha.
	ModeClipMask Mode = "clip_mask"
)

// Modes lists the supported modes; the first is the fallback.
var Modes = []Mode{ModeShow, ModeBlend, ModeClip, ModeMask, ModeClipMask}

// Clips reports whether the mode modifies the pending layer output
// instead of the accumulator.
func (m Mode) Clips() bool { return m == ModeClip || m == ModeClipMask }

func ParseMode(s string) (Mode, bool) {
	for _, m := range Modes {
		if string(m) == s {
			return m, true
		}
	}
	// Older configurations spell clip_mask as mask_clip.
	if s == "mask_clip" {
		return ModeClipMask, true
	}
	return Modes[0], false
}

// BlendFunctions is the fixed set of blend function names. The first one
// is the fallback.
var BlendFunctions = []string{
	"source-over", "source-in", "source-out", "source-atop",
	"destination-over", "destination-in", "destination-out", "destination-atop",
	"lighter", "copy", "xor",
	"multiply", "screen", "overlay", "darken", "lighten",
	"color-dodge", "color-burn", "hard-light", "soft-light",
	"difference", "exclusion",
}

func ValidBlend(name string) bool {
	for _, b := range BlendFunctions {
		if b == name {
			return true
		}
	}
	return false
}

// porterDuff holds the source and destination factors, as GLSL
// expressions over fg.a and bg.a.
var porterDuff = map[string][2]string{
	"source-over":      {"1.0", "1.0 - fg.a"},
	"source-in":        {"bg.a", "0.0"},
	"source-out":       {"1.0 - bg.a", "0.0"},
	"source-atop":      {"bg.a", "1.0 - fg.a"},
	"destination-over": {"1.0 - bg.a", "1.0"},
	"destination-in":   {"0.0", "fg.a"},
	"destination-out":  {"0.0", "1.0 - fg.a"},
	"destination-atop": {"1.0 - bg.a", "fg.a"},
	"lighter":          {"1.0", "1.0"},
	"copy":             {"1.0", "0.0"},
	"xor":              {"1.0 - bg.a", "1.0 - fg.a"},
}

// separable holds the per-channel mixing B(cb, cs).
var separable = map[string]string{
	"multiply":    "bg.rgb * fg.rgb",
	"screen":      "osd_screen(bg.rgb, fg.rgb)",
	"overlay":     "osd_hard_light(fg.rgb, bg.rgb)",
	"darken":      "min(bg.rgb, fg.rgb)",
	"lighten":     "max(bg.rgb, fg.rgb)",
	"color-dodge": "osd_color_dodge(bg.rgb, fg.rgb)",
	"color-burn":  "osd_color_burn(bg.rgb, fg.rgb)",
	"hard-light":  "osd_hard_light(bg.rgb, fg.rgb)",
	"soft-light":  "osd_soft_light(bg.rgb, fg.rgb)",
	"difference":  "abs(bg.rgb - fg.rgb)",
	"exclusion":   "bg.rgb + fg.rgb - 2.0 * bg.rgb * fg.rgb",
}

// BlendFunction returns the GLSL definition of name, which composes fg
// onto bg. Colors are straight (non-premultiplied) alpha.
func BlendFunction(name string, mode Mode) string {
	var body string
	switch {
	case mode == ModeMask || mode == ModeClipMask:
		body = "return vec4(bg.rgb, bg.a * fg.a);"
	case porterDuff[name] != [2]string{}:
		f := porterDuff[name]
		body = fmt.Sprintf("return osd_porter_duff(fg, bg, %s, %s);", f[0], f[1])
	case separable[name] != "":
		body = fmt.Sprintf("return osd_blend_separable(fg, bg, %s);", separable[name])
	default:
		body = "return osd_porter_duff(fg, bg, 1.0, 1.0 - fg.a);"
	}
	return body
}

// BlendLibrary declares the helpers blend functions rely on. It is part of
// every second-pass program.
const BlendLibrary = `vec4 osd_premultiply(vec4 c) { return vec4(c.rgb * c.a, c.a); }
vec4 osd_unpremultiply(vec4 c) { return c.a > 0.0 ? vec4(c.rgb / c.a, c.a) : vec4(0.0); }
vec4 osd_porter_duff(vec4 fg, vec4 bg, float fa, float fb) {
    return osd_unpremultiply(clamp(osd_premultiply(fg) * fa + osd_premultiply(bg) * fb, 0.0, 1.0));
}
vec4 osd_blend_separable(vec4 fg, vec4 bg, vec3 mixed) {
    vec3 cs = (1.0 - bg.a) * fg.rgb + bg.a * clamp(mixed, 0.0, 1.0);
    return osd_porter_duff(vec4(cs, fg.a), bg, 1.0, 1.0 - fg.a);
}
vec3 osd_screen(vec3 cb, vec3 cs) { return cb + cs - cb * cs; }
vec3 osd_hard_light(vec3 cb, vec3 cs) {
    return mix(cb * 2.0 * cs, osd_screen(cb, 2.0 * cs - 1.0), step(0.5, cs));
}
vec3 osd_color_dodge(vec3 cb, vec3 cs) {
    vec3 r = min(vec3(1.0), cb / max(vec3(1.0) - cs, vec3(1e-6)));
    r = mix(r, vec3(1.0), step(1.0, cs));
    return mix(r, vec3(0.0), step(cb, vec3(0.0)));
}
vec3 osd_color_burn(vec3 cb, vec3 cs) {
    vec3 r = vec3(1.0) - min(vec3(1.0), (vec3(1.0) - cb) / max(cs, vec3(1e-6)));
    r = mix(r, vec3(0.0), step(cs, vec3(0.0)));
    return mix(r, vec3(1.0), step(1.0, cb));
}
vec3 osd_soft_light(vec3 cb, vec3 cs) {
    vec3 d = mix(sqrt(cb), ((16.0 * cb - 12.0) * cb + 4.0) * cb, step(cb, vec3(0.25)));
    vec3 dark = cb - (vec3(1.0) - 2.0 * cs) * cb * (vec3(1.0) - cb);
    vec3 light = cb + (2.0 * cs - vec3(1.0)) * (d - cb);
    return mix(dark, light, step(0.5, cs));
}`

// blendFuncDefinition wraps BlendFunction into the per-layer symbol.
func blendFuncDefinition(uid, name string, mode Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "vec4 %s_blend_func(vec4 fg, vec4 bg) {\n", uid)
	b.WriteString("    ")
	b.WriteString(BlendFunction(name, mode))
	b.WriteString("\n}")
	return b.String()
}
