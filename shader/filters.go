package shader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/richinsley/goflex/controls"
)

// Filters are post-sampling value transforms configured through the
// reserved use_gamma, use_exposure and use_logscale params. A zero value
// disables a filter (gamma 1 is also a no-op).
type Filters struct {
	Gamma    float64
	Exposure float64
	LogScale float64
}

var filterParams = []string{"use_gamma", "use_exposure", "use_logscale"}

func (f Filters) Active() bool {
	return (f.Gamma > 0 && f.Gamma != 1) || f.Exposure > 0 || f.LogScale > 0
}

// parseFilters reads the filter params; invalid values are ignored with a
// warning.
func (l *Layer) parseFilters() Filters {
	var f Filters
	for _, key := range filterParams {
		raw, ok := l.config.Params[key]
		if !ok {
			continue
		}
		v, err := controls.ToFloat(raw)
		if err != nil || v < 0 {
			l.log.Warn("invalid filter value ignored", "layer", l.uid, "filter", key, "value", raw)
			continue
		}
		switch key {
		case "use_gamma":
			f.Gamma = v
		case "use_exposure":
			f.Exposure = v
		case "use_logscale":
			f.LogScale = v
		}
	}
	return f
}

// glslFloat formats v as a GLSL float literal.
func glslFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// definition returns the <uid>_filters function, or "" when no filter is
// active.
func (f Filters) definition(uid string) string {
	if !f.Active() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "vec4 %s_filters(vec4 v) {\n", uid)
	if f.Gamma > 0 && f.Gamma != 1 {
		fmt.Fprintf(&b, "    v = pow(max(v, vec4(0.0)), vec4(1.0 / %s));\n", glslFloat(f.Gamma))
	}
	if f.Exposure > 0 {
		fmt.Fprintf(&b, "    v = vec4(1.0) - exp(-v * %s);\n", glslFloat(f.Exposure))
	}
	if f.LogScale > 0 {
		k := glslFloat(f.LogScale)
		fmt.Fprintf(&b, "    v = log(vec4(1.0) + v * %s) / log(1.0 + %s);\n", k, k)
	}
	b.WriteString("    return v;\n}")
	return b.String()
}
