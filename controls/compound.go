package controls

// RangeInput is a slider paired with a numeric input. Both children share
// one value; the slider owns the uniform.
type RangeInput struct {
	listeners
	owner  Owner
	name   string
	params map[string]any
	slider *SimpleControl
	input  *SimpleControl
}

func newRangeInput(owner Owner, name string, params map[string]any, interactive bool) (Control, error) {
	slider, err := newSimple(owner, name, "range", params, interactive)
	if err != nil {
		return nil, err
	}
	// The input child never declares GLSL; it only mirrors the value.
	input, err := newSimple(owner, name, "number", slider.params, interactive)
	if err != nil {
		return nil, err
	}
	p := copyParams(slider.params)
	p["type"] = "range_input"
	return &RangeInput{owner: owner, name: name, params: p, slider: slider, input: input}, nil
}

func (r *RangeInput) Name() string           { return r.name }
func (r *RangeInput) Type() string           { return "range_input" }
func (r *RangeInput) GLType() string         { return r.slider.GLType() }
func (r *RangeInput) Interactive() bool      { return r.slider.Interactive() }
func (r *RangeInput) Params() map[string]any { return r.params }
func (r *RangeInput) Encoded() any           { return r.slider.Encoded() }
func (r *RangeInput) Value() any             { return r.slider.Value() }

func (r *RangeInput) Init() {
	r.slider.Init()
	r.input.Init()
}

func (r *RangeInput) Set(encoded any) {
	r.slider.Set(encoded)
	r.input.apply(r.slider.Encoded())
	r.fire(r)
}

func (r *RangeInput) Sample(value, glType string) string { return r.slider.Sample(value, glType) }
func (r *RangeInput) Define() string                     { return r.slider.Define() }
func (r *RangeInput) GLLoaded(u Uniforms)                { r.slider.GLLoaded(u) }
func (r *RangeInput) GLDrawing(u Uniforms)               { r.slider.GLDrawing(u) }

func (r *RangeInput) Describe() Descriptor {
	d := r.slider.Describe()
	d.Type = "range_input"
	d.Params = r.params
	d.Children = []Descriptor{r.slider.Describe(), r.input.Describe()}
	return d
}
