package renderer

import (
	"fmt"
	"strings"

	"github.com/richinsley/goflex/atlas"
	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/shader"
)

// ProgramSource is the GLSL ES 3.00 source of one program.
type ProgramSource struct {
	Vertex   string
	Fragment string
	// Order is the layer order the program was built for; slot i of
	// u_instanceInfo belongs to Order[i].
	Order []string
	// Active lists the ids of the layers compiled into the program.
	Active []string
	Atlas  bool
}

// Empty reports whether there is nothing to compile.
func (s *ProgramSource) Empty() bool {
	return s == nil || strings.TrimSpace(s.Vertex) == "" || strings.TrimSpace(s.Fragment) == ""
}

type SecondPassOptions struct {
	Mediator *shader.Mediator
	Atlas    *atlas.Atlas
}

const secondPassVertex = `#version 300 es
precision highp float;

out vec2 v_texture_coords;

void main() {
    vec2 p = vec2(float(gl_VertexID & 1), float(gl_VertexID >> 1));
    v_texture_coords = p;
    gl_Position = vec4(p * 2.0 - 1.0, 0.0, 1.0);
}
`

const secondPassHeader = `#version 300 es
precision highp float;
precision highp int;
precision highp sampler2DArray;

in vec2 v_texture_coords;
out vec4 osd_fragment_color;

uniform sampler2DArray u_inputTextures;
uniform sampler2DArray u_stencilTextures;
uniform vec4 u_instanceInfo[%d];

int instance_id;
float opacity;
float pixelSize;
float zoom;
vec4 intermediate_color;
vec4 final_color;

vec4 osd_texture(int index, vec2 coords) {
    return texture(u_inputTextures, vec3(coords, float(index)));
}
float osd_stencil(int index) {
    return texture(u_stencilTextures, vec3(v_texture_coords, float(index))).r;
}
vec2 osd_texel_size() {
    return 1.0 / vec2(textureSize(u_inputTextures, 0).xy);
}
`

// fragment is what one layer contributes outside main.
type fragment struct {
	uid        string
	definition string
	blend      string
	execution  string
}

func (f fragment) write(b *strings.Builder) {
	fmt.Fprintf(b, "\n// %s\n", f.uid)
	if f.definition != "" {
		b.WriteString(f.definition)
		b.WriteByte('\n')
	}
	b.WriteString(f.blend)
	b.WriteByte('\n')
	fmt.Fprintf(b, "vec4 %s_execution() {\n", f.uid)
	for _, l := range strings.Split(f.execution, "\n") {
		b.WriteString("    ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
}

// BuildSecondPass synthesizes the compositing program for the layers in
// order. Inactive or missing layers keep their slot but render nothing.
// The output depends only on its inputs.
func BuildSecondPass(layers map[string]*shader.Layer, order []string, opts SecondPassOptions) *ProgramSource {
	src := &ProgramSource{Vertex: secondPassVertex, Order: append([]string(nil), order...)}

	var (
		frags   []fragment
		classes []*shader.Class
		comp    composer
	)
	seenClass := make(map[string]bool)
	seenLayer := make(map[string]bool)
	for slot, id := range order {
		l, ok := layers[id]
		if !ok || !l.Active() || seenLayer[id] {
			comp.skip(slot)
			continue
		}
		seenLayer[id] = true
		if t := l.Class().Type; !seenClass[t] {
			seenClass[t] = true
			classes = append(classes, l.Class())
		}
		frags = append(frags, fragment{
			uid:        l.UID(),
			definition: l.Definition(),
			blend:      l.BlendDefinition(),
			execution:  l.Execution(),
		})
		comp.layer(l.UID(), slot, l.TextureIndex(0), l.Mode().Clips())
		src.Active = append(src.Active, id)
	}

	var defs strings.Builder
	if opts.Mediator != nil {
		for _, inc := range opts.Mediator.Includes(classes) {
			defs.WriteString(inc)
			defs.WriteByte('\n')
		}
	}
	for _, f := range frags {
		f.write(&defs)
	}
	src.Atlas = opts.Atlas != nil && strings.Contains(defs.String(), "osd_atlas_texture")

	var b strings.Builder
	fmt.Fprintf(&b, secondPassHeader, max(len(order), 1))
	b.WriteByte('\n')
	b.WriteString(shader.BlendLibrary)
	b.WriteByte('\n')
	if src.Atlas {
		b.WriteString(opts.Atlas.Define())
	}
	b.WriteString(defs.String())
	b.WriteString("\nvoid main() {\n")
	b.WriteString("    final_color = vec4(0.0);\n")
	b.WriteString("    intermediate_color = vec4(0.0);\n")
	b.WriteString(comp.finish())
	b.WriteString("    osd_fragment_color = final_color;\n")
	b.WriteString("}\n")
	src.Fragment = b.String()
	return src
}

// SecondPass is the compositing program. It is rebuilt whenever the layer
// chain changes.
type SecondPass struct {
	r   *Renderer
	src *ProgramSource
}

func (p *SecondPass) Name() string { return SecondPassKey }

func (p *SecondPass) Build(layers map[string]*shader.Layer, order []string) (*ProgramSource, error) {
	p.src = BuildSecondPass(layers, order, SecondPassOptions{Mediator: p.r.mediator, Atlas: p.r.atlas})
	return p.src, nil
}

// Load pushes every control uniform of the compiled layers.
func (p *SecondPass) Load(u controls.Uniforms) {
	for _, id := range p.src.Active {
		if l, ok := p.r.layers[id]; ok {
			l.GLLoaded(u)
		}
	}
}

func (p *SecondPass) Unload() {}

func (p *SecondPass) Destroy() { p.src = nil }
