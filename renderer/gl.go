package renderer

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/translator"
)

// glProgram is a linked program plus the name mapping produced by the
// translator. It implements controls.Uniforms.
type glProgram struct {
	id    uint32
	names map[string]string
	locs  map[string]int32
}

var _ controls.Uniforms = (*glProgram)(nil)

// linkProgram translates both stages for the context's dialect, then
// compiles and links them. Without translation the sources are compiled
// as written and uniform names are used unmapped.
func linkProgram(vertexSource, fragmentSource string, gles, translate bool) (*glProgram, error) {
	if !translate {
		id, err := newProgram(vertexSource, fragmentSource)
		if err != nil {
			return nil, err
		}
		return &glProgram{id: id, locs: make(map[string]int32)}, nil
	}
	vs, err := translator.Translate(vertexSource, "vertex", gles)
	if err != nil {
		return nil, err
	}
	fs, err := translator.Translate(fragmentSource, "fragment", gles)
	if err != nil {
		return nil, err
	}
	id, err := newProgram(vs.Code, fs.Code)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(vs.Names)+len(fs.Names))
	for k, v := range vs.Names {
		names[k] = v
	}
	for k, v := range fs.Names {
		names[k] = v
	}
	return &glProgram{id: id, names: names, locs: make(map[string]int32)}, nil
}

func (p *glProgram) Location(name string) int32 {
	if l, ok := p.locs[name]; ok {
		return l
	}
	mapped := name
	if m, ok := p.names[name]; ok {
		mapped = m
	}
	l := gl.GetUniformLocation(p.id, gl.Str(mapped+"\x00"))
	p.locs[name] = l
	return l
}

func (p *glProgram) Uniform1f(loc int32, v float32)       { gl.Uniform1f(loc, v) }
func (p *glProgram) Uniform1i(loc int32, v int32)         { gl.Uniform1i(loc, v) }
func (p *glProgram) Uniform3f(loc int32, x, y, z float32) { gl.Uniform3f(loc, x, y, z) }

func (p *glProgram) Uniform1fv(loc int32, v []float32) {
	if len(v) > 0 {
		gl.Uniform1fv(loc, int32(len(v)), &v[0])
	}
}

func (p *glProgram) Uniform2fv(loc int32, v []float32) {
	if len(v) >= 2 {
		gl.Uniform2fv(loc, int32(len(v)/2), &v[0])
	}
}

func (p *glProgram) Uniform3fv(loc int32, v []float32) {
	if len(v) >= 3 {
		gl.Uniform3fv(loc, int32(len(v)/3), &v[0])
	}
}

func (p *glProgram) Uniform4fv(loc int32, v []float32) {
	if len(v) >= 4 {
		gl.Uniform4fv(loc, int32(len(v)/4), &v[0])
	}
}

func (p *glProgram) delete() {
	if p.id != 0 {
		gl.DeleteProgram(p.id)
		p.id = 0
	}
}

func newProgram(vertexShaderSource, fragmentShaderSource string) (uint32, error) {
	vertexShader, err := compileShader(vertexShaderSource, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("vertex shader: %w", err)
	}
	fragmentShader, err := compileShader(fragmentShaderSource, gl.FRAGMENT_SHADER)
	if err != nil {
		gl.DeleteShader(vertexShader)
		return 0, fmt.Errorf("fragment shader: %w", err)
	}

	program := gl.CreateProgram()
	gl.AttachShader(program, vertexShader)
	gl.AttachShader(program, fragmentShader)
	gl.LinkProgram(program)
	gl.DeleteShader(vertexShader)
	gl.DeleteShader(fragmentShader)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("%w: link: %s", ErrCompile, strings.TrimRight(log, "\x00"))
	}
	return program, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		logText := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(logText))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%w: %s", ErrCompile, strings.TrimRight(logText, "\x00"))
	}
	return shader, nil
}

// numbered prefixes every line of src with its line number, matching the
// numbers compilers put in their logs.
func numbered(src string) string {
	lines := strings.Split(src, "\n")
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%4d  %s\n", i+1, l)
	}
	return b.String()
}
