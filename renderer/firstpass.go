package renderer

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/mmp/earcut-go"

	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/geom"
	"github.com/richinsley/goflex/shader"
)

// Values of u_renderClippingParams.
const (
	pathRaster  = 0
	pathPolygon = 1
	pathVector  = 2
)

// maxTileUnits caps the samplers of one raster batch.
const maxTileUnits = 16

// TileDraw places one tile texture. TransformMatrix maps the unit square
// to clip space; UVRect is x, y, w, h in texture coordinates.
type TileDraw struct {
	TransformMatrix geom.Mat3
	Texture         uint32
	UVRect          [4]float32
}

// Mesh is tessellated vector data in tile-local unit coordinates: two
// floats per position, four bytes of straight RGBA per vertex.
type Mesh struct {
	Positions []float32
	Colors    []uint8
	Indices   []uint32
}

// MeshSet is the tessellated content of one vector tile.
type MeshSet struct {
	Fills  *Mesh
	Lines  *Mesh
	Points *Mesh
}

// GPUMesh is a Mesh uploaded to vertex and index buffers.
type GPUMesh struct {
	vao, positions, colors, indices uint32
	count                           int32
	mode                            uint32
}

// NewGPUMesh uploads m; mode is gl.TRIANGLES, gl.LINES or gl.POINTS. A nil
// or empty mesh yields nil.
func NewGPUMesh(m *Mesh, mode uint32) *GPUMesh {
	if m == nil || len(m.Positions) < 2 || len(m.Indices) == 0 {
		return nil
	}
	g := &GPUMesh{count: int32(len(m.Indices)), mode: mode}
	gl.GenVertexArrays(1, &g.vao)
	gl.BindVertexArray(g.vao)

	gl.GenBuffers(1, &g.positions)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.positions)
	gl.BufferData(gl.ARRAY_BUFFER, len(m.Positions)*4, gl.Ptr(m.Positions), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 0, 0)

	colors := m.Colors
	if len(colors) < len(m.Positions)*2 {
		colors = make([]uint8, len(m.Positions)*2)
		copy(colors, m.Colors)
	}
	gl.GenBuffers(1, &g.colors)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.colors)
	gl.BufferData(gl.ARRAY_BUFFER, len(colors), gl.Ptr(colors), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(1)
	gl.VertexAttribPointerWithOffset(1, 4, gl.UNSIGNED_BYTE, true, 0, 0)

	gl.GenBuffers(1, &g.indices)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, g.indices)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(m.Indices)*4, gl.Ptr(m.Indices), gl.STATIC_DRAW)

	gl.BindVertexArray(0)
	return g
}

func (g *GPUMesh) draw() {
	if g == nil {
		return
	}
	gl.BindVertexArray(g.vao)
	gl.DrawElementsWithOffset(g.mode, g.count, gl.UNSIGNED_INT, 0)
}

// Delete frees the buffers. It is safe on nil.
func (g *GPUMesh) Delete() {
	if g == nil || g.vao == 0 {
		return
	}
	bufs := []uint32{g.positions, g.colors, g.indices}
	gl.DeleteBuffers(int32(len(bufs)), &bufs[0])
	gl.DeleteVertexArrays(1, &g.vao)
	g.vao = 0
}

// VectorDraw places the meshes of one vector tile; Matrix maps tile-local
// coordinates to clip space.
type VectorDraw struct {
	Fills, Lines, Points *GPUMesh
	Matrix               geom.Mat3
}

// FPRenderPackage is everything the first pass draws for one tiled image.
// Polygons are clip-space clip regions; none means no clipping.
type FPRenderPackage struct {
	Tiles    []TileDraw
	Vectors  []VectorDraw
	Polygons [][]geom.Point
}

// RenderOutput holds the first-pass textures: 2D arrays whose layer i is
// data source i.
type RenderOutput struct {
	Texture       uint32
	Stencil       uint32
	SourcesLength int
}

const firstPassVertex = `#version 300 es
precision highp float;
precision highp int;

uniform int u_renderClippingParams;
uniform mat3 u_geomMatrix;
uniform float u_pointSize;

layout(location = 0) in vec2 a_position;
layout(location = 1) in vec4 a_color;
layout(location = 2) in vec3 a_transform_col0;
layout(location = 3) in vec3 a_transform_col1;
layout(location = 4) in vec3 a_transform_col2;
layout(location = 5) in vec4 a_uv_rect;

flat out int v_texture_id;
out vec2 v_texture_coords;
out vec4 v_color;

void main() {
    v_texture_id = 0;
    v_texture_coords = vec2(0.0);
    v_color = vec4(0.0);
    gl_PointSize = u_pointSize;
    vec3 p;
    if (u_renderClippingParams == 0) {
        mat3 m = mat3(a_transform_col0, a_transform_col1, a_transform_col2);
        p = m * vec3(a_position, 1.0);
        v_texture_id = gl_InstanceID;
        v_texture_coords = a_uv_rect.xy + a_position * a_uv_rect.zw;
    } else {
        p = u_geomMatrix * vec3(a_position, 1.0);
        v_color = a_color;
    }
    gl_Position = vec4(p.xy, 0.0, 1.0);
}
`

// firstPassFragment declares one sampler per unit; ESSL 3.00 can not index
// sampler arrays dynamically.
func firstPassFragment(units int) string {
	var b strings.Builder
	b.WriteString(`#version 300 es
precision highp float;
precision highp int;

uniform int u_renderClippingParams;
`)
	for i := 0; i < units; i++ {
		fmt.Fprintf(&b, "uniform sampler2D u_texture%d;\n", i)
	}
	b.WriteString(`
flat in int v_texture_id;
in vec2 v_texture_coords;
in vec4 v_color;

layout(location = 0) out vec4 o_color;
layout(location = 1) out vec4 o_stencil;

vec4 osd_tile() {
`)
	for i := 0; i < units; i++ {
		fmt.Fprintf(&b, "    if (v_texture_id == %d) return texture(u_texture%d, v_texture_coords);\n", i, i)
	}
	b.WriteString(`    return vec4(0.0);
}

void main() {
    if (u_renderClippingParams == 1) {
        o_color = vec4(0.0);
        o_stencil = vec4(0.0);
        return;
    }
    if (u_renderClippingParams == 2) {
        o_color = v_color;
        o_stencil = vec4(1.0);
        return;
    }
    o_color = osd_tile();
    o_stencil = vec4(1.0);
}
`)
	return b.String()
}

// triangulate turns clip polygons into flat triangle lists, one per
// polygon. Degenerate polygons yield an empty list.
func triangulate(polygons [][]geom.Point) [][]float32 {
	out := make([][]float32, len(polygons))
	for i, poly := range polygons {
		if len(poly) < 3 {
			continue
		}
		vertices := make([]earcut.Vertex, len(poly))
		for j, p := range poly {
			vertices[j].P = [2]float64{p.X, p.Y}
		}
		for _, tri := range earcut.Triangulate(earcut.Polygon{Rings: [][]earcut.Vertex{vertices}}) {
			for _, v := range tri.Vertices {
				out[i] = append(out[i], float32(v.P[0]), float32(v.P[1]))
			}
		}
	}
	return out
}

// instanceFloats is the per-tile instance record: a mat3 then the UV rect.
const instanceFloats = 13

// FirstPass rasterizes tiles, vectors and clip polygons into the layered
// first-pass textures.
type FirstPass struct {
	r     *Renderer
	units int

	fbo, color, stencil, depthStencil uint32
	width, height, layers             int

	quad, instances, polygons uint32
	rasterVAO, polygonVAO     uint32
	instanceData              []float32
}

func newFirstPass(r *Renderer, units int) *FirstPass {
	return &FirstPass{r: r, units: geom.Clamp(units, 1, maxTileUnits)}
}

func (p *FirstPass) Name() string { return FirstPassKey }

func (p *FirstPass) Build(map[string]*shader.Layer, []string) (*ProgramSource, error) {
	return &ProgramSource{Vertex: firstPassVertex, Fragment: firstPassFragment(p.units)}, nil
}

func (p *FirstPass) Load(u controls.Uniforms) {
	for i := 0; i < p.units; i++ {
		u.Uniform1i(u.Location(fmt.Sprintf("u_texture%d", i)), int32(i))
	}
	u.Uniform1f(u.Location("u_pointSize"), 4)
	p.createBuffers()
}

func (p *FirstPass) Unload() {}

func (p *FirstPass) createBuffers() {
	if p.rasterVAO != 0 {
		return
	}
	quad := []float32{0, 0, 1, 0, 0, 1, 1, 1}
	gl.GenVertexArrays(1, &p.rasterVAO)
	gl.BindVertexArray(p.rasterVAO)
	gl.GenBuffers(1, &p.quad)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.quad)
	gl.BufferData(gl.ARRAY_BUFFER, len(quad)*4, gl.Ptr(quad), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 0, 0)

	gl.GenBuffers(1, &p.instances)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.instances)
	gl.BufferData(gl.ARRAY_BUFFER, p.units*instanceFloats*4, nil, gl.DYNAMIC_DRAW)
	stride := int32(instanceFloats * 4)
	for i := uint32(0); i < 3; i++ {
		gl.EnableVertexAttribArray(2 + i)
		gl.VertexAttribPointerWithOffset(2+i, 3, gl.FLOAT, false, stride, uintptr(i*3*4))
		gl.VertexAttribDivisor(2+i, 1)
	}
	gl.EnableVertexAttribArray(5)
	gl.VertexAttribPointerWithOffset(5, 4, gl.FLOAT, false, stride, 9*4)
	gl.VertexAttribDivisor(5, 1)

	gl.GenVertexArrays(1, &p.polygonVAO)
	gl.BindVertexArray(p.polygonVAO)
	gl.GenBuffers(1, &p.polygons)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.polygons)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 0, 0)
	gl.BindVertexArray(0)
}

// resize (re)allocates the layered targets when the size or the number of
// sources changed.
func (p *FirstPass) resize(width, height, sources int) error {
	sources = max(sources, 1)
	if p.fbo != 0 && width == p.width && height == p.height && sources == p.layers {
		return nil
	}
	p.deleteTargets()
	p.width, p.height, p.layers = width, height, sources

	newArray := func(internal, format uint32) uint32 {
		var tex uint32
		gl.GenTextures(1, &tex)
		gl.BindTexture(gl.TEXTURE_2D_ARRAY, tex)
		gl.TexImage3D(gl.TEXTURE_2D_ARRAY, 0, int32(internal), int32(width), int32(height), int32(sources),
			0, format, gl.UNSIGNED_BYTE, nil)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
		return tex
	}
	p.color = newArray(gl.RGBA8, gl.RGBA)
	p.stencil = newArray(gl.R8, gl.RED)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, 0)

	gl.GenRenderbuffers(1, &p.depthStencil)
	gl.BindRenderbuffer(gl.RENDERBUFFER, p.depthStencil)
	gl.RenderbufferStorage(gl.RENDERBUFFER, gl.DEPTH24_STENCIL8, int32(width), int32(height))
	gl.BindRenderbuffer(gl.RENDERBUFFER, 0)

	gl.GenFramebuffers(1, &p.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo)
	gl.FramebufferRenderbuffer(gl.FRAMEBUFFER, gl.DEPTH_STENCIL_ATTACHMENT, gl.RENDERBUFFER, p.depthStencil)
	p.attach(0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		p.deleteTargets()
		return fmt.Errorf("first pass framebuffer incomplete: 0x%x", status)
	}
	p.r.log.Debug("first pass targets allocated", "width", width, "height", height, "layers", sources)
	return nil
}

func (p *FirstPass) attach(layer int) {
	gl.FramebufferTextureLayer(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, p.color, 0, int32(layer))
	gl.FramebufferTextureLayer(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT1, p.stencil, 0, int32(layer))
}

func (p *FirstPass) deleteTargets() {
	if p.fbo != 0 {
		gl.DeleteFramebuffers(1, &p.fbo)
		p.fbo = 0
	}
	if p.depthStencil != 0 {
		gl.DeleteRenderbuffers(1, &p.depthStencil)
		p.depthStencil = 0
	}
	for _, t := range []*uint32{&p.color, &p.stencil} {
		if *t != 0 {
			gl.DeleteTextures(1, t)
			*t = 0
		}
	}
}

// draw renders packages into layers 0..len-1 with the first-pass program
// bound.
func (p *FirstPass) draw(u controls.Uniforms, packages []FPRenderPackage) RenderOutput {
	buffers := []uint32{gl.COLOR_ATTACHMENT0, gl.COLOR_ATTACHMENT1}
	mode := u.Location("u_renderClippingParams")
	geomMatrix := u.Location("u_geomMatrix")

	gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo)
	gl.Viewport(0, 0, int32(p.width), int32(p.height))
	gl.DrawBuffers(2, &buffers[0])
	gl.Disable(gl.DEPTH_TEST)
	if !p.r.ctx.IsGLES() {
		gl.Enable(gl.PROGRAM_POINT_SIZE)
	}

	n := min(len(packages), p.layers)
	for i := 0; i < n; i++ {
		pkg := &packages[i]
		p.attach(i)
		gl.ClearColor(0, 0, 0, 0)
		gl.ClearStencil(0)
		gl.Clear(gl.COLOR_BUFFER_BIT | gl.STENCIL_BUFFER_BIT)

		p.clip(u, mode, geomMatrix, pkg.Polygons)

		gl.Disable(gl.BLEND)
		u.Uniform1i(mode, pathRaster)
		p.drawTiles(pkg.Tiles)

		if len(pkg.Vectors) > 0 {
			gl.Enable(gl.BLEND)
			gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
			u.Uniform1i(mode, pathVector)
			for _, v := range pkg.Vectors {
				m := v.Matrix.Float32()
				gl.UniformMatrix3fv(geomMatrix, 1, false, &m[0])
				v.Fills.draw()
				v.Lines.draw()
				v.Points.draw()
			}
			gl.Disable(gl.BLEND)
		}
		gl.Disable(gl.STENCIL_TEST)
	}
	gl.BindVertexArray(0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return RenderOutput{Texture: p.color, Stencil: p.stencil, SourcesLength: n}
}

// clip writes the clip polygons to the stencil buffer; afterwards only
// pixels covered by every polygon pass.
func (p *FirstPass) clip(u controls.Uniforms, mode, geomMatrix int32, polygons [][]geom.Point) {
	if len(polygons) == 0 {
		gl.Disable(gl.STENCIL_TEST)
		return
	}
	gl.Enable(gl.STENCIL_TEST)
	gl.ColorMask(false, false, false, false)
	gl.StencilFunc(gl.ALWAYS, 0, 0xff)
	gl.StencilOp(gl.KEEP, gl.KEEP, gl.INCR)
	u.Uniform1i(mode, pathPolygon)
	id := geom.Identity().Float32()
	gl.UniformMatrix3fv(geomMatrix, 1, false, &id[0])

	gl.BindVertexArray(p.polygonVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.polygons)
	for _, tris := range triangulate(polygons) {
		if len(tris) == 0 {
			continue
		}
		gl.BufferData(gl.ARRAY_BUFFER, len(tris)*4, gl.Ptr(tris), gl.STREAM_DRAW)
		gl.DrawArrays(gl.TRIANGLES, 0, int32(len(tris)/2))
	}

	gl.ColorMask(true, true, true, true)
	gl.StencilFunc(gl.EQUAL, int32(len(polygons)), 0xff)
	gl.StencilOp(gl.KEEP, gl.KEEP, gl.KEEP)
}

// drawTiles draws tiles in instanced batches of at most p.units textures.
func (p *FirstPass) drawTiles(tiles []TileDraw) {
	if len(tiles) == 0 {
		return
	}
	gl.BindVertexArray(p.rasterVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.instances)
	for start := 0; start < len(tiles); start += p.units {
		batch := tiles[start:min(start+p.units, len(tiles))]
		p.instanceData = p.instanceData[:0]
		for i, t := range batch {
			gl.ActiveTexture(gl.TEXTURE0 + uint32(i))
			gl.BindTexture(gl.TEXTURE_2D, t.Texture)
			m := t.TransformMatrix.Float32()
			p.instanceData = append(p.instanceData, m[:]...)
			p.instanceData = append(p.instanceData, t.UVRect[:]...)
		}
		gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(p.instanceData)*4, gl.Ptr(p.instanceData))
		gl.DrawArraysInstanced(gl.TRIANGLE_STRIP, 0, 4, int32(len(batch)))
	}
	gl.ActiveTexture(gl.TEXTURE0)
}

func (p *FirstPass) Destroy() {
	p.deleteTargets()
	if p.rasterVAO != 0 {
		bufs := []uint32{p.quad, p.instances, p.polygons}
		gl.DeleteBuffers(int32(len(bufs)), &bufs[0])
		vaos := []uint32{p.rasterVAO, p.polygonVAO}
		gl.DeleteVertexArrays(int32(len(vaos)), &vaos[0])
		p.rasterVAO, p.polygonVAO = 0, 0
	}
}
