// Package atlas packs auxiliary images (icons, patterns) into one layered
// 2D array texture so shaders can sample them by a stable integer id.
package atlas

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"
	"golang.org/x/image/draw"

	"github.com/richinsley/goflex/controls"
	"github.com/richinsley/goflex/geom"
	"github.com/richinsley/goflex/log"
)

var ErrCapacity = errors.New("texture atlas capacity exceeded")

type Options struct {
	// Extent is the initial width and height of every layer; it grows by
	// powers of two up to MaxExtent.
	Extent    int
	MaxExtent int
	MaxLayers int
	MaxIDs    int
	Padding   int
}

func DefaultOptions() Options {
	return Options{Extent: 256, MaxExtent: 4096, MaxLayers: 16, MaxIDs: 64, Padding: 1}
}

// Entry is the placement of one image. Placements change when the atlas
// grows; ids never do.
type Entry struct {
	ID    int
	Layer int
	X, Y  int
	W, H  int
}

// Atlas is safe for concurrent AddImage calls; Load and Destroy must run on
// the GL thread.
type Atlas struct {
	mu   sync.Mutex
	opts Options
	log  *log.Logger

	extent  int
	layers  int
	packers []*shelfPacker
	entries []Entry
	images  []*image.RGBA

	version uint64
	pending []int
	realloc bool

	texture uint32
	pushed  map[uint32]uint64 // program -> version of its uniform arrays
}

func New(opts Options, lg *log.Logger) *Atlas {
	def := DefaultOptions()
	if opts.Extent <= 0 {
		opts.Extent = def.Extent
	}
	opts.Extent = geom.NextPow2(opts.Extent)
	if opts.MaxExtent < opts.Extent {
		opts.MaxExtent = max(opts.Extent, def.MaxExtent)
	}
	if opts.MaxLayers <= 0 {
		opts.MaxLayers = def.MaxLayers
	}
	if opts.MaxIDs <= 0 {
		opts.MaxIDs = def.MaxIDs
	}
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	a := &Atlas{
		opts:    opts,
		log:     lg,
		extent:  opts.Extent,
		layers:  1,
		realloc: true,
		pushed:  make(map[uint32]uint64),
	}
	a.packers = []*shelfPacker{newShelfPacker(a.extent, a.extent, opts.Padding)}
	return a
}

// AddImage stages img for upload and returns its id. The GPU copy happens
// at the next Load.
func (a *Atlas) AddImage(img image.Image) (int, error) {
	if img == nil {
		return -1, fmt.Errorf("atlas: nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return -1, fmt.Errorf("atlas: empty image %dx%d", w, h)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) >= a.opts.MaxIDs {
		return -1, fmt.Errorf("%w: %d ids in use", ErrCapacity, a.opts.MaxIDs)
	}
	layer, x, y, err := a.ensureCapacityFor(w, h)
	if err != nil {
		return -1, err
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	id := len(a.entries)
	a.entries = append(a.entries, Entry{ID: id, Layer: layer, X: x, Y: y, W: w, H: h})
	a.images = append(a.images, rgba)
	a.pending = append(a.pending, id)
	a.version++
	a.log.Debug("atlas image added", "id", id, "layer", layer, "x", x, "y", y, "w", w, "h", h)
	return id, nil
}

// ensureCapacityFor finds room for a w x h rectangle, growing the atlas as
// needed. On ErrCapacity the atlas is left as it was.
func (a *Atlas) ensureCapacityFor(w, h int) (layer, x, y int, err error) {
	saved := a.snapshot()
	for {
		if a.fits(w, h) {
			for l, p := range a.packers {
				if x, y, ok := p.allocate(w, h); ok {
					return l, x, y, nil
				}
			}
		}
		if err := a.grow(w, h); err != nil {
			a.restore(saved)
			return -1, -1, -1, err
		}
	}
}

func (a *Atlas) fits(w, h int) bool {
	return w+a.opts.Padding <= a.extent && h+a.opts.Padding <= a.extent
}

// grow doubles the layer count, or the extent when the rectangle is larger
// than a layer or the layers are exhausted, then re-packs every entry.
func (a *Atlas) grow(w, h int) error {
	for {
		switch {
		case a.fits(w, h) && a.layers < a.opts.MaxLayers:
			a.layers = min(a.layers*2, a.opts.MaxLayers)
		case a.extent*2 <= a.opts.MaxExtent:
			a.extent *= 2
		default:
			return fmt.Errorf("%w: %dx%d does not fit %d layers of %d", ErrCapacity, w, h,
				a.layers, a.extent)
		}
		if a.resizeAndReupload() {
			a.log.Info("atlas grown", "extent", a.extent, "layers", a.layers, "version", a.version)
			return nil
		}
	}
}

// resizeAndReupload re-packs every entry in id order into fresh packers and
// stages all of them for upload. It reports false when the entries do not
// fit the current size.
func (a *Atlas) resizeAndReupload() bool {
	packers := make([]*shelfPacker, a.layers)
	for i := range packers {
		if i < len(a.packers) && a.packers[i].width == a.extent {
			a.packers[i].reset()
			packers[i] = a.packers[i]
			continue
		}
		packers[i] = newShelfPacker(a.extent, a.extent, a.opts.Padding)
	}
	a.packers = packers
	for i := range a.entries {
		e := &a.entries[i]
		placed := false
		for l, p := range a.packers {
			if x, y, ok := p.allocate(e.W, e.H); ok {
				e.Layer, e.X, e.Y = l, x, y
				placed = true
				break
			}
		}
		if !placed {
			return false
		}
	}
	a.version++
	a.realloc = true
	a.pending = a.pending[:0]
	for i := range a.entries {
		a.pending = append(a.pending, i)
	}
	return true
}

type atlasState struct {
	extent, layers int
	entries        []Entry
	pending        []int
	version        uint64
	realloc        bool
}

func (a *Atlas) snapshot() atlasState {
	return atlasState{
		extent:  a.extent,
		layers:  a.layers,
		entries: append([]Entry(nil), a.entries...),
		pending: append([]int(nil), a.pending...),
		version: a.version,
		realloc: a.realloc,
	}
}

func (a *Atlas) restore(s atlasState) {
	if a.extent == s.extent && a.layers == s.layers {
		return
	}
	a.extent, a.layers = s.extent, s.layers
	a.entries = s.entries
	// Packing the same entries in the same order reproduces the saved
	// placements.
	a.resizeAndReupload()
	a.pending, a.version, a.realloc = s.pending, s.version, s.realloc
}

// Lookup returns the placement of id.
func (a *Atlas) Lookup(id int) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || id >= len(a.entries) {
		return Entry{}, false
	}
	return a.entries[id], true
}

func (a *Atlas) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries...)
}

// Transform is the GPU-facing (scale, offset) of id, normalized to the
// layer extent.
func (a *Atlas) Transform(id int) (scale, offset [2]float32, layer int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || id >= len(a.entries) {
		return scale, offset, 0, false
	}
	e := a.entries[id]
	ext := float32(a.extent)
	return [2]float32{float32(e.W) / ext, float32(e.H) / ext},
		[2]float32{float32(e.X) / ext, float32(e.Y) / ext}, e.Layer, true
}

func (a *Atlas) Version() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Size returns the layer extent and count.
func (a *Atlas) Size() (extent, layers int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.extent, a.layers
}

// Utilization is the used fraction of each layer.
func (a *Atlas) Utilization() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := make([]float64, len(a.packers))
	for i, p := range a.packers {
		u[i] = p.utilization()
	}
	return u
}

// Define declares the atlas uniforms and the osd_atlas_texture sampling
// function.
func (a *Atlas) Define() string {
	n := a.opts.MaxIDs
	var b strings.Builder
	b.WriteString("uniform sampler2DArray osd_atlas_array;\n")
	fmt.Fprintf(&b, "uniform vec2 osd_atlas_scale[%d];\n", n)
	fmt.Fprintf(&b, "uniform vec2 osd_atlas_offset[%d];\n", n)
	fmt.Fprintf(&b, "uniform float osd_atlas_layer[%d];\n", n)
	b.WriteString(a.SampleFunction())
	return b.String()
}

// SampleFunction returns osd_atlas_texture(id, uv), uv in [0,1] over the
// image. Unknown ids sample transparent black.
func (a *Atlas) SampleFunction() string {
	return fmt.Sprintf(`vec4 osd_atlas_texture(int id, vec2 uv) {
    if (id < 0 || id >= %d) return vec4(0.0);
    vec2 st = osd_atlas_offset[id] + clamp(uv, 0.0, 1.0) * osd_atlas_scale[id];
    return texture(osd_atlas_array, vec3(st, osd_atlas_layer[id]));
}
`, a.opts.MaxIDs)
}

// uniformArrays flattens the per-id transforms for upload. Unused ids get a
// zero scale.
func (a *Atlas) uniformArrays() (scale, offset, layer []float32) {
	n := a.opts.MaxIDs
	scale = make([]float32, 2*n)
	offset = make([]float32, 2*n)
	layer = make([]float32, n)
	ext := float32(a.extent)
	for _, e := range a.entries {
		scale[2*e.ID] = float32(e.W) / ext
		scale[2*e.ID+1] = float32(e.H) / ext
		offset[2*e.ID] = float32(e.X) / ext
		offset[2*e.ID+1] = float32(e.Y) / ext
		layer[e.ID] = float32(e.Layer)
	}
	return
}

// Load flushes staged uploads, binds the texture to unit and pushes the
// uniform arrays when program has not seen the current version.
func (a *Atlas) Load(u controls.Uniforms, program uint32, unit uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.texture == 0 {
		gl.GenTextures(1, &a.texture)
	}
	gl.ActiveTexture(gl.TEXTURE0 + unit)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, a.texture)

	if a.realloc {
		gl.TexImage3D(gl.TEXTURE_2D_ARRAY, 0, gl.RGBA8, int32(a.extent), int32(a.extent),
			int32(a.layers), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
		gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
		a.realloc = false
	}
	for _, id := range a.pending {
		e, img := a.entries[id], a.images[id]
		gl.TexSubImage3D(gl.TEXTURE_2D_ARRAY, 0, int32(e.X), int32(e.Y), int32(e.Layer),
			int32(e.W), int32(e.H), 1, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	}
	if len(a.pending) > 0 {
		a.log.Debug("atlas uploads flushed", "count", len(a.pending), "version", a.version)
	}
	a.pending = a.pending[:0]

	u.Uniform1i(u.Location("osd_atlas_array"), int32(unit))
	if v, ok := a.pushed[program]; ok && v == a.version {
		return
	}
	scale, offset, layer := a.uniformArrays()
	u.Uniform2fv(u.Location("osd_atlas_scale"), scale)
	u.Uniform2fv(u.Location("osd_atlas_offset"), offset)
	u.Uniform1fv(u.Location("osd_atlas_layer"), layer)
	a.pushed[program] = a.version
}

// Forget drops the uniform bookkeeping of a deleted program.
func (a *Atlas) Forget(program uint32) {
	a.mu.Lock()
	delete(a.pushed, program)
	a.mu.Unlock()
}

// Destroy frees the GPU texture; the entries stay and are re-uploaded on
// the next Load.
func (a *Atlas) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.texture != 0 {
		gl.DeleteTextures(1, &a.texture)
		a.texture = 0
	}
	a.realloc = true
	a.pending = a.pending[:0]
	for i := range a.entries {
		a.pending = append(a.pending, i)
	}
	a.pushed = make(map[uint32]uint64)
}
