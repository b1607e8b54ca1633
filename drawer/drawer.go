// Package drawer connects a host viewer to the renderer: it turns tiled
// images and a view into first-pass packages, keeps the tile cache and
// schedules program rebuilds.
package drawer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/richinsley/goflex/geom"
	"github.com/richinsley/goflex/graphics"
	"github.com/richinsley/goflex/log"
	"github.com/richinsley/goflex/renderer"
	"github.com/richinsley/goflex/shader"
)

type Options struct {
	Logger *log.Logger
	// Thread runs all GL work; nil means the caller's thread, which must
	// have the context current.
	Thread *graphics.Thread
	// DebounceTimeout delays rebuilds requested by control changes.
	DebounceTimeout time.Duration
	CacheSize       int
	// DefaultLayerType is used for tiled images without a configuration.
	DefaultLayerType string
	Smoothing        bool
	// OnError reports problems with a tiled image (nil for rebuilds).
	OnError func(err error, ti TiledImage)
	// OnRedraw asks the host for another frame.
	OnRedraw func()
	Renderer renderer.Options
}

// Drawer draws tiled images through a Renderer.
type Drawer struct {
	opts      Options
	log       *log.Logger
	ctx       graphics.Context
	thread    *graphics.Thread
	r         *renderer.Renderer
	cache     *lru.Cache[string, *cacheEntry]
	sem       *semaphore.Weighted
	smoothing bool

	mu           sync.Mutex
	requested    uint64
	completed    uint64
	timer        *time.Timer
	timerPending bool
	built        string
	override     map[string]*shader.Config
	overrideOrd  []string
	imageConfigs map[string]*shader.Config
	images       []TiledImage
	tainted      map[string]bool
	navigator    *Drawer

	// Replaced in tests.
	rebuildFn func(configs map[string]*shader.Config, order []string) error
	drawFn    func(images []TiledImage, view View, prepared map[string]*decoded) error
}

func newDrawer(opts Options) *Drawer {
	if opts.DebounceTimeout <= 0 {
		opts.DebounceTimeout = 50 * time.Millisecond
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 512
	}
	if opts.DefaultLayerType == "" {
		opts.DefaultLayerType = "identity"
	}
	d := &Drawer{
		opts:         opts,
		log:          opts.Logger,
		thread:       opts.Thread,
		sem:          semaphore.NewWeighted(1),
		smoothing:    opts.Smoothing,
		imageConfigs: make(map[string]*shader.Config),
		tainted:      make(map[string]bool),
	}
	d.cache, _ = lru.NewWithEvict(opts.CacheSize, func(_ string, e *cacheEntry) { e.delete() })
	d.rebuildFn = d.rebuildProgram
	d.drawFn = d.draw
	return d
}

// New creates a drawer and its renderer on ctx.
func New(ctx graphics.Context, opts Options) (*Drawer, error) {
	d := newDrawer(opts)
	d.ctx = ctx
	ropts := opts.Renderer
	if ropts.Logger == nil {
		ropts.Logger = opts.Logger
	}
	ropts.OnInvalidate = d.requestRedraw
	ropts.OnRebuild = func() { d.RequestRebuild(d.opts.DebounceTimeout, true) }

	var err error
	if cerr := d.thread.Call(func() {
		ctx.MakeCurrent()
		d.r, err = renderer.New(ctx, ropts)
	}); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Drawer) Renderer() *renderer.Renderer { return d.r }

// IsSupported reports whether the renderer could be created.
func (d *Drawer) IsSupported() bool { return d.r != nil }

func (d *Drawer) CanRotate() bool { return true }

func (d *Drawer) requestRedraw() {
	if d.opts.OnRedraw != nil {
		d.opts.OnRedraw()
	}
}

func (d *Drawer) reportError(err error, ti TiledImage) {
	if ti != nil {
		d.log.Warn("tiled image error", "image", ti.ID(), "error", err)
	} else {
		d.log.Error("drawer error", "error", err)
	}
	if d.opts.OnError != nil {
		d.opts.OnError(err, ti)
	}
}

// RequestRebuild schedules a program rebuild. A zero timeout queues it on
// the render thread now; otherwise it runs after timeout unless another
// request supersedes it first. force recompiles even when the effective
// configuration did not change.
func (d *Drawer) RequestRebuild(timeout time.Duration, force bool) {
	d.mu.Lock()
	d.requested++
	id := d.requested
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if timeout <= 0 {
		d.timerPending = false
		d.mu.Unlock()
		d.post(func() { d.rebuild(id, force) })
		return
	}
	d.timerPending = true
	d.timer = time.AfterFunc(timeout, func() {
		d.post(func() { d.rebuild(id, force) })
	})
	d.mu.Unlock()
}

func (d *Drawer) post(f func()) {
	if err := d.thread.Post(f); err != nil {
		d.log.Warn("render thread unavailable", "error", err)
	}
}

// rebuild runs on the render thread. Requests superseded by a newer one
// do nothing.
func (d *Drawer) rebuild(id uint64, force bool) {
	d.mu.Lock()
	if id != d.requested {
		d.mu.Unlock()
		return
	}
	d.timerPending = false
	configs, order := d.effectiveConfigs()
	sig := signature(configs, order)
	skip := !force && sig == d.built
	d.mu.Unlock()

	if !skip {
		if err := d.rebuildFn(configs, order); err != nil {
			d.reportError(fmt.Errorf("rebuild: %w", err), nil)
		}
	}

	d.mu.Lock()
	d.built = sig
	d.completed = max(d.completed, id)
	d.mu.Unlock()
	d.requestRedraw()
}

func (d *Drawer) rebuildProgram(configs map[string]*shader.Config, order []string) error {
	cerr := d.r.Configure(configs, order)
	if err := d.r.Rebuild(); err != nil {
		return errors.Join(cerr, err)
	}
	return cerr
}

// signature identifies a configuration so unchanged rebuilds can be
// skipped.
func signature(configs map[string]*shader.Config, order []string) string {
	var b strings.Builder
	b.WriteString(strings.Join(order, ","))
	for _, id := range slices.Sorted(maps.Keys(configs)) {
		c := configs[id]
		fmt.Fprintf(&b, "|%s:%s:%d:%v:%v", id, c.Type, c.Visible, c.TiledImages, c.Params)
	}
	return b.String()
}

// effectiveConfigs returns the override configuration, or one config per
// tiled image. Callers hold d.mu.
func (d *Drawer) effectiveConfigs() (map[string]*shader.Config, []string) {
	if d.override != nil {
		return d.override, d.overrideOrd
	}
	configs := make(map[string]*shader.Config, len(d.images))
	order := make([]string, 0, len(d.images))
	for i, ti := range d.images {
		cfg, ok := d.imageConfigs[ti.ID()]
		if !ok {
			id, err := shader.SanitizeID(ti.ID())
			if err != nil {
				id = fmt.Sprintf("image%d", i)
			}
			cfg = shader.NewConfig(id, d.opts.DefaultLayerType, i)
			d.imageConfigs[ti.ID()] = cfg
		}
		cfg.TiledImages = []int{i}
		configs[cfg.ID] = cfg
		order = append(order, cfg.ID)
	}
	return configs, order
}

// OverrideConfigureAll replaces the per-image configuration with configs
// drawn in order. A nil map returns to per-image configuration.
func (d *Drawer) OverrideConfigureAll(configs map[string]*shader.Config, order []string) {
	d.mu.Lock()
	d.override = configs
	d.overrideOrd = slices.Clone(order)
	if configs != nil && order == nil {
		d.overrideOrd = slices.Sorted(maps.Keys(configs))
	}
	d.mu.Unlock()
	d.RequestRebuild(0, false)
}

// ConfigureTiledImage sets the layer configuration of one tiled image.
func (d *Drawer) ConfigureTiledImage(ti TiledImage, cfg *shader.Config) {
	d.mu.Lock()
	d.imageConfigs[ti.ID()] = cfg
	d.mu.Unlock()
	d.RequestRebuild(0, false)
}

// GetOverriddenShaderConfig returns a copy of the config with the given
// id.
func (d *Drawer) GetOverriddenShaderConfig(id string) (*shader.Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.override[id]; ok {
		return c.Clone(), true
	}
	for _, c := range d.imageConfigs {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return nil, false
}

// IsTainted reports whether some tile of ti failed to load.
func (d *Drawer) IsTainted(ti TiledImage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tainted[ti.ID()]
}

func (d *Drawer) taint(ti TiledImage, err error) {
	d.mu.Lock()
	d.tainted[ti.ID()] = true
	d.mu.Unlock()
	d.reportError(err, ti)
}

// SetImageSmoothingEnabled switches tile sampling between linear and
// nearest. It must run on the render thread.
func (d *Drawer) SetImageSmoothingEnabled(enabled bool) {
	if d.smoothing == enabled {
		return
	}
	d.smoothing = enabled
	for _, key := range d.cache.Keys() {
		if e, ok := d.cache.Peek(key); ok && e.texture != nil {
			e.texture.SetFilter(d.filter())
		}
	}
	d.requestRedraw()
}

// AttachNavigator makes nav show a copy of every frame. nav must run on
// the same render thread.
func (d *Drawer) AttachNavigator(nav *Drawer) {
	d.mu.Lock()
	d.navigator = nav
	d.mu.Unlock()
}

// Draw renders one frame. It must run on the render thread.
func (d *Drawer) Draw(images []TiledImage, view View) error {
	return d.draw(images, view, nil)
}

func (d *Drawer) draw(images []TiledImage, view View, prepared map[string]*decoded) error {
	d.mu.Lock()
	d.images = images
	if d.override == nil {
		configs, order := d.effectiveConfigs()
		if signature(configs, order) != d.built && !d.timerPending {
			d.requested++
		}
	}
	stale := d.completed < d.requested
	pending := d.timerPending
	id := d.requested
	d.mu.Unlock()

	if stale {
		if pending {
			d.requestRedraw()
			return nil
		}
		d.rebuild(id, false)
	}
	if len(images) == 0 || view.Width <= 0 || view.Height <= 0 {
		return nil
	}

	if err := d.r.SetDimensions(0, 0, view.Width, view.Height, len(images)); err != nil {
		return err
	}
	world := view.Matrix()
	packages := make([]renderer.FPRenderPackage, len(images))
	opacities := make([]float32, len(images))
	for i, ti := range images {
		packages[i] = d.buildPackage(ti, world, prepared)
		opacities[i] = float32(ti.Opacity())
	}
	out, err := d.r.FirstPassProcessData(packages)
	if err != nil {
		return err
	}

	src, ok := d.r.Source(renderer.SecondPassKey)
	if !ok || len(src.Active) == 0 {
		d.requestRedraw()
		return nil
	}
	zoom := view.Zoom()
	if err := d.r.SecondPassProcessData(renderer.SecondPassData{
		Output:    out,
		Opacities: opacities,
		PixelSize: float32(1 / zoom),
		Zoom:      float32(zoom),
	}); err != nil {
		return err
	}
	d.r.Present()

	d.mu.Lock()
	nav := d.navigator
	d.mu.Unlock()
	if nav != nil {
		if err := d.r.CopyRenderOutputTo(nav.r); err != nil {
			d.log.Warn("navigator update failed", "error", err)
		}
	}
	return nil
}

// buildPackage collects the first-pass draws of one tiled image. Tiles
// that fail to materialize taint the image and are left out.
func (d *Drawer) buildPackage(ti TiledImage, view geom.Mat3, prepared map[string]*decoded) renderer.FPRenderPackage {
	world := view.Mul(imageMatrix(ti))
	pkg := renderer.FPRenderPackage{Polygons: clipPolygons(world, ti)}
	for _, t := range ti.Tiles() {
		e, err := d.tileEntry(t, prepared)
		if err != nil {
			d.taint(ti, fmt.Errorf("tile %s: %w", t.Key(), err))
			continue
		}
		if e == nil {
			continue
		}
		m := tileMatrix(world, t)
		if e.texture != nil {
			pkg.Tiles = append(pkg.Tiles, renderer.TileDraw{
				TransformMatrix: m,
				Texture:         e.texture.ID,
				UVRect:          uvRect(t, e.texture.Width, e.texture.Height),
			})
		}
		if e.vectors != nil {
			pkg.Vectors = append(pkg.Vectors, renderer.VectorDraw{
				Fills: e.vectors.Fills, Lines: e.vectors.Lines, Points: e.vectors.Points,
				Matrix: m,
			})
		}
	}
	return pkg
}

// prepare decodes the records of uncached tiles in parallel.
func (d *Drawer) prepare(ctx context.Context, images []TiledImage) map[string]*decoded {
	var mu sync.Mutex
	out := make(map[string]*decoded)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	seen := make(map[string]bool)
	for _, ti := range images {
		for _, t := range ti.Tiles() {
			key := t.Key()
			if seen[key] || d.cache.Contains(key) {
				continue
			}
			seen[key] = true
			g.Go(func() error {
				dec, err := decode(t.CacheRecord())
				if err != nil {
					d.taint(ti, fmt.Errorf("tile %s: %w", key, err))
					return nil
				}
				mu.Lock()
				out[key] = dec
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return out
}

// DrawWithConfiguration draws one frame, first applying configs when
// non-nil. Concurrent callers are served in arrival order.
func (d *Drawer) DrawWithConfiguration(ctx context.Context, images []TiledImage, view View,
	configs map[string]*shader.Config, order []string) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	prepared := d.prepare(ctx, images)
	if configs != nil {
		d.OverrideConfigureAll(configs, order)
	}
	var err error
	if cerr := d.thread.Call(func() { err = d.drawFn(images, view, prepared) }); cerr != nil {
		return cerr
	}
	return err
}

// Destroy frees the cache and the renderer.
func (d *Drawer) Destroy() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	_ = d.thread.Call(func() {
		d.cache.Purge()
		if d.r != nil {
			d.r.Destroy()
			d.r = nil
		}
	})
}
