package drawer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richinsley/goflex/geom"
	"github.com/richinsley/goflex/log"
	"github.com/richinsley/goflex/shader"
)

type fakeTile struct {
	key           string
	bounds, src   geom.Rect
	right, bottom bool
	rec           CacheRecord
}

func (t *fakeTile) Key() string              { return t.key }
func (t *fakeTile) Bounds() geom.Rect        { return t.bounds }
func (t *fakeTile) SourceBounds() geom.Rect  { return t.src }
func (t *fakeTile) IsRightMost() bool        { return t.right }
func (t *fakeTile) IsBottomMost() bool       { return t.bottom }
func (t *fakeTile) CacheRecord() CacheRecord { return t.rec }

type fakeImage struct {
	id       string
	bounds   geom.Rect
	rotation float64
	flipped  bool
	crop     []geom.Point
	clip     *geom.Rect
	tiles    []Tile
}

func (f *fakeImage) ID() string         { return f.id }
func (f *fakeImage) Opacity() float64   { return 1 }
func (f *fakeImage) Rotation() float64  { return f.rotation }
func (f *fakeImage) Flipped() bool      { return f.flipped }
func (f *fakeImage) Bounds() geom.Rect  { return f.bounds }
func (f *fakeImage) Crop() []geom.Point { return f.crop }
func (f *fakeImage) Tiles() []Tile      { return f.tiles }
func (f *fakeImage) Clip() (geom.Rect, bool) {
	if f.clip == nil {
		return geom.Rect{}, false
	}
	return *f.clip, true
}

func close2(a, b geom.Point) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestViewMatrix(t *testing.T) {
	v := View{Bounds: geom.Rect{X: 100, Y: 50, W: 200, H: 100}, Width: 400, Height: 200}
	tests := []struct {
		world, clip geom.Point
	}{
		{geom.Point{X: 200, Y: 100}, geom.Point{}},
		{geom.Point{X: 100, Y: 50}, geom.Point{X: -1, Y: 1}},
		{geom.Point{X: 300, Y: 150}, geom.Point{X: 1, Y: -1}},
	}
	m := v.Matrix()
	for _, tt := range tests {
		if got := m.Apply(tt.world); !close2(got, tt.clip) {
			t.Errorf("%v: got %v, want %v", tt.world, got, tt.clip)
		}
	}
	if v.Zoom() != 2 {
		t.Errorf("zoom %v, want 2", v.Zoom())
	}

	v.Flipped = true
	if got := v.Matrix().Apply(geom.Point{X: 100, Y: 50}); !close2(got, geom.Point{X: 1, Y: 1}) {
		t.Errorf("flipped top-left maps to %v", got)
	}

	sq := View{Bounds: geom.Rect{X: -1, Y: -1, W: 2, H: 2}, Rotation: 90, Width: 10, Height: 10}
	// A quarter turn clockwise on screen moves the right edge to the bottom.
	if got := sq.Matrix().Apply(geom.Point{X: 1, Y: 0}); !close2(got, geom.Point{X: 0, Y: -1}) {
		t.Errorf("rotated point maps to %v", got)
	}
}

func TestImageMatrixRotatesAboutCenter(t *testing.T) {
	ti := &fakeImage{bounds: geom.Rect{X: 0, Y: 0, W: 10, H: 10}, rotation: 180}
	m := imageMatrix(ti)
	if got := m.Apply(geom.Point{X: 5, Y: 5}); !close2(got, geom.Point{X: 5, Y: 5}) {
		t.Errorf("center moved to %v", got)
	}
	if got := m.Apply(geom.Point{X: 0, Y: 0}); !close2(got, geom.Point{X: 10, Y: 10}) {
		t.Errorf("corner maps to %v", got)
	}
}

func TestUVRect(t *testing.T) {
	inner := &fakeTile{src: geom.Rect{X: 1, Y: 1, W: 254, H: 254}}
	if got := uvRect(inner, 256, 256); got[0] != 1.0/256 || got[2] != 254.0/256 {
		t.Errorf("inner tile uv %v", got)
	}
	edge := &fakeTile{src: geom.Rect{X: 1, Y: 1, W: 100, H: 100}, right: true, bottom: true}
	if got := uvRect(edge, 128, 128); got[0]+got[2] != 1 || got[1]+got[3] != 1 {
		t.Errorf("edge tile does not reach the texture edge: %v", got)
	}
	if got := uvRect(&fakeTile{}, 64, 64); got != [4]float32{0, 0, 1, 1} {
		t.Errorf("whole tile uv %v", got)
	}
}

func TestClipPolygons(t *testing.T) {
	clip := geom.Rect{X: 0, Y: 0, W: 1, H: 1}
	ti := &fakeImage{
		crop: []geom.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 2}},
		clip: &clip,
	}
	polys := clipPolygons(geom.Scaling(2, 2), ti)
	if len(polys) != 2 {
		t.Fatalf("expected crop and clip polygons, got %d", len(polys))
	}
	if !close2(polys[0][1], geom.Point{X: 4, Y: 0}) || !close2(polys[1][2], geom.Point{X: 2, Y: 2}) {
		t.Errorf("polygons not transformed: %v", polys)
	}
	if got := clipPolygons(geom.Identity(), &fakeImage{}); len(got) != 0 {
		t.Errorf("unclipped image produced polygons")
	}
}

func TestRebuildDebounce(t *testing.T) {
	d := newDrawer(Options{Logger: log.Discard()})
	var rebuilds atomic.Int32
	d.rebuildFn = func(map[string]*shader.Config, []string) error {
		rebuilds.Add(1)
		return nil
	}

	for i := 0; i < 50; i++ {
		d.RequestRebuild(20*time.Millisecond, true)
	}
	time.Sleep(200 * time.Millisecond)
	if n := rebuilds.Load(); n != 1 {
		t.Fatalf("expected one rebuild, got %d", n)
	}
	d.mu.Lock()
	done := d.completed == d.requested && !d.timerPending
	d.mu.Unlock()
	if !done {
		t.Errorf("rebuild did not complete the latest request")
	}

	d.RequestRebuild(0, true)
	if n := rebuilds.Load(); n != 2 {
		t.Errorf("immediate rebuild did not run, count %d", n)
	}
	d.RequestRebuild(0, false)
	if n := rebuilds.Load(); n != 2 {
		t.Errorf("unchanged configuration was rebuilt, count %d", n)
	}
}

func TestDrawWithConfigurationFIFO(t *testing.T) {
	d := newDrawer(Options{Logger: log.Discard()})
	d.rebuildFn = func(map[string]*shader.Config, []string) error { return nil }

	var mu sync.Mutex
	var order []int
	release := make(chan struct{})
	entered := make(chan struct{}, 3)
	d.drawFn = func(images []TiledImage, _ View, _ map[string]*decoded) error {
		mu.Lock()
		order = append(order, len(images))
		mu.Unlock()
		entered <- struct{}{}
		if len(images) == 1 {
			<-release
		}
		return nil
	}

	images := func(n int) []TiledImage {
		r := make([]TiledImage, n)
		for i := range r {
			r[i] = &fakeImage{id: "i"}
		}
		return r
	}

	var wg sync.WaitGroup
	for n := 1; n <= 3; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.DrawWithConfiguration(context.Background(), images(n), View{}, nil, nil); err != nil {
				t.Error(err)
			}
		}()
		if n == 1 {
			<-entered
		} else {
			// Let the caller queue before the next one arrives.
			time.Sleep(30 * time.Millisecond)
		}
	}
	close(release)
	wg.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callers served out of order: %v", order)
	}
}

func TestDrawWithConfigurationCanceled(t *testing.T) {
	d := newDrawer(Options{Logger: log.Discard()})
	if !d.sem.TryAcquire(1) {
		t.Fatal("semaphore busy")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.DrawWithConfiguration(ctx, nil, View{}, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	d.sem.Release(1)
}

func TestConfigurationAPI(t *testing.T) {
	d := newDrawer(Options{Logger: log.Discard()})
	var got map[string]*shader.Config
	var gotOrder []string
	d.rebuildFn = func(c map[string]*shader.Config, o []string) error {
		got, gotOrder = c, o
		return nil
	}

	d.mu.Lock()
	d.images = []TiledImage{&fakeImage{id: "slide-1"}, &fakeImage{id: "__"}}
	d.mu.Unlock()
	d.RequestRebuild(0, true)
	if len(gotOrder) != 2 || gotOrder[0] != "slide1" || gotOrder[1] != "image1" {
		t.Fatalf("unexpected implicit order %v", gotOrder)
	}
	if got["image1"].TiledImage() != 1 || got["slide1"].Type != "identity" {
		t.Errorf("unexpected implicit configs %+v", got)
	}

	heat := shader.NewConfig("h", "heatmap", 0)
	d.OverrideConfigureAll(map[string]*shader.Config{"h": heat}, nil)
	if len(gotOrder) != 1 || gotOrder[0] != "h" {
		t.Errorf("override order %v", gotOrder)
	}

	c, ok := d.GetOverriddenShaderConfig("h")
	if !ok {
		t.Fatal("override config not found")
	}
	c.Params["threshold"] = 10
	if _, leaked := heat.Params["threshold"]; leaked {
		t.Errorf("returned config shares state with the live one")
	}
}

func pngBlob(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	dec, err := decode(CacheRecord{Type: RecordRasterBlob, Data: pngBlob(t)})
	if err != nil || dec == nil || dec.img.Bounds().Dx() != 4 {
		t.Fatalf("png blob: %v %v", dec, err)
	}
	if _, err := decode(CacheRecord{Type: RecordRasterBlob, Data: []byte("nope")}); err == nil {
		t.Errorf("garbage blob decoded")
	}
	if _, err := decode(CacheRecord{Type: RecordContext2D, Data: "x"}); err == nil {
		t.Errorf("wrong data type accepted")
	}
	if dec, err := decode(CacheRecord{Type: "svg"}); dec != nil || err != nil {
		t.Errorf("unknown type should decode to nil, got %v %v", dec, err)
	}
	if dec, err := decode(CacheRecord{Type: RecordUndefined}); dec != nil || err != nil {
		t.Errorf("undefined should decode to nil, got %v %v", dec, err)
	}
}

func TestDataFormats(t *testing.T) {
	d := newDrawer(Options{Logger: log.Discard()})
	want := []string{"rasterBlob", "context2d", "image", "vector-mesh", "undefined"}
	for name, got := range map[string][]string{
		"supported": d.GetSupportedDataFormats(),
		"required":  d.GetRequiredDataFormats(),
	} {
		if !slices.Equal(got, want) {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	d.GetSupportedDataFormats()[0] = "x"
	if d.GetSupportedDataFormats()[0] != "rasterBlob" {
		t.Errorf("formats list is shared with callers")
	}
}

func TestPrepareTaints(t *testing.T) {
	var reported []string
	d := newDrawer(Options{Logger: log.Discard(), OnError: func(err error, ti TiledImage) {
		reported = append(reported, ti.ID())
	}})
	good := &fakeImage{id: "good", tiles: []Tile{
		&fakeTile{key: "g0", rec: CacheRecord{Type: RecordRasterBlob, Data: pngBlob(t)}},
	}}
	bad := &fakeImage{id: "bad", tiles: []Tile{
		&fakeTile{key: "b0", rec: CacheRecord{Type: RecordRasterBlob, Data: []byte{1, 2, 3}}},
	}}
	prepared := d.prepare(context.Background(), []TiledImage{good, bad})
	if _, ok := prepared["g0"]; !ok {
		t.Errorf("good tile not prepared")
	}
	if _, ok := prepared["b0"]; ok {
		t.Errorf("bad tile prepared")
	}
	if d.IsTainted(good) || !d.IsTainted(bad) {
		t.Errorf("taint: good %v bad %v", d.IsTainted(good), d.IsTainted(bad))
	}
	if len(reported) != 1 || reported[0] != "bad" {
		t.Errorf("reported %v", reported)
	}
}
