package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/goflex/drawer"
	"github.com/richinsley/goflex/geom"
	"github.com/richinsley/goflex/renderer"
)

// fileImage is an image file shown as a tiled image with a single tile.
// Its world width is 1.
type fileImage struct {
	id     string
	path   string
	data   []byte
	bounds geom.Rect
}

func (f *fileImage) ID() string              { return f.id }
func (f *fileImage) Opacity() float64        { return 1 }
func (f *fileImage) Rotation() float64       { return 0 }
func (f *fileImage) Flipped() bool           { return false }
func (f *fileImage) Bounds() geom.Rect       { return f.bounds }
func (f *fileImage) Crop() []geom.Point      { return nil }
func (f *fileImage) Clip() (geom.Rect, bool) { return geom.Rect{}, false }
func (f *fileImage) Tiles() []drawer.Tile    { return []drawer.Tile{fileTile{f}} }

type fileTile struct{ img *fileImage }

func (t fileTile) Key() string             { return t.img.path }
func (t fileTile) Bounds() geom.Rect       { return t.img.bounds }
func (t fileTile) SourceBounds() geom.Rect { return geom.Rect{} }
func (t fileTile) IsRightMost() bool       { return true }
func (t fileTile) IsBottomMost() bool      { return true }
func (t fileTile) CacheRecord() drawer.CacheRecord {
	return drawer.CacheRecord{Type: drawer.RecordRasterBlob, Data: t.img.data}
}

func loadImages(paths []string) ([]drawer.TiledImage, error) {
	images := make([]drawer.TiledImage, 0, len(paths))
	for i, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if cfg.Width == 0 {
			return nil, fmt.Errorf("%s: empty image", p)
		}
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if id == "" {
			id = fmt.Sprintf("image%d", i)
		}
		images = append(images, &fileImage{
			id:     id,
			path:   p,
			data:   b,
			bounds: geom.Rect{W: 1, H: float64(cfg.Height) / float64(cfg.Width)},
		})
	}
	return images, nil
}

// fitView returns a view showing all of b on a width x height canvas.
func fitView(b geom.Rect, width, height int) drawer.View {
	v := drawer.View{Bounds: b, Width: width, Height: height}
	aspect := float64(width) / float64(height)
	c := b.Center()
	if b.W/b.H < aspect {
		v.Bounds.W = b.H * aspect
	} else {
		v.Bounds.H = b.W / aspect
	}
	v.Bounds.X = c.X - v.Bounds.W/2
	v.Bounds.Y = c.Y - v.Bounds.H/2
	return v
}

func writeSnapshot(path string, r *renderer.Renderer) error {
	img, err := r.ReadPixels()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
