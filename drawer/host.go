package drawer

import (
	"github.com/richinsley/goflex/geom"
)

// Cache record types the drawer can turn into GPU objects.
const (
	RecordRasterBlob = "rasterBlob"
	RecordContext2D  = "context2d"
	RecordImage      = "image"
	RecordVectorMesh = "vector-mesh"
	// RecordUndefined marks a blank tile; it is skipped.
	RecordUndefined = "undefined"
)

// CacheRecord is tile data as the host viewer holds it. Data is []byte
// for rasterBlob, *image.RGBA for context2d, image.Image for image and
// *renderer.MeshSet for vector-mesh and nil for undefined.
type CacheRecord struct {
	Type string
	Data any
}

// Tile is one tile of a tiled image the host decided to draw.
type Tile interface {
	// Key identifies the tile's data across frames.
	Key() string
	// Bounds is the tile's area in world coordinates.
	Bounds() geom.Rect
	// SourceBounds is the part of the tile image to show, in pixels. An
	// empty rect means the whole image.
	SourceBounds() geom.Rect
	IsRightMost() bool
	IsBottomMost() bool
	CacheRecord() CacheRecord
}

// TiledImage is a data source of the host viewer.
type TiledImage interface {
	ID() string
	Opacity() float64
	// Rotation in degrees about the image center.
	Rotation() float64
	Flipped() bool
	// Bounds in world coordinates.
	Bounds() geom.Rect
	// Crop is a clip polygon in world coordinates; nil means none.
	Crop() []geom.Point
	// Clip is a clip rectangle in world coordinates.
	Clip() (geom.Rect, bool)
	Tiles() []Tile
}

// View is the visible part of the world and the canvas it maps to.
type View struct {
	Bounds   geom.Rect
	Rotation float64
	Flipped  bool
	Width    int
	Height   int
}

// Matrix maps world coordinates (y down) to clip space (y up): the view
// center goes to the origin, then flip, rotation and scale apply.
func (v View) Matrix() geom.Mat3 {
	c := v.Bounds.Center()
	m := geom.Translation(-c.X, -c.Y)
	if v.Flipped {
		m = geom.Scaling(-1, 1).Mul(m)
	}
	m = geom.RotationDeg(v.Rotation).Mul(m)
	return geom.Scaling(2/v.Bounds.W, -2/v.Bounds.H).Mul(m)
}

// Zoom is canvas pixels per world unit.
func (v View) Zoom() float64 {
	if v.Bounds.W <= 0 {
		return 1
	}
	return float64(v.Width) / v.Bounds.W
}

// imageMatrix applies a tiled image's own rotation and flip about its
// center.
func imageMatrix(ti TiledImage) geom.Mat3 {
	c := ti.Bounds().Center()
	m := geom.Identity()
	if ti.Flipped() {
		m = geom.Translation(c.X, c.Y).Mul(geom.Scaling(-1, 1)).Mul(geom.Translation(-c.X, -c.Y))
	}
	if r := ti.Rotation(); r != 0 {
		m = geom.RotationAbout(r, c).Mul(m)
	}
	return m
}

// tileMatrix maps the unit square onto the tile.
func tileMatrix(world geom.Mat3, t Tile) geom.Mat3 {
	b := t.Bounds()
	return world.Mul(geom.Translation(b.X, b.Y)).Mul(geom.Scaling(b.W, b.H))
}

// uvRect is the part of a width x height texture to sample. Right and
// bottom-most tiles sample to the texture edge so no seam shows.
func uvRect(t Tile, width, height int) [4]float32 {
	src := t.SourceBounds()
	if src.Empty() || width <= 0 || height <= 0 {
		return [4]float32{0, 0, 1, 1}
	}
	w, h := float64(width), float64(height)
	uv := [4]float32{float32(src.X / w), float32(src.Y / h), float32(src.W / w), float32(src.H / h)}
	if t.IsRightMost() {
		uv[2] = 1 - uv[0]
	}
	if t.IsBottomMost() {
		uv[3] = 1 - uv[1]
	}
	return uv
}

// clipPolygons returns the crop polygon and the clip rectangle of ti in
// clip space.
func clipPolygons(world geom.Mat3, ti TiledImage) [][]geom.Point {
	var polys [][]geom.Point
	apply := func(pts []geom.Point) []geom.Point {
		out := make([]geom.Point, len(pts))
		for i, p := range pts {
			out[i] = world.Apply(p)
		}
		return out
	}
	if crop := ti.Crop(); len(crop) >= 3 {
		polys = append(polys, apply(crop))
	}
	if r, ok := ti.Clip(); ok && !r.Empty() {
		polys = append(polys, apply(r.Corners()))
	}
	return polys
}
