package drawer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"slices"

	"github.com/go-gl/gl/v4.1-core/gl"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/richinsley/goflex/renderer"
)

// VectorTile holds the uploaded meshes of one vector tile.
type VectorTile struct {
	Fills, Lines, Points *renderer.GPUMesh
}

func (v *VectorTile) Delete() {
	v.Fills.Delete()
	v.Lines.Delete()
	v.Points.Delete()
}

// cacheEntry is the GPU object of one tile: a texture or a vector tile.
type cacheEntry struct {
	texture *renderer.Texture
	vectors *VectorTile
}

func (e *cacheEntry) delete() {
	if e.texture != nil {
		e.texture.Delete()
	}
	if e.vectors != nil {
		e.vectors.Delete()
	}
}

var dataFormats = []string{RecordRasterBlob, RecordContext2D, RecordImage, RecordVectorMesh, RecordUndefined}

// GetSupportedDataFormats lists the cache record types InternalCacheCreate
// accepts.
func (d *Drawer) GetSupportedDataFormats() []string { return slices.Clone(dataFormats) }

// GetRequiredDataFormats lists the record types the host may hand over;
// every one of them is accepted.
func (d *Drawer) GetRequiredDataFormats() []string { return slices.Clone(dataFormats) }

// decoded is a record with its CPU work done, ready for upload.
type decoded struct {
	img  image.Image
	mesh *renderer.MeshSet
}

// decode does the CPU part of materializing a record. It is safe to call
// from any goroutine. Undefined and unknown types decode to nil.
func decode(rec CacheRecord) (*decoded, error) {
	switch rec.Type {
	case RecordRasterBlob:
		b, ok := rec.Data.([]byte)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected data %T", rec.Type, rec.Data)
		}
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Type, err)
		}
		return &decoded{img: img}, nil
	case RecordContext2D:
		img, ok := rec.Data.(*image.RGBA)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected data %T", rec.Type, rec.Data)
		}
		return &decoded{img: img}, nil
	case RecordImage:
		img, ok := rec.Data.(image.Image)
		if !ok || img == nil {
			return nil, fmt.Errorf("%s: unexpected data %T", rec.Type, rec.Data)
		}
		return &decoded{img: img}, nil
	case RecordVectorMesh:
		m, ok := rec.Data.(*renderer.MeshSet)
		if !ok || m == nil {
			return nil, fmt.Errorf("%s: unexpected data %T", rec.Type, rec.Data)
		}
		return &decoded{mesh: m}, nil
	}
	return nil, nil
}

// upload creates the GPU objects of dec on the render thread.
func (d *Drawer) upload(dec *decoded) (*cacheEntry, error) {
	if dec.mesh != nil {
		return &cacheEntry{vectors: &VectorTile{
			Fills:  renderer.NewGPUMesh(dec.mesh.Fills, gl.TRIANGLES),
			Lines:  renderer.NewGPUMesh(dec.mesh.Lines, gl.LINES),
			Points: renderer.NewGPUMesh(dec.mesh.Points, gl.POINTS),
		}}, nil
	}
	tex, err := renderer.NewTexture(dec.img, d.filter())
	if err != nil {
		return nil, err
	}
	return &cacheEntry{texture: tex}, nil
}

// InternalCacheCreate turns a cache record into its GPU object: a
// *renderer.Texture for raster records, a *VectorTile for meshes and nil
// for unknown types. It must run on the render thread.
func (d *Drawer) InternalCacheCreate(rec CacheRecord) (any, error) {
	dec, err := decode(rec)
	if err != nil || dec == nil {
		return nil, err
	}
	e, err := d.upload(dec)
	if err != nil {
		return nil, err
	}
	if e.texture != nil {
		return e.texture, nil
	}
	return e.vectors, nil
}

// tileEntry returns the cached GPU object of t, creating it from a
// prepared decode or from the tile record.
func (d *Drawer) tileEntry(t Tile, prepared map[string]*decoded) (*cacheEntry, error) {
	key := t.Key()
	if e, ok := d.cache.Get(key); ok {
		return e, nil
	}
	dec, ok := prepared[key]
	if !ok {
		var err error
		if dec, err = decode(t.CacheRecord()); err != nil {
			return nil, err
		}
	}
	if dec == nil {
		return nil, nil
	}
	e, err := d.upload(dec)
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, e)
	return e, nil
}

func (d *Drawer) filter() string {
	if d.smoothing {
		return "linear"
	}
	return "nearest"
}
