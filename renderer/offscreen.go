package renderer

import (
	"fmt"
	"image"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"
)

// canvas is the second-pass render target. Pixels are read back through a
// pixel pack buffer.
type canvas struct {
	fbo       uint32
	textureID uint32
	pbo       uint32
	width     int
	height    int
}

func newCanvas(width, height int) (*canvas, error) {
	c := &canvas{width: width, height: height}

	gl.GenFramebuffers(1, &c.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, c.fbo)
	gl.GenTextures(1, &c.textureID)
	gl.BindTexture(gl.TEXTURE_2D, c.textureID)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, c.textureID, 0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	if gl.CheckFramebufferStatus(gl.FRAMEBUFFER) != gl.FRAMEBUFFER_COMPLETE {
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		c.destroy()
		return nil, fmt.Errorf("canvas fbo is not complete")
	}

	gl.GenBuffers(1, &c.pbo)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, c.pbo)
	gl.BufferData(gl.PIXEL_PACK_BUFFER, width*height*4, nil, gl.STREAM_READ)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return c, nil
}

func (c *canvas) destroy() {
	if c.fbo != 0 {
		gl.DeleteFramebuffers(1, &c.fbo)
		c.fbo = 0
	}
	if c.textureID != 0 {
		gl.DeleteTextures(1, &c.textureID)
		c.textureID = 0
	}
	if c.pbo != 0 {
		gl.DeleteBuffers(1, &c.pbo)
		c.pbo = 0
	}
}

// read returns the canvas top row first. Colors are straight alpha.
func (c *canvas) read() (*image.NRGBA, error) {
	size := c.width * c.height * 4
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, c.fbo)
	gl.ReadBuffer(gl.COLOR_ATTACHMENT0)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, c.pbo)
	gl.ReadPixels(0, 0, int32(c.width), int32(c.height), gl.RGBA, gl.UNSIGNED_BYTE, nil)

	ptr := gl.MapBufferRange(gl.PIXEL_PACK_BUFFER, 0, size, gl.MAP_READ_BIT)
	if ptr == nil {
		gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
		return nil, fmt.Errorf("failed to map canvas pixel buffer")
	}
	pixels := unsafe.Slice((*byte)(ptr), size)

	img := image.NewNRGBA(image.Rect(0, 0, c.width, c.height))
	stride := c.width * 4
	for y := 0; y < c.height; y++ {
		src := pixels[(c.height-1-y)*stride : (c.height-y)*stride]
		copy(img.Pix[y*img.Stride:], src)
	}
	gl.UnmapBuffer(gl.PIXEL_PACK_BUFFER)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	return img, nil
}

// write replaces the canvas content with img, scaled by the blit when the
// sizes differ.
func (c *canvas) write(img *image.NRGBA) {
	b := img.Bounds()
	flipped := make([]byte, b.Dx()*b.Dy()*4)
	stride := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+stride]
		copy(flipped[(b.Dy()-1-y)*stride:], row)
	}

	var tex, fbo uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(b.Dx()), int32(b.Dy()), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(flipped))
	gl.GenFramebuffers(1, &fbo)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, fbo)
	gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, c.fbo)
	gl.BlitFramebuffer(0, 0, int32(b.Dx()), int32(b.Dy()), 0, 0, int32(c.width), int32(c.height),
		gl.COLOR_BUFFER_BIT, gl.LINEAR)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.DeleteFramebuffers(1, &fbo)
	gl.DeleteTextures(1, &tex)
}

// present blits the canvas into the default framebuffer at x, y.
func (c *canvas) present(x, y, width, height int) {
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, c.fbo)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	gl.BlitFramebuffer(0, 0, int32(c.width), int32(c.height),
		int32(x), int32(y), int32(x+width), int32(y+height), gl.COLOR_BUFFER_BIT, gl.NEAREST)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}
