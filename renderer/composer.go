package renderer

import (
	"fmt"
	"strings"
)

type composerState int

const (
	composerIdle composerState = iota
	composerPending
)

func (s composerState) String() string {
	if s == composerPending {
		return "pending"
	}
	return "idle"
}

// composer emits the body of the second-pass main. Blending a layer into
// final_color is deferred until the next non-clip layer (or the end) so
// that clip layers in between act on intermediate_color first.
type composer struct {
	state   composerState
	pending string
	b       strings.Builder
}

func (c *composer) line(format string, args ...any) {
	c.b.WriteString("    ")
	fmt.Fprintf(&c.b, format, args...)
	c.b.WriteByte('\n')
}

func (c *composer) header(slot int) {
	c.line("instance_id = %d;", slot)
	c.line("opacity = u_instanceInfo[%d].x;", slot)
	c.line("pixelSize = u_instanceInfo[%d].y;", slot)
	c.line("zoom = u_instanceInfo[%d].z;", slot)
}

// sample is the stencil-gated, opacity-scaled result of the layer.
func sample(uid string, stencil int) string {
	return fmt.Sprintf("(osd_stencil(%d) > 0.0 ? %s_execution() : vec4(0.0)) * vec4(1.0, 1.0, 1.0, opacity)", stencil, uid)
}

func (c *composer) flush() {
	if c.state != composerPending {
		return
	}
	c.line("final_color = %s_blend_func(intermediate_color, final_color);", c.pending)
	c.state, c.pending = composerIdle, ""
}

// layer emits the code of an active layer at slot. stencil is the
// first-pass layer whose coverage gates it.
func (c *composer) layer(uid string, slot, stencil int, clip bool) {
	c.line("// %s", uid)
	c.header(slot)
	if clip {
		c.line("intermediate_color = %s_blend_func(%s, intermediate_color);", uid, sample(uid, stencil))
		return
	}
	c.flush()
	c.line("intermediate_color = %s;", sample(uid, stencil))
	c.state, c.pending = composerPending, uid
}

// skip keeps the slot of a layer that does not render.
func (c *composer) skip(slot int) {
	c.line("instance_id = %d; opacity = 0.0;", slot)
}

func (c *composer) finish() string {
	c.flush()
	return c.b.String()
}
