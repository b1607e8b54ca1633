// Package graphics defines the GL context contract shared by windowed and
// headless backends, plus the thread all GL work runs on.
package graphics

// Context is an OpenGL (or OpenGL ES) context.
type Context interface {
	MakeCurrent()
	DetachCurrent()
	Shutdown()
	ShouldClose() bool
	EndFrame()
	GetFramebufferSize() (int, int)
	// IsGLES reports whether shaders must be emitted as ESSL.
	IsGLES() bool
}
