//go:build linux

package headless

import (
	"errors"
	"fmt"

	"github.com/richinsley/goflex/graphics"
	"github.com/richinsley/goflex/log"
)

/*
#cgo LDFLAGS: -lEGL
#include <EGL/egl.h>
#include <EGL/eglext.h>

// osd_device_display returns a display on the index-th EGL device, or
// EGL_NO_DISPLAY when device enumeration is unavailable or index is out of
// range. count receives the number of devices.
static EGLDisplay osd_device_display(int index, EGLint *count) {
	PFNEGLQUERYDEVICESEXTPROC query =
		(PFNEGLQUERYDEVICESEXTPROC) eglGetProcAddress("eglQueryDevicesEXT");
	PFNEGLGETPLATFORMDISPLAYEXTPROC platform =
		(PFNEGLGETPLATFORMDISPLAYEXTPROC) eglGetProcAddress("eglGetPlatformDisplayEXT");
	*count = 0;
	if (!query || !platform) {
		return EGL_NO_DISPLAY;
	}
	EGLDeviceEXT devices[16];
	if (!query(16, devices, count) || index >= *count) {
		return EGL_NO_DISPLAY;
	}
	return platform(EGL_PLATFORM_DEVICE_EXT, devices[index], NULL);
}

static EGLDisplay osd_default_display(void) {
	return eglGetDisplay(EGL_DEFAULT_DISPLAY);
}

static EGLBoolean osd_release(EGLDisplay d) {
	return eglMakeCurrent(d, EGL_NO_SURFACE, EGL_NO_SURFACE, EGL_NO_CONTEXT);
}
*/
import "C"

var ErrNoDisplay = errors.New("no usable EGL display")

// Headless is a pbuffer surface with an OpenGL ES 3 context. It needs no
// display server; shaders are emitted as ESSL.
type Headless struct {
	display C.EGLDisplay
	context C.EGLContext
	surface C.EGLSurface
	width   int
	height  int
	log     *log.Logger
}

var _ graphics.Context = (*Headless)(nil)

// display walks the EGL devices, so GPUs in containers without X work,
// then falls back to the default display.
func display(lg *log.Logger) (C.EGLDisplay, error) {
	var count C.EGLint
	for i := 0; ; i++ {
		d := C.osd_device_display(C.int(i), &count)
		if d != C.EGLDisplay(C.EGL_NO_DISPLAY) {
			lg.Debug("EGL device display", "device", i, "devices", int(count))
			return d, nil
		}
		if i+1 >= int(count) {
			break
		}
	}
	lg.Warn("no EGL device display, using the default display", "devices", int(count))
	if d := C.osd_default_display(); d != C.EGLDisplay(C.EGL_NO_DISPLAY) {
		return d, nil
	}
	return C.EGLDisplay(C.EGL_NO_DISPLAY), ErrNoDisplay
}

// New creates a width x height ES 3 context and makes it current on the
// calling thread.
func New(width, height int, lg *log.Logger) (graphics.Context, error) {
	d, err := display(lg)
	if err != nil {
		return nil, err
	}
	h := &Headless{
		display: d,
		context: C.EGLContext(C.EGL_NO_CONTEXT),
		surface: C.EGLSurface(C.EGL_NO_SURFACE),
		width:   width,
		height:  height,
		log:     lg,
	}
	if err := h.init(); err != nil {
		h.Shutdown()
		return nil, err
	}
	return h, nil
}

func (h *Headless) init() error {
	var major, minor C.EGLint
	if C.eglInitialize(h.display, &major, &minor) == C.EGL_FALSE {
		return fmt.Errorf("eglInitialize: 0x%x", int(C.eglGetError()))
	}
	h.log.Info("EGL initialized", "version", fmt.Sprintf("%d.%d", int(major), int(minor)))
	if C.eglBindAPI(C.EGL_OPENGL_ES_API) == C.EGL_FALSE {
		return fmt.Errorf("eglBindAPI(OpenGL ES): 0x%x", int(C.eglGetError()))
	}

	// Depth and stencil live on the first-pass renderbuffer; the surface
	// only receives the presented canvas.
	want := []C.EGLint{
		C.EGL_SURFACE_TYPE, C.EGL_PBUFFER_BIT,
		C.EGL_RENDERABLE_TYPE, C.EGL_OPENGL_ES3_BIT,
		C.EGL_RED_SIZE, 8,
		C.EGL_GREEN_SIZE, 8,
		C.EGL_BLUE_SIZE, 8,
		C.EGL_ALPHA_SIZE, 8,
		C.EGL_NONE,
	}
	var config C.EGLConfig
	var n C.EGLint
	if C.eglChooseConfig(h.display, &want[0], &config, 1, &n) == C.EGL_FALSE || n == 0 {
		return errors.New("no EGL config for an RGBA8 ES 3 pbuffer")
	}

	size := []C.EGLint{C.EGL_WIDTH, C.EGLint(h.width), C.EGL_HEIGHT, C.EGLint(h.height), C.EGL_NONE}
	h.surface = C.eglCreatePbufferSurface(h.display, config, &size[0])
	if h.surface == C.EGLSurface(C.EGL_NO_SURFACE) {
		return fmt.Errorf("eglCreatePbufferSurface %dx%d: 0x%x", h.width, h.height, int(C.eglGetError()))
	}

	version := []C.EGLint{C.EGL_CONTEXT_CLIENT_VERSION, 3, C.EGL_NONE}
	h.context = C.eglCreateContext(h.display, config, C.EGLContext(C.EGL_NO_CONTEXT), &version[0])
	if h.context == C.EGLContext(C.EGL_NO_CONTEXT) {
		return fmt.Errorf("eglCreateContext(ES 3): 0x%x", int(C.eglGetError()))
	}
	if C.eglMakeCurrent(h.display, h.surface, h.surface, h.context) == C.EGL_FALSE {
		return fmt.Errorf("eglMakeCurrent: 0x%x", int(C.eglGetError()))
	}
	return nil
}

func (h *Headless) Shutdown() {
	h.log.Debug("EGL shutdown")
	C.osd_release(h.display)
	if h.context != C.EGLContext(C.EGL_NO_CONTEXT) {
		C.eglDestroyContext(h.display, h.context)
		h.context = C.EGLContext(C.EGL_NO_CONTEXT)
	}
	if h.surface != C.EGLSurface(C.EGL_NO_SURFACE) {
		C.eglDestroySurface(h.display, h.surface)
		h.surface = C.EGLSurface(C.EGL_NO_SURFACE)
	}
	C.eglTerminate(h.display)
}

func (h *Headless) MakeCurrent()   { C.eglMakeCurrent(h.display, h.surface, h.surface, h.context) }
func (h *Headless) DetachCurrent() { C.osd_release(h.display) }

// EndFrame flushes; a pbuffer has no front buffer to show.
func (h *Headless) EndFrame() { C.eglSwapBuffers(h.display, h.surface) }

func (h *Headless) ShouldClose() bool              { return false }
func (h *Headless) GetFramebufferSize() (int, int) { return h.width, h.height }
func (h *Headless) IsGLES() bool                   { return true }
