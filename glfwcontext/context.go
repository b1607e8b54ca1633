package glfwcontext

import (
	"runtime"

	glfw "github.com/go-gl/glfw/v3.3/glfw"

	"github.com/richinsley/goflex/graphics"
	"github.com/richinsley/goflex/log"
)

// Context is a GLFW window with an OpenGL 4.1 core context.
type Context struct {
	window *glfw.Window
	// keyCallbacks run on key presses.
	keyCallbacks map[glfw.Key]func()
}

var _ graphics.Context = (*Context)(nil)

// New creates a window. A hidden window still owns a usable context, which
// is how offscreen rendering and tests run. Passing share makes the new
// context share objects with another GLFW context.
func New(width, height int, visible bool, share graphics.Context) (*Context, error) {
	var shareWindow *glfw.Window
	if s, ok := share.(*Context); ok && s != nil {
		shareWindow = s.window
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.StencilBits, 8)
	if visible {
		glfw.WindowHint(glfw.Visible, glfw.True)
		glfw.WindowHint(glfw.Resizable, glfw.True)
	} else {
		glfw.WindowHint(glfw.Visible, glfw.False)
	}

	win, err := glfw.CreateWindow(width, height, "goflex", nil, shareWindow)
	if err != nil {
		return nil, err
	}

	c := &Context{
		window:       win,
		keyCallbacks: make(map[glfw.Key]func()),
	}
	win.SetKeyCallback(c.glfwKeyCallback)
	return c, nil
}

// RegisterKeyCallback runs f whenever key is pressed.
func (c *Context) RegisterKeyCallback(key glfw.Key, f func()) {
	c.keyCallbacks[key] = f
}

func (c *Context) glfwKeyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
	}
	if action == glfw.Press {
		if callback, ok := c.keyCallbacks[key]; ok {
			callback()
		}
	}
}

func (c *Context) MakeCurrent()                   { c.window.MakeContextCurrent() }
func (c *Context) DetachCurrent()                 { glfw.DetachCurrentContext() }
func (c *Context) Shutdown()                      { c.window.Destroy() }
func (c *Context) ShouldClose() bool              { return c.window.ShouldClose() }
func (c *Context) GetFramebufferSize() (int, int) { return c.window.GetFramebufferSize() }
func (c *Context) Window() *glfw.Window           { return c.window }

// IsGLES is false: GLFW contexts here are always desktop core profile.
func (c *Context) IsGLES() bool { return false }

func (c *Context) EndFrame() {
	c.window.SwapBuffers()
	glfw.PollEvents()
}

// InitGraphics initializes GLFW. It must be called from the main thread,
// which stays locked.
func InitGraphics(lg *log.Logger) error {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return err
	}
	lg.Info("GLFW initialized")
	return nil
}

func TerminateGraphics(lg *log.Logger) {
	glfw.Terminate()
	lg.Info("GLFW terminated")
}
