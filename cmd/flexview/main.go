package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/goforj/godump"

	"github.com/richinsley/goflex/drawer"
	"github.com/richinsley/goflex/glfwcontext"
	"github.com/richinsley/goflex/graphics"
	"github.com/richinsley/goflex/headless"
	"github.com/richinsley/goflex/log"
	"github.com/richinsley/goflex/options"
	"github.com/richinsley/goflex/shader"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	o := options.ViewerOptions{
		Help:     flag.Bool("help", false, "Show help message"),
		Width:    flag.Int("width", 1280, "Width of the canvas"),
		Height:   flag.Int("height", 720, "Height of the canvas"),
		Config:   flag.String("config", "", "JSON layer configuration file"),
		Session:  flag.String("session", "", "Session file to restore (overrides -config)"),
		Save:     flag.String("save", "", "Write the session to this file after the first frame"),
		LogLevel: flag.String("loglevel", "info", "Log level: debug, info, warn or error"),
		LogDir:   flag.String("logdir", "", "Directory for rotating JSON logs (stderr when empty)"),
		Hidden:   flag.Bool("hidden", false, "Render one frame in a hidden window and exit"),
		Headless: flag.Bool("headless", false, "Render one frame with EGL and exit"),
		Snapshot: flag.String("snapshot", "", "Write the first frame to this PNG file"),
		Dump:     flag.Bool("dump", false, "Dump the layer configurations after the first frame"),
		Smooth:   flag.Bool("smooth", true, "Linear filtering of image tiles"),
		Layer:    flag.String("layer", "identity", "Layer type for images without a configuration"),
	}
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: flexview [flags] image...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	o.Images = flag.Args()

	if *o.Help {
		fmt.Println("Multi-layer shader viewer")
		flag.Usage()
		return
	}
	if err := o.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "flexview: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	lg := log.New(*o.LogLevel, *o.LogDir)
	if err := run(&o, lg); err != nil {
		lg.Error("flexview failed", "error", err)
		os.Exit(1)
	}
}

func run(o *options.ViewerOptions, lg *log.Logger) error {
	images, err := loadImages(o.Images)
	if err != nil {
		return err
	}
	configs, order, err := loadConfigs(o)
	if err != nil {
		return err
	}

	thread := graphics.NewThread()
	defer thread.Stop()

	var ctx graphics.Context
	if *o.Headless {
		var cerr error
		if err := thread.Call(func() {
			ctx, cerr = headless.New(*o.Width, *o.Height, lg)
		}); err != nil {
			return err
		}
		if cerr != nil {
			return cerr
		}
	} else {
		if err := glfwcontext.InitGraphics(lg); err != nil {
			return err
		}
		defer glfwcontext.TerminateGraphics(lg)
		c, err := glfwcontext.New(*o.Width, *o.Height, !*o.Hidden, nil)
		if err != nil {
			return err
		}
		c.DetachCurrent()
		ctx = c
	}
	defer func() {
		if _, ok := ctx.(*glfwcontext.Context); ok {
			_ = thread.Call(ctx.DetachCurrent)
			ctx.Shutdown()
			return
		}
		_ = thread.Call(ctx.Shutdown)
	}()

	redraw := make(chan struct{}, 1)
	d, err := drawer.New(ctx, drawer.Options{
		Logger:           lg,
		Thread:           thread,
		DefaultLayerType: *o.Layer,
		Smoothing:        *o.Smooth,
		OnError: func(err error, ti drawer.TiledImage) {
			if ti == nil {
				lg.Warn("render error", "error", err)
			}
		},
		OnRedraw: func() {
			select {
			case redraw <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer d.Destroy()

	width, height := *o.Width, *o.Height
	frame := func(configs map[string]*shader.Config, order []string) error {
		view := fitView(images[0].Bounds(), width, height)
		if err := d.DrawWithConfiguration(context.Background(), images, view, configs, order); err != nil {
			return err
		}
		return thread.Call(func() { swap(ctx) })
	}
	if err := frame(configs, order); err != nil {
		return err
	}
	if err := afterFirstFrame(o, d, thread); err != nil {
		return err
	}
	if *o.Headless || *o.Hidden {
		return nil
	}

	for !ctx.ShouldClose() {
		glfw.WaitEventsTimeout(0.05)
		select {
		case <-redraw:
		default:
			w, h := ctx.GetFramebufferSize()
			if w == width && h == height {
				continue
			}
			width, height = w, h
		}
		if err := frame(nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// swap shows the back buffer. Events are polled on the main thread, so
// GLFW windows only swap here.
func swap(ctx graphics.Context) {
	if c, ok := ctx.(*glfwcontext.Context); ok {
		c.Window().SwapBuffers()
		return
	}
	ctx.EndFrame()
}

func afterFirstFrame(o *options.ViewerOptions, d *drawer.Drawer, thread *graphics.Thread) error {
	var configs map[string]*shader.Config
	var order []string
	var snapErr error
	if err := thread.Call(func() {
		r := d.Renderer()
		order = r.Order()
		configs = make(map[string]*shader.Config, len(order))
		for id, l := range r.Layers() {
			configs[id] = l.Config()
		}
		if *o.Snapshot != "" {
			snapErr = writeSnapshot(*o.Snapshot, r)
		}
	}); err != nil {
		return err
	}
	if snapErr != nil {
		return snapErr
	}
	if *o.Dump {
		for _, id := range order {
			godump.Fdump(os.Stdout, configs[id])
		}
	}
	if *o.Save != "" {
		f, err := os.Create(*o.Save)
		if err != nil {
			return err
		}
		if err := shader.SaveSession(f, configs, order); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}

func loadConfigs(o *options.ViewerOptions) (map[string]*shader.Config, []string, error) {
	switch {
	case *o.Session != "":
		f, err := os.Open(*o.Session)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		s, err := shader.LoadSession(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", *o.Session, err)
		}
		return s.Configs, s.Order, nil
	case *o.Config != "":
		b, err := os.ReadFile(*o.Config)
		if err != nil {
			return nil, nil, err
		}
		configs, order, err := shader.ParseConfigs(b)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", *o.Config, err)
		}
		return configs, order, nil
	}
	return nil, nil, nil
}
