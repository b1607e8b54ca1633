package options

// ViewerOptions holds the command-line settings of flexview.
type ViewerOptions struct {
	Help     *bool
	Width    *int
	Height   *int
	Config   *string // JSON layer configuration
	Session  *string // session file to restore; overrides Config
	Save     *string // session file written after the first frame
	LogLevel *string
	LogDir   *string
	Hidden   *bool
	Headless *bool // EGL surfaceless context instead of a GLFW window
	Snapshot *string
	Dump     *bool
	Smooth   *bool
	Layer    *string // layer type for images without a configuration
	Images   []string
}

// Validate checks the settings after flag parsing.
func (o *ViewerOptions) Validate() error {
	if len(o.Images) == 0 {
		return ErrNoImages
	}
	if *o.Width <= 0 || *o.Height <= 0 {
		return ErrBadSize
	}
	if *o.Headless && *o.Snapshot == "" {
		return ErrHeadlessOutput
	}
	return nil
}
