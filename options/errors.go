package options

import "errors"

var (
	ErrNoImages       = errors.New("no images given")
	ErrBadSize        = errors.New("width and height must be positive")
	ErrHeadlessOutput = errors.New("-headless needs -snapshot")
)
