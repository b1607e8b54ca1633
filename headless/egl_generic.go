//go:build !linux

package headless

import (
	"fmt"

	"github.com/richinsley/goflex/graphics"
	"github.com/richinsley/goflex/log"
)

func New(width, height int, lg *log.Logger) (graphics.Context, error) {
	return nil, fmt.Errorf("egl headless rendering is not supported on this platform")
}
