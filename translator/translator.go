// Package translator converts the GLSL ES 3.00 the engine generates into the
// dialect of the current context.
package translator

import (
	"context"
	"fmt"
	"sync"

	gst "github.com/richinsley/goshadertranslator"
)

var (
	once       sync.Once
	translator *gst.ShaderTranslator
	initErr    error
	mu         sync.Mutex
)

func GetTranslator() (*gst.ShaderTranslator, error) {
	once.Do(func() {
		translator, initErr = gst.NewShaderTranslator(context.Background())
	})
	return translator, initErr
}

// Shader is translated source plus the mapping from the names used in the
// input to the names the output declares.
type Shader struct {
	Code  string
	Names map[string]string
}

// Translate converts src, a "vertex" or "fragment" shader, to GLSL 4.10 or
// to ESSL when gles is set.
func Translate(src, stage string, gles bool) (*Shader, error) {
	t, err := GetTranslator()
	if err != nil {
		return nil, fmt.Errorf("shader translator: %w", err)
	}
	format := gst.OutputFormatGLSL410
	if gles {
		format = gst.OutputFormatESSL
	}

	mu.Lock()
	out, err := t.TranslateShader(src, stage, gst.ShaderSpecWebGL2, format)
	mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s shader translation failed: %w", stage, err)
	}

	s := &Shader{Code: out.Code, Names: make(map[string]string, len(out.Variables))}
	for name, v := range out.Variables {
		s.Names[name] = v.MappedName
	}
	return s, nil
}
