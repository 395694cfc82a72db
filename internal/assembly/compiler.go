package assembly

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// Compiler lowers PixSimAssembly source into one target program per
// configured dialect.
type Compiler struct {
	conv *pixel.Converter
	log  *zap.Logger
}

func NewCompiler(conv *pixel.Converter, log *zap.Logger) *Compiler {
	return &Compiler{conv: conv, log: log}
}

// CompileAll parses src once and emits it for every dialect the converter
// knows about. A *SyntaxError aborts compilation entirely. A *PixelIdError
// for one dialect is logged and that dialect is simply not included in the
// result — "the offending script is simply not served; everything else
// runs", per the error-handling policy.
func (c *Compiler) CompileAll(src string) (map[pixel.DialectId]string, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, err
	}

	out := make(map[pixel.DialectId]string)
	for _, d := range c.conv.Formats() {
		text, err := Emit(prog, d, c.conv)
		if err != nil {
			var pixErr *PixelIdError
			if asPixelIdError(err, &pixErr) {
				c.log.Warn("compile: pixel literal unresolved for dialect, skipping", zap.String("dialect", string(d)), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("compile for dialect %s: %w", d, err)
		}
		out[d] = text
	}
	return out, nil
}

// Compile parses and emits src for a single dialect.
func (c *Compiler) Compile(src string, dialect pixel.DialectId) (string, error) {
	prog, err := Parse(src)
	if err != nil {
		return "", err
	}
	return Emit(prog, dialect, c.conv)
}

func asPixelIdError(err error, target **PixelIdError) bool {
	if pe, ok := err.(*PixelIdError); ok {
		*target = pe
		return true
	}
	return false
}
