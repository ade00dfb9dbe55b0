package dynamic

import (
	"fmt"

	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/yaegi/interp"
	"github.com/GoCodeAlone/yaegi/stdlib"
)

// InterpreterPool creates sandboxed Yaegi interpreters with the standard
// library and the plugin SDK loaded.
type InterpreterPool struct {
	goPath string
}

// NewInterpreterPool creates a new pool.
func NewInterpreterPool(goPath string) *InterpreterPool {
	return &InterpreterPool{goPath: goPath}
}

// NewInterpreter returns a fresh interpreter. Import restrictions are
// enforced by ValidateSource before any code is evaluated.
func (p *InterpreterPool) NewInterpreter() (*interp.Interpreter, error) {
	opts := interp.Options{}
	if p != nil && p.goPath != "" {
		opts.GoPath = p.goPath
	}
	i := interp.New(opts)

	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if err := i.Use(sdk.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load sdk symbols: %w", err)
	}
	return i, nil
}
