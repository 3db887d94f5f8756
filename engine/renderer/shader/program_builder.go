package shader

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/constant"
)

// ProgramBuilderOption is a functional option for configuring a Program.
type ProgramBuilderOption func(*program)

// WithPool sets the constant pool the program allocates its constants from. Programs of one
// registry share a pool. Defaults to a private pool of constant.DefaultCapacity.
//
// Parameters:
//   - pool: the constant pool
//
// Returns:
//   - ProgramBuilderOption: the option
func WithPool(pool *constant.Pool) ProgramBuilderOption {
	return func(p *program) {
		p.pool = pool
	}
}

// WithReflector overrides the naga reflector.
//
// Parameters:
//   - r: the reflector
//
// Returns:
//   - ProgramBuilderOption: the option
func WithReflector(r Reflector) ProgramBuilderOption {
	return func(p *program) {
		p.reflector = r
	}
}

// WithFatalHandler sets the handler invoked for unrecoverable conditions.
//
// Parameters:
//   - h: the handler
//
// Returns:
//   - ProgramBuilderOption: the option
func WithFatalHandler(h FatalHandler) ProgramBuilderOption {
	return func(p *program) {
		if h != nil {
			p.fatal = h
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - ProgramBuilderOption: the option
func WithLogger(l *slog.Logger) ProgramBuilderOption {
	return func(p *program) {
		p.logger = l
	}
}
