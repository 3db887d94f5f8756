package shader

// CompilerBuilderOption is a functional option for configuring the naga Compiler.
type CompilerBuilderOption func(*nagaCompiler)

// WithValidation toggles IR validation before code generation. Enabled by default.
//
// Parameters:
//   - validate: whether to validate
//
// Returns:
//   - CompilerBuilderOption: the option
func WithValidation(validate bool) CompilerBuilderOption {
	return func(c *nagaCompiler) {
		c.validate = validate
	}
}

// WithDebugInfo emits debug names and line information into the generated SPIR-V.
//
// Parameters:
//   - debug: whether to emit debug information
//
// Returns:
//   - CompilerBuilderOption: the option
func WithDebugInfo(debug bool) CompilerBuilderOption {
	return func(c *nagaCompiler) {
		c.debugInfo = debug
	}
}
