// pre_processor.go implements the Oxy WGSL shader pre-processor. It expands @oxy:include
// annotations with the contents of other files under the shader root, drops source blocks
// excluded by @oxy:ifdef / @oxy:ifndef, and substitutes ${NAME} macro references. Every
// file read is recorded so hot reload can watch the full dependency set of a stage.
package shader

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

// macroRefRegex matches ${NAME} macro references.
var macroRefRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// conditionFrame is one open ifdef / ifndef block.
type conditionFrame struct {
	line         int
	parentActive bool
	active       bool
	seenElse     bool
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	fsys fs.FS

	// macros is the definition set of the current Process call.
	macros map[string]string

	// included tracks files already injected during the current Process call.
	included map[string]bool

	// dependencies lists every file read during the current Process call, in read order.
	dependencies []string
}

// PreProcessor expands annotations in WGSL stage sources read from a shader root.
type PreProcessor interface {
	// Process reads the file at path, expands its annotations and returns the resulting source.
	// The dependency list is reset at the start of each call.
	//
	// Parameters:
	//   - path: the stage source path relative to the shader root
	//   - macros: the macro definitions visible to the stage
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if a file is missing, an annotation is malformed, a block is
	//     unbalanced or an undefined macro is referenced
	Process(path string, macros []Macro) (string, error)

	// Dependencies returns every file read by the most recent Process call, the stage source
	// first. Returns nil if Process has not been called.
	//
	// Returns:
	//   - []string: the dependency paths relative to the shader root
	Dependencies() []string
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor that resolves every path against fsys.
//
// Parameters:
//   - fsys: the shader root
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(fsys fs.FS) PreProcessor {
	return &preProcessor{
		fsys: fsys,
	}
}

func (p *preProcessor) Process(file string, macros []Macro) (string, error) {
	p.macros = make(map[string]string, len(macros))
	for _, m := range macros {
		p.macros[m.Name] = m.Value
	}
	p.included = make(map[string]bool)
	p.dependencies = nil

	out, err := p.processFile(path.Clean(file))
	if err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Dependencies() []string {
	return p.dependencies
}

func (p *preProcessor) processFile(file string) ([]string, error) {
	if p.included[file] {
		return nil, nil
	}
	p.included[file] = true

	raw, err := fs.ReadFile(p.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read shader source %s: %w", file, err)
	}
	p.dependencies = append(p.dependencies, file)

	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	var stack []conditionFrame
	active := true

	// walk each line, tracking the innermost condition to decide whether a line is emitted
	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if a == nil {
			if !active {
				continue
			}
			expanded, err := p.expandMacros(line)
			if err != nil {
				return nil, fmt.Errorf("%s: line %d: %w", file, i+1, err)
			}
			out = append(out, expanded)
			continue
		}

		switch a.Type {
		case AnnotationTypeInclude:
			if !active {
				continue
			}
			body, err := p.processFile(path.Clean(a.Arg))
			if err != nil {
				return nil, fmt.Errorf("%s: line %d: %w", file, a.Line, err)
			}
			out = append(out, body...)
		case AnnotationTypeIfdef, AnnotationTypeIfndef:
			_, defined := p.macros[a.Arg]
			cond := defined == (a.Type == AnnotationTypeIfdef)
			stack = append(stack, conditionFrame{line: a.Line, parentActive: active, active: cond})
			active = active && cond
		case AnnotationTypeElse:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%s: line %d: @oxy else without ifdef", file, a.Line)
			}
			top := &stack[len(stack)-1]
			if top.seenElse {
				return nil, fmt.Errorf("%s: line %d: duplicate @oxy else for block opened on line %d", file, a.Line, top.line)
			}
			top.seenElse = true
			top.active = !top.active
			active = top.parentActive && top.active
		case AnnotationTypeEndif:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%s: line %d: @oxy endif without ifdef", file, a.Line)
			}
			active = stack[len(stack)-1].parentActive
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%s: block opened on line %d is never closed", file, stack[len(stack)-1].line)
	}
	return out, nil
}

func (p *preProcessor) expandMacros(line string) (string, error) {
	var missing string
	expanded := macroRefRegex.ReplaceAllStringFunc(line, func(ref string) string {
		name := macroRefRegex.FindStringSubmatch(ref)[1]
		v, ok := p.macros[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("undefined macro %q", missing)
	}
	return expanded, nil
}
