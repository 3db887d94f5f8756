// annotations.go defines the annotation types and parser for the Oxy WGSL shader
// pre-processor. Annotations are single-line WGSL comments prefixed with @oxy: that
// pull shared source files into a stage and select source blocks by macro definition.
// Macro values are substituted into source lines through ${NAME} references.
package shader

import (
	"fmt"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeInclude injects the contents of another source file at the annotation
	// site. The path is relative to the shader root. A file is injected at most once per
	// stage, however many times it is included.
	//
	// Syntax: //@oxy:include <path>
	//
	// Example: //@oxy:include common/fullscreen.wgsl
	AnnotationTypeInclude AnnotationType = "include"

	// AnnotationTypeIfdef keeps the following lines only if the macro is defined.
	//
	// Syntax: //@oxy:ifdef <MACRO>
	AnnotationTypeIfdef AnnotationType = "ifdef"

	// AnnotationTypeIfndef keeps the following lines only if the macro is not defined.
	//
	// Syntax: //@oxy:ifndef <MACRO>
	AnnotationTypeIfndef AnnotationType = "ifndef"

	// AnnotationTypeElse inverts the innermost open ifdef / ifndef block.
	//
	// Syntax: //@oxy:else
	AnnotationTypeElse AnnotationType = "else"

	// AnnotationTypeEndif closes the innermost open ifdef / ifndef block.
	//
	// Syntax: //@oxy:endif
	AnnotationTypeEndif AnnotationType = "endif"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Arg holds the include path or macro name. Empty for else and endif.
	Arg string

	// Line is the 1-based line number in the source file where this annotation was found.
	Line int
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix. Returns
// a populated Annotation for valid annotations, or an error describing the problem for
// malformed annotations with correct prefix but invalid syntax.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	comment, ok := strings.CutPrefix(trimmed, "//")
	if !ok {
		return nil, nil
	}
	after, ok := strings.CutPrefix(strings.TrimSpace(comment), annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case AnnotationTypeInclude, AnnotationTypeIfdef, AnnotationTypeIfndef:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy %s annotation requires exactly one argument", lineNum, args[0])
		}
		return &Annotation{
			Type: AnnotationType(args[0]),
			Arg:  args[1],
			Line: lineNum,
		}, nil
	case AnnotationTypeElse, AnnotationTypeEndif:
		if len(args) != 1 {
			return nil, fmt.Errorf("line %d: @oxy %s annotation takes no arguments", lineNum, args[0])
		}
		return &Annotation{
			Type: AnnotationType(args[0]),
			Line: lineNum,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}
