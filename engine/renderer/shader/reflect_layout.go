package shader

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/naga/ir"
)

// vertexFormatInfo holds the wgpu vertex format and its byte size for offset calculation
type vertexFormatInfo struct {
	format wgpu.VertexFormat
	size   uint64
}

// vertexFormatKey identifies a vertex attribute type by scalar kind, scalar width and
// component count.
type vertexFormatKey struct {
	kind       ir.ScalarKind
	width      uint8
	components uint8
}

// vertexFormatMap maps vertex attribute types to their corresponding wgpu vertex format and byte size
var vertexFormatMap = map[vertexFormatKey]vertexFormatInfo{
	{ir.ScalarFloat, 4, 1}: {wgpu.VertexFormatFloat32, 4},
	{ir.ScalarFloat, 4, 2}: {wgpu.VertexFormatFloat32x2, 8},
	{ir.ScalarFloat, 4, 3}: {wgpu.VertexFormatFloat32x3, 12},
	{ir.ScalarFloat, 4, 4}: {wgpu.VertexFormatFloat32x4, 16},
	{ir.ScalarSint, 4, 1}:  {wgpu.VertexFormatSint32, 4},
	{ir.ScalarSint, 4, 2}:  {wgpu.VertexFormatSint32x2, 8},
	{ir.ScalarSint, 4, 3}:  {wgpu.VertexFormatSint32x3, 12},
	{ir.ScalarSint, 4, 4}:  {wgpu.VertexFormatSint32x4, 16},
	{ir.ScalarUint, 4, 1}:  {wgpu.VertexFormatUint32, 4},
	{ir.ScalarUint, 4, 2}:  {wgpu.VertexFormatUint32x2, 8},
	{ir.ScalarUint, 4, 3}:  {wgpu.VertexFormatUint32x3, 12},
	{ir.ScalarUint, 4, 4}:  {wgpu.VertexFormatUint32x4, 16},
	{ir.ScalarFloat, 2, 2}: {wgpu.VertexFormatFloat16x2, 4},
	{ir.ScalarFloat, 2, 4}: {wgpu.VertexFormatFloat16x4, 8},
}

// roundUpAlign rounds value up to the next multiple of alignment.
// Alignment must be a power of two.
//
// Parameters:
//   - alignment: the required alignment (must be a power of two)
//   - value: the value to align
//
// Returns:
//   - uint32: value rounded up to the next multiple of alignment
func roundUpAlign(alignment, value uint32) uint32 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// scalarWidth returns the byte width of a host-shareable scalar. Booleans occupy 4 bytes.
func scalarWidth(s ir.ScalarType) uint32 {
	if s.Kind == ir.ScalarBool || s.Width == 0 {
		return 4
	}
	return uint32(s.Width)
}

// vectorAlignAndSize returns the alignment and size of a vector per the WGSL layout rules:
// vec2 aligns to 2 components, vec3 and vec4 to 4 components.
func vectorAlignAndSize(size ir.VectorSize, scalar ir.ScalarType) (align, sz uint32) {
	w := scalarWidth(scalar)
	sz = w * uint32(size)
	if size == ir.Vec2 {
		return w * 2, sz
	}
	return w * 4, sz
}

// naturalSize returns the byte size of a host-shareable type as it occupies a uniform buffer.
// Scalars and vectors report their unpadded width (a vec3<f32> is 12 bytes), matrices are
// columns times the padded column stride, fixed arrays are count times stride, and structs
// report their span.
//
// Parameters:
//   - module: the IR module owning the type
//   - handle: the type to size
//
// Returns:
//   - uint32: the byte size
//   - error: an error for types that cannot live in a constant buffer
func naturalSize(module *ir.Module, handle ir.TypeHandle) (uint32, error) {
	if int(handle) >= len(module.Types) {
		return 0, fmt.Errorf("type handle %d out of range", handle)
	}
	switch t := module.Types[handle].Inner.(type) {
	case ir.ScalarType:
		return scalarWidth(t), nil
	case ir.VectorType:
		_, sz := vectorAlignAndSize(t.Size, t.Scalar)
		return sz, nil
	case ir.MatrixType:
		align, sz := vectorAlignAndSize(t.Rows, t.Scalar)
		return uint32(t.Columns) * roundUpAlign(align, sz), nil
	case ir.AtomicType:
		return scalarWidth(t.Scalar), nil
	case ir.ArrayType:
		if t.Size.Constant == nil {
			return 0, fmt.Errorf("runtime-sized array is not allowed in a constant buffer")
		}
		stride := t.Stride
		if stride == 0 {
			elem, err := naturalSize(module, t.Base)
			if err != nil {
				return 0, err
			}
			stride = roundUpAlign(16, elem)
		}
		return stride * *t.Size.Constant, nil
	case ir.StructType:
		return t.Span, nil
	default:
		return 0, fmt.Errorf("type %q (%T) is not host-shareable", module.Types[handle].Name, t)
	}
}

// vertexFormatOf resolves the wgpu vertex format of a vertex attribute type.
func vertexFormatOf(module *ir.Module, handle ir.TypeHandle) (vertexFormatInfo, bool) {
	if int(handle) >= len(module.Types) {
		return vertexFormatInfo{}, false
	}
	var key vertexFormatKey
	switch t := module.Types[handle].Inner.(type) {
	case ir.ScalarType:
		key = vertexFormatKey{t.Kind, t.Width, 1}
	case ir.VectorType:
		key = vertexFormatKey{t.Scalar.Kind, t.Scalar.Width, uint8(t.Size)}
	default:
		return vertexFormatInfo{}, false
	}
	info, ok := vertexFormatMap[key]
	return info, ok
}
