package common

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// StructToBytes reinterprets a pointer to a struct as a raw byte slice using unsafe.
// The returned slice has length equal to the struct's size in memory.
//
// Parameters:
//   - v: pointer to the struct to reinterpret
//
// Returns:
//   - []byte: byte slice view of the struct's memory
func StructToBytes[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(size))
}

// Float32Bytes encodes a single float32 as 4 little-endian bytes.
//
// Parameters:
//   - v: the value to encode
//
// Returns:
//   - []byte: a new 4 byte slice
func Float32Bytes(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

// Int32Bytes encodes a single int32 as 4 little-endian bytes.
//
// Parameters:
//   - v: the value to encode
//
// Returns:
//   - []byte: a new 4 byte slice
func Int32Bytes(v int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf
}

// Float32sBytes encodes a run of float32 values as consecutive little-endian words.
//
// Parameters:
//   - values: the values to encode
//
// Returns:
//   - []byte: a new slice of len(values)*4 bytes
func Float32sBytes(values ...float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Mat4Bytes encodes a 4x4 matrix in column-major order (64 bytes), matching mat4x4<f32>.
func Mat4Bytes(m mgl32.Mat4) []byte {
	return Float32sBytes(m[:]...)
}

// Vec3Bytes encodes a vec3 as 12 bytes. Note that a vec3<f32> inside a uniform struct
// is 16-byte aligned but only 12 bytes wide.
func Vec3Bytes(v mgl32.Vec3) []byte {
	return Float32sBytes(v[:]...)
}

// Vec4Bytes encodes a vec4 as 16 bytes.
func Vec4Bytes(v mgl32.Vec4) []byte {
	return Float32sBytes(v[:]...)
}

// ValueBytes encodes a fixed-size value (a struct of fixed-size fields, an array, a slice of
// fixed-size elements, or a pointer to one of those) as little-endian bytes in field order
// without padding.
//
// Parameters:
//   - v: the value to encode
//
// Returns:
//   - []byte: the encoded bytes
//   - error: an error if v is not fixed-size
func ValueBytes(v any) ([]byte, error) {
	if binary.Size(v) < 0 {
		return nil, fmt.Errorf("value of type %T has no fixed size", v)
	}
	return binary.Append(nil, binary.LittleEndian, v)
}
