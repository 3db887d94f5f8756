package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
)

// RendererBackendType identifies the device implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU device.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeMemory selects the headless in-memory device. Nothing is drawn; uploads, binds
	// and draws are recorded.
	BackendTypeMemory
)

// String returns the backend's configuration name.
func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeMemory:
		return "memory"
	default:
		return fmt.Sprintf("backend(%d)", int(t))
	}
}

// ParseBackendType resolves a configuration name to a backend type.
//
// Parameters:
//   - name: "wgpu" or "memory"
//
// Returns:
//   - RendererBackendType: the backend type
//   - error: an error for an unknown name
func ParseBackendType(name string) (RendererBackendType, error) {
	switch name {
	case "wgpu", "":
		return BackendTypeWGPU, nil
	case "memory":
		return BackendTypeMemory, nil
	default:
		return 0, fmt.Errorf("unknown renderer backend %q", name)
	}
}

// newDevice creates the device for a backend type.
func newDevice(backendType RendererBackendType, forceFallbackAdapter bool) (device.Device, error) {
	switch backendType {
	case BackendTypeMemory:
		return device.NewMemoryDevice(), nil
	case BackendTypeWGPU:
		return device.NewWGPUDevice(device.WithForceFallbackAdapter(forceFallbackAdapter))
	default:
		return nil, fmt.Errorf("unknown renderer backend %d", int(backendType))
	}
}
