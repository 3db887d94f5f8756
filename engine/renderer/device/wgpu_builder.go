package device

// WGPUDeviceBuilderOption is a functional option for configuring a WGPUDevice.
type WGPUDeviceBuilderOption func(*WGPUDevice)

// WithForceFallbackAdapter requests the software fallback adapter.
//
// Parameters:
//   - force: whether to force the fallback adapter
//
// Returns:
//   - WGPUDeviceBuilderOption: the option
func WithForceFallbackAdapter(force bool) WGPUDeviceBuilderOption {
	return func(d *WGPUDevice) {
		d.forceFallbackAdapter = force
	}
}

// WithDeviceLabel sets the debug label of the WebGPU device.
//
// Parameters:
//   - label: the debug label
//
// Returns:
//   - WGPUDeviceBuilderOption: the option
func WithDeviceLabel(label string) WGPUDeviceBuilderOption {
	return func(d *WGPUDevice) {
		d.label = label
	}
}
