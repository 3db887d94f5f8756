package device

// MemoryDeviceBuilderOption is a functional option for configuring a MemoryDevice.
type MemoryDeviceBuilderOption func(*MemoryDevice)

// WithMaxBuffers limits how many buffers the device will create before CreateBuffer fails.
// A negative limit, the default, means unlimited.
//
// Parameters:
//   - n: the maximum number of buffers
//
// Returns:
//   - MemoryDeviceBuilderOption: the option
func WithMaxBuffers(n int) MemoryDeviceBuilderOption {
	return func(d *MemoryDevice) {
		d.maxBuffers = n
	}
}
