package resourcemanager

import (
	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// DeviceInfo describes one compute device enumerated by a Backend, beyond
// the bare device count get_num_devices reports.
type DeviceInfo struct {
	Name         string
	Vendor       string
	ComputeUnits int
}

// Program is an opaque handle to a compiled collection of kernels, kept
// only so the resource manager can release it at teardown. It is a type
// alias (not a defined type) so it satisfies narrower "any"-typed
// interfaces (e.g. task.Resources) without an explicit conversion.
type Program = any

// Kernel is an opaque, backend-specific handle to one compiled kernel. See
// Program for why this is an alias.
type Kernel = any

// Backend is the device-driving surface a resource manager needs. The
// default build uses simbackend; building with `-tags ocl` swaps in
// oclbackend, which drives real OpenCL devices through cgo.
type Backend interface {
	DeviceCount() int
	Devices() []DeviceInfo
	Queue(deviceIdx int) any

	// CompileProgram compiles source against every registered device in
	// one batch and returns every kernel it produced, keyed by entry-point
	// name. build is the per-device diagnostic log,
	// populated even on success.
	CompileProgram(source []byte) (prog Program, kernels map[string]Kernel, build string, err error)
	ReleaseProgram(prog Program)

	AllocDevice(dims types.Dims) (buffer.DeviceMem, error)
	FreeDevice(mem buffer.DeviceMem)
	EnqueueUpload(queue any, mem buffer.DeviceMem, host []float32) (buffer.Event, error)
	EnqueueDownload(queue any, mem buffer.DeviceMem, host []float32) (buffer.Event, error)

	// Execute enqueues kernel against a command queue, reading from ins and
	// writing to out, and returns the completion event a task must attach
	// to its output buffer.
	Execute(queue any, kernel Kernel, ins []buffer.DeviceMem, out buffer.DeviceMem) (buffer.Event, error)

	Close() error
}
