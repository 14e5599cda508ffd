//go:build ocl

package oclbackend

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"regexp"
	"sync"
	"unsafe"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/resourcemanager"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/rs/zerolog"
)

// kernelDeclRe mirrors simbackend's scan, so a program's entry points are
// discovered the same way regardless of which backend compiles it.
var kernelDeclRe = regexp.MustCompile(`__kernel\s+void\s+(\w+)\s*\(`)

type device struct {
	id    C.cl_device_id
	info  resourcemanager.DeviceInfo
	queue C.cl_command_queue
}

type program struct {
	prog C.cl_program
}

type kernel struct {
	k C.cl_kernel
}

// devMem is a real OpenCL device buffer.
type devMem struct {
	dims types.Dims
	mem  C.cl_mem
}

func (m *devMem) Dims() types.Dims { return m.dims }

// event wraps a cl_event; the first Wait blocks on clWaitForEvents and
// releases it, later Waits return immediately, matching the one-shot
// completion signal semantics upstream code expects from buffer.Event.
type event struct {
	ev   C.cl_event
	once sync.Once
}

func (e *event) Wait() {
	e.once.Do(func() {
		C.clWaitForEvents(1, &e.ev)
		C.clReleaseEvent(e.ev)
	})
}

// Backend drives one OpenCL platform's GPU devices.
type Backend struct {
	context C.cl_context
	devices []*device
	logger  zerolog.Logger
}

// New enumerates every GPU device on the first OpenCL platform found and
// opens one command queue per device. It returns an error rather than
// panicking so a daemon can fall back to simbackend when no GPU is
// present.
func New() (*Backend, error) {
	logger := log.WithComponent("oclbackend")

	var numPlatforms C.cl_uint
	if C.clGetPlatformIDs(0, nil, &numPlatforms) != C.CL_SUCCESS || numPlatforms == 0 {
		return nil, fmt.Errorf("oclbackend: no OpenCL platforms found")
	}
	platforms := make([]C.cl_platform_id, numPlatforms)
	C.clGetPlatformIDs(numPlatforms, &platforms[0], nil)
	platform := platforms[0]

	var numDevices C.cl_uint
	if C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, 0, nil, &numDevices) != C.CL_SUCCESS || numDevices == 0 {
		return nil, fmt.Errorf("oclbackend: no GPU devices on platform")
	}
	deviceIDs := make([]C.cl_device_id, numDevices)
	C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, numDevices, &deviceIDs[0], nil)

	var ret C.cl_int
	ctx := C.clCreateContext(nil, numDevices, &deviceIDs[0], nil, nil, &ret)
	if ret != C.CL_SUCCESS {
		return nil, fmt.Errorf("oclbackend: clCreateContext failed: %d", ret)
	}

	devices := make([]*device, numDevices)
	for i, id := range deviceIDs {
		q := C.clCreateCommandQueue(ctx, id, 0, &ret)
		if ret != C.CL_SUCCESS {
			return nil, fmt.Errorf("oclbackend: clCreateCommandQueue for device %d failed: %d", i, ret)
		}
		devices[i] = &device{
			id:    id,
			queue: q,
			info: resourcemanager.DeviceInfo{
				Name:         deviceStringInfo(id, C.CL_DEVICE_NAME),
				Vendor:       deviceStringInfo(id, C.CL_DEVICE_VENDOR),
				ComputeUnits: deviceUintInfo(id, C.CL_DEVICE_MAX_COMPUTE_UNITS),
			},
		}
	}

	logger.Info().Int("devices", len(devices)).Msg("opencl backend initialized")
	return &Backend{context: ctx, devices: devices, logger: logger}, nil
}

func deviceStringInfo(id C.cl_device_id, param C.cl_device_info) string {
	var size C.size_t
	if C.clGetDeviceInfo(id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return "unknown"
	}
	buf := make([]byte, size)
	C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	return string(buf[:size-1])
}

func deviceUintInfo(id C.cl_device_id, param C.cl_device_info) int {
	var v C.cl_uint
	C.clGetDeviceInfo(id, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return int(v)
}

func (b *Backend) DeviceCount() int { return len(b.devices) }

func (b *Backend) Devices() []resourcemanager.DeviceInfo {
	infos := make([]resourcemanager.DeviceInfo, len(b.devices))
	for i, d := range b.devices {
		infos[i] = d.info
	}
	return infos
}

func (b *Backend) Queue(deviceIdx int) any { return b.devices[deviceIdx].queue }

// CompileProgram builds source against every device at once, the same
// entry-point-discovery convention simbackend uses, and returns one
// concatenated build log per device so a compile failure on any device is
// visible to the caller.
func (b *Backend) CompileProgram(source []byte) (resourcemanager.Program, map[string]resourcemanager.Kernel, string, error) {
	names := uniqueKernelNames(source)
	if len(names) == 0 {
		return nil, nil, "", fmt.Errorf("oclbackend: no __kernel declarations found in source")
	}

	src := C.CString(string(source))
	defer C.free(unsafe.Pointer(src))
	length := C.size_t(len(source))

	var ret C.cl_int
	prog := C.clCreateProgramWithSource(b.context, 1, &src, &length, &ret)
	if ret != C.CL_SUCCESS {
		return nil, nil, "", fmt.Errorf("oclbackend: clCreateProgramWithSource failed: %d", ret)
	}

	deviceIDs := make([]C.cl_device_id, len(b.devices))
	for i, d := range b.devices {
		deviceIDs[i] = d.id
	}

	buildLog := ""
	buildRet := C.clBuildProgram(prog, C.cl_uint(len(deviceIDs)), &deviceIDs[0], nil, nil, nil)
	for _, d := range b.devices {
		buildLog += fmt.Sprintf("device %s: %s\n", d.info.Name, deviceBuildLog(prog, d.id))
	}
	if buildRet != C.CL_SUCCESS {
		C.clReleaseProgram(prog)
		return nil, nil, buildLog, fmt.Errorf("oclbackend: clBuildProgram failed: %d", buildRet)
	}

	kernels := make(map[string]resourcemanager.Kernel, len(names))
	for _, name := range names {
		cname := C.CString(name)
		k := C.clCreateKernel(prog, cname, &ret)
		C.free(unsafe.Pointer(cname))
		if ret != C.CL_SUCCESS {
			buildLog += fmt.Sprintf("clCreateKernel(%s) failed: %d\n", name, ret)
			continue
		}
		kernels[name] = &kernel{k: k}
	}
	if len(kernels) == 0 {
		C.clReleaseProgram(prog)
		return nil, nil, buildLog, fmt.Errorf("oclbackend: program built but no kernel entry points resolved")
	}

	return &program{prog: prog}, kernels, buildLog, nil
}

func uniqueKernelNames(source []byte) []string {
	matches := kernelDeclRe.FindAllSubmatch(source, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func deviceBuildLog(prog C.cl_program, id C.cl_device_id) string {
	var size C.size_t
	C.clGetProgramBuildInfo(prog, id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if size == 0 {
		return ""
	}
	buf := make([]byte, size)
	C.clGetProgramBuildInfo(prog, id, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	return string(buf[:size-1])
}

func (b *Backend) ReleaseProgram(prog resourcemanager.Program) {
	p, ok := prog.(*program)
	if !ok {
		return
	}
	C.clReleaseProgram(p.prog)
}

func (b *Backend) AllocDevice(dims types.Dims) (buffer.DeviceMem, error) {
	var ret C.cl_int
	size := C.size_t(dims.NumElements() * 4)
	mem := C.clCreateBuffer(b.context, C.CL_MEM_READ_WRITE, size, nil, &ret)
	if ret != C.CL_SUCCESS {
		return nil, fmt.Errorf("oclbackend: clCreateBuffer failed: %d", ret)
	}
	return &devMem{dims: dims, mem: mem}, nil
}

func (b *Backend) FreeDevice(mem buffer.DeviceMem) {
	dm, ok := mem.(*devMem)
	if !ok {
		return
	}
	C.clReleaseMemObject(dm.mem)
}

func (b *Backend) EnqueueUpload(q any, mem buffer.DeviceMem, host []float32) (buffer.Event, error) {
	queue, dm, err := resolve(q, mem)
	if err != nil {
		return nil, err
	}
	var ev C.cl_event
	size := C.size_t(len(host) * 4)
	ret := C.clEnqueueWriteBuffer(queue, dm.mem, C.CL_FALSE, 0, size, unsafe.Pointer(&host[0]), 0, nil, &ev)
	if ret != C.CL_SUCCESS {
		return nil, fmt.Errorf("oclbackend: clEnqueueWriteBuffer failed: %d", ret)
	}
	return &event{ev: ev}, nil
}

func (b *Backend) EnqueueDownload(q any, mem buffer.DeviceMem, host []float32) (buffer.Event, error) {
	queue, dm, err := resolve(q, mem)
	if err != nil {
		return nil, err
	}
	var ev C.cl_event
	size := C.size_t(len(host) * 4)
	ret := C.clEnqueueReadBuffer(queue, dm.mem, C.CL_FALSE, 0, size, unsafe.Pointer(&host[0]), 0, nil, &ev)
	if ret != C.CL_SUCCESS {
		return nil, fmt.Errorf("oclbackend: clEnqueueReadBuffer failed: %d", ret)
	}
	return &event{ev: ev}, nil
}

// Execute sets ins then out as sequential kernel arguments and enqueues a
// 1-D range covering out's element count.
func (b *Backend) Execute(q any, k resourcemanager.Kernel, ins []buffer.DeviceMem, out buffer.DeviceMem) (buffer.Event, error) {
	queue, ok := q.(C.cl_command_queue)
	if !ok {
		return nil, fmt.Errorf("oclbackend: invalid queue handle")
	}
	kr, ok := k.(*kernel)
	if !ok {
		return nil, fmt.Errorf("oclbackend: invalid kernel handle")
	}
	outMem, ok := out.(*devMem)
	if !ok {
		return nil, fmt.Errorf("oclbackend: invalid output memory handle")
	}

	argIdx := C.cl_uint(0)
	for _, in := range ins {
		inMem, ok := in.(*devMem)
		if !ok {
			return nil, fmt.Errorf("oclbackend: invalid input memory handle")
		}
		ret := C.clSetKernelArg(kr.k, argIdx, C.size_t(unsafe.Sizeof(inMem.mem)), unsafe.Pointer(&inMem.mem))
		if ret != C.CL_SUCCESS {
			return nil, fmt.Errorf("oclbackend: clSetKernelArg(%d) failed: %d", argIdx, ret)
		}
		argIdx++
	}
	if ret := C.clSetKernelArg(kr.k, argIdx, C.size_t(unsafe.Sizeof(outMem.mem)), unsafe.Pointer(&outMem.mem)); ret != C.CL_SUCCESS {
		return nil, fmt.Errorf("oclbackend: clSetKernelArg(%d) failed: %d", argIdx, ret)
	}

	globalSize := C.size_t(outMem.dims.NumElements())
	var ev C.cl_event
	ret := C.clEnqueueNDRangeKernel(queue, kr.k, 1, nil, &globalSize, nil, 0, nil, &ev)
	if ret != C.CL_SUCCESS {
		return nil, fmt.Errorf("oclbackend: clEnqueueNDRangeKernel failed: %d", ret)
	}
	return &event{ev: ev}, nil
}

func (b *Backend) Close() error {
	for _, d := range b.devices {
		C.clReleaseCommandQueue(d.queue)
	}
	C.clReleaseContext(b.context)
	return nil
}

func resolve(q any, mem buffer.DeviceMem) (C.cl_command_queue, *devMem, error) {
	queue, ok := q.(C.cl_command_queue)
	if !ok {
		return nil, nil, fmt.Errorf("oclbackend: invalid queue handle")
	}
	dm, ok := mem.(*devMem)
	if !ok {
		return nil, nil, fmt.Errorf("oclbackend: invalid device memory handle")
	}
	return queue, dm, nil
}
