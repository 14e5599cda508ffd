package simbackend

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/resourcemanager"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// kernelDeclRe recognises an OpenCL-style kernel declaration, the same
// shape real .cl sources the daemon loads via add_program would use.
var kernelDeclRe = regexp.MustCompile(`__kernel\s+void\s+(\w+)\s*\(`)

// kernelFunc is the host-side stand-in for a compiled device kernel: one
// output array, N input arrays, same element count.
type kernelFunc func(ins [][]float32, out []float32)

// builtinKernels is the fixed set of entry points simbackend knows how to
// emulate. A program source naming any other kernel fails to compile.
var builtinKernels = map[string]kernelFunc{
	"add_one": func(ins [][]float32, out []float32) {
		in := ins[0]
		for i := range out {
			out[i] = in[i] + 1
		}
	},
	"identity": func(ins [][]float32, out []float32) {
		copy(out, ins[0])
	},
}

type kernel struct {
	name string
	fn   kernelFunc
}

type program struct {
	source []byte
}

// simMem is a host-resident stand-in for a device allocation.
type simMem struct {
	dims types.Dims
	data []float32
}

func (m *simMem) Dims() types.Dims { return m.dims }

// event completes when its queue has run the job that produced it.
type event struct {
	done chan struct{}
}

func (e *event) Wait() { <-e.done }

// queue is one device's in-order work queue: a single goroutine draining a
// buffered channel of jobs, so submission order is completion order, the
// same ordering guarantee a real command queue gives.
type queue struct {
	jobs chan func()
}

func newQueue() *queue {
	q := &queue{jobs: make(chan func(), 64)}
	go q.run()
	return q
}

func (q *queue) run() {
	for job := range q.jobs {
		job()
	}
}

// submit enqueues job and returns an event that completes once job has
// run. The monotonic clock is read as each job starts but the reading is
// not stored; ordering comes from the queue's single worker goroutine
// running jobs in submission order.
func (q *queue) submit(job func()) *event {
	ev := &event{done: make(chan struct{})}
	q.jobs <- func() {
		_ = nowNanos()
		job()
		close(ev.done)
	}
	return ev
}

func (q *queue) close() { close(q.jobs) }

func nowNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

// Backend is the default, device-free resourcemanager.Backend.
type Backend struct {
	devices []resourcemanager.DeviceInfo
	queues  []*queue
	logger  zerolog.Logger
}

// New creates a simulated backend with numDevices devices (floored at 1),
// each with its own in-order queue.
func New(numDevices int) *Backend {
	if numDevices < 1 {
		numDevices = 1
	}
	devices := make([]resourcemanager.DeviceInfo, numDevices)
	queues := make([]*queue, numDevices)
	for i := range devices {
		devices[i] = resourcemanager.DeviceInfo{
			Name:         fmt.Sprintf("sim-device-%d", i),
			Vendor:       "ufo-core",
			ComputeUnits: 4,
		}
		queues[i] = newQueue()
	}
	logger := log.WithComponent("simbackend")
	logger.Info().Int("devices", numDevices).Msg("simulated backend initialized")
	return &Backend{devices: devices, queues: queues, logger: logger}
}

func (b *Backend) DeviceCount() int                      { return len(b.devices) }
func (b *Backend) Devices() []resourcemanager.DeviceInfo { return b.devices }
func (b *Backend) Queue(deviceIdx int) any               { return b.queues[deviceIdx] }

// CompileProgram scans source for __kernel declarations and resolves each
// name against the built-in kernel table, returning a diagnostic log line
// per kernel whether or not it resolved.
func (b *Backend) CompileProgram(source []byte) (resourcemanager.Program, map[string]resourcemanager.Kernel, string, error) {
	matches := kernelDeclRe.FindAllSubmatch(source, -1)

	var buildLog bytes.Buffer
	kernels := make(map[string]resourcemanager.Kernel)
	var unresolved []string

	for _, m := range matches {
		name := string(m[1])
		fn, ok := builtinKernels[name]
		if !ok {
			unresolved = append(unresolved, name)
			fmt.Fprintf(&buildLog, "sim: no host emulation registered for kernel %q\n", name)
			continue
		}
		kernels[name] = &kernel{name: name, fn: fn}
		fmt.Fprintf(&buildLog, "sim: compiled kernel %q\n", name)
	}

	if len(kernels) == 0 {
		if len(matches) == 0 {
			fmt.Fprintf(&buildLog, "sim: no __kernel declarations found in source\n")
		}
		return nil, nil, buildLog.String(), fmt.Errorf("no kernels compiled, %d unresolved: %v", len(unresolved), unresolved)
	}
	return &program{source: source}, kernels, buildLog.String(), nil
}

func (b *Backend) ReleaseProgram(prog resourcemanager.Program) {}

func (b *Backend) AllocDevice(dims types.Dims) (buffer.DeviceMem, error) {
	return &simMem{dims: dims, data: make([]float32, dims.NumElements())}, nil
}

func (b *Backend) FreeDevice(mem buffer.DeviceMem) {}

func (b *Backend) EnqueueUpload(q any, mem buffer.DeviceMem, host []float32) (buffer.Event, error) {
	sq, sm, err := resolveQueueAndMem(q, mem)
	if err != nil {
		return nil, err
	}
	return sq.submit(func() { copy(sm.data, host) }), nil
}

func (b *Backend) EnqueueDownload(q any, mem buffer.DeviceMem, host []float32) (buffer.Event, error) {
	sq, sm, err := resolveQueueAndMem(q, mem)
	if err != nil {
		return nil, err
	}
	return sq.submit(func() { copy(host, sm.data) }), nil
}

// Execute runs kernel's host emulation against ins, writing into out, on
// the device queue q. It enqueues the work on the same in-order queue as
// every other operation on that device and returns an event that
// completes once the kernel has run.
func (b *Backend) Execute(q any, k resourcemanager.Kernel, ins []buffer.DeviceMem, out buffer.DeviceMem) (buffer.Event, error) {
	sq, ok := q.(*queue)
	if !ok {
		return nil, fmt.Errorf("simbackend: invalid queue handle")
	}
	kr, ok := k.(*kernel)
	if !ok {
		return nil, fmt.Errorf("simbackend: invalid kernel handle")
	}
	outMem, ok := out.(*simMem)
	if !ok {
		return nil, fmt.Errorf("simbackend: invalid output memory handle")
	}
	inData := make([][]float32, len(ins))
	for i, m := range ins {
		sm, ok := m.(*simMem)
		if !ok {
			return nil, fmt.Errorf("simbackend: invalid input memory handle")
		}
		inData[i] = sm.data
	}
	return sq.submit(func() { kr.fn(inData, outMem.data) }), nil
}

func (b *Backend) Close() error {
	for _, q := range b.queues {
		q.close()
	}
	return nil
}

func resolveQueueAndMem(q any, mem buffer.DeviceMem) (*queue, *simMem, error) {
	sq, ok := q.(*queue)
	if !ok {
		return nil, nil, fmt.Errorf("simbackend: invalid queue handle")
	}
	sm, ok := mem.(*simMem)
	if !ok {
		return nil, nil, fmt.Errorf("simbackend: invalid device memory handle")
	}
	return sq, sm, nil
}
