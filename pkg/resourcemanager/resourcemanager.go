// Package resourcemanager owns the device context, compiles kernel
// programs into a named kernel table, and recycles image buffers keyed by
// dimension. It never performs device work itself; all of that
// is delegated to a Backend: no hidden global state, the context is an
// explicit value passed to the scheduler and tasks at setup, not a
// process-wide singleton.
package resourcemanager

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/metrics"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
	"github.com/rs/zerolog"
)

// Manager is the resource manager for a run. A Manager is
// created once per run (or once per daemon process) and passed explicitly
// into the scheduler and every task's Setup; there is no package-level
// singleton.
type Manager struct {
	backend Backend
	logger  zerolog.Logger

	kernelsMu sync.Mutex
	kernels   map[string]Kernel
	programs  []Program

	poolMu sync.Mutex
	pool   map[uint64][]*buffer.Buffer

	nextID atomic.Uint64
}

// New creates a resource manager bound to backend. backend is owned by the
// manager from this point on and is closed by Close.
func New(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		logger:  log.WithComponent("resourcemanager"),
		kernels: make(map[string]Kernel),
		pool:    make(map[uint64][]*buffer.Buffer),
	}
}

// DeviceCount returns the number of devices known to the backing context,
// the reply payload for the daemon's get_num_devices request.
func (m *Manager) DeviceCount() int { return m.backend.DeviceCount() }

// DeviceInfo returns per-device descriptors, a supplement to the bare
// count above.
func (m *Manager) DeviceInfo() []DeviceInfo { return m.backend.Devices() }

// GetCommandQueue returns the in-order device work queue for deviceIdx, an
// accessor for tasks that drive the device directly.
func (m *Manager) GetCommandQueue(deviceIdx int) any { return m.backend.Queue(deviceIdx) }

// GetContext exposes the backend itself as the device context accessor for
// tasks that need raw backend primitives, rather than reaching around the
// manager.
func (m *Manager) GetContext() Backend { return m.backend }

// Execute enqueues kernel on queue against ins and out, returning the
// completion event the caller must attach to out before releasing it to a
// downstream consumer.
func (m *Manager) Execute(queue any, kernel any, ins []buffer.DeviceMem, out buffer.DeviceMem) (buffer.Event, error) {
	ev, err := m.backend.Execute(queue, kernel, ins, out)
	if err != nil {
		return nil, ufoerr.Wrap(ufoerr.KindTaskProcessFailed, "execute kernel", err)
	}
	return ev, nil
}

// AddProgram reads path, compiles it against every registered device in
// one batch, and inserts every kernel it produced into the kernel table,
// keyed by entry-point name. Compile failures carry the backend's
// diagnostic build log.
func (m *Manager) AddProgram(path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return ufoerr.Wrap(ufoerr.KindLoadProgram, fmt.Sprintf("read program %s", path), err)
	}

	prog, kernels, build, err := m.backend.CompileProgram(source)
	if err != nil {
		cerr := ufoerr.Wrap(ufoerr.KindCompileProgram, fmt.Sprintf("compile program %s", path), err)
		if build != "" {
			cerr.WithDiagnostic(build)
		}
		return cerr
	}

	m.kernelsMu.Lock()
	defer m.kernelsMu.Unlock()
	m.programs = append(m.programs, prog)
	for name, k := range kernels {
		m.kernels[name] = k
	}

	metrics.KernelsCompiled.Add(float64(len(kernels)))
	m.logger.Info().Str("path", path).Int("kernels", len(kernels)).Msg("program compiled")
	return nil
}

// GetKernel is a pure lookup; it never compiles on demand.
func (m *Manager) GetKernel(name string) (Kernel, error) {
	m.kernelsMu.Lock()
	defer m.kernelsMu.Unlock()
	k, ok := m.kernels[name]
	if !ok {
		return nil, ufoerr.New(ufoerr.KindKernelNotFound, fmt.Sprintf("kernel %q not found", name))
	}
	return k, nil
}

// RequestBuffer pops a buffer from the free pool matching dims, or
// allocates a new one if the pool is empty. If uploadNow is
// true and hostSeed is non-nil, an asynchronous host→device transfer is
// scheduled before RequestBuffer returns.
func (m *Manager) RequestBuffer(dims types.Dims, hostSeed []float32, uploadNow bool) (*buffer.Buffer, error) {
	hash := dims.Hash()

	m.poolMu.Lock()
	var b *buffer.Buffer
	if stack := m.pool[hash]; len(stack) > 0 {
		for i := len(stack) - 1; i >= 0; i-- {
			candidate := stack[i]
			if candidate.Dims().Equal(dims) {
				b = candidate
				m.pool[hash] = append(stack[:i], stack[i+1:]...)
				break
			}
		}
	}
	size := m.poolSizeLocked()
	m.poolMu.Unlock()

	if b == nil {
		id := m.nextID.Add(1)
		b = buffer.New(id, dims, hostSeed)
		metrics.BuffersAllocated.Inc()
	} else {
		b.Reset(hostSeed)
	}

	b.BindBackend(bufferBackend{m.backend}, m.backend.Queue(0))

	if uploadNow && hostSeed != nil {
		if _, err := b.DeviceArray(m.backend.Queue(0)); err != nil {
			return nil, ufoerr.Wrap(ufoerr.KindAllocationFailed, "upload seeded buffer", err)
		}
	}

	metrics.PoolSize.Set(float64(size))
	return b, nil
}

// ReleaseBuffer returns b's logical ownership to the free pool. b remains
// allocated; the pool is LIFO per dimension hash so recently released
// buffers are reused first. A buffer that fanned out to several consumers
// only reaches the pool on its last release.
func (m *Manager) ReleaseBuffer(b *buffer.Buffer) {
	if b.IsFinish() {
		return
	}
	if !b.DropRef() {
		return
	}
	hash := b.Dims().Hash()

	m.poolMu.Lock()
	m.pool[hash] = append(m.pool[hash], b)
	size := m.poolSizeLocked()
	m.poolMu.Unlock()

	metrics.BuffersReleased.Inc()
	metrics.PoolSize.Set(float64(size))
}

// RequestFinishBuffer returns the unique finish sentinel.
func (m *Manager) RequestFinishBuffer() *buffer.Buffer {
	return buffer.Finish()
}

// PoolSize reports how many idle buffers the free pool currently holds,
// across all dimension buckets.
func (m *Manager) PoolSize() int {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	return m.poolSizeLocked()
}

func (m *Manager) poolSizeLocked() int {
	total := 0
	for _, stack := range m.pool {
		total += len(stack)
	}
	return total
}

// Close releases every pooled buffer's device memory, every kernel, then
// every program, then the backend itself, in that order: buffers and
// kernels are released before programs, programs before the context.
func (m *Manager) Close() error {
	m.poolMu.Lock()
	for _, stack := range m.pool {
		for _, b := range stack {
			if dev, ok := b.DeviceMemUnsafe(); ok {
				m.backend.FreeDevice(dev)
			}
		}
	}
	m.pool = make(map[uint64][]*buffer.Buffer)
	m.poolMu.Unlock()

	m.kernelsMu.Lock()
	m.kernels = make(map[string]Kernel)
	for _, p := range m.programs {
		m.backend.ReleaseProgram(p)
	}
	m.programs = nil
	m.kernelsMu.Unlock()

	return m.backend.Close()
}

// bufferBackend adapts a resourcemanager.Backend to the narrower
// buffer.Device surface so *buffer.Buffer need not import this package.
type bufferBackend struct {
	b Backend
}

func (a bufferBackend) AllocDevice(dims types.Dims) (buffer.DeviceMem, error) {
	return a.b.AllocDevice(dims)
}
func (a bufferBackend) FreeDevice(mem buffer.DeviceMem) { a.b.FreeDevice(mem) }
func (a bufferBackend) EnqueueUpload(queue any, mem buffer.DeviceMem, host []float32) (buffer.Event, error) {
	return a.b.EnqueueUpload(queue, mem, host)
}
func (a bufferBackend) EnqueueDownload(queue any, mem buffer.DeviceMem, host []float32) (buffer.Event, error) {
	return a.b.EnqueueDownload(queue, mem, host)
}
