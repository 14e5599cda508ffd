// Package buffer implements the dual-resident image tile: a fixed-dimension
// float32 tile that migrates
// between a host-resident copy and a device-resident copy, tracking which
// copy is authoritative and what device event a reader must wait on before
// touching device-resident data.
package buffer

import (
	"fmt"
	"sync"

	"github.com/cuemby/ufo-core/pkg/types"
)

// Event is a device-side completion token. Backends hand one to a Buffer
// whenever they enqueue asynchronous work that produces it; Wait blocks
// until that work has retired.
type Event interface {
	Wait()
}

// Device is the minimal surface a Buffer needs from a resource manager
// backend to migrate data between host and device. It is satisfied by
// resourcemanager.Backend; declared here (rather than imported) to keep
// this package free of a dependency on resourcemanager.
type Device interface {
	AllocDevice(dims types.Dims) (DeviceMem, error)
	FreeDevice(mem DeviceMem)
	EnqueueUpload(queue any, mem DeviceMem, host []float32) (Event, error)
	EnqueueDownload(queue any, mem DeviceMem, host []float32) (Event, error)
}

// DeviceMem is an opaque device-resident allocation.
type DeviceMem interface {
	Dims() types.Dims
}

// Buffer is an image tile with an explicit residency tag. Buffers are
// never copied by value; all code passes *Buffer.
type Buffer struct {
	mu sync.Mutex

	id       uint64
	dims     types.Dims
	host     []float32
	device   DeviceMem
	location types.Location
	event    Event
	isFinish bool
	refs     int

	backend Device
	queue   any
}

// finishSentinel is the single globally unique finish marker. Because Go
// identity comparison is pointer identity, it compares equal only to
// itself no matter how many edges it is pushed onto.
var finishSentinel = &Buffer{isFinish: true}

// Finish returns the process-wide finish sentinel.
func Finish() *Buffer { return finishSentinel }

// New creates a buffer of the given dimensions. seed, if non-nil, is
// copied in as the initial host contents and the buffer starts
// host-authoritative; otherwise the host array is zero-valued and the
// buffer starts device-authoritative, so an unseeded allocation destined
// for a kernel output doesn't get treated as already holding valid host
// data. backend/queue are nil until the buffer is bound to a device (see
// resourcemanager.Manager.RequestBuffer).
func New(id uint64, dims types.Dims, seed []float32) *Buffer {
	host := make([]float32, dims.NumElements())
	location := types.LocationDevice
	if seed != nil {
		copy(host, seed)
		location = types.LocationHost
	}
	return &Buffer{
		id:       id,
		dims:     dims,
		host:     host,
		location: location,
	}
}

// BindBackend attaches the backend/queue a buffer uses to service
// HostArray/DeviceArray migrations. Called by the resource manager when it
// hands out a buffer.
func (b *Buffer) BindBackend(backend Device, queue any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backend = backend
	b.queue = queue
}

// DeviceMemUnsafe returns b's device-resident allocation, if any, without
// synchronising. It exists solely so a resource manager can free device
// memory for pooled buffers at teardown, when no other goroutine can be
// touching them.
func (b *Buffer) DeviceMemUnsafe() (DeviceMem, bool) {
	return b.device, b.device != nil
}

func (b *Buffer) ID() uint64       { return b.id }
func (b *Buffer) Dims() types.Dims { return b.dims }
func (b *Buffer) SizeBytes() int   { return b.dims.SizeBytes() }
func (b *Buffer) Location() types.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.location
}

// IsFinish reports whether b is the finish sentinel.
func (b *Buffer) IsFinish() bool { return b.isFinish }

// CmpDimensions reports whether b and other describe the same tile shape.
func (b *Buffer) CmpDimensions(other *Buffer) bool {
	return b.dims.Equal(other.dims)
}

// AttachEvent records the completion token a reader must wait on before
// touching b's device-resident data. Any kernel that produced b on the
// device calls this immediately after enqueuing; the device copy is the
// authoritative one from that point until the next migration.
func (b *Buffer) AttachEvent(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.event = e
	b.location = types.LocationDevice
}

// MarkHostWritten records that the caller has modified the host copy,
// invalidating any device-resident one. Tasks that fill a frame on the CPU
// call this after writing, the host-side counterpart of AttachEvent.
func (b *Buffer) MarkHostWritten() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.location = types.LocationHost
}

// Retain adds n to b's reference count. A producer whose frame fans out to
// more than one consumer retains the buffer once per extra consumer, so
// the pool only gets it back after the last release.
func (b *Buffer) Retain(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs += n
}

// DropRef consumes one reference and reports whether this was the last
// one, i.e. whether the buffer may return to the free pool.
func (b *Buffer) DropRef() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs > 0 {
		b.refs--
		return false
	}
	return true
}

// Reset prepares a pooled buffer for reuse: any stale event from its
// previous life is waited out and cleared, and seed (if non-nil) becomes
// the new host-authoritative contents. Called by the resource manager
// before handing a pooled buffer back out.
func (b *Buffer) Reset(seed []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.event != nil {
		b.event.Wait()
		b.event = nil
	}
	if seed != nil {
		copy(b.host, seed)
		b.location = types.LocationHost
	} else {
		b.location = types.LocationDevice
	}
}

// Wait blocks until b's outstanding device event, if any, has retired.
func (b *Buffer) Wait() {
	b.mu.Lock()
	e := b.event
	b.mu.Unlock()
	if e != nil {
		e.Wait()
	}
}

// HostArray returns the host-resident data, migrating it from the device
// first if the device copy is currently the only authoritative one; a
// host read waits on the buffer's event before copying.
func (b *Buffer) HostArray() ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.location == types.LocationDevice {
		if b.event != nil {
			b.event.Wait()
		}
		if b.device == nil {
			// Nothing was ever written to the device; the zero-valued
			// host array is all the data there is.
			b.location = types.LocationHost
			return b.host, nil
		}
		if b.backend == nil {
			return nil, fmt.Errorf("buffer %d: device-resident with no backend bound", b.id)
		}
		if _, err := b.downloadLocked(); err != nil {
			return nil, err
		}
		b.location = types.LocationBoth
	}
	return b.host, nil
}

// DeviceArray returns the device-resident allocation, enqueuing a
// host→device upload on queue first if the host copy is currently the
// only authoritative one.
func (b *Buffer) DeviceArray(queue any) (DeviceMem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device == nil {
		if b.backend == nil {
			return nil, fmt.Errorf("buffer %d: no backend bound, cannot allocate device memory", b.id)
		}
		mem, err := b.backend.AllocDevice(b.dims)
		if err != nil {
			return nil, fmt.Errorf("buffer %d: allocate device memory: %w", b.id, err)
		}
		b.device = mem
	}

	if b.location == types.LocationHost {
		ev, err := b.backend.EnqueueUpload(queue, b.device, b.host)
		if err != nil {
			return nil, fmt.Errorf("buffer %d: upload to device: %w", b.id, err)
		}
		b.event = ev
		b.location = types.LocationBoth
	}
	return b.device, nil
}

func (b *Buffer) downloadLocked() (Event, error) {
	ev, err := b.backend.EnqueueDownload(b.queue, b.device, b.host)
	if err != nil {
		return nil, fmt.Errorf("buffer %d: download from device: %w", b.id, err)
	}
	ev.Wait()
	return ev, nil
}

// TransferID copies src's id into b, propagating frame identity across a
// single-input transform: the id carries from a source frame to every
// frame derived from it.
func (b *Buffer) TransferID(src *Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = src.id
}

// Resize reallocates b's host array to new dims if they exceed current
// capacity. Resize must not be called while b is in flight on an edge or
// inside a task's active frame.
func (b *Buffer) Resize(newDims types.Dims) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if newDims.Equal(b.dims) {
		return
	}
	if newDims.NumElements() > len(b.host) {
		b.host = make([]float32, newDims.NumElements())
	} else {
		b.host = b.host[:newDims.NumElements()]
	}
	b.dims = newDims
	b.device = nil
	b.location = types.LocationHost
}
