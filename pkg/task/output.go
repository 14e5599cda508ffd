package task

import (
	"sync"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// Output is the framework-supplied sink task spliced onto a graph's leaf
// when the daemon runs it for a remote client. Process enqueues each
// produced frame into an internal bounded channel that GetOutputBuffer
// drains from outside the scheduler.
type Output struct {
	base
	mu       sync.Mutex
	lastReq  types.Requisition
	reqKnown chan struct{}
	reqOnce  sync.Once
	out      chan *buffer.Buffer
}

// NewOutput creates an output task. capacity bounds how far Process can
// run ahead of GetOutputBuffer before it blocks.
func NewOutput(name string, capacity int) *Output {
	if capacity < 1 {
		capacity = 1
	}
	return &Output{
		base:     base{name: name, kind: types.TaskKindSink, numInputs: 1, numOutputs: 0},
		reqKnown: make(chan struct{}),
		out:      make(chan *buffer.Buffer, capacity),
	}
}

func (t *Output) Setup(resources Resources) error { return nil }

// GetRequisition records the upstream frame's shape (exposed to outside
// readers via GetOutputRequisition, e.g. the daemon's get_requisition
// handler) and passes it through unchanged; an Output never resizes.
func (t *Output) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	if len(inputs) > 0 {
		req.Dims = inputs[0].Dims()
		req.NumElements = inputs[0].Dims().NumElements()
	}
	t.mu.Lock()
	t.lastReq = *req
	t.mu.Unlock()
	t.reqOnce.Do(func() { close(t.reqKnown) })
	return nil
}

// GetOutputRequisition reports the shape of the next frame GetOutputBuffer
// will return. It blocks until the first upstream frame has reached this
// task (there is no shape to report before that), or until the stream ends
// frameless; a one-shot latch makes either unblock it exactly once.
func (t *Output) GetOutputRequisition() types.Requisition {
	<-t.reqKnown
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastReq
}

// Process forwards inputs[0] onto the internal channel. The scheduler
// intercepts a finish input before calling Process (see ObserveFinish), so
// in practice Process only ever sees ordinary frames; the finish branch
// here is a defensive fallback for callers driving Output directly.
func (t *Output) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (Status, error) {
	in := inputs[0]
	if in.IsFinish() {
		t.out <- in
		return StatusFinish, nil
	}
	t.out <- in
	return StatusContinue, nil
}

// ObserveFinish notifies GetOutputBuffer that the stream has ended. The
// scheduler calls this in place of Process when it detects finish on
// Output's input edge, since Output has no output edges of its own to
// propagate finish on.
func (t *Output) ObserveFinish() {
	t.reqOnce.Do(func() { close(t.reqKnown) })
	t.out <- buffer.Finish()
}

// GetOutputBuffer blocks until a frame is available and returns it. The
// scheduler does not release an Output node's input buffers itself (see
// scheduler.runExecutor); the caller of GetOutputBuffer owns the returned
// buffer and must release it back to the resource manager once it has
// copied the frame's bytes out (the daemon's get_result handler does this
// directly via resources.ReleaseBuffer).
func (t *Output) GetOutputBuffer() *buffer.Buffer {
	return <-t.out
}

// ReleaseOutputBuffer is a no-op hook kept for symmetry with
// GetOutputBuffer; callers release the buffer returned by GetOutputBuffer
// directly through the resource manager instead.
func (t *Output) ReleaseOutputBuffer(b *buffer.Buffer) {}
