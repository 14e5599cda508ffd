package task

import (
	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// Input is the framework-supplied source task spliced onto a graph's root
// when the daemon runs it for a remote client. Frames
// arrive from outside the scheduler via ReleaseInputBuffer and are handed
// to the graph one at a time by Process.
type Input struct {
	base
	dims      types.Dims
	in        chan *buffer.Buffer
	resources Resources
}

// NewInput creates an input task expecting frames of dims. capacity bounds
// how many frames ReleaseInputBuffer can get ahead of Process before it
// blocks, mirroring the bounded-edge backpressure used everywhere else in
// the graph.
func NewInput(name string, dims types.Dims, capacity int) *Input {
	if capacity < 1 {
		capacity = 1
	}
	return &Input{
		base: base{name: name, kind: types.TaskKindSource, numInputs: 0, numOutputs: 1},
		dims: dims,
		in:   make(chan *buffer.Buffer, capacity),
	}
}

// Dims reports the frame shape this input task was constructed to expect,
// used by the daemon's get_structure handler.
func (t *Input) Dims() types.Dims { return t.dims }

// ReleaseInputBuffer hands b to the task from outside the scheduler (the
// daemon's send_inputs handler). It blocks if the internal channel is
// full. Passing buffer.Finish() ends the stream.
func (t *Input) ReleaseInputBuffer(b *buffer.Buffer) {
	t.in <- b
}

func (t *Input) Setup(resources Resources) error {
	t.resources = resources
	return nil
}

func (t *Input) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	req.Dims = t.dims
	req.NumElements = t.dims.NumElements()
	return nil
}

// Process blocks until a buffer arrives via ReleaseInputBuffer, copies its
// contents into the scheduler-provided output frame, and returns the
// donated buffer to the resource manager. A finish sentinel on the channel
// ends the stream.
func (t *Input) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (Status, error) {
	b := <-t.in
	if b.IsFinish() {
		return StatusFinish, nil
	}
	output.TransferID(b)
	host, err := b.HostArray()
	if err != nil {
		return StatusContinue, err
	}
	outHost, err := output.HostArray()
	if err != nil {
		return StatusContinue, err
	}
	copy(outHost, host)
	output.MarkHostWritten()
	t.resources.ReleaseBuffer(b)
	return StatusContinue, nil
}
