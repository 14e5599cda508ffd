// Package task defines the per-node contract every pipeline stage
// implements and ships the framework-supplied input, output,
// dummy, add_one, and reconstruct tasks used to build and test graphs.
package task

import (
	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// Status is the outcome of one Process call.
type Status int

const (
	// StatusContinue means the task produced a frame and expects more input.
	StatusContinue Status = iota
	// StatusFinish means the task's stream is exhausted; the scheduler
	// propagates the finish sentinel downstream and stops calling this task.
	StatusFinish
)

// Resources is the narrow resource-manager surface a task needs during
// Setup and Process: kernel lookup/compile and buffer allocation. It is
// satisfied by *resourcemanager.Manager; declared here (rather than
// imported) so this package never depends on resourcemanager, keeping the
// dependency direction resourcemanager → buffer, task → buffer, task →
// (nothing) acyclic.
type Resources interface {
	GetKernel(name string) (any, error)
	AddProgram(path string) error
	RequestBuffer(dims types.Dims, hostSeed []float32, uploadNow bool) (*buffer.Buffer, error)
	ReleaseBuffer(b *buffer.Buffer)
	GetCommandQueue(deviceIdx int) any
	Execute(queue any, kernel any, ins []buffer.DeviceMem, out buffer.DeviceMem) (buffer.Event, error)
}

// Task is the contract every graph node implements.
type Task interface {
	// Setup is called once, before the first frame, in topological order.
	Setup(resources Resources) error

	// GetRequisition computes the output shape given the current input
	// frames' shapes.
	GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error

	// Process consumes one frame per input port and fills output.
	Process(inputs []*buffer.Buffer, output *buffer.Buffer) (Status, error)
}

// Node additionally describes itself for logging and the daemon's
// get_structure reply, without which the scheduler couldn't report node
// names or port counts.
type Node interface {
	Task
	Name() string
	Kind() types.TaskKind
	NumInputs() int
	NumOutputs() int
}

// FinishObserver is implemented by tasks that need to learn about an
// upstream finish even though they have no output edges to forward it on.
// The scheduler detects finish on a node's input ports before calling
// Process at all (so ordinary tasks never see a finish buffer in inputs);
// a sink that drains through an external channel rather than a graph edge
// implements this to learn the stream ended.
type FinishObserver interface {
	ObserveFinish()
}
