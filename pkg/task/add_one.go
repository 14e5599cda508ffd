package task

import (
	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// AddOne is the kernel-invocation transform task used by the "add pixel
// value" scenario: it loads a program exporting an
// add_one kernel and runs it on every frame, producing output with every
// element incremented by one.
type AddOne struct {
	base
	programPath string
	kernelName  string
	deviceIdx   int

	kernel    any
	resources Resources
}

// NewAddOne creates an add_one transform task. programPath is passed to
// Resources.AddProgram during Setup; the kernel is looked up afterward
// under the fixed name "add_one".
func NewAddOne(name, programPath string) *AddOne {
	return &AddOne{
		base:        base{name: name, kind: types.TaskKindTransform, numInputs: 1, numOutputs: 1},
		programPath: programPath,
		kernelName:  "add_one",
	}
}

func (t *AddOne) Setup(resources Resources) error {
	if err := resources.AddProgram(t.programPath); err != nil {
		return err
	}
	kernel, err := resources.GetKernel(t.kernelName)
	if err != nil {
		return err
	}
	t.kernel = kernel
	t.resources = resources
	return nil
}

func (t *AddOne) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	req.Dims = inputs[0].Dims()
	req.NumElements = inputs[0].Dims().NumElements()
	return nil
}

// Process uploads the input to device memory, runs the kernel on the
// task's command queue and attaches the completion event to the output.
// There is no host-side fallback: an error from DeviceArray or Execute is
// returned as is.
func (t *AddOne) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (Status, error) {
	in := inputs[0]
	output.TransferID(in)

	queue := t.resources.GetCommandQueue(t.deviceIdx)
	inMem, err := in.DeviceArray(queue)
	if err != nil {
		return StatusContinue, err
	}
	outMem, err := output.DeviceArray(queue)
	if err != nil {
		return StatusContinue, err
	}

	ev, err := t.resources.Execute(queue, t.kernel, []buffer.DeviceMem{inMem}, outMem)
	if err != nil {
		return StatusContinue, err
	}
	output.AttachEvent(ev)
	return StatusContinue, nil
}
