package task

import (
	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// Dummy is an identity passthrough used as a graph-serialisation
// placeholder. The daemon removes a dummy standing at a streamed graph's
// root or leaf and splices a real Input/Output task into its place.
type Dummy struct {
	base
	configuredDims types.Dims
}

// NewDummy creates a single-input, single-output identity task.
func NewDummy(name string) *Dummy {
	return &Dummy{base: base{name: name, kind: types.TaskKindTransform, numInputs: 1, numOutputs: 1}}
}

// NewDummyWithDims creates a dummy carrying a fixed shape, used as a root
// placeholder: the daemon reads ConfiguredDims back off it when splicing
// in the real Input task, since a root has no in-edge to infer shape from.
func NewDummyWithDims(name string, dims types.Dims) *Dummy {
	d := NewDummy(name)
	d.configuredDims = dims
	return d
}

// ConfiguredDims returns the shape this dummy was constructed with, used
// only when it stands in for a root.
func (t *Dummy) ConfiguredDims() types.Dims { return t.configuredDims }

func (t *Dummy) Setup(resources Resources) error { return nil }

// GetRequisition passes the input's shape through when used inline in a
// graph; a root dummy has no inputs, so it reports its configured shape
// instead.
func (t *Dummy) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	if len(inputs) == 0 {
		req.Dims = t.configuredDims
		req.NumElements = t.configuredDims.NumElements()
		return nil
	}
	req.Dims = inputs[0].Dims()
	req.NumElements = inputs[0].Dims().NumElements()
	return nil
}

func (t *Dummy) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (Status, error) {
	in := inputs[0]
	output.TransferID(in)
	src, err := in.HostArray()
	if err != nil {
		return StatusContinue, err
	}
	dst, err := output.HostArray()
	if err != nil {
		return StatusContinue, err
	}
	copy(dst, src)
	output.MarkHostWritten()
	return StatusContinue, nil
}
