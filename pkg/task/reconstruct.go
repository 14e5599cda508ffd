package task

import (
	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/types"
)

// Reconstruct is a transform task modelled on a backprojection-style
// filter: it consumes a sinogram frame and produces a reconstructed slice
// whose dimensions come from its own configuration, not from the input
// shape. The numeric reconstruction itself is out of scope; Process
// performs a placeholder CPU accumulation so the requisition/port wiring
// has a nontrivial multi-frame transform to exercise besides AddOne.
type Reconstruct struct {
	base
	sliceSize types.Dims
}

// NewReconstruct creates a reconstruction task that always produces
// sliceSize frames regardless of the sinogram's own dimensions.
func NewReconstruct(name string, sliceSize types.Dims) *Reconstruct {
	return &Reconstruct{
		base:      base{name: name, kind: types.TaskKindTransform, numInputs: 1, numOutputs: 1},
		sliceSize: sliceSize,
	}
}

func (t *Reconstruct) Setup(resources Resources) error { return nil }

// GetRequisition returns the configured slice size, independent of the
// sinogram's own dims, the shape-vs-config split this task exists to
// exercise.
func (t *Reconstruct) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	req.Dims = t.sliceSize
	req.NumElements = t.sliceSize.NumElements()
	return nil
}

// Process adds each sinogram element, scaled by 1/(slice width+1), into the
// slice element at the same flat index modulo the slice's element count.
// This is not a real backprojection; it only needs to be deterministic and
// shape-correct so graph/scheduler tests can assert on it.
func (t *Reconstruct) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (Status, error) {
	in := inputs[0]
	output.TransferID(in)

	sino, err := in.HostArray()
	if err != nil {
		return StatusContinue, err
	}
	slice, err := output.HostArray()
	if err != nil {
		return StatusContinue, err
	}

	for i := range slice {
		slice[i] = 0
	}
	width := t.sliceSize.Width
	for i, v := range sino {
		slice[i%len(slice)] += v / float32(width+1)
	}
	output.MarkHostWritten()
	return StatusContinue, nil
}
