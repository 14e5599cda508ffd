package task

import "github.com/cuemby/ufo-core/pkg/types"

// base carries the self-description every built-in task needs to satisfy
// Node, so each built-in only implements the three Task operations.
type base struct {
	name       string
	kind       types.TaskKind
	numInputs  int
	numOutputs int
}

func (b *base) Name() string         { return b.name }
func (b *base) Kind() types.TaskKind { return b.kind }
func (b *base) NumInputs() int       { return b.numInputs }
func (b *base) NumOutputs() int      { return b.numOutputs }
