package integration

import (
	"testing"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/graph"
	"github.com/cuemby/ufo-core/pkg/resourcemanager"
	"github.com/cuemby/ufo-core/pkg/resourcemanager/simbackend"
	"github.com/cuemby/ufo-core/pkg/scheduler"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/stretchr/testify/require"
)

// TestTwoFramePassthrough exercises the graph input -> dummy -> output: two
// distinct frames pushed in must come back out in the same order, followed
// by finish.
func TestTwoFramePassthrough(t *testing.T) {
	dims := types.Dims{Width: 4, Height: 4}
	resources := resourcemanager.New(simbackend.New(1))
	defer resources.Close()

	in := task.NewInput("input", dims, 2)
	dummy := task.NewDummy("dummy")
	out := task.NewOutput("output", 2)

	g := graph.New()
	inNode := g.AddNode(in)
	dummyNode := g.AddNode(dummy)
	outNode := g.AddNode(out)
	_, err := g.Connect(inNode, dummyNode, 0, 0)
	require.NoError(t, err)
	_, err = g.Connect(dummyNode, outNode, 0, 0)
	require.NoError(t, err)

	sched := scheduler.New(g, resources)
	done := make(chan error, 1)
	go func() { done <- sched.Run() }()

	frameA := make([]float32, dims.NumElements())
	for i := range frameA {
		frameA[i] = 1
	}
	frameB := make([]float32, dims.NumElements())
	for i := range frameB {
		frameB[i] = 2
	}

	bufA, err := resources.RequestBuffer(dims, frameA, false)
	require.NoError(t, err)
	in.ReleaseInputBuffer(bufA)

	got, err := out.GetOutputBuffer().HostArray()
	require.NoError(t, err)
	require.Equal(t, frameA, got)

	bufB, err := resources.RequestBuffer(dims, frameB, false)
	require.NoError(t, err)
	in.ReleaseInputBuffer(bufB)

	got, err = out.GetOutputBuffer().HostArray()
	require.NoError(t, err)
	require.Equal(t, frameB, got)

	in.ReleaseInputBuffer(buffer.Finish())
	require.True(t, out.GetOutputBuffer().IsFinish())

	require.NoError(t, <-done)
}
