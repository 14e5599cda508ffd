package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/graph"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
	"github.com/stretchr/testify/require"
)

// fakeResources is a minimal task.Resources that never touches a device,
// enough to drive Input/Dummy/Output/erroringTask through Setup/Process.
type fakeResources struct{}

func (fakeResources) GetKernel(name string) (any, error) { return "kernel:" + name, nil }
func (fakeResources) AddProgram(path string) error       { return nil }
func (fakeResources) RequestBuffer(dims types.Dims, hostSeed []float32, uploadNow bool) (*buffer.Buffer, error) {
	return buffer.New(0, dims, hostSeed), nil
}
func (fakeResources) ReleaseBuffer(b *buffer.Buffer)     {}
func (fakeResources) GetCommandQueue(deviceIdx int) any  { return nil }
func (fakeResources) Execute(queue any, kernel any, ins []buffer.DeviceMem, out buffer.DeviceMem) (buffer.Event, error) {
	return nil, nil
}

func TestRunLinearPipeline(t *testing.T) {
	dims := types.Dims{Width: 2, Height: 2}

	g := graph.New()
	in := task.NewInput("in", dims, 2)
	inNode := g.AddNode(in)
	dummyNode := g.AddNode(task.NewDummy("dummy"))
	out := task.NewOutput("out", 2)
	outNode := g.AddNode(out)

	_, err := g.Connect(inNode, dummyNode, 0, 2)
	require.NoError(t, err)
	_, err = g.Connect(dummyNode, outNode, 0, 2)
	require.NoError(t, err)

	sched := New(g, fakeResources{})
	done := make(chan error, 1)
	go func() { done <- sched.Run() }()

	in.ReleaseInputBuffer(buffer.New(1, dims, []float32{1, 2, 3, 4}))
	in.ReleaseInputBuffer(buffer.New(2, dims, []float32{5, 6, 7, 8}))
	in.ReleaseInputBuffer(buffer.Finish())

	got1 := out.GetOutputBuffer()
	got2 := out.GetOutputBuffer()
	require.Equal(t, uint64(1), got1.ID())
	require.Equal(t, uint64(2), got2.ID())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not finish")
	}
}

// erroringTask always fails Process, so the scheduler's error-collection
// and finish-draining path can be exercised without a real kernel.
type erroringTask struct{ name string }

func (erroringTask) Setup(task.Resources) error { return nil }
func (erroringTask) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	req.Dims = types.Dims{Width: 1, Height: 1}
	req.NumElements = 1
	return nil
}
func (erroringTask) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (task.Status, error) {
	return task.StatusContinue, errors.New("boom")
}
func (t erroringTask) Name() string       { return t.name }
func (erroringTask) Kind() types.TaskKind { return types.TaskKindTransform }
func (erroringTask) NumInputs() int       { return 1 }
func (erroringTask) NumOutputs() int      { return 1 }

func TestRunPropagatesErrorAndDrains(t *testing.T) {
	dims := types.Dims{Width: 1, Height: 1}

	g := graph.New()
	in := task.NewInput("in", dims, 2)
	inNode := g.AddNode(in)
	badNode := g.AddNode(erroringTask{name: "bad"})
	out := task.NewOutput("out", 2)
	outNode := g.AddNode(out)

	_, err := g.Connect(inNode, badNode, 0, 2)
	require.NoError(t, err)
	_, err = g.Connect(badNode, outNode, 0, 2)
	require.NoError(t, err)

	sched := New(g, fakeResources{})
	done := make(chan error, 1)
	go func() { done <- sched.Run() }()

	in.ReleaseInputBuffer(buffer.New(1, dims, []float32{1}))

	got := out.GetOutputBuffer()
	require.True(t, got.IsFinish(), "downstream node should still drain to finish after an upstream error")

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, ufoerr.KindTaskProcessFailed, ufoerr.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("scheduler did not finish")
	}
}

// freeRunningSource never blocks in Process, unlike task.Input which waits
// on an externally fed channel; it exists only so this test can observe
// Cancel's between-frames flag check without also needing to feed frames.
type freeRunningSource struct{ name string }

func (freeRunningSource) Setup(task.Resources) error { return nil }
func (freeRunningSource) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	req.Dims = types.Dims{Width: 1, Height: 1}
	req.NumElements = 1
	return nil
}
func (freeRunningSource) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (task.Status, error) {
	return task.StatusContinue, nil
}
func (t freeRunningSource) Name() string       { return t.name }
func (freeRunningSource) Kind() types.TaskKind { return types.TaskKindSource }
func (freeRunningSource) NumInputs() int       { return 0 }
func (freeRunningSource) NumOutputs() int      { return 1 }

func TestCancelStopsSource(t *testing.T) {
	g := graph.New()
	srcNode := g.AddNode(freeRunningSource{name: "src"})
	out := task.NewOutput("out", 2)
	outNode := g.AddNode(out)

	_, err := g.Connect(srcNode, outNode, 0, 2)
	require.NoError(t, err)

	sched := New(g, fakeResources{})
	done := make(chan error, 1)
	go func() { done <- sched.Run() }()

	// Drain concurrently so the free-running source never backs up against
	// an unread result channel while Cancel is taking effect.
	drained := make(chan struct{})
	go func() {
		for {
			if out.GetOutputBuffer().IsFinish() {
				close(drained)
				return
			}
		}
	}()

	sched.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not finish after cancel")
	}

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("output never observed finish")
	}
}

func TestZeroFrameStream(t *testing.T) {
	dims := types.Dims{Width: 2, Height: 2}

	g := graph.New()
	in := task.NewInput("in", dims, 1)
	inNode := g.AddNode(in)
	out := task.NewOutput("out", 1)
	outNode := g.AddNode(out)
	_, err := g.Connect(inNode, outNode, 0, 2)
	require.NoError(t, err)

	sched := New(g, fakeResources{})
	done := make(chan error, 1)
	go func() { done <- sched.Run() }()

	in.ReleaseInputBuffer(buffer.Finish())

	require.True(t, out.GetOutputBuffer().IsFinish(), "a frameless stream still delivers exactly one finish")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not finish")
	}
}

// setupFailingTask fails Setup and counts Process calls, which must stay
// at zero: a setup failure aborts the run before any executor spawns.
type setupFailingTask struct {
	name      string
	processed *int
}

func (t setupFailingTask) Setup(task.Resources) error { return errors.New("no kernel") }
func (setupFailingTask) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	return nil
}
func (t setupFailingTask) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (task.Status, error) {
	*t.processed++
	return task.StatusContinue, nil
}
func (t setupFailingTask) Name() string          { return t.name }
func (setupFailingTask) Kind() types.TaskKind    { return types.TaskKindTransform }
func (setupFailingTask) NumInputs() int          { return 1 }
func (setupFailingTask) NumOutputs() int         { return 1 }

func TestSetupFailureAbortsBeforeAnyProcess(t *testing.T) {
	dims := types.Dims{Width: 1, Height: 1}
	processed := 0

	g := graph.New()
	in := task.NewInput("in", dims, 1)
	inNode := g.AddNode(in)
	badNode := g.AddNode(setupFailingTask{name: "bad", processed: &processed})
	outNode := g.AddNode(task.NewOutput("out", 1))

	_, err := g.Connect(inNode, badNode, 0, 1)
	require.NoError(t, err)
	_, err = g.Connect(badNode, outNode, 0, 1)
	require.NoError(t, err)

	sched := New(g, fakeResources{})
	err = sched.Run()
	require.Error(t, err)
	require.Equal(t, ufoerr.KindTaskSetupFailed, ufoerr.KindOf(err))
	require.Zero(t, processed)
}
