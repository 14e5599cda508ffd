// Package scheduler executes a task graph to completion: one executor
// goroutine per node, buffered edges, finish propagation, and first-error
// collection.
package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/graph"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/metrics"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
	"github.com/rs/zerolog"
)

// Scheduler runs one graph to completion against one resource set. A new
// Scheduler is created per run; the daemon creates one per stream_json
// request, on its own goroutine.
type Scheduler struct {
	graph     *graph.Graph
	resources task.Resources
	logger    zerolog.Logger

	cancelled atomic.Bool
	wg        sync.WaitGroup

	errMu    sync.Mutex
	firstErr error
}

// New creates a scheduler bound to g and resources. Run has not started
// until Run is called.
func New(g *graph.Graph, resources task.Resources) *Scheduler {
	return &Scheduler{
		graph:     g,
		resources: resources,
		logger:    log.WithComponent("scheduler"),
	}
}

// Run executes the bound graph to completion:
// setup every node in topological order, spawn one executor per node,
// join them all, and return the first recorded error, if any.
func (s *Scheduler) Run() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GraphRunDuration)

	order, err := s.graph.TopologicalOrder()
	if err != nil {
		return err
	}

	for _, n := range order {
		if err := n.Task.Setup(s.resources); err != nil {
			wrapped := ufoerr.Wrap(ufoerr.KindTaskSetupFailed, "setup "+n.Name(), err)
			s.logger.Error().Err(wrapped).Str("task_name", n.Name()).Msg("task setup failed")
			return wrapped
		}
	}

	for _, n := range order {
		s.wg.Add(1)
		go s.runExecutor(n)
	}
	s.wg.Wait()

	metrics.GraphsRun.Inc()
	return s.firstErr
}

// Cancel injects the finish sentinel directly onto every root node's
// output edges and sets the cancelled flag every executor checks between
// frames, so a source that is still producing stops promptly.
func (s *Scheduler) Cancel() {
	s.cancelled.Store(true)
	for _, n := range s.graph.Roots() {
		for _, e := range n.OutEdges() {
			e.Push(buffer.Finish())
		}
	}
}

func (s *Scheduler) recordError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.firstErr == nil {
		s.firstErr = err
	}
}

// runExecutor is one node's per-frame loop. A node
// with no input edges is a source: its own Process return status drives
// termination since there is no input port to observe a finish sentinel
// on. A node with input edges terminates as soon as any input port
// delivers finish.
func (s *Scheduler) runExecutor(n *graph.Node) {
	defer s.wg.Done()

	taskLogger := s.logger.With().Str("task_name", n.Name()).Logger()

	for {
		if s.cancelled.Load() && len(n.InEdges()) == 0 {
			s.propagateFinish(n)
			return
		}

		var inputs []*buffer.Buffer
		if len(n.InEdges()) > 0 {
			inputs = make([]*buffer.Buffer, len(n.InEdges()))
			finished := false
			for i, e := range n.InEdges() {
				b := e.Pop()
				inputs[i] = b
				if b.IsFinish() {
					finished = true
				}
			}
			if finished {
				// At a fan-in node, ports that delivered an ordinary frame
				// alongside another port's finish still own those frames.
				releaseInputs(s.resources, inputs)
				s.propagateFinish(n)
				return
			}
		}

		var req types.Requisition
		if err := n.Task.GetRequisition(inputs, &req); err != nil {
			s.onExecutorError(n, taskLogger, inputs, err)
			return
		}

		var output *buffer.Buffer
		if n.Task.NumOutputs() > 0 {
			b, err := s.resources.RequestBuffer(req.Dims, nil, false)
			if err != nil {
				s.onExecutorError(n, taskLogger, inputs, err)
				return
			}
			output = b
		}

		timer := metrics.NewTimer()
		status, err := n.Task.Process(inputs, output)
		timer.ObserveDurationVec(metrics.TaskProcessDuration, n.Name())
		if err != nil {
			if output != nil {
				s.resources.ReleaseBuffer(output)
			}
			s.onExecutorError(n, taskLogger, inputs, err)
			return
		}

		// A sink task (no output edges) hands its input buffers off to its
		// own external release contract instead of the graph - e.g. Output
		// forwards inputs[0] onto a channel a daemon reads from later and
		// releases itself. Releasing here too would double-free the same
		// buffer back into the pool while it is still in flight to that
		// external reader.
		if n.Task.NumOutputs() > 0 {
			releaseInputs(s.resources, inputs)
		}

		if status == task.StatusFinish {
			if output != nil {
				s.resources.ReleaseBuffer(output)
			}
			s.propagateFinish(n)
			return
		}

		metrics.FramesProcessed.WithLabelValues(n.Name()).Inc()
		// A frame fanning out to several consumers is released once per
		// consumer; extra references keep it out of the pool until the
		// last one.
		if extra := len(n.OutEdges()) - 1; extra > 0 {
			output.Retain(extra)
		}
		for _, e := range n.OutEdges() {
			e.Push(output)
		}
	}
}

func (s *Scheduler) onExecutorError(n *graph.Node, logger zerolog.Logger, inputs []*buffer.Buffer, err error) {
	wrapped := ufoerr.Wrap(ufoerr.KindTaskProcessFailed, "process "+n.Name(), err)
	logger.Error().Err(wrapped).Msg("task process failed")
	metrics.TaskErrorsTotal.WithLabelValues(n.Name()).Inc()
	releaseInputs(s.resources, inputs)
	s.recordError(wrapped)
	s.propagateFinish(n)
}

// propagateFinish pushes the finish sentinel to every output edge of n,
// and additionally notifies n if it observes finish some other way (a sink
// draining through an external channel rather than a graph edge). Siblings
// continue draining so the DAG reaches a clean termination even after one
// executor's error.
func (s *Scheduler) propagateFinish(n *graph.Node) {
	for _, e := range n.OutEdges() {
		e.Push(buffer.Finish())
	}
	if fo, ok := n.Task.(task.FinishObserver); ok {
		fo.ObserveFinish()
	}
}

func releaseInputs(resources task.Resources, inputs []*buffer.Buffer) {
	for _, b := range inputs {
		if !b.IsFinish() {
			resources.ReleaseBuffer(b)
		}
	}
}
