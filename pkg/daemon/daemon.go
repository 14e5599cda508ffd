package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/graph"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/messenger"
	"github.com/cuemby/ufo-core/pkg/metrics"
	"github.com/cuemby/ufo-core/pkg/scheduler"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// state is the daemon's position in the session state machine:
// idle -> graphLoaded -> streaming -> drained -> cleaned -> idle |
// terminated.
type state int

const (
	stateIdle state = iota
	stateGraphLoaded
	stateStreaming
	stateDrained
	stateCleaned
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateGraphLoaded:
		return "graph_loaded"
	case stateStreaming:
		return "streaming"
	case stateDrained:
		return "drained"
	case stateCleaned:
		return "cleaned"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Resources is the resource-manager surface the daemon needs: everything
// a task needs (task.Resources) plus the device count get_num_devices
// reports.
type Resources interface {
	task.Resources
	DeviceCount() int
}

// Daemon serves one client connection, dispatching each wire message to
// its handler and running the streamed graph's scheduler on a dedicated
// goroutine.
type Daemon struct {
	resources Resources
	loader    *graph.Loader
	conn      messenger.Messenger
	logger    zerolog.Logger

	mu       sync.Mutex
	state    state
	g        *graph.Graph
	input    *task.Input
	output   *task.Output
	schedErr chan error
}

// New creates a daemon bound to conn, ready to Serve requests. Every
// instance is tagged with a fresh connection id so its log lines can be
// correlated across a session without the caller having to track one.
func New(resources Resources, conn messenger.Messenger) *Daemon {
	connID := uuid.New().String()
	return &Daemon{
		resources: resources,
		loader:    graph.NewLoader(),
		conn:      conn,
		logger:    log.WithComponent("daemon").With().Str("conn_id", connID).Logger(),
		state:     stateIdle,
	}
}

// RegisterPlugin adds a plugin factory the graph loader recognizes in
// stream_json/replicate_json payloads, beyond the built-ins graph.NewLoader
// registers by default. Plugin discovery on disk remains the external
// collaborator's job; this is the attachment point for it.
func (d *Daemon) RegisterPlugin(name string, factory graph.PluginFactory) {
	d.loader.Register(name, factory)
}

// Serve runs the request loop until terminate is received or the
// transport fails. A returned nil error means a clean terminate.
func (d *Daemon) Serve(ctx context.Context) error {
	for {
		msg, err := d.conn.RecvBlocking(ctx)
		if err != nil {
			return err
		}

		timer := metrics.NewTimer()
		terminate, herr := d.handle(msg)
		timer.ObserveDurationVec(metrics.DaemonRequestDuration, msg.Type.String())

		outcome := "ok"
		if herr != nil {
			outcome = "error"
		}
		metrics.DaemonRequestsTotal.WithLabelValues(msg.Type.String(), outcome).Inc()

		if herr != nil {
			d.logger.Error().Err(herr).Str("message_type", msg.Type.String()).Msg("request failed")
			return herr
		}
		if terminate {
			return nil
		}
	}
}

func (d *Daemon) handle(msg *messenger.Message) (terminate bool, err error) {
	switch msg.Type {
	case messenger.TypeGetNumDevices:
		return false, d.handleGetNumDevices()
	case messenger.TypeStreamJSON:
		return false, d.handleStreamJSON(msg.Data)
	case messenger.TypeReplicateJSON:
		return false, d.handleReplicateJSON(msg.Data)
	case messenger.TypeGetStructure:
		return false, d.handleGetStructure()
	case messenger.TypeSendInputs:
		return false, d.handleSendInputs(msg.Data)
	case messenger.TypeGetRequisition:
		return false, d.handleGetRequisition()
	case messenger.TypeGetResult:
		return false, d.handleGetResult()
	case messenger.TypeCleanup:
		return false, d.handleCleanup()
	case messenger.TypeTerminate:
		return true, d.handleTerminate()
	default:
		return false, ufoerr.New(ufoerr.KindProtocolViolation, fmt.Sprintf("unsupported message type %s", msg.Type))
	}
}

func (d *Daemon) requireState(allowed ...state) error {
	d.mu.Lock()
	cur := d.state
	d.mu.Unlock()
	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	return ufoerr.New(ufoerr.KindProtocolViolation, fmt.Sprintf("request invalid in state %s", cur))
}

func (d *Daemon) setState(s state) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Daemon) handleGetNumDevices() error {
	count := d.resources.DeviceCount()
	return d.conn.SendBlocking(&messenger.Message{
		Type: messenger.TypeGetNumDevices,
		Data: messenger.EncodeDeviceCount(count),
	})
}

// handleStreamJSON parses payload, splices local input/output tasks onto
// the graph's unique root and leaf, and launches the scheduler on its own
// goroutine before replying ack.
func (d *Daemon) handleStreamJSON(payload []byte) error {
	if err := d.requireState(stateIdle, stateCleaned); err != nil {
		return err
	}

	g, err := d.loader.Load(payload)
	if err != nil {
		return err
	}

	in, out, err := spliceInputOutput(g)
	if err != nil {
		return err
	}
	d.setState(stateGraphLoaded)

	sched := scheduler.New(g, d.resources)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.Run()
	}()

	d.mu.Lock()
	d.g = g
	d.input = in
	d.output = out
	d.schedErr = errCh
	d.state = stateStreaming
	d.mu.Unlock()

	go d.watchScheduler(errCh)

	return d.conn.SendBlocking(messenger.Ack())
}

// watchScheduler marks the session drained once the scheduler's graph
// finishes, whether by natural exhaustion or error.
func (d *Daemon) watchScheduler(errCh chan error) {
	err := <-errCh
	if err != nil {
		d.logger.Error().Err(err).Msg("graph run finished with error")
	}
	d.mu.Lock()
	if d.state == stateStreaming {
		d.state = stateDrained
	}
	d.mu.Unlock()
}

// handleReplicateJSON replies ack before running the parsed graph to
// completion synchronously, with no input/output splicing.
func (d *Daemon) handleReplicateJSON(payload []byte) error {
	if err := d.requireState(stateIdle, stateCleaned); err != nil {
		return err
	}

	g, err := d.loader.Load(payload)
	if err != nil {
		return err
	}

	if err := d.conn.SendBlocking(messenger.Ack()); err != nil {
		return err
	}

	sched := scheduler.New(g, d.resources)
	if err := sched.Run(); err != nil {
		d.logger.Error().Err(err).Msg("replicated graph run failed")
	}
	return nil
}

func (d *Daemon) handleGetStructure() error {
	if err := d.requireState(stateGraphLoaded, stateStreaming, stateDrained); err != nil {
		return err
	}
	d.mu.Lock()
	in := d.input
	d.mu.Unlock()
	return d.conn.SendBlocking(&messenger.Message{
		Type: messenger.TypeGetStructure,
		Data: messenger.EncodeStructure(1, in.Dims()),
	})
}

func (d *Daemon) handleSendInputs(payload []byte) error {
	if err := d.requireState(stateStreaming); err != nil {
		return err
	}
	req, frame, err := messenger.DecodeSendInputs(payload)
	if err != nil {
		return err
	}
	host := messenger.BytesToFrame(frame)
	buf, err := d.resources.RequestBuffer(req.Dims, host, false)
	if err != nil {
		return err
	}
	d.mu.Lock()
	in := d.input
	d.mu.Unlock()
	in.ReleaseInputBuffer(buf)
	return d.conn.SendBlocking(messenger.Ack())
}

func (d *Daemon) handleGetRequisition() error {
	if err := d.requireState(stateGraphLoaded, stateStreaming, stateDrained); err != nil {
		return err
	}
	d.mu.Lock()
	out := d.output
	d.mu.Unlock()
	return d.conn.SendBlocking(&messenger.Message{
		Type: messenger.TypeGetRequisition,
		Data: messenger.EncodeRequisition(out.GetOutputRequisition()),
	})
}

// handleGetResult blocks on the output task's buffer and replies with its
// host bytes, or a bare ack once the upstream graph has finished
// (get_result has no wire-level finish payload, so ack in place of a
// frame is how the client learns the stream has ended).
func (d *Daemon) handleGetResult() error {
	if err := d.requireState(stateStreaming, stateDrained); err != nil {
		return err
	}
	d.mu.Lock()
	out := d.output
	d.mu.Unlock()

	b := out.GetOutputBuffer()
	if b.IsFinish() {
		d.setState(stateDrained)
		return d.conn.SendBlocking(messenger.Ack())
	}

	host, err := b.HostArray()
	if err != nil {
		return err
	}
	reply := &messenger.Message{Type: messenger.TypeGetResult, Data: messenger.FrameToBytes(host)}
	d.resources.ReleaseBuffer(b)
	return d.conn.SendBlocking(reply)
}

// handleCleanup replies ack immediately, then stops the input task and
// drops the graph's references.
func (d *Daemon) handleCleanup() error {
	if err := d.requireState(stateStreaming, stateDrained); err != nil {
		return err
	}
	if err := d.conn.SendBlocking(messenger.Ack()); err != nil {
		return err
	}

	d.mu.Lock()
	in := d.input
	d.g, d.input, d.output, d.schedErr = nil, nil, nil, nil
	d.state = stateCleaned
	d.mu.Unlock()

	if in != nil {
		in.ReleaseInputBuffer(buffer.Finish())
	}
	return nil
}

func (d *Daemon) handleTerminate() error {
	if err := d.requireState(stateIdle, stateCleaned); err != nil {
		return err
	}
	if err := d.conn.SendBlocking(messenger.Ack()); err != nil {
		return err
	}
	d.setState(stateTerminated)
	return nil
}

// spliceInputOutput replaces g's unique root and leaf, each a dummy
// placeholder node, with a real Input/Output task taking over their
// edges.
func spliceInputOutput(g *graph.Graph) (*task.Input, *task.Output, error) {
	roots := g.Roots()
	leaves := g.Leaves()
	if len(roots) != 1 {
		return nil, nil, ufoerr.New(ufoerr.KindGraphInvalid, fmt.Sprintf("graph must have exactly one root, has %d", len(roots)))
	}
	if len(leaves) != 1 {
		return nil, nil, ufoerr.New(ufoerr.KindGraphInvalid, fmt.Sprintf("graph must have exactly one leaf, has %d", len(leaves)))
	}
	rootNode, leafNode := roots[0], leaves[0]
	if rootNode == leafNode {
		return nil, nil, ufoerr.New(ufoerr.KindGraphInvalid, "graph must have at least one node between input and output")
	}

	rootDummy, ok := rootNode.Task.(*task.Dummy)
	if !ok {
		return nil, nil, ufoerr.New(ufoerr.KindGraphInvalid, "graph root must be a dummy placeholder for the input task")
	}
	if _, ok := leafNode.Task.(*task.Dummy); !ok {
		return nil, nil, ufoerr.New(ufoerr.KindGraphInvalid, "graph leaf must be a dummy placeholder for the output task")
	}

	in := task.NewInput("__input__", rootDummy.ConfiguredDims(), 2)
	inNode := g.AddNode(in)
	for _, e := range append([]*graph.Edge(nil), rootNode.OutEdges()...) {
		dst, dstPort := e.Dst, e.DstPort
		g.Disconnect(e)
		if _, err := g.Connect(inNode, dst, dstPort, 0); err != nil {
			return nil, nil, err
		}
	}
	g.RemoveNode(rootNode)

	out := task.NewOutput("__output__", 2)
	outNode := g.AddNode(out)
	for _, e := range append([]*graph.Edge(nil), leafNode.InEdges()...) {
		if e == nil {
			continue
		}
		src := e.Src
		g.Disconnect(e)
		if _, err := g.Connect(src, outNode, 0, 0); err != nil {
			return nil, nil, err
		}
	}
	g.RemoveNode(leafNode)

	return in, out, nil
}
