package remotetask

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/messenger"
	"github.com/cuemby/ufo-core/pkg/metrics"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
	"github.com/rs/zerolog"
)

// Dialer connects to address and returns a client Messenger. Production
// code passes messenger.DialTCP; tests substitute an in-memory pipe.
type Dialer func(address string) (messenger.Messenger, error)

// RemoteTask is a single-input, single-output transform that offloads its
// work to a daemon over the wire.
type RemoteTask struct {
	name     string
	address  string
	subgraph []byte
	dial     Dialer

	conn      messenger.Messenger
	inputSent bool
	logger    zerolog.Logger
}

// NewRemoteTask creates a remote proxy task that streams subgraphJSON to
// the daemon at address when the scheduler calls Setup.
func NewRemoteTask(name, address string, subgraphJSON []byte, dial Dialer) *RemoteTask {
	if dial == nil {
		dial = messenger.DialTCP
	}
	return &RemoteTask{
		name:     name,
		address:  address,
		subgraph: subgraphJSON,
		dial:     dial,
		logger:   log.WithComponent("remotetask").With().Str("node_id", address).Logger(),
	}
}

func (t *RemoteTask) Name() string         { return t.name }
func (t *RemoteTask) Kind() types.TaskKind { return types.TaskKindRemote }
func (t *RemoteTask) NumInputs() int       { return 1 }
func (t *RemoteTask) NumOutputs() int      { return 1 }

// Setup dials the daemon, retrying once after a reconnect on transport
// failure, and streams the sub-graph.
func (t *RemoteTask) Setup(resources task.Resources) error {
	conn, err := t.dialWithRetry()
	if err != nil {
		return err
	}
	t.conn = conn

	if err := t.conn.SendBlocking(&messenger.Message{Type: messenger.TypeStreamJSON, Data: t.subgraph}); err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "send stream_json", err)
	}
	reply, err := t.conn.RecvBlocking(context.Background())
	if err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "receive stream_json ack", err)
	}
	if reply.Type != messenger.TypeAck {
		return ufoerr.New(ufoerr.KindProtocolViolation, fmt.Sprintf("stream_json: expected ack, got %s", reply.Type))
	}
	return nil
}

func (t *RemoteTask) dialWithRetry() (messenger.Messenger, error) {
	conn, err := t.dial(t.address)
	if err == nil {
		return conn, nil
	}
	metrics.RemoteTaskReconnects.WithLabelValues(t.address).Inc()
	t.logger.Warn().Err(err).Msg("dial failed, retrying once")
	time.Sleep(100 * time.Millisecond)
	conn, err = t.dial(t.address)
	if err != nil {
		return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "dial "+t.address, err)
	}
	return conn, nil
}

// GetRequisition ships the pending input frame to the daemon, then asks
// for the shape its spliced output task will produce. The frame has to go
// first: the daemon can only answer once a frame has flowed through its
// graph to the output task, so get_requisition before send_inputs would
// block forever.
func (t *RemoteTask) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	if len(inputs) > 0 && !t.inputSent {
		if err := t.sendInputs(inputs[0]); err != nil {
			return err
		}
		t.inputSent = true
	}
	if err := t.conn.SendBlocking(&messenger.Message{Type: messenger.TypeGetRequisition}); err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "send get_requisition", err)
	}
	reply, err := t.conn.RecvBlocking(context.Background())
	if err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "receive get_requisition reply", err)
	}
	got, err := messenger.DecodeRequisition(reply.Data)
	if err != nil {
		return err
	}
	*req = got
	return nil
}

// sendInputs performs one send_inputs round trip for the given frame.
func (t *RemoteTask) sendInputs(in *buffer.Buffer) error {
	host, err := in.HostArray()
	if err != nil {
		return err
	}
	req := types.Requisition{Dims: in.Dims(), NumElements: in.Dims().NumElements()}
	payload := messenger.EncodeSendInputs(req, messenger.FrameToBytes(host))
	if err := t.conn.SendBlocking(&messenger.Message{Type: messenger.TypeSendInputs, Data: payload}); err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "send send_inputs", err)
	}
	if _, err := t.conn.RecvBlocking(context.Background()); err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "receive send_inputs ack", err)
	}
	return nil
}

// Process sends the input frame via send_inputs (unless GetRequisition
// already did, the usual case under the scheduler) and blocks for
// get_result.
func (t *RemoteTask) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (task.Status, error) {
	in := inputs[0]
	if !t.inputSent {
		if err := t.sendInputs(in); err != nil {
			return task.StatusContinue, err
		}
	}
	t.inputSent = false

	if err := t.conn.SendBlocking(&messenger.Message{Type: messenger.TypeGetResult}); err != nil {
		return task.StatusContinue, ufoerr.Wrap(ufoerr.KindTransportFailed, "send get_result", err)
	}
	reply, err := t.conn.RecvBlocking(context.Background())
	if err != nil {
		return task.StatusContinue, ufoerr.Wrap(ufoerr.KindTransportFailed, "receive get_result reply", err)
	}

	outHost, err := output.HostArray()
	if err != nil {
		return task.StatusContinue, err
	}
	copy(outHost, messenger.BytesToFrame(reply.Data))
	output.MarkHostWritten()
	output.TransferID(in)
	return task.StatusContinue, nil
}

// ObserveFinish sends cleanup then terminate and closes the messenger.
// The scheduler calls this in place of Process when finish reaches
// this node's input edge.
func (t *RemoteTask) ObserveFinish() {
	if t.conn == nil {
		return
	}
	if err := t.conn.SendBlocking(&messenger.Message{Type: messenger.TypeCleanup}); err == nil {
		_, _ = t.conn.RecvBlocking(context.Background())
	}
	if err := t.conn.SendBlocking(&messenger.Message{Type: messenger.TypeTerminate}); err == nil {
		_, _ = t.conn.RecvBlocking(context.Background())
	}
	if err := t.conn.Close(); err != nil {
		t.logger.Warn().Err(err).Msg("error closing messenger after finish")
	}
}
