package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/messenger"
	"github.com/cuemby/ufo-core/pkg/resourcemanager"
	"github.com/cuemby/ufo-core/pkg/resourcemanager/simbackend"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/stretchr/testify/require"
)

const testGraphJSON = `{
	"nodes": [
		{"name": "root", "plugin": "dummy", "properties": {"width": 2, "height": 2}},
		{"name": "mid", "plugin": "dummy"},
		{"name": "leaf", "plugin": "dummy"}
	],
	"edges": [
		{"from": "root", "to": "mid", "port": 0},
		{"from": "mid", "to": "leaf", "port": 0}
	]
}`

func newTestDaemon(t *testing.T) (client messenger.Messenger, d *Daemon) {
	t.Helper()
	var server messenger.Messenger
	client, server = messenger.NewPipe()
	mgr := resourcemanager.New(simbackend.New(1))
	return client, New(mgr, server)
}

func requestReply(t *testing.T, client messenger.Messenger, m *messenger.Message) *messenger.Message {
	t.Helper()
	require.NoError(t, client.SendBlocking(m))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := client.RecvBlocking(ctx)
	require.NoError(t, err)
	return reply
}

func TestDaemonStreamSendGetResultCycle(t *testing.T) {
	client, d := newTestDaemon(t)
	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background()) }()

	reply := requestReply(t, client, &messenger.Message{Type: messenger.TypeGetNumDevices})
	count, err := messenger.DecodeDeviceCount(reply.Data)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeStreamJSON, Data: []byte(testGraphJSON)})
	require.Equal(t, messenger.TypeAck, reply.Type)

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeGetStructure})
	numInputs, numDims, err := messenger.DecodeStructure(reply.Data)
	require.NoError(t, err)
	require.Equal(t, 1, numInputs)
	require.Equal(t, 2, numDims)

	req := types.Requisition{Dims: types.Dims{Width: 2, Height: 2}, NumElements: 4}
	payload := messenger.EncodeSendInputs(req, messenger.FrameToBytes([]float32{1, 2, 3, 4}))
	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeSendInputs, Data: payload})
	require.Equal(t, messenger.TypeAck, reply.Type)

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeGetRequisition})
	gotReq, err := messenger.DecodeRequisition(reply.Data)
	require.NoError(t, err)
	require.Equal(t, req.Dims, gotReq.Dims)

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeGetResult})
	require.Equal(t, messenger.TypeGetResult, reply.Type)
	require.Equal(t, []float32{1, 2, 3, 4}, messenger.BytesToFrame(reply.Data))

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeCleanup})
	require.Equal(t, messenger.TypeAck, reply.Type)

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeTerminate})
	require.Equal(t, messenger.TypeAck, reply.Type)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not terminate")
	}
}

func TestDaemonRejectsSendInputsBeforeStreamJSON(t *testing.T) {
	client, d := newTestDaemon(t)
	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background()) }()

	req := types.Requisition{Dims: types.Dims{Width: 2, Height: 2}}
	payload := messenger.EncodeSendInputs(req, messenger.FrameToBytes([]float32{1, 2, 3, 4}))
	require.NoError(t, client.SendBlocking(&messenger.Message{Type: messenger.TypeSendInputs, Data: payload}))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not reject out-of-sequence request")
	}
}

// countingSource produces a fixed number of frames then finishes, standing
// in for an application-supplied source plugin in a self-contained
// replicate_json graph (replicate_json never splices the framework's own
// Input/Output tasks).
type countingSource struct {
	name      string
	remaining int
}

func (s *countingSource) Name() string               { return s.name }
func (s *countingSource) Kind() types.TaskKind       { return types.TaskKindSource }
func (s *countingSource) NumInputs() int             { return 0 }
func (s *countingSource) NumOutputs() int            { return 1 }
func (s *countingSource) Setup(task.Resources) error { return nil }
func (s *countingSource) GetRequisition(inputs []*buffer.Buffer, req *types.Requisition) error {
	req.Dims = types.Dims{Width: 1, Height: 1}
	req.NumElements = 1
	return nil
}
func (s *countingSource) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (task.Status, error) {
	if s.remaining == 0 {
		return task.StatusFinish, nil
	}
	s.remaining--
	host, err := output.HostArray()
	if err != nil {
		return task.StatusContinue, err
	}
	host[0] = 1
	return task.StatusContinue, nil
}

func TestDaemonReplicateJSONRunsSynchronously(t *testing.T) {
	client, d := newTestDaemon(t)
	d.RegisterPlugin("counting_source", func(name string, _ map[string]interface{}) (task.Node, error) {
		return &countingSource{name: name, remaining: 3}, nil
	})

	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background()) }()

	reply := requestReply(t, client, &messenger.Message{Type: messenger.TypeReplicateJSON, Data: []byte(`{"nodes":[{"name":"a","plugin":"counting_source"}]}`)})
	require.Equal(t, messenger.TypeAck, reply.Type)

	reply = requestReply(t, client, &messenger.Message{Type: messenger.TypeTerminate})
	require.Equal(t, messenger.TypeAck, reply.Type)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not terminate")
	}
}
