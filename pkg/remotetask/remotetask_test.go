package remotetask

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/ufo-core/pkg/buffer"
	"github.com/cuemby/ufo-core/pkg/messenger"
	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeDaemon drives the server side of a pipe through exactly the
// sequence RemoteTask is expected to produce, so these tests exercise
// the proxy's wire behavior without a real daemon package.
func fakeDaemon(t *testing.T, server messenger.Messenger, req types.Requisition, result []float32) (done chan struct{}) {
	t.Helper()
	done = make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()

		msg, err := server.RecvBlocking(ctx)
		require.NoError(t, err)
		require.Equal(t, messenger.TypeStreamJSON, msg.Type)
		require.NoError(t, server.SendBlocking(messenger.Ack()))

		msg, err = server.RecvBlocking(ctx)
		require.NoError(t, err)
		require.Equal(t, messenger.TypeSendInputs, msg.Type)
		require.NoError(t, server.SendBlocking(messenger.Ack()))

		msg, err = server.RecvBlocking(ctx)
		require.NoError(t, err)
		require.Equal(t, messenger.TypeGetRequisition, msg.Type)
		require.NoError(t, server.SendBlocking(&messenger.Message{
			Type: messenger.TypeGetRequisition,
			Data: messenger.EncodeRequisition(req),
		}))

		msg, err = server.RecvBlocking(ctx)
		require.NoError(t, err)
		require.Equal(t, messenger.TypeGetResult, msg.Type)
		require.NoError(t, server.SendBlocking(&messenger.Message{
			Type: messenger.TypeGetResult,
			Data: messenger.FrameToBytes(result),
		}))

		msg, err = server.RecvBlocking(ctx)
		require.NoError(t, err)
		require.Equal(t, messenger.TypeCleanup, msg.Type)
		require.NoError(t, server.SendBlocking(messenger.Ack()))

		msg, err = server.RecvBlocking(ctx)
		require.NoError(t, err)
		require.Equal(t, messenger.TypeTerminate, msg.Type)
		require.NoError(t, server.SendBlocking(messenger.Ack()))
	}()
	return done
}

func TestRemoteTaskFullRoundTrip(t *testing.T) {
	client, server := messenger.NewPipe()
	defer server.Close()

	req := types.Requisition{Dims: types.Dims{Width: 2, Height: 2}, NumElements: 4}
	result := []float32{10, 20, 30, 40}
	done := fakeDaemon(t, server, req, result)

	rt := NewRemoteTask("remote-0", "test-addr", []byte(`{"nodes":[]}`), func(string) (messenger.Messenger, error) {
		return client, nil
	})

	require.NoError(t, rt.Setup(nil))

	in := buffer.New(1, types.Dims{Width: 2, Height: 2}, []float32{1, 2, 3, 4})
	out := buffer.New(2, types.Dims{Width: 2, Height: 2}, make([]float32, 4))

	// GetRequisition ships the frame before asking for the shape, the
	// order the scheduler drives a task in.
	var gotReq types.Requisition
	require.NoError(t, rt.GetRequisition([]*buffer.Buffer{in}, &gotReq))
	require.Equal(t, req.Dims, gotReq.Dims)

	status, err := rt.Process([]*buffer.Buffer{in}, out)
	require.NoError(t, err)
	require.Equal(t, task.StatusContinue, status)

	outHost, err := out.HostArray()
	require.NoError(t, err)
	require.Equal(t, result, outHost)

	rt.ObserveFinish()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fake daemon did not observe cleanup/terminate")
	}
}
