package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	client, server := NewPipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.SendBlocking(&Message{Type: TypeStreamJSON, Data: []byte(`{"nodes":[]}`)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := server.RecvBlocking(ctx)
	require.NoError(t, err)
	require.Equal(t, TypeStreamJSON, got.Type)
	require.Equal(t, []byte(`{"nodes":[]}`), got.Data)
}

func TestSendRecvEmptyPayload(t *testing.T) {
	client, server := NewPipe()
	defer client.Close()
	defer server.Close()

	go func() { _ = client.SendBlocking(Ack()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := server.RecvBlocking(ctx)
	require.NoError(t, err)
	require.Equal(t, TypeAck, got.Type)
	require.Empty(t, got.Data)
}

func TestRecvBlockingUnblocksOnContextCancel(t *testing.T) {
	_, server := NewPipe()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := server.RecvBlocking(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("RecvBlocking did not unblock on context cancellation")
	}
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "stream_json", TypeStreamJSON.String())
	require.Equal(t, "ack", TypeAck.String())
	require.Equal(t, "invalid", TypeInvalid.String())
}
