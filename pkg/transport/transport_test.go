package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Kind: FrameRequest, CorrelationID: 42, Payload: []byte("hello")}
	require.NoError(t, writeFrame(&buf, want))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Kind: FrameResponse, CorrelationID: 7}
	require.NoError(t, writeFrame(&buf, want))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameResponse, got.Kind)
	assert.EqualValues(t, 7, got.CorrelationID)
	assert.Empty(t, got.Payload)
}

type echoHandler struct{}

func (echoHandler) HandleRequest(_ context.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	for i := range out {
		out[i]++
	}
	return out, nil
}

func TestRequestResponseOverRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := NewPeerManager(echoHandler{}, zerolog.Nop())
	server.Serve(ln)

	client := NewPeerManager(echoHandler{}, zerolog.Nop())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.RequestResponse(ctx, ln.Addr().String(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4}, resp)
}

func TestRequestResponseFailsPendingOnConnectionLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client := NewPeerManager(echoHandler{}, zerolog.Nop())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := client.RequestResponse(ctx, ln.Addr().String(), []byte{1})
		done <- err
	}()

	conn := <-accepted
	_, err = readFrame(conn)
	require.NoError(t, err)
	conn.Close() // drop the connection without ever responding

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnreachable)
	case <-time.After(time.Second):
		t.Fatal("RequestResponse did not observe the connection loss")
	}
}

func TestRequestResponseCanceledContext(t *testing.T) {
	client := NewPeerManager(echoHandler{}, zerolog.Nop())
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.RequestResponse(ctx, "127.0.0.1:1", []byte("x"))
	assert.Error(t, err)
}
