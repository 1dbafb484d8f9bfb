// Package transport implements distacean's peer connection manager: one
// long-lived net.Conn per peer, multiplexing Raft RPCs and application
// requests over length-prefixed frames correlated by id, with automatic
// reconnect. It is the substrate pkg/raftnet's raft.Transport and
// pkg/node's inter-node forwarding/linearizer calls are both built on.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameKind discriminates a request frame from its matching response.
type FrameKind uint8

const (
	FrameRequest  FrameKind = 1
	FrameResponse FrameKind = 2
)

// Frame is one message on the wire: uint32 length (of everything after the
// length field itself) + uint8 kind + uint64 correlation id + payload.
type Frame struct {
	Kind          FrameKind
	CorrelationID uint64
	Payload       []byte
}

const frameHeaderSize = 1 + 8 // kind + correlation id, counted inside the length prefix

// writeFrame writes f to w in one call, matching net.Conn's guarantee that
// a single Write of a contiguous buffer is not interleaved with another
// goroutine's write on the same connection.
func writeFrame(w io.Writer, f Frame) error {
	buf := make([]byte, 4+frameHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(frameHeaderSize+len(f.Payload)))
	buf[4] = byte(f.Kind)
	binary.BigEndian.PutUint64(buf[5:13], f.CorrelationID)
	copy(buf[13:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one frame from r.
func readFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < frameHeaderSize {
		return Frame{}, fmt.Errorf("transport: frame too short: %d bytes", total)
	}

	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, total-frameHeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{
		Kind:          FrameKind(header[0]),
		CorrelationID: binary.BigEndian.Uint64(header[1:9]),
		Payload:       payload,
	}, nil
}
