package raftnet

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hashicorp/raft"

	"github.com/distacean/distacean/pkg/types"
)

// snapshotChunkSize bounds how much of the snapshot reader is buffered at
// once, so a multi-gigabyte snapshot never needs to fit in memory on
// either side of the wire.
const snapshotChunkSize = 64 * 1024

// installSnapshotChunk is one piece of a streamed InstallSnapshot call.
// Args is only populated on the first chunk of a session; the receiver
// keeps the session open (keyed by SessionID) across subsequent chunks
// until Final.
type installSnapshotChunk struct {
	SessionID uint64
	Args      *raft.InstallSnapshotRequest
	Data      []byte
	Final     bool
}

// InstallSnapshot streams data to target in fixed-size chunks so neither
// side buffers the whole snapshot in memory, following the chunked,
// continuation-flagged wire shape described in SPEC_FULL.md.
func (t *Transport) InstallSnapshot(_ raft.ServerID, target raft.ServerAddress, args *raft.InstallSnapshotRequest, resp *raft.InstallSnapshotResponse, data io.Reader) error {
	sessionID := atomic.AddUint64(&t.nextSession, 1)
	buf := make([]byte, snapshotChunkSize)
	first := true

	for {
		n, readErr := io.ReadFull(data, buf)
		if readErr == io.ErrUnexpectedEOF {
			readErr = io.EOF
		}
		final := readErr == io.EOF

		chunk := installSnapshotChunk{
			SessionID: sessionID,
			Data:      append([]byte(nil), buf[:n]...),
			Final:     final,
		}
		if first {
			chunk.Args = args
			first = false
		}
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("raftnet: failed reading snapshot data: %w", readErr)
		}

		payload, err := encode(types.WireKindInstallSnapshot, chunk)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		respPayload, err := t.peers.RequestResponse(ctx, string(target), payload)
		cancel()
		if err != nil {
			return fmt.Errorf("raftnet: install snapshot to %s: %w", target, err)
		}

		if final {
			if len(respPayload) == 0 {
				return fmt.Errorf("raftnet: remote install snapshot failed on %s", target)
			}
			return decodeInto(respPayload, resp)
		}
	}
}

type snapshotSession struct {
	writer *io.PipeWriter
	done   chan raft.RPCResponse
}

// handleInstallSnapshotChunk serves one chunk of an inbound snapshot
// stream. The first chunk opens an io.Pipe and hands a raft.RPC carrying
// the pipe's reader to Consumer(); each chunk's data is written straight
// into the pipe, so the owning raft.Raft consumes the snapshot as it
// arrives rather than after it is fully buffered.
func (t *Transport) handleInstallSnapshotChunk(chunk installSnapshotChunk) ([]byte, error) {
	t.sessionsMu.Lock()
	sess, ok := t.sessions[chunk.SessionID]
	if !ok {
		pr, pw := io.Pipe()
		respCh := make(chan raft.RPCResponse, 1)
		sess = &snapshotSession{writer: pw, done: respCh}
		t.sessions[chunk.SessionID] = sess
		rpc := raft.RPC{Command: chunk.Args, Reader: pr, RespChan: respCh}
		go func() { t.consumerCh <- rpc }()
	}
	t.sessionsMu.Unlock()

	if len(chunk.Data) > 0 {
		if _, err := sess.writer.Write(chunk.Data); err != nil {
			return nil, fmt.Errorf("raftnet: failed writing snapshot chunk: %w", err)
		}
	}
	if !chunk.Final {
		return []byte{1}, nil
	}

	sess.writer.Close()
	t.sessionsMu.Lock()
	delete(t.sessions, chunk.SessionID)
	t.sessionsMu.Unlock()

	result := <-sess.done
	if result.Error != nil {
		return nil, result.Error
	}
	return encodeValue(result.Response)
}
