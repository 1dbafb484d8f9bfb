package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/distacean/distacean/pkg/log"
)

// reconnectBackoff is the fixed delay between dial attempts, matching the
// original prototype's TcpStreamStarter reconnect loop.
const reconnectBackoff = 5 * time.Second

// ErrClosed is returned by a PeerConn once it has been closed.
var ErrClosed = errors.New("transport: connection closed")

// ErrUnreachable is delivered to every request still pending when the
// underlying connection is lost, so a caller waiting on RequestResponse
// doesn't block until its own context deadline.
var ErrUnreachable = errors.New("transport: peer unreachable")

// pendingResult is what a correlation id's channel carries: either the
// matching response frame, or the error that made waiting for one moot.
type pendingResult struct {
	frame Frame
	err   error
}

// PeerConn is one outbound connection to a peer, used for req_res calls
// this node initiates. It reconnects on loss with a fixed backoff and
// correlates requests with responses by id.
type PeerConn struct {
	addr   string
	logger zerolog.Logger

	writeCh chan Frame
	closeCh chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingResult

	nextID uint64
}

func newPeerConn(addr string, logger zerolog.Logger) *PeerConn {
	c := &PeerConn{
		addr:    addr,
		logger:  log.WithPeerID(logger, addr),
		writeCh: make(chan Frame, 64),
		closeCh: make(chan struct{}),
		pending: make(map[uint64]chan pendingResult),
	}
	go c.connectLoop()
	return c
}

// Close stops the reconnect loop and fails every pending request.
func (c *PeerConn) Close() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

// RequestResponse sends payload as a request frame and blocks for the
// matching response, or until ctx is done or the connection is closed. A
// canceled wait removes its pending-request entry so a late response is
// dropped silently.
func (c *PeerConn) RequestResponse(ctx context.Context, payload []byte) ([]byte, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	respCh := make(chan pendingResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.writeCh <- Frame{Kind: FrameRequest, CorrelationID: id, Payload: payload}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, ErrClosed
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.frame.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, ErrClosed
	}
}

// failPending delivers err to every request awaiting a response and empties
// the pending table, so a connection loss doesn't leave callers blocked
// until their own context deadline.
func (c *PeerConn) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- pendingResult{err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *PeerConn) connectLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", c.addr, reconnectBackoff)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dial failed, retrying")
			select {
			case <-time.After(reconnectBackoff):
				continue
			case <-c.closeCh:
				return
			}
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		down := make(chan struct{})
		var downOnce sync.Once
		signalDown := func() {
			downOnce.Do(func() {
				close(down)
				c.failPending(ErrUnreachable)
			})
		}

		go c.readLoop(conn, signalDown)
		go c.writeLoop(conn, down, signalDown)

		select {
		case <-down:
			conn.Close()
		case <-c.closeCh:
			conn.Close()
			return
		}
	}
}

func (c *PeerConn) readLoop(conn net.Conn, signalDown func()) {
	defer signalDown()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		if frame.Kind != FrameResponse {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[frame.CorrelationID]
		c.pendingMu.Unlock()
		if !ok {
			continue // late response for a canceled/forgotten request, drop
		}
		select {
		case ch <- pendingResult{frame: frame}:
		default:
		}
	}
}

func (c *PeerConn) writeLoop(conn net.Conn, down <-chan struct{}, signalDown func()) {
	for {
		select {
		case frame := <-c.writeCh:
			if err := writeFrame(conn, frame); err != nil {
				signalDown()
				return
			}
		case <-down:
			return
		case <-c.closeCh:
			return
		}
	}
}
