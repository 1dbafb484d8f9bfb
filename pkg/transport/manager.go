package transport

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// RequestHandler serves an inbound request frame's payload and returns the
// bytes to send back as its response. A non-nil error is logged and
// answered with an empty-payload response frame; callers that expect a
// non-empty response for a given request kind should treat an empty
// payload as a remote-side failure.
type RequestHandler interface {
	HandleRequest(ctx context.Context, payload []byte) ([]byte, error)
}

// PeerManager owns one outbound PeerConn per peer address plus the
// listener serving inbound connections. GetOrCreateConn is idempotent and
// is the only writer into the connection table, which is guarded by an
// RWMutex since the common path only reads an existing entry.
type PeerManager struct {
	mu    sync.RWMutex
	conns map[string]*PeerConn

	handler RequestHandler
	logger  zerolog.Logger
}

// NewPeerManager constructs a PeerManager. handler serves requests
// arriving on inbound connections accepted via Serve; it may be nil at
// construction time and supplied later with SetHandler, which lets two
// sides of a circular construction (e.g. raftnet.Transport and the
// PeerManager it sends through) be wired up in either order.
func NewPeerManager(handler RequestHandler, logger zerolog.Logger) *PeerManager {
	return &PeerManager{
		conns:   make(map[string]*PeerConn),
		handler: handler,
		logger:  logger,
	}
}

// SetHandler installs the handler serving inbound request frames.
func (m *PeerManager) SetHandler(handler RequestHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// GetOrCreateConn returns the outbound PeerConn for addr, creating and
// starting it on first use.
func (m *PeerManager) GetOrCreateConn(addr string) *PeerConn {
	m.mu.RLock()
	if conn, ok := m.conns[addr]; ok {
		m.mu.RUnlock()
		return conn
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[addr]; ok {
		return conn
	}
	conn := newPeerConn(addr, m.logger)
	m.conns[addr] = conn
	return conn
}

// RequestResponse is a convenience wrapper around
// GetOrCreateConn(addr).RequestResponse.
func (m *PeerManager) RequestResponse(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	return m.GetOrCreateConn(addr).RequestResponse(ctx, payload)
}

// Serve accepts inbound connections on ln until it is closed, dispatching
// each request frame to handler concurrently.
func (m *PeerManager) Serve(ln net.Listener) {
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			go m.serveConn(conn)
		}
	}()
}

func (m *PeerManager) serveConn(conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		if frame.Kind != FrameRequest {
			continue
		}
		go func(req Frame) {
			m.mu.RLock()
			handler := m.handler
			m.mu.RUnlock()

			payload, err := handler.HandleRequest(context.Background(), req.Payload)
			if err != nil {
				m.logger.Warn().Err(err).Msg("request handler failed")
				payload = nil
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = writeFrame(conn, Frame{Kind: FrameResponse, CorrelationID: req.CorrelationID, Payload: payload})
		}(frame)
	}
}

// Close tears down every outbound connection this manager owns.
func (m *PeerManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.conns {
		conn.Close()
	}
}
