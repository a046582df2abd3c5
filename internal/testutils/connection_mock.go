package testutils

import (
	"net"
	"sync"

	"github.com/pior/muxcache/protocol"
)

// Handler answers one request frame. Returning ok=false sends no response.
type Handler func(req protocol.Frame) (resp protocol.Message, ok bool)

// ConnectionMock is the server end of an in-memory connection. It decodes the frames
// written by the client, records them, and writes back what the handler returns.
type ConnectionMock struct {
	client net.Conn
	server net.Conn

	mu       sync.Mutex
	requests []protocol.Frame

	done chan struct{}
}

// NewConnectionMock starts a mock server. Use Conn as the client side.
func NewConnectionMock(handler Handler) *ConnectionMock {
	client, server := net.Pipe()
	m := &ConnectionMock{
		client: client,
		server: server,
		done:   make(chan struct{}),
	}
	go m.serve(handler)
	return m
}

// Echo answers every request with an OK response carrying the request key and payload.
func Echo(req protocol.Frame) (protocol.Message, bool) {
	return protocol.NewResponse(req.Message.Op, protocol.CodeOK, req.Message.Payload).WithKey(req.Message.Key), true
}

func (m *ConnectionMock) serve(handler Handler) {
	defer close(m.done)
	defer m.server.Close()

	r := protocol.NewReader(m.server, 0)
	w := protocol.NewWriter(m.server)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			return
		}

		m.mu.Lock()
		m.requests = append(m.requests, frame)
		m.mu.Unlock()

		resp, ok := handler(frame)
		if !ok {
			continue
		}
		if err := w.WriteFrame(frame.RequestID, resp); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Conn returns the client side of the connection.
func (m *ConnectionMock) Conn() net.Conn {
	return m.client
}

// Requests returns the frames received so far.
func (m *ConnectionMock) Requests() []protocol.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Frame(nil), m.requests...)
}

// Reply writes a response frame for id, out of band.
func (m *ConnectionMock) Reply(id uint64, resp protocol.Message) error {
	_, err := m.server.Write(protocol.Encode(id, resp))
	return err
}

// Close closes the server side, as if the server went away.
func (m *ConnectionMock) Close() error {
	err := m.server.Close()
	<-m.done
	return err
}
