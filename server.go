package muxcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pior/muxcache/protocol"
)

var ErrServerClosed = errors.New("muxcache: server closed")

var errIdle = errors.New("muxcache: connection idle")

// outboundQueue is the number of responses buffered per connection before the
// awaiting goroutines block on the writer.
const outboundQueue = 256

// Server accepts connections and serves each one with its own instance of a Service.
//
// Requests on a connection are dispatched as soon as they are decoded, and responses
// are written as soon as they resolve, tagged with the id of their request. Responses
// of one connection may therefore be written in any order.
type Server struct {
	service      Service
	logger       *slog.Logger
	maxFrameSize int
	idleTimeout  time.Duration

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewServer returns a server that instantiates service for every connection.
// Only Addr, MaxFrameSize and IdleTimeout of config are used. If logger is nil,
// slog.Default() is used.
func NewServer(service Service, config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	maxFrameSize := config.MaxFrameSize
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Server{
		service:      service,
		logger:       logger,
		maxFrameSize: maxFrameSize,
		idleTimeout:  config.IdleTimeout,
		listeners:    make(map[net.Listener]struct{}),
		conns:        make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done or Close is called.
// It always returns a non-nil error; ErrServerClosed after a shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called.
// ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("muxcache: listening", "addr", ln.Addr().String())

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = max(5*time.Millisecond, min(2*tempDelay, time.Second))
				s.logger.Warn("muxcache: accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		if !s.trackConn(conn, true) {
			conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)

			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Warn("muxcache: connection closed with error", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Close stops all listeners and closes every active connection, then waits for the
// connection goroutines to exit. Dispatched engine work still runs to completion.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.listeners[ln] = struct{}{}
		return true
	}
	delete(s.listeners, ln)
	return true
}

// trackConn registers conn with the wait group held by Close. The caller must call
// s.wg.Done once it stops serving a connection that was added.
func (s *Server) trackConn(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		return true
	}
	delete(s.conns, conn)
	return true
}

// ServeConn serves a single connection until the peer closes it, a transport error
// occurs, a malformed frame is received, or ctx is done. conn is closed on return.
//
// On a clean end of stream, responses to the requests already received are written
// before the connection is closed. A malformed frame closes the connection at once.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	svc, err := s.service.NewService()
	if err != nil {
		return err
	}

	ctx, abort := context.WithCancel(ctx)
	defer abort()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	out := make(chan protocol.Frame, outboundQueue)

	g.Go(func() error {
		var pending sync.WaitGroup
		defer func() {
			pending.Wait()
			close(out)
		}()

		r := protocol.NewReader(conn, s.maxFrameSize)
		for {
			if s.idleTimeout > 0 {
				if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
					return err
				}
			}

			frame, err := r.ReadFrame()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				if errors.Is(err, os.ErrDeadlineExceeded) {
					s.logger.Debug("muxcache: closing idle connection", "remote", conn.RemoteAddr().String())
					return errIdle
				}
				if errors.Is(err, protocol.ErrProtocol) {
					s.logger.Warn("muxcache: closing connection on malformed frame", "remote", conn.RemoteAddr().String(), "error", err)
					// Drop the responses still in flight.
					abort()
				}
				return err
			}

			id, op := frame.RequestID, frame.Message.Op
			future := svc.Call(gctx, frame.Message)

			pending.Add(1)
			go func() {
				defer pending.Done()

				resp, err := future.Wait(gctx)
				if gctx.Err() != nil {
					return
				}
				if err != nil {
					resp = errorResponse(op, err)
				}

				select {
				case out <- protocol.Frame{RequestID: id, Message: resp}:
				case <-gctx.Done():
				}
			}()
		}
	})

	g.Go(func() error {
		w := protocol.NewWriter(conn)
		for frame := range out {
			if err := w.WriteFrame(frame.RequestID, frame.Message); err != nil {
				return err
			}
			if len(out) == 0 {
				if err := w.Flush(); err != nil {
					return err
				}
			}
		}
		return w.Flush()
	})

	err = g.Wait()
	if s.isClosed() || errors.Is(err, net.ErrClosed) || errors.Is(err, errIdle) {
		return nil
	}
	return err
}
