package hub

import (
	"context"
	"fmt"
	"net"
	"sync"

	"firestige.xyz/rtpscope/internal/log"
)

// Server accepts viewer connections over TCP and hands each one to the hub.
type Server struct {
	addr     string
	hub      *Hub
	logger   log.Logger
	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewServer creates a new viewer server.
func NewServer(addr string, hub *Hub, logger log.Logger) *Server {
	return &Server{
		addr:   addr,
		hub:    hub,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the listener. It is separate from Serve so that callers
// learn about bind failures before going to the background.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.WithField("addr", ln.Addr().String()).Info("viewer server started")
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then stops the server.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go s.acceptLoop(ctx)

	<-ctx.Done()
	s.logger.WithField("reason", ctx.Err()).Info("viewer server stopping")
	return s.Stop()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()

			if stopped {
				return
			}

			s.logger.WithError(err).Error("failed to accept connection")
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	s.logger.WithField("remote", conn.RemoteAddr().String()).Debug("viewer connection established")
	s.hub.Serve(ctx, conn)
}

// Stop closes the listener and every open connection, then waits for the
// viewer sessions to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("viewer server stopped")
	return nil
}
