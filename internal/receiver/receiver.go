// Package receiver accepts the frame stream of one client on the host side.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler consumes decoded frames. Calls are sequential.
type Handler interface {
	HandleFrame(fields penframe.Fields) error
	// Reset is called when a client disconnects.
	Reset()
}

// Server serves one client at a time; connections arriving while a client is attached are
// closed immediately.
type Server struct {
	log     *zap.Logger
	addr    string
	handler Handler

	listener net.Listener
	busy     *atomic.Bool
	frames   *atomic.Uint64
	ready    chan struct{}
	mu       sync.Mutex
}

func NewServer(log *zap.Logger, addr string, handler Handler) *Server {
	return &Server{
		log:     log,
		addr:    addr,
		handler: handler,
		busy:    atomic.NewBool(false),
		frames:  atomic.NewUint64(0),
		ready:   make(chan struct{}),
	}
}

func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address once the server is ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Frames returns the number of frames handled so far.
func (s *Server) Frames() uint64 {
	return s.frames.Load()
}

func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)
	s.log.Info("Receiver listening", zap.Stringer("addr", listener.Addr()))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})
	group.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("failed to accept: %w", err)
			}
			if !s.busy.CompareAndSwap(false, true) {
				s.log.Info("Busy, rejecting extra connection", zap.Stringer("remote", conn.RemoteAddr()))
				conn.Close()
				continue
			}
			group.Go(func() error {
				defer s.busy.Store(false)
				s.serve(ctx, conn)
				return nil
			})
		}
	})
	err = group.Wait()
	if err != nil {
		return err
	}
	return nil
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	log := s.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	log.Info("Client connected")
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()
	defer s.handler.Reset()

	dec := penframe.NewDecoder(conn)
	for {
		frame, err := dec.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			log.Info("Client disconnected")
			return
		case errors.Is(err, io.ErrUnexpectedEOF):
			log.Warn("Client disconnected mid-frame")
			return
		default:
			if ctx.Err() == nil {
				log.Warn("Client read failed", zap.Error(err))
			}
			return
		}
		s.frames.Inc()
		err = s.handler.HandleFrame(penframe.Decode(frame))
		if err != nil {
			log.Error("failed to handle frame", zap.Error(err))
		}
	}
}
