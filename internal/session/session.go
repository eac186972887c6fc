// Package session streams input samples to one host connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/inkbridge/inkbridge-agent/internal/inputsvc"
	"github.com/inkbridge/inkbridge-agent/internal/metrics"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type State uint32

const (
	Idle State = iota
	Connecting
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Active:
		return "Active"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

var (
	ErrNotIdle = errors.New("session is not idle")
	ErrStopped = errors.New("session stopped")
)

// Config is fixed for the lifetime of a session.
type Config struct {
	Transport transport.Config `json:"transport"`
	// SwapAxes exchanges x and y of every frame.
	SwapAxes bool `json:"swapAxes"`
	// StylusOnly drops finger samples.
	StylusOnly bool `json:"stylusOnly"`
}

type sessionOptions struct {
	metrics   *metrics.Metrics
	onFailure func(s *Session, err error)
}

type Option func(*sessionOptions)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

// WithFailureHandler is called once, outside the session lock, when a write error closes an
// active session.
func WithFailureHandler(fn func(s *Session, err error)) Option {
	return func(o *sessionOptions) {
		o.onFailure = fn
	}
}

// Session owns one sink and writes a frame for every sample its source delivers. Samples may
// arrive on several goroutines at once; encoding and writing a frame is one critical section.
type Session struct {
	ID string

	log     *zap.Logger
	config  Config
	source  inputsvc.Source
	connect Connector
	options sessionOptions

	state *atomic.Uint32
	done  chan struct{}

	mu          sync.Mutex
	encoder     penframe.Encoder
	frame       penframe.Frame
	sink        transport.Sink
	unsubscribe func()
	cancel      context.CancelFunc
	err         error
}

func New(log *zap.Logger, config Config, source inputsvc.Source, connect Connector, opts ...Option) *Session {
	options := sessionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	id := uuid.NewString()
	return &Session{
		ID:      id,
		log:     log.With(zap.String("session", id)),
		config:  config,
		source:  source,
		connect: connect,
		options: options,
		state:   atomic.NewUint32(uint32(Idle)),
		done:    make(chan struct{}),
		encoder: penframe.Encoder{SwapAxes: config.SwapAxes},
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Config() Config {
	return s.config
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the write error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start connects the session and subscribes it to its source. The config is validated before
// any transport is touched. A failed connection leaves the session Idle.
func (s *Session) Start(ctx context.Context) error {
	if err := s.config.Transport.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.State() != Idle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.state.Store(uint32(Connecting))
	s.mu.Unlock()

	s.log.Info("Connecting", zap.Stringer("transport", s.config.Transport))
	sink, err := s.connect(ctx, s.config.Transport)
	if err != nil {
		if s.state.CompareAndSwap(uint32(Connecting), uint32(Idle)) {
			s.log.Warn("Connection failed", zap.Error(err))
		}
		var connErr *transport.ConnectError
		if errors.As(err, &connErr) {
			s.options.metrics.ConnectFailed(connErr.Kind)
		}
		return err
	}

	s.mu.Lock()
	if s.State() != Connecting {
		s.mu.Unlock()
		sink.Close()
		return ErrStopped
	}
	s.sink = sink
	s.cancel = nil
	s.state.Store(uint32(Active))
	s.unsubscribe = s.source.Subscribe(s.HandleSample)
	s.mu.Unlock()

	s.options.metrics.SessionActive(1)
	s.log.Info("Session active", zap.Stringer("sink", sink))
	return nil
}

// HandleSample encodes sample and writes it to the sink. Unsupported tools are dropped. A
// write error closes the session; later samples write nothing.
func (s *Session) HandleSample(sample penframe.Sample) {
	if s.config.StylusOnly && sample.ToolType == penframe.ToolFinger {
		s.options.metrics.SampleDropped("filtered")
		return
	}

	s.mu.Lock()
	if s.State() != Active {
		s.mu.Unlock()
		return
	}
	if err := s.encoder.Encode(sample, &s.frame); err != nil {
		s.mu.Unlock()
		s.options.metrics.SampleDropped("rejected")
		return
	}
	err := s.sink.WriteFrame(&s.frame)
	if err == nil {
		s.mu.Unlock()
		s.options.metrics.FrameWritten()
		return
	}
	s.err = err
	s.closeLocked()
	s.mu.Unlock()

	s.options.metrics.SessionActive(-1)
	var writeErr *transport.WriteError
	if errors.As(err, &writeErr) {
		s.options.metrics.SessionFailed(writeErr.Kind)
	}
	s.log.Error("Session failed", zap.Error(err))
	if s.options.onFailure != nil {
		s.options.onFailure(s, err)
	}
}

// Stop closes the session from any state and cancels a pending connection. It is
// idempotent.
func (s *Session) Stop() {
	s.stop()
}

// stop reports whether this call closed the session.
func (s *Session) stop() bool {
	s.mu.Lock()
	prev := s.State()
	if prev == Closed {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	s.closeLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if prev == Active {
		s.options.metrics.SessionActive(-1)
	}
	s.log.Info("Session stopped", zap.Stringer("from", prev))
	return true
}

func (s *Session) closeLocked() {
	s.state.Store(uint32(Closed))
	close(s.done)
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.sink != nil {
		s.sink.Close()
	}
}
