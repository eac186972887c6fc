package session

import (
	"context"
	"errors"
	"sync"

	"github.com/inkbridge/inkbridge-agent/internal/inputsvc"
	"github.com/inkbridge/inkbridge-agent/internal/metrics"
	"github.com/inkbridge/inkbridge-agent/internal/notify"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"go.uber.org/zap"
)

var ErrSessionActive = errors.New("a session is already active")

// Service allows at most one connecting or active session at a time.
type Service struct {
	log     *zap.Logger
	source  inputsvc.Source
	connect Connector
	publish notify.Publisher
	metrics *metrics.Metrics

	mu       sync.Mutex
	current  *Session
	starting bool
}

func NewService(log *zap.Logger, source inputsvc.Source, connect Connector, publish notify.Publisher, m *metrics.Metrics) *Service {
	if publish == nil {
		publish = notify.Discard
	}
	return &Service{
		log:     log,
		source:  source,
		connect: connect,
		publish: publish,
		metrics: m,
	}
}

// Current returns the most recently started session, or nil.
func (s *Service) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// StartSession creates a session for cfg and blocks until it is active or has failed to
// connect. It fails fast with ErrSessionActive while another session is starting, connecting
// or active. Notifications about the session, including a later write failure, are published
// under ctx.
func (s *Service) StartSession(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Transport.Validate(); err != nil {
		s.ReportConfigError(ctx, err)
		return nil, err
	}

	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	if s.current != nil {
		switch s.current.State() {
		case Connecting, Active:
			s.mu.Unlock()
			return nil, ErrSessionActive
		}
	}
	sess := New(s.log, cfg, s.source, s.connect,
		WithMetrics(s.metrics),
		WithFailureHandler(func(sess *Session, err error) {
			s.onFailure(ctx, sess, err)
		}),
	)
	s.current = sess
	s.starting = true
	s.mu.Unlock()

	err := sess.Start(ctx)
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	if err != nil {
		if sess.State() != Closed {
			s.publish(ctx, notify.Notification{
				Kind:    notify.SessionFailed,
				Session: sess.ID,
				Err:     err,
			})
		}
		return nil, err
	}
	s.publish(ctx, notify.Notification{
		Kind:    notify.Connected,
		Session: sess.ID,
		Message: cfg.Transport.String(),
	})
	return sess, nil
}

// StopSession stops the current session, if any.
func (s *Service) StopSession(ctx context.Context) {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil || !sess.stop() {
		return
	}
	s.publish(ctx, notify.Notification{
		Kind:    notify.SessionClosed,
		Session: sess.ID,
	})
}

// onFailure runs on the goroutine delivering samples.
func (s *Service) onFailure(ctx context.Context, sess *Session, err error) {
	s.publish(ctx, notify.Notification{
		Kind:    notify.SessionFailed,
		Session: sess.ID,
		Err:     err,
	})
}

// ReportConfigError publishes InvalidHost or InvalidPort for a ConfigError. Other errors are
// ignored.
func (s *Service) ReportConfigError(ctx context.Context, err error) {
	var cfgErr *transport.ConfigError
	if !errors.As(err, &cfgErr) {
		return
	}
	kind := notify.InvalidHost
	if cfgErr.Kind == transport.InvalidPort {
		kind = notify.InvalidPort
	}
	s.publish(ctx, notify.Notification{
		Kind: kind,
		Err:  err,
	})
}
