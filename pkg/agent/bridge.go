package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkbridge/inkbridge-agent/internal/configsvc"
	"github.com/inkbridge/inkbridge-agent/internal/hoststore"
	inputlinux "github.com/inkbridge/inkbridge-agent/internal/inputsvc/linux"
	"github.com/inkbridge/inkbridge-agent/internal/session"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (a *Agent) runBridge(ctx context.Context, overrides []Override) error {
	select {
	case <-ctx.Done():
		return nil
	case <-a.configSvc.Ready():
	}

	changes := make(chan BridgeConfig, 1)
	cfg, err := configsvc.Register(a.configSvc, a.config.BridgeConfig, DefaultBridgeConfig(), func(cfg BridgeConfig, err error) {
		if err != nil {
			a.log.Error("failed to parse bridge config", zap.Error(err))
			return
		}
		cfg = cfg.apply(overrides)
		// keep only the latest change
		select {
		case <-changes:
		default:
		}
		select {
		case changes <- cfg:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register bridge config: %w", err)
	}
	cfg = cfg.apply(overrides)

	reader := inputlinux.NewReader(a.log.Named("input.linux"), a.dispatcher, inputlinux.WithDevices(cfg.Inputs...))
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return reader.Start(ctx)
	})
	group.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-reader.Ready():
		}
		return a.sessionLoop(ctx, cfg, changes)
	})
	return group.Wait()
}

// sessionLoop keeps at most one session running for the current bridge config. A failed
// session is not replaced until the config changes. Each attempt runs under its own context
// so a config change can cancel a connection that is still being set up.
func (a *Agent) sessionLoop(ctx context.Context, cfg BridgeConfig, changes <-chan BridgeConfig) error {
	for {
		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		result := make(chan *session.Session, 1)
		go func(cfg BridgeConfig) {
			result <- a.startSession(attemptCtx, cfg)
		}(cfg)

		var sess *session.Session
		select {
		case <-ctx.Done():
			a.abandon(cancelAttempt, result)
			return nil
		case next := <-changes:
			a.log.Info("Bridge config changed, restarting session")
			a.abandon(cancelAttempt, result)
			cfg = next
			continue
		case sess = <-result:
		}

		var done <-chan struct{}
		if sess != nil {
			done = sess.Done()
		}
		select {
		case <-ctx.Done():
			a.sessions.StopSession(context.Background())
			cancelAttempt()
			return nil
		case next := <-changes:
			a.log.Info("Bridge config changed, restarting session")
			a.sessions.StopSession(ctx)
			cfg = next
		case <-done:
			a.log.Warn("Session ended, waiting for a bridge config change", zap.Error(sess.Err()))
			select {
			case <-ctx.Done():
				cancelAttempt()
				return nil
			case cfg = <-changes:
			}
		}
		cancelAttempt()
	}
}

// abandon cancels a session that is still being started and waits for the attempt to end.
func (a *Agent) abandon(cancel context.CancelFunc, result <-chan *session.Session) {
	cancel()
	a.sessions.StopSession(context.Background())
	if sess := <-result; sess != nil {
		sess.Stop()
	}
}

func (a *Agent) startSession(ctx context.Context, cfg BridgeConfig) *session.Session {
	sc, err := a.sessionConfig(cfg)
	if err != nil {
		a.sessions.ReportConfigError(ctx, err)
		a.log.Error("Invalid bridge config", zap.Error(err))
		return nil
	}
	sess, err := a.sessions.StartSession(ctx, sc)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Error("failed to start session", zap.Error(err))
		}
		return nil
	}
	if sc.Transport.Kind == transport.KindSocket {
		_, err = a.hosts.Touch(sc.Transport)
		if err != nil {
			a.log.Warn("failed to record host", zap.Error(err))
		}
	}
	return sess
}

// sessionConfig falls back to the most recently connected host when a socket config names
// none.
func (a *Agent) sessionConfig(cfg BridgeConfig) (session.Config, error) {
	kind, err := transport.ParseKind(cfg.Transport)
	if err == nil && kind == transport.KindSocket && cfg.Host == "" {
		last, err := a.hosts.Last()
		switch {
		case errors.Is(err, hoststore.ErrNoHosts):
		case err != nil:
			a.log.Warn("failed to read host history", zap.Error(err))
		default:
			a.log.Info("Using last connected host", zap.String("host", last.Host), zap.Uint16("port", last.Port))
			cfg.Host = last.Host
			cfg.Port = fmt.Sprint(last.Port)
		}
	}
	return cfg.SessionConfig()
}
