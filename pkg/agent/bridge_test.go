package agent

import (
	"context"
	"testing"
	"time"

	"github.com/inkbridge/inkbridge-agent/internal/inputsvc"
	"github.com/inkbridge/inkbridge-agent/internal/session"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// pollingConnector behaves like accessory discovery with nothing attached: it blocks until
// its context ends.
type pollingConnector struct {
	entered chan struct{}
	pending *atomic.Int32
}

func (p *pollingConnector) connect(ctx context.Context, _ transport.Config) (transport.Sink, error) {
	p.pending.Inc()
	defer p.pending.Dec()
	p.entered <- struct{}{}
	<-ctx.Done()
	return nil, &transport.ConnectError{Kind: transport.ConnectNotFound, Err: ctx.Err()}
}

func waitEntered(t *testing.T, p *pollingConnector) {
	t.Helper()
	select {
	case <-p.entered:
	case <-time.After(time.Second):
		t.Fatal("session attempt was not started")
	}
}

func TestSessionLoopConfigChangeCancelsPendingAttempt(t *testing.T) {
	pc := &pollingConnector{entered: make(chan struct{}, 8), pending: atomic.NewInt32(0)}
	a := &Agent{
		log:      zap.NewNop(),
		sessions: session.NewService(zap.NewNop(), inputsvc.NewDispatcher(), pc.connect, nil, nil),
	}

	cfg := DefaultBridgeConfig()
	changes := make(chan BridgeConfig, 1)
	// a change that is already waiting races the first attempt's start
	changes <- cfg

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- a.sessionLoop(ctx, cfg, changes)
	}()

	waitEntered(t, pc)
	waitEntered(t, pc)

	changes <- cfg
	waitEntered(t, pc)

	cancel()
	select {
	case err := <-loopDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session loop did not stop")
	}
	assert.Eventually(t, func() bool { return pc.pending.Load() == 0 }, time.Second, 10*time.Millisecond)
}
