package transport

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// DialSocket connects to the host described by cfg. The connect attempt is bounded by
// cfg.ConnectTimeout (DefaultConnectTimeout when unset) and by ctx.
func DialSocket(ctx context.Context, log *zap.Logger, cfg Config) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, classifyDial(err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// frames must leave immediately, never coalesced by Nagle
		if err := tcp.SetNoDelay(true); err != nil {
			log.Warn("failed to disable nagle", zap.Error(err))
		}
	}
	log.Info("Socket connected", zap.String("addr", cfg.Address()), zap.String("local", conn.LocalAddr().String()))
	return newStreamSink(log, cfg.String(), conn, conn), nil
}
