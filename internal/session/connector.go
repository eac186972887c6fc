package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/inkbridge/inkbridge-agent/internal/accessorysvc"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"go.uber.org/zap"
)

// Connector opens the sink described by cfg. It blocks until the sink is open, the attempt
// fails or ctx is done.
type Connector func(ctx context.Context, cfg transport.Config) (transport.Sink, error)

var errNoAccessorySupport = errors.New("accessory transport is not available")

// NewConnector dials sockets directly and runs accessory discovery with discoveryOpts before
// opening the accessory found. manager may be nil on systems without accessory support.
func NewConnector(log *zap.Logger, manager accessorysvc.Manager, discoveryOpts ...accessorysvc.Option) Connector {
	return func(ctx context.Context, cfg transport.Config) (transport.Sink, error) {
		switch cfg.Kind {
		case transport.KindSocket:
			return transport.DialSocket(ctx, log, cfg)
		case transport.KindAccessory:
			if manager == nil {
				return nil, &transport.ConnectError{Kind: transport.ConnectNotFound, Err: errNoAccessorySupport}
			}
			acc, err := accessorysvc.NewDiscovery(log.Named("discovery"), manager, discoveryOpts...).Run(ctx)
			if err != nil {
				return nil, err
			}
			return transport.OpenAccessory(log, acc.String(), func() (io.WriteCloser, error) {
				return manager.Open(acc)
			})
		}
		return nil, fmt.Errorf("unknown transport kind %s", cfg.Kind)
	}
}
