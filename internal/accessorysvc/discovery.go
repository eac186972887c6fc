// Package accessorysvc waits for a USB accessory to be attached and authorized.
package accessorysvc

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/inkbridge/inkbridge-agent/internal/notify"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Accessory is an attached accessory as reported by the backend.
type Accessory struct {
	ID      string `json:"id"`
	Devnode string `json:"devnode"`
	Name    string `json:"name"`
}

func (a Accessory) String() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Manager is the system's accessory service.
type Manager interface {
	// Accessories lists attached accessories in system order.
	Accessories() ([]Accessory, error)
	// HasPermission reports whether the process may open the accessory. Permission may be
	// granted out of band at any time.
	HasPermission(acc Accessory) bool
	Open(acc Accessory) (io.WriteCloser, error)
}

type State uint32

const (
	Searching State = iota
	FoundUnauthorized
	Authorized
	Cancelled
)

func (s State) String() string {
	switch s {
	case Searching:
		return "Searching"
	case FoundUnauthorized:
		return "FoundUnauthorized"
	case Authorized:
		return "Authorized"
	case Cancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

var defaultOptions = discoveryOptions{
	pollInterval: 1000 * time.Millisecond,
}

type discoveryOptions struct {
	pollInterval  time.Duration
	onPoll        func(State)
	notify        notify.Publisher
	notConnectMsg string
}

type Option func(*discoveryOptions)

func WithPollInterval(d time.Duration) Option {
	return func(o *discoveryOptions) {
		o.pollInterval = d
	}
}

// WithNotify sets where the one-time "not connected" notification goes.
func WithNotify(p notify.Publisher) Option {
	return func(o *discoveryOptions) {
		o.notify = p
	}
}

// WithPollHook is called with the state reached at the end of every poll.
func WithPollHook(fn func(State)) Option {
	return func(o *discoveryOptions) {
		o.onPoll = fn
	}
}

// Discovery polls the manager until the first attached accessory is authorized. A Discovery
// is single use.
type Discovery struct {
	log     *zap.Logger
	manager Manager
	options discoveryOptions

	state    *atomic.Uint32
	notified *atomic.Bool
	polls    *atomic.Int64
}

func NewDiscovery(log *zap.Logger, manager Manager, opts ...Option) *Discovery {
	options := defaultOptions
	options.notify = notify.Discard
	options.notConnectMsg = "USB link not established. Connect the device to the host and start the host application."
	for _, opt := range opts {
		opt(&options)
	}
	return &Discovery{
		log:      log,
		manager:  manager,
		options:  options,
		state:    atomic.NewUint32(uint32(Searching)),
		notified: atomic.NewBool(false),
		polls:    atomic.NewInt64(0),
	}
}

func (d *Discovery) State() State {
	return State(d.state.Load())
}

// Polls returns the number of completed poll cycles.
func (d *Discovery) Polls() int64 {
	return d.polls.Load()
}

// Run blocks until an accessory is authorized or ctx is done. Only the first accessory of
// the system list is considered; several attached accessories are not told apart.
// Cancellation is observed at the next poll boundary and yields a ConnectError of kind
// NotFound wrapping ctx.Err().
func (d *Discovery) Run(ctx context.Context) (Accessory, error) {
	d.log.Info("Searching for accessory")
	ticker := time.NewTicker(d.options.pollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return d.cancelled(ctx)
		}
		acc, ok := d.poll(ctx)
		if ok {
			return acc, nil
		}
		select {
		case <-ctx.Done():
			return d.cancelled(ctx)
		case <-ticker.C:
		}
	}
}

func (d *Discovery) poll(ctx context.Context) (Accessory, bool) {
	defer func() {
		d.polls.Inc()
		if d.options.onPoll != nil {
			d.options.onPoll(d.State())
		}
	}()
	accessories, err := d.manager.Accessories()
	if err != nil {
		d.log.Error("failed to list accessories", zap.Error(err))
	}
	if len(accessories) == 0 {
		d.setState(Searching)
		if d.notified.CompareAndSwap(false, true) {
			d.options.notify(ctx, notify.Notification{
				Kind:    notify.NotConnected,
				Message: d.options.notConnectMsg,
			})
		}
		d.log.Debug("No accessory attached")
		return Accessory{}, false
	}
	acc := accessories[0]
	if !d.manager.HasPermission(acc) {
		if d.setState(FoundUnauthorized) {
			d.log.Info("Accessory found, waiting for permission", zap.String("accessory", acc.String()))
		}
		return Accessory{}, false
	}
	d.setState(Authorized)
	d.log.Info("Accessory authorized", zap.String("accessory", acc.String()), zap.String("devnode", acc.Devnode))
	return acc, true
}

// setState reports whether the state changed.
func (d *Discovery) setState(s State) bool {
	return d.state.Swap(uint32(s)) != uint32(s)
}

func (d *Discovery) cancelled(ctx context.Context) (Accessory, error) {
	d.setState(Cancelled)
	d.log.Info("Accessory search cancelled")
	return Accessory{}, &transport.ConnectError{Kind: transport.ConnectNotFound, Err: ctx.Err()}
}
