package linux

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/inkbridge/inkbridge-agent/internal/inputsvc"
	"github.com/kenshaw/evdev"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var defaultReaderOptions = readerOptions{
	glob: "/dev/input/event*",
}

type readerOptions struct {
	paths []string
	glob  string
}

type Option func(*readerOptions)

// WithDevices reads only the given event device nodes instead of discovering pen devices.
func WithDevices(paths ...string) Option {
	return func(o *readerOptions) {
		o.paths = paths
	}
}

// Reader reads evdev pointer devices and dispatches their samples. Every device is a separate
// delivery channel.
type Reader struct {
	log        *zap.Logger
	options    readerOptions
	dispatcher *inputsvc.Dispatcher

	ready chan struct{}
}

func NewReader(log *zap.Logger, dispatcher *inputsvc.Dispatcher, opts ...Option) *Reader {
	options := defaultReaderOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Reader{
		log:        log,
		options:    options,
		dispatcher: dispatcher,
		ready:      make(chan struct{}),
	}
}

func (r *Reader) Ready() <-chan struct{} {
	return r.ready
}

// Start opens the devices and reads them until ctx is done.
func (r *Reader) Start(ctx context.Context) error {
	devices, err := r.openDevices()
	if err != nil {
		return err
	}
	defer func() {
		for _, d := range devices {
			d.dev.Close()
		}
	}()
	close(r.ready)

	group, ctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		d := d
		group.Go(func() error {
			r.read(ctx, d)
			return nil
		})
	}
	return group.Wait()
}

type device struct {
	path     string
	dev      *evdev.Evdev
	pressure inputsvc.AxisRange
}

func (r *Reader) openDevices() ([]device, error) {
	paths := r.options.paths
	discover := len(paths) == 0
	if discover {
		var err error
		paths, err = filepath.Glob(r.options.glob)
		if err != nil {
			return nil, fmt.Errorf("failed to list input devices: %w", err)
		}
	}
	var devices []device
	for _, path := range paths {
		dev, err := evdev.OpenFile(path)
		if err != nil {
			if discover {
				r.log.Debug("skipping input device", zap.String("path", path), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("failed to open input device %s: %w", path, err)
		}
		axis, ok := dev.AbsoluteTypes()[evdev.AbsolutePressure]
		if discover && !ok {
			dev.Close()
			continue
		}
		d := device{path: path, dev: dev}
		if ok {
			d.pressure = inputsvc.AxisRange{Min: axis.Min, Max: axis.Max}
		}
		r.log.Info("Input device opened",
			zap.String("path", path),
			zap.String("name", dev.Name()),
			zap.Int32("pressureMax", d.pressure.Max),
		)
		devices = append(devices, d)
	}
	if len(devices) == 0 {
		return nil, errors.New("no pen input devices found")
	}
	return devices, nil
}

func (r *Reader) read(ctx context.Context, d device) {
	tracker := inputsvc.NewTracker(d.pressure)
	events := d.dev.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				r.log.Info("Input device closed", zap.String("path", d.path))
				return
			}
			if env == nil {
				continue
			}
			sample, ok := tracker.Feed(uint16(env.Event.Type), env.Event.Code, env.Event.Value)
			if ok {
				r.dispatcher.Dispatch(sample)
			}
		}
	}
}
