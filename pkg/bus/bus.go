package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type key interface {
	comparable
}

type message interface {
	any
}

type Message[K key, M message] struct {
	Key     K
	Message M
}

type Publisher[M message] func(ctx context.Context, msg M)
type Subscriber[K key, M message] func(ctx context.Context) <-chan Message[K, M]

// Bus delivers published messages to global subscribers and to subscribers of the message
// key. A subscriber that does not keep up loses messages instead of stalling the bus.
type Bus[K key, M message] struct {
	log         *zap.Logger
	concurrency int
	bufferSize  int
	ready       chan struct{}

	ch         chan Message[K, M]
	keySubs    *xsync.MapOf[K, map[chan Message[K, M]]struct{}]
	globalMu   sync.RWMutex
	globalSubs map[chan Message[K, M]]struct{}
}

type Option func(*busOptions)

type busOptions struct {
	concurrency int
	bufferSize  int
}

func WithConcurrency(n int) Option {
	return func(o *busOptions) {
		o.concurrency = n
	}
}

func WithBufferSize(n int) Option {
	return func(o *busOptions) {
		o.bufferSize = n
	}
}

func NewBus[K key, M message](logger *zap.Logger, opts ...Option) *Bus[K, M] {
	options := busOptions{
		concurrency: 1,
		bufferSize:  64,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Bus[K, M]{
		log:         logger,
		ready:       make(chan struct{}),
		concurrency: options.concurrency,
		bufferSize:  options.bufferSize,

		ch:         make(chan Message[K, M], options.bufferSize),
		keySubs:    xsync.NewMapOf[K, map[chan Message[K, M]]struct{}](),
		globalSubs: make(map[chan Message[K, M]]struct{}),
	}
}

func (b *Bus[K, M]) Start(ctx context.Context) error {
	if b.concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	for i := 0; i < b.concurrency; i++ {
		b.startWorker(ctx)
	}
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) startWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-b.ch:
				b.process(msg)
			}
		}
	}()
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
		return
	case b.ch <- Message[K, M]{key, msg}:
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) CreateSubscriber(key ...K) Subscriber[K, M] {
	return func(ctx context.Context) <-chan Message[K, M] {
		return b.Subscribe(ctx, key...)
	}
}

func (b *Bus[K, M]) deliver(sub chan Message[K, M], msg Message[K, M]) {
	select {
	case sub <- msg:
	default:
		b.log.Warn("Dropped message for slow subscriber", zap.Any("key", msg.Key))
	}
}

func (b *Bus[K, M]) process(msg Message[K, M]) {
	b.globalMu.RLock()
	for sub := range b.globalSubs {
		b.deliver(sub, msg)
	}
	b.globalMu.RUnlock()
	b.keySubs.Compute(msg.Key, func(subs map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
		for sub := range subs {
			b.deliver(sub, msg)
		}
		return subs, !ok
	})
}

// Subscribe returns a channel receiving messages for the given keys, or all messages when no
// key is given. The channel is closed when ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, key ...K) <-chan Message[K, M] {
	ch := make(chan Message[K, M], b.bufferSize)
	if len(key) == 0 {
		b.globalMu.Lock()
		b.globalSubs[ch] = struct{}{}
		b.globalMu.Unlock()
		go func() {
			<-ctx.Done()
			b.globalMu.Lock()
			delete(b.globalSubs, ch)
			close(ch)
			b.globalMu.Unlock()
		}()
		return ch
	}
	for _, k := range key {
		b.keySubs.Compute(k, func(val map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
			if !ok {
				val = make(map[chan Message[K, M]]struct{}, 8)
			}
			val[ch] = struct{}{}
			return val, false
		})
	}
	go func() {
		<-ctx.Done()
		for _, k := range key {
			b.keySubs.Compute(k, func(val map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
				delete(val, ch)
				return val, len(val) == 0
			})
		}
		close(ch)
	}()
	return ch
}
