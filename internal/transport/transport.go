// Package transport provides the sinks that carry encoded frames to the host: a TCP socket
// and a USB accessory byte channel.
package transport

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds the TCP connect of a socket sink.
const DefaultConnectTimeout = 5000 * time.Millisecond

type Kind uint8

const (
	KindSocket Kind = iota
	KindAccessory
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindAccessory:
		return "accessory"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "socket", "wifi", "tcp":
		return KindSocket, nil
	case "accessory", "usb":
		return KindAccessory, nil
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// Config selects and parameterizes a transport. Host, Port and ConnectTimeout are only used
// by KindSocket.
type Config struct {
	Kind           Kind
	Host           string
	Port           uint16
	ConnectTimeout time.Duration
}

func AccessoryConfig() Config {
	return Config{Kind: KindAccessory}
}

// ParseSocketConfig validates the host and port entered by the user.
func ParseSocketConfig(host, port string) (Config, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " /") {
		return Config{}, &ConfigError{Kind: InvalidHost, Value: host}
	}
	p, err := strconv.ParseUint(strings.TrimSpace(port), 10, 16)
	if err != nil || p == 0 {
		return Config{}, &ConfigError{Kind: InvalidPort, Value: port}
	}
	return Config{
		Kind:           KindSocket,
		Host:           host,
		Port:           uint16(p),
		ConnectTimeout: DefaultConnectTimeout,
	}, nil
}

// Validate checks the config before any transport is touched.
func (c Config) Validate() error {
	switch c.Kind {
	case KindAccessory:
		return nil
	case KindSocket:
		if strings.TrimSpace(c.Host) == "" || strings.ContainsAny(c.Host, " /") {
			return &ConfigError{Kind: InvalidHost, Value: c.Host}
		}
		if c.Port == 0 {
			return &ConfigError{Kind: InvalidPort, Value: strconv.Itoa(int(c.Port))}
		}
		return nil
	}
	return fmt.Errorf("unknown transport kind %s", c.Kind)
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func (c Config) String() string {
	if c.Kind == KindSocket {
		return fmt.Sprintf("socket/%s", c.Address())
	}
	return c.Kind.String()
}

// Sink is an open channel to the host. A session owns exactly one.
type Sink interface {
	// WriteFrame writes all bytes of f without internal buffering.
	WriteFrame(f *penframe.Frame) error
	// Close releases the underlying resources. It is safe to call more than once.
	Close() error
	String() string
}

// streamSink writes frames to a byte stream and closes a list of resources independently.
type streamSink struct {
	log     *zap.Logger
	name    string
	w       io.Writer
	closers []io.Closer

	closeOnce sync.Once
}

func newStreamSink(log *zap.Logger, name string, w io.Writer, closers ...io.Closer) *streamSink {
	return &streamSink{
		log:     log,
		name:    name,
		w:       w,
		closers: closers,
	}
}

func (s *streamSink) WriteFrame(f *penframe.Frame) error {
	n, err := s.w.Write(f[:])
	if err != nil {
		return classifyWrite(err)
	}
	if n != penframe.Size {
		return &WriteError{Kind: WriteIOFault, Err: io.ErrShortWrite}
	}
	return nil
}

func (s *streamSink) Close() error {
	s.closeOnce.Do(func() {
		for _, c := range s.closers {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				s.log.Debug("failed to close sink resource", zap.String("sink", s.name), zap.Error(err))
			}
		}
	})
	return nil
}

func (s *streamSink) String() string {
	return s.name
}
