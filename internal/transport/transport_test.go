package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func TestParseSocketConfig(t *testing.T) {
	type testCase struct {
		host string
		port string
		kind *ConfigErrorKind
	}
	invalidHost := InvalidHost
	invalidPort := InvalidPort
	testCases := []testCase{
		{host: "192.168.1.10", port: "4545"},
		{host: " tablet-host.local ", port: "80"},
		{host: "", port: "4545", kind: &invalidHost},
		{host: "   ", port: "4545", kind: &invalidHost},
		{host: "10.0.0.1", port: "", kind: &invalidPort},
		{host: "10.0.0.1", port: "abc", kind: &invalidPort},
		{host: "10.0.0.1", port: "70000", kind: &invalidPort},
		{host: "10.0.0.1", port: "0", kind: &invalidPort},
	}
	for _, tc := range testCases {
		cfg, err := ParseSocketConfig(tc.host, tc.port)
		if tc.kind == nil {
			require.NoError(t, err, "%q:%q", tc.host, tc.port)
			assert.Equal(t, KindSocket, cfg.Kind)
			assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
			continue
		}
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr, "%q:%q", tc.host, tc.port)
		assert.Equal(t, *tc.kind, cfgErr.Kind)
	}
}

func TestDialSocketWritesFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, penframe.Size*2)
		_, err = io.ReadFull(conn, buf)
		if err != nil {
			return
		}
		received <- buf
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg, err := ParseSocketConfig("127.0.0.1", fmt.Sprint(addr.Port))
	require.NoError(t, err)

	sink, err := DialSocket(context.Background(), zap.NewNop(), cfg)
	require.NoError(t, err)
	defer sink.Close()

	var f penframe.Frame
	enc := penframe.Encoder{}
	require.NoError(t, enc.Encode(penframe.Sample{ToolType: penframe.ToolStylus, X: 1, Y: 2, Pressure: 0.3}, &f))
	require.NoError(t, sink.WriteFrame(&f))
	require.NoError(t, sink.WriteFrame(&f))

	select {
	case buf := <-received:
		assert.Equal(t, f[:], buf[:penframe.Size])
		assert.Equal(t, f[:], buf[penframe.Size:])
	case <-time.After(5 * time.Second):
		t.Fatal("frames not received")
	}
}

func TestDialSocketRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := Config{Kind: KindSocket, Host: "127.0.0.1", Port: uint16(port), ConnectTimeout: time.Second}
	_, err = DialSocket(context.Background(), zap.NewNop(), cfg)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectRefused, connErr.Kind)
}

func TestDialSocketRejectsInvalidConfig(t *testing.T) {
	_, err := DialSocket(context.Background(), zap.NewNop(), Config{Kind: KindSocket, Port: 4545})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, InvalidHost, cfgErr.Kind)
}

func TestClassifyDial(t *testing.T) {
	assert.Equal(t, ConnectTimeout, classifyDial(context.DeadlineExceeded).Kind)
	assert.Equal(t, ConnectNotFound, classifyDial(&net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}).Kind)
	assert.Equal(t, ConnectRefused, classifyDial(&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", unix.ECONNREFUSED)}).Kind)
}

type fakeStream struct {
	n      int
	err    error
	closed int
	writes int
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.writes++
	if f.err != nil {
		return 0, f.err
	}
	if f.n >= 0 {
		return f.n, nil
	}
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.closed++
	return errors.New("already broken")
}

func TestStreamSinkWriteErrors(t *testing.T) {
	type testCase struct {
		stream *fakeStream
		kind   WriteErrorKind
	}
	testCases := []testCase{
		{stream: &fakeStream{err: os.NewSyscallError("write", unix.EPIPE)}, kind: WriteBrokenPipe},
		{stream: &fakeStream{err: os.NewSyscallError("write", unix.ECONNRESET)}, kind: WriteBrokenPipe},
		{stream: &fakeStream{err: os.ErrClosed}, kind: WriteBrokenPipe},
		{stream: &fakeStream{err: unix.EIO}, kind: WriteIOFault},
		{stream: &fakeStream{n: 7}, kind: WriteIOFault},
	}
	for _, tc := range testCases {
		sink := newStreamSink(zap.NewNop(), "fake", tc.stream, tc.stream)
		var f penframe.Frame
		err := sink.WriteFrame(&f)
		var writeErr *WriteError
		require.ErrorAs(t, err, &writeErr)
		assert.Equal(t, tc.kind, writeErr.Kind)
	}
}

func TestStreamSinkCloseIsIdempotent(t *testing.T) {
	a := &fakeStream{n: -1}
	b := &fakeStream{n: -1}
	sink := newStreamSink(zap.NewNop(), "fake", a, a, nil, b)
	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed, "each resource is closed even when a previous one fails")
}

func TestOpenAccessory(t *testing.T) {
	type testCase struct {
		err  error
		kind ConnectErrorKind
	}
	testCases := []testCase{
		{err: fmt.Errorf("open /dev/usb_accessory: %w", os.ErrPermission), kind: ConnectNotAuthorized},
		{err: fmt.Errorf("open /dev/usb_accessory: %w", os.ErrNotExist), kind: ConnectNotFound},
		{err: unix.EBUSY, kind: ConnectRefused},
	}
	for _, tc := range testCases {
		_, err := OpenAccessory(zap.NewNop(), "usb_accessory", func() (io.WriteCloser, error) {
			return nil, tc.err
		})
		var connErr *ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, tc.kind, connErr.Kind)
	}

	stream := &fakeStream{n: -1}
	sink, err := OpenAccessory(zap.NewNop(), "usb_accessory", func() (io.WriteCloser, error) {
		return stream, nil
	})
	require.NoError(t, err)
	var f penframe.Frame
	require.NoError(t, sink.WriteFrame(&f))
	assert.Equal(t, 1, stream.writes)
	assert.Equal(t, "accessory/usb_accessory", sink.String())
}
