package hoststore

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func openStore(t *testing.T) *Store {
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(db, c.now)
}

func socket(host string, port uint16) transport.Config {
	return transport.Config{Kind: transport.KindSocket, Host: host, Port: port}
}

func TestTouchAndList(t *testing.T) {
	s := openStore(t)

	_, err := s.Last()
	assert.ErrorIs(t, err, ErrNoHosts)

	first, err := s.Touch(socket("192.168.1.10", 9000))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Connections)
	assert.Equal(t, first.FirstSeenAt, first.LastSeenAt)

	_, err = s.Touch(socket("192.168.1.20", 9000))
	require.NoError(t, err)
	again, err := s.Touch(socket("192.168.1.10", 9000))
	require.NoError(t, err)
	assert.Equal(t, 2, again.Connections)
	assert.Equal(t, first.FirstSeenAt, again.FirstSeenAt)
	assert.True(t, again.LastSeenAt.After(first.LastSeenAt))

	hosts, err := s.List()
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "192.168.1.10", hosts[0].Host)
	assert.Equal(t, "192.168.1.20", hosts[1].Host)

	last, err := s.Last()
	require.NoError(t, err)
	assert.Equal(t, socket("192.168.1.10", 9000).Address(), last.Config().Address())
	assert.Equal(t, transport.DefaultConnectTimeout, last.Config().ConnectTimeout)

	require.NoError(t, s.Forget(socket("192.168.1.10", 9000)))
	last, err = s.Last()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", last.Host)
}
