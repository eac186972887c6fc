package agent

import (
	"testing"
	"time"

	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeSessionConfig(t *testing.T) {
	sc, err := DefaultBridgeConfig().SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, transport.KindAccessory, sc.Transport.Kind)

	sc, err = BridgeConfig{
		Transport:        "wifi",
		Host:             " 192.168.0.4 ",
		Port:             "9000",
		ConnectTimeoutMs: 250,
		SwapAxes:         true,
	}.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, transport.KindSocket, sc.Transport.Kind)
	assert.Equal(t, "192.168.0.4:9000", sc.Transport.Address())
	assert.Equal(t, 250*time.Millisecond, sc.Transport.ConnectTimeout)
	assert.True(t, sc.SwapAxes)

	_, err = BridgeConfig{Transport: "socket", Host: "host", Port: "99999"}.SessionConfig()
	var cfgErr *transport.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, transport.InvalidPort, cfgErr.Kind)

	_, err = BridgeConfig{Transport: "bluetooth"}.SessionConfig()
	assert.Error(t, err)
}

func TestBridgeConfigOverrides(t *testing.T) {
	cfg := DefaultBridgeConfig().apply([]Override{
		func(c *BridgeConfig) { c.Transport = "socket" },
		func(c *BridgeConfig) { c.StylusOnly = true },
	})
	assert.Equal(t, "socket", cfg.Transport)
	assert.True(t, cfg.StylusOnly)
	assert.Equal(t, "9000", cfg.Port)
}
