package agent

import (
	"time"

	"github.com/inkbridge/inkbridge-agent/internal/session"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
)

// Config points to the data directory and to the bridge configuration file. Live reload only
// applies to the bridge configuration.
type Config struct {
	DataDir      string `json:"dataDir"`
	BridgeConfig string `json:"bridgeConfig"`
	MetricsAddr  string `json:"metricsAddr"`
}

// BridgeConfig is the user-editable streaming configuration, stored as YAML.
type BridgeConfig struct {
	// Transport is "accessory" (USB) or "socket" (Wi-Fi).
	Transport string `json:"transport"`
	// Host and Port are kept as entered so that invalid values are reported as such. An empty
	// host selects the most recently connected one.
	Host             string   `json:"host,omitempty"`
	Port             string   `json:"port,omitempty"`
	ConnectTimeoutMs int      `json:"connectTimeoutMs,omitempty"`
	SwapAxes         bool     `json:"swapAxes"`
	StylusOnly       bool     `json:"stylusOnly"`
	Inputs           []string `json:"inputs,omitempty"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Transport: transport.KindAccessory.String(),
		Port:      "9000",
	}
}

// Override adjusts a loaded bridge config, e.g. from command line flags.
type Override func(cfg *BridgeConfig)

func (c BridgeConfig) apply(overrides []Override) BridgeConfig {
	for _, o := range overrides {
		o(&c)
	}
	return c
}

// SessionConfig validates c and converts it into session parameters.
func (c BridgeConfig) SessionConfig() (session.Config, error) {
	kind, err := transport.ParseKind(c.Transport)
	if err != nil {
		return session.Config{}, err
	}
	var tc transport.Config
	switch kind {
	case transport.KindAccessory:
		tc = transport.AccessoryConfig()
	case transport.KindSocket:
		tc, err = transport.ParseSocketConfig(c.Host, c.Port)
		if err != nil {
			return session.Config{}, err
		}
		if c.ConnectTimeoutMs > 0 {
			tc.ConnectTimeout = time.Duration(c.ConnectTimeoutMs) * time.Millisecond
		}
	}
	return session.Config{
		Transport:  tc,
		SwapAxes:   c.SwapAxes,
		StylusOnly: c.StylusOnly,
	}, nil
}
