// Package notify carries human-facing notifications from the streaming core to the UI
// collaborator.
package notify

import (
	"context"
	"fmt"

	"github.com/inkbridge/inkbridge-agent/pkg/bus"
	"go.uber.org/zap"
)

type Kind uint8

const (
	// NotConnected is published once per discovery run when no accessory is attached.
	NotConnected Kind = iota
	InvalidHost
	InvalidPort
	Connected
	SessionFailed
	SessionClosed
)

func (k Kind) String() string {
	switch k {
	case NotConnected:
		return "not connected"
	case InvalidHost:
		return "invalid host"
	case InvalidPort:
		return "invalid port"
	case Connected:
		return "connected"
	case SessionFailed:
		return "session failed"
	case SessionClosed:
		return "session closed"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type Notification struct {
	Kind    Kind
	Session string
	Message string
	Err     error
}

func (n Notification) String() string {
	switch {
	case n.Err != nil:
		return fmt.Sprintf("%s: %s", n.Kind, n.Err)
	case n.Message != "":
		return fmt.Sprintf("%s: %s", n.Kind, n.Message)
	}
	return n.Kind.String()
}

type (
	Bus       = bus.Bus[Kind, Notification]
	Publisher = func(ctx context.Context, n Notification)
)

func NewBus(log *zap.Logger) *Bus {
	return bus.NewBus[Kind, Notification](log)
}

// Publish sends n on b keyed by its kind.
func Publish(b *Bus) Publisher {
	return func(ctx context.Context, n Notification) {
		b.Publish(ctx, n.Kind, n)
	}
}

// Discard drops every notification.
func Discard(context.Context, Notification) {}
