package linux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/inkbridge/inkbridge-agent/internal/accessorysvc"
	"github.com/jochenvg/go-udev"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var defaultManagerOptions = managerOptions{
	subsystem:     "misc",
	sysnamePrefix: "usb_accessory",
}

type managerOptions struct {
	subsystem     string
	sysnamePrefix string
}

type Option func(*managerOptions)

// WithDeviceMatch overrides the udev subsystem and sysname prefix identifying accessory nodes.
func WithDeviceMatch(subsystem, sysnamePrefix string) Option {
	return func(o *managerOptions) {
		o.subsystem = subsystem
		o.sysnamePrefix = sysnamePrefix
	}
}

// Manager implements accessorysvc.Manager for Linux devices running the USB accessory gadget
// function. The function exposes the accessory as a character device once a host has
// switched the device into accessory mode; the node is writable only after access has been
// granted to the agent.
type Manager struct {
	log     *zap.Logger
	options managerOptions
	udev    *udev.Udev
}

func NewManager(log *zap.Logger, opts ...Option) *Manager {
	options := defaultManagerOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Manager{
		log:     log,
		options: options,
		udev:    &udev.Udev{},
	}
}

func (m *Manager) Accessories() ([]accessorysvc.Accessory, error) {
	e := m.udev.NewEnumerate()
	err := e.AddMatchSubsystem(m.options.subsystem)
	if err != nil {
		return nil, fmt.Errorf("failed to match subsystem %s: %w", m.options.subsystem, err)
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var accessories []accessorysvc.Accessory
	for _, dev := range devices {
		if !strings.HasPrefix(dev.Sysname(), m.options.sysnamePrefix) {
			continue
		}
		devnode := dev.Devnode()
		if devnode == "" {
			m.log.Debug("accessory without device node", zap.String("syspath", dev.Syspath()))
			continue
		}
		accessories = append(accessories, accessorysvc.Accessory{
			ID:      dev.Sysname(),
			Devnode: devnode,
			Name:    generateName(dev.Sysname(), dev.PropertyValue("ID_MODEL")),
		})
	}
	sort.Slice(accessories, func(i, j int) bool {
		return accessories[i].ID < accessories[j].ID
	})
	return accessories, nil
}

func generateName(sysname, model string) string {
	if model != "" {
		return fmt.Sprintf("%s (%s)", model, sysname)
	}
	return sysname
}

func (m *Manager) HasPermission(acc accessorysvc.Accessory) bool {
	return unix.Access(acc.Devnode, unix.W_OK) == nil
}

func (m *Manager) Open(acc accessorysvc.Accessory) (io.WriteCloser, error) {
	f, err := os.OpenFile(acc.Devnode, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
