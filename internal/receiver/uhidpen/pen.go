// Package uhidpen drives a virtual HID digitizer pen from decoded frames.
package uhidpen

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"github.com/psanford/uhid"
	"go.uber.org/zap"
)

const (
	ReportID   = 0x01
	ReportSize = 8
	AxisMax    = 32767
)

const (
	flagTip     = 1 << 0
	flagBarrel  = 1 << 1
	flagEraser  = 1 << 2
	flagInvert  = 1 << 3
	flagInRange = 1 << 4
)

// ReportDescriptor describes a single-stylus digitizer with tip, barrel, eraser, invert and
// in-range bits, 16-bit absolute X/Y and 16-bit tip pressure in frame units.
var ReportDescriptor = []byte{
	0x05, 0x0D, // Usage Page (Digitizers)
	0x09, 0x02, // Usage (Pen)
	0xA1, 0x01, // Collection (Application)
	0x85, ReportID, // Report ID
	0x09, 0x20, // Usage (Stylus)
	0xA1, 0x00, // Collection (Physical)
	0x09, 0x42, // Usage (Tip Switch)
	0x09, 0x44, // Usage (Barrel Switch)
	0x09, 0x45, // Usage (Eraser)
	0x09, 0x3C, // Usage (Invert)
	0x09, 0x32, // Usage (In Range)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0x01, // Logical Maximum (1)
	0x75, 0x01, // Report Size (1)
	0x95, 0x05, // Report Count (5)
	0x81, 0x02, // Input (Data,Var,Abs)
	0x95, 0x03, // Report Count (3)
	0x81, 0x03, // Input (Const)
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x30, // Usage (X)
	0x15, 0x00, // Logical Minimum (0)
	0x26, 0xFF, 0x7F, // Logical Maximum (32767)
	0x75, 0x10, // Report Size (16)
	0x95, 0x01, // Report Count (1)
	0x81, 0x02, // Input (Data,Var,Abs)
	0x09, 0x31, // Usage (Y)
	0x81, 0x02, // Input (Data,Var,Abs)
	0x05, 0x0D, // Usage Page (Digitizers)
	0x09, 0x30, // Usage (Tip Pressure)
	0x26, 0xE8, 0x03, // Logical Maximum (1000)
	0x81, 0x02, // Input (Data,Var,Abs)
	0xC0, // End Collection
	0xC0, // End Collection
}

// Mapper converts frames into input reports. Frame coordinates span 0..Width and 0..Height
// and are scaled to 0..AxisMax.
type Mapper struct {
	Width  int32
	Height int32
	// MinPressure is the fraction of full pressure, 0..1, at or below which the tip reports no
	// pressure. The range above it is stretched back to the full scale.
	MinPressure float64
	// Sensitivity shapes pressure as normalized^(1/Sensitivity). Values above 1 reach full
	// pressure sooner. Zero means 1.
	Sensitivity float64
}

// Pressure translates frame pressure through the threshold and curve of m.
func (m Mapper) Pressure(p int32) int32 {
	raw := float64(p) / penframe.PressureScale
	if raw > 1 {
		raw = 1
	}
	if raw <= 0 || raw <= m.MinPressure {
		return 0
	}
	threshold := math.Max(m.MinPressure, 0)
	normalized := (raw - threshold) / (1 - threshold)
	sensitivity := m.Sensitivity
	if sensitivity <= 0 {
		sensitivity = 1
	}
	curved := math.Min(math.Pow(normalized, 1/sensitivity), 1)
	return int32(math.Round(curved * penframe.PressureScale))
}

func scale(v, max int32) uint16 {
	if max <= 0 {
		max = AxisMax
	}
	if v <= 0 {
		return 0
	}
	if v >= max {
		return AxisMax
	}
	return uint16(int64(v) * AxisMax / int64(max))
}

// Report returns the input report for f and false when the frame has no pen meaning.
func (m Mapper) Report(f penframe.Fields) ([ReportSize]byte, bool) {
	var report [ReportSize]byte
	var flags byte
	switch f.ToolType {
	case penframe.ToolStylus:
	case penframe.ToolEraser:
		flags |= flagEraser | flagInvert
	default:
		return report, false
	}
	switch f.Action {
	case penframe.ActionDown, penframe.ActionMove:
		flags |= flagInRange
		if f.Pressure > 0 {
			flags |= flagTip
		}
	case penframe.ActionUp, penframe.ActionHoverEnter, penframe.ActionHoverMove:
		flags |= flagInRange
	case penframe.ActionHoverExit, penframe.ActionCancel:
		flags = 0
	default:
		return report, false
	}
	if flags&flagTip == 0 {
		// eraser bit is the tip of an inverted pen
		flags &^= flagEraser
	}

	var pressure int32
	if flags&flagTip != 0 {
		pressure = m.Pressure(f.Pressure)
	}
	report[0] = ReportID
	report[1] = flags
	binary.LittleEndian.PutUint16(report[2:], scale(f.X, m.Width))
	binary.LittleEndian.PutUint16(report[4:], scale(f.Y, m.Height))
	binary.LittleEndian.PutUint16(report[6:], uint16(pressure))
	return report, true
}

// ProximityOut is the report lifting the pen out of range.
func ProximityOut() [ReportSize]byte {
	return [ReportSize]byte{ReportID}
}

type Config struct {
	Name      string
	VendorID  uint32
	ProductID uint32
	Mapper    Mapper
}

// Pen is a uhid virtual pen. It implements receiver.Handler.
type Pen struct {
	log    *zap.Logger
	mapper Mapper

	mu     sync.Mutex
	dev    *uhid.Device
	cancel context.CancelFunc
	active bool
}

func Open(log *zap.Logger, cfg Config) (*Pen, error) {
	dev, err := uhid.NewDevice(cfg.Name, ReportDescriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create uhid device: %w", err)
	}
	dev.Data.Bus = 0x03
	dev.Data.VendorID = cfg.VendorID
	dev.Data.ProductID = cfg.ProductID

	ctx, cancel := context.WithCancel(context.Background())
	events, err := dev.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open uhid device: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				log.Debug("uhid event", zap.Any("type", event.Type))
			}
		}
	}()
	log.Info("Virtual pen created", zap.String("name", cfg.Name))
	return &Pen{
		log:    log,
		mapper: cfg.Mapper,
		dev:    dev,
		cancel: cancel,
	}, nil
}

func (p *Pen) HandleFrame(f penframe.Fields) error {
	report, ok := p.mapper.Report(f)
	if !ok {
		p.log.Debug("Ignoring frame", zap.Stringer("tool", f.ToolType), zap.Stringer("action", f.Action))
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = report[1]&flagInRange != 0
	return p.dev.InjectEvent(report[:])
}

// Reset lifts the pen if it is in range.
func (p *Pen) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	out := ProximityOut()
	if err := p.dev.InjectEvent(out[:]); err != nil {
		p.log.Error("failed to lift pen", zap.Error(err))
	}
	p.active = false
}

func (p *Pen) Close() error {
	p.cancel()
	return p.dev.Close()
}
