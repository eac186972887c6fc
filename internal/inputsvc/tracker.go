package inputsvc

import (
	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
)

// Linux input event codes, see linux/input-event-codes.h.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvAbs uint16 = 0x03

	SynReport uint16 = 0x00

	AbsX        uint16 = 0x00
	AbsY        uint16 = 0x01
	AbsPressure uint16 = 0x18

	BtnToolPen    uint16 = 0x140
	BtnToolRubber uint16 = 0x141
	BtnToolFinger uint16 = 0x145
	BtnTouch      uint16 = 0x14a
)

// AxisRange is the value range of an absolute axis.
type AxisRange struct {
	Min int32
	Max int32
}

func (r AxisRange) normalize(v int32) float64 {
	if r.Max <= r.Min {
		return 0
	}
	f := float64(v-r.Min) / float64(r.Max-r.Min)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Tracker accumulates evdev events of one device and produces a sample for every
// synchronization report that carries pointer state.
type Tracker struct {
	pressure AxisRange

	tool    penframe.ToolType
	x, y    int32
	touch   bool
	pending bool

	wasTouching bool
	wasInRange  bool
	lastSeen    penframe.ToolType
	pressureRaw int32
}

// NewTracker creates a tracker for a device with the given pressure axis range. Devices
// without a pressure axis report 1 while touching.
func NewTracker(pressure AxisRange) *Tracker {
	return &Tracker{pressure: pressure}
}

// Feed consumes one event. It returns a sample and true at a synchronization report when the
// pointer state changed since the previous report.
func (t *Tracker) Feed(typ, code uint16, value int32) (penframe.Sample, bool) {
	switch typ {
	case EvAbs:
		switch code {
		case AbsX:
			t.x = value
			t.pending = true
		case AbsY:
			t.y = value
			t.pending = true
		case AbsPressure:
			t.pressureRaw = value
			t.pending = true
		}
	case EvKey:
		switch code {
		case BtnToolPen:
			t.setTool(penframe.ToolStylus, value != 0)
		case BtnToolRubber:
			t.setTool(penframe.ToolEraser, value != 0)
		case BtnToolFinger:
			t.setTool(penframe.ToolFinger, value != 0)
		case BtnTouch:
			t.touch = value != 0
			t.pending = true
		}
	case EvSyn:
		if code == SynReport && t.pending {
			t.pending = false
			return t.sample()
		}
	}
	return penframe.Sample{}, false
}

func (t *Tracker) setTool(tool penframe.ToolType, active bool) {
	t.pending = true
	if active {
		t.tool = tool
		return
	}
	if t.tool == tool {
		t.tool = penframe.ToolUnknown
	}
}

func (t *Tracker) sample() (penframe.Sample, bool) {
	inRange := t.tool != penframe.ToolUnknown
	tool := t.tool
	var action penframe.Action
	switch {
	case t.touch && !t.wasTouching:
		action = penframe.ActionDown
	case t.touch:
		action = penframe.ActionMove
	case t.wasTouching:
		action = penframe.ActionUp
	case inRange && !t.wasInRange:
		action = penframe.ActionHoverEnter
	case inRange:
		action = penframe.ActionHoverMove
	case t.wasInRange:
		action = penframe.ActionHoverExit
	default:
		return penframe.Sample{}, false
	}
	if tool == penframe.ToolUnknown {
		// tool bit released in the same report as the lift
		tool = t.lastSeen
	}
	t.wasTouching = t.touch
	t.wasInRange = inRange
	if inRange {
		t.lastSeen = tool
	}

	pressure := 0.0
	if t.touch {
		if t.pressure.Max > t.pressure.Min {
			pressure = t.pressure.normalize(t.pressureRaw)
		} else {
			pressure = 1
		}
	}
	return penframe.Sample{
		ToolType: tool,
		Action:   action,
		X:        float64(t.x),
		Y:        float64(t.y),
		Pressure: pressure,
	}, true
}
