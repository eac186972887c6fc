// Package penframe implements the fixed-size binary frame that carries one pen or touch
// sample to the host.
//
// A frame is 14 bytes, little-endian, without padding:
//
//	offset 0   toolType  uint8
//	offset 1   action    uint8
//	offset 2   x         int32
//	offset 6   y         int32
//	offset 10  pressure  int32 (pressure fraction * 1000)
package penframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Size is the length of an encoded frame in bytes.
const Size = 14

const (
	offTool     = 0
	offAction   = 1
	offX        = 2
	offY        = 6
	offPressure = 10
)

// PressureScale converts the [0,1] pressure fraction into the integer wire value.
const PressureScale = 1000

type ToolType uint8

// Tool type numbering follows the host input system, the receiver relies on it.
const (
	ToolUnknown ToolType = 0
	ToolFinger  ToolType = 1
	ToolStylus  ToolType = 2
	ToolMouse   ToolType = 3
	ToolEraser  ToolType = 4
)

func (t ToolType) String() string {
	switch t {
	case ToolFinger:
		return "Finger"
	case ToolStylus:
		return "Stylus"
	case ToolMouse:
		return "Mouse"
	case ToolEraser:
		return "Eraser"
	case ToolUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("Tool(%d)", uint8(t))
}

// Supported reports whether samples of this tool type are streamed.
func (t ToolType) Supported() bool {
	return t == ToolStylus || t == ToolEraser || t == ToolFinger
}

// Action is the raw action code reported by the input system. It is passed through to the
// wire unchanged.
type Action uint8

const (
	ActionDown       Action = 0
	ActionUp         Action = 1
	ActionMove       Action = 2
	ActionCancel     Action = 3
	ActionHoverMove  Action = 7
	ActionHoverEnter Action = 9
	ActionHoverExit  Action = 10
)

func (a Action) String() string {
	switch a {
	case ActionDown:
		return "Down"
	case ActionUp:
		return "Up"
	case ActionMove:
		return "Move"
	case ActionCancel:
		return "Cancel"
	case ActionHoverMove:
		return "HoverMove"
	case ActionHoverEnter:
		return "HoverEnter"
	case ActionHoverExit:
		return "HoverExit"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Sample is one reported pointer event.
type Sample struct {
	ToolType ToolType
	Action   Action
	X        float64
	Y        float64
	// Pressure is a fraction in [0,1].
	Pressure float64
}

// Frame is one encoded sample.
type Frame [Size]byte

// Fields is the integer content of a frame.
type Fields struct {
	ToolType ToolType `json:"toolType"`
	Action   Action   `json:"action"`
	X        int32    `json:"x"`
	Y        int32    `json:"y"`
	Pressure int32    `json:"pressure"`
}

var ErrRejected = errors.New("unsupported tool type")

// Encoder turns samples into frames. The zero value encodes without swapping axes.
type Encoder struct {
	// SwapAxes exchanges x and y before they are placed in the frame.
	SwapAxes bool
}

// Encode writes the frame for s into f. Samples from unsupported tools return ErrRejected
// and leave f untouched.
func (e *Encoder) Encode(s Sample, f *Frame) error {
	if !s.ToolType.Supported() {
		return fmt.Errorf("%w: %s", ErrRejected, s.ToolType)
	}
	x, y := truncate(s.X), truncate(s.Y)
	if e.SwapAxes {
		x, y = y, x
	}
	Put(f, Fields{
		ToolType: s.ToolType,
		Action:   s.Action,
		X:        x,
		Y:        y,
		Pressure: scalePressure(s.Pressure),
	})
	return nil
}

// Put writes fields into f using the wire layout.
func Put(f *Frame, fields Fields) {
	f[offTool] = byte(fields.ToolType)
	f[offAction] = byte(fields.Action)
	binary.LittleEndian.PutUint32(f[offX:], uint32(fields.X))
	binary.LittleEndian.PutUint32(f[offY:], uint32(fields.Y))
	binary.LittleEndian.PutUint32(f[offPressure:], uint32(fields.Pressure))
}

// Decode reads the fields of f.
func Decode(f Frame) Fields {
	return Fields{
		ToolType: ToolType(f[offTool]),
		Action:   Action(f[offAction]),
		X:        int32(binary.LittleEndian.Uint32(f[offX:])),
		Y:        int32(binary.LittleEndian.Uint32(f[offY:])),
		Pressure: int32(binary.LittleEndian.Uint32(f[offPressure:])),
	}
}

// truncate drops the fractional part; values outside the int32 range saturate.
func truncate(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func scalePressure(p float64) int32 {
	return truncate(math.Floor(p * PressureScale))
}
