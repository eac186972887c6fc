package inputsvc

import (
	"testing"

	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	typ   uint16
	code  uint16
	value int32
}

func syn() event { return event{EvSyn, SynReport, 0} }

func feedAll(tr *Tracker, events ...event) []penframe.Sample {
	var out []penframe.Sample
	for _, ev := range events {
		if s, ok := tr.Feed(ev.typ, ev.code, ev.value); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestTrackerPenStroke(t *testing.T) {
	tr := NewTracker(AxisRange{Min: 0, Max: 4096})
	samples := feedAll(tr,
		event{EvKey, BtnToolPen, 1},
		event{EvAbs, AbsX, 100},
		event{EvAbs, AbsY, 200},
		syn(),
		event{EvKey, BtnTouch, 1},
		event{EvAbs, AbsPressure, 2048},
		syn(),
		event{EvAbs, AbsX, 110},
		event{EvAbs, AbsPressure, 4096},
		syn(),
		event{EvKey, BtnTouch, 0},
		event{EvAbs, AbsPressure, 0},
		syn(),
		event{EvKey, BtnToolPen, 0},
		syn(),
	)
	require.Len(t, samples, 5)

	assert.Equal(t, penframe.ActionHoverEnter, samples[0].Action)
	assert.Equal(t, penframe.ToolStylus, samples[0].ToolType)
	assert.Equal(t, 100.0, samples[0].X)
	assert.Equal(t, 200.0, samples[0].Y)
	assert.Equal(t, 0.0, samples[0].Pressure)

	assert.Equal(t, penframe.ActionDown, samples[1].Action)
	assert.InDelta(t, 0.5, samples[1].Pressure, 1e-9)

	assert.Equal(t, penframe.ActionMove, samples[2].Action)
	assert.Equal(t, 110.0, samples[2].X)
	assert.Equal(t, 1.0, samples[2].Pressure)

	assert.Equal(t, penframe.ActionUp, samples[3].Action)
	assert.Equal(t, 0.0, samples[3].Pressure)

	assert.Equal(t, penframe.ActionHoverExit, samples[4].Action)
	assert.Equal(t, penframe.ToolStylus, samples[4].ToolType)
}

func TestTrackerEraser(t *testing.T) {
	tr := NewTracker(AxisRange{})
	samples := feedAll(tr,
		event{EvKey, BtnToolRubber, 1},
		event{EvKey, BtnTouch, 1},
		syn(),
	)
	require.Len(t, samples, 1)
	assert.Equal(t, penframe.ToolEraser, samples[0].ToolType)
	assert.Equal(t, penframe.ActionDown, samples[0].Action)
	assert.Equal(t, 1.0, samples[0].Pressure, "devices without a pressure axis report full pressure")
}

func TestTrackerIgnoresEmptyReports(t *testing.T) {
	tr := NewTracker(AxisRange{Max: 1024})
	assert.Empty(t, feedAll(tr, syn(), syn()))
	assert.Empty(t, feedAll(tr, event{EvAbs, AbsX, 5}, syn()), "position without a tool in range is not a sample")
}

func TestAxisRangeNormalizeClamps(t *testing.T) {
	r := AxisRange{Min: 100, Max: 200}
	assert.Equal(t, 0.0, r.normalize(50))
	assert.Equal(t, 1.0, r.normalize(300))
	assert.InDelta(t, 0.25, r.normalize(125), 1e-9)
}
