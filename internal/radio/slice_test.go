package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
)

func newTestSlice(t *testing.T, h *harness, mode string) *Slice {
	t.Helper()
	h.status("slice 0 in_use=1 rf_frequency=14.200000 mode=" + mode + " pan=0x40000000 filter_lo=100 filter_hi=2800")
	s, ok := h.radio.Slice("0")
	require.True(t, ok)
	h.link.reset()
	h.flush()
	h.events.reset()
	return s
}

func TestSliceTune(t *testing.T) {
	h := newActiveHarness(t)
	s := newTestSlice(t, h, "USB")

	require.NoError(t, s.Tune(14_230_500))
	assert.Equal(t, "slice tune 0 14.230500", h.link.last())
	assert.Equal(t, 14_230_500, s.Frequency())

	// unchanged value sends nothing
	h.link.reset()
	require.NoError(t, s.Tune(14_230_500))
	assert.Empty(t, h.link.commands())

	require.NoError(t, s.SetLocked(true))
	assert.Equal(t, "slice lock 0", h.link.last())
	assert.Error(t, s.Tune(7_000_000))
	assert.Equal(t, 14_230_500, s.Frequency())

	h.flush()
	assert.Equal(t, 2, h.events.count(events.EventObjectUpdated))
}

func TestSliceSetters(t *testing.T) {
	h := newActiveHarness(t)
	s := newTestSlice(t, h, "USB")

	require.NoError(t, s.SetMode("cw"))
	assert.Equal(t, "slice set 0 mode=CW", h.link.last())

	require.NoError(t, s.SetNoiseReduction(true))
	assert.Equal(t, "slice set 0 nr=1", h.link.last())

	require.NoError(t, s.SetAudioGain(35))
	assert.Equal(t, "audio client 0 slice 0 gain 35", h.link.last())

	require.NoError(t, s.SetRITOffset(-250))
	assert.Equal(t, "slice set 0 rit_freq=-250", h.link.last())

	h.link.reset()
	assert.ErrorIs(t, s.SetAudioGain(101), ErrOutOfRange)
	assert.ErrorIs(t, s.SetNoiseReductionLevel(-1), ErrOutOfRange)
	assert.ErrorIs(t, s.SetRITOffset(100_000), ErrOutOfRange)
	assert.Empty(t, h.link.commands())

	require.NoError(t, s.Remove())
	assert.Equal(t, "slice remove 0", h.link.last())
}

func TestClampFilter(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		low, high int
		wantLow   int
		wantHigh  int
	}{
		{"usb below carrier", "USB", -200, 3000, 0, 3000},
		{"usb too wide", "USB", 100, 20_000, 100, 12_000},
		{"lsb above carrier", "LSB", -2800, 300, -2800, 0},
		{"cw limited by pitch", "CW", -13_000, 12_000, -12_600, 11_400},
		{"am symmetric floor", "AM", 0, 5, -10, 10},
		{"fm untouched", "FM", -8000, 8000, -8000, 8000},
		{"inverted edges", "USB", 3000, 100, 3000, 3010},
		{"rtty mark and shift", "RTTY", -300, 4000, -300, 2125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high := clampFilter(tt.mode, tt.low, tt.high, 600, 2125, 170)
			assert.Equal(t, tt.wantLow, low)
			assert.Equal(t, tt.wantHigh, high)
		})
	}
}

type preset struct{ low, high int }

func (p preset) Edges() (int, int) { return p.low, p.high }

func TestSetFilterClampsAndSends(t *testing.T) {
	h := newActiveHarness(t)
	s := newTestSlice(t, h, "USB")

	require.NoError(t, s.SetFilter(-100, 2400))
	assert.Equal(t, "filt 0 0 2400", h.link.last())
	assert.Equal(t, 0, s.FilterLow())
	assert.Equal(t, 2400, s.FilterHigh())

	h.link.reset()
	require.NoError(t, s.ApplyFilterPreset(preset{0, 2400}))
	assert.Empty(t, h.link.commands())

	require.NoError(t, s.ApplyFilterPreset(preset{200, 2900}))
	assert.Equal(t, "filt 0 200 2900", h.link.last())
}

func TestSlicesOnPanadapter(t *testing.T) {
	h := newActiveHarness(t)
	h.status("slice 0 in_use=1 rf_frequency=14.200000 mode=USB pan=0x40000000")
	h.status("slice 1 in_use=1 rf_frequency=7.200000 mode=LSB pan=0x40000001")
	h.status("slice 2 in_use=1 rf_frequency=14.074000 mode=DIGU pan=0x40000000")

	var ids []string
	for _, s := range h.radio.SlicesOn("40000000") {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"0", "2"}, ids)
}

func TestPanadapterSetters(t *testing.T) {
	h := newActiveHarness(t)
	h.status("display pan 0x40000000 center=14.100000 bandwidth=0.200000 min_dbm=-135 max_dbm=-40")
	p, _ := h.radio.Panadapter("40000000")
	h.link.reset()

	require.NoError(t, p.SetBandwidth(100_000))
	assert.Equal(t, "display panafall set 0x40000000 bandwidth=0.100000 autocenter=1", h.link.last())

	require.NoError(t, p.SetMaxDbm(50))
	assert.Equal(t, "display panafall set 0x40000000 max_dbm=20", h.link.last())
	assert.Equal(t, 20.0, p.MaxDbm())

	require.NoError(t, p.SetDimensions(1024, 400))
	assert.Equal(t, "display panafall set 0x40000000 xpixels=1024 ypixels=400", h.link.last())

	require.NoError(t, p.Remove())
	assert.Equal(t, "display pan remove 0x40000000", h.link.last())
}

func TestCreatePanadapterRegistersIDs(t *testing.T) {
	h := newActiveHarness(t)

	_, err := h.radio.CreatePanadapter(1024, 300, nil)
	require.NoError(t, err)
	assert.Equal(t, "display pan create x=1024 y=300", h.link.last())
	h.replyLast("0", "0x40000000,0x42000000")

	p, ok := h.radio.Panadapter("40000000")
	require.True(t, ok)
	assert.False(t, p.Acknowledged())
	_, ok = h.radio.Waterfall("42000000")
	assert.True(t, ok)

	h.status("display pan 0x40000000 center=14.100000 bandwidth=0.200000 min_dbm=-135 max_dbm=-40")
	assert.True(t, p.Acknowledged())
}

func TestObjectSetters(t *testing.T) {
	h := newActiveHarness(t)
	h.status("tnf 3 freq=14.101000 width=0.000100 depth=1")
	h.status("memory 1 name=Net freq=3.910000")
	h.status("eq rxsc mode=0")
	h.status("usb_cable AB12 type=bcd enable=0")
	h.link.reset()

	tnf, _ := h.radio.Tnf("3")
	require.NoError(t, tnf.SetDepth(3))
	assert.Equal(t, "tnf set 3 depth=3", h.link.last())
	assert.ErrorIs(t, tnf.SetDepth(4), ErrOutOfRange)
	require.NoError(t, tnf.SetWidth(200))
	assert.Equal(t, "tnf set 3 width=0.000200", h.link.last())

	mem, _ := h.radio.Memory("1")
	require.NoError(t, mem.Apply())
	assert.Equal(t, "memory apply 1", h.link.last())

	eq, _ := h.radio.Equalizer(EqualizerRx)
	require.NoError(t, eq.SetLevel("250hz", 4))
	assert.Equal(t, "eq rxsc 250hz=4", h.link.last())
	assert.Error(t, eq.SetLevel("mode", 1))
	assert.ErrorIs(t, eq.SetLevel("63hz", 11), ErrOutOfRange)

	cable, _ := h.radio.UsbCable("AB12")
	require.NoError(t, cable.SetEnabled(true))
	assert.Equal(t, "usb_cable set AB12 enable 1", h.link.last())

	_, err := h.radio.CreateTnf(7_050_000, nil)
	require.NoError(t, err)
	assert.Equal(t, "tnf create freq=7.050000", h.link.last())
}
