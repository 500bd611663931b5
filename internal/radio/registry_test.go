package radio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
)

func TestSliceCreatedFromStatus(t *testing.T) {
	h := newActiveHarness(t)

	var created []string
	_, err := h.radio.CreateSlice(14_250_000, "ANT1", "USB", func(reply Reply) {
		created = append(created, reply.Code)
	})
	require.NoError(t, err)
	assert.Equal(t, "slice create freq=14.250000 ant=ANT1 mode=USB", h.link.last())

	h.replyLast("0", "")
	h.status("slice 0 in_use=1 rf_frequency=14.250000 mode=USB panadapter=0x40000000")
	h.flush()

	assert.Equal(t, []string{"0"}, created)
	s, ok := h.radio.Slice("0")
	require.True(t, ok)
	assert.True(t, s.Acknowledged())
	assert.Equal(t, 14_250_000, s.Frequency())
	assert.Equal(t, "USB", s.Mode())
	assert.Equal(t, "40000000", s.Panadapter())

	added := h.events.of(events.EventObjectAdded)
	require.Len(t, added, 1)
	p := added[0].Payload.(events.ObjectPayload)
	assert.Equal(t, events.KindSlice, p.Kind)
	assert.Equal(t, "0", p.ID)
}

func TestRepeatedStatusNotifiesOnce(t *testing.T) {
	h := newActiveHarness(t)
	h.status("slice 1 in_use=1 rf_frequency=7.100000 mode=LSB pan=0x40000000")
	h.flush()
	h.events.reset()

	h.status("slice 1 audio_gain=40")
	h.status("slice 1 audio_gain=40")
	h.flush()

	updates := h.events.of(events.EventObjectUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"audio_gain"}, updates[0].Payload.(events.ObjectUpdatedPayload).Changed)
}

func TestCreatedOnceRegardlessOfStatusCount(t *testing.T) {
	h := newActiveHarness(t)

	h.status("slice 2 in_use=1")
	h.status("slice 2 mode=CW")
	h.status("slice 2 rf_frequency=7.030000")
	h.flush()
	assert.Equal(t, 0, h.events.count(events.EventObjectAdded))
	s, ok := h.radio.Slice("2")
	require.True(t, ok)
	assert.False(t, s.Acknowledged())

	h.status("slice 2 pan=0x40000000")
	h.status("slice 2 rf_frequency=7.031000")
	h.status("slice 2 mode=CWL")
	h.flush()

	assert.Equal(t, 1, h.events.count(events.EventObjectAdded))
	assert.Equal(t, 2, h.events.count(events.EventObjectUpdated))
}

func TestUnknownTokensAreSkipped(t *testing.T) {
	h := newActiveHarness(t)
	h.status("slice 0 in_use=1 rf_frequency=14.074000 mode=DIGU frobnicate=7 pan=0x40000000 rxant=ANT2")

	s, ok := h.radio.Slice("0")
	require.True(t, ok)
	assert.Equal(t, 14_074_000, s.Frequency())
	assert.Equal(t, "DIGU", s.Mode())
	assert.Equal(t, "ANT2", s.RxAntenna())
	assert.True(t, s.InUse())
	assert.Equal(t, "40000000", s.Panadapter())
	assert.NotContains(t, s.Properties(), "frobnicate")
}

func TestMalformedValueSkipsWholeLine(t *testing.T) {
	h := newActiveHarness(t)
	h.status("slice 0 in_use=1 rf_frequency=14.074000 mode=DIGU pan=0x40000000")
	h.status("slice 0 mode=USB rf_frequency=abc")

	s, _ := h.radio.Slice("0")
	assert.Equal(t, "DIGU", s.Mode())
	assert.Equal(t, 14_074_000, s.Frequency())
}

func TestRemovalNotifiesBeforeDelete(t *testing.T) {
	h := newActiveHarness(t)
	h.status("memory 4 name=Net freq=3.910000 mode=LSB")
	require.Len(t, h.radio.Memories(), 1)

	var reachable bool
	h.bus.Subscribe(events.EventObjectRemoving, "test.lookup", func(ctx context.Context, e events.Event) error {
		p := e.Payload.(events.ObjectPayload)
		if p.Kind == events.KindMemory {
			_, reachable = h.radio.Memory(p.ID)
		}
		return nil
	})

	h.status("memory 4 removed")
	assert.True(t, reachable)
	_, ok := h.radio.Memory("4")
	assert.False(t, ok)

	assert.NotPanics(t, func() { h.status("memory 9 removed") })
}

func TestInUseZeroRemovesStream(t *testing.T) {
	h := newActiveHarness(t)
	h.status("audio_stream 0x04000008 dax=1 slice=0 in_use=1 ip=192.168.1.5 port=4993")
	a, ok := h.radio.AudioStream("04000008")
	require.True(t, ok)
	assert.True(t, a.Acknowledged())

	h.status("audio_stream 0x04000008 in_use=0")
	_, ok = h.radio.AudioStream("04000008")
	assert.False(t, ok)
}

func TestOpusIsNeverRemovedByStatus(t *testing.T) {
	h := newActiveHarness(t)
	h.status("opus_stream 0x26000000 ip=192.168.1.5 port=4993 rx_on=1 tx_on=0 rx_stopped=0")
	h.status("opus_stream 0x26000000 in_use=0")
	_, ok := h.radio.Opus("26000000")
	assert.True(t, ok)
}

func TestDisplayStatus(t *testing.T) {
	h := newActiveHarness(t)
	h.status("display pan 0x40000000 center=14.100000 bandwidth=0.200000 min_dbm=-135.0 max_dbm=-40.0 x_pixels=1024 y_pixels=300 waterfall=0x42000000")
	h.status("display waterfall 0x42000000 panadapter=0x40000000 line_duration=100 auto_black=1")

	p, ok := h.radio.Panadapter("40000000")
	require.True(t, ok)
	assert.True(t, p.Acknowledged())
	assert.Equal(t, 14_100_000, p.Center())
	assert.Equal(t, 200_000, p.Bandwidth())
	assert.Equal(t, "42000000", p.Waterfall())

	w, ok := h.radio.Waterfall("42000000")
	require.True(t, ok)
	assert.True(t, w.Acknowledged())
	assert.Equal(t, "40000000", w.Panadapter())

	h.status("display pan 0x40000000 removed")
	_, ok = h.radio.Panadapter("40000000")
	assert.False(t, ok)
}

func TestDisplayRemovedMustBeAToken(t *testing.T) {
	h := newActiveHarness(t)
	h.status("display pan 0x40000000 center=14.100000 bandwidth=0.200000")
	h.status("display waterfall 0x42000000 panadapter=0x40000000")

	h.status("display pan 0x40000000 note=removed center=14.200000")
	p, ok := h.radio.Panadapter("40000000")
	require.True(t, ok)
	assert.Equal(t, 14_200_000, p.Center())

	h.status("display waterfall 0x42000000 removed")
	_, ok = h.radio.Waterfall("42000000")
	assert.False(t, ok)
	_, ok = h.radio.Panadapter("40000000")
	assert.True(t, ok)
}

func TestEqualizerIgnoresObsoleteTypes(t *testing.T) {
	h := newActiveHarness(t)
	h.status("eq rx mode=1 63Hz=2")
	h.status("eq txsc mode=1 63Hz=2 1000Hz=-3")

	assert.Len(t, h.radio.Equalizers(), 1)
	eq, ok := h.radio.Equalizer(EqualizerTx)
	require.True(t, ok)
	assert.True(t, eq.Enabled())
	assert.Equal(t, -3, eq.Level("1000hz"))
}

func TestObjectsByKind(t *testing.T) {
	h := newActiveHarness(t)
	h.status("tnf 1 freq=14.101000 width=0.000100 depth=2 permanent=1")
	h.status("xvtr 0 name=2m rf_freq=144.000000 if_freq=28.000000 in_use=1")
	h.status("usb_cable A5052JU7 type=cat enable=1 plugged_in=1 name=Amp")

	assert.Len(t, h.radio.Objects(events.KindTnf), 1)
	cable, ok := h.radio.Object(events.KindUsbCable, "A5052JU7")
	require.True(t, ok)
	assert.Equal(t, "Amp", cable.(*UsbCable).Name())

	counts := h.radio.Counts()
	assert.Equal(t, 1, counts[events.KindXvtr])

	h.status("xvtr 0 in_use=0")
	h.status("usb_cable A5052JU7 removed")
	assert.Empty(t, h.radio.Xvtrs())
	assert.Empty(t, h.radio.UsbCables())
}

func TestListSortsNumericIDs(t *testing.T) {
	h := newActiveHarness(t)
	for _, id := range []string{"10", "2", "1"} {
		h.status("memory " + id + " name=m" + id)
	}
	var ids []string
	for _, m := range h.radio.Memories() {
		ids = append(ids, m.ID())
	}
	assert.Equal(t, []string{"1", "2", "10"}, ids)
}
