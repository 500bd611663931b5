package radio

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

func TestStreamActivityEvents(t *testing.T) {
	h := newActiveHarness(t)

	h.radio.StreamActivity(true)
	h.radio.StreamActivity(false)
	h.flush()

	got := h.events.of(events.EventStreamActivity)
	require.Len(t, got, 2)
	var states []bool
	for _, e := range got {
		states = append(states, e.Payload.(events.StreamActivityPayload).Active)
	}
	assert.ElementsMatch(t, []bool{true, false}, states)
}

func TestUnknownStreamPacketWarns(t *testing.T) {
	h := newActiveHarness(t)
	var buf bytes.Buffer
	h.radio.logger = zerolog.New(&buf)

	h.radio.ReceivePacket(streamPacket(protocol.ClassPanadapter, 0x40000001, 0, panadapterPayload(1, 1, 2)))

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "packet for unknown stream")
	assert.Contains(t, buf.String(), `"stream":"40000001"`)
}

func TestCreateStreamRegistersFromReply(t *testing.T) {
	h := newActiveHarness(t)

	var code string
	_, err := h.radio.CreateAudioStream(1, func(reply Reply) { code = reply.Code })
	require.NoError(t, err)
	assert.Equal(t, "stream create dax=1", h.link.last())
	h.replyLast("0", "4000008")

	assert.Equal(t, "0", code)
	a, ok := h.radio.AudioStream("04000008")
	require.True(t, ok)
	assert.False(t, a.Acknowledged())

	h.status("audio_stream 0x04000008 dax=1 slice=0 in_use=1 ip=192.168.1.5 port=4993")
	assert.True(t, a.Acknowledged())
	assert.Equal(t, 1, a.DaxChannel())
	h.link.reset()

	require.NoError(t, a.SetRxGain(70))
	assert.Equal(t, "audio stream 0x04000008 slice 0 gain 70", h.link.last())

	require.NoError(t, a.Remove())
	assert.Equal(t, "stream remove 0x04000008", h.link.last())
}

func TestCreateStreamFailureRegistersNothing(t *testing.T) {
	h := newActiveHarness(t)
	_, err := h.radio.CreateIqStream(2, nil)
	require.NoError(t, err)
	assert.Equal(t, "stream create daxiq=2", h.link.last())
	h.replyLast("50000020", "")

	assert.Empty(t, h.radio.IqStreams())
}

func TestTxAudioPacketization(t *testing.T) {
	h := newActiveHarness(t)
	h.status("tx_audio_stream 0x84000000 in_use=1 dax_tx=0 ip=192.168.1.5 port=4991")
	tx, ok := h.radio.TxAudioStream("84000000")
	require.True(t, ok)

	left := make([]float32, 300)
	right := make([]float32, 300)
	for i := range left {
		left[i] = 0.5
		right[i] = -0.5
	}

	_, err := tx.SendTxAudio(left, right)
	assert.ErrorIs(t, err, ErrNotTransmitting)

	require.NoError(t, tx.SetTransmit(true))
	assert.Equal(t, "dax tx 1", h.link.last())

	n, err := tx.SendTxAudio(left, right)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	written := h.stream.written()
	require.Len(t, written, 3)
	var samples []int
	for i, data := range written {
		p, err := protocol.DecodeVita(data)
		require.NoError(t, err)
		assert.Equal(t, protocol.VitaIFDataWithStream, p.Type)
		assert.Equal(t, protocol.ClassDaxAudio, p.PacketClass)
		assert.Equal(t, uint32(0x84000000), p.StreamID)
		assert.Equal(t, uint8(i), p.Count)
		frame := protocol.DecodeAudioFrame(p.Payload)
		samples = append(samples, frame.Samples)
		assert.InDelta(t, 0.5, frame.Left[0], 0.0001)
	}
	assert.Equal(t, []int{128, 128, 44}, samples)
}

func TestTxGainMapping(t *testing.T) {
	h := newActiveHarness(t)
	h.status("tx_audio_stream 0x84000000 in_use=1 dax_tx=1 ip=192.168.1.5")
	tx, _ := h.radio.TxAudioStream("84000000")

	tx.SetTxGain(0)
	_, err := tx.SendTxAudio([]float32{1}, []float32{1})
	require.NoError(t, err)

	tx.SetTxGain(150)
	assert.Equal(t, 100, tx.TxGain())
	_, err = tx.SendTxAudio([]float32{1}, []float32{1})
	require.NoError(t, err)

	written := h.stream.written()
	require.Len(t, written, 2)
	muted, err := protocol.DecodeVita(written[0])
	require.NoError(t, err)
	assert.Equal(t, float32(0), protocol.DecodeAudioFrame(muted.Payload).Left[0])

	loud, err := protocol.DecodeVita(written[1])
	require.NoError(t, err)
	assert.InDelta(t, 3.1623, protocol.DecodeAudioFrame(loud.Payload).Left[0], 0.001)
}

func TestOpusTx(t *testing.T) {
	h := newActiveHarness(t)
	h.status("opus_stream 0x26000000 ip=192.168.1.5 port=4993 rx_on=0 tx_on=0")
	o, ok := h.radio.Opus("26000000")
	require.True(t, ok)

	require.NoError(t, o.SetRxEnabled(true))
	assert.Equal(t, "remote_audio rx_on 1", h.link.last())

	require.NoError(t, o.SendTxAudio([]byte{9, 8, 7, 6}))
	require.NoError(t, o.SendTxAudio([]byte{5, 4, 3, 2}))

	written := h.stream.written()
	require.Len(t, written, 2)
	p, err := protocol.DecodeVita(written[1])
	require.NoError(t, err)
	assert.Equal(t, protocol.VitaExtDataWithStream, p.Type)
	assert.Equal(t, protocol.ClassOpus, p.PacketClass)
	assert.Equal(t, uint8(1), p.Count)
	assert.Equal(t, []byte{5, 4, 3, 2}, p.Payload)
}

func TestIqRate(t *testing.T) {
	h := newActiveHarness(t)
	h.status("stream 0x20000000 daxiq=3 rate=24000 in_use=1 ip=192.168.1.5")
	q, _ := h.radio.IqStream("20000000")
	h.link.reset()

	assert.ErrorIs(t, q.SetRate(44100), ErrOutOfRange)
	assert.Empty(t, h.link.commands())

	require.NoError(t, q.SetRate(96000))
	assert.Equal(t, "dax iq set 3 rate=96000", h.link.last())
}

func TestSendPacketRequiresConnection(t *testing.T) {
	h := newActiveHarness(t)
	h.status("opus_stream 0x26000000 ip=192.168.1.5")
	o, _ := h.radio.Opus("26000000")
	h.radio.Disconnect()

	assert.ErrorIs(t, o.SendTxAudio([]byte{1}), ErrNotConnected)
}
