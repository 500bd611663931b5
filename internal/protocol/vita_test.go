package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPanadapterPayload(frameIndex uint32, bins ...uint16) []byte {
	b := NewPacketBuilder()
	b.WriteUint32(0).WriteUint32(uint32(len(bins))).WriteUint32(2).WriteUint32(frameIndex)
	for _, v := range bins {
		b.WriteUint16(v)
	}
	return b.Build()
}

func TestVitaRoundTrip(t *testing.T) {
	payload := buildPanadapterPayload(7, 1, 2, 3, 4)
	pkt := &VitaPacket{
		Type:             VitaExtDataWithStream,
		ClassIDPresent:   true,
		Tsi:              TsiOther,
		Tsf:              TsfRealTime,
		Count:            9,
		StreamID:         0x40000000,
		OUI:              FlexOUI,
		InformationClass: FlexInformationClass,
		PacketClass:      ClassPanadapter,
		IntegerTimestamp: 1234,
		FracTimestampMSB: 1,
		FracTimestampLSB: 2,
		Payload:          payload,
	}
	data := EncodeVita(pkt)
	require.Len(t, data, 28+24)
	assert.Equal(t, 24, len(payload))
	assert.Equal(t, byte(0x38), data[0])

	decoded, err := DecodeVita(data)
	require.NoError(t, err)
	assert.Equal(t, VitaExtDataWithStream, decoded.Type)
	assert.True(t, decoded.ClassIDPresent)
	assert.False(t, decoded.TrailerPresent)
	assert.Equal(t, uint8(9), decoded.Count)
	assert.Equal(t, len(data), decoded.Size)
	assert.Equal(t, "40000000", decoded.StreamHandle())
	assert.Equal(t, FlexOUI, decoded.OUI)
	assert.Equal(t, FlexInformationClass, decoded.InformationClass)
	assert.Equal(t, ClassPanadapter, decoded.PacketClass)
	assert.Equal(t, uint32(1234), decoded.IntegerTimestamp)
	assert.Equal(t, 28, decoded.HeaderSize)
	assert.Equal(t, payload, decoded.Payload)
}

func TestVitaTrailerAndPadding(t *testing.T) {
	pkt := NewTxPacket(0x84000001, ClassOpus, 18, []byte{1, 2, 3, 4, 5})
	pkt.TrailerPresent = true
	pkt.Trailer = 0xCAFEF00D
	data := EncodeVita(pkt)
	require.Equal(t, 0, len(data)%4)

	decoded, err := DecodeVita(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), decoded.Count)
	assert.Equal(t, uint32(0xCAFEF00D), decoded.Trailer)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 0, 0, 0}, decoded.Payload)
}

func TestDecodeVitaErrors(t *testing.T) {
	_, err := DecodeVita(make([]byte, 12))
	assert.ErrorIs(t, err, ErrShortPacket)

	bad := make([]byte, 28)
	bad[0] = 0x78
	_, err = DecodeVita(bad)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodePanadapterFrame(t *testing.T) {
	f, err := DecodePanadapterFrame(buildPanadapterPayload(42, 100, 200, 65535))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), f.FrameIndex)
	assert.Equal(t, uint32(3), f.NumberOfBins)
	assert.Equal(t, []uint16{100, 200, 65535}, f.Bins)

	short := buildPanadapterPayload(1, 1, 2)
	_, err = DecodePanadapterFrame(short[:len(short)-1])
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = DecodePanadapterFrame(short[:8])
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestDecodeWaterfallFrame(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteUint64(uint64(14.0 * 1.048576e6)).WriteUint64(uint64(1.048576e6)).
		WriteUint32(100).WriteUint16(2).WriteUint16(2).WriteUint32(99).WriteUint32(7)
	b.WriteUint16(1).WriteUint16(2).WriteUint16(3).WriteUint16(4)
	require.Equal(t, WaterfallHeaderSize+8, b.Len())

	f, err := DecodeWaterfallFrame(b.Build())
	require.NoError(t, err)
	assert.InDelta(t, 14.0, f.FirstBinFreq, 1e-6)
	assert.InDelta(t, 1.0, f.BinBandwidth, 1e-6)
	assert.Equal(t, uint32(99), f.TimeCode)
	assert.Equal(t, uint32(7), f.AutoBlackLevel)
	assert.Equal(t, []uint16{1, 2, 3, 4}, f.Bins)

	_, err = DecodeWaterfallFrame(b.Build()[:36])
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestAudioFrames(t *testing.T) {
	payload := EncodeAudioFrame([]float32{0.5, -0.25, 1}, []float32{0.125, 0.75}, 2)
	require.Len(t, payload, 16)

	f := DecodeAudioFrame(append(payload, 0xFF))
	assert.Equal(t, 2, f.Samples)
	assert.Equal(t, []float32{1, -0.5}, f.Left)
	assert.Equal(t, []float32{0.25, 1.5}, f.Right)
}

func TestDecodeMeterSamples(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteUint16(4).WriteInt16(-1280).WriteUint16(7).WriteInt16(512).WriteByte(1)
	samples := DecodeMeterSamples(b.Build())
	require.Len(t, samples, 2)
	assert.Equal(t, MeterSample{ID: 4, Value: -1280}, samples[0])
	assert.Equal(t, MeterSample{ID: 7, Value: 512}, samples[1])
}

func TestDecodeOpusFrameCopies(t *testing.T) {
	buf := []byte{9, 8, 7}
	f := DecodeOpusFrame(buf)
	buf[0] = 0
	assert.Equal(t, []byte{9, 8, 7}, f.Payload)
}
