package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed payload header sizes for the display streams.
const (
	PanadapterHeaderSize = 16
	WaterfallHeaderSize  = 32
)

// waterfallFreqScale converts the fixed-point waterfall frequencies to Hz.
const waterfallFreqScale = 1.048576e6

// PanadapterFrame is one decoded panadapter payload.
type PanadapterFrame struct {
	StartingBinIndex uint32
	NumberOfBins     uint32
	BinSize          uint32
	FrameIndex       uint32
	Bins             []uint16
}

// DecodePanadapterFrame decodes a panadapter payload.
// Format: [startBin:4][numBins:4][binSize:4][frameIndex:4][bins:2*numBins]
func DecodePanadapterFrame(payload []byte) (*PanadapterFrame, error) {
	if len(payload) < PanadapterHeaderSize {
		return nil, fmt.Errorf("%w: panadapter header %d bytes", ErrShortPacket, len(payload))
	}

	reader := bytes.NewReader(payload)
	f := &PanadapterFrame{}
	header := []*uint32{&f.StartingBinIndex, &f.NumberOfBins, &f.BinSize, &f.FrameIndex}
	for _, field := range header {
		if err := binary.Read(reader, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("failed to read panadapter header: %w", err)
		}
	}

	if uint64(reader.Len()) < uint64(f.NumberOfBins)*2 {
		return nil, fmt.Errorf("%w: panadapter wants %d bins, has %d bytes",
			ErrShortPacket, f.NumberOfBins, reader.Len())
	}

	f.Bins = make([]uint16, f.NumberOfBins)
	if err := binary.Read(reader, binary.BigEndian, f.Bins); err != nil {
		return nil, fmt.Errorf("failed to read panadapter bins: %w", err)
	}
	return f, nil
}

// WaterfallFrame is one decoded waterfall payload. Frequencies are in Hz.
type WaterfallFrame struct {
	FirstBinFreq   float64
	BinBandwidth   float64
	LineDuration   uint32
	NumberOfBins   uint16
	LineHeight     uint16
	TimeCode       uint32
	AutoBlackLevel uint32
	Bins           []uint16
}

type waterfallHeader struct {
	FirstBinFreq   uint64
	BinBandwidth   uint64
	LineDuration   uint32
	NumberOfBins   uint16
	LineHeight     uint16
	TimeCode       uint32
	AutoBlackLevel uint32
}

// DecodeWaterfallFrame decodes a waterfall payload. Bins start at offset 32
// and hold numberOfBins*lineHeight values.
func DecodeWaterfallFrame(payload []byte) (*WaterfallFrame, error) {
	if len(payload) < WaterfallHeaderSize {
		return nil, fmt.Errorf("%w: waterfall header %d bytes", ErrShortPacket, len(payload))
	}

	reader := bytes.NewReader(payload)
	var h waterfallHeader
	if err := binary.Read(reader, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read waterfall header: %w", err)
	}

	count := int(h.NumberOfBins) * int(h.LineHeight)
	bins := payload[WaterfallHeaderSize:]
	if len(bins) < count*2 {
		return nil, fmt.Errorf("%w: waterfall wants %d bins, has %d bytes", ErrShortPacket, count, len(bins))
	}

	f := &WaterfallFrame{
		FirstBinFreq:   float64(h.FirstBinFreq) / waterfallFreqScale,
		BinBandwidth:   float64(h.BinBandwidth) / waterfallFreqScale,
		LineDuration:   h.LineDuration,
		NumberOfBins:   h.NumberOfBins,
		LineHeight:     h.LineHeight,
		TimeCode:       h.TimeCode,
		AutoBlackLevel: h.AutoBlackLevel,
		Bins:           make([]uint16, count),
	}
	for i := range f.Bins {
		f.Bins[i] = binary.BigEndian.Uint16(bins[i*2:])
	}
	return f, nil
}

// AudioFrame is interleaved stereo audio split into channels. It carries DAX
// audio and DAX IQ (I on Left, Q on Right).
type AudioFrame struct {
	Samples int
	Left    []float32
	Right   []float32
}

// DecodeAudioFrame decodes big-endian float32 L/R pairs. Trailing bytes that
// do not complete a pair are ignored.
func DecodeAudioFrame(payload []byte) *AudioFrame {
	samples := len(payload) / 8
	f := &AudioFrame{
		Samples: samples,
		Left:    make([]float32, samples),
		Right:   make([]float32, samples),
	}
	for i := 0; i < samples; i++ {
		f.Left[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[i*8:]))
		f.Right[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[i*8+4:]))
	}
	return f
}

// EncodeAudioFrame interleaves left and right into a big-endian payload. The
// shorter channel bounds the sample count.
func EncodeAudioFrame(left, right []float32, gain float32) []byte {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	b := NewPacketBuilder()
	for i := 0; i < n; i++ {
		b.WriteFloat32(left[i] * gain).WriteFloat32(right[i] * gain)
	}
	return b.Build()
}

// OpusFrame is an encoded Opus payload.
type OpusFrame struct {
	Payload []byte
}

// DecodeOpusFrame copies the payload out of the datagram buffer.
func DecodeOpusFrame(payload []byte) *OpusFrame {
	return &OpusFrame{Payload: append([]byte(nil), payload...)}
}

// MeterSample is one (meter number, raw value) pair from a meter packet.
type MeterSample struct {
	ID    uint16
	Value int16
}

// DecodeMeterSamples decodes a meter payload of 4-byte pairs.
func DecodeMeterSamples(payload []byte) []MeterSample {
	samples := make([]MeterSample, 0, len(payload)/4)
	for i := 0; i+4 <= len(payload); i += 4 {
		samples = append(samples, MeterSample{
			ID:    binary.BigEndian.Uint16(payload[i:]),
			Value: int16(binary.BigEndian.Uint16(payload[i+2:])),
		})
	}
	return samples
}
