package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors returned by the streaming codecs.
var (
	ErrShortPacket     = errors.New("packet too short")
	ErrMalformedPacket = errors.New("malformed packet")
)

const (
	ouiMask         uint32 = 0x00FFFFFF
	vitaTrailerSize        = 4
)

// VitaPacket is a decoded VITA-49 packet. Payload aliases the buffer passed to
// DecodeVita.
type VitaPacket struct {
	Type           byte
	ClassIDPresent bool
	TrailerPresent bool
	Tsi            byte
	Tsf            byte
	Count          uint8 // 4-bit packet sequence number
	Size           int   // declared packet size in bytes

	StreamID         uint32
	OUI              uint32
	InformationClass uint16
	PacketClass      uint16

	IntegerTimestamp uint32
	FracTimestampMSB uint32
	FracTimestampLSB uint32

	HeaderSize int
	Payload    []byte
	Trailer    uint32
}

// HasStreamID reports whether the packet type carries a stream identifier.
func (p *VitaPacket) HasStreamID() bool {
	return p.Type == VitaIFDataWithStream || p.Type == VitaExtDataWithStream ||
		p.Type == VitaIFContext || p.Type == VitaExtContext
}

// StreamHandle returns the stream id normalized the way status lines name it.
func (p *VitaPacket) StreamHandle() string {
	return FormatStreamID(p.StreamID)
}

// DecodeVita parses a VITA-49 header and locates the payload and trailer.
func DecodeVita(data []byte) (*VitaPacket, error) {
	if len(data) < VitaMinimumSize {
		return nil, fmt.Errorf("%w: %d bytes (minimum %d)", ErrShortPacket, len(data), VitaMinimumSize)
	}

	reader := bytes.NewReader(data)
	var word uint32
	if err := binary.Read(reader, binary.BigEndian, &word); err != nil {
		return nil, fmt.Errorf("failed to read header word: %w", err)
	}

	p := &VitaPacket{
		Type:           byte(word>>28) & 0x0F,
		ClassIDPresent: byte(word>>24)&vitaClassIDPresent != 0,
		TrailerPresent: byte(word>>24)&vitaTrailerPresent != 0,
		Tsi:            byte(word>>22) & 0x03,
		Tsf:            byte(word>>20) & 0x03,
		Count:          uint8(word>>16) & 0x0F,
		Size:           int(word&0xFFFF) * 4,
	}
	if p.Type > VitaExtContext {
		return nil, fmt.Errorf("%w: packet type %d", ErrMalformedPacket, p.Type)
	}

	if p.HasStreamID() {
		if err := binary.Read(reader, binary.BigEndian, &p.StreamID); err != nil {
			return nil, fmt.Errorf("failed to read stream id: %w", err)
		}
	}

	if p.ClassIDPresent {
		var oui, codes uint32
		if err := binary.Read(reader, binary.BigEndian, &oui); err != nil {
			return nil, fmt.Errorf("failed to read oui: %w", err)
		}
		if err := binary.Read(reader, binary.BigEndian, &codes); err != nil {
			return nil, fmt.Errorf("failed to read class codes: %w", err)
		}
		p.OUI = oui & ouiMask
		p.InformationClass = uint16(codes >> 16)
		p.PacketClass = uint16(codes & 0xFFFF)
	}

	if p.Tsi != TsiNone {
		if err := binary.Read(reader, binary.BigEndian, &p.IntegerTimestamp); err != nil {
			return nil, fmt.Errorf("failed to read integer timestamp: %w", err)
		}
	}

	if p.Tsf != TsfNone {
		if err := binary.Read(reader, binary.BigEndian, &p.FracTimestampMSB); err != nil {
			return nil, fmt.Errorf("failed to read fractional timestamp: %w", err)
		}
		if err := binary.Read(reader, binary.BigEndian, &p.FracTimestampLSB); err != nil {
			return nil, fmt.Errorf("failed to read fractional timestamp: %w", err)
		}
	}

	p.HeaderSize = len(data) - reader.Len()

	end := len(data)
	if p.TrailerPresent {
		end -= vitaTrailerSize
		if end < p.HeaderSize {
			return nil, fmt.Errorf("%w: no room for trailer", ErrShortPacket)
		}
		p.Trailer = binary.BigEndian.Uint32(data[end:])
	}
	p.Payload = data[p.HeaderSize:end]

	return p, nil
}

// EncodeVita serializes the packet. The payload is zero padded to a 32-bit
// boundary and Size is recomputed from the result.
func EncodeVita(p *VitaPacket) []byte {
	b := NewPacketBuilder()

	headerLen := 4
	if p.HasStreamID() {
		headerLen += 4
	}
	if p.ClassIDPresent {
		headerLen += 8
	}
	if p.Tsi != TsiNone {
		headerLen += 4
	}
	if p.Tsf != TsfNone {
		headerLen += 8
	}
	payloadLen := (len(p.Payload) + 3) &^ 3
	total := headerLen + payloadLen
	if p.TrailerPresent {
		total += vitaTrailerSize
	}

	flags := (p.Type & 0x0F) << 4
	if p.ClassIDPresent {
		flags |= vitaClassIDPresent
	}
	if p.TrailerPresent {
		flags |= vitaTrailerPresent
	}
	b.WriteByte(flags)
	b.WriteByte((p.Tsi&0x03)<<6 | (p.Tsf&0x03)<<4 | (p.Count & 0x0F))
	b.WriteUint16(uint16(total / 4))

	if p.HasStreamID() {
		b.WriteUint32(p.StreamID)
	}
	if p.ClassIDPresent {
		b.WriteUint32(p.OUI & ouiMask)
		b.WriteUint32(uint32(p.InformationClass)<<16 | uint32(p.PacketClass))
	}
	if p.Tsi != TsiNone {
		b.WriteUint32(p.IntegerTimestamp)
	}
	if p.Tsf != TsfNone {
		b.WriteUint32(p.FracTimestampMSB)
		b.WriteUint32(p.FracTimestampLSB)
	}

	b.WriteBytes(p.Payload).PadToWord()
	if p.TrailerPresent {
		b.WriteUint32(p.Trailer)
	}

	p.HeaderSize = headerLen
	p.Size = total
	return b.Build()
}

// NewTxPacket returns an IF-data packet with stream id and Flex class id,
// stamped the way the radio expects outbound audio.
func NewTxPacket(streamID uint32, class uint16, count uint8, payload []byte) *VitaPacket {
	return &VitaPacket{
		Type:             VitaIFDataWithStream,
		ClassIDPresent:   true,
		Tsi:              TsiOther,
		Tsf:              TsfSampleCount,
		Count:            count & 0x0F,
		StreamID:         streamID,
		OUI:              FlexOUI,
		InformationClass: FlexInformationClass,
		PacketClass:      class,
		Payload:          payload,
	}
}
