// Package protocol implements the wire formats spoken between flexlink and a
// FlexRadio-style transceiver: the newline-terminated command channel (key/value
// codec, inbound line framing, outbound command encoding) and the VITA-49
// streaming channel (header codec and per-stream frame decoders). All binary
// fields are big-endian.
package protocol

// Inbound command-channel line prefixes.
const (
	PrefixHandle  byte = 'H' // Client handle assigned by the radio
	PrefixMessage byte = 'M' // Log message with severity code
	PrefixReply   byte = 'R' // Reply to a sequenced command
	PrefixStatus  byte = 'S' // Status update for one object or radio area
	PrefixVersion byte = 'V' // Hardware/protocol version echo
)

// Outbound command-channel prefixes.
const (
	PrefixCommand    = "C"
	PrefixDiagnostic = "CD"
)

// ReplySuccess is the response code carried by a successful reply.
const ReplySuccess = "0"

// Default ports used by the radio.
const (
	DefaultCommandPort = 4992
	DefaultStreamPort  = 4991
)

// VITA-49 packet types (upper nibble of the first header byte).
const (
	VitaIFData            byte = 0x00
	VitaIFDataWithStream  byte = 0x01
	VitaExtData           byte = 0x02
	VitaExtDataWithStream byte = 0x03
	VitaIFContext         byte = 0x04
	VitaExtContext        byte = 0x05
)

// VITA-49 timestamp integer (TSI) and fractional (TSF) formats.
const (
	TsiNone  byte = 0x00
	TsiUTC   byte = 0x01
	TsiGPS   byte = 0x02
	TsiOther byte = 0x03

	TsfNone        byte = 0x00
	TsfSampleCount byte = 0x01
	TsfRealTime    byte = 0x02
	TsfFreeRunning byte = 0x03
)

// Header flag bits in the first header byte.
const (
	vitaClassIDPresent byte = 0x08
	vitaTrailerPresent byte = 0x04
)

// FlexOUI is the organizationally unique identifier carried in Flex class ids.
const FlexOUI uint32 = 0x001C2D

// FlexInformationClass is the information class code used by all Flex streams.
const FlexInformationClass uint16 = 0x534C

// Packet class codes identifying the stream kind.
const (
	ClassMeter      uint16 = 0x8002
	ClassPanadapter uint16 = 0x8003
	ClassWaterfall  uint16 = 0x8004
	ClassOpus       uint16 = 0x8005
	ClassDaxIQ24    uint16 = 0x02E3
	ClassDaxIQ48    uint16 = 0x02E4
	ClassDaxIQ96    uint16 = 0x02E5
	ClassDaxIQ192   uint16 = 0x02E6
	ClassDaxAudio   uint16 = 0x03E3
	ClassDiscovery  uint16 = 0xFFFF
)

// VitaMinimumSize is the smallest packet accepted by DecodeVita.
const VitaMinimumSize = 28

// MaxDatagramSize bounds a single stream datagram.
const MaxDatagramSize = 16384
