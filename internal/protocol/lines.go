package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedLine is returned for an inbound line that cannot be framed.
var ErrMalformedLine = errors.New("malformed line")

// LineKind classifies an inbound command-channel line by its prefix.
type LineKind int

const (
	LineUnknown LineKind = iota
	LineHandle
	LineMessage
	LineReply
	LineStatus
	LineVersion
)

var lineKindStrings = map[LineKind]string{
	LineUnknown: "unknown",
	LineHandle:  "handle",
	LineMessage: "message",
	LineReply:   "reply",
	LineStatus:  "status",
	LineVersion: "version",
}

func (k LineKind) String() string {
	if s, ok := lineKindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// Severity is the level encoded in bits 24-25 of a message number.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

var severityStrings = map[Severity]string{
	SeverityInfo:    "info",
	SeverityWarning: "warning",
	SeverityError:   "error",
	SeverityFatal:   "fatal",
}

func (s Severity) String() string {
	if str, ok := severityStrings[s]; ok {
		return str
	}
	return "error"
}

// MarshalJSON serializes Severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Message is a decoded M line.
type Message struct {
	Code     uint32
	Severity Severity
	Text     string
}

// Reply is a decoded R line.
type Reply struct {
	Sequence string
	Code     string
	Body     string
	Debug    string
}

// OK reports whether the reply carries the success code.
func (r Reply) OK() bool {
	return r.Code == ReplySuccess
}

// Status is a decoded S line: the sending handle, the category token and the
// unparsed remainder.
type Status struct {
	Handle   string
	Category string
	Body     string
}

// Line is one framed inbound line. Exactly one of the payload fields is set
// according to Kind.
type Line struct {
	Kind    LineKind
	Raw     string
	Handle  string
	Version string
	Message *Message
	Reply   *Reply
	Status  *Status
}

// ParseLine frames a single inbound line (without its newline).
func ParseLine(raw string) (*Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedLine)
	}

	line := &Line{Raw: raw}
	suffix := raw[1:]

	switch raw[0] {
	case PrefixHandle:
		line.Kind = LineHandle
		line.Handle = StreamID(suffix)

	case PrefixMessage:
		msg, err := parseMessage(suffix)
		if err != nil {
			return nil, err
		}
		line.Kind = LineMessage
		line.Message = msg

	case PrefixReply:
		reply, err := parseReply(suffix)
		if err != nil {
			return nil, err
		}
		line.Kind = LineReply
		line.Reply = reply

	case PrefixStatus:
		status, err := parseStatus(suffix)
		if err != nil {
			return nil, err
		}
		line.Kind = LineStatus
		line.Status = status

	case PrefixVersion:
		line.Kind = LineVersion
		line.Version = suffix

	default:
		return nil, fmt.Errorf("%w: unknown prefix %q", ErrMalformedLine, raw[0])
	}

	return line, nil
}

// Format: <messageNumber>|<text>
func parseMessage(s string) (*Message, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: incomplete message %q", ErrMalformedLine, s)
	}

	// message numbers are hex on the wire
	code, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: message number %q", ErrMalformedLine, parts[0])
	}

	return &Message{
		Code:     uint32(code),
		Severity: SeverityFromCode(uint32(code)),
		Text:     parts[1],
	}, nil
}

// SeverityFromCode extracts the severity from bits 24-25 of a message number.
func SeverityFromCode(code uint32) Severity {
	return Severity((code & 0x03000000) >> 24)
}

// Format: <sequence>|<code>|<message>[|<debug>]
func parseReply(s string) (*Reply, error) {
	parts := strings.Split(s, "|")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: incomplete reply %q", ErrMalformedLine, s)
	}

	reply := &Reply{
		Sequence: strings.TrimSpace(parts[0]),
		Code:     strings.TrimSpace(parts[1]),
	}
	if len(parts) > 2 {
		reply.Body = parts[2]
	}
	if len(parts) > 3 {
		reply.Debug = strings.Join(parts[3:], "|")
	}
	if reply.Sequence == "" {
		return nil, fmt.Errorf("%w: reply without sequence %q", ErrMalformedLine, s)
	}
	return reply, nil
}

// Format: <handle>|<category> <rest>
func parseStatus(s string) (*Status, error) {
	handle, message, ok := strings.Cut(s, "|")
	if !ok {
		return nil, fmt.Errorf("%w: incomplete status %q", ErrMalformedLine, s)
	}

	message = strings.TrimSpace(message)
	category, body, _ := strings.Cut(message, " ")
	if category == "" {
		return nil, fmt.Errorf("%w: status without category %q", ErrMalformedLine, s)
	}

	return &Status{
		Handle:   StreamID(handle),
		Category: strings.ToLower(category),
		Body:     strings.TrimSpace(body),
	}, nil
}
