package radio

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

// ErrNotTransmitting is returned when TX audio is offered to a stream that is
// not the DAX transmit source.
var ErrNotTransmitting = errors.New("stream is not transmitting")

var audioStreamSchema = schema{
	"dax":         fieldInt,
	"dax_clients": fieldInt,
	"in_use":      fieldBool,
	"ip":          fieldString,
	"port":        fieldInt,
	"slice":       fieldString,
}

var micAudioStreamSchema = schema{
	"in_use": fieldBool,
	"ip":     fieldString,
	"port":   fieldInt,
}

var txAudioStreamSchema = schema{
	"dax_tx": fieldBool,
	"in_use": fieldBool,
	"ip":     fieldString,
	"port":   fieldInt,
}

var iqStreamSchema = schema{
	"available": fieldInt,
	"capacity":  fieldInt,
	"daxiq":     fieldInt,
	"in_use":    fieldBool,
	"ip":        fieldString,
	"pan":       fieldID,
	"port":      fieldInt,
	"rate":      fieldInt,
	"streaming": fieldBool,
}

var opusSchema = schema{
	"ip":                     fieldString,
	"port":                   fieldInt,
	"rx_on":                  fieldBool,
	"tx_on":                  fieldBool,
	"opus_rx_stream_stopped": fieldBool,
}

// samples per channel in one outbound DAX audio packet
const maxTxSamples = 128

// AudioHandler receives decoded DAX audio or IQ frames.
type AudioHandler func(frame *protocol.AudioFrame)

// OpusHandler receives Opus payloads.
type OpusHandler func(frame *protocol.OpusFrame)

func streamInUseReady(p *Properties) bool {
	return p.Bool("in_use") && p.String("ip") != ""
}

func streamIPReady(p *Properties) bool {
	return p.String("ip") != ""
}

// rxStream is the receive side shared by the audio, IQ and Opus streams:
// packet count tracking and one consumer callback.
type rxStream[H any] struct {
	seq     *SequenceTracker
	mu      sync.RWMutex
	handler H
	has     bool
}

// Sequence exposes the packet count tracker.
func (s *rxStream[H]) Sequence() *SequenceTracker { return s.seq }

// SetHandler installs the frame consumer.
func (s *rxStream[H]) SetHandler(h H) {
	s.mu.Lock()
	s.handler = h
	s.has = true
	s.mu.Unlock()
}

func (s *rxStream[H]) current() (H, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler, s.has
}

// observe runs the gap check for one packet of e.
func (s *rxStream[H]) observe(e *entry, count uint8) {
	gap, expected := s.seq.Observe(count)
	if !gap {
		return
	}
	total := s.seq.Lost()
	e.radio.metrics.RecordLoss(e.kind.String())
	e.radio.logger.Warn().
		Str("kind", e.kind.String()).
		Str("id", e.id).
		Int("expected", expected).
		Uint8("received", count&0x0F).
		Uint64("lost", total).
		Msg("stream packet lost")
	e.radio.emit(events.EventPacketLoss, events.PacketLossPayload{Kind: e.kind, ID: e.id, Total: total})
}

// txCounter is the 4-bit packet count stamped on outbound packets.
type txCounter struct {
	n atomic.Uint32
}

func (c *txCounter) next() uint8 {
	return uint8((c.n.Add(1) - 1) & 0x0F)
}

// AudioStream is a DAX receive audio channel.
type AudioStream struct {
	*entry
	rxStream[AudioHandler]
}

func newAudioStream(r *Radio, id string) *AudioStream {
	return &AudioStream{
		entry:    newEntry(r, events.KindAudioStream, id, audioStreamSchema, nil, streamInUseReady),
		rxStream: rxStream[AudioHandler]{seq: NewSequenceTracker()},
	}
}

func (a *AudioStream) DaxChannel() int { return a.props.Int("dax") }
func (a *AudioStream) Slice() string   { return a.props.String("slice") }
func (a *AudioStream) IP() string      { return a.props.String("ip") }
func (a *AudioStream) Port() int       { return a.props.Int("port") }
func (a *AudioStream) InUse() bool     { return a.props.Bool("in_use") }

// SetRxGain sets the gain of the stream's slice audio.
func (a *AudioStream) SetRxGain(v int) error {
	if err := checkRange("rx_gain", v, minLevel, maxLevel); err != nil {
		return err
	}
	slice := a.Slice()
	if slice == "" {
		return fmt.Errorf("audio stream %s has no slice", a.id)
	}
	return a.mutate("rx_gain", v, fmt.Sprintf("audio stream 0x%s slice %s gain %d", a.id, slice, v))
}

// SetSlice binds the DAX channel to a slice.
func (a *AudioStream) SetSlice(slice string) error {
	return a.mutate("slice", slice, fmt.Sprintf("dax audio set %d slice=%s", a.DaxChannel(), slice))
}

func (a *AudioStream) Remove() error {
	return a.send(protocol.CmdStreamRemove + a.id)
}

func (a *AudioStream) handlePacket(p *protocol.VitaPacket) {
	a.observe(a.entry, p.Count)
	if h, ok := a.current(); ok && h != nil {
		h(protocol.DecodeAudioFrame(p.Payload))
	}
}

// MicAudioStream carries the radio's microphone audio.
type MicAudioStream struct {
	*entry
	rxStream[AudioHandler]
}

func newMicAudioStream(r *Radio, id string) *MicAudioStream {
	return &MicAudioStream{
		entry:    newEntry(r, events.KindMicAudioStream, id, micAudioStreamSchema, nil, streamInUseReady),
		rxStream: rxStream[AudioHandler]{seq: NewSequenceTracker()},
	}
}

func (m *MicAudioStream) IP() string  { return m.props.String("ip") }
func (m *MicAudioStream) Port() int   { return m.props.Int("port") }
func (m *MicAudioStream) InUse() bool { return m.props.Bool("in_use") }

func (m *MicAudioStream) Remove() error {
	return m.send(protocol.CmdStreamRemove + m.id)
}

func (m *MicAudioStream) handlePacket(p *protocol.VitaPacket) {
	m.observe(m.entry, p.Count)
	if h, ok := m.current(); ok && h != nil {
		h(protocol.DecodeAudioFrame(p.Payload))
	}
}

// TxAudioStream sends DAX transmit audio to the radio.
type TxAudioStream struct {
	*entry

	tx     txCounter
	mu     sync.RWMutex
	gain   int
	scalar float32
}

func newTxAudioStream(r *Radio, id string) *TxAudioStream {
	return &TxAudioStream{
		entry:  newEntry(r, events.KindTxAudioStream, id, txAudioStreamSchema, nil, streamInUseReady),
		gain:   50,
		scalar: 1,
	}
}

func (t *TxAudioStream) Transmitting() bool { return t.props.Bool("dax_tx") }
func (t *TxAudioStream) IP() string         { return t.props.String("ip") }
func (t *TxAudioStream) Port() int          { return t.props.Int("port") }

// SetTransmit makes this client the DAX transmit source.
func (t *TxAudioStream) SetTransmit(on bool) error {
	return t.mutate("dax_tx", on, "dax tx "+protocol.FormatBool(on))
}

// TxGain returns the local gain, 0..100.
func (t *TxAudioStream) TxGain() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gain
}

// SetTxGain maps 0..100 onto -10..+10 dB applied to outbound samples; 0
// mutes.
func (t *TxAudioStream) SetTxGain(v int) {
	v = maxInt(minLevel, minInt(v, maxLevel))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.gain = v
	if v == 0 {
		t.scalar = 0
		return
	}
	db := -10 + float64(v)/100*20
	t.scalar = float32(math.Pow(10, db/20))
}

// SendTxAudio packetizes left/right samples and writes them to the stream
// transport. It returns the number of packets sent.
func (t *TxAudioStream) SendTxAudio(left, right []float32) (int, error) {
	if !t.Transmitting() {
		return 0, ErrNotTransmitting
	}
	streamID, err := parseStreamID(t.id)
	if err != nil {
		return 0, err
	}

	t.mu.RLock()
	scalar := t.scalar
	t.mu.RUnlock()

	n := minInt(len(left), len(right))
	sent := 0
	for start := 0; start < n; start += maxTxSamples {
		end := minInt(start+maxTxSamples, n)
		payload := protocol.EncodeAudioFrame(left[start:end], right[start:end], scalar)
		pkt := protocol.NewTxPacket(streamID, protocol.ClassDaxAudio, t.tx.next(), payload)
		if err := t.radio.SendPacket(protocol.EncodeVita(pkt)); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (t *TxAudioStream) Remove() error {
	return t.send(protocol.CmdStreamRemove + t.id)
}

// IqStream is a DAX IQ channel.
type IqStream struct {
	*entry
	rxStream[AudioHandler]
}

func newIqStream(r *Radio, id string) *IqStream {
	return &IqStream{
		entry:    newEntry(r, events.KindIqStream, id, iqStreamSchema, nil, streamIPReady),
		rxStream: rxStream[AudioHandler]{seq: NewSequenceTracker()},
	}
}

func (q *IqStream) DaxIQChannel() int  { return q.props.Int("daxiq") }
func (q *IqStream) Panadapter() string { return q.props.String("pan") }
func (q *IqStream) Rate() int          { return q.props.Int("rate") }
func (q *IqStream) Streaming() bool    { return q.props.Bool("streaming") }

// SetRate selects the IQ sample rate in Hz (24000, 48000, 96000 or 192000).
func (q *IqStream) SetRate(rate int) error {
	switch rate {
	case 24000, 48000, 96000, 192000:
	default:
		return fmt.Errorf("%w: iq rate %d", ErrOutOfRange, rate)
	}
	return q.mutate("rate", rate, fmt.Sprintf("dax iq set %d rate=%d", q.DaxIQChannel(), rate))
}

func (q *IqStream) Remove() error {
	return q.send(protocol.CmdStreamRemove + q.id)
}

func (q *IqStream) handlePacket(p *protocol.VitaPacket) {
	q.observe(q.entry, p.Count)
	if h, ok := q.current(); ok && h != nil {
		h(protocol.DecodeAudioFrame(p.Payload))
	}
}

// Opus is the compressed remote audio stream.
type Opus struct {
	*entry
	rxStream[OpusHandler]

	tx txCounter
}

func newOpus(r *Radio, id string) *Opus {
	return &Opus{
		entry:    newEntry(r, events.KindOpus, id, opusSchema, nil, streamIPReady),
		rxStream: rxStream[OpusHandler]{seq: NewSequenceTracker()},
	}
}

func (o *Opus) RxEnabled() bool { return o.props.Bool("rx_on") }
func (o *Opus) TxEnabled() bool { return o.props.Bool("tx_on") }
func (o *Opus) RxStopped() bool { return o.props.Bool("opus_rx_stream_stopped") }
func (o *Opus) IP() string      { return o.props.String("ip") }
func (o *Opus) Port() int       { return o.props.Int("port") }

func (o *Opus) SetRxEnabled(on bool) error {
	return o.mutate("rx_on", on, "remote_audio rx_on "+protocol.FormatBool(on))
}

func (o *Opus) SetTxEnabled(on bool) error {
	return o.mutate("tx_on", on, "remote_audio tx_on "+protocol.FormatBool(on))
}

func (o *Opus) SetRxStopped(on bool) error {
	return o.mutate("opus_rx_stream_stopped", on, "remote_audio opus_rx_stream_stopped "+protocol.FormatBool(on))
}

// SendTxAudio sends one encoded Opus frame to the radio.
func (o *Opus) SendTxAudio(payload []byte) error {
	streamID, err := parseStreamID(o.id)
	if err != nil {
		return err
	}
	pkt := protocol.NewTxPacket(streamID, protocol.ClassOpus, o.tx.next(), payload)
	pkt.Type = protocol.VitaExtDataWithStream
	return o.radio.SendPacket(protocol.EncodeVita(pkt))
}

func (o *Opus) handlePacket(p *protocol.VitaPacket) {
	o.observe(o.entry, p.Count)
	if h, ok := o.current(); ok && h != nil {
		h(protocol.DecodeOpusFrame(p.Payload))
	}
}

func parseStreamID(id string) (uint32, error) {
	v, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("stream id %q: %w", id, err)
	}
	return uint32(v), nil
}

// streamIDFromReply reads the id a stream create reply carries.
func streamIDFromReply(body string) (string, bool) {
	v, err := parseStreamID(protocol.StreamID(body))
	if err != nil {
		return "", false
	}
	return protocol.FormatStreamID(v), true
}

// SendPacket writes one encoded VITA packet to the stream transport.
func (r *Radio) SendPacket(data []byte) error {
	r.mu.RLock()
	stream := r.stream
	connected := r.isConnectedLocked()
	r.mu.RUnlock()
	if !connected || stream == nil {
		return ErrNotConnected
	}
	return stream.WritePacket(data)
}

// createStream sends a stream create command whose reply names the new
// stream; create registers it so packets can be routed before its first
// status line.
func createStream[T Object](r *Radio, g *registry[T], command string, create func(id string) T, handler ReplyHandler) (uint32, error) {
	return r.Send(command, func(reply Reply) {
		if reply.OK() {
			if id, ok := streamIDFromReply(reply.Body); ok {
				if _, exists := g.Get(id); !exists {
					g.put(create(id))
					r.metrics.SetObjects(g.kind.String(), g.Len())
				}
			} else {
				r.logger.Warn().Str("command", command).Str("body", reply.Body).Msg("stream create reply without id")
			}
		}
		if handler != nil {
			handler(reply)
		}
	})
}

// CreateAudioStream requests DAX audio on channel.
func (r *Radio) CreateAudioStream(channel int, handler ReplyHandler) (uint32, error) {
	return createStream(r, r.audioStreams, fmt.Sprintf("%sdax=%d", protocol.CmdStreamCreate, channel),
		func(id string) *AudioStream { return newAudioStream(r, id) }, handler)
}

// CreateMicAudioStream requests the microphone audio stream.
func (r *Radio) CreateMicAudioStream(handler ReplyHandler) (uint32, error) {
	return createStream(r, r.micAudioStreams, protocol.CmdStreamCreate+"daxmic",
		func(id string) *MicAudioStream { return newMicAudioStream(r, id) }, handler)
}

// CreateTxAudioStream requests a DAX transmit stream.
func (r *Radio) CreateTxAudioStream(handler ReplyHandler) (uint32, error) {
	return createStream(r, r.txAudioStreams, protocol.CmdStreamCreate+"daxtx",
		func(id string) *TxAudioStream { return newTxAudioStream(r, id) }, handler)
}

// CreateIqStream requests DAX IQ on channel.
func (r *Radio) CreateIqStream(channel int, handler ReplyHandler) (uint32, error) {
	return createStream(r, r.iqStreams, fmt.Sprintf("%sdaxiq=%d", protocol.CmdStreamCreate, channel),
		func(id string) *IqStream { return newIqStream(r, id) }, handler)
}

func (r *Radio) AudioStream(id string) (*AudioStream, bool)       { return r.audioStreams.Get(id) }
func (r *Radio) AudioStreams() []*AudioStream                     { return r.audioStreams.List() }
func (r *Radio) MicAudioStream(id string) (*MicAudioStream, bool) { return r.micAudioStreams.Get(id) }
func (r *Radio) MicAudioStreams() []*MicAudioStream               { return r.micAudioStreams.List() }
func (r *Radio) TxAudioStream(id string) (*TxAudioStream, bool)   { return r.txAudioStreams.Get(id) }
func (r *Radio) TxAudioStreams() []*TxAudioStream                 { return r.txAudioStreams.List() }
func (r *Radio) IqStream(id string) (*IqStream, bool)             { return r.iqStreams.Get(id) }
func (r *Radio) IqStreams() []*IqStream                           { return r.iqStreams.List() }
func (r *Radio) Opus(id string) (*Opus, bool)                     { return r.opusStreams.Get(id) }
func (r *Radio) OpusStreams() []*Opus                             { return r.opusStreams.List() }
