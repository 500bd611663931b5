// Package radio implements the client side of a FlexRadio-style control
// session: the connection state machine, the inbound line dispatcher, reply
// correlation, the per-kind object registries kept in sync from status lines,
// radio-level state, and the demultiplexer that routes stream packets to the
// object owning them.
package radio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
	"github.com/flexlink-project/flexlink/internal/util"
)

const sourceName = "radio"

var (
	ErrNotConnected     = errors.New("radio not connected")
	ErrAlreadyConnected = errors.New("radio already connected")
	ErrNoTransport      = errors.New("transport not configured")
	ErrUnknownObject    = errors.New("unknown object")
	ErrOutOfRange       = errors.New("value out of range")
)

// CommandTransport is the reliable byte stream carrying command lines. The
// implementation delivers inbound lines to Radio.ReceiveLine and reports loss
// of the connection through Radio.TransportClosed.
type CommandTransport interface {
	Dial(ctx context.Context, host string, port int) error
	WriteLine(line string) error
	Close() error
}

// StreamTransport is the datagram socket carrying VITA-49 packets. Bind
// returns the local port announced to the radio; Serve blocks delivering
// packets to Radio.ReceivePacket until ctx is done.
type StreamTransport interface {
	Bind(ctx context.Context, host string) (int, error)
	Serve(ctx context.Context) error
	WritePacket(data []byte) error
	Close() error
}

// KeepAlive sends periodic pings once the session is active. ping issues one
// ping and calls onReply when the radio answers; expired reports a missed
// reply deadline.
type KeepAlive interface {
	Start(ctx context.Context, ping func(onReply func()) error, expired func())
	Stop()
}

// Recorder receives counters from the session. telemetry.Metrics implements
// it; the default discards everything.
type Recorder interface {
	RecordLine(kind string)
	RecordStatus(category string)
	RecordReply(outcome string)
	RecordPacket(kind string)
	RecordLoss(kind string)
	RecordDrop(kind string)
	SetObjects(kind string, n int)
	SetConnectionState(state int)
}

type nopRecorder struct{}

func (nopRecorder) RecordLine(string)      {}
func (nopRecorder) RecordStatus(string)    {}
func (nopRecorder) RecordReply(string)     {}
func (nopRecorder) RecordPacket(string)    {}
func (nopRecorder) RecordLoss(string)      {}
func (nopRecorder) RecordDrop(string)      {}
func (nopRecorder) SetObjects(string, int) {}
func (nopRecorder) SetConnectionState(int) {}

// Options controls what the session announces and requests once active.
type Options struct {
	ClientProgram string
	Station       string
	GUI           bool
	LowBandwidth  bool

	SendPrimary       bool
	SendSubscriptions bool
	SendSecondary     bool

	// ParseQueueSize bounds the ordered queue between the command transport
	// and the parser.
	ParseQueueSize int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ClientProgram:     "flexlink",
		SendPrimary:       true,
		SendSubscriptions: true,
		SendSecondary:     true,
		ParseQueueSize:    1024,
	}
}

// Radio is one client's live model of a remote radio and the session that
// keeps it current.
type Radio struct {
	opts       Options
	bus        *events.EventBus
	logger     zerolog.Logger
	dispatcher *Dispatcher
	corr       *correlator
	metrics    Recorder

	// sendMu orders sequence allocation with the write so lines reach the
	// wire in sequence order.
	sendMu sync.Mutex

	mu        sync.RWMutex
	link      CommandTransport
	stream    StreamTransport
	keepAlive KeepAlive
	state     events.ConnectionState
	reason    events.DisconnectReason
	host      string
	port      int
	udpPort   int
	handle    string
	version   string
	sessionID string
	runCtx    context.Context
	cancel    context.CancelFunc
	lines     chan string

	audioStreams    *registry[*AudioStream]
	micAudioStreams *registry[*MicAudioStream]
	txAudioStreams  *registry[*TxAudioStream]
	iqStreams       *registry[*IqStream]
	panadapters     *registry[*Panadapter]
	waterfalls      *registry[*Waterfall]
	opusStreams     *registry[*Opus]
	slices          *registry[*Slice]
	memories        *registry[*Memory]
	meters          *registry[*Meter]
	equalizers      *registry[*Equalizer]
	tnfs            *registry[*Tnf]
	xvtrs           *registry[*Xvtr]
	usbCables       *registry[*UsbCable]

	areas *radioState
}

// New creates a Radio publishing on bus. Transports are attached with
// SetTransports before Connect.
func New(bus *events.EventBus, opts Options) *Radio {
	if opts.ParseQueueSize <= 0 {
		opts.ParseQueueSize = DefaultOptions().ParseQueueSize
	}
	if opts.ClientProgram == "" {
		opts.ClientProgram = DefaultOptions().ClientProgram
	}

	r := &Radio{
		opts:       opts,
		bus:        bus,
		logger:     util.ComponentLogger("radio"),
		dispatcher: NewDispatcher(),
		corr:       newCorrelator(),
		metrics:    nopRecorder{},
		state:      events.StateIdle,

		audioStreams:    newRegistry[*AudioStream](events.KindAudioStream),
		micAudioStreams: newRegistry[*MicAudioStream](events.KindMicAudioStream),
		txAudioStreams:  newRegistry[*TxAudioStream](events.KindTxAudioStream),
		iqStreams:       newRegistry[*IqStream](events.KindIqStream),
		panadapters:     newRegistry[*Panadapter](events.KindPanadapter),
		waterfalls:      newRegistry[*Waterfall](events.KindWaterfall),
		opusStreams:     newRegistry[*Opus](events.KindOpus),
		slices:          newRegistry[*Slice](events.KindSlice),
		memories:        newRegistry[*Memory](events.KindMemory),
		meters:          newRegistry[*Meter](events.KindMeter),
		equalizers:      newRegistry[*Equalizer](events.KindEqualizer),
		tnfs:            newRegistry[*Tnf](events.KindTnf),
		xvtrs:           newRegistry[*Xvtr](events.KindXvtr),
		usbCables:       newRegistry[*UsbCable](events.KindUsbCable),

		areas: newRadioState(),
	}

	r.registerStatusHandlers()
	bus.Subscribe(events.EventObjectRemoving, "radio.detachMeter", r.onObjectRemoving)
	return r
}

// SetTransports attaches the command and stream transports.
func (r *Radio) SetTransports(link CommandTransport, stream StreamTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.link = link
	r.stream = stream
}

// SetKeepAlive attaches the pinger started when the session becomes active.
func (r *Radio) SetKeepAlive(k KeepAlive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keepAlive = k
}

// SetRecorder attaches a metrics recorder.
func (r *Radio) SetRecorder(rec Recorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	r.metrics = rec
}

// Bus returns the event bus the radio publishes on.
func (r *Radio) Bus() *events.EventBus { return r.bus }

// Dispatcher returns the status dispatcher, for registering extra categories.
func (r *Radio) Dispatcher() *Dispatcher { return r.dispatcher }

// ConnectionState returns the current connection state and, once
// disconnected, why.
func (r *Radio) ConnectionState() (events.ConnectionState, events.DisconnectReason) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.reason
}

// Handle returns the client handle assigned by the radio.
func (r *Radio) Handle() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle
}

// Version returns the version string from the V line.
func (r *Radio) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// SessionID identifies the current connection attempt.
func (r *Radio) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

// UDPPort returns the local stream port announced to the radio.
func (r *Radio) UDPPort() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.udpPort
}

// Outstanding returns the number of commands still awaiting a reply.
func (r *Radio) Outstanding() int {
	return r.corr.outstanding()
}

// Connect opens the command transport, binds the stream transport and starts
// the parse queue. The session becomes active when the radio reports this
// client connected.
func (r *Radio) Connect(ctx context.Context, host string, port int) error {
	r.mu.Lock()
	switch r.state {
	case events.StateConnecting, events.StateConnected, events.StateStreamBound, events.StateActive, events.StateUpdating:
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	if r.link == nil || r.stream == nil {
		r.mu.Unlock()
		return ErrNoTransport
	}
	link, stream := r.link, r.stream

	runCtx, cancel := context.WithCancel(context.Background())
	r.runCtx = runCtx
	r.cancel = cancel
	r.lines = make(chan string, r.opts.ParseQueueSize)
	r.host = host
	r.port = port
	r.udpPort = 0
	r.handle = ""
	r.reason = events.ReasonNone
	r.sessionID = uuid.NewString()
	lines := r.lines
	r.mu.Unlock()

	r.corr.reset()

	go r.parseLoop(runCtx, lines)

	r.setState(events.StateConnecting)
	r.logger.Info().Str("host", host).Int("port", port).Str("session", r.SessionID()).Msg("connecting")

	if err := link.Dial(ctx, host, port); err != nil {
		r.disconnect(events.ReasonConnectionFailed)
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	r.setState(events.StateConnected)

	udpPort, err := stream.Bind(ctx, host)
	if err != nil {
		r.disconnect(events.ReasonConnectionFailed)
		return fmt.Errorf("bind stream transport: %w", err)
	}
	r.mu.Lock()
	r.udpPort = udpPort
	r.mu.Unlock()
	r.setState(events.StateStreamBound)

	go func() {
		if err := stream.Serve(runCtx); err != nil && runCtx.Err() == nil {
			r.logger.Warn().Err(err).Msg("stream transport stopped")
		}
	}()

	return nil
}

// Disconnect ends the session at the client's request.
func (r *Radio) Disconnect() {
	r.disconnect(events.ReasonRequested)
}

// TransportClosed is called by the command transport when the connection is
// lost or closed by the radio.
func (r *Radio) TransportClosed(err error) {
	if err != nil {
		r.logger.Warn().Err(err).Msg("command transport closed")
	}
	r.disconnect(events.ReasonClosed)
}

// KeepAliveExpired is called when the radio stops answering pings.
func (r *Radio) KeepAliveExpired() {
	r.logger.Warn().Msg("keep-alive expired")
	r.disconnect(events.ReasonTimeout)
}

// BeginUpdate marks the session as running a firmware update.
func (r *Radio) BeginUpdate() {
	r.setState(events.StateUpdating)
}

// disconnect is idempotent: the first call tears the session down, clears
// every collection and pending reply, then reports the new state.
func (r *Radio) disconnect(reason events.DisconnectReason) {
	r.mu.Lock()
	if r.state == events.StateIdle || r.state == events.StateDisconnected {
		r.mu.Unlock()
		return
	}
	r.state = events.StateDisconnected
	r.reason = reason
	cancel := r.cancel
	r.cancel = nil
	link, stream, ka := r.link, r.stream, r.keepAlive
	r.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if link != nil {
		if err := link.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("close command transport")
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("close stream transport")
		}
	}

	r.clear()
	r.corr.reset()

	r.logger.Info().Str("reason", reason.String()).Msg("disconnected")
	r.publishState(events.StateDisconnected, reason)
}

// clear empties every registry and radio-level area.
func (r *Radio) clear() {
	r.audioStreams.clear()
	r.micAudioStreams.clear()
	r.txAudioStreams.clear()
	r.iqStreams.clear()
	r.panadapters.clear()
	r.waterfalls.clear()
	r.opusStreams.clear()
	r.slices.clear()
	r.memories.clear()
	r.meters.clear()
	r.equalizers.clear()
	r.tnfs.clear()
	r.xvtrs.clear()
	r.usbCables.clear()
	r.areas.reset()

	for _, kind := range events.AllKinds {
		r.metrics.SetObjects(kind.String(), 0)
	}
}

func (r *Radio) setState(state events.ConnectionState) {
	r.mu.Lock()
	if r.state == events.StateDisconnected && state != events.StateConnecting {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.mu.Unlock()

	r.logger.Debug().Str("state", state.String()).Msg("connection state")
	r.publishState(state, events.ReasonNone)
}

func (r *Radio) publishState(state events.ConnectionState, reason events.DisconnectReason) {
	r.mu.RLock()
	payload := events.ConnectionStatePayload{
		SessionID: r.sessionID,
		State:     state,
		Reason:    reason,
		Host:      r.host,
		Port:      r.port,
		UDPPort:   r.udpPort,
	}
	r.mu.RUnlock()

	r.metrics.SetConnectionState(int(state))
	r.emit(events.EventConnectionState, payload)
}

// activate runs the ordered startup sequence once the radio has accepted this
// client.
func (r *Radio) activate() {
	r.mu.Lock()
	if r.state != events.StateStreamBound {
		r.mu.Unlock()
		return
	}
	udpPort := r.udpPort
	ka := r.keepAlive
	runCtx := r.runCtx
	r.mu.Unlock()

	r.setState(events.StateActive)
	r.logger.Info().Str("handle", r.Handle()).Int("udp_port", udpPort).Msg("session active")

	if r.opts.SendPrimary {
		for _, cmd := range protocol.PrimaryCommands(r.opts.ClientProgram, r.opts.Station, r.opts.GUI) {
			var handler ReplyHandler
			if cmd == protocol.CmdClientGUI {
				handler = r.onClientGUIReply
			}
			r.sendLogged(cmd, handler)
		}
	}
	if r.opts.LowBandwidth {
		r.sendLogged(protocol.CmdLowBandwidth, nil)
	}

	r.sendLogged(fmt.Sprintf("%s%d", protocol.CmdClientUDP, udpPort), nil)

	if r.opts.SendSubscriptions {
		for _, cmd := range protocol.SubscriptionCommands() {
			r.sendLogged(cmd, nil)
		}
	}
	if r.opts.SendSecondary {
		for _, cmd := range protocol.SecondaryCommands() {
			r.sendLogged(cmd, nil)
		}
	}

	if ka != nil && runCtx != nil {
		r.sendLogged(protocol.CmdKeepAlive, nil)
		ka.Start(runCtx, r.ping, r.KeepAliveExpired)
	}
}

func (r *Radio) onClientGUIReply(reply Reply) {
	if reply.OK() {
		return
	}
	r.logger.Error().Str("code", reply.Code).Str("body", reply.Body).Msg("radio refused gui client")
	r.disconnect(events.ReasonTooManyGuiClients)
}

func (r *Radio) ping(onReply func()) error {
	_, err := r.Send(protocol.CmdPing, func(Reply) { onReply() })
	return err
}

func (r *Radio) sendLogged(command string, handler ReplyHandler) {
	if _, err := r.Send(command, handler); err != nil {
		r.logger.Warn().Err(err).Str("command", command).Msg("send failed")
	}
}

// Send writes command with the next sequence number. handler, when not nil,
// receives the reply; without one the reply is applied by the default reply
// handling. It returns the sequence number used.
func (r *Radio) Send(command string, handler ReplyHandler) (uint32, error) {
	return r.send(command, handler, false)
}

// SendDiagnostic is Send with the diagnostic command prefix.
func (r *Radio) SendDiagnostic(command string, handler ReplyHandler) (uint32, error) {
	return r.send(command, handler, true)
}

func (r *Radio) send(command string, handler ReplyHandler, diagnostic bool) (uint32, error) {
	r.mu.RLock()
	link := r.link
	connected := r.isConnectedLocked()
	r.mu.RUnlock()
	if !connected || link == nil {
		return 0, ErrNotConnected
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	seq := r.corr.register(command, handler)
	if err := link.WriteLine(protocol.FormatCommand(seq, command, diagnostic)); err != nil {
		r.corr.cancel(seq)
		return 0, fmt.Errorf("send %q: %w", command, err)
	}
	r.logger.Trace().Uint32("seq", seq).Str("command", command).Msg("command sent")
	return seq, nil
}

func (r *Radio) isConnectedLocked() bool {
	switch r.state {
	case events.StateConnected, events.StateStreamBound, events.StateActive, events.StateUpdating:
		return true
	}
	return false
}

// IsActive reports whether the session reached StateActive.
func (r *Radio) IsActive() bool {
	state, _ := r.ConnectionState()
	return state == events.StateActive
}

// ReceiveLine queues one inbound line for the parser. Lines are applied
// strictly in the order received.
func (r *Radio) ReceiveLine(line string) {
	r.mu.RLock()
	lines, ctx := r.lines, r.runCtx
	r.mu.RUnlock()
	if lines == nil || ctx == nil {
		return
	}
	select {
	case lines <- line:
	case <-ctx.Done():
	}
}

func (r *Radio) parseLoop(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			if ctx.Err() != nil {
				return
			}
			r.Parse(line)
		}
	}
}

// Parse applies one inbound line synchronously. A malformed line is logged
// and skipped.
func (r *Radio) Parse(raw string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("line", raw).Msg("line handler panicked")
		}
	}()

	line, err := protocol.ParseLine(raw)
	if err != nil {
		r.metrics.RecordLine("malformed")
		r.logger.Warn().Err(err).Str("line", raw).Msg("malformed line skipped")
		return
	}
	r.metrics.RecordLine(line.Kind.String())

	switch line.Kind {
	case protocol.LineHandle:
		r.mu.Lock()
		r.handle = line.Handle
		r.mu.Unlock()
		r.logger.Debug().Str("handle", line.Handle).Msg("client handle assigned")
		r.emit(events.EventHandle, line.Handle)

	case protocol.LineVersion:
		r.mu.Lock()
		r.version = line.Version
		r.mu.Unlock()
		r.logger.Debug().Str("version", line.Version).Msg("radio version")

	case protocol.LineMessage:
		r.handleMessage(line.Message)

	case protocol.LineReply:
		r.handleReply(line.Reply)

	case protocol.LineStatus:
		r.handleStatus(line.Status)
	}
}

func (r *Radio) handleMessage(msg *protocol.Message) {
	var ev *zerolog.Event
	switch msg.Severity {
	case protocol.SeverityInfo:
		ev = r.logger.Info()
	case protocol.SeverityWarning:
		ev = r.logger.Warn()
	case protocol.SeverityFatal:
		ev = r.logger.Error().Bool("fatal", true)
	default:
		ev = r.logger.Error()
	}
	ev.Str("code", fmt.Sprintf("%08X", msg.Code)).Msg(msg.Text)

	r.emit(events.EventRadioMessage, events.RadioMessagePayload{
		Code:       msg.Code,
		Severity:   msg.Severity.String(),
		Text:       msg.Text,
		ReceivedAt: now(),
	})
}

func (r *Radio) handleReply(rep *protocol.Reply) {
	b, seq, ok := r.corr.resolve(rep.Sequence)
	reply := Reply{
		Command:  b.command,
		Sequence: seq,
		Code:     rep.Code,
		Body:     rep.Body,
		Debug:    rep.Debug,
	}

	switch {
	case !ok:
		r.metrics.RecordReply("unmatched")
	case reply.OK():
		r.metrics.RecordReply("ok")
	default:
		r.metrics.RecordReply("error")
	}

	if ok && b.handler != nil {
		b.handler(reply)
		return
	}

	if !reply.OK() {
		// the radio rejects a repeated client program; not worth reporting
		if strings.HasPrefix(reply.Command, protocol.CmdClientProg) {
			return
		}
		r.logger.Error().
			Str("seq", rep.Sequence).
			Str("command", reply.Command).
			Str("code", reply.Code).
			Str("body", reply.Body).
			Msg("non-zero reply")
		r.emit(events.EventReplyError, events.ReplyErrorPayload{
			Sequence: seq,
			Command:  reply.Command,
			Code:     reply.Code,
			Body:     reply.Body,
		})
		return
	}

	if ok {
		r.applyReply(reply)
	}
}

func (r *Radio) handleStatus(st *protocol.Status) {
	r.metrics.RecordStatus(st.Category)

	handler, known := r.dispatcher.Lookup(st.Category)
	if handler == nil {
		if known {
			r.logger.Debug().Str("category", st.Category).Str("body", st.Body).Msg("unprocessed status")
		} else {
			r.logger.Debug().Str("category", st.Category).Msg("unknown status category")
		}
		return
	}
	handler(st)
}

func (r *Radio) emit(t events.EventType, payload interface{}) {
	r.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  sourceName,
		Payload: payload,
	})
}
