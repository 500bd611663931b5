package radio

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
)

const testHandle = "12345678"

type fakeLink struct {
	mu      sync.Mutex
	lines   []string
	dialErr error
	closed  int
}

func (l *fakeLink) Dial(ctx context.Context, host string, port int) error { return l.dialErr }

func (l *fakeLink) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

// commands returns the command texts written so far, without sequence
// prefixes.
func (l *fakeLink) commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.lines))
	for _, line := range l.lines {
		_, cmd, _ := strings.Cut(strings.TrimSuffix(line, "\n"), "|")
		out = append(out, cmd)
	}
	return out
}

func (l *fakeLink) last() string {
	cmds := l.commands()
	if len(cmds) == 0 {
		return ""
	}
	return cmds[len(cmds)-1]
}

func (l *fakeLink) reset() {
	l.mu.Lock()
	l.lines = nil
	l.mu.Unlock()
}

type fakeStream struct {
	mu      sync.Mutex
	port    int
	packets [][]byte
	closed  int
}

func (s *fakeStream) Bind(ctx context.Context, host string) (int, error) { return s.port, nil }

func (s *fakeStream) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *fakeStream) WritePacket(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, append([]byte(nil), data...))
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.packets...)
}

type fakeKeepAlive struct {
	mu      sync.Mutex
	started int
	stopped int
	ping    func(onReply func()) error
	expired func()
}

func (k *fakeKeepAlive) Start(ctx context.Context, ping func(onReply func()) error, expired func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.started++
	k.ping = ping
	k.expired = expired
}

func (k *fakeKeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped++
}

// recorder collects every event published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func newRecorder(bus *events.EventBus) *recorder {
	rec := &recorder{}
	for _, t := range []events.EventType{
		events.EventConnectionState, events.EventHandle, events.EventObjectAdded,
		events.EventObjectUpdated, events.EventObjectRemoving, events.EventRadioUpdated,
		events.EventRadioMessage, events.EventReplyError, events.EventMeterUpdated,
		events.EventPacketLoss, events.EventStreamActivity,
	} {
		bus.Subscribe(t, "test.recorder", func(ctx context.Context, e events.Event) error {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
			return nil
		})
	}
	return rec
}

func (rec *recorder) of(t events.EventType) []events.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []events.Event
	for _, e := range rec.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (rec *recorder) count(t events.EventType) int {
	return len(rec.of(t))
}

func (rec *recorder) reset() {
	rec.mu.Lock()
	rec.events = nil
	rec.mu.Unlock()
}

type harness struct {
	radio  *Radio
	bus    *events.EventBus
	link   *fakeLink
	stream *fakeStream
	ka     *fakeKeepAlive
	events *recorder
}

// newHarness returns a radio connected through fake transports and bound to
// stream port 4993. It is not active yet.
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	bus := events.NewEventBus()
	h := &harness{
		bus:    bus,
		link:   &fakeLink{},
		stream: &fakeStream{port: 4993},
		ka:     &fakeKeepAlive{},
		events: newRecorder(bus),
	}
	h.radio = New(bus, opts)
	h.radio.SetTransports(h.link, h.stream)
	h.radio.SetKeepAlive(h.ka)
	require.NoError(t, h.radio.Connect(context.Background(), "192.168.1.20", 4992))

	t.Cleanup(func() {
		h.radio.Disconnect()
		bus.Flush()
		bus.Stop()
	})
	return h
}

// newActiveHarness returns a radio that completed activation with every
// startup batch disabled and the link log cleared.
func newActiveHarness(t *testing.T) *harness {
	t.Helper()
	opts := DefaultOptions()
	opts.SendPrimary = false
	opts.SendSubscriptions = false
	opts.SendSecondary = false
	h := newHarness(t, opts)
	h.activate()
	h.link.mu.Lock()
	pending := append([]string(nil), h.link.lines...)
	h.link.mu.Unlock()
	for _, line := range pending {
		seq, _, _ := strings.Cut(strings.TrimPrefix(line, "C"), "|")
		h.radio.Parse("R" + seq + "|0|")
	}
	h.link.reset()
	h.flush()
	h.events.reset()
	return h
}

func (h *harness) activate() {
	h.radio.Parse("H" + testHandle)
	h.radio.Parse("S" + testHandle + "|client 0x" + testHandle + " connected")
}

// status applies one status line sent to this client.
func (h *harness) status(body string) {
	h.radio.Parse("S" + testHandle + "|" + body)
}

func (h *harness) flush() { h.bus.Flush() }

// replyLast answers the most recently written command.
func (h *harness) replyLast(code, body string) {
	h.link.mu.Lock()
	line := h.link.lines[len(h.link.lines)-1]
	h.link.mu.Unlock()
	seq, _, _ := strings.Cut(strings.TrimPrefix(line, "C"), "|")
	h.radio.Parse("R" + seq + "|" + code + "|" + body)
}
