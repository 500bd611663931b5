package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

func TestConnectRequiresTransports(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	r := New(bus, DefaultOptions())
	assert.ErrorIs(t, r.Connect(context.Background(), "10.0.0.1", 4992), ErrNoTransport)

	_, err := r.Send("info", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectDialFailure(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	r := New(bus, DefaultOptions())
	link := &fakeLink{dialErr: errors.New("refused")}
	r.SetTransports(link, &fakeStream{port: 4993})

	err := r.Connect(context.Background(), "10.0.0.1", 4992)
	require.Error(t, err)

	state, reason := r.ConnectionState()
	assert.Equal(t, events.StateDisconnected, state)
	assert.Equal(t, events.ReasonConnectionFailed, reason)
}

func TestConnectBindsStreamTransport(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	state, _ := h.radio.ConnectionState()
	assert.Equal(t, events.StateStreamBound, state)
	assert.Equal(t, 4993, h.radio.UDPPort())
	assert.NotEmpty(t, h.radio.SessionID())
	assert.ErrorIs(t, h.radio.Connect(context.Background(), "192.168.1.20", 4992), ErrAlreadyConnected)

	h.flush()
	var states []events.ConnectionState
	for _, e := range h.events.of(events.EventConnectionState) {
		states = append(states, e.Payload.(events.ConnectionStatePayload).State)
	}
	assert.ElementsMatch(t, []events.ConnectionState{
		events.StateConnecting, events.StateConnected, events.StateStreamBound,
	}, states)
}

func TestActivationSendsBatchesInOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.ClientProgram = "flexlink"
	opts.Station = "shack"
	opts.GUI = true
	h := newHarness(t, opts)

	h.radio.Parse("V1.4.0.0")
	h.activate()

	assert.True(t, h.radio.IsActive())
	assert.Equal(t, testHandle, h.radio.Handle())
	assert.Equal(t, "1.4.0.0", h.radio.Version())

	cmds := h.link.commands()
	primary := protocol.PrimaryCommands("flexlink", "shack", true)
	subs := protocol.SubscriptionCommands()
	secondary := protocol.SecondaryCommands()

	want := append([]string{}, primary...)
	want = append(want, "client udpport 4993")
	want = append(want, subs...)
	want = append(want, secondary...)
	want = append(want, protocol.CmdKeepAlive)
	assert.Equal(t, want, cmds)

	assert.Equal(t, "C0|client program flexlink\n", h.link.lines[0])
	assert.Equal(t, 1, h.ka.started)
}

func TestActivationIgnoresOtherClients(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.radio.Parse("H" + testHandle)
	h.radio.Parse("SABCDEF01|client 0xABCDEF01 connected")

	assert.False(t, h.radio.IsActive())
	assert.Empty(t, h.link.commands())

	h.radio.Parse("S0|client 0x" + testHandle + " connected")
	assert.True(t, h.radio.IsActive())
}

func TestActivationRunsOnce(t *testing.T) {
	h := newActiveHarness(t)
	h.activate()
	assert.Empty(t, h.link.commands())
	assert.Equal(t, 1, h.ka.started)
}

func TestGUIRefusalDisconnects(t *testing.T) {
	opts := DefaultOptions()
	opts.GUI = true
	opts.SendSubscriptions = false
	opts.SendSecondary = false
	h := newHarness(t, opts)
	h.activate()

	cmds := h.link.commands()
	require.Equal(t, protocol.CmdClientGUI, cmds[1])
	h.radio.Parse("R1|50000071|too many gui clients")

	state, reason := h.radio.ConnectionState()
	assert.Equal(t, events.StateDisconnected, state)
	assert.Equal(t, events.ReasonTooManyGuiClients, reason)
	assert.Equal(t, 1, h.ka.stopped)
}

func TestDisconnectClearsEverything(t *testing.T) {
	h := newActiveHarness(t)
	h.status("slice 0 in_use=1 rf_frequency=14.250000 mode=USB pan=0x40000000")
	h.status("display pan 0x40000000 center=14.200000 bandwidth=0.200000 min_dbm=-130 max_dbm=-40")
	h.status("meter 1.src=RAD#1.num=0#1.nam=+13.8A#1.unit=Volts")
	h.status("transmit rfpower=50")
	_, err := h.radio.Send("info", func(Reply) {})
	require.NoError(t, err)
	require.Len(t, h.radio.Slices(), 1)
	require.Equal(t, 1, h.radio.Outstanding())

	h.radio.Disconnect()
	h.radio.Disconnect()

	state, reason := h.radio.ConnectionState()
	assert.Equal(t, events.StateDisconnected, state)
	assert.Equal(t, events.ReasonRequested, reason)
	assert.Empty(t, h.radio.Slices())
	assert.Empty(t, h.radio.Panadapters())
	assert.Empty(t, h.radio.Meters())
	assert.Equal(t, 0, h.radio.Outstanding())
	assert.Empty(t, h.radio.State().Transmit)
	assert.Equal(t, 1, h.link.closed)
	assert.Equal(t, 1, h.stream.closed)

	_, err = h.radio.Send("info", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	h.flush()
	var disconnects int
	for _, e := range h.events.of(events.EventConnectionState) {
		if e.Payload.(events.ConnectionStatePayload).State == events.StateDisconnected {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)
}

func TestReconnectRestartsSequence(t *testing.T) {
	h := newActiveHarness(t)
	_, err := h.radio.Send("info", nil)
	require.NoError(t, err)
	h.radio.TransportClosed(errors.New("eof"))

	_, reason := h.radio.ConnectionState()
	assert.Equal(t, events.ReasonClosed, reason)

	h.link.reset()
	require.NoError(t, h.radio.Connect(context.Background(), "192.168.1.20", 4992))
	h.activate()
	assert.True(t, h.radio.IsActive())
	assert.Equal(t, "C0|client udpport 4993\n", h.link.lines[0])
}

func TestKeepAliveExpiry(t *testing.T) {
	h := newActiveHarness(t)

	var replied bool
	require.NoError(t, h.ka.ping(func() { replied = true }))
	assert.Equal(t, protocol.CmdPing, h.link.last())
	h.replyLast("0", "")
	assert.True(t, replied)

	h.ka.expired()
	_, reason := h.radio.ConnectionState()
	assert.Equal(t, events.ReasonTimeout, reason)
}

func TestUpdatingStateStillSends(t *testing.T) {
	h := newActiveHarness(t)

	h.radio.BeginUpdate()
	state, _ := h.radio.ConnectionState()
	assert.Equal(t, events.StateUpdating, state)
	assert.False(t, h.radio.IsActive())

	_, err := h.radio.Send("info", nil)
	require.NoError(t, err)
	assert.Equal(t, "info", h.link.last())

	h.radio.Disconnect()
	state, _ = h.radio.ConnectionState()
	assert.Equal(t, events.StateDisconnected, state)
}

func TestReceiveLineIsOrdered(t *testing.T) {
	h := newActiveHarness(t)

	h.radio.ReceiveLine("S" + testHandle + "|slice 3 in_use=1 mode=CW")
	h.radio.ReceiveLine("S" + testHandle + "|slice 3 rf_frequency=7.030000")
	h.radio.ReceiveLine("S" + testHandle + "|slice 3 pan=0x40000000 mode=USB")

	require.Eventually(t, func() bool {
		s, ok := h.radio.Slice("3")
		return ok && s.Acknowledged() && s.Mode() == "USB"
	}, time.Second, 5*time.Millisecond)
}

func TestMessagesAreReported(t *testing.T) {
	h := newActiveHarness(t)

	h.radio.Parse("M01000001|Client connected from IP 192.168.1.5")
	h.radio.Parse("M03000002|radio shutting down")
	h.radio.Parse("Mbogus")
	h.flush()

	msgs := h.events.of(events.EventRadioMessage)
	require.Len(t, msgs, 2)
	severities := []string{
		msgs[0].Payload.(events.RadioMessagePayload).Severity,
		msgs[1].Payload.(events.RadioMessagePayload).Severity,
	}
	assert.ElementsMatch(t, []string{"warning", "fatal"}, severities)
}

func TestUnknownStatusCategoryIsSkipped(t *testing.T) {
	h := newActiveHarness(t)
	assert.NotPanics(t, func() {
		h.status("turf region=USA")
		h.status("widget 1 foo=bar")
		h.radio.Parse("S" + testHandle)
		h.radio.Parse("")
	})
	_, known := h.radio.Dispatcher().Lookup("turf")
	assert.True(t, known)
}
