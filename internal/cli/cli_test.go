package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/db"
	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/radio"
)

type fakeLink struct {
	mu      sync.Mutex
	lines   []string
	respond func(seq, command string)
}

func (l *fakeLink) Dial(ctx context.Context, host string, port int) error { return nil }
func (l *fakeLink) Close() error                                          { return nil }

func (l *fakeLink) WriteLine(line string) error {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	respond := l.respond
	l.mu.Unlock()
	if respond != nil {
		seq, cmd, _ := strings.Cut(strings.TrimSuffix(strings.TrimPrefix(line, "C"), "\n"), "|")
		go respond(seq, cmd)
	}
	return nil
}

func (l *fakeLink) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	_, cmd, _ := strings.Cut(strings.TrimSuffix(l.lines[len(l.lines)-1], "\n"), "|")
	return cmd
}

type fakeStream struct{}

func (fakeStream) Bind(ctx context.Context, host string) (int, error) { return 4993, nil }
func (fakeStream) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (fakeStream) WritePacket(data []byte) error { return nil }
func (fakeStream) Close() error                  { return nil }

type testCLI struct {
	cli   *CLI
	out   *bytes.Buffer
	radio *radio.Radio
	link  *fakeLink
	bus   *events.EventBus
	cfg   *config.Config
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	radioCfg := cfg.GetRadio()
	radioCfg.Host = "192.168.1.50"
	cfg.SetRadio(radioCfg)

	store, err := db.Open(context.Background(), filepath.Join(dir, "flexlink.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	store.SubscribeJournal(bus)

	opts := radio.DefaultOptions()
	opts.SendPrimary = false
	opts.SendSubscriptions = false
	opts.SendSecondary = false
	r := radio.New(bus, opts)
	link := &fakeLink{}
	r.SetTransports(link, fakeStream{})
	t.Cleanup(r.Disconnect)

	out := &bytes.Buffer{}
	return &testCLI{
		cli:   NewCLI(cfg, bus, r, store, strings.NewReader(""), out),
		out:   out,
		radio: r,
		link:  link,
		bus:   bus,
		cfg:   cfg,
	}
}

func (tc *testCLI) run(line string) string {
	tc.out.Reset()
	tc.cli.handleLine(context.Background(), line)
	return tc.out.String()
}

func (tc *testCLI) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, tc.radio.Connect(context.Background(), "192.168.1.50", 4992))
	tc.radio.Parse("S12345678|slice 0 in_use=1 rf_frequency=14.200000 mode=USB pan=0x40000000 rxant=ANT1 tx=1")
}

func TestHelpAndUnknown(t *testing.T) {
	tc := newTestCLI(t)

	out := tc.run("help")
	assert.Contains(t, out, "tune <slice> <MHz>")
	assert.Contains(t, out, "messages [n]")

	out = tc.run("frobnicate")
	assert.Contains(t, out, "Unknown command: 'frobnicate'")

	assert.Empty(t, tc.run("   "))
}

func TestStatusAndSlices(t *testing.T) {
	tc := newTestCLI(t)

	out := tc.run("status")
	assert.Contains(t, out, "192.168.1.50:4992")
	assert.Contains(t, out, "idle")

	tc.connect(t)

	out = tc.run("status")
	assert.Contains(t, out, "UDP port:     4993")
	assert.Contains(t, out, "slice")

	out = tc.run("slices")
	assert.Contains(t, out, "14.200000")
	assert.Contains(t, out, "USB")
	assert.Contains(t, out, "ANT1")
}

func TestTuneAndFilter(t *testing.T) {
	tc := newTestCLI(t)
	tc.connect(t)

	out := tc.run("tune 0 14.25")
	assert.Contains(t, out, "tuned to 14.250000 MHz")
	assert.Equal(t, "slice tune 0 14.250000", tc.link.last())

	out = tc.run("tune 0 abc")
	assert.Contains(t, out, "Error: invalid frequency")

	out = tc.run("tune 7 7.1")
	assert.Contains(t, out, "Error: slice 7 not found")

	out = tc.run("filter 0 2.4k")
	assert.Contains(t, out, "filter 100..2500 Hz")
	assert.Equal(t, "filt 0 100 2500", tc.link.last())

	out = tc.run("filter 0 200 2900")
	assert.Contains(t, out, "filter 200..2900 Hz")
	assert.Equal(t, "filt 0 200 2900", tc.link.last())

	out = tc.run("filter 0 nope")
	assert.Contains(t, out, "Error:")
}

func TestSendShowsReply(t *testing.T) {
	tc := newTestCLI(t)

	out := tc.run("send info")
	assert.Contains(t, out, "Error:")

	tc.connect(t)
	tc.link.mu.Lock()
	tc.link.respond = func(seq, command string) {
		tc.radio.Parse("R" + seq + "|0|model=FLEX-6600")
	}
	tc.link.mu.Unlock()

	out = tc.run("send info")
	assert.Contains(t, out, "OK model=FLEX-6600")
	assert.Equal(t, "info", tc.link.last())

	out = tc.run("send")
	assert.Contains(t, out, "usage: send <command>")
}

func TestMessagesTable(t *testing.T) {
	tc := newTestCLI(t)

	tc.radio.Parse("M10000001|Slice A is out of band")
	tc.bus.Flush()

	out := tc.run("messages 5")
	assert.Contains(t, out, "Slice A is out of band")
	assert.Contains(t, out, "0x10000001")

	out = tc.run("messages zero")
	assert.Contains(t, out, "Error: invalid count")
}

func TestSetConfig(t *testing.T) {
	tc := newTestCLI(t)

	out := tc.run("setconfig host 10.0.0.9")
	assert.Contains(t, out, "Config updated: host = 10.0.0.9")
	assert.Equal(t, "10.0.0.9", tc.cfg.GetRadio().Host)

	out = tc.run("setconfig host")
	assert.Contains(t, out, "usage: setconfig")
}

func TestQuitEmitsShutdown(t *testing.T) {
	tc := newTestCLI(t)

	got := make(chan struct{}, 1)
	tc.bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, ev events.Event) error {
		got <- struct{}{}
		return nil
	})

	in := strings.NewReader("status\nquit\nstatus\n")
	tc.cli.in = in

	done := make(chan struct{})
	go func() {
		tc.cli.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CLI did not stop on quit")
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown event not emitted")
	}
	assert.Contains(t, tc.out.String(), "Shutting down flexlink...")
}
