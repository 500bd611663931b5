package health

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/events"
)

func TestPingerKeepsAliveWhileAnswered(t *testing.T) {
	p := NewPinger(10*time.Millisecond, 50*time.Millisecond)
	var pings atomic.Int32
	var expired atomic.Bool

	p.Start(context.Background(), func(onReply func()) error {
		pings.Add(1)
		onReply()
		return nil
	}, func() { expired.Store(true) })
	defer p.Stop()

	assert.Eventually(t, func() bool { return pings.Load() >= 5 }, time.Second, 5*time.Millisecond)
	assert.False(t, expired.Load())
	assert.False(t, p.LastReply().IsZero())
}

func TestPingerExpiresWithoutReplies(t *testing.T) {
	p := NewPinger(10*time.Millisecond, 35*time.Millisecond)
	expired := make(chan struct{}, 1)

	p.Start(context.Background(), func(func()) error { return nil }, func() { expired <- struct{}{} })
	defer p.Stop()

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("pinger never expired")
	}
}

func TestPingerStopPreventsExpiry(t *testing.T) {
	p := NewPinger(10*time.Millisecond, 15*time.Millisecond)
	var expired atomic.Bool

	p.Start(context.Background(), func(func()) error { return nil }, func() { expired.Store(true) })
	p.Stop()
	p.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, expired.Load())
}

type fakeSession struct {
	mu      sync.Mutex
	state   events.ConnectionState
	reason  events.DisconnectReason
	connect []string
}

func (s *fakeSession) ConnectionState() (events.ConnectionState, events.DisconnectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

func (s *fakeSession) Connect(_ context.Context, host string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connect = append(s.connect, host)
	s.state = events.StateConnecting
	return nil
}

func (s *fakeSession) connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connect)
}

func (s *fakeSession) Handle() string    { return "12345678" }
func (s *fakeSession) SessionID() string { return "session-1" }
func (s *fakeSession) Outstanding() int  { return 2 }
func (s *fakeSession) Counts() map[events.ObjectKind]int {
	return map[events.ObjectKind]int{events.KindSlice: 2, events.KindMeter: 40}
}

type fakePruner struct{ keep int }

func (p *fakePruner) PruneMessages(_ context.Context, keep int) (int64, error) {
	p.keep = keep
	return 3, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Radio.Host = "192.168.1.20"
	cfg.Application.Timers.ReconnectDelaySec = 1
	return cfg
}

func TestReconnectAfterUnrequestedDisconnect(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	session := &fakeSession{state: events.StateDisconnected, reason: events.ReasonTimeout}
	m := NewManager(testConfig(), bus, session, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.onConnectionState(ctx, events.ConnectionStatePayload{State: events.StateDisconnected, Reason: events.ReasonRequested})
	m.onConnectionState(ctx, events.ConnectionStatePayload{State: events.StateDisconnected, Reason: events.ReasonTimeout})
	// a second drop while one reconnect is pending is ignored
	m.onConnectionState(ctx, events.ConnectionStatePayload{State: events.StateDisconnected, Reason: events.ReasonClosed})

	assert.Eventually(t, func() bool { return session.connects() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, session.connects())
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	cfg := testConfig()
	cfg.Radio.AutoConnect = false
	session := &fakeSession{state: events.StateDisconnected}
	m := NewManager(cfg, bus, session, nil)

	m.onConnectionState(context.Background(), events.ConnectionStatePayload{State: events.StateDisconnected, Reason: events.ReasonClosed})
	m.mu.Lock()
	assert.False(t, m.reconnecting)
	m.mu.Unlock()
}

func TestHeartbeatPayload(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.HeartbeatPayload, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, ev events.Event) error {
		got <- ev.Payload.(events.HeartbeatPayload)
		return nil
	})

	session := &fakeSession{state: events.StateActive}
	m := NewManager(testConfig(), bus, session, nil)
	m.publishHeartbeat(context.Background())

	select {
	case p := <-got:
		assert.Equal(t, events.StateActive, p.State)
		assert.Equal(t, "12345678", p.Handle)
		assert.Equal(t, 40, p.Objects["meter"])
		assert.Equal(t, 2, p.Outstanding)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestPruneJournalUsesLimit(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	pruner := &fakePruner{}
	cfg := testConfig()
	cfg.Application.Database.JournalLimit = 500

	m := NewManager(cfg, bus, &fakeSession{}, pruner)
	m.pruneJournal(context.Background())
	require.Equal(t, 500, pruner.keep)
}
