package network

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/protocol"
)

type lineSink struct {
	mu     sync.Mutex
	lines  []string
	closed chan error
}

func newLineSink() *lineSink {
	return &lineSink{closed: make(chan error, 1)}
}

func (s *lineSink) onLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) onClosed(err error) { s.closed <- err }

func (s *lineSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestCommandClientRoundTrip(t *testing.T) {
	ln, port := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	sink := newLineSink()
	c := NewCommandClient(time.Second)
	c.SetHandlers(sink.onLine, sink.onClosed)
	require.NoError(t, c.Dial(context.Background(), "127.0.0.1", port))
	defer c.Close()

	server := <-accepted
	defer server.Close()

	_, err := server.Write([]byte("V1.4.0.0\r\nH12345678\n\nS12345678|radio slices=4\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sink.all()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"V1.4.0.0", "H12345678", "S12345678|radio slices=4"}, sink.all())

	require.NoError(t, c.WriteLine(protocol.FormatCommand(0, "info", false)))
	line, err := bufio.NewReader(server).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "C0|info\n", line)
	assert.False(t, c.LastActivity().IsZero())
	assert.Positive(t, c.Uptime())
}

func TestCommandClientReportsRemoteClose(t *testing.T) {
	ln, port := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	sink := newLineSink()
	c := NewCommandClient(time.Second)
	c.SetHandlers(sink.onLine, sink.onClosed)
	require.NoError(t, c.Dial(context.Background(), "127.0.0.1", port))

	select {
	case err := <-sink.closed:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close not reported")
	}
	assert.True(t, c.IsClosed())
	assert.ErrorIs(t, c.WriteLine("C1|ping\n"), ErrConnectionClosed)
	assert.NoError(t, c.Close())
}

func TestCommandClientRequestedCloseIsSilent(t *testing.T) {
	ln, port := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	sink := newLineSink()
	c := NewCommandClient(time.Second)
	c.SetHandlers(sink.onLine, sink.onClosed)
	require.NoError(t, c.Dial(context.Background(), "127.0.0.1", port))
	require.Error(t, c.Dial(context.Background(), "127.0.0.1", port))

	require.NoError(t, c.Close())
	select {
	case <-sink.closed:
		t.Fatal("requested close reported as loss")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommandClientDialFailure(t *testing.T) {
	ln, port := listen(t)
	ln.Close()

	c := NewCommandClient(200 * time.Millisecond)
	assert.Error(t, c.Dial(context.Background(), "127.0.0.1", port))
	assert.True(t, c.IsClosed())
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()
	return port
}

func TestStreamClientScansForFreePort(t *testing.T) {
	base := freeUDPPort(t)
	blocker, err := net.ListenPacket("udp4", ":"+strconv.Itoa(base))
	require.NoError(t, err)
	defer blocker.Close()

	s := NewStreamClient(base, 5, 4991, time.Second)
	port, err := s.Bind(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer s.Close()

	assert.Greater(t, port, base)
	assert.Equal(t, port, s.Port())
}

func TestStreamClientScanExhausted(t *testing.T) {
	base := freeUDPPort(t)
	blocker, err := net.ListenPacket("udp4", ":"+strconv.Itoa(base))
	require.NoError(t, err)
	defer blocker.Close()

	s := NewStreamClient(base, 1, 4991, time.Second)
	_, err = s.Bind(context.Background(), "127.0.0.1")
	assert.Error(t, err)
}

func TestStreamClientServeAndWrite(t *testing.T) {
	radio, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer radio.Close()
	radioPort := radio.LocalAddr().(*net.UDPAddr).Port

	var mu sync.Mutex
	var packets [][]byte
	activity := make(chan bool, 4)

	s := NewStreamClient(freeUDPPort(t), 10, radioPort, 20*time.Millisecond)
	s.SetHandlers(func(b []byte) {
		mu.Lock()
		packets = append(packets, b)
		mu.Unlock()
	}, func(active bool) { activity <- active })

	port, err := s.Bind(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	packet := protocol.EncodeVita(protocol.NewTxPacket(0x04000008, protocol.ClassDaxAudio, 0,
		protocol.EncodeAudioFrame([]float32{1}, []float32{-1}, 1)))
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	_, err = radio.WriteTo(packet, local)
	require.NoError(t, err)
	_, err = radio.WriteTo([]byte{1, 2, 3}, local)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Stats().Received == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Len(t, packets, 1)
	assert.Equal(t, packet, packets[0])
	mu.Unlock()
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	select {
	case active := <-activity:
		assert.True(t, active)
	case <-time.After(time.Second):
		t.Fatal("no activity transition")
	}
	select {
	case active := <-activity:
		assert.False(t, active)
	case <-time.After(time.Second):
		t.Fatal("no idle transition")
	}

	require.NoError(t, s.WritePacket([]byte("tx")))
	buf := make([]byte, 16)
	radio.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := radio.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "tx", string(buf[:n]))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop")
	}
	assert.ErrorIs(t, s.WritePacket([]byte("late")), ErrConnectionClosed)
	assert.Zero(t, s.Port())
}
