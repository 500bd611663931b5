package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/flexlink-project/flexlink/internal/protocol"
	"github.com/flexlink-project/flexlink/internal/util"
)

// DefaultActivityTimeout is how long the stream socket may stay silent before
// it is reported inactive.
const DefaultActivityTimeout = time.Second

// StreamClient is the UDP socket carrying VITA-49 packets. Bind scans a port
// range for a free local port; outbound packets go to the radio's stream port.
type StreamClient struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
	port   int
	closed bool
	logger zerolog.Logger

	basePort        int
	scanCount       int
	radioPort       int
	activityTimeout time.Duration

	onPacket   func([]byte)
	onActivity func(active bool)

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

// NewStreamClient creates an unbound stream socket.
func NewStreamClient(basePort, scanCount, radioPort int, activityTimeout time.Duration) *StreamClient {
	if scanCount < 1 {
		scanCount = 1
	}
	if radioPort == 0 {
		radioPort = protocol.DefaultStreamPort
	}
	if activityTimeout <= 0 {
		activityTimeout = DefaultActivityTimeout
	}
	return &StreamClient{
		basePort:        basePort,
		scanCount:       scanCount,
		radioPort:       radioPort,
		activityTimeout: activityTimeout,
		closed:          true,
		logger:          util.ComponentLogger("stream"),
	}
}

// SetHandlers sets the packet and activity callbacks. Both must be set before
// Serve.
func (s *StreamClient) SetHandlers(onPacket func([]byte), onActivity func(active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPacket = onPacket
	s.onActivity = onActivity
}

// Bind opens the first free local port in the scan range and records the
// radio's address for outbound packets. It returns the bound port.
func (s *StreamClient) Bind(ctx context.Context, host string) (int, error) {
	remote, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(s.radioPort)))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve radio stream address: %w", err)
	}

	var lc net.ListenConfig
	for port := s.basePort; port < s.basePort+s.scanCount; port++ {
		pc, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(port))
		if err != nil {
			s.logger.Debug().Err(err).Int("port", port).Msg("stream port unavailable")
			continue
		}

		s.mu.Lock()
		s.conn = pc.(*net.UDPConn)
		s.remote = remote
		s.port = port
		s.closed = false
		s.mu.Unlock()

		s.received.Store(0)
		s.sent.Store(0)
		s.dropped.Store(0)

		s.logger.Info().Int("port", port).Str("radio", remote.String()).Msg("stream socket bound")
		return port, nil
	}

	return 0, fmt.Errorf("no free UDP port in %d..%d", s.basePort, s.basePort+s.scanCount-1)
}

// Serve reads datagrams and hands each one to the packet handler until ctx is
// done or the socket is closed.
func (s *StreamClient) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	onPacket, onActivity := s.onPacket, s.onActivity
	s.mu.Unlock()
	if conn == nil {
		return ErrConnectionClosed
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	go s.monitorActivity(ctx, onActivity)

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Msg("stream socket stopping")
				return nil
			}
			s.logger.Error().Err(err).Msg("UDP read error")
			continue
		}

		s.received.Add(1)
		if n < protocol.VitaMinimumSize {
			s.dropped.Add(1)
			s.logger.Trace().Int("size", n).Msg("runt datagram dropped")
			continue
		}

		if onPacket != nil {
			packet := make([]byte, n)
			copy(packet, buf[:n])
			onPacket(packet)
		}
	}
}

// monitorActivity reports transitions between receiving packets and silence.
func (s *StreamClient) monitorActivity(ctx context.Context, onActivity func(bool)) {
	if onActivity == nil {
		return
	}

	ticker := time.NewTicker(s.activityTimeout)
	defer ticker.Stop()

	var last uint64
	active := false
	for {
		select {
		case <-ctx.Done():
			if active {
				onActivity(false)
			}
			return
		case <-ticker.C:
			count := s.received.Load()
			now := count != last
			last = count
			if now != active {
				active = now
				s.logger.Debug().Bool("active", active).Msg("stream activity")
				onActivity(active)
			}
		}
	}
}

// WritePacket sends one packet to the radio.
func (s *StreamClient) WritePacket(data []byte) error {
	s.mu.Lock()
	conn, remote, closed := s.conn, s.remote, s.closed
	s.mu.Unlock()
	if closed || conn == nil {
		return ErrConnectionClosed
	}

	if _, err := conn.WriteToUDP(data, remote); err != nil {
		return fmt.Errorf("failed to send stream packet: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// Close releases the socket.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info().Int("port", s.port).Msg("stream socket closed")
	return s.conn.Close()
}

// Port returns the bound local port, or 0.
func (s *StreamClient) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.port
}

// StreamStats counts datagrams on the socket since the last bind.
type StreamStats struct {
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
}

// Stats returns the datagram counters.
func (s *StreamClient) Stats() StreamStats {
	return StreamStats{
		Received: s.received.Load(),
		Sent:     s.sent.Load(),
		Dropped:  s.dropped.Load(),
	}
}
