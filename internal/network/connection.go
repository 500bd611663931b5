// Package network implements the two transports of a radio session: the TCP
// command connection carrying newline-terminated lines and the UDP socket
// carrying VITA-49 stream packets, plus the keep-alive pinger.
package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flexlink-project/flexlink/internal/util"
)

const (
	// DefaultDialTimeout bounds the TCP connect.
	DefaultDialTimeout = 5 * time.Second

	// WriteTimeout is how long a single command line may take to write.
	WriteTimeout = 10 * time.Second

	// maxLineSize bounds one inbound line; meter lists on large radios run long.
	maxLineSize = 1 << 20
)

var ErrConnectionClosed = errors.New("connection is closed")

// CommandClient is the TCP command connection to the radio. Inbound lines are
// delivered in order to the line handler from a single reader goroutine; the
// close handler fires once when the radio or the network ends the connection.
type CommandClient struct {
	mu     sync.Mutex
	conn   net.Conn
	logger zerolog.Logger

	dialTimeout time.Duration
	onLine      func(string)
	onClosed    func(error)

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// State
	closed bool
	done   chan struct{}
}

// NewCommandClient creates an unconnected client.
func NewCommandClient(dialTimeout time.Duration) *CommandClient {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &CommandClient{
		dialTimeout: dialTimeout,
		closed:      true,
		logger:      util.ComponentLogger("command"),
	}
}

// SetHandlers sets the callbacks for inbound lines and connection loss. Both
// must be set before Dial.
func (c *CommandClient) SetHandlers(onLine func(string), onClosed func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = onLine
	c.onClosed = onClosed
}

// Dial connects to host:port and starts the reader.
func (c *CommandClient) Dial(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if !c.closed {
		c.mu.Unlock()
		return fmt.Errorf("command connection already open")
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	now := time.Now()
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.done = done
	c.connectedAt = now
	c.lastActivity = now
	c.logger = util.ComponentLogger("command").With().
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	onLine, onClosed := c.onLine, c.onClosed
	c.mu.Unlock()

	c.logger.Info().Str("local", conn.LocalAddr().String()).Msg("command connection established")

	go c.readLoop(conn, done, onLine, onClosed)
	return nil
}

func (c *CommandClient) readLoop(conn net.Conn, done chan struct{}, onLine func(string), onClosed func(error)) {
	defer close(done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		if onLine != nil {
			onLine(line)
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}

	c.mu.Lock()
	requested := c.closed
	c.closed = true
	c.mu.Unlock()

	if requested {
		return
	}

	conn.Close()
	c.logger.Warn().Err(err).Msg("command connection lost")
	if onClosed != nil {
		onClosed(err)
	}
}

// WriteLine sends one encoded command line.
func (c *CommandClient) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := io.WriteString(c.conn, line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection and waits for the reader to finish. The close
// handler is not called for a requested close.
func (c *CommandClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, done := c.conn, c.done
	c.mu.Unlock()

	err := conn.Close()
	c.logger.Info().Msg("command connection closed")
	if done != nil {
		<-done
	}
	return err
}

// IsClosed returns whether the connection has been closed.
func (c *CommandClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last line read or written.
func (c *CommandClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Uptime returns how long the current connection has been open.
func (c *CommandClient) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	return time.Since(c.connectedAt)
}
