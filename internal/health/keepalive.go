package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flexlink-project/flexlink/internal/util"
)

// Pinger pings the radio at a fixed interval once the session is active and
// reports expiry when no reply has arrived within the timeout.
type Pinger struct {
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	lastReply time.Time
	rtt       time.Duration
}

// NewPinger creates a stopped pinger.
func NewPinger(interval, timeout time.Duration) *Pinger {
	return &Pinger{
		interval: interval,
		timeout:  timeout,
		logger:   util.ComponentLogger("keepalive"),
	}
}

// Start begins pinging. A running pinger is restarted.
func (p *Pinger) Start(ctx context.Context, ping func(onReply func()) error, expired func()) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.lastReply = time.Now()
	p.rtt = 0
	p.mu.Unlock()

	p.logger.Debug().
		Dur("interval", p.interval).
		Dur("timeout", p.timeout).
		Msg("keep-alive started")

	go p.loop(ctx, ping, expired)
}

func (p *Pinger) loop(ctx context.Context, ping func(onReply func()) error, expired func()) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			silent := time.Since(p.lastReply)
			p.mu.Unlock()

			if silent > p.timeout {
				p.logger.Warn().Dur("silent", silent).Msg("ping reply overdue")
				if ctx.Err() == nil {
					expired()
				}
				return
			}

			sentAt := time.Now()
			err := ping(func() {
				p.mu.Lock()
				p.lastReply = time.Now()
				p.rtt = p.lastReply.Sub(sentAt)
				p.mu.Unlock()
			})
			if err != nil {
				p.logger.Warn().Err(err).Msg("ping failed")
			}
		}
	}
}

// Stop ends pinging. It is safe to call on a stopped pinger.
func (p *Pinger) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RTT returns the round trip time of the last answered ping.
func (p *Pinger) RTT() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtt
}

// LastReply returns when the radio last answered a ping.
func (p *Pinger) LastReply() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReply
}
