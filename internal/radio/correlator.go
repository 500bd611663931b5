package radio

import (
	"strconv"
	"sync"

	"github.com/flexlink-project/flexlink/internal/protocol"
)

// Reply is a decoded R line paired with the command it answers.
type Reply struct {
	Command  string
	Sequence uint32
	Code     string
	Body     string
	Debug    string
}

// OK reports whether the radio accepted the command.
func (r Reply) OK() bool {
	return r.Code == protocol.ReplySuccess
}

// ReplyHandler is a continuation invoked once with the reply to a command.
type ReplyHandler func(reply Reply)

type binding struct {
	command string
	handler ReplyHandler
}

// correlator assigns command sequence numbers and matches replies to the
// command that produced them. Handlers run outside the lock, so they may send
// further commands.
type correlator struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]binding
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint32]binding)}
}

// register allocates the next sequence number and binds command to it.
func (c *correlator) register(command string, handler ReplyHandler) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.next
	c.next++
	c.pending[seq] = binding{command: command, handler: handler}
	return seq
}

// cancel drops a binding whose command never reached the wire.
func (c *correlator) cancel(seq uint32) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// resolve removes and returns the binding for a reply. The second result is
// false for a sequence nobody is waiting on.
func (c *correlator) resolve(sequence string) (binding, uint32, bool) {
	seq64, err := strconv.ParseUint(sequence, 10, 32)
	if err != nil {
		return binding{}, 0, false
	}
	seq := uint32(seq64)

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	return b, seq, ok
}

// reset drops every binding and restarts numbering at zero.
func (c *correlator) reset() {
	c.mu.Lock()
	c.pending = make(map[uint32]binding)
	c.next = 0
	c.mu.Unlock()
}

func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
