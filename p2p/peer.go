package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// State is a peer connection's position in its lifecycle. Transitions are
// one-directional except Active <-> Syncing, which a node may cross
// repeatedly as it falls behind and catches back up.
type State int

const (
	StateDialing State = iota
	StateAwaitingHello
	StateHandshaking
	StateActive
	StateSyncing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateSyncing:
		return "syncing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the edges a Peer may cross. Dialing is the
// outbound-only starting state; AwaitingHello is the inbound-only
// counterpart (a freshly accepted connection that has not yet sent
// anything). Both converge on Handshaking: the outbound side once it has
// sent Hello, the inbound side once it has received one.
var validTransitions = map[State]map[State]bool{
	StateDialing:       {StateHandshaking: true, StateClosed: true},
	StateAwaitingHello:  {StateHandshaking: true, StateClosed: true},
	StateHandshaking:   {StateActive: true, StateClosed: true},
	StateActive:        {StateSyncing: true, StateClosed: true},
	StateSyncing:       {StateActive: true, StateClosed: true},
	StateClosed:        {},
}

// Peer tracks one connection's negotiated identity and lifecycle state.
// The unexported fields are guarded by mu; callers must not read State
// or LastSeen directly without holding it (use the accessor methods).
// Conn, Addr, Inbound and the Outbox channel itself are not guarded.
type Peer struct {
	mu sync.Mutex

	Conn    net.Conn
	Addr    string
	Inbound bool

	state       State
	nodeID      string
	chainHeight int64
	lastSeen    time.Time
	closed      bool

	// Outbox is the per-connection send queue drained by the writer
	// goroutine; the broadcast fan-out and direct responses both push
	// onto it rather than writing to Conn directly, so a single
	// goroutine owns the wire.
	Outbox chan Message
}

// NewPeer wraps an established connection. outboxSize bounds how many
// outbound messages may queue before a slow peer's sends start being
// dropped (see node.Engine.Announce's broadcast fan-out).
func NewPeer(conn net.Conn, inbound bool, outboxSize int) *Peer {
	initial := StateDialing
	if inbound {
		initial = StateAwaitingHello
	}
	return &Peer{
		Conn:     conn,
		Addr:     conn.RemoteAddr().String(),
		Inbound:  inbound,
		state:    initial,
		lastSeen: time.Now(),
		Outbox:   make(chan Message, outboxSize),
	}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transition moves the peer to next, rejecting any edge not present in
// validTransitions. Closed is terminal: once reached no further
// transition is accepted.
func (p *Peer) Transition(next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return fmt.Errorf("p2p: peer %s is closed, cannot move to %s", p.Addr, next)
	}
	if !validTransitions[p.state][next] {
		return fmt.Errorf("p2p: peer %s: illegal transition %s -> %s", p.Addr, p.state, next)
	}
	p.state = next
	return nil
}

func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// SetIdentity records the node_id and advertised chain height learned
// during handshake.
func (p *Peer) SetIdentity(nodeID string, height int64) {
	p.mu.Lock()
	p.nodeID = nodeID
	p.chainHeight = height
	p.mu.Unlock()
}

// NodeID returns the peer's negotiated node_id.
func (p *Peer) NodeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeID
}

// ChainHeight returns the peer's last-advertised chain height.
func (p *Peer) ChainHeight() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainHeight
}

// Send enqueues m on the peer's outbox without blocking: if the outbox
// is full the send is dropped and ok is false, signalling a slow
// connection that the caller (the broadcast fan-out) should not stall
// the whole node to wait for. Send takes the same lock Close uses to
// close the outbox, so a send can never race a close and panic on a
// closed channel: either the lock serializes it before the close (the
// send lands normally) or after (closed is already true and Send
// returns false without touching the channel).
func (p *Peer) Send(m Message) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.Outbox <- m:
		return true
	default:
		return false
	}
}

// Close marks the peer closed and closes its underlying connection and
// outbox. Safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.state = StateClosed
	close(p.Outbox)
	p.mu.Unlock()
	return p.Conn.Close()
}
