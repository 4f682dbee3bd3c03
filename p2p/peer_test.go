package p2p

import (
	"net"
	"testing"
)

func testConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestPeerInitialStateByDirection(t *testing.T) {
	a, _ := testConnPair(t)
	out := NewPeer(a, false, 8)
	if out.State() != StateDialing {
		t.Fatalf("outbound peer initial state = %s, want dialing", out.State())
	}

	b, _ := testConnPair(t)
	in := NewPeer(b, true, 8)
	if in.State() != StateAwaitingHello {
		t.Fatalf("inbound peer initial state = %s, want awaiting_hello", in.State())
	}
}

func TestPeerTransitionsFollowLifecycle(t *testing.T) {
	conn, _ := testConnPair(t)
	p := NewPeer(conn, false, 8)

	if err := p.Transition(StateHandshaking); err != nil {
		t.Fatalf("dialing -> handshaking: %v", err)
	}
	if err := p.Transition(StateActive); err != nil {
		t.Fatalf("handshaking -> active: %v", err)
	}
	if err := p.Transition(StateSyncing); err != nil {
		t.Fatalf("active -> syncing: %v", err)
	}
	if err := p.Transition(StateActive); err != nil {
		t.Fatalf("syncing -> active: %v", err)
	}
	if err := p.Transition(StateClosed); err != nil {
		t.Fatalf("active -> closed: %v", err)
	}
	if err := p.Transition(StateActive); err == nil {
		t.Fatalf("expected closed to be terminal")
	}
}

func TestPeerTransitionRejectsIllegalSkip(t *testing.T) {
	conn, _ := testConnPair(t)
	p := NewPeer(conn, false, 8)
	if err := p.Transition(StateActive); err == nil {
		t.Fatalf("expected dialing -> active to be rejected without handshaking")
	}
}

func TestPeerSendDropsOnFullOutbox(t *testing.T) {
	conn, _ := testConnPair(t)
	p := NewPeer(conn, false, 1)
	if !p.Send(Ping{}) {
		t.Fatalf("first send into an empty outbox should succeed")
	}
	if p.Send(Ping{}) {
		t.Fatalf("second send into a full outbox should be dropped, not block")
	}
}

func TestPeerCloseIsIdempotent(t *testing.T) {
	conn, _ := testConnPair(t)
	p := NewPeer(conn, false, 4)
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

// TestPeerSendAfterCloseDoesNotPanic guards against a send racing a
// close: Outbox is closed by Close, and a send on a closed channel
// panics even inside a select. Send must observe the closed flag (under
// the same lock Close uses) and refuse instead of touching the channel.
func TestPeerSendAfterCloseDoesNotPanic(t *testing.T) {
	conn, _ := testConnPair(t)
	p := NewPeer(conn, false, 4)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Send(Ping{}) {
		t.Fatalf("Send on a closed peer should report failure, not succeed")
	}
}

// TestPeerSendRaceWithCloseDoesNotPanic runs Send and Close concurrently
// under the race detector: neither ordering may panic on a send to a
// closed channel.
func TestPeerSendRaceWithCloseDoesNotPanic(t *testing.T) {
	conn, _ := testConnPair(t)
	p := NewPeer(conn, false, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			p.Send(Ping{})
		}
	}()
	_ = p.Close()
	<-done
}
