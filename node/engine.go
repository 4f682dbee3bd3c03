// Package node implements the replication engine: the peer table, the
// broadcast fan-out, the maintenance loop, and the per-connection
// handshake and message-handling policy that together keep a node's
// store in sync with its peers. The mutex-guarded peer table and
// context-driven connection lifecycle follow the teacher's
// p2p_runtime.go PeerManager/PeerSession pattern, generalized from a
// Bitcoin-wire version/verack handshake to the Hello/HelloResponse
// exchange of this protocol.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/geofmureithi/ubu-block/config"
	"github.com/geofmureithi/ubu-block/ledger"
	"github.com/geofmureithi/ubu-block/ledgererr"
	"github.com/geofmureithi/ubu-block/p2p"
	"github.com/geofmureithi/ubu-block/store"
)

const protocolVersion uint32 = 1

const broadcastQueueSize = 1024

// Engine owns the store, the peer table, and every connection's
// lifecycle. One Engine corresponds to one running node.
type Engine struct {
	cfg   config.Config
	store *store.Store
	nodeID string

	mu    sync.RWMutex
	peers map[string]*p2p.Peer

	stdout io.Writer
	stderr io.Writer
}

// New constructs an Engine. nodeID identifies this node in Hello
// messages; cmd/ledger-node generates a fresh one with uuid.NewString()
// on every start, so the identity does not survive a restart.
func New(cfg config.Config, st *store.Store, nodeID string, stdout, stderr io.Writer) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  st,
		nodeID: nodeID,
		peers:  make(map[string]*p2p.Peer),
		stdout: stdout,
		stderr: stderr,
	}
}

func (e *Engine) logf(format string, args ...any) {
	fmt.Fprintf(e.stderr, "[node] "+format+"\n", args...)
}

// PeerCount returns the number of peers currently tracked, in any state.
func (e *Engine) PeerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// PeerAddrs returns the addresses of all tracked peers, for GetPeers
// responses and operator inspection.
func (e *Engine) PeerAddrs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.peers))
	for addr := range e.peers {
		out = append(out, addr)
	}
	return out
}

// isTracked reports whether addr already has an entry in the peer
// table, so PeersResponse doesn't spawn a redundant Dial for a peer
// we're already connected to.
func (e *Engine) isTracked(addr string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.peers[addr]
	return ok
}

func (e *Engine) addPeer(p *p2p.Peer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.peers) >= e.cfg.MaxPeers {
		return errors.New("max_peers reached")
	}
	e.peers[p.Addr] = p
	return nil
}

func (e *Engine) removePeer(addr string) {
	e.mu.Lock()
	delete(e.peers, addr)
	e.mu.Unlock()
}

// Serve accepts inbound connections on l until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if e.PeerCount() >= e.cfg.MaxPeers {
			e.logf("refusing inbound %s: max_peers reached", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		go e.handleConnection(ctx, conn, true)
	}
}

// Dial connects outbound to addr and runs its connection loop in the
// background. It returns once the TCP connection is established, or an
// error if the dial fails within cfg.ConnTimeout. The handshake runs in
// the background under its own cfg.ConnTimeout deadline; a handshake
// failure is logged, not returned.
func (e *Engine) Dial(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: e.cfg.ConnTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ledgererr.Newf(ledgererr.PeerTimeout, "dial %s: %v", addr, err)
	}
	go e.handleConnection(ctx, conn, false)
	return nil
}

// handleConnection owns one peer's entire lifecycle: handshake, then
// concurrent read/write loops until either end closes.
func (e *Engine) handleConnection(ctx context.Context, conn net.Conn, inbound bool) {
	peer := p2p.NewPeer(conn, inbound, broadcastQueueSize)
	defer func() {
		e.removePeer(peer.Addr)
		_ = peer.Close()
	}()

	if err := e.handshake(ctx, peer); err != nil {
		e.logf("handshake with %s failed: %v", peer.Addr, err)
		return
	}
	if err := e.addPeer(peer); err != nil {
		e.logf("rejecting %s: %v", peer.Addr, err)
		return
	}
	e.logf("peer %s active (node_id=%s height=%d)", peer.Addr, peer.NodeID(), peer.ChainHeight())
	if err := e.RequestSync(peer); err != nil {
		e.logf("initial sync request to %s failed: %v", peer.Addr, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.writeLoop(peer)
	}()
	go func() {
		defer wg.Done()
		e.readLoop(ctx, peer)
	}()
	wg.Wait()
}

// handshake performs the Hello/HelloResponse exchange. The dialing side
// sends Hello first; the accepting side waits for it, then replies.
func (e *Engine) handshake(ctx context.Context, peer *p2p.Peer) error {
	deadline := time.Now().Add(e.cfg.ConnTimeout)
	_ = peer.Conn.SetDeadline(deadline)
	defer peer.Conn.SetDeadline(time.Time{})

	height, err := e.store.Height()
	if err != nil {
		return err
	}

	if peer.Inbound {
		if err := peer.Transition(p2p.StateAwaitingHello); err != nil {
			// already in that state from NewPeer; ignore illegal self-transition
			_ = err
		}
		msg, err := p2p.ReadMessage(peer.Conn, e.cfg.MaxMessageSize)
		if err != nil {
			return err
		}
		hello, ok := msg.(p2p.Hello)
		if !ok {
			return fmt.Errorf("expected Hello, got %T", msg)
		}
		peer.SetIdentity(hello.NodeID, hello.ChainHeight)
		if err := peer.Transition(p2p.StateHandshaking); err != nil {
			return err
		}
		resp := p2p.HelloResponse{NodeID: e.nodeID, Version: protocolVersion, ChainHeight: height, Accepted: true}
		if err := p2p.WriteMessage(peer.Conn, resp); err != nil {
			return err
		}
	} else {
		if err := peer.Transition(p2p.StateHandshaking); err != nil {
			return err
		}
		hello := p2p.Hello{NodeID: e.nodeID, Version: protocolVersion, ChainHeight: height}
		if err := p2p.WriteMessage(peer.Conn, hello); err != nil {
			return err
		}
		msg, err := p2p.ReadMessage(peer.Conn, e.cfg.MaxMessageSize)
		if err != nil {
			return err
		}
		resp, ok := msg.(p2p.HelloResponse)
		if !ok {
			return fmt.Errorf("expected HelloResponse, got %T", msg)
		}
		if !resp.Accepted {
			return errors.New("peer rejected handshake")
		}
		peer.SetIdentity(resp.NodeID, resp.ChainHeight)
	}

	if err := peer.Transition(p2p.StateActive); err != nil {
		return err
	}
	peer.Touch()
	return nil
}

// writeLoop drains peer.Outbox to the wire until the channel is closed.
func (e *Engine) writeLoop(peer *p2p.Peer) {
	for msg := range peer.Outbox {
		if err := p2p.WriteMessage(peer.Conn, msg); err != nil {
			e.logf("write to %s failed: %v", peer.Addr, err)
			return
		}
	}
}

// readLoop reads inbound frames and dispatches them to handleMessage
// until the connection fails or ctx is cancelled.
func (e *Engine) readLoop(ctx context.Context, peer *p2p.Peer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := p2p.ReadMessage(peer.Conn, e.cfg.MaxMessageSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logf("read from %s failed: %v", peer.Addr, err)
			}
			return
		}
		peer.Touch()
		if err := e.handleMessage(ctx, peer, msg); err != nil {
			e.logf("handling %s from %s failed: %v", p2p.Describe(msg), peer.Addr, err)
			return
		}
	}
}

// handleMessage applies this node's response policy for one inbound
// message. Crucially, the BlockAnnouncement case never re-announces: it
// only adds the block to the store. Re-broadcasting happens exactly
// once, at the Submit call site, so a gossiped block cannot loop back
// around the network.
func (e *Engine) handleMessage(ctx context.Context, peer *p2p.Peer, msg p2p.Message) error {
	switch v := msg.(type) {
	case p2p.Hello, p2p.HelloResponse:
		return fmt.Errorf("unexpected %T after handshake", v)

	case p2p.BlockAnnouncement:
		// Rejections (duplicate height, bad signature, broken linkage) are
		// swallowed here rather than propagated: a gossiped announcement
		// that doesn't apply is not a framing failure worth tearing the
		// connection down for.
		if err := e.store.AddBlock(v.Block); err != nil {
			e.logf("dropping announced block from %s: %v", peer.Addr, err)
		}
		return nil

	case p2p.BlockRequest:
		b, err := e.store.GetBlockByHash(v.Hash)
		if err != nil {
			peer.Send(p2p.BlockResponse{Block: nil})
			return nil
		}
		peer.Send(p2p.BlockResponse{Block: b})
		return nil

	case p2p.BlockResponse:
		return nil // only meaningful as a reply to our own BlockRequest; handled inline by callers that need it

	case p2p.ChainHeightRequest:
		height, err := e.store.Height()
		if err != nil {
			return err
		}
		peer.Send(p2p.ChainHeightResponse{Height: height})
		return nil

	case p2p.ChainHeightResponse:
		peer.SetIdentity(peer.NodeID(), v.Height)
		return nil

	case p2p.GetBlocks:
		count := v.Count
		if count == 0 || int(count) > e.cfg.SyncBatchSize {
			count = uint32(e.cfg.SyncBatchSize)
		}
		blocks, err := e.store.GetRange(v.StartHeight, int(count))
		if err != nil {
			peer.Send(p2p.BlocksResponse{Blocks: nil})
			return nil
		}
		peer.Send(p2p.BlocksResponse{Blocks: blocks})
		return nil

	case p2p.BlocksResponse:
		if err := e.applyBlocksResponse(v); err != nil {
			return err
		}
		// A full batch that applied completely may have more behind it:
		// ask for the next one right away (RequestSync does nothing once
		// we have caught up with the peer's advertised height).
		if n := len(v.Blocks); n > 0 && n >= e.cfg.SyncBatchSize {
			if h, err := e.store.Height(); err == nil && h == v.Blocks[n-1].Height {
				if err := e.RequestSync(peer); err != nil {
					e.logf("sync request to %s failed: %v", peer.Addr, err)
				}
			}
		}
		return nil

	case p2p.GetPeers:
		peer.Send(p2p.PeersResponse{Peers: e.PeerAddrs()})
		return nil

	case p2p.PeersResponse:
		for _, addr := range v.Peers {
			if addr == peer.Addr || e.isTracked(addr) {
				continue
			}
			go func(addr string) {
				if err := e.Dial(ctx, addr); err != nil {
					e.logf("dial discovered peer %s failed: %v", addr, err)
				}
			}(addr)
		}
		return nil

	case p2p.Ping:
		peer.Send(p2p.Pong{})
		return nil

	case p2p.Pong:
		return nil

	case p2p.Disconnect:
		return fmt.Errorf("peer requested disconnect: %s", v.Reason)

	default:
		return fmt.Errorf("unhandled message type %T", msg)
	}
}

// applyBlocksResponse appends blocks in order, stopping at the first one
// the store rejects: a later block in the same batch might otherwise be
// built on a height the store never actually committed.
func (e *Engine) applyBlocksResponse(resp p2p.BlocksResponse) error {
	for _, b := range resp.Blocks {
		if err := e.store.AddBlock(b); err != nil {
			e.logf("sync batch stopped at height %d: %v", b.Height, err)
			return nil
		}
	}
	return nil
}

// RequestSync asks peer for one batch of blocks starting at our local
// height+1, sized to cfg.SyncBatchSize. The corresponding BlocksResponse
// is applied asynchronously by handleMessage/applyBlocksResponse, which
// requests the next batch itself when a full batch applied completely;
// otherwise RunMaintenance calls RequestSync again on its next tick.
func (e *Engine) RequestSync(peer *p2p.Peer) error {
	localHeight, err := e.store.Height()
	if err != nil {
		return err
	}
	if localHeight >= peer.ChainHeight() {
		return nil
	}
	if err := peer.Transition(p2p.StateSyncing); err != nil {
		return err
	}
	defer func() { _ = peer.Transition(p2p.StateActive) }()

	if !peer.Send(p2p.GetBlocks{StartHeight: localHeight + 1, Count: uint32(e.cfg.SyncBatchSize)}) {
		return errors.New("peer outbox full, cannot request sync batch")
	}
	return nil
}

// Submit builds a new Results block atop the current tip, commits it to
// the store, and announces it to every peer exactly once. This is the
// only call site that originates a BlockAnnouncement — the inbound
// handler never re-announces — so a block can gossip across the network
// at most once per node per hop.
func (e *Engine) Submit(entries []ledger.ResultEntry, now time.Time) (*ledger.Block, error) {
	signer, err := e.store.GetLocalSigner()
	if err != nil {
		return nil, err
	}
	height, err := e.store.Height()
	if err != nil {
		return nil, err
	}
	if height < 0 {
		return nil, ledgererr.New(ledgererr.InvalidBlock, "cannot submit a results block before genesis exists")
	}
	prev, err := e.store.GetBlockByHeight(height)
	if err != nil {
		return nil, err
	}

	b, err := ledger.New(*signer, prev.Hash, height+1, entries, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.AddBlock(b); err != nil {
		return nil, err
	}
	e.Announce(b)
	fmt.Fprintf(e.stdout, "committed block height=%d hash=%x\n", b.Height, b.Hash)
	return b, nil
}

// Announce fans BlockAnnouncement out to every active peer. Sends are
// non-blocking: a peer whose outbox is full is skipped rather than
// allowed to stall the whole broadcast.
func (e *Engine) Announce(b *ledger.Block) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	msg := p2p.BlockAnnouncement{Block: b}
	for _, peer := range e.peers {
		if peer.State() != p2p.StateActive {
			continue
		}
		if !peer.Send(msg) {
			e.logf("dropped announcement to slow peer %s", peer.Addr)
		}
	}
}

// RunMaintenance pings every peer every cfg.PingInterval and evicts any
// peer not heard from in 3x that interval. It blocks until ctx is
// cancelled.
func (e *Engine) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pingAndEvict()
		}
	}
}

// pingAndEvict pings every peer, evicts anyone overdue, and nudges a
// fresh GetBlocks batch toward any peer still ahead of us — a sync that
// needed more than one batch resumes here rather than stalling until the
// next inbound message happens to trigger it.
//
// The peer table is only locked long enough to snapshot it: eviction
// (peer.Close) and sync nudging (RequestSync, which does store I/O) both
// happen afterward with no lock held, per the no-I/O-under-the-lock rule
// the peer table otherwise follows.
func (e *Engine) pingAndEvict() {
	evictAfter := 3 * e.cfg.PingInterval

	e.mu.RLock()
	snapshot := make([]*p2p.Peer, 0, len(e.peers))
	for _, peer := range e.peers {
		snapshot = append(snapshot, peer)
	}
	e.mu.RUnlock()

	for _, peer := range snapshot {
		if time.Since(peer.LastSeen()) > evictAfter {
			e.logf("evicting unresponsive peer %s", peer.Addr)
			e.removePeer(peer.Addr)
			_ = peer.Close()
			continue
		}
		peer.Send(p2p.Ping{})
		if peer.State() == p2p.StateActive {
			if err := e.RequestSync(peer); err != nil {
				e.logf("sync request to %s failed: %v", peer.Addr, err)
			}
		}
	}
}
