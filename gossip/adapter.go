// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package gossip implements the network adapter boundary described in
// spec.md §4.5: peer lifecycle, backed by connmgr.ConnManager, and two
// gossip topics that only ever carry serialized bytes — this package
// never decodes a Block or ForgeTransaction, it only relays the bytes
// the caller already produced (spec.md §9).
package gossip

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/decred/dcrd/connmgr/v3"
)

// Gossip topic names, named identically to spec.md §4.5's logical
// topics.
const (
	TopicBlocks       = "excalibur-blocks"
	TopicTransactions = "excalibur-transactions"
)

// topicBuffer bounds how many unread messages a topic channel holds
// before the per-peer broadcaster falls behind.
const topicBuffer = 256

// outboxBuffer bounds how many framed messages queue per peer before a
// slow peer starts getting its messages dropped rather than stalling
// every other peer's delivery.
const outboxBuffer = 64

// maxFramePayload bounds a single gossip frame's declared length so a
// misbehaving peer can't make readFrame allocate without limit.
const maxFramePayload = 1 << 24

// Frame tags identify which topic a wire frame belongs to.
const (
	frameTagBlock byte = 1
	frameTagForge byte = 2
)

// EventKind identifies the kind of Event delivered on an Adapter's
// event channel.
type EventKind int

const (
	BlockReceived EventKind = iota
	ForgeReceived
	PeerConnected
	PeerDisconnected
	PeerList
)

// Event is one item on the adapter's event channel.
type Event struct {
	Kind  EventKind
	Bytes []byte     // set for BlockReceived, ForgeReceived
	Peer  PeerInfo   // set for PeerConnected, PeerDisconnected
	Peers []PeerInfo // set for PeerList
}

// PeerInfo is the minimal peer bookkeeping shape implied by the
// getpeerinfo RPC method and the ListPeers adapter command (spec.md
// §4.6, §10 supplemented features).
type PeerInfo struct {
	ID        uint64
	Addr      string
	Connected bool
}

// Adapter is the network boundary: publish outgoing gossip, manage peer
// connections, and receive inbound gossip/peer-lifecycle events.
type Adapter interface {
	PublishBlock(raw []byte) error
	PublishForge(raw []byte) error
	ConnectPeer(addr string) error
	DisconnectPeer(id uint64) error
	ListPeers() []PeerInfo
	Events() <-chan Event
	Start() error
	Stop()
}

// frame is one queued outbound message awaiting a write to a peer.
type frame struct {
	tag     byte
	payload []byte
}

// peerConn pairs a live connection with its outbound queue so one slow
// peer's writes never block delivery to any other peer. closeOnce
// guards peerGone so a connection that fails its read and its write at
// nearly the same moment is only torn down and reported once.
type peerConn struct {
	id        uint64
	conn      net.Conn
	outbox    chan frame
	closeOnce sync.Once
}

// connManagerAdapter is the concrete Adapter backed by
// connmgr.ConnManager for peer lifecycle. Published bytes are fanned out
// to every connected peer's outbox by a single broadcaster goroutine;
// each peer has its own writer and reader goroutine framing the wire
// bytes over its net.Conn.
type connManagerAdapter struct {
	cm *connmgr.ConnManager

	blocks       chan []byte
	transactions chan []byte
	events       chan Event

	mu    sync.Mutex
	peers map[uint64]PeerInfo
	conns map[uint64]*peerConn

	// pendingConnReqs maps an outbound ConnReq to the local id
	// ConnectPeer assigned it from nextReqID, so onConnection's callback
	// (which only gets the *connmgr.ConnReq back, not that id) can
	// resolve the same bookkeeping entry instead of minting a second
	// one. nextReqID is the single id source for both outbound and
	// inbound peers, so the two can never collide the way they would if
	// onAccept instead trusted connmgr's own internal ConnReq counter.
	pendingConnReqs map[*connmgr.ConnReq]uint64
	pendingByID     map[uint64]*connmgr.ConnReq
	nextReqID       uint64

	// pendingByID is pendingConnReqs' reverse index (id -> req), needed
	// because DisconnectPeer only has id to work with: without it, a
	// disconnect racing an in-flight dial would delete peers/connReqIDs
	// and emit PeerDisconnected while leaving pendingConnReqs[req] behind,
	// letting onConnection fire moments later, resolve that stale entry,
	// and resurrect the peer as connected right after it was torn down.

	// connReqIDs maps a local peer id back to connmgr's own ConnReq.ID(),
	// recorded only for outbound peers (connmgr assigns it synchronously
	// on Connect, before the dial). DisconnectPeer needs it to call
	// cm.Remove with the id connmgr actually tracks that ConnReq under —
	// our own local id means nothing to connmgr and, passed to Remove
	// directly, could tear down an unrelated ConnReq that happened to get
	// the same id from connmgr's independent counter. Inbound peers have
	// no entry here: they were never a ConnReq, so there is nothing for
	// cm.Remove to do for them.
	connReqIDs map[uint64]uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a gossip Adapter that dials peers via dial and accepts
// inbound connections on listeners, announcing each to the returned
// event channel.
func New(dial func(net.Addr) (net.Conn, error), listeners []net.Listener) (Adapter, error) {
	a := &connManagerAdapter{
		blocks:          make(chan []byte, topicBuffer),
		transactions:    make(chan []byte, topicBuffer),
		events:          make(chan Event, topicBuffer),
		peers:           make(map[uint64]PeerInfo),
		conns:           make(map[uint64]*peerConn),
		pendingConnReqs: make(map[*connmgr.ConnReq]uint64),
		pendingByID:     make(map[uint64]*connmgr.ConnReq),
		connReqIDs:      make(map[uint64]uint64),
		stopCh:          make(chan struct{}),
	}

	cfg := &connmgr.Config{
		Listeners:      listeners,
		OnAccept:       a.onAccept,
		RetryDuration:  0,
		TargetOutbound: 8,
		Dial:           dial,
		OnConnection:   a.onConnection,
	}

	cm, err := connmgr.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("gossip: connmgr.New: %w", err)
	}
	a.cm = cm
	return a, nil
}

// Start begins accepting connections, servicing connection requests, and
// broadcasting published topic bytes to every connected peer.
func (a *connManagerAdapter) Start() error {
	a.cm.Start()
	go a.broadcastLoop()
	return nil
}

// Stop halts the connection manager, closes every peer connection, and
// closes internal channels. Safe to call more than once.
func (a *connManagerAdapter) Stop() {
	a.stopOnce.Do(func() {
		a.cm.Stop()
		close(a.stopCh)

		a.mu.Lock()
		for _, p := range a.conns {
			p.conn.Close()
		}
		a.mu.Unlock()
	})
}

// Events returns the channel on which inbound gossip and peer-lifecycle
// notifications are delivered.
func (a *connManagerAdapter) Events() <-chan Event {
	return a.events
}

// PublishBlock announces raw on the excalibur-blocks topic. raw MUST
// already be the canonical wire encoding of a Block — this layer never
// inspects it. A full topic buffer (the broadcaster is unable to keep
// up) drops the message rather than blocking the caller indefinitely,
// since Dispatch is expected to be a bounded, synchronous call.
func (a *connManagerAdapter) PublishBlock(raw []byte) error {
	select {
	case a.blocks <- raw:
		return nil
	case <-a.stopCh:
		return fmt.Errorf("gossip: adapter stopped")
	default:
		return fmt.Errorf("gossip: excalibur-blocks topic buffer full, dropping")
	}
}

// PublishForge announces raw on the excalibur-transactions topic. raw
// MUST already be the canonical wire encoding of a ForgeTransaction.
// See PublishBlock for the full-buffer behavior.
func (a *connManagerAdapter) PublishForge(raw []byte) error {
	select {
	case a.transactions <- raw:
		return nil
	case <-a.stopCh:
		return fmt.Errorf("gossip: adapter stopped")
	default:
		return fmt.Errorf("gossip: excalibur-transactions topic buffer full, dropping")
	}
}

// broadcastLoop drains both topic channels and fans each message out to
// every connected peer's outbox. It is the one reader of a.blocks and
// a.transactions, so PublishBlock/PublishForge never block on peer I/O.
func (a *connManagerAdapter) broadcastLoop() {
	for {
		select {
		case raw := <-a.blocks:
			a.broadcast(frameTagBlock, raw)
		case raw := <-a.transactions:
			a.broadcast(frameTagForge, raw)
		case <-a.stopCh:
			return
		}
	}
}

// broadcast enqueues payload on every connected peer's outbox, dropping
// (and logging) delivery to any peer whose outbox is already full rather
// than letting one slow peer stall every other peer's delivery.
func (a *connManagerAdapter) broadcast(tag byte, payload []byte) {
	a.mu.Lock()
	targets := make([]*peerConn, 0, len(a.conns))
	for _, p := range a.conns {
		targets = append(targets, p)
	}
	a.mu.Unlock()

	for _, p := range targets {
		select {
		case p.outbox <- frame{tag: tag, payload: payload}:
		default:
			log.Warnf("gossip: peer %d outbox full, dropping frame", p.id)
		}
	}
}

// ConnectPeer initiates an outbound connection to addr. The bookkeeping
// entry is keyed by a locally-assigned id from the same nextReqID
// counter onAccept uses for inbound peers, recorded against req in
// pendingConnReqs so onConnection's callback — which only receives req
// back, not this id — resolves the same map entry instead of minting an
// orphaned second one.
func (a *connManagerAdapter) ConnectPeer(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("gossip: resolve %q: %w", addr, err)
	}

	id := atomic.AddUint64(&a.nextReqID, 1)
	req := &connmgr.ConnReq{Addr: tcpAddr, Permanent: false}

	// cm.Connect assigns req's own ConnReq.ID() synchronously, before
	// the dial happens, but dials and connmgr's callbacks run on
	// connmgr's own goroutines, not this one — so it's safe to hold a.mu
	// across the call. Recording connReqIDs[id] before releasing the
	// lock closes the window a concurrent DisconnectPeer(id) could
	// otherwise see no connReqIDs entry yet and skip cm.Remove entirely,
	// leaking the ConnReq inside connmgr.
	a.mu.Lock()
	a.pendingConnReqs[req] = id
	a.pendingByID[id] = req
	a.peers[id] = PeerInfo{ID: id, Addr: addr, Connected: false}
	a.cm.Connect(req)
	a.connReqIDs[id] = req.ID()
	a.mu.Unlock()

	return nil
}

// DisconnectPeer tears down the connection identified by id. If a live
// connection is registered for id, closing it drives writerLoop and
// readerLoop to exit and call peerGone themselves; otherwise (a
// ConnectPeer that hasn't reached onConnection yet) the bookkeeping
// entry is removed and the event emitted directly. id is only ever
// meaningful to connmgr for an outbound peer (one with a connReqIDs
// entry) — an inbound peer was never a ConnReq, so cm.Remove is skipped
// for it rather than handed a local id connmgr never assigned. The
// pending-entry branch also clears pendingByID/pendingConnReqs: without
// that, a disconnect racing a dial that succeeds moments later would
// leave the stale entry for onConnection to resolve, resurrecting a peer
// the caller was just told was gone.
func (a *connManagerAdapter) DisconnectPeer(id uint64) error {
	a.mu.Lock()
	peer, hasPeer := a.peers[id]
	p, hasConn := a.conns[id]
	connReqID, hasConnReqID := a.connReqIDs[id]
	a.mu.Unlock()

	if !hasPeer && !hasConn {
		return fmt.Errorf("gossip: no peer with id %d", id)
	}

	if hasConnReqID {
		a.cm.Remove(connReqID)
	}

	if hasConn {
		a.peerGone(p)
		return nil
	}

	a.mu.Lock()
	delete(a.peers, id)
	delete(a.connReqIDs, id)
	if req, ok := a.pendingByID[id]; ok {
		delete(a.pendingByID, id)
		delete(a.pendingConnReqs, req)
	}
	a.mu.Unlock()
	peer.Connected = false
	a.emit(Event{Kind: PeerDisconnected, Peer: peer})
	return nil
}

// ListPeers returns a snapshot of every known peer.
func (a *connManagerAdapter) ListPeers() []PeerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PeerInfo, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, p)
	}
	return out
}

// registerPeer records peer and its live connection in the same locked
// section and spawns its writer and reader goroutines. peers and conns
// must never be written in two separate lock acquisitions here: a
// DisconnectPeer landing in the gap between them would see an entry in
// one map but not the other, take the wrong teardown branch, and the
// connection would end up running with no way left to disconnect it.
func (a *connManagerAdapter) registerPeer(peer PeerInfo, conn net.Conn) *peerConn {
	p := &peerConn{id: peer.ID, conn: conn, outbox: make(chan frame, outboxBuffer)}

	a.mu.Lock()
	a.peers[peer.ID] = peer
	a.conns[peer.ID] = p
	a.mu.Unlock()

	go a.writerLoop(p)
	go a.readerLoop(p)
	return p
}

// writerLoop drains p's outbox onto its connection until the connection
// fails or the adapter stops. A write failure means the connection is
// dead on its own, not via an explicit DisconnectPeer call, so it tears
// down and reports the peer itself rather than leaving that to whoever
// notices next.
func (a *connManagerAdapter) writerLoop(p *peerConn) {
	for {
		select {
		case f := <-p.outbox:
			if err := writeFrame(p.conn, f.tag, f.payload); err != nil {
				log.Debugf("gossip: write to peer %d failed: %v", p.id, err)
				a.peerGone(p)
				return
			}
		case <-a.stopCh:
			return
		}
	}
}

// readerLoop decodes inbound frames from p's connection and emits a
// BlockReceived or ForgeReceived event for each one, until the
// connection fails or the adapter stops. See writerLoop for why a read
// failure triggers peerGone directly.
func (a *connManagerAdapter) readerLoop(p *peerConn) {
	r := bufio.NewReader(p.conn)
	for {
		tag, payload, err := readFrame(r)
		if err != nil {
			log.Debugf("gossip: read from peer %d ended: %v", p.id, err)
			a.peerGone(p)
			return
		}

		switch tag {
		case frameTagBlock:
			a.emit(Event{Kind: BlockReceived, Bytes: payload})
		case frameTagForge:
			a.emit(Event{Kind: ForgeReceived, Bytes: payload})
		default:
			log.Warnf("gossip: peer %d sent unknown frame tag %d", p.id, tag)
		}
	}
}

// peerGone closes p's connection, removes its bookkeeping, and emits a
// PeerDisconnected event exactly once, however it's reached — an
// explicit DisconnectPeer, or writerLoop/readerLoop each noticing the
// same dead connection at nearly the same moment.
func (a *connManagerAdapter) peerGone(p *peerConn) {
	p.closeOnce.Do(func() {
		p.conn.Close()

		a.mu.Lock()
		peer, ok := a.peers[p.id]
		delete(a.peers, p.id)
		delete(a.conns, p.id)
		delete(a.connReqIDs, p.id)
		a.mu.Unlock()

		if !ok {
			return
		}
		peer.Connected = false
		a.emit(Event{Kind: PeerDisconnected, Peer: peer})
	})
}

// writeFrame writes a one-byte topic tag, a four-byte big-endian length,
// and payload to w.
func writeFrame(w io.Writer, tag byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame written by writeFrame.
func readFrame(r *bufio.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("gossip: frame payload %d exceeds maximum %d", length, maxFramePayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

// onConnection is connmgr's callback fired when an outbound ConnReq
// succeeds. It resolves c back to the id ConnectPeer assigned it rather
// than trusting c.ID(), which is drawn from connmgr's own independent
// counter and would otherwise collide with onAccept's inbound ids.
func (a *connManagerAdapter) onConnection(c *connmgr.ConnReq, conn net.Conn) {
	a.mu.Lock()
	id, ok := a.pendingConnReqs[c]
	delete(a.pendingConnReqs, c)
	delete(a.pendingByID, id)
	a.mu.Unlock()
	if !ok {
		log.Warnf("gossip: onConnection fired for unknown ConnReq, dropping")
		conn.Close()
		return
	}

	peer := PeerInfo{ID: id, Addr: conn.RemoteAddr().String(), Connected: true}
	a.registerPeer(peer, conn)

	log.Infof("peer %d connected (%s)", peer.ID, peer.Addr)
	a.emit(Event{Kind: PeerConnected, Peer: peer})
}

// onAccept is connmgr's callback fired for each inbound connection.
func (a *connManagerAdapter) onAccept(conn net.Conn) {
	id := atomic.AddUint64(&a.nextReqID, 1)
	peer := PeerInfo{ID: id, Addr: conn.RemoteAddr().String(), Connected: true}
	a.registerPeer(peer, conn)

	log.Infof("peer %d accepted (%s)", peer.ID, peer.Addr)
	a.emit(Event{Kind: PeerConnected, Peer: peer})
}

// emit delivers evt on the event channel. While the channel is full it
// blocks the caller until a reader makes room or the adapter stops;
// after Stop it never blocks, and an event that finds no room is
// dropped.
func (a *connManagerAdapter) emit(evt Event) {
	select {
	case a.events <- evt:
	case <-a.stopCh:
	}
}
