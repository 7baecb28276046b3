package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/arshadbarves/reciperage-net/internal/util"
	"github.com/arshadbarves/reciperage-net/internal/wire"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Inbound is one received packet with its sender.
type Inbound struct {
	From   string
	Packet wire.Packet
}

// queueItem carries either a packet or a connection-state event, so packets
// and the events that precede them stay in arrival order.
type queueItem struct {
	inbound      *Inbound
	connected    string
	disconnected string
}

// Manager runs the in-session packet transport. One persistent
// reliable-ordered stream per peer carries framed packets both ways. The
// stream handler only queues; all delivery happens on the tick thread via
// Drain.
type Manager struct {
	host   host.Host
	selfID string

	mu      sync.Mutex
	running bool
	isHost  bool
	hostID  string
	peers   map[string]*peerConn
	queue   []queueItem

	onConnected    []func(peerID string)
	onDisconnected []func(peerID string)
}

type peerConn struct {
	peerID string
	stream network.Stream
	wmu    sync.Mutex
	cancel context.CancelFunc
}

// New creates the transport manager and registers the game stream handler.
func New(h host.Host) *Manager {
	m := &Manager{
		host:   h,
		selfID: h.ID().String(),
		peers:  make(map[string]*peerConn),
	}
	h.SetStreamHandler(protocol.ID(wire.GameProtoID), m.handleStream)
	return m
}

// SelfID returns the local peer ID.
func (m *Manager) SelfID() string {
	return m.selfID
}

// OnPeerConnected registers an observer for session peer arrivals.
func (m *Manager) OnPeerConnected(fn func(peerID string)) {
	m.mu.Lock()
	m.onConnected = append(m.onConnected, fn)
	m.mu.Unlock()
}

// OnPeerDisconnected registers an observer for session peer departures.
func (m *Manager) OnPeerDisconnected(fn func(peerID string)) {
	m.mu.Lock()
	m.onDisconnected = append(m.onDisconnected, fn)
	m.mu.Unlock()
}

// StartHost begins a hosted session. Incoming game streams are accepted
// from here on.
func (m *Manager) StartHost() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("transport already running")
	}
	m.running = true
	m.isHost = true
	m.hostID = m.selfID
	log.Printf("TRANSPORT: hosting session as %s", m.selfID)
	return nil
}

// StartClient begins a client session by opening a stream to the host and
// sending a handshake packet.
func (m *Manager) StartClient(hostPeerID string) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("transport already running")
	}
	m.running = true
	m.isHost = false
	m.hostID = hostPeerID
	m.mu.Unlock()

	pid, err := peer.Decode(hostPeerID)
	if err != nil {
		m.reset()
		return fmt.Errorf("invalid host peer ID: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()

	if err := m.host.Connect(ctx, peer.AddrInfo{ID: pid}); err != nil {
		m.reset()
		return fmt.Errorf("connect to host: %w", err)
	}

	s, err := m.host.NewStream(ctx, pid, protocol.ID(wire.GameProtoID))
	if err != nil {
		m.reset()
		return fmt.Errorf("open game stream: %w", err)
	}

	pc := m.register(hostPeerID, s)
	if err := pc.write(wire.Packet{Type: wire.MsgHandshake}); err != nil {
		m.dropPeer(hostPeerID)
		m.reset()
		return fmt.Errorf("send handshake: %w", err)
	}

	log.Printf("TRANSPORT: joined session hosted by %s", hostPeerID)
	return nil
}

// Stop ends the session, closing all peer streams. Disconnect events for
// every session peer are queued for the next Drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	peers := m.peers
	m.peers = make(map[string]*peerConn)
	for id := range peers {
		m.queue = append(m.queue, queueItem{disconnected: id})
	}
	m.mu.Unlock()

	for _, pc := range peers {
		pc.cancel()
		_ = pc.stream.Close()
	}
	log.Printf("TRANSPORT: session stopped")
}

// IsHost reports whether the local peer hosts the running session.
func (m *Manager) IsHost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && m.isHost
}

// Peers returns the currently registered session peers.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// Send writes one packet to a session peer.
func (m *Manager) Send(peerID string, pkt wire.Packet) error {
	m.mu.Lock()
	pc, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer not in session: %s", peerID)
	}
	if err := pc.write(pkt); err != nil {
		return fmt.Errorf("send to %s: %w", peerID, err)
	}
	return nil
}

// Broadcast writes one packet to every session peer. Per-peer failures are
// logged, not fatal.
func (m *Manager) Broadcast(pkt wire.Packet) {
	m.mu.Lock()
	conns := make([]*peerConn, 0, len(m.peers))
	for _, pc := range m.peers {
		conns = append(conns, pc)
	}
	m.mu.Unlock()

	for _, pc := range conns {
		if err := pc.write(pkt); err != nil {
			log.Printf("TRANSPORT: broadcast to %s failed: %v", pc.peerID, err)
		}
	}
}

// Drain delivers up to max queued packets, firing connection observers for
// any peer events queued ahead of them. Called once per tick.
func (m *Manager) Drain(max int) []Inbound {
	m.mu.Lock()
	var out []Inbound
	consumed := 0
	for _, item := range m.queue {
		consumed++
		switch {
		case item.connected != "":
			m.fireLocked(m.onConnected, item.connected)
		case item.disconnected != "":
			m.fireLocked(m.onDisconnected, item.disconnected)
		case item.inbound != nil:
			out = append(out, *item.inbound)
			if len(out) >= max {
				goto done
			}
		}
	}
done:
	m.queue = m.queue[consumed:]
	if len(m.queue) == 0 {
		m.queue = nil
	}
	m.mu.Unlock()
	return out
}

// fireLocked invokes observers outside the manager lock.
func (m *Manager) fireLocked(fns []func(string), peerID string) {
	obs := make([]func(string), len(fns))
	copy(obs, fns)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(peerID)
	}
	m.mu.Lock()
}

// handleStream accepts an inbound game stream. While no session runs the
// stream is reset.
func (m *Manager) handleStream(s network.Stream) {
	remotePeer := s.Conn().RemotePeer().String()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		log.Printf("TRANSPORT: rejecting game stream from %s (no session)", remotePeer)
		s.Reset()
		return
	}
	m.mu.Unlock()

	m.register(remotePeer, s)
}

// register stores the peer connection, queues its arrival event, and starts
// the read loop. The connected event precedes any packet the peer sends.
func (m *Manager) register(peerID string, s network.Stream) *peerConn {
	ctx, cancel := context.WithCancel(context.Background())
	pc := &peerConn{peerID: peerID, stream: s, cancel: cancel}

	m.mu.Lock()
	if old, ok := m.peers[peerID]; ok {
		old.cancel()
		_ = old.stream.Close()
	}
	m.peers[peerID] = pc
	m.queue = append(m.queue, queueItem{connected: peerID})
	m.mu.Unlock()

	log.Printf("TRANSPORT: peer %s registered", peerID)

	go m.readLoop(ctx, pc)
	return pc
}

func (m *Manager) readLoop(ctx context.Context, pc *peerConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, err := wire.ReadFrame(pc.stream)
		if err != nil {
			m.dropPeer(pc.peerID)
			return
		}

		m.mu.Lock()
		m.queue = append(m.queue, queueItem{inbound: &Inbound{From: pc.peerID, Packet: pkt}})
		m.mu.Unlock()
	}
}

// dropPeer removes a peer after its stream fails and queues the disconnect.
func (m *Manager) dropPeer(peerID string) {
	m.mu.Lock()
	pc, ok := m.peers[peerID]
	if ok {
		delete(m.peers, peerID)
		m.queue = append(m.queue, queueItem{disconnected: peerID})
	}
	m.mu.Unlock()

	if ok {
		pc.cancel()
		_ = pc.stream.Close()
		log.Printf("TRANSPORT: peer %s dropped", peerID)
	}
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.running = false
	m.isHost = false
	m.hostID = ""
	m.mu.Unlock()
}

func (pc *peerConn) write(pkt wire.Packet) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	return wire.WriteFrame(pc.stream, pkt)
}
