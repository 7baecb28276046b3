package social

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/storage"
	"github.com/arshadbarves/reciperage-net/internal/util"
	"github.com/arshadbarves/reciperage-net/internal/wire"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// maxChatHistory caps the in-memory and persisted history per peer.
const maxChatHistory = 100

// Manager runs the direct social protocol: friend requests, chat, game
// invites and pings, each a typed frame over a short-lived stream.
// Sender identity always comes from the stream, never from the payload.
type Manager struct {
	host     host.Host
	db       *storage.DB
	chats    *storage.ChatStore
	presence *PresenceTable
	selfID   string
	selfName string

	// send delivers one typed frame to a peer. Swapped in tests.
	send func(ctx context.Context, peerID string, typ wire.MsgType, payload any) error

	mu           sync.Mutex
	histories    map[string]*util.RingBuffer[storage.ChatRecord]
	unread       map[string]int
	unreadLoaded bool

	onFriendRequest  []func(req wire.FriendRequestMsg)
	onFriendAccepted []func(peerID string)
	onFriendRejected []func(requestID string)
	onFriendRemoved  []func(peerID string)
	onChat           []func(rec storage.ChatRecord)
	onUnread         []func(peerID string, count int)
	onGameInvite     []func(fromID, lobbyID string)
}

// Options configures the social manager.
type Options struct {
	DB       *storage.DB
	Chats    *storage.ChatStore
	Presence *PresenceTable
	SelfName string
}

// New creates the manager and registers the social stream handler.
func New(h host.Host, opts Options) *Manager {
	m := &Manager{
		host:      h,
		db:        opts.DB,
		chats:     opts.Chats,
		presence:  opts.Presence,
		selfID:    h.ID().String(),
		selfName:  opts.SelfName,
		histories: make(map[string]*util.RingBuffer[storage.ChatRecord]),
		unread:    make(map[string]int),
	}
	m.send = m.sendPacket
	h.SetStreamHandler(protocol.ID(wire.SocialProtoID), m.handleStream)
	return m
}

// SelfID returns the local peer ID.
func (m *Manager) SelfID() string { return m.selfID }

// ── Observers ──

func (m *Manager) OnFriendRequest(fn func(req wire.FriendRequestMsg)) {
	m.mu.Lock()
	m.onFriendRequest = append(m.onFriendRequest, fn)
	m.mu.Unlock()
}

func (m *Manager) OnFriendAccepted(fn func(peerID string)) {
	m.mu.Lock()
	m.onFriendAccepted = append(m.onFriendAccepted, fn)
	m.mu.Unlock()
}

func (m *Manager) OnFriendRejected(fn func(requestID string)) {
	m.mu.Lock()
	m.onFriendRejected = append(m.onFriendRejected, fn)
	m.mu.Unlock()
}

func (m *Manager) OnFriendRemoved(fn func(peerID string)) {
	m.mu.Lock()
	m.onFriendRemoved = append(m.onFriendRemoved, fn)
	m.mu.Unlock()
}

func (m *Manager) OnChat(fn func(rec storage.ChatRecord)) {
	m.mu.Lock()
	m.onChat = append(m.onChat, fn)
	m.mu.Unlock()
}

func (m *Manager) OnUnread(fn func(peerID string, count int)) {
	m.mu.Lock()
	m.onUnread = append(m.onUnread, fn)
	m.mu.Unlock()
}

func (m *Manager) OnGameInvite(fn func(fromID, lobbyID string)) {
	m.mu.Lock()
	m.onGameInvite = append(m.onGameInvite, fn)
	m.mu.Unlock()
}

// ── Stream plumbing ──

// sendPacket opens a stream to the peer, writes one typed frame and
// closes. Callers that must survive delivery failure persist first.
func (m *Manager) sendPacket(ctx context.Context, peerID string, typ wire.MsgType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal social payload: %w", err)
	}

	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("invalid peer ID %s: %w", peerID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, util.DefaultSendTimeout)
	defer cancel()

	_ = m.host.Connect(ctx, peer.AddrInfo{ID: pid})
	s, err := m.host.NewStream(ctx, pid, protocol.ID(wire.SocialProtoID))
	if err != nil {
		return fmt.Errorf("open social stream: %w", err)
	}
	defer s.Close()

	if err := wire.WriteFrame(s, wire.Packet{Type: typ, Payload: data}); err != nil {
		return fmt.Errorf("write social frame: %w", err)
	}
	return nil
}

func (m *Manager) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer().String()

	for {
		pkt, err := wire.ReadFrame(s)
		if err != nil {
			return
		}
		m.dispatch(s, remote, pkt)
	}
}

func (m *Manager) dispatch(s network.Stream, remote string, pkt wire.Packet) {
	switch pkt.Type {
	case wire.SocialPing:
		var ping wire.PingMsg
		if json.Unmarshal(pkt.Payload, &ping) != nil {
			return
		}
		pong, _ := json.Marshal(wire.PingMsg{TS: wire.NowMillis()})
		if err := wire.WriteFrame(s, wire.Packet{Type: wire.SocialPong, Payload: pong}); err != nil {
			log.Printf("SOCIAL: pong to %s failed: %v", remote, err)
		}
	case wire.SocialPong:
		// Measured by Ping callers on their own stream.
	case wire.SocialPresenceUpdate:
		var msg wire.PresenceDirectMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		if m.presence != nil {
			m.presence.Apply(wire.PresenceMsg{
				Type:     wire.PresenceUpdate,
				PeerID:   remote,
				Status:   msg.Status,
				Activity: msg.Activity,
				Joinable: msg.Joinable,
				JoinData: msg.JoinData,
				TS:       msg.TS,
			}, time.Now())
		}
	case wire.SocialFriendRequest:
		var msg wire.FriendRequestMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		m.handleFriendRequest(remote, msg)
	case wire.SocialFriendAccept:
		var msg wire.FriendRespondMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		m.handleFriendAccept(remote, msg)
	case wire.SocialFriendReject:
		var msg wire.FriendRespondMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		m.handleFriendReject(remote, msg)
	case wire.SocialFriendRemove:
		var msg wire.FriendRespondMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		m.handleFriendRemove(remote, msg)
	case wire.SocialChatMessage:
		var msg wire.ChatMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		m.handleChat(remote, msg)
	case wire.SocialGameInvite:
		var msg wire.ChatMsg
		if json.Unmarshal(pkt.Payload, &msg) != nil {
			return
		}
		m.handleGameInvite(remote, msg)
	default:
		log.Printf("SOCIAL: unknown frame type %d from %s", pkt.Type, remote)
	}
}

// Ping measures a round trip to a peer.
func (m *Manager) Ping(ctx context.Context, peerID string) (time.Duration, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return 0, fmt.Errorf("invalid peer ID %s: %w", peerID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, util.DefaultSendTimeout)
	defer cancel()

	s, err := m.host.NewStream(ctx, pid, protocol.ID(wire.SocialProtoID))
	if err != nil {
		return 0, fmt.Errorf("open social stream: %w", err)
	}
	defer s.Close()

	start := time.Now()
	data, _ := json.Marshal(wire.PingMsg{TS: start.UnixMilli()})
	if err := wire.WriteFrame(s, wire.Packet{Type: wire.SocialPing, Payload: data}); err != nil {
		return 0, fmt.Errorf("write ping: %w", err)
	}

	if d, ok := ctx.Deadline(); ok {
		_ = s.SetReadDeadline(d)
	}
	pkt, err := wire.ReadFrame(s)
	if err != nil {
		return 0, fmt.Errorf("read pong: %w", err)
	}
	if pkt.Type != wire.SocialPong {
		return 0, fmt.Errorf("unexpected reply type %d", pkt.Type)
	}
	return time.Since(start), nil
}
