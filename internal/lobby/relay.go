package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/util"
	"github.com/arshadbarves/reciperage-net/internal/wire"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Announcer publishes lobby directory entries. Satisfied by p2p.Node.
type Announcer interface {
	PublishLobby(ctx context.Context, ann wire.LobbyAnnounce)
}

// directoryTTL is how long a directory entry stays valid without a fresh
// announcement from its owner.
const directoryTTL = 30 * time.Second

// RelayProvider is the production lobby Provider. The lobby owner hosts it:
// members hold one stream to the owner, who relays roster and attribute
// changes as full snapshots. Public lobbies are discoverable through
// pubsub directory announcements.
type RelayProvider struct {
	host      host.Host
	announcer Announcer
	selfID    string

	mu        sync.RWMutex
	hosted    map[string]*hostedLobby
	conns     map[string]*clientConn
	directory map[string]dirEntry

	onUpdate func(Record)
	onClosed func(lobbyID, reason string)
}

type hostedLobby struct {
	mu      sync.RWMutex
	rec     Record
	members map[string]*memberConn // connected members, owner excluded
}

type memberConn struct {
	peerID  string
	stream  network.Stream
	encoder *json.Encoder
	cancel  context.CancelFunc
}

type clientConn struct {
	lobbyID    string
	hostPeerID string
	stream     network.Stream
	encoder    *json.Encoder
	cancel     context.CancelFunc
}

type dirEntry struct {
	rec  Record
	seen time.Time
}

// NewRelayProvider creates the provider and registers the lobby stream
// handler.
func NewRelayProvider(h host.Host, announcer Announcer) *RelayProvider {
	p := &RelayProvider{
		host:      h,
		announcer: announcer,
		selfID:    h.ID().String(),
		hosted:    make(map[string]*hostedLobby),
		conns:     make(map[string]*clientConn),
		directory: make(map[string]dirEntry),
	}
	h.SetStreamHandler(protocol.ID(wire.LobbyProtoID), p.handleStream)
	return p
}

func (p *RelayProvider) Subscribe(onUpdate func(Record), onClosed func(lobbyID, reason string)) {
	p.mu.Lock()
	p.onUpdate = onUpdate
	p.onClosed = onClosed
	p.mu.Unlock()
}

func (p *RelayProvider) notifyUpdate(rec Record) {
	p.mu.RLock()
	fn := p.onUpdate
	p.mu.RUnlock()
	if fn != nil {
		fn(rec)
	}
}

func (p *RelayProvider) notifyClosed(id, reason string) {
	p.mu.RLock()
	fn := p.onClosed
	p.mu.RUnlock()
	if fn != nil {
		fn(id, reason)
	}
}

// ─── Host side ───────────────────────────────────────────────────────────────

func (p *RelayProvider) Create(opts CreateOpts, done func(Record, error)) {
	rec := Record{
		ID:         uuid.NewString(),
		Kind:       opts.Kind,
		OwnerID:    opts.OwnerID,
		MaxMembers: opts.MaxMembers,
		IsPrivate:  opts.Private,
		Attributes: cloneAttrs(opts.Attributes),
		Members: []Member{{
			PeerID:      opts.OwnerID,
			DisplayName: opts.OwnerName,
			Attributes:  cloneAttrs(opts.OwnerAttributes),
		}},
	}
	rec.CurrentMembers = 1

	hl := &hostedLobby{rec: rec, members: make(map[string]*memberConn)}
	p.mu.Lock()
	p.hosted[rec.ID] = hl
	p.mu.Unlock()

	log.Printf("LOBBY: hosting %s lobby %s", rec.Kind, rec.ID)
	p.announce(hl)
	done(rec.Clone(), nil)
}

func (p *RelayProvider) Destroy(id string) {
	p.mu.Lock()
	hl, ok := p.hosted[id]
	if ok {
		delete(p.hosted, id)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	closeMsg := relayMsg{Type: TypeClose, Lobby: id}
	hl.mu.Lock()
	for _, mc := range hl.members {
		_ = mc.encoder.Encode(closeMsg)
		mc.cancel()
		_ = mc.stream.Close()
	}
	hl.members = nil
	rec := hl.rec
	hl.mu.Unlock()

	p.retract(rec)
	log.Printf("LOBBY: destroyed hosted lobby %s", id)
}

func (p *RelayProvider) handleStream(s network.Stream) {
	remotePeer := s.Conn().RemotePeer().String()
	dec := json.NewDecoder(s)
	enc := json.NewEncoder(s)

	var joinMsg relayMsg
	if err := dec.Decode(&joinMsg); err != nil {
		log.Printf("LOBBY: failed to decode join from %s: %v", remotePeer, err)
		s.Reset()
		return
	}
	if joinMsg.Type != TypeJoin || joinMsg.Member == nil {
		enc.Encode(relayMsg{Type: TypeError, Error: &ErrorPayload{Code: ErrCodeBadMsg, Message: "first message must be join"}})
		s.Reset()
		return
	}
	// Sender identity is taken from the stream, never from the payload.
	if joinMsg.Member.PeerID != remotePeer {
		log.Printf("LOBBY: join from %s claims peer %s, rejecting", remotePeer, joinMsg.Member.PeerID)
		s.Reset()
		return
	}

	lobbyID := joinMsg.Lobby
	p.mu.RLock()
	hl, exists := p.hosted[lobbyID]
	p.mu.RUnlock()

	if !exists {
		enc.Encode(relayMsg{Type: TypeError, Lobby: lobbyID, Error: &ErrorPayload{Code: ErrCodeNotFound, Message: "lobby not found"}})
		s.Reset()
		return
	}

	hl.mu.Lock()
	if len(hl.rec.Members) >= hl.rec.MaxMembers {
		hl.mu.Unlock()
		enc.Encode(relayMsg{Type: TypeError, Lobby: lobbyID, Error: &ErrorPayload{Code: ErrCodeFull, Message: "lobby is full"}})
		s.Reset()
		return
	}

	hl.rec.Members = append(hl.rec.Members, *joinMsg.Member)
	hl.rec.CurrentMembers = len(hl.rec.Members)
	rec := hl.rec.Clone()
	hl.mu.Unlock()

	log.Printf("LOBBY: %s joined lobby %s (%d/%d)", remotePeer, lobbyID, rec.CurrentMembers, rec.MaxMembers)

	// Welcome goes out before the conn is visible to broadcasts, so the
	// joiner never sees a roster frame first.
	enc.Encode(relayMsg{Type: TypeWelcome, Lobby: lobbyID, Record: &rec})

	ctx, cancel := context.WithCancel(context.Background())
	mc := &memberConn{peerID: remotePeer, stream: s, encoder: enc, cancel: cancel}
	hl.mu.Lock()
	hl.members[remotePeer] = mc
	hl.mu.Unlock()

	hl.broadcast(relayMsg{Type: TypeRoster, Lobby: lobbyID, Record: &rec}, remotePeer)
	p.announce(hl)
	p.notifyUpdate(rec)

	p.hostReadLoop(ctx, dec, hl, mc, lobbyID)

	// Cleanup on disconnect or leave.
	cancel()
	hl.mu.Lock()
	delete(hl.members, remotePeer)
	hl.rec.Members = removeMember(hl.rec.Members, remotePeer)
	hl.rec.CurrentMembers = len(hl.rec.Members)
	rec = hl.rec.Clone()
	hl.mu.Unlock()
	_ = s.Close()

	log.Printf("LOBBY: %s left lobby %s (%d/%d)", remotePeer, lobbyID, rec.CurrentMembers, rec.MaxMembers)

	hl.broadcast(relayMsg{Type: TypeRoster, Lobby: lobbyID, Record: &rec}, "")
	p.announce(hl)
	p.notifyUpdate(rec)
}

func (p *RelayProvider) hostReadLoop(ctx context.Context, dec *json.Decoder, hl *hostedLobby, mc *memberConn, lobbyID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg relayMsg
		if err := dec.Decode(&msg); err != nil {
			return // disconnect
		}

		switch msg.Type {
		case TypeLeave:
			return
		case TypeMemberAttrs:
			// Members may only mutate their own record.
			hl.mu.Lock()
			applyMemberAttrs(hl.rec.Members, mc.peerID, msg.Attrs)
			rec := hl.rec.Clone()
			hl.mu.Unlock()
			hl.broadcast(relayMsg{Type: TypeRoster, Lobby: lobbyID, Record: &rec}, "")
			p.notifyUpdate(rec)
		}
	}
}

// broadcast holds the write lock: member encoders are not safe for
// concurrent use across reader goroutines.
func (hl *hostedLobby) broadcast(msg relayMsg, excludePeerID string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	for pid, mc := range hl.members {
		if pid == excludePeerID {
			continue
		}
		if err := mc.encoder.Encode(msg); err != nil {
			log.Printf("LOBBY: failed to send to %s: %v", pid, err)
		}
	}
}

func removeMember(members []Member, peerID string) []Member {
	out := members[:0]
	for _, m := range members {
		if m.PeerID != peerID {
			out = append(out, m)
		}
	}
	return out
}

func applyMemberAttrs(members []Member, peerID string, attrs map[string]string) {
	for i := range members {
		if members[i].PeerID != peerID {
			continue
		}
		if members[i].Attributes == nil {
			members[i].Attributes = map[string]string{}
		}
		for k, v := range attrs {
			members[i].Attributes[k] = v
		}
	}
}

// ─── Client side ─────────────────────────────────────────────────────────────

func (p *RelayProvider) Join(id string, member Member, done func(Record, error)) {
	p.mu.RLock()
	hostPeerID := ""
	if e, ok := p.directory[id]; ok {
		hostPeerID = e.rec.OwnerID
	}
	p.mu.RUnlock()
	if hostPeerID == "" {
		done(Record{}, fmt.Errorf("no known host for lobby %s", id))
		return
	}

	go func() {
		rec, err := p.dialAndJoin(hostPeerID, id, member)
		done(rec, err)
	}()
}

func (p *RelayProvider) dialAndJoin(hostPeerID, lobbyID string, member Member) (Record, error) {
	pid, err := peer.Decode(hostPeerID)
	if err != nil {
		return Record{}, fmt.Errorf("invalid host peer ID: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()

	// Best-effort connect; peerstore addresses come from presence.
	_ = p.host.Connect(ctx, peer.AddrInfo{ID: pid})

	stream, err := p.host.NewStream(ctx, pid, protocol.ID(wire.LobbyProtoID))
	if err != nil {
		return Record{}, fmt.Errorf("open lobby stream: %w", err)
	}

	enc := json.NewEncoder(stream)
	dec := json.NewDecoder(stream)

	if err := enc.Encode(relayMsg{Type: TypeJoin, Lobby: lobbyID, Member: &member}); err != nil {
		stream.Close()
		return Record{}, fmt.Errorf("send join: %w", err)
	}

	var welcome relayMsg
	if err := dec.Decode(&welcome); err != nil {
		stream.Close()
		return Record{}, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type == TypeError {
		stream.Close()
		if welcome.Error != nil {
			return Record{}, fmt.Errorf("join rejected: %s", welcome.Error.Message)
		}
		return Record{}, fmt.Errorf("join rejected")
	}
	if welcome.Type != TypeWelcome || welcome.Record == nil {
		stream.Close()
		return Record{}, fmt.Errorf("unexpected response type: %s", welcome.Type)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	cc := &clientConn{
		lobbyID:    lobbyID,
		hostPeerID: hostPeerID,
		stream:     stream,
		encoder:    enc,
		cancel:     connCancel,
	}

	p.mu.Lock()
	p.conns[lobbyID] = cc
	p.mu.Unlock()

	go p.clientReadLoop(connCtx, dec, cc)

	return welcome.Record.Clone(), nil
}

func (p *RelayProvider) clientReadLoop(ctx context.Context, dec *json.Decoder, cc *clientConn) {
	defer func() {
		p.mu.Lock()
		if p.conns[cc.lobbyID] == cc {
			delete(p.conns, cc.lobbyID)
		}
		p.mu.Unlock()
		_ = cc.stream.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg relayMsg
		if err := dec.Decode(&msg); err != nil {
			log.Printf("LOBBY: connection to host of %s lost: %v", cc.lobbyID, err)
			p.notifyClosed(cc.lobbyID, "connection to host lost")
			return
		}

		switch msg.Type {
		case TypeClose:
			log.Printf("LOBBY: lobby %s closed by host", cc.lobbyID)
			p.notifyClosed(cc.lobbyID, "closed by host")
			cc.cancel()
			return
		case TypeRoster:
			if msg.Record != nil {
				p.notifyUpdate(msg.Record.Clone())
			}
		}
	}
}

func (p *RelayProvider) Leave(id string) {
	p.mu.Lock()
	cc, isClient := p.conns[id]
	if isClient {
		delete(p.conns, id)
	}
	_, isHosted := p.hosted[id]
	p.mu.Unlock()

	if isClient {
		_ = cc.encoder.Encode(relayMsg{Type: TypeLeave, Lobby: id})
		cc.cancel()
		_ = cc.stream.Close()
		log.Printf("LOBBY: left lobby %s", id)
		return
	}
	// The owner leaving a hosted lobby closes it.
	if isHosted {
		p.Destroy(id)
	}
}

// ─── Attributes ──────────────────────────────────────────────────────────────

func (p *RelayProvider) SetAttributes(id string, attrs map[string]string) error {
	p.mu.RLock()
	hl, ok := p.hosted[id]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("not hosting lobby %s", id)
	}

	hl.mu.Lock()
	if hl.rec.Attributes == nil {
		hl.rec.Attributes = map[string]string{}
	}
	for k, v := range attrs {
		hl.rec.Attributes[k] = v
	}
	rec := hl.rec.Clone()
	hl.mu.Unlock()

	hl.broadcast(relayMsg{Type: TypeRoster, Lobby: id, Record: &rec}, "")
	p.announce(hl)
	p.notifyUpdate(rec)
	return nil
}

func (p *RelayProvider) SetMemberAttributes(id, peerID string, attrs map[string]string) error {
	p.mu.RLock()
	hl, isHosted := p.hosted[id]
	cc, isClient := p.conns[id]
	p.mu.RUnlock()

	if isHosted {
		// The owner edits its own member record in place.
		hl.mu.Lock()
		applyMemberAttrs(hl.rec.Members, peerID, attrs)
		rec := hl.rec.Clone()
		hl.mu.Unlock()
		hl.broadcast(relayMsg{Type: TypeRoster, Lobby: id, Record: &rec}, "")
		p.notifyUpdate(rec)
		return nil
	}
	if isClient {
		return cc.encoder.Encode(relayMsg{Type: TypeMemberAttrs, Lobby: id, Attrs: attrs})
	}
	return fmt.Errorf("not in lobby %s", id)
}

// ─── Directory ───────────────────────────────────────────────────────────────

func (p *RelayProvider) Find(id string, done func(*Record, error)) {
	p.mu.RLock()
	if hl, ok := p.hosted[id]; ok {
		p.mu.RUnlock()
		hl.mu.RLock()
		rec := hl.rec.Clone()
		hl.mu.RUnlock()
		done(&rec, nil)
		return
	}
	e, ok := p.directory[id]
	p.mu.RUnlock()
	if ok && time.Since(e.seen) <= directoryTTL {
		rec := e.rec.Clone()
		done(&rec, nil)
		return
	}
	done(nil, nil)
}

func (p *RelayProvider) Search(filters map[string]string, done func([]Record, error)) {
	var out []Record

	p.mu.RLock()
	for _, hl := range p.hosted {
		hl.mu.RLock()
		rec := hl.rec.Clone()
		hl.mu.RUnlock()
		if !rec.IsPrivate && matchesFilters(rec.Attributes, filters) {
			out = append(out, rec)
		}
	}
	for _, e := range p.directory {
		if time.Since(e.seen) > directoryTTL {
			continue
		}
		if !e.rec.IsPrivate && matchesFilters(e.rec.Attributes, filters) {
			out = append(out, e.rec.Clone())
		}
	}
	p.mu.RUnlock()

	done(out, nil)
}

func matchesFilters(attrs, filters map[string]string) bool {
	for k, v := range filters {
		if attrs[k] != v {
			return false
		}
	}
	return true
}

// HandleAnnounce folds a directory announcement into the local view. Wired
// to the lobby pubsub topic.
func (p *RelayProvider) HandleAnnounce(ann wire.LobbyAnnounce) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ann.Type == wire.AnnounceTypeRetract {
		delete(p.directory, ann.LobbyID)
		return
	}

	kind := KindMatch
	if ann.Attributes[AttrType] == TypeParty {
		kind = KindParty
	}
	p.directory[ann.LobbyID] = dirEntry{
		rec: Record{
			ID:             ann.LobbyID,
			Kind:           kind,
			OwnerID:        ann.OwnerID,
			MaxMembers:     ann.MaxMembers,
			CurrentMembers: ann.Members,
			IsPrivate:      ann.Private,
			Attributes:     cloneAttrs(ann.Attributes),
		},
		seen: time.Now(),
	}
}

// AnnounceHosted re-publishes every hosted lobby. Called on the presence
// heartbeat so directory entries stay fresh.
func (p *RelayProvider) AnnounceHosted(ctx context.Context) {
	p.mu.RLock()
	lobbies := make([]*hostedLobby, 0, len(p.hosted))
	for _, hl := range p.hosted {
		lobbies = append(lobbies, hl)
	}
	p.mu.RUnlock()

	for _, hl := range lobbies {
		p.announce(hl)
	}
}

func (p *RelayProvider) announce(hl *hostedLobby) {
	if p.announcer == nil {
		return
	}
	hl.mu.RLock()
	rec := hl.rec
	ann := wire.LobbyAnnounce{
		Type:       wire.AnnounceTypeAnnounce,
		LobbyID:    rec.ID,
		OwnerID:    rec.OwnerID,
		MaxMembers: rec.MaxMembers,
		Members:    rec.CurrentMembers,
		Private:    rec.IsPrivate,
		Attributes: cloneAttrs(rec.Attributes),
		TS:         wire.NowMillis(),
	}
	hl.mu.RUnlock()
	p.announcer.PublishLobby(context.Background(), ann)
}

func (p *RelayProvider) retract(rec Record) {
	if p.announcer == nil {
		return
	}
	p.announcer.PublishLobby(context.Background(), wire.LobbyAnnounce{
		Type:    wire.AnnounceTypeRetract,
		LobbyID: rec.ID,
		OwnerID: rec.OwnerID,
		TS:      wire.NowMillis(),
	})
}

// Close shuts down all hosted lobbies and client connections.
func (p *RelayProvider) Close() error {
	p.mu.Lock()
	hosted := p.hosted
	conns := p.conns
	p.hosted = make(map[string]*hostedLobby)
	p.conns = make(map[string]*clientConn)
	p.mu.Unlock()

	for id, hl := range hosted {
		hl.mu.Lock()
		for _, mc := range hl.members {
			_ = mc.encoder.Encode(relayMsg{Type: TypeClose, Lobby: id})
			mc.cancel()
			_ = mc.stream.Close()
		}
		hl.members = nil
		hl.mu.Unlock()
	}
	for _, cc := range conns {
		cc.cancel()
		_ = cc.stream.Close()
	}
	return nil
}
