package social

import (
	"context"
	"fmt"
	"log"

	"github.com/arshadbarves/reciperage-net/internal/storage"
	"github.com/arshadbarves/reciperage-net/internal/util"
	"github.com/arshadbarves/reciperage-net/internal/wire"

	"github.com/google/uuid"
)

// Chat message kinds.
const (
	ChatKindText   = "text"
	ChatKindInvite = "game_invite"
)

// historyFor returns the in-memory ring for one peer, loading it from
// disk on first touch.
func (m *Manager) historyFor(peerID string) *util.RingBuffer[storage.ChatRecord] {
	if ring, ok := m.histories[peerID]; ok {
		return ring
	}
	ring := util.NewRingBuffer[storage.ChatRecord](maxChatHistory)
	if m.chats != nil {
		records, err := m.chats.LoadHistory(peerID)
		if err != nil {
			log.Printf("SOCIAL: load chat history for %s: %v", peerID, err)
		} else if len(records) > 0 {
			ring.Replace(records)
		}
	}
	m.histories[peerID] = ring
	return ring
}

func (m *Manager) loadUnreadLocked() {
	if m.unreadLoaded || m.chats == nil {
		m.unreadLoaded = true
		return
	}
	counts, err := m.chats.LoadUnreadCounts()
	if err != nil {
		log.Printf("SOCIAL: load unread counts: %v", err)
	} else {
		for k, v := range counts {
			m.unread[k] = v
		}
	}
	m.unreadLoaded = true
}

// persistHistory snapshots one ring to disk. Every mutation persists so a
// crash never loses chat.
func (m *Manager) persistHistory(peerID string, ring *util.RingBuffer[storage.ChatRecord]) {
	if m.chats == nil {
		return
	}
	if err := m.chats.SaveHistory(peerID, ring.Snapshot()); err != nil {
		log.Printf("SOCIAL: save chat history for %s: %v", peerID, err)
	}
}

func (m *Manager) persistUnreadLocked() {
	if m.chats == nil {
		return
	}
	counts := make(map[string]int, len(m.unread))
	for k, v := range m.unread {
		counts[k] = v
	}
	if err := m.chats.SaveUnreadCounts(counts); err != nil {
		log.Printf("SOCIAL: save unread counts: %v", err)
	}
}

// SendChat sends a text message to a peer. The outbound copy lands in
// history as read before delivery is attempted.
func (m *Manager) SendChat(ctx context.Context, toPeerID, content string) (storage.ChatRecord, error) {
	if content == "" {
		return storage.ChatRecord{}, fmt.Errorf("empty chat message")
	}
	return m.sendChatRecord(ctx, toPeerID, content, ChatKindText, nil)
}

// SendGameInvite invites a peer to the given lobby through the chat
// channel.
func (m *Manager) SendGameInvite(ctx context.Context, toPeerID, lobbyID string) (storage.ChatRecord, error) {
	if lobbyID == "" {
		return storage.ChatRecord{}, fmt.Errorf("game invite needs a lobby ID")
	}
	extra := map[string]string{"lobbyId": lobbyID}
	return m.sendChatRecord(ctx, toPeerID, "Join my game!", ChatKindInvite, extra)
}

func (m *Manager) sendChatRecord(ctx context.Context, toPeerID, content, kind string, extra map[string]string) (storage.ChatRecord, error) {
	rec := storage.ChatRecord{
		ID:         uuid.NewString(),
		SenderID:   m.selfID,
		ReceiverID: toPeerID,
		Content:    content,
		SentAt:     wire.NowMillis(),
		Read:       true,
		Kind:       kind,
		Extra:      extra,
	}

	m.mu.Lock()
	ring := m.historyFor(toPeerID)
	ring.Push(rec)
	m.persistHistory(toPeerID, ring)
	m.mu.Unlock()

	msg := wire.ChatMsg{
		MessageID:  rec.ID,
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Content:    rec.Content,
		SentAt:     rec.SentAt,
		Kind:       kind,
		Extra:      extra,
	}
	typ := wire.SocialChatMessage
	if kind == ChatKindInvite {
		typ = wire.SocialGameInvite
	}
	if err := m.send(ctx, toPeerID, typ, msg); err != nil {
		return rec, fmt.Errorf("deliver chat to %s: %w", toPeerID, err)
	}
	return rec, nil
}

func (m *Manager) handleChat(remote string, msg wire.ChatMsg) {
	// Routing must match the stream: claimed sender is the remote peer and
	// we are the receiver.
	if msg.SenderID != remote {
		log.Printf("SOCIAL: chat from %s claims sender %s, dropped", remote, msg.SenderID)
		return
	}
	if msg.ReceiverID != m.selfID {
		log.Printf("SOCIAL: chat %s addressed to %s, dropped", msg.MessageID, msg.ReceiverID)
		return
	}

	if msg.Kind == "" {
		msg.Kind = ChatKindText
	}
	rec, count := m.storeInbound(remote, msg)
	m.notifyChat(rec)
	m.notifyUnread(remote, count)
}

func (m *Manager) handleGameInvite(remote string, msg wire.ChatMsg) {
	if msg.SenderID != remote || msg.ReceiverID != m.selfID {
		log.Printf("SOCIAL: game invite from %s with bad routing, dropped", remote)
		return
	}
	lobbyID := msg.Extra["lobbyId"]
	if lobbyID == "" {
		log.Printf("SOCIAL: game invite from %s without a lobby, dropped", remote)
		return
	}

	// Invites also land in chat history so they survive restarts.
	msg.Kind = ChatKindInvite
	rec, count := m.storeInbound(remote, msg)
	m.notifyChat(rec)
	m.notifyUnread(remote, count)

	log.Printf("SOCIAL: game invite from %s for lobby %s", remote, lobbyID)
	m.notifyGameInvite(remote, lobbyID)
}

// storeInbound appends an inbound message to history, bumps the unread
// counter and persists both.
func (m *Manager) storeInbound(remote string, msg wire.ChatMsg) (storage.ChatRecord, int) {
	rec := storage.ChatRecord{
		ID:         msg.MessageID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		SentAt:     msg.SentAt,
		Read:       false,
		Kind:       msg.Kind,
		Extra:      msg.Extra,
	}

	m.mu.Lock()
	ring := m.historyFor(remote)
	ring.Push(rec)
	m.persistHistory(remote, ring)
	m.loadUnreadLocked()
	m.unread[remote]++
	count := m.unread[remote]
	m.persistUnreadLocked()
	m.mu.Unlock()

	return rec, count
}

// History returns the chat history with one peer, oldest first.
func (m *Manager) History(peerID string) []storage.ChatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyFor(peerID).Snapshot()
}

// UnreadCount returns how many unread messages a peer has sent us.
func (m *Manager) UnreadCount(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadUnreadLocked()
	return m.unread[peerID]
}

// UnreadCounts returns all nonzero unread counters.
func (m *Manager) UnreadCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadUnreadLocked()
	out := make(map[string]int, len(m.unread))
	for k, v := range m.unread {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// MarkRead clears the unread counter for a peer and flags their messages
// read.
func (m *Manager) MarkRead(peerID string) {
	m.mu.Lock()
	m.loadUnreadLocked()
	changed := m.unread[peerID] != 0
	delete(m.unread, peerID)
	if changed {
		m.persistUnreadLocked()
	}

	ring := m.historyFor(peerID)
	records := ring.Snapshot()
	dirty := false
	for i := range records {
		if !records[i].Read {
			records[i].Read = true
			dirty = true
		}
	}
	if dirty {
		ring.Replace(records)
		m.persistHistory(peerID, ring)
	}
	m.mu.Unlock()

	if changed {
		m.notifyUnread(peerID, 0)
	}
}

func (m *Manager) notifyChat(rec storage.ChatRecord) {
	m.mu.Lock()
	obs := make([]func(storage.ChatRecord), len(m.onChat))
	copy(obs, m.onChat)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(rec)
	}
}

func (m *Manager) notifyUnread(peerID string, count int) {
	m.mu.Lock()
	obs := make([]func(string, int), len(m.onUnread))
	copy(obs, m.onUnread)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(peerID, count)
	}
}

func (m *Manager) notifyGameInvite(fromID, lobbyID string) {
	m.mu.Lock()
	obs := make([]func(string, string), len(m.onGameInvite))
	copy(obs, m.onGameInvite)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(fromID, lobbyID)
	}
}
