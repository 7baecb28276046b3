package social

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/arshadbarves/reciperage-net/internal/storage"
	"github.com/arshadbarves/reciperage-net/internal/wire"

	"github.com/google/uuid"
)

// Request status values in the friend_requests table.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// SendFriendRequest creates a friend request for a peer and tries to
// deliver it. The request is persisted before the send, so a failed
// delivery still counts as sent and can be retried later.
func (m *Manager) SendFriendRequest(ctx context.Context, toPeerID string) (string, error) {
	if toPeerID == m.selfID {
		return "", fmt.Errorf("cannot befriend yourself")
	}
	if _, isFriend, err := m.db.GetFriend(toPeerID); err != nil {
		return "", fmt.Errorf("check friend: %w", err)
	} else if isFriend {
		return "", fmt.Errorf("%s is already a friend", toPeerID)
	}
	if pending, err := m.db.HasPendingBetween(m.selfID, toPeerID); err != nil {
		return "", fmt.Errorf("check pending: %w", err)
	} else if pending {
		return "", fmt.Errorf("friend request to %s already pending", toPeerID)
	}

	req := wire.FriendRequestMsg{
		RequestID: uuid.NewString(),
		FromID:    m.selfID,
		FromName:  m.selfName,
		ToID:      toPeerID,
		SentAt:    wire.NowMillis(),
	}
	if err := m.db.SaveRequest(storage.RequestRow{
		ID:        req.RequestID,
		FromID:    req.FromID,
		FromName:  req.FromName,
		ToID:      req.ToID,
		Status:    RequestPending,
		CreatedAt: req.SentAt,
	}); err != nil {
		return "", fmt.Errorf("persist request: %w", err)
	}

	if err := m.send(ctx, toPeerID, wire.SocialFriendRequest, req); err != nil {
		// The peer may be offline. The stored request is retried by
		// ResendPending once they come back.
		log.Printf("SOCIAL: friend request %s stored, delivery deferred: %v", req.RequestID, err)
	}
	return req.RequestID, nil
}

// SendFriendRequestByCode resolves a friend code and sends a request to
// its owner. The format check runs before any lookup.
func (m *Manager) SendFriendRequestByCode(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !ValidFriendCode(code) {
		return "", fmt.Errorf("invalid friend code format: %q", code)
	}
	peerID, ok, err := m.db.PeerByCode(code)
	if err != nil {
		return "", fmt.Errorf("look up code: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("no peer known for code %s", code)
	}
	return m.SendFriendRequest(ctx, peerID)
}

// ResendPending re-delivers stored outgoing requests to one peer. Called
// when a peer comes online. The receiver drops duplicates by request ID.
func (m *Manager) ResendPending(ctx context.Context, peerID string) {
	rows, err := m.db.PendingRequests()
	if err != nil {
		log.Printf("SOCIAL: list pending requests: %v", err)
		return
	}
	for _, row := range rows {
		if row.FromID != m.selfID || row.ToID != peerID {
			continue
		}
		req := wire.FriendRequestMsg{
			RequestID: row.ID,
			FromID:    row.FromID,
			FromName:  row.FromName,
			ToID:      row.ToID,
			SentAt:    row.CreatedAt,
		}
		if err := m.send(ctx, peerID, wire.SocialFriendRequest, req); err != nil {
			log.Printf("SOCIAL: resend of request %s failed: %v", row.ID, err)
		}
	}
}

func (m *Manager) handleFriendRequest(remote string, msg wire.FriendRequestMsg) {
	// A request must come from its claimed sender and be addressed to us.
	if msg.FromID != remote {
		log.Printf("SOCIAL: friend request from %s claims sender %s, dropped", remote, msg.FromID)
		return
	}
	if msg.ToID != m.selfID {
		log.Printf("SOCIAL: friend request %s addressed to %s, dropped", msg.RequestID, msg.ToID)
		return
	}

	if _, exists, err := m.db.GetRequest(msg.RequestID); err != nil {
		log.Printf("SOCIAL: look up request %s: %v", msg.RequestID, err)
		return
	} else if exists {
		return // duplicate delivery
	}

	if err := m.db.SaveRequest(storage.RequestRow{
		ID:        msg.RequestID,
		FromID:    msg.FromID,
		FromName:  msg.FromName,
		ToID:      msg.ToID,
		Status:    RequestPending,
		CreatedAt: msg.SentAt,
	}); err != nil {
		log.Printf("SOCIAL: persist incoming request %s: %v", msg.RequestID, err)
		return
	}

	log.Printf("SOCIAL: friend request from %s (%s)", msg.FromName, msg.FromID)
	m.notifyFriendRequest(msg)
}

// AcceptFriendRequest accepts a stored incoming request by ID.
func (m *Manager) AcceptFriendRequest(ctx context.Context, requestID string) error {
	row, err := m.respondableRequest(requestID)
	if err != nil {
		return err
	}

	if err := m.db.UpdateRequestStatus(requestID, RequestAccepted); err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if err := m.db.UpsertFriend(storage.FriendRow{PeerID: row.FromID, DisplayName: row.FromName}); err != nil {
		return fmt.Errorf("store friend: %w", err)
	}

	resp := wire.FriendRespondMsg{RequestID: requestID, FromID: m.selfID, ToID: row.FromID}
	if err := m.send(ctx, row.FromID, wire.SocialFriendAccept, resp); err != nil {
		log.Printf("SOCIAL: accept of %s stored, delivery failed: %v", requestID, err)
	}

	log.Printf("SOCIAL: accepted friend request from %s", row.FromName)
	m.notifyFriendAccepted(row.FromID)
	return nil
}

// RejectFriendRequest declines a stored incoming request by ID.
func (m *Manager) RejectFriendRequest(ctx context.Context, requestID string) error {
	row, err := m.respondableRequest(requestID)
	if err != nil {
		return err
	}

	if err := m.db.UpdateRequestStatus(requestID, RequestRejected); err != nil {
		return fmt.Errorf("update request: %w", err)
	}

	resp := wire.FriendRespondMsg{RequestID: requestID, FromID: m.selfID, ToID: row.FromID}
	if err := m.send(ctx, row.FromID, wire.SocialFriendReject, resp); err != nil {
		log.Printf("SOCIAL: rejection of %s stored, delivery failed: %v", requestID, err)
	}
	return nil
}

// respondableRequest loads a request and checks the local peer may answer
// it.
func (m *Manager) respondableRequest(requestID string) (storage.RequestRow, error) {
	row, ok, err := m.db.GetRequest(requestID)
	if err != nil {
		return storage.RequestRow{}, fmt.Errorf("load request: %w", err)
	}
	if !ok {
		return storage.RequestRow{}, fmt.Errorf("no such friend request: %s", requestID)
	}
	if row.ToID != m.selfID {
		return storage.RequestRow{}, fmt.Errorf("request %s is not addressed to this peer", requestID)
	}
	if row.Status != RequestPending {
		return storage.RequestRow{}, fmt.Errorf("request %s already %s", requestID, row.Status)
	}
	return row, nil
}

func (m *Manager) handleFriendAccept(remote string, msg wire.FriendRespondMsg) {
	if msg.FromID != remote {
		log.Printf("SOCIAL: accept from %s claims sender %s, dropped", remote, msg.FromID)
		return
	}
	row, ok, err := m.db.GetRequest(msg.RequestID)
	if err != nil || !ok {
		log.Printf("SOCIAL: accept for unknown request %s", msg.RequestID)
		return
	}
	// Only the original receiver may answer our request.
	if row.FromID != m.selfID || row.ToID != remote {
		log.Printf("SOCIAL: accept of %s from wrong peer %s, dropped", msg.RequestID, remote)
		return
	}

	if err := m.db.UpdateRequestStatus(msg.RequestID, RequestAccepted); err != nil {
		log.Printf("SOCIAL: update request %s: %v", msg.RequestID, err)
	}
	if err := m.db.UpsertFriend(storage.FriendRow{PeerID: remote}); err != nil {
		log.Printf("SOCIAL: store friend %s: %v", remote, err)
		return
	}

	log.Printf("SOCIAL: %s accepted our friend request", remote)
	m.notifyFriendAccepted(remote)
}

func (m *Manager) handleFriendReject(remote string, msg wire.FriendRespondMsg) {
	if msg.FromID != remote {
		return
	}
	row, ok, err := m.db.GetRequest(msg.RequestID)
	if err != nil || !ok {
		return
	}
	if row.FromID != m.selfID || row.ToID != remote {
		return
	}

	if err := m.db.UpdateRequestStatus(msg.RequestID, RequestRejected); err != nil {
		log.Printf("SOCIAL: update request %s: %v", msg.RequestID, err)
	}
	log.Printf("SOCIAL: %s declined our friend request", remote)
	m.notifyFriendRejected(msg.RequestID)
}

// RemoveFriend deletes a friend locally and tells them, best effort.
func (m *Manager) RemoveFriend(ctx context.Context, peerID string) error {
	if err := m.db.RemoveFriend(peerID); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}

	resp := wire.FriendRespondMsg{FromID: m.selfID, ToID: peerID}
	if err := m.send(ctx, peerID, wire.SocialFriendRemove, resp); err != nil {
		log.Printf("SOCIAL: remove notice to %s failed: %v", peerID, err)
	}
	m.notifyFriendRemoved(peerID)
	return nil
}

func (m *Manager) handleFriendRemove(remote string, msg wire.FriendRespondMsg) {
	if msg.FromID != remote {
		return
	}
	if err := m.db.RemoveFriend(remote); err != nil {
		log.Printf("SOCIAL: remove friend %s: %v", remote, err)
		return
	}
	log.Printf("SOCIAL: %s removed us as a friend", remote)
	m.notifyFriendRemoved(remote)
}

// Friends lists stored friends.
func (m *Manager) Friends() ([]storage.FriendRow, error) {
	return m.db.ListFriends()
}

// PendingRequests lists stored pending requests, both directions.
func (m *Manager) PendingRequests() ([]storage.RequestRow, error) {
	return m.db.PendingRequests()
}

// RegisterFriendCode remembers which peer owns a friend code, learned
// from presence or manual exchange.
func (m *Manager) RegisterFriendCode(code, peerID string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !ValidFriendCode(code) {
		return fmt.Errorf("invalid friend code format: %q", code)
	}
	return m.db.RegisterCode(code, peerID)
}

func (m *Manager) notifyFriendRequest(req wire.FriendRequestMsg) {
	m.mu.Lock()
	obs := make([]func(wire.FriendRequestMsg), len(m.onFriendRequest))
	copy(obs, m.onFriendRequest)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(req)
	}
}

func (m *Manager) notifyFriendAccepted(peerID string) {
	m.mu.Lock()
	obs := make([]func(string), len(m.onFriendAccepted))
	copy(obs, m.onFriendAccepted)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(peerID)
	}
}

func (m *Manager) notifyFriendRejected(requestID string) {
	m.mu.Lock()
	obs := make([]func(string), len(m.onFriendRejected))
	copy(obs, m.onFriendRejected)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(requestID)
	}
}

func (m *Manager) notifyFriendRemoved(peerID string) {
	m.mu.Lock()
	obs := make([]func(string), len(m.onFriendRemoved))
	copy(obs, m.onFriendRemoved)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(peerID)
	}
}
