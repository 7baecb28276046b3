package transport

import (
	"testing"

	"github.com/arshadbarves/reciperage-net/internal/wire"
)

func newQueueOnlyManager() *Manager {
	return &Manager{
		selfID: "self",
		peers:  make(map[string]*peerConn),
	}
}

func (m *Manager) push(items ...queueItem) {
	m.mu.Lock()
	m.queue = append(m.queue, items...)
	m.mu.Unlock()
}

func TestDrainDeliversPacketsInOrder(t *testing.T) {
	m := newQueueOnlyManager()
	m.push(
		queueItem{inbound: &Inbound{From: "a", Packet: wire.Packet{Type: wire.MsgPlayerInput, Payload: []byte{1}}}},
		queueItem{inbound: &Inbound{From: "a", Packet: wire.Packet{Type: wire.MsgPlayerInput, Payload: []byte{2}}}},
		queueItem{inbound: &Inbound{From: "b", Packet: wire.Packet{Type: wire.MsgChatLine}}},
	)

	got := m.Drain(10)
	if len(got) != 3 {
		t.Fatalf("drained %d packets, want 3", len(got))
	}
	if got[0].Packet.Payload[0] != 1 || got[1].Packet.Payload[0] != 2 {
		t.Error("packets delivered out of order")
	}
	if got[2].From != "b" {
		t.Errorf("third packet from %s, want b", got[2].From)
	}
}

func TestDrainBounded(t *testing.T) {
	m := newQueueOnlyManager()
	for i := 0; i < 10; i++ {
		m.push(queueItem{inbound: &Inbound{From: "a", Packet: wire.Packet{Type: wire.MsgHeartbeat}}})
	}

	if got := m.Drain(4); len(got) != 4 {
		t.Fatalf("first drain returned %d, want 4", len(got))
	}
	if got := m.Drain(4); len(got) != 4 {
		t.Fatalf("second drain returned %d, want 4", len(got))
	}
	if got := m.Drain(4); len(got) != 2 {
		t.Fatalf("final drain returned %d, want 2", len(got))
	}
	if got := m.Drain(4); len(got) != 0 {
		t.Fatalf("empty drain returned %d, want 0", len(got))
	}
}

func TestDrainFiresConnectionEventsBeforePackets(t *testing.T) {
	m := newQueueOnlyManager()

	var order []string
	m.OnPeerConnected(func(id string) { order = append(order, "connect:"+id) })
	m.OnPeerDisconnected(func(id string) { order = append(order, "disconnect:"+id) })

	// First-seen peer: its connected event is queued ahead of its packet.
	m.push(
		queueItem{connected: "newpeer"},
		queueItem{inbound: &Inbound{From: "newpeer", Packet: wire.Packet{Type: wire.MsgHandshake}}},
		queueItem{disconnected: "newpeer"},
	)

	got := m.Drain(10)
	if len(got) != 1 {
		t.Fatalf("drained %d packets, want 1", len(got))
	}
	if len(order) != 2 || order[0] != "connect:newpeer" || order[1] != "disconnect:newpeer" {
		t.Errorf("observer order = %v", order)
	}
}

func TestHostLifecyclePreconditions(t *testing.T) {
	m := newQueueOnlyManager()

	if err := m.StartHost(); err != nil {
		t.Fatalf("StartHost: %v", err)
	}
	if !m.IsHost() {
		t.Error("IsHost = false after StartHost")
	}
	if err := m.StartHost(); err == nil {
		t.Error("second StartHost should fail while running")
	}

	m.Stop()
	if m.IsHost() {
		t.Error("IsHost = true after Stop")
	}
	// Stop on a stopped transport is a no-op.
	m.Stop()
}

func TestSendToUnknownPeerFails(t *testing.T) {
	m := newQueueOnlyManager()
	if err := m.Send("ghost", wire.Packet{Type: wire.MsgHeartbeat}); err == nil {
		t.Fatal("expected error sending to unregistered peer")
	}
}
