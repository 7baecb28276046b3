package social

import (
	"testing"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/wire"
)

func TestPresenceApply(t *testing.T) {
	pt := NewPresenceTable(5*time.Minute, 30*time.Second)

	now := time.Unix(1000, 0)
	pt.Apply(wire.PresenceMsg{
		Type: wire.PresenceOnline, PeerID: "peer-b", Name: "Bob",
		Activity: ActivityLobby, Joinable: true, JoinData: "lobby-1",
	}, now)

	p, ok := pt.Peer("peer-b")
	if !ok {
		t.Fatal("peer not tracked")
	}
	if p.Status != StatusOnline || p.Activity != ActivityLobby || !p.Joinable || p.JoinData != "lobby-1" {
		t.Errorf("presence = %+v", p)
	}
	if pt.OnlineCount() != 1 {
		t.Errorf("OnlineCount = %d, want 1", pt.OnlineCount())
	}

	pt.Apply(wire.PresenceMsg{Type: wire.PresenceOffline, PeerID: "peer-b"}, now)
	p, _ = pt.Peer("peer-b")
	if p.Status != StatusOffline || p.Joinable || p.JoinData != "" {
		t.Errorf("offline presence = %+v", p)
	}
	if p.Name != "Bob" {
		t.Error("offline must keep the display name")
	}
}

func TestPresenceTickSweepsStalePeersOnce(t *testing.T) {
	pt := NewPresenceTable(5*time.Minute, 30*time.Second)

	var offline []string
	pt.OnChanged(func(p PeerPresence) {
		if p.Status == StatusOffline {
			offline = append(offline, p.PeerID)
		}
	})

	base := time.Unix(1000, 0)
	pt.Apply(wire.PresenceMsg{Type: wire.PresenceOnline, PeerID: "peer-b", Name: "Bob"}, base)
	pt.Apply(wire.PresenceMsg{Type: wire.PresenceOnline, PeerID: "peer-c", Name: "Cleo"}, base.Add(4*time.Minute))

	// Under the stale threshold.
	pt.Tick(base.Add(4 * time.Minute))
	if len(offline) != 0 {
		t.Fatalf("premature offline: %v", offline)
	}

	// peer-b is now 5 minutes silent, peer-c only 1.
	pt.Tick(base.Add(5 * time.Minute))
	if len(offline) != 1 || offline[0] != "peer-b" {
		t.Fatalf("offline = %v, want [peer-b]", offline)
	}

	// Already offline peers are not re-notified.
	pt.Tick(base.Add(6 * time.Minute))
	if len(offline) != 1 {
		t.Errorf("stale peer notified twice: %v", offline)
	}
}

func TestPresenceSweepGatedByInterval(t *testing.T) {
	pt := NewPresenceTable(time.Minute, 30*time.Second)

	var offline int
	pt.OnChanged(func(p PeerPresence) {
		if p.Status == StatusOffline {
			offline++
		}
	})

	base := time.Unix(1000, 0)
	pt.Apply(wire.PresenceMsg{Type: wire.PresenceOnline, PeerID: "peer-b"}, base)

	pt.Tick(base.Add(30 * time.Second)) // sweeps, nothing stale
	// Stale now, but inside the sweep interval since the last sweep.
	pt.Tick(base.Add(45 * time.Second))
	pt.Tick(base.Add(59 * time.Second))
	if offline != 0 {
		t.Fatal("sweep ran inside the gate interval")
	}

	pt.Tick(base.Add(90 * time.Second))
	if offline != 1 {
		t.Fatalf("offline = %d, want 1", offline)
	}
}

func TestPresenceFreshUpdateRevives(t *testing.T) {
	pt := NewPresenceTable(time.Minute, time.Second)

	base := time.Unix(1000, 0)
	pt.Apply(wire.PresenceMsg{Type: wire.PresenceOnline, PeerID: "peer-b"}, base)
	pt.Tick(base.Add(2 * time.Minute))

	p, _ := pt.Peer("peer-b")
	if p.Status != StatusOffline {
		t.Fatal("peer should be swept offline")
	}

	pt.Apply(wire.PresenceMsg{Type: wire.PresenceUpdate, PeerID: "peer-b", Status: StatusOnline}, base.Add(3*time.Minute))
	p, _ = pt.Peer("peer-b")
	if p.Status != StatusOnline {
		t.Error("fresh update should revive the peer")
	}
}
