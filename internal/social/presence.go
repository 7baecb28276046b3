package social

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/wire"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// Activity labels carried in presence updates.
const (
	ActivityMenu  = "In Menu"
	ActivityLobby = "In Lobby"
	ActivityGame  = "In Game"
)

// PeerPresence is the last known state of one peer.
type PeerPresence struct {
	PeerID   string
	Name     string
	Status   string
	Activity string
	Joinable bool
	JoinData string
	LastSeen time.Time
}

// PresenceTable tracks peer liveness from pubsub presence messages. Peers
// silent for longer than staleAfter go offline exactly once; the sweep
// itself runs at most once per sweepInterval.
type PresenceTable struct {
	staleAfter    time.Duration
	sweepInterval time.Duration

	mu        sync.Mutex
	peers     map[string]*PeerPresence
	lastSweep time.Time

	onChanged []func(p PeerPresence)
}

func NewPresenceTable(staleAfter, sweepInterval time.Duration) *PresenceTable {
	return &PresenceTable{
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
		peers:         make(map[string]*PeerPresence),
	}
}

// OnChanged registers an observer fired on every presence transition,
// including sweep-detected offline peers.
func (t *PresenceTable) OnChanged(fn func(p PeerPresence)) {
	t.mu.Lock()
	t.onChanged = append(t.onChanged, fn)
	t.mu.Unlock()
}

// Apply folds one presence message into the table.
func (t *PresenceTable) Apply(msg wire.PresenceMsg, now time.Time) {
	t.mu.Lock()
	p, ok := t.peers[msg.PeerID]
	if !ok {
		p = &PeerPresence{PeerID: msg.PeerID}
		t.peers[msg.PeerID] = p
	}
	if msg.Name != "" {
		p.Name = msg.Name
	}
	switch msg.Type {
	case wire.PresenceOffline:
		p.Status = StatusOffline
		p.Joinable = false
		p.JoinData = ""
	default:
		if msg.Status != "" {
			p.Status = msg.Status
		} else {
			p.Status = StatusOnline
		}
		p.Activity = msg.Activity
		p.Joinable = msg.Joinable
		p.JoinData = msg.JoinData
	}
	p.LastSeen = now
	snapshot := *p
	t.mu.Unlock()

	t.notify(snapshot)
}

// Peer returns a copy of one peer's presence.
func (t *PresenceTable) Peer(peerID string) (PeerPresence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peerID]
	if !ok {
		return PeerPresence{}, false
	}
	return *p, true
}

// Peers returns all known peers sorted by ID.
func (t *PresenceTable) Peers() []PeerPresence {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerPresence, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// OnlineCount returns how many peers are not offline.
func (t *PresenceTable) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.peers {
		if p.Status != StatusOffline {
			n++
		}
	}
	return n
}

// Tick sweeps for stale peers. Cheap when called every tick: the sweep
// only runs once per sweep interval.
func (t *PresenceTable) Tick(now time.Time) {
	t.mu.Lock()
	if now.Sub(t.lastSweep) < t.sweepInterval {
		t.mu.Unlock()
		return
	}
	t.lastSweep = now

	var wentOffline []PeerPresence
	for _, p := range t.peers {
		if p.Status == StatusOffline {
			continue
		}
		if now.Sub(p.LastSeen) >= t.staleAfter {
			p.Status = StatusOffline
			p.Joinable = false
			p.JoinData = ""
			wentOffline = append(wentOffline, *p)
		}
	}
	t.mu.Unlock()

	for _, p := range wentOffline {
		log.Printf("SOCIAL: %s (%s) went stale, marking offline", p.Name, p.PeerID)
		t.notify(p)
	}
}

func (t *PresenceTable) notify(p PeerPresence) {
	t.mu.Lock()
	obs := make([]func(PeerPresence), len(t.onChanged))
	copy(obs, t.onChanged)
	t.mu.Unlock()
	for _, fn := range obs {
		fn(p)
	}
}
