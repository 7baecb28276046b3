package roster

import (
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/arshadbarves/reciperage-net/internal/lobby"
)

// Team is the side a player fights on.
type Team int

const (
	TeamA Team = 0
	TeamB Team = 1
)

func (t Team) String() string {
	if t == TeamB {
		return "TeamB"
	}
	return "TeamA"
}

// CharacterClass is the kitchen role a player picked.
type CharacterClass int

const (
	Chef CharacterClass = iota
	Waiter
	Dishwasher
	Manager
)

func (c CharacterClass) String() string {
	switch c {
	case Chef:
		return "Chef"
	case Waiter:
		return "Waiter"
	case Dishwasher:
		return "Dishwasher"
	case Manager:
		return "Manager"
	default:
		return "Unknown"
	}
}

// PlayerInfo is the registry view of one lobby member.
type PlayerInfo struct {
	PeerID      string
	DisplayName string
	IsReady     bool
	Team        Team
	Character   CharacterClass
	IsOwner     bool
	IsLocal     bool
}

// Lobbies is the slice of the lobby orchestrator the registry needs.
type Lobbies interface {
	SelfID() string
	SetMemberAttribute(kind lobby.Kind, key, value string) error
}

// Registry derives per-player state from lobby rosters. It never holds
// authoritative data: Rebuild replaces everything from the latest snapshot.
// Player lookups also consult a cache of everyone seen this session, so
// info about a peer survives that peer dropping out of the lobby.
type Registry struct {
	lobbies Lobbies

	mu      sync.RWMutex
	kind    lobby.Kind
	players map[string]*PlayerInfo
	order   []string
	known   map[string]PlayerInfo

	onChanged []func(players []PlayerInfo)
}

func NewRegistry(l Lobbies) *Registry {
	return &Registry{
		lobbies: l,
		players: make(map[string]*PlayerInfo),
		known:   make(map[string]PlayerInfo),
	}
}

// OnChanged registers an observer fired with the full roster after every
// rebuild.
func (r *Registry) OnChanged(fn func(players []PlayerInfo)) {
	r.mu.Lock()
	r.onChanged = append(r.onChanged, fn)
	r.mu.Unlock()
}

// Rebuild replaces the whole registry from a lobby snapshot. Called on
// every lobby change notification.
func (r *Registry) Rebuild(kind lobby.Kind, rec lobby.Record) {
	r.mu.Lock()
	r.kind = kind
	r.players = make(map[string]*PlayerInfo, len(rec.Members))
	r.order = r.order[:0]

	selfID := r.lobbies.SelfID()
	for _, m := range rec.Members {
		info := &PlayerInfo{
			PeerID:      m.PeerID,
			DisplayName: m.DisplayName,
			IsReady:     m.Attributes[lobby.MemberAttrReady] == "true",
			Team:        parseTeam(m.Attributes[lobby.MemberAttrTeam]),
			Character:   parseCharacter(m.Attributes[lobby.MemberAttrCharacter]),
			IsOwner:     m.PeerID == rec.OwnerID,
			IsLocal:     m.PeerID == selfID,
		}
		r.players[m.PeerID] = info
		r.order = append(r.order, m.PeerID)
		r.known[m.PeerID] = *info
	}
	r.mu.Unlock()

	r.notifyChanged()
}

// Clear empties the registry. Called when the tracked lobby goes away.
// The seen-player cache is kept.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.players = make(map[string]*PlayerInfo)
	r.order = r.order[:0]
	r.mu.Unlock()

	r.notifyChanged()
}

func (r *Registry) notifyChanged() {
	players := r.Players()
	r.mu.RLock()
	obs := make([]func([]PlayerInfo), len(r.onChanged))
	copy(obs, r.onChanged)
	r.mu.RUnlock()
	for _, fn := range obs {
		fn(players)
	}
}

// Player returns a copy of one player's info. Peers no longer in the
// lobby resolve to their last seen state.
func (r *Registry) Player(peerID string) (PlayerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.players[peerID]; ok {
		return *p, true
	}
	p, ok := r.known[peerID]
	return p, ok
}

// Players returns all players in lobby roster order.
func (r *Registry) Players() []PlayerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PlayerInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.players[id])
	}
	return out
}

// TeamMembers returns the players on one team, sorted by peer ID for a
// stable order.
func (r *Registry) TeamMembers(team Team) []PlayerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PlayerInfo
	for _, id := range r.order {
		if r.players[id].Team == team {
			out = append(out, *r.players[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// AllReady reports whether the roster is non-empty and every player is
// ready.
func (r *Registry) AllReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// SetLocalReady updates the local player's ready flag and writes it
// through to the lobby.
func (r *Registry) SetLocalReady(ready bool) error {
	return r.setLocalAttr(lobby.MemberAttrReady, strconv.FormatBool(ready))
}

// SetLocalTeam moves the local player to a team.
func (r *Registry) SetLocalTeam(team Team) error {
	return r.setLocalAttr(lobby.MemberAttrTeam, strconv.Itoa(int(team)))
}

// SetLocalCharacter picks the local player's character class.
func (r *Registry) SetLocalCharacter(c CharacterClass) error {
	return r.setLocalAttr(lobby.MemberAttrCharacter, strconv.Itoa(int(c)))
}

func (r *Registry) setLocalAttr(key, value string) error {
	r.mu.Lock()
	kind := r.kind
	selfID := r.lobbies.SelfID()
	if p, ok := r.players[selfID]; ok {
		switch key {
		case lobby.MemberAttrReady:
			p.IsReady = value == "true"
		case lobby.MemberAttrTeam:
			p.Team = parseTeam(value)
		case lobby.MemberAttrCharacter:
			p.Character = parseCharacter(value)
		}
		r.known[selfID] = *p
	}
	r.mu.Unlock()

	if err := r.lobbies.SetMemberAttribute(kind, key, value); err != nil {
		log.Printf("ROSTER: write-through of %s failed: %v", key, err)
		return err
	}
	return nil
}

func parseTeam(s string) Team {
	n, err := strconv.Atoi(s)
	if err != nil || (n != 0 && n != 1) {
		return TeamA
	}
	return Team(n)
}

func parseCharacter(s string) CharacterClass {
	n, err := strconv.Atoi(s)
	if err != nil || n < int(Chef) || n > int(Manager) {
		return Chef
	}
	return CharacterClass(n)
}
