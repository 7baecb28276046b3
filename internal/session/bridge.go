package session

import (
	"fmt"
	"log"
	"sync"

	"github.com/arshadbarves/reciperage-net/internal/lobby"
)

// State is the game session lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateInGame
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateInGame:
		return "InGame"
	default:
		return "Idle"
	}
}

// Transport is the packet layer the bridge drives.
type Transport interface {
	SelfID() string
	StartHost() error
	StartClient(hostPeerID string) error
	Stop()
	IsHost() bool
}

// Lobbies is the slice of the lobby orchestrator the bridge consults.
type Lobbies interface {
	SelfID() string
	State(kind lobby.Kind) lobby.State
	SetPhase(kind lobby.Kind, p lobby.Phase)
	SetAttribute(kind lobby.Kind, key, value string) error
	Record(kind lobby.Kind) (lobby.Record, bool)
	Destroy(kind lobby.Kind)
	Leave(kind lobby.Kind)
	IsOwner(kind lobby.Kind) bool
}

// Bridge turns a filled match lobby into a running game session. The
// lobby owner hosts; everyone else connects to the owner. There is no
// host migration: the host going away ends the session for everyone.
type Bridge struct {
	transport Transport
	lobbies   Lobbies

	mu         sync.Mutex
	state      State
	hostPeerID string

	onStarted     []func(isHost bool)
	onStartFailed []func(reason string)
	onEnded       []func(reason string)
	onPlayerLeft  []func(peerID string)
}

func NewBridge(t Transport, l Lobbies) *Bridge {
	return &Bridge{transport: t, lobbies: l}
}

// OnStarted registers an observer fired once the session transport is up.
func (b *Bridge) OnStarted(fn func(isHost bool)) {
	b.mu.Lock()
	b.onStarted = append(b.onStarted, fn)
	b.mu.Unlock()
}

// OnStartFailed registers an observer for failed session starts.
func (b *Bridge) OnStartFailed(fn func(reason string)) {
	b.mu.Lock()
	b.onStartFailed = append(b.onStartFailed, fn)
	b.mu.Unlock()
}

// OnEnded registers an observer fired when the session ends for everyone.
func (b *Bridge) OnEnded(fn func(reason string)) {
	b.mu.Lock()
	b.onEnded = append(b.onEnded, fn)
	b.mu.Unlock()
}

// OnPlayerLeft registers an observer for single players dropping out of a
// running session.
func (b *Bridge) OnPlayerLeft(fn func(peerID string)) {
	b.mu.Lock()
	b.onPlayerLeft = append(b.onPlayerLeft, fn)
	b.mu.Unlock()
}

// State returns the session state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// HostPeerID returns the session host, empty while idle.
func (b *Bridge) HostPeerID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hostPeerID
}

// StartFromMatch boots the session from a filled match lobby. Wired to
// the matchmaking match-found observer.
func (b *Bridge) StartFromMatch(rec lobby.Record) {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		log.Printf("SESSION: match found while session %s, ignored", b.state)
		return
	}
	b.state = StateStarting
	b.hostPeerID = rec.OwnerID
	b.mu.Unlock()

	b.lobbies.SetPhase(lobby.KindMatch, lobby.PhaseStarting)

	var err error
	isHost := rec.OwnerID == b.transport.SelfID()
	if isHost {
		log.Printf("SESSION: hosting game for lobby %s", rec.ID)
		err = b.transport.StartHost()
	} else {
		log.Printf("SESSION: connecting to game host %s", rec.OwnerID)
		err = b.transport.StartClient(rec.OwnerID)
	}

	if err != nil {
		b.mu.Lock()
		b.state = StateIdle
		b.hostPeerID = ""
		b.mu.Unlock()

		b.lobbies.SetPhase(lobby.KindMatch, lobby.PhaseWaiting)
		log.Printf("SESSION: game start failed: %v", err)
		b.notifyStartFailed(fmt.Sprintf("game start failed: %v", err))
		return
	}

	b.mu.Lock()
	b.state = StateInGame
	b.mu.Unlock()

	b.lobbies.SetPhase(lobby.KindMatch, lobby.PhaseInGame)
	if isHost {
		// The lobby stops filling once the game is running.
		if err := b.lobbies.SetAttribute(lobby.KindMatch, lobby.AttrStatus, lobby.StatusActive); err != nil {
			log.Printf("SESSION: mark lobby active failed: %v", err)
		}
	}
	b.notifyStarted(isHost)
}

// HandlePeerDisconnected consumes transport disconnect events. The host
// dropping ends the whole session; anyone else is just a player leaving.
func (b *Bridge) HandlePeerDisconnected(peerID string) {
	b.mu.Lock()
	if b.state != StateInGame {
		b.mu.Unlock()
		return
	}
	hostGone := peerID == b.hostPeerID && !b.transport.IsHost()
	b.mu.Unlock()

	if hostGone {
		log.Printf("SESSION: host %s disconnected, ending game", peerID)
		b.end("host disconnected")
		return
	}

	log.Printf("SESSION: player %s left the game", peerID)
	b.notifyPlayerLeft(peerID)
}

// End stops a running session deliberately, host side.
func (b *Bridge) End(reason string) {
	b.mu.Lock()
	if b.state == StateIdle {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.end(reason)
}

// end tears down the transport, releases the match lobby and drops the
// player back into the party lobby when one is still active.
func (b *Bridge) end(reason string) {
	b.mu.Lock()
	b.state = StateIdle
	b.hostPeerID = ""
	b.mu.Unlock()

	b.transport.Stop()

	if b.lobbies.State(lobby.KindMatch) == lobby.StateActive {
		if b.lobbies.IsOwner(lobby.KindMatch) {
			b.lobbies.Destroy(lobby.KindMatch)
		} else {
			b.lobbies.Leave(lobby.KindMatch)
		}
	}

	if b.lobbies.State(lobby.KindParty) == lobby.StateActive {
		b.lobbies.SetPhase(lobby.KindParty, lobby.PhaseWaiting)
		log.Printf("SESSION: game over (%s), back to the party lobby", reason)
	} else {
		log.Printf("SESSION: game over (%s)", reason)
	}

	b.notifyEnded(reason)
}

func (b *Bridge) notifyStarted(isHost bool) {
	b.mu.Lock()
	obs := make([]func(bool), len(b.onStarted))
	copy(obs, b.onStarted)
	b.mu.Unlock()
	for _, fn := range obs {
		fn(isHost)
	}
}

func (b *Bridge) notifyStartFailed(reason string) {
	b.mu.Lock()
	obs := make([]func(string), len(b.onStartFailed))
	copy(obs, b.onStartFailed)
	b.mu.Unlock()
	for _, fn := range obs {
		fn(reason)
	}
}

func (b *Bridge) notifyEnded(reason string) {
	b.mu.Lock()
	obs := make([]func(string), len(b.onEnded))
	copy(obs, b.onEnded)
	b.mu.Unlock()
	for _, fn := range obs {
		fn(reason)
	}
}

func (b *Bridge) notifyPlayerLeft(peerID string) {
	b.mu.Lock()
	obs := make([]func(string), len(b.onPlayerLeft))
	copy(obs, b.onPlayerLeft)
	b.mu.Unlock()
	for _, fn := range obs {
		fn(peerID)
	}
}
