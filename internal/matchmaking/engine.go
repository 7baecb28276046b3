package matchmaking

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/lobby"
)

// Status is the matchmaking lifecycle. Found and Failed are reported
// through the observers; the engine itself resets to Idle in the same
// call, so they never linger as a status.
type Status int

const (
	StatusIdle Status = iota
	StatusSearching
	StatusJoining
	StatusCreating
	StatusWaitingForPlayers
)

func (s Status) String() string {
	switch s {
	case StatusSearching:
		return "Searching"
	case StatusJoining:
		return "Joining"
	case StatusCreating:
		return "Creating"
	case StatusWaitingForPlayers:
		return "WaitingForPlayers"
	default:
		return "Idle"
	}
}

// Lobbies is the slice of the lobby orchestrator the engine drives.
type Lobbies interface {
	SelfID() string
	Search(filters map[string]string, done func([]lobby.Record, error))
	JoinByID(kind lobby.Kind, id string) error
	CreateMatch(maxMembers int, attrs map[string]string) error
	Leave(kind lobby.Kind)
	Destroy(kind lobby.Kind)
	SetAttribute(kind lobby.Kind, key, value string) error
	Record(kind lobby.Kind) (lobby.Record, bool)
	IsOwner(kind lobby.Kind) bool
	PartySize() int
	State(kind lobby.Kind) lobby.State
}

// Engine finds or builds a match lobby for the local party. One search at
// a time; timeouts are polled from Tick rather than timer driven.
type Engine struct {
	lobbies Lobbies
	timeout time.Duration

	// lobbyAttrs are extra attributes stamped onto match lobbies the
	// engine hosts, such as the map name.
	lobbyAttrs map[string]string

	mu           sync.Mutex
	status       Status
	gen          uint64
	gameMode     string
	teamSize     int
	required     int
	partySize    int
	playersFound int
	startedAt    time.Time

	// candidates holds the remaining directory results for the current
	// search; a failed join advances to the next one.
	candidates []lobby.Record

	onMatchFound []func(rec lobby.Record)
	onFailed     []func(reason string)
	onProgress   []func(found, required int)
}

func NewEngine(l Lobbies, timeout time.Duration) *Engine {
	return &Engine{lobbies: l, timeout: timeout}
}

// SetLobbyAttributes sets extra attributes applied to match lobbies
// hosted by this engine. Reserved matchmaking attributes cannot be
// overridden.
func (e *Engine) SetLobbyAttributes(attrs map[string]string) {
	e.mu.Lock()
	e.lobbyAttrs = attrs
	e.mu.Unlock()
}

// OnMatchFound registers an observer fired once when the match lobby
// fills.
func (e *Engine) OnMatchFound(fn func(rec lobby.Record)) {
	e.mu.Lock()
	e.onMatchFound = append(e.onMatchFound, fn)
	e.mu.Unlock()
}

// OnFailed registers an observer for search failures, including timeout.
func (e *Engine) OnFailed(fn func(reason string)) {
	e.mu.Lock()
	e.onFailed = append(e.onFailed, fn)
	e.mu.Unlock()
}

// OnProgress registers an observer fired when the found player count
// changes.
func (e *Engine) OnProgress(fn func(found, required int)) {
	e.mu.Lock()
	e.onProgress = append(e.onProgress, fn)
	e.mu.Unlock()
}

// Status returns the current matchmaking status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Progress returns the found and required player counts of the current
// search.
func (e *Engine) Progress() (found, required int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playersFound, e.required
}

// FindMatch starts a search for a gameMode match with teamSize players a
// side. The whole party counts toward the slots the engine looks for.
func (e *Engine) FindMatch(gameMode string, teamSize int) error {
	if teamSize < 1 {
		return fmt.Errorf("team size must be positive, got %d", teamSize)
	}

	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return fmt.Errorf("matchmaking already %s", e.status)
	}
	if e.lobbies.State(lobby.KindMatch) != lobby.StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("match lobby track is busy")
	}
	e.status = StatusSearching
	e.gen++
	gen := e.gen
	e.gameMode = gameMode
	e.teamSize = teamSize
	e.required = teamSize * 2
	e.partySize = e.lobbies.PartySize()
	e.playersFound = e.partySize
	e.startedAt = time.Time{}
	e.candidates = nil
	found, required := e.playersFound, e.required
	e.mu.Unlock()

	log.Printf("MM: searching %s %dv%d (party of %d)", gameMode, teamSize, teamSize, e.partySize)
	e.notifyProgress(found, required)

	filters := map[string]string{
		lobby.AttrType:     lobby.TypeMatch,
		lobby.AttrGameMode: gameMode,
		lobby.AttrTeamSize: strconv.Itoa(teamSize),
		lobby.AttrStatus:   lobby.StatusFilling,
	}
	e.lobbies.Search(filters, func(recs []lobby.Record, err error) {
		e.continueSearch(gen, recs, err)
	})
	return nil
}

// continueSearch runs on the tick thread once the directory query
// completes.
func (e *Engine) continueSearch(gen uint64, recs []lobby.Record, err error) {
	e.mu.Lock()
	if e.gen != gen || e.status != StatusSearching {
		e.mu.Unlock()
		return
	}

	if err != nil {
		e.mu.Unlock()
		log.Printf("MM: directory search failed, hosting instead: %v", err)
		e.createOwnLobby(gen)
		return
	}

	e.candidates = recs
	e.mu.Unlock()

	e.tryNextCandidate(gen)
}

// tryNextCandidate attempts the next lobby with room for the whole
// party, hosting a fresh one when the list is exhausted.
func (e *Engine) tryNextCandidate(gen uint64) {
	selfID := e.lobbies.SelfID()
	for {
		e.mu.Lock()
		if e.gen != gen || (e.status != StatusSearching && e.status != StatusJoining) {
			e.mu.Unlock()
			return
		}
		partySize := e.partySize
		var next *lobby.Record
		for len(e.candidates) > 0 {
			rec := e.candidates[0]
			e.candidates = e.candidates[1:]
			if rec.OwnerID == selfID || rec.AvailableSlots() < partySize {
				continue
			}
			next = &rec
			break
		}
		if next != nil {
			e.status = StatusJoining
		}
		e.mu.Unlock()

		if next == nil {
			log.Printf("MM: no joinable candidates, hosting a new match lobby")
			e.createOwnLobby(gen)
			return
		}

		log.Printf("MM: joining candidate lobby %s (%d/%d)", next.ID, next.CurrentMembers, next.MaxMembers)
		if err := e.lobbies.JoinByID(lobby.KindMatch, next.ID); err != nil {
			log.Printf("MM: join %s failed, trying next candidate: %v", next.ID, err)
			continue
		}
		return
	}
}

func (e *Engine) createOwnLobby(gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	e.status = StatusCreating
	gameMode := e.gameMode
	teamSize := e.teamSize
	required := e.required
	extra := e.lobbyAttrs
	e.mu.Unlock()

	attrs := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		attrs[k] = v
	}
	attrs[lobby.AttrGameMode] = gameMode
	attrs[lobby.AttrTeamSize] = strconv.Itoa(teamSize)
	if err := e.lobbies.CreateMatch(required, attrs); err != nil {
		e.fail(gen, err.Error())
	}
}

// HandleLobbyUpdate consumes match lobby snapshots. Wired to the
// orchestrator's change observer.
func (e *Engine) HandleLobbyUpdate(kind lobby.Kind, rec lobby.Record) {
	if kind != lobby.KindMatch {
		return
	}

	e.mu.Lock()
	if e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	e.status = StatusWaitingForPlayers
	gen := e.gen
	required := e.required
	progressed := rec.CurrentMembers != e.playersFound
	e.playersFound = rec.CurrentMembers
	e.mu.Unlock()

	if progressed {
		e.notifyProgress(rec.CurrentMembers, required)
	}

	if rec.CurrentMembers >= required {
		e.mu.Lock()
		if e.gen != gen || e.status == StatusIdle {
			e.mu.Unlock()
			return
		}
		e.status = StatusIdle
		e.gen++
		e.mu.Unlock()

		log.Printf("MM: match found, lobby %s full (%d players)", rec.ID, rec.CurrentMembers)
		e.notifyMatchFound(rec)
	}
}

// HandleLobbyFailed consumes match track failures. A failed join moves
// on to the next candidate; a failed create ends the search.
func (e *Engine) HandleLobbyFailed(kind lobby.Kind, f lobby.Failure, reason string) {
	if kind != lobby.KindMatch {
		return
	}

	e.mu.Lock()
	if e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	gen := e.gen
	e.mu.Unlock()

	switch f {
	case lobby.FailJoinNotFound, lobby.FailJoinRejected:
		log.Printf("MM: join failed (%s), trying next candidate", reason)
		e.tryNextCandidate(gen)
	case lobby.FailCreate:
		e.fail(gen, reason)
	}
}

// Cancel stops the search. An owned match lobby is destroyed, a joined
// one is left. The engine always ends up idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	e.status = StatusIdle
	e.gen++
	e.mu.Unlock()

	e.teardownMatchLobby()
	log.Printf("MM: search cancelled")
}

func (e *Engine) teardownMatchLobby() {
	if e.lobbies.State(lobby.KindMatch) == lobby.StateIdle {
		return
	}
	if e.lobbies.IsOwner(lobby.KindMatch) {
		e.lobbies.Destroy(lobby.KindMatch)
	} else {
		e.lobbies.Leave(lobby.KindMatch)
	}
}

// Tick polls the search deadline. The first tick after FindMatch anchors
// the clock so the timeout never depends on wall time at call sites.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	if e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	if e.startedAt.IsZero() {
		e.startedAt = now
		e.mu.Unlock()
		return
	}
	if now.Sub(e.startedAt) < e.timeout {
		e.mu.Unlock()
		return
	}
	gen := e.gen
	e.mu.Unlock()

	e.fail(gen, "search timeout")
}

func (e *Engine) fail(gen uint64, reason string) {
	e.mu.Lock()
	if e.gen != gen || e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	e.status = StatusIdle
	e.gen++
	e.mu.Unlock()

	e.teardownMatchLobby()
	log.Printf("MM: search failed: %s", reason)
	e.notifyFailed(reason)
}

func (e *Engine) notifyMatchFound(rec lobby.Record) {
	e.mu.Lock()
	obs := make([]func(lobby.Record), len(e.onMatchFound))
	copy(obs, e.onMatchFound)
	e.mu.Unlock()
	for _, fn := range obs {
		fn(rec)
	}
}

func (e *Engine) notifyFailed(reason string) {
	e.mu.Lock()
	obs := make([]func(string), len(e.onFailed))
	copy(obs, e.onFailed)
	e.mu.Unlock()
	for _, fn := range obs {
		fn(reason)
	}
}

func (e *Engine) notifyProgress(found, required int) {
	e.mu.Lock()
	obs := make([]func(int, int), len(e.onProgress))
	copy(obs, e.onProgress)
	e.mu.Unlock()
	for _, fn := range obs {
		fn(found, required)
	}
}
