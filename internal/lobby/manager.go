package lobby

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Failure classifies asynchronous lobby failures reported to observers.
type Failure int

const (
	FailCreate Failure = iota
	FailJoinNotFound
	FailJoinRejected
)

func (f Failure) String() string {
	switch f {
	case FailCreate:
		return "create failed"
	case FailJoinNotFound:
		return "lobby not found"
	case FailJoinRejected:
		return "join rejected"
	default:
		return "unknown"
	}
}

type track struct {
	state State
	phase Phase
	rec   Record
	gen   uint64
}

// Manager orchestrates the Party and Match lobby tracks on top of a
// Provider. All provider completions and update events are re-scheduled as
// continuations and run during Tick, so observers always fire on the tick
// thread.
type Manager struct {
	provider Provider
	selfID   string
	selfName string

	mu      sync.Mutex
	tracks  map[Kind]*track
	pending []func()

	onChanged []func(kind Kind, rec Record)
	onFailed  []func(kind Kind, f Failure, reason string)
	onLeft    []func(kind Kind, reason string)
}

func NewManager(p Provider, selfID, selfName string) *Manager {
	m := &Manager{
		provider: p,
		selfID:   selfID,
		selfName: selfName,
		tracks: map[Kind]*track{
			KindParty: {state: StateIdle},
			KindMatch: {state: StateIdle},
		},
	}
	p.Subscribe(
		func(rec Record) { m.enqueue(func() { m.applyUpdate(rec) }) },
		func(id, reason string) { m.enqueue(func() { m.applyClosed(id, reason) }) },
	)
	return m
}

// SelfID returns the local peer ID.
func (m *Manager) SelfID() string { return m.selfID }

// OnChanged registers an observer fired with a full lobby snapshot after
// every membership or attribute change.
func (m *Manager) OnChanged(fn func(kind Kind, rec Record)) {
	m.mu.Lock()
	m.onChanged = append(m.onChanged, fn)
	m.mu.Unlock()
}

// OnFailed registers an observer for asynchronous create/join failures.
func (m *Manager) OnFailed(fn func(kind Kind, f Failure, reason string)) {
	m.mu.Lock()
	m.onFailed = append(m.onFailed, fn)
	m.mu.Unlock()
}

// OnLeft registers an observer fired when a track returns to idle after a
// leave, destroy or remote close.
func (m *Manager) OnLeft(fn func(kind Kind, reason string)) {
	m.mu.Lock()
	m.onLeft = append(m.onLeft, fn)
	m.mu.Unlock()
}

func (m *Manager) enqueue(fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Tick runs all scheduled continuations.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	fns := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// defaultMemberAttrs is the member record every player starts a lobby with.
func defaultMemberAttrs() map[string]string {
	return map[string]string{
		MemberAttrReady:     "false",
		MemberAttrTeam:      "0",
		MemberAttrCharacter: "0",
	}
}

// CreateParty creates a private party lobby with the local peer as leader.
// Rejected while the party track is not idle.
func (m *Manager) CreateParty(maxMembers int) error {
	m.mu.Lock()
	tr := m.tracks[KindParty]
	if tr.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("party lobby already %s", tr.state)
	}
	tr.state = StateCreating
	tr.gen++
	gen := tr.gen
	m.mu.Unlock()

	opts := CreateOpts{
		Kind:       KindParty,
		OwnerID:    m.selfID,
		OwnerName:  m.selfName,
		MaxMembers: maxMembers,
		Private:    true,
		Attributes: map[string]string{
			AttrType:        TypeParty,
			AttrPartyLeader: m.selfID,
		},
		OwnerAttributes: defaultMemberAttrs(),
	}
	m.provider.Create(opts, func(rec Record, err error) {
		m.enqueue(func() { m.finishCreate(KindParty, gen, rec, err) })
	})
	return nil
}

// CreateMatch creates a public match lobby open to search. Extra attributes
// overlay the standard ones. Rejected while the match track is not idle.
func (m *Manager) CreateMatch(maxMembers int, attrs map[string]string) error {
	m.mu.Lock()
	tr := m.tracks[KindMatch]
	if tr.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("match lobby already %s", tr.state)
	}
	tr.state = StateCreating
	tr.gen++
	gen := tr.gen
	m.mu.Unlock()

	merged := map[string]string{
		AttrType:   TypeMatch,
		AttrStatus: StatusFilling,
	}
	for k, v := range attrs {
		merged[k] = v
	}

	opts := CreateOpts{
		Kind:            KindMatch,
		OwnerID:         m.selfID,
		OwnerName:       m.selfName,
		MaxMembers:      maxMembers,
		Private:         false,
		Attributes:      merged,
		OwnerAttributes: defaultMemberAttrs(),
	}
	m.provider.Create(opts, func(rec Record, err error) {
		m.enqueue(func() { m.finishCreate(KindMatch, gen, rec, err) })
	})
	return nil
}

func (m *Manager) finishCreate(kind Kind, gen uint64, rec Record, err error) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.gen != gen || tr.state != StateCreating {
		m.mu.Unlock()
		return
	}
	if err != nil {
		tr.state = StateIdle
		m.mu.Unlock()
		log.Printf("LOBBY: create %s failed: %v", kind, err)
		m.notifyFailed(kind, FailCreate, err.Error())
		return
	}
	tr.state = StateActive
	tr.phase = PhaseWaiting
	tr.rec = rec.Clone()
	snapshot := tr.rec.Clone()
	m.mu.Unlock()

	log.Printf("LOBBY: created %s lobby %s (max %d)", kind, rec.ID, rec.MaxMembers)
	m.notifyChanged(kind, snapshot)
}

// JoinByID looks a lobby up by ID and joins it. The two failure modes,
// lobby missing and join rejected, are reported separately via OnFailed.
func (m *Manager) JoinByID(kind Kind, id string) error {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("%s lobby already %s", kind, tr.state)
	}
	tr.state = StateJoining
	tr.gen++
	gen := tr.gen
	m.mu.Unlock()

	m.provider.Find(id, func(rec *Record, err error) {
		m.enqueue(func() { m.continueJoin(kind, gen, id, rec, err) })
	})
	return nil
}

func (m *Manager) continueJoin(kind Kind, gen uint64, id string, found *Record, err error) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.gen != gen || tr.state != StateJoining {
		m.mu.Unlock()
		return
	}
	if err == nil && found == nil {
		tr.state = StateIdle
		m.mu.Unlock()
		log.Printf("LOBBY: join %s: lobby %s not found", kind, id)
		m.notifyFailed(kind, FailJoinNotFound, "lobby not found: "+id)
		return
	}
	if err != nil {
		tr.state = StateIdle
		m.mu.Unlock()
		log.Printf("LOBBY: join %s: lookup of %s failed: %v", kind, id, err)
		m.notifyFailed(kind, FailJoinRejected, err.Error())
		return
	}
	m.mu.Unlock()

	member := Member{
		PeerID:      m.selfID,
		DisplayName: m.selfName,
		Attributes:  defaultMemberAttrs(),
	}
	m.provider.Join(id, member, func(rec Record, err error) {
		m.enqueue(func() { m.finishJoin(kind, gen, rec, err) })
	})
}

func (m *Manager) finishJoin(kind Kind, gen uint64, rec Record, err error) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.gen != gen || tr.state != StateJoining {
		m.mu.Unlock()
		return
	}
	if err != nil {
		tr.state = StateIdle
		m.mu.Unlock()
		log.Printf("LOBBY: join %s rejected: %v", kind, err)
		m.notifyFailed(kind, FailJoinRejected, err.Error())
		return
	}
	tr.state = StateActive
	tr.phase = PhaseWaiting
	tr.rec = rec.Clone()
	snapshot := tr.rec.Clone()
	m.mu.Unlock()

	log.Printf("LOBBY: joined %s lobby %s (%d/%d members)", kind, rec.ID, rec.CurrentMembers, rec.MaxMembers)
	m.notifyChanged(kind, snapshot)
}

// Leave leaves the active lobby of the given kind. A no-op on an idle
// track.
func (m *Manager) Leave(kind Kind) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.state != StateActive {
		m.mu.Unlock()
		return
	}
	id := tr.rec.ID
	tr.state = StateLeaving
	tr.gen++
	gen := tr.gen
	m.mu.Unlock()

	m.provider.Leave(id)
	m.enqueue(func() { m.finishLeave(kind, gen, "left") })
}

// Destroy closes a lobby the local peer owns. A non-owner destroy is
// silently downgraded to a leave.
func (m *Manager) Destroy(kind Kind) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.state != StateActive {
		m.mu.Unlock()
		return
	}
	if tr.rec.OwnerID != m.selfID {
		m.mu.Unlock()
		log.Printf("LOBBY: destroy %s requested by non-owner, leaving instead", kind)
		m.Leave(kind)
		return
	}
	id := tr.rec.ID
	tr.state = StateLeaving
	tr.gen++
	gen := tr.gen
	m.mu.Unlock()

	m.provider.Destroy(id)
	m.enqueue(func() { m.finishLeave(kind, gen, "destroyed") })
}

func (m *Manager) finishLeave(kind Kind, gen uint64, reason string) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.gen != gen || tr.state != StateLeaving {
		m.mu.Unlock()
		return
	}
	tr.state = StateIdle
	tr.phase = PhaseWaiting
	tr.rec = Record{}
	m.mu.Unlock()

	log.Printf("LOBBY: %s track idle (%s)", kind, reason)
	m.notifyLeft(kind, reason)
}

// SetAttribute mutates one lobby-level attribute. Owner only; non-owner
// calls are rejected locally without touching the provider.
func (m *Manager) SetAttribute(kind Kind, key, value string) error {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.state != StateActive {
		m.mu.Unlock()
		return fmt.Errorf("no active %s lobby", kind)
	}
	if tr.rec.OwnerID != m.selfID {
		m.mu.Unlock()
		return fmt.Errorf("only the lobby owner can set attributes")
	}
	if tr.rec.Attributes == nil {
		tr.rec.Attributes = map[string]string{}
	}
	tr.rec.Attributes[key] = value
	id := tr.rec.ID
	m.mu.Unlock()

	if err := m.provider.SetAttributes(id, map[string]string{key: value}); err != nil {
		log.Printf("LOBBY: set attribute %s on %s failed: %v", key, id, err)
		return err
	}
	return nil
}

// SetMemberAttribute mutates one attribute of the local member record.
func (m *Manager) SetMemberAttribute(kind Kind, key, value string) error {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.state != StateActive {
		m.mu.Unlock()
		return fmt.Errorf("no active %s lobby", kind)
	}
	id := tr.rec.ID
	for i := range tr.rec.Members {
		if tr.rec.Members[i].PeerID == m.selfID {
			if tr.rec.Members[i].Attributes == nil {
				tr.rec.Members[i].Attributes = map[string]string{}
			}
			tr.rec.Members[i].Attributes[key] = value
		}
	}
	m.mu.Unlock()

	if err := m.provider.SetMemberAttributes(id, m.selfID, map[string]string{key: value}); err != nil {
		log.Printf("LOBBY: set member attribute %s on %s failed: %v", key, id, err)
		return err
	}
	return nil
}

// Search queries the lobby directory. The completion runs on the tick
// thread.
func (m *Manager) Search(filters map[string]string, done func([]Record, error)) {
	m.provider.Search(filters, func(recs []Record, err error) {
		m.enqueue(func() { done(recs, err) })
	})
}

// ReadinessCheck reports whether the lobby has at least one member and
// every member is ready.
func (m *Manager) ReadinessCheck(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := m.tracks[kind]
	if tr.state != StateActive || len(tr.rec.Members) == 0 {
		return false
	}
	for _, mem := range tr.rec.Members {
		if mem.Attributes[MemberAttrReady] != "true" {
			return false
		}
	}
	return true
}

// Record returns a snapshot of the active lobby of the given kind.
func (m *Manager) Record(kind Kind) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := m.tracks[kind]
	if tr.state != StateActive {
		return Record{}, false
	}
	return tr.rec.Clone(), true
}

// State returns the lifecycle state of a track.
func (m *Manager) State(kind Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks[kind].state
}

// Phase returns the active-phase of a track.
func (m *Manager) Phase(kind Kind) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks[kind].phase
}

// SetPhase advances the active-phase of a track (countdown, starting, in
// game). Ignored on inactive tracks.
func (m *Manager) SetPhase(kind Kind, p Phase) {
	m.mu.Lock()
	tr := m.tracks[kind]
	if tr.state != StateActive {
		m.mu.Unlock()
		return
	}
	tr.phase = p
	m.mu.Unlock()
}

// PartySize returns the current party size, or 1 when no party is active.
func (m *Manager) PartySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := m.tracks[KindParty]
	if tr.state != StateActive || tr.rec.CurrentMembers == 0 {
		return 1
	}
	return tr.rec.CurrentMembers
}

// IsOwner reports whether the local peer owns the active lobby of the
// given kind.
func (m *Manager) IsOwner(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := m.tracks[kind]
	return tr.state == StateActive && tr.rec.OwnerID == m.selfID
}

// applyUpdate performs the full detail refresh: the whole record is
// replaced, never patched, before observers fire.
func (m *Manager) applyUpdate(rec Record) {
	m.mu.Lock()
	var kind Kind
	var tr *track
	for k, t := range m.tracks {
		if t.state == StateActive && t.rec.ID == rec.ID {
			kind = k
			tr = t
			break
		}
	}
	if tr == nil {
		m.mu.Unlock()
		return
	}
	tr.rec = rec.Clone()
	tr.rec.CurrentMembers = len(tr.rec.Members)

	// Waiting <-> Ready follows the readiness of the refreshed roster.
	ready := len(tr.rec.Members) > 0
	for _, mem := range tr.rec.Members {
		if mem.Attributes[MemberAttrReady] != "true" {
			ready = false
			break
		}
	}
	if tr.phase == PhaseWaiting && ready {
		tr.phase = PhaseReady
	} else if tr.phase == PhaseReady && !ready {
		tr.phase = PhaseWaiting
	}

	snapshot := tr.rec.Clone()
	m.mu.Unlock()

	m.notifyChanged(kind, snapshot)
}

func (m *Manager) applyClosed(id, reason string) {
	m.mu.Lock()
	for kind, tr := range m.tracks {
		if tr.state == StateActive && tr.rec.ID == id {
			tr.state = StateIdle
			tr.phase = PhaseWaiting
			tr.rec = Record{}
			tr.gen++
			m.mu.Unlock()
			log.Printf("LOBBY: %s lobby %s closed: %s", kind, id, reason)
			m.notifyLeft(kind, reason)
			return
		}
	}
	m.mu.Unlock()
}

func (m *Manager) notifyChanged(kind Kind, rec Record) {
	m.mu.Lock()
	obs := make([]func(Kind, Record), len(m.onChanged))
	copy(obs, m.onChanged)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(kind, rec)
	}
}

func (m *Manager) notifyFailed(kind Kind, f Failure, reason string) {
	m.mu.Lock()
	obs := make([]func(Kind, Failure, string), len(m.onFailed))
	copy(obs, m.onFailed)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(kind, f, reason)
	}
}

func (m *Manager) notifyLeft(kind Kind, reason string) {
	m.mu.Lock()
	obs := make([]func(Kind, string), len(m.onLeft))
	copy(obs, m.onLeft)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(kind, reason)
	}
}
