package matchmaking

import (
	"errors"
	"testing"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/lobby"
)

// fakeLobbies scripts the lobby orchestrator. Search completions are held
// until the test releases them, mirroring the tick-thread scheduling of
// the real orchestrator.
type fakeLobbies struct {
	selfID    string
	partySize int
	state     lobby.State
	owner     bool
	rec       lobby.Record

	partyRec    lobby.Record
	partyActive bool
	partyOwner  bool
	attrWrites  []attrWrite

	searchResults []lobby.Record
	searchErr     error
	searchDone    func([]lobby.Record, error)
	searchFilters map[string]string

	joined       []string
	joinErr      error
	joinErrBy    map[string]error
	created      []int
	createdAttrs map[string]string
	createErr    error
	left         int
	destroyed    int
}

func (f *fakeLobbies) SelfID() string { return f.selfID }

func (f *fakeLobbies) Search(filters map[string]string, done func([]lobby.Record, error)) {
	f.searchFilters = filters
	f.searchDone = done
}

func (f *fakeLobbies) releaseSearch() {
	done := f.searchDone
	f.searchDone = nil
	done(f.searchResults, f.searchErr)
}

func (f *fakeLobbies) JoinByID(kind lobby.Kind, id string) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	if err := f.joinErrBy[id]; err != nil {
		return err
	}
	f.joined = append(f.joined, id)
	f.state = lobby.StateActive
	return nil
}

func (f *fakeLobbies) CreateMatch(maxMembers int, attrs map[string]string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, maxMembers)
	f.createdAttrs = attrs
	f.state = lobby.StateActive
	f.owner = true
	return nil
}

func (f *fakeLobbies) Leave(kind lobby.Kind)   { f.left++; f.state = lobby.StateIdle }
func (f *fakeLobbies) Destroy(kind lobby.Kind) { f.destroyed++; f.state = lobby.StateIdle }

type attrWrite struct {
	kind       lobby.Kind
	key, value string
}

func (f *fakeLobbies) SetAttribute(kind lobby.Kind, key, value string) error {
	f.attrWrites = append(f.attrWrites, attrWrite{kind, key, value})
	if kind == lobby.KindParty {
		if f.partyRec.Attributes == nil {
			f.partyRec.Attributes = map[string]string{}
		}
		f.partyRec.Attributes[key] = value
	}
	return nil
}

func (f *fakeLobbies) Record(kind lobby.Kind) (lobby.Record, bool) {
	if kind == lobby.KindParty {
		return f.partyRec, f.partyActive
	}
	return f.rec, f.state == lobby.StateActive
}

func (f *fakeLobbies) IsOwner(kind lobby.Kind) bool {
	if kind == lobby.KindParty {
		return f.partyActive && f.partyOwner
	}
	return f.owner
}

func (f *fakeLobbies) PartySize() int { return f.partySize }

func (f *fakeLobbies) State(kind lobby.Kind) lobby.State {
	if kind == lobby.KindParty {
		if f.partyActive {
			return lobby.StateActive
		}
		return lobby.StateIdle
	}
	return f.state
}

func newTestEngine(fl *fakeLobbies) *Engine {
	return NewEngine(fl, 60*time.Second)
}

func matchLobby(id, owner string, members, max int) lobby.Record {
	return lobby.Record{
		ID: id, Kind: lobby.KindMatch, OwnerID: owner,
		MaxMembers: max, CurrentMembers: members,
		Attributes: map[string]string{lobby.AttrType: lobby.TypeMatch, lobby.AttrStatus: lobby.StatusFilling},
	}
}

func TestFindMatchFilters(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 2}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 4); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}

	want := map[string]string{
		"Type": "Match", "GameMode": "classic", "TeamSize": "4", "Status": "Filling",
	}
	for k, v := range want {
		if fl.searchFilters[k] != v {
			t.Errorf("filter %s = %q, want %q", k, fl.searchFilters[k], v)
		}
	}

	found, required := e.Progress()
	if required != 8 {
		t.Errorf("required = %d, want teamSize*2 = 8", required)
	}
	if found != 2 {
		t.Errorf("found = %d, want party size 2", found)
	}
}

func TestFindMatchRejectedWhileSearching(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.FindMatch("classic", 2); err == nil {
		t.Fatal("second FindMatch while searching should fail")
	}
}

func TestJoinsCandidateWithRoomForParty(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 2}
	fl.searchResults = []lobby.Record{
		matchLobby("small", "peer-a", 3, 4),  // one slot, party needs two
		matchLobby("mine", "peer-self", 1, 4), // own lobby is never a candidate
		matchLobby("roomy", "peer-b", 1, 4),
	}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()

	if len(fl.joined) != 1 || fl.joined[0] != "roomy" {
		t.Fatalf("joined = %v, want [roomy]", fl.joined)
	}
	if len(fl.created) != 0 {
		t.Errorf("created = %v, want none", fl.created)
	}
}

func TestCreatesWhenNoCandidates(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 3); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()

	if len(fl.created) != 1 || fl.created[0] != 6 {
		t.Fatalf("created = %v, want one lobby of size 6", fl.created)
	}
}

func TestStatusProgressionThroughJoin(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	fl.searchResults = []lobby.Record{matchLobby("roomy", "peer-b", 1, 4)}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	if e.Status() != StatusSearching {
		t.Fatalf("status = %v, want Searching", e.Status())
	}

	fl.releaseSearch()
	if e.Status() != StatusJoining {
		t.Fatalf("status = %v, want Joining", e.Status())
	}

	e.HandleLobbyUpdate(lobby.KindMatch, matchLobby("roomy", "peer-b", 2, 4))
	if e.Status() != StatusWaitingForPlayers {
		t.Fatalf("status = %v, want WaitingForPlayers", e.Status())
	}

	e.HandleLobbyUpdate(lobby.KindMatch, matchLobby("roomy", "peer-b", 4, 4))
	if e.Status() != StatusIdle {
		t.Fatalf("status = %v, want Idle after match found", e.Status())
	}
}

func TestStatusProgressionThroughCreate(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()
	if e.Status() != StatusCreating {
		t.Fatalf("status = %v, want Creating", e.Status())
	}

	e.HandleLobbyUpdate(lobby.KindMatch, matchLobby("mine", "peer-self", 1, 4))
	if e.Status() != StatusWaitingForPlayers {
		t.Fatalf("status = %v, want WaitingForPlayers", e.Status())
	}
}

func TestHostedLobbyCarriesDefaultAttributes(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)
	e.SetLobbyAttributes(map[string]string{
		lobby.AttrMapName:  "kitchen",
		lobby.AttrGameMode: "overridden",
	})

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()

	if len(fl.created) != 1 {
		t.Fatalf("created = %v, want one lobby", fl.created)
	}
	if got := fl.createdAttrs[lobby.AttrMapName]; got != "kitchen" {
		t.Errorf("MapName = %q, want kitchen", got)
	}
	if got := fl.createdAttrs[lobby.AttrGameMode]; got != "classic" {
		t.Errorf("GameMode = %q, reserved attribute must not be overridden", got)
	}
}

func TestJoinFailureFallsBackToHosting(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	fl.searchResults = []lobby.Record{matchLobby("roomy", "peer-b", 1, 4)}
	fl.joinErr = errors.New("track busy")
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()

	if len(fl.created) != 1 {
		t.Fatalf("created = %v, want fallback lobby", fl.created)
	}
}

func TestRejectedJoinEventFallsBackToHosting(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	fl.searchResults = []lobby.Record{matchLobby("roomy", "peer-b", 1, 4)}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()
	if len(fl.joined) != 1 {
		t.Fatal("expected a join attempt")
	}

	// The host rejected the join after the lookup succeeded.
	fl.state = lobby.StateIdle
	e.HandleLobbyFailed(lobby.KindMatch, lobby.FailJoinRejected, "lobby is full")

	if len(fl.created) != 1 {
		t.Fatalf("created = %v, want fallback lobby", fl.created)
	}
}

func TestJoinFailureAdvancesToNextCandidate(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	fl.searchResults = []lobby.Record{
		matchLobby("first", "peer-b", 1, 4),
		matchLobby("second", "peer-c", 2, 4),
	}
	fl.joinErrBy = map[string]error{"first": errors.New("dial failed")}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()

	if len(fl.joined) != 1 || fl.joined[0] != "second" {
		t.Fatalf("joined = %v, want [second]", fl.joined)
	}
	if len(fl.created) != 0 {
		t.Errorf("created = %v, want none while a candidate remains", fl.created)
	}
}

func TestRejectedJoinEventAdvancesToNextCandidate(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	fl.searchResults = []lobby.Record{
		matchLobby("first", "peer-b", 1, 4),
		matchLobby("second", "peer-c", 2, 4),
	}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch()
	if len(fl.joined) != 1 || fl.joined[0] != "first" {
		t.Fatalf("joined = %v, want [first]", fl.joined)
	}

	fl.state = lobby.StateIdle
	e.HandleLobbyFailed(lobby.KindMatch, lobby.FailJoinRejected, "lobby is full")

	if len(fl.joined) != 2 || fl.joined[1] != "second" {
		t.Fatalf("joined = %v, want [first second]", fl.joined)
	}
	if len(fl.created) != 0 {
		t.Errorf("created = %v, want none while a candidate remains", fl.created)
	}
}

func TestMatchFoundWhenLobbyFills(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	var foundRec *lobby.Record
	e.OnMatchFound(func(rec lobby.Record) { foundRec = &rec })
	var progress [][2]int
	e.OnProgress(func(found, required int) { progress = append(progress, [2]int{found, required}) })

	if err := e.FindMatch("classic", 1); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch() // creates own 2-player lobby

	e.HandleLobbyUpdate(lobby.KindMatch, matchLobby("mine", "peer-self", 1, 2))
	if foundRec != nil {
		t.Fatal("half-full lobby must not report a match")
	}

	e.HandleLobbyUpdate(lobby.KindMatch, matchLobby("mine", "peer-self", 2, 2))
	if foundRec == nil {
		t.Fatal("full lobby should report a match")
	}
	if e.Status() != StatusIdle {
		t.Errorf("status after match found = %v, want Idle", e.Status())
	}

	// Updates after the match report are ignored.
	before := len(progress)
	e.HandleLobbyUpdate(lobby.KindMatch, matchLobby("mine", "peer-self", 2, 2))
	if len(progress) != before {
		t.Error("post-match update still fired progress")
	}
}

func TestSearchTimeout(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	var failReason string
	e.OnFailed(func(reason string) { failReason = reason })

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch() // hosts a lobby that never fills

	base := time.Unix(1000, 0)
	e.Tick(base) // anchors the clock
	e.Tick(base.Add(30 * time.Second))
	if failReason != "" {
		t.Fatalf("failed early: %q", failReason)
	}

	e.Tick(base.Add(61 * time.Second))
	if failReason != "search timeout" {
		t.Fatalf("fail reason = %q, want %q", failReason, "search timeout")
	}
	if e.Status() != StatusIdle {
		t.Errorf("status = %v, want Idle", e.Status())
	}
	if fl.destroyed != 1 {
		t.Errorf("owned lobby destroys on timeout, destroyed = %d", fl.destroyed)
	}
}

func TestCancelDestroysOwnedLobby(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch() // hosts

	e.Cancel()
	if fl.destroyed != 1 || fl.left != 0 {
		t.Errorf("destroyed=%d left=%d, want destroy only", fl.destroyed, fl.left)
	}
	if e.Status() != StatusIdle {
		t.Errorf("status = %v, want Idle", e.Status())
	}
}

func TestCancelLeavesJoinedLobby(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	fl.searchResults = []lobby.Record{matchLobby("roomy", "peer-b", 1, 4)}
	e := newTestEngine(fl)

	if err := e.FindMatch("classic", 2); err != nil {
		t.Fatal(err)
	}
	fl.releaseSearch() // joins roomy

	e.Cancel()
	if fl.left != 1 || fl.destroyed != 0 {
		t.Errorf("left=%d destroyed=%d, want leave only", fl.left, fl.destroyed)
	}
}

func TestCancelWhileIdleIsNoop(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partySize: 1}
	e := newTestEngine(fl)

	e.Cancel()
	if fl.left != 0 || fl.destroyed != 0 {
		t.Error("idle cancel must not touch lobbies")
	}
}
