package matchmaking

import (
	"testing"

	"github.com/arshadbarves/reciperage-net/internal/lobby"
)

func partyRecord(owner string, attrs map[string]string) lobby.Record {
	return lobby.Record{
		ID:         "party-1",
		Kind:       lobby.KindParty,
		OwnerID:    owner,
		Attributes: attrs,
	}
}

func TestLeaderPublishesMatchLobbyToParty(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partyActive: true, partyOwner: true}
	fl.partyRec = partyRecord("peer-self", nil)
	s := NewPartySync(fl)

	s.HandleLobbyChanged(lobby.KindMatch, matchLobby("m1", "peer-self", 1, 4))

	if len(fl.attrWrites) != 1 {
		t.Fatalf("attrWrites = %v, want one", fl.attrWrites)
	}
	w := fl.attrWrites[0]
	if w.kind != lobby.KindParty || w.key != lobby.AttrMatchLobby || w.value != "m1" {
		t.Fatalf("wrote %+v, want party MatchLobbyID=m1", w)
	}

	// Repeated match updates do not rewrite an unchanged attribute.
	s.HandleLobbyChanged(lobby.KindMatch, matchLobby("m1", "peer-self", 2, 4))
	if len(fl.attrWrites) != 1 {
		t.Errorf("attrWrites = %v, want no rewrite for same lobby", fl.attrWrites)
	}
}

func TestSoloPlayerPublishesNothing(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self"}
	s := NewPartySync(fl)

	s.HandleLobbyChanged(lobby.KindMatch, matchLobby("m1", "peer-self", 1, 4))

	if len(fl.attrWrites) != 0 {
		t.Errorf("attrWrites = %v, want none without a party", fl.attrWrites)
	}
}

func TestFollowerJoinsPublishedMatchLobby(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partyActive: true, partyOwner: false}
	s := NewPartySync(fl)

	rec := partyRecord("peer-leader", map[string]string{lobby.AttrMatchLobby: "m1"})
	s.HandleLobbyChanged(lobby.KindParty, rec)

	if len(fl.joined) != 1 || fl.joined[0] != "m1" {
		t.Fatalf("joined = %v, want [m1]", fl.joined)
	}

	// Once the match track is busy, further party updates do not rejoin.
	s.HandleLobbyChanged(lobby.KindParty, rec)
	if len(fl.joined) != 1 {
		t.Errorf("joined = %v, want no second join", fl.joined)
	}
}

func TestLeaderDoesNotFollowOwnPublish(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partyActive: true, partyOwner: true}
	s := NewPartySync(fl)

	rec := partyRecord("peer-self", map[string]string{lobby.AttrMatchLobby: "m1"})
	s.HandleLobbyChanged(lobby.KindParty, rec)

	if len(fl.joined) != 0 {
		t.Errorf("joined = %v, leader must not follow", fl.joined)
	}
}

func TestFollowerIgnoresPartyWithoutMatch(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partyActive: true}
	s := NewPartySync(fl)

	s.HandleLobbyChanged(lobby.KindParty, partyRecord("peer-leader", nil))

	if len(fl.joined) != 0 {
		t.Errorf("joined = %v, want none", fl.joined)
	}
}

func TestMatchLeftRetractsPublishedLobby(t *testing.T) {
	fl := &fakeLobbies{selfID: "peer-self", partyActive: true, partyOwner: true}
	fl.partyRec = partyRecord("peer-self", map[string]string{lobby.AttrMatchLobby: "m1"})
	s := NewPartySync(fl)

	s.HandleMatchLeft()

	if len(fl.attrWrites) != 1 {
		t.Fatalf("attrWrites = %v, want one", fl.attrWrites)
	}
	w := fl.attrWrites[0]
	if w.key != lobby.AttrMatchLobby || w.value != "" {
		t.Fatalf("wrote %+v, want cleared MatchLobbyID", w)
	}

	// Already clear is a no-op.
	s.HandleMatchLeft()
	if len(fl.attrWrites) != 1 {
		t.Errorf("attrWrites = %v, want no rewrite", fl.attrWrites)
	}
}
