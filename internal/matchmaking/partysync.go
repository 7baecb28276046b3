package matchmaking

import (
	"log"

	"github.com/arshadbarves/reciperage-net/internal/lobby"
)

// PartySync carries the rest of a party into the match lobby the leader
// found. The leader publishes the match lobby ID as a party attribute;
// every other party member follows it with a JoinByID, consuming the
// slots the search reserved for the whole party.
type PartySync struct {
	lobbies Lobbies
}

func NewPartySync(l Lobbies) *PartySync {
	return &PartySync{lobbies: l}
}

// HandleLobbyChanged consumes lobby snapshots from both tracks. Wired to
// the orchestrator's change observer.
func (s *PartySync) HandleLobbyChanged(kind lobby.Kind, rec lobby.Record) {
	switch kind {
	case lobby.KindMatch:
		s.publishMatchLobby(rec.ID)
	case lobby.KindParty:
		s.followMatchLobby(rec)
	}
}

// HandleMatchLeft retracts the published match lobby once the leader's
// match track goes idle.
func (s *PartySync) HandleMatchLeft() {
	s.publishMatchLobby("")
}

// publishMatchLobby writes the match lobby ID onto the party record.
// Party leader only; a solo player has no party to bring along.
func (s *PartySync) publishMatchLobby(id string) {
	if !s.lobbies.IsOwner(lobby.KindParty) {
		return
	}
	rec, ok := s.lobbies.Record(lobby.KindParty)
	if !ok || rec.Attributes[lobby.AttrMatchLobby] == id {
		return
	}
	if err := s.lobbies.SetAttribute(lobby.KindParty, lobby.AttrMatchLobby, id); err != nil {
		log.Printf("MM: publish match lobby to party failed: %v", err)
		return
	}
	if id != "" {
		log.Printf("MM: published match lobby %s to the party", id)
	}
}

// followMatchLobby joins the match lobby the party leader published.
func (s *PartySync) followMatchLobby(rec lobby.Record) {
	if s.lobbies.IsOwner(lobby.KindParty) {
		return
	}
	id := rec.Attributes[lobby.AttrMatchLobby]
	if id == "" {
		return
	}
	if s.lobbies.State(lobby.KindMatch) != lobby.StateIdle {
		return
	}
	log.Printf("MM: following party leader into match lobby %s", id)
	if err := s.lobbies.JoinByID(lobby.KindMatch, id); err != nil {
		log.Printf("MM: follow into %s failed: %v", id, err)
	}
}
