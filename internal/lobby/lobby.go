package lobby

// Kind distinguishes the two independent lobby tracks a player can occupy
// at the same time.
type Kind int

const (
	KindParty Kind = iota
	KindMatch
)

func (k Kind) String() string {
	if k == KindParty {
		return "Party"
	}
	return "Match"
}

// State is the lifecycle of one lobby track.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCreating:
		return "Creating"
	case StateJoining:
		return "Joining"
	case StateActive:
		return "Active"
	case StateLeaving:
		return "Leaving"
	default:
		return "Unknown"
	}
}

// Phase refines StateActive.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseReady
	PhaseCountdown
	PhaseStarting
	PhaseInGame
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "Waiting"
	case PhaseReady:
		return "Ready"
	case PhaseCountdown:
		return "Countdown"
	case PhaseStarting:
		return "Starting"
	case PhaseInGame:
		return "InGame"
	default:
		return "Unknown"
	}
}

// Standard lobby attribute keys.
const (
	AttrType        = "Type"
	AttrGameMode    = "GameMode"
	AttrMapName     = "MapName"
	AttrTeamSize    = "TeamSize"
	AttrStatus      = "Status"
	AttrPartyLeader = "PartyLeader"
	AttrIsSearching = "IsSearching"
	AttrMatchLobby  = "MatchLobbyID"
)

// Standard lobby attribute values.
const (
	TypeParty     = "Party"
	TypeMatch     = "Match"
	StatusFilling = "Filling"
	StatusActive  = "Active"
)

// Standard member attribute keys. Values are strings on the wire:
// IsReady "true"/"false", TeamId and CharacterClass stringified ints.
const (
	MemberAttrReady     = "IsReady"
	MemberAttrTeam      = "TeamId"
	MemberAttrCharacter = "CharacterClass"
)

// Member is one lobby occupant.
type Member struct {
	PeerID      string            `json:"peerId"`
	DisplayName string            `json:"displayName"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Record is a full lobby snapshot. CurrentMembers always equals
// len(Members).
type Record struct {
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind"`
	OwnerID        string            `json:"ownerId"`
	MaxMembers     int               `json:"maxMembers"`
	CurrentMembers int               `json:"currentMembers"`
	IsPrivate      bool              `json:"isPrivate"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Members        []Member          `json:"members"`
}

// AvailableSlots returns how many more members the lobby can take.
func (r Record) AvailableSlots() int {
	return r.MaxMembers - r.CurrentMembers
}

// MemberByID returns the member record for a peer, if present.
func (r Record) MemberByID(peerID string) (Member, bool) {
	for _, m := range r.Members {
		if m.PeerID == peerID {
			return m, true
		}
	}
	return Member{}, false
}

// Clone deep-copies the record so callers can hold it across ticks.
func (r Record) Clone() Record {
	out := r
	out.Attributes = cloneAttrs(r.Attributes)
	out.Members = make([]Member, len(r.Members))
	for i, m := range r.Members {
		out.Members[i] = Member{
			PeerID:      m.PeerID,
			DisplayName: m.DisplayName,
			Attributes:  cloneAttrs(m.Attributes),
		}
	}
	return out
}

func cloneAttrs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
