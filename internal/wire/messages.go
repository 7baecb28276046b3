package wire

// Presence messages published on the presence pubsub topic.
const (
	PresenceOnline  = "online"
	PresenceUpdate  = "update"
	PresenceOffline = "offline"
)

type PresenceMsg struct {
	Type     string   `json:"type"` // online|update|offline
	PeerID   string   `json:"peerId"`
	Name     string   `json:"name,omitempty"`
	Status   string   `json:"status,omitempty"`
	Activity string   `json:"activity,omitempty"` // "In Menu" | "In Lobby" | "In Game"
	Joinable bool     `json:"joinable,omitempty"`
	JoinData string   `json:"joinData,omitempty"` // lobby id when joinable
	Addrs    []string `json:"addrs,omitempty"`
	TS       int64    `json:"ts"`
}

// LobbyAnnounce is published on the lobby directory topic by lobby owners.
// Entries expire when the owner stops re-announcing them.
type LobbyAnnounce struct {
	Type       string            `json:"type"` // announce|retract
	LobbyID    string            `json:"lobbyId"`
	OwnerID    string            `json:"ownerId"`
	MaxMembers int               `json:"maxMembers"`
	Members    int               `json:"members"`
	Private    bool              `json:"private"`
	Attributes map[string]string `json:"attributes,omitempty"`
	TS         int64             `json:"ts"`
}

const (
	AnnounceTypeAnnounce = "announce"
	AnnounceTypeRetract  = "retract"
)

// Social payloads. Each rides a social packet as JSON, typed by the packet's
// first byte.

type FriendRequestMsg struct {
	RequestID string `json:"requestId"`
	FromID    string `json:"fromId"`
	FromName  string `json:"fromName"`
	ToID      string `json:"toId"`
	SentAt    int64  `json:"sentAt"`
}

// FriendRespondMsg answers a friend request (accept, reject or remove).
type FriendRespondMsg struct {
	RequestID string `json:"requestId,omitempty"`
	FromID    string `json:"fromId"`
	ToID      string `json:"toId"`
}

type ChatMsg struct {
	MessageID  string            `json:"messageId"`
	SenderID   string            `json:"senderId"`
	ReceiverID string            `json:"receiverId"`
	Content    string            `json:"content"`
	SentAt     int64             `json:"sentAt"`
	Kind       string            `json:"kind"` // text|game_invite
	Extra      map[string]string `json:"extra,omitempty"`
}

type PresenceDirectMsg struct {
	PeerID   string `json:"peerId"`
	Status   string `json:"status"`
	Activity string `json:"activity,omitempty"`
	Joinable bool   `json:"joinable,omitempty"`
	JoinData string `json:"joinData,omitempty"`
	TS       int64  `json:"ts"`
}

type PingMsg struct {
	TS int64 `json:"ts"`
}
