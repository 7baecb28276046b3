package lobby

// Message type constants for the lobby relay wire format.
const (
	TypeJoin        = "join"
	TypeWelcome     = "welcome"
	TypeRoster      = "roster"
	TypeAttrs       = "attrs"
	TypeMemberAttrs = "member_attrs"
	TypeLeave       = "leave"
	TypeClose       = "close"
	TypeError       = "error"
)

// Relay error codes returned to a joining client.
const (
	ErrCodeNotFound = "not_found"
	ErrCodeFull     = "full"
	ErrCodeBadMsg   = "bad_first_msg"
)

// relayMsg is the JSON wire format for lobby relay messages, newline
// delimited on the stream. The host enforces From on every relayed message.
type relayMsg struct {
	Type  string `json:"type"`
	Lobby string `json:"lobby"`
	From  string `json:"from,omitempty"`

	// join
	Member *Member `json:"member,omitempty"`

	// welcome, roster
	Record *Record `json:"record,omitempty"`

	// attrs, member_attrs
	Attrs map[string]string `json:"attrs,omitempty"`

	// error
	Error *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload is sent when the host rejects a request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
