package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	PresenceTopic = "reciperage.presence.v1"
	LobbyTopic    = "reciperage.lobbies.v1"
	MdnsTag       = "reciperage-mdns"

	// libp2p stream protocol ID for in-session gameplay packets
	GameProtoID = "/reciperage/game/1.0.0"

	// libp2p stream protocol ID for the lobby relay (host-side)
	LobbyProtoID = "/reciperage/lobby/1.0.0"

	// libp2p stream protocol ID for friend/chat/presence traffic
	SocialProtoID = "/reciperage/social/1.0.0"
)

// MsgType is the one-byte message discriminator carried as the first byte
// of every packet frame.
type MsgType uint8

// Gameplay catalog. Types are grouped into reserved ranges so new messages
// can be added to a group without renumbering.
const (
	// System 0-9
	MsgHandshake  MsgType = 0
	MsgHeartbeat  MsgType = 1
	MsgDisconnect MsgType = 2

	// Lobby 10-19
	MsgLobbyState  MsgType = 10
	MsgPlayerJoin  MsgType = 11
	MsgPlayerLeave MsgType = 12
	MsgTeamChange  MsgType = 13
	MsgReadyChange MsgType = 14

	// Game flow 20-29
	MsgGameStart MsgType = 20
	MsgGameEnd   MsgType = 21
	MsgLoadLevel MsgType = 22

	// Gameplay actions 30-49
	MsgPlayerInput    MsgType = 30
	MsgPlayerPosition MsgType = 31
	MsgInteraction    MsgType = 32
	MsgScoreUpdate    MsgType = 33

	// In-game chat 50-59
	MsgChatLine MsgType = 50
	MsgEmote    MsgType = 51
)

// Social catalog. Carried on the social protocol, disjoint from the
// gameplay catalog.
const (
	SocialPing           MsgType = 0
	SocialPong           MsgType = 1
	SocialPresenceUpdate MsgType = 10
	SocialFriendRequest  MsgType = 20
	SocialFriendAccept   MsgType = 21
	SocialFriendReject   MsgType = 22
	SocialFriendRemove   MsgType = 23
	SocialChatMessage    MsgType = 30
	SocialGameInvite     MsgType = 40
)

// Packet is a single framed message: one type byte followed by an opaque
// payload. An empty payload is legal.
type Packet struct {
	Type    MsgType
	Payload []byte
}

// Encode serializes the packet into its frame form: byte[0] is the message
// type, the remainder is the payload.
func (p Packet) Encode() []byte {
	out := make([]byte, 1+len(p.Payload))
	out[0] = byte(p.Type)
	copy(out[1:], p.Payload)
	return out
}

// Decode parses a frame back into a packet. The payload is copied so the
// caller may reuse the input buffer.
func Decode(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, errors.New("empty frame")
	}
	p := Packet{Type: MsgType(frame[0])}
	if len(frame) > 1 {
		p.Payload = make([]byte, len(frame)-1)
		copy(p.Payload, frame[1:])
	}
	return p, nil
}

// MaxFrameSize caps a single frame on the stream carrier.
const MaxFrameSize = 1 << 20

// WriteFrame writes a length-prefixed frame to a stream. Streams are
// reliable-ordered, so the prefix is the only delimiting needed.
func WriteFrame(w io.Writer, p Packet) error {
	frame := p.Encode()
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(frame))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame from a stream.
func ReadFrame(r io.Reader) (Packet, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return Packet{}, fmt.Errorf("bad frame length: %d", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return Packet{}, err
	}
	return Decode(frame)
}

func NowMillis() int64 { return time.Now().UnixMilli() }
