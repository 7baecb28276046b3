package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/config"
	"github.com/arshadbarves/reciperage-net/internal/lobby"
	"github.com/arshadbarves/reciperage-net/internal/matchmaking"
	"github.com/arshadbarves/reciperage-net/internal/p2p"
	"github.com/arshadbarves/reciperage-net/internal/roster"
	"github.com/arshadbarves/reciperage-net/internal/session"
	"github.com/arshadbarves/reciperage-net/internal/social"
	"github.com/arshadbarves/reciperage-net/internal/storage"
	"github.com/arshadbarves/reciperage-net/internal/transport"
	"github.com/arshadbarves/reciperage-net/internal/wire"
)

// App wires the whole peer together: identity, presence, lobbies,
// matchmaking, game transport and the social layer, all driven by one
// tick loop.
type App struct {
	cfg config.Config

	node      *p2p.Node
	db        *storage.DB
	transport *transport.Manager
	provider  *lobby.RelayProvider
	lobbies   *lobby.Manager
	roster    *roster.Registry
	engine    *matchmaking.Engine
	party     *matchmaking.PartySync
	bridge    *session.Bridge
	social    *social.Manager
	presence  *social.PresenceTable

	friendCode string

	// onGamePacket receives gameplay frames drained each tick.
	onGamePacket func(from string, pkt wire.Packet)
}

// Lobbies exposes the lobby orchestrator.
func (a *App) Lobbies() *lobby.Manager { return a.lobbies }

// Roster exposes the player registry.
func (a *App) Roster() *roster.Registry { return a.roster }

// Matchmaking exposes the matchmaking engine.
func (a *App) Matchmaking() *matchmaking.Engine { return a.engine }

// Session exposes the game session bridge.
func (a *App) Session() *session.Bridge { return a.bridge }

// Social exposes the friends, chat and presence layer.
func (a *App) Social() *social.Manager { return a.social }

// Presence exposes the peer presence table.
func (a *App) Presence() *social.PresenceTable { return a.presence }

// Transport exposes the game packet transport.
func (a *App) Transport() *transport.Manager { return a.transport }

// FriendCode returns the local friend code.
func (a *App) FriendCode() string { return a.friendCode }

// OnGamePacket registers the consumer for gameplay frames. Called on the
// tick loop goroutine.
func (a *App) OnGamePacket(fn func(from string, pkt wire.Packet)) {
	a.onGamePacket = fn
}

// New assembles a peer from its configuration. Nothing runs until Run.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{cfg: cfg}

	a.presence = social.NewPresenceTable(
		time.Duration(cfg.Presence.StaleAfterSec)*time.Second,
		time.Duration(cfg.Presence.SweepIntervalSec)*time.Second,
	)

	node, err := p2p.New(ctx, p2p.Options{
		ListenPort:   cfg.P2P.ListenPort,
		KeyFile:      cfg.Identity.KeyFile,
		MdnsTag:      cfg.P2P.MdnsTag,
		EnableMDNS:   cfg.P2P.EnableMDNS,
		PresenceTTL:  time.Duration(cfg.Presence.HeartbeatSec*4) * time.Second,
		SelfName:     func() string { return cfg.Identity.DisplayName },
		SelfPresence: a.selfPresence,
	})
	if err != nil {
		return nil, fmt.Errorf("start p2p node: %w", err)
	}
	a.node = node
	selfID := node.ID()

	db, err := storage.Open(cfg.Identity.DataDir)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("open social db: %w", err)
	}
	a.db = db

	chats, err := storage.NewChatStore(cfg.Identity.DataDir)
	if err != nil {
		db.Close()
		node.Close()
		return nil, fmt.Errorf("open chat store: %w", err)
	}

	code, err := social.EnsureFriendCode(db, selfID, cfg.Identity.DisplayName)
	if err != nil {
		db.Close()
		node.Close()
		return nil, err
	}
	a.friendCode = code

	a.social = social.New(node.Host, social.Options{
		DB:       db,
		Chats:    chats,
		Presence: a.presence,
		SelfName: cfg.Identity.DisplayName,
	})

	a.transport = transport.New(node.Host)
	a.provider = lobby.NewRelayProvider(node.Host, node)
	a.lobbies = lobby.NewManager(a.provider, selfID, cfg.Identity.DisplayName)
	a.roster = roster.NewRegistry(a.lobbies)
	a.engine = matchmaking.NewEngine(a.lobbies, time.Duration(cfg.Matchmaking.TimeoutSec)*time.Second)
	a.engine.SetLobbyAttributes(map[string]string{
		lobby.AttrMapName: cfg.Game.MapName,
	})
	a.party = matchmaking.NewPartySync(a.lobbies)
	a.bridge = session.NewBridge(a.transport, a.lobbies)

	a.wire()
	return a, nil
}

// wire connects the observer chains between subsystems.
func (a *App) wire() {
	a.lobbies.OnChanged(func(kind lobby.Kind, rec lobby.Record) {
		a.refreshRoster()
		a.engine.HandleLobbyUpdate(kind, rec)
		a.party.HandleLobbyChanged(kind, rec)
	})
	a.lobbies.OnFailed(func(kind lobby.Kind, f lobby.Failure, reason string) {
		a.engine.HandleLobbyFailed(kind, f, reason)
	})
	a.lobbies.OnLeft(func(kind lobby.Kind, reason string) {
		a.refreshRoster()
		if kind == lobby.KindMatch {
			a.party.HandleMatchLeft()
		}
	})

	a.engine.OnMatchFound(func(rec lobby.Record) {
		a.setPartySearching(false)
		a.bridge.StartFromMatch(rec)
	})
	a.engine.OnFailed(func(reason string) {
		a.setPartySearching(false)
	})

	// Disconnects surface during the tick-loop Drain, so the bridge sees
	// them on the tick thread.
	a.transport.OnPeerDisconnected(a.bridge.HandlePeerDisconnected)

	a.presence.OnChanged(func(p social.PeerPresence) {
		if p.Status != social.StatusOffline {
			// A peer coming back is the retry window for stored requests.
			go a.social.ResendPending(context.Background(), p.PeerID)
		}
	})
}

// CreateParty opens a private party sized by the configured player cap.
func (a *App) CreateParty() error {
	return a.lobbies.CreateParty(a.cfg.Game.MaxPlayers)
}

// FindMatch starts matchmaking. An empty gameMode or non-positive
// teamSize falls back to the configured game defaults.
func (a *App) FindMatch(gameMode string, teamSize int) error {
	if gameMode == "" {
		gameMode = a.cfg.Game.GameMode
	}
	if teamSize <= 0 {
		teamSize = a.cfg.Game.MaxPlayers / 2
	}
	if err := a.engine.FindMatch(gameMode, teamSize); err != nil {
		return err
	}
	a.setPartySearching(true)
	return nil
}

// CancelMatchmaking aborts an in-flight search.
func (a *App) CancelMatchmaking() {
	a.engine.Cancel()
	a.setPartySearching(false)
}

// setPartySearching mirrors the search state onto the party lobby so
// members see the leader queueing. Owner-only attribute.
func (a *App) setPartySearching(searching bool) {
	if !a.lobbies.IsOwner(lobby.KindParty) {
		return
	}
	if _, ok := a.lobbies.Record(lobby.KindParty); !ok {
		return
	}
	val := "false"
	if searching {
		val = "true"
	}
	if err := a.lobbies.SetAttribute(lobby.KindParty, lobby.AttrIsSearching, val); err != nil {
		log.Printf("APP: set party searching attribute: %v", err)
	}
}

// refreshRoster picks the registry's source lobby. The match lobby wins
// while its track is active, so during and after matchmaking the roster
// and its write-throughs follow the match players; the party roster is
// the fallback.
func (a *App) refreshRoster() {
	if rec, ok := a.lobbies.Record(lobby.KindMatch); ok {
		a.roster.Rebuild(lobby.KindMatch, rec)
		return
	}
	if rec, ok := a.lobbies.Record(lobby.KindParty); ok {
		a.roster.Rebuild(lobby.KindParty, rec)
		return
	}
	a.roster.Clear()
}

// selfPresence describes the local player for presence heartbeats.
func (a *App) selfPresence() (status, activity string, joinable bool, joinData string) {
	if a.bridge != nil && a.bridge.State() == session.StateInGame {
		return social.StatusOnline, social.ActivityGame, false, ""
	}
	if a.lobbies != nil {
		if rec, ok := a.lobbies.Record(lobby.KindParty); ok {
			canJoin := a.lobbies.IsOwner(lobby.KindParty) && rec.AvailableSlots() > 0
			return social.StatusOnline, social.ActivityLobby, canJoin, rec.ID
		}
	}
	return social.StatusOnline, social.ActivityMenu, false, ""
}

// Run starts the pubsub loops and the tick loop, blocking until the
// context ends.
func (a *App) Run(ctx context.Context) error {
	log.Printf("APP: peer %s (%s) up, friend code %s",
		a.node.ID(), a.cfg.Identity.DisplayName, a.friendCode)

	a.node.RunPresenceLoop(ctx, func(msg wire.PresenceMsg) {
		a.presence.Apply(msg, time.Now())
	})
	a.node.RunLobbyLoop(ctx, a.provider.HandleAnnounce)

	a.node.PublishPresence(ctx, wire.PresenceOnline)

	tick := time.NewTicker(time.Duration(a.cfg.Game.TickIntervalMs) * time.Millisecond)
	defer tick.Stop()
	heartbeat := time.NewTicker(time.Duration(a.cfg.Presence.HeartbeatSec) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case <-heartbeat.C:
			a.node.PublishPresence(ctx, wire.PresenceUpdate)
			a.provider.AnnounceHosted(ctx)
		case now := <-tick.C:
			a.tickOnce(now)
		}
	}
}

// tickOnce runs one frame of the single-threaded core: scheduled lobby
// continuations, matchmaking and presence timers, then a bounded drain of
// inbound game packets.
func (a *App) tickOnce(now time.Time) {
	a.lobbies.Tick(now)
	a.engine.Tick(now)
	a.presence.Tick(now)

	for _, in := range a.transport.Drain(a.cfg.P2P.DrainPerTick) {
		a.handleGamePacket(in.From, in.Packet)
	}
}

func (a *App) handleGamePacket(from string, pkt wire.Packet) {
	switch pkt.Type {
	case wire.MsgHandshake:
		log.Printf("APP: handshake from %s", from)
	case wire.MsgHeartbeat:
		// Liveness only; the transport already tracks the peer.
	case wire.MsgDisconnect:
		log.Printf("APP: %s announced disconnect", from)
	default:
		if a.onGamePacket != nil {
			a.onGamePacket(from, pkt)
			return
		}
		log.Printf("APP: unhandled game packet type %d from %s", pkt.Type, from)
	}
}

func (a *App) shutdown() {
	log.Printf("APP: shutting down")

	offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.node.PublishPresence(offCtx, wire.PresenceOffline)

	a.transport.Stop()
	a.provider.Close()
	if err := a.db.Close(); err != nil {
		log.Printf("APP: close db: %v", err)
	}
	if err := a.node.Close(); err != nil {
		log.Printf("APP: close node: %v", err)
	}
}

// DataPath resolves a path inside the configured data directory.
func (a *App) DataPath(elem ...string) string {
	return filepath.Join(append([]string{a.cfg.Identity.DataDir}, elem...)...)
}
