package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/arshadbarves/reciperage-net/internal/util"
	"github.com/arshadbarves/reciperage-net/internal/wire"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

func init() {
	// Silence noisy libp2p subsystems. Dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

// Node owns the libp2p host plus the two gossip topics: presence heartbeats
// and the lobby directory.
type Node struct {
	Host host.Host
	ps   *pubsub.PubSub

	presenceTopic *pubsub.Topic
	presenceSub   *pubsub.Subscription
	lobbyTopic    *pubsub.Topic
	lobbySub      *pubsub.Subscription

	// Self-describing fields included in every presence publish.
	selfName     func() string
	selfPresence func() (status, activity string, joinable bool, joinData string)

	presenceTTL time.Duration
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("P2P: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

type Options struct {
	ListenPort  int
	KeyFile     string
	MdnsTag     string
	EnableMDNS  bool
	PresenceTTL time.Duration

	SelfName     func() string
	SelfPresence func() (status, activity string, joinable bool, joinData string)
}

func New(ctx context.Context, opts Options) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(opts.KeyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("P2P: generated new identity key: %s", opts.KeyFile)
	} else {
		log.Printf("P2P: loaded identity key: %s", opts.KeyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	if opts.EnableMDNS {
		md := mdns.NewMdnsService(h, opts.MdnsTag, &mdnsNotifee{h: h})
		if err := md.Start(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	presenceTopic, err := ps.Join(wire.PresenceTopic)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	presenceSub, err := presenceTopic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	lobbyTopic, err := ps.Join(wire.LobbyTopic)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	lobbySub, err := lobbyTopic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	ttl := opts.PresenceTTL
	if ttl <= 0 {
		ttl = 20 * time.Second
	}

	return &Node{
		Host:          h,
		ps:            ps,
		presenceTopic: presenceTopic,
		presenceSub:   presenceSub,
		lobbyTopic:    lobbyTopic,
		lobbySub:      lobbySub,
		selfName:      opts.SelfName,
		selfPresence:  opts.SelfPresence,
		presenceTTL:   ttl,
	}, nil
}

func (n *Node) Close() error {
	return n.Host.Close()
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// PublishPresence broadcasts a presence message of the given type.
func (n *Node) PublishPresence(ctx context.Context, typ string) {
	msg := wire.PresenceMsg{
		Type:   typ,
		PeerID: n.ID(),
		TS:     wire.NowMillis(),
	}
	if typ == wire.PresenceOnline || typ == wire.PresenceUpdate {
		if n.selfName != nil {
			msg.Name = n.selfName()
		}
		if n.selfPresence != nil {
			msg.Status, msg.Activity, msg.Joinable, msg.JoinData = n.selfPresence()
		}
		msg.Addrs = n.reachableAddrs()
	}

	b, _ := json.Marshal(msg)
	_ = n.presenceTopic.Publish(ctx, b)
}

// PublishLobby broadcasts a lobby directory announcement.
func (n *Node) PublishLobby(ctx context.Context, ann wire.LobbyAnnounce) {
	b, _ := json.Marshal(ann)
	_ = n.lobbyTopic.Publish(ctx, b)
}

// RunPresenceLoop consumes presence messages in the background and hands
// each one to onMsg. Messages from ourselves are skipped.
func (n *Node) RunPresenceLoop(ctx context.Context, onMsg func(msg wire.PresenceMsg)) {
	go func() {
		for {
			m, err := n.presenceSub.Next(ctx)
			if err != nil {
				return
			}

			var pm wire.PresenceMsg
			if err := json.Unmarshal(m.Data, &pm); err != nil {
				continue
			}
			if pm.PeerID == "" || pm.Type == "" {
				continue
			}
			if pm.PeerID == n.ID() {
				continue
			}

			n.addPeerAddrs(pm.PeerID, pm.Addrs)

			if onMsg != nil {
				onMsg(pm)
			}
		}
	}()
}

// RunLobbyLoop consumes lobby directory announcements in the background.
func (n *Node) RunLobbyLoop(ctx context.Context, onMsg func(ann wire.LobbyAnnounce)) {
	go func() {
		for {
			m, err := n.lobbySub.Next(ctx)
			if err != nil {
				return
			}

			var ann wire.LobbyAnnounce
			if err := json.Unmarshal(m.Data, &ann); err != nil {
				continue
			}
			if ann.LobbyID == "" || ann.OwnerID == "" {
				continue
			}
			if ann.OwnerID == n.ID() {
				continue
			}

			if onMsg != nil {
				onMsg(ann)
			}
		}
	}()
}

// Connect dials a peer by ID using whatever addresses the peerstore holds.
func (n *Node) Connect(ctx context.Context, peerID string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("invalid peer ID: %w", err)
	}
	return n.Host.Connect(ctx, peer.AddrInfo{ID: pid})
}

// reachableAddrs returns the host's multiaddresses filtered to exclude
// loopback and link-local addresses.
func (n *Node) reachableAddrs() []string {
	var out []string
	for _, a := range n.Host.Addrs() {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

// addPeerAddrs parses multiaddr strings and adds them to the peerstore.
func (n *Node) addPeerAddrs(peerID string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	pid, err := peer.Decode(peerID)
	if err != nil {
		return
	}
	var parsed []ma.Multiaddr
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ip, err := manet.ToIP(a); err == nil {
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
		}
		parsed = append(parsed, a)
	}
	if len(parsed) > 0 {
		n.Host.Peerstore().AddAddrs(pid, parsed, n.presenceTTL)
	}
}
