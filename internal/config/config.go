package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/arshadbarves/reciperage-net/internal/util"
)

type Config struct {
	Identity    Identity    `json:"identity"`
	P2P         P2P         `json:"p2p"`
	Presence    Presence    `json:"presence"`
	Matchmaking Matchmaking `json:"matchmaking"`
	Game        Game        `json:"game"`
}

type Identity struct {
	KeyFile     string `json:"key_file"`
	DisplayName string `json:"display_name"`
	DataDir     string `json:"data_dir"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
	EnableMDNS bool   `json:"enable_mdns"`

	// Inbound packets drained per tick. Larger values trade latency spikes
	// for throughput.
	DrainPerTick int `json:"drain_per_tick"`
}

type Presence struct {
	Topic        string `json:"topic"`
	HeartbeatSec int    `json:"heartbeat_seconds"`

	// Peers silent for this long are flipped to offline.
	StaleAfterSec int `json:"stale_after_seconds"`

	// Interval between staleness sweeps.
	SweepIntervalSec int `json:"sweep_interval_seconds"`
}

type Matchmaking struct {
	TimeoutSec int `json:"timeout_seconds"`
}

type Game struct {
	TickIntervalMs int    `json:"tick_interval_ms"`
	MaxPlayers     int    `json:"max_players"`
	GameMode       string `json:"game_mode"`
	MapName        string `json:"map_name"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile:     "data/identity.key",
			DisplayName: "Player",
			DataDir:     "data",
		},
		P2P: P2P{
			ListenPort:   0,
			MdnsTag:      "reciperage-mdns",
			EnableMDNS:   true,
			DrainPerTick: 64,
		},
		Presence: Presence{
			Topic:            "reciperage.presence.v1",
			HeartbeatSec:     5,
			StaleAfterSec:    300,
			SweepIntervalSec: 30,
		},
		Matchmaking: Matchmaking{
			TimeoutSec: 60,
		},
		Game: Game{
			TickIntervalMs: 50,
			MaxPlayers:     4,
			GameMode:       "classic",
			MapName:        "Kitchen",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if strings.TrimSpace(c.Identity.DataDir) == "" {
		return errors.New("identity.data_dir is required")
	}
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}
	if c.P2P.DrainPerTick <= 0 {
		return errors.New("p2p.drain_per_tick must be > 0")
	}
	if strings.TrimSpace(c.Presence.Topic) == "" {
		return errors.New("presence.topic is required")
	}
	if c.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be > 0")
	}
	if c.Presence.StaleAfterSec <= c.Presence.HeartbeatSec {
		return errors.New("presence.stale_after_seconds must be > presence.heartbeat_seconds")
	}
	if c.Presence.SweepIntervalSec <= 0 {
		return errors.New("presence.sweep_interval_seconds must be > 0")
	}
	if c.Matchmaking.TimeoutSec <= 0 {
		return errors.New("matchmaking.timeout_seconds must be > 0")
	}
	if c.Game.TickIntervalMs <= 0 {
		return errors.New("game.tick_interval_ms must be > 0")
	}
	if c.Game.MaxPlayers < 2 {
		return errors.New("game.max_players must be >= 2")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
