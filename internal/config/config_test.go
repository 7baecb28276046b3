package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty key file", func(c *Config) { c.Identity.KeyFile = " " }},
		{"empty data dir", func(c *Config) { c.Identity.DataDir = "" }},
		{"negative port", func(c *Config) { c.P2P.ListenPort = -1 }},
		{"huge port", func(c *Config) { c.P2P.ListenPort = 70000 }},
		{"zero drain", func(c *Config) { c.P2P.DrainPerTick = 0 }},
		{"empty presence topic", func(c *Config) { c.Presence.Topic = "" }},
		{"zero heartbeat", func(c *Config) { c.Presence.HeartbeatSec = 0 }},
		{"zero mm timeout", func(c *Config) { c.Matchmaking.TimeoutSec = 0 }},
		{"zero tick", func(c *Config) { c.Game.TickIntervalMs = 0 }},
		{"zero players", func(c *Config) { c.Game.MaxPlayers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("first Ensure should create the file")
	}
	if cfg.Game.MaxPlayers != Default().Game.MaxPlayers {
		t.Errorf("created config differs from defaults: %+v", cfg)
	}

	cfg.Identity.DisplayName = "Chef"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second Ensure must not recreate")
	}
	if again.Identity.DisplayName != "Chef" {
		t.Errorf("DisplayName = %q, want Chef", again.Identity.DisplayName)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"identity":{"key_file":"k","display_name":"D","data_dir":"d"}}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.DisplayName != "D" {
		t.Errorf("DisplayName = %q", cfg.Identity.DisplayName)
	}
}
