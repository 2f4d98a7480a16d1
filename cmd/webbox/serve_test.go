package main

import (
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/webbox/internal/appconfig"
)

func TestLocationFromBaseURL(t *testing.T) {
	loc := locationFromBaseURL("https://code.example.com")
	if loc.Protocol != "https:" || loc.Host != "code.example.com" {
		t.Fatalf("unexpected location %+v", loc)
	}
	if loc := locationFromBaseURL(""); loc.Host != "" {
		t.Fatalf("expected empty location, got %+v", loc)
	}
}

func TestServerConfigFromAppConfig(t *testing.T) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	dir := t.TempDir()
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Sandbox.KeepaliveInterval = 5 * time.Second
	cfg.Sandbox.StopGrace = 0
	cfg.Store.Seal = true

	got, err := serverConfig(cfg, nil)
	if err != nil {
		t.Fatalf("server config: %v", err)
	}
	if got.Sandbox.KeepaliveInterval != 5*time.Second || got.StateDir != cfg.StateDir {
		t.Fatalf("sandbox settings not carried over: %+v", got.Sandbox)
	}
	if !got.Store.Seal || got.Store.KeyStorePath != cfg.Store.KeyStorePath {
		t.Fatalf("store settings not carried over: %+v", got.Store)
	}
	if got.Project.StopGrace <= 0 || got.Languages == nil {
		t.Fatalf("project defaults not normalized: %+v", got.Project)
	}
}
