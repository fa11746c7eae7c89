package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatchAppliesReload(t *testing.T) {
	path := writeConfig(t, "telecast.yaml", validYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan Config, 4)
	if err := Watch(ctx, path, zerolog.Nop(), func(cfg Config) {
		applied <- cfg
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	updated := strings.Replace(validYAML, "rate_per_sec: 15", "rate_per_sec: 5", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.Broadcast.RatePerSec != 5 {
			t.Fatalf("applied rate = %v, want 5", cfg.Broadcast.RatePerSec)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never applied")
	}
}

func TestWatchSkipsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "telecast.yaml", validYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan Config, 4)
	if err := Watch(ctx, path, zerolog.Nop(), func(cfg Config) {
		applied <- cfg
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// Break the file, then fix it; only the valid version may be applied.
	if err := os.WriteFile(path, []byte("telegram: [not a mapping"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("restore config: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.Telegram.Token != "123:abc" {
			t.Fatalf("applied config = %+v, want the restored valid one", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("restored config never applied")
	}
}
