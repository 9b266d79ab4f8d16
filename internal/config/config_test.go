package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("Server.Addr = %q, want 127.0.0.1:8080", cfg.Server.Addr)
	}
	if cfg.Queue.Name != "chat_history" {
		t.Errorf("Queue.Name = %q, want chat_history", cfg.Queue.Name)
	}
	if cfg.Auth.Timeout != 5*time.Second {
		t.Errorf("Auth.Timeout = %v, want 5s", cfg.Auth.Timeout)
	}
	if cfg.Retrieval.Timeout != 10*time.Second {
		t.Errorf("Retrieval.Timeout = %v, want 10s", cfg.Retrieval.Timeout)
	}
	if cfg.Retrieval.MaxAttempts != 3 {
		t.Errorf("Retrieval.MaxAttempts = %d, want 3", cfg.Retrieval.MaxAttempts)
	}
	if cfg.Memory.TTL != 24*time.Hour {
		t.Errorf("Memory.TTL = %v, want 24h", cfg.Memory.TTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATGATE_ADDR", "0.0.0.0:9999")
	t.Setenv("CHATGATE_QUEUE_NAME", "interactions")
	t.Setenv("CHATGATE_VECTOR_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9999" {
		t.Errorf("Server.Addr = %q, want 0.0.0.0:9999", cfg.Server.Addr)
	}
	if cfg.Queue.Name != "interactions" {
		t.Errorf("Queue.Name = %q, want interactions", cfg.Queue.Name)
	}
	if cfg.Retrieval.MaxAttempts != 5 {
		t.Errorf("Retrieval.MaxAttempts = %d, want 5", cfg.Retrieval.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server address"},
		{"zero max conns", func(c *Config) { c.Server.MaxConns = 0 }, "max connections"},
		{"zero attempts", func(c *Config) { c.Retrieval.MaxAttempts = 0 }, "retrieval attempts"},
		{"empty queue", func(c *Config) { c.Queue.Name = "" }, "queue name"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestUsesPostgres(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"postgres://user:pw@localhost:5432/chat_history", true},
		{"postgresql://localhost/chat_history", true},
		{"data", false},
		{"", false},
	}
	for _, tt := range tests {
		sc := StorageConfig{DatabaseURL: tt.url}
		if got := sc.UsesPostgres(); got != tt.want {
			t.Errorf("UsesPostgres(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
