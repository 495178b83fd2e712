package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECEIPT_FRESHNESS", "30m")
	t.Setenv("BROKER", "redis")

	cfg := Load()
	if cfg.ReceiptFreshness != 30*time.Minute {
		t.Errorf("ReceiptFreshness = %v, want 30m", cfg.ReceiptFreshness)
	}
	if cfg.Broker != "redis" {
		t.Errorf("Broker = %q, want redis", cfg.Broker)
	}
}

func TestLoadClampsFreshness(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "too large", value: "72h", want: MaxFreshness},
		{name: "too small", value: "5s", want: MinFreshness},
		{name: "plain seconds", value: "600", want: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RECEIPT_FRESHNESS", tt.value)
			if got := Load().ReceiptFreshness; got != tt.want {
				t.Errorf("ReceiptFreshness = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvDurationFallback(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "not-a-duration")
	if got := getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second); got != 15*time.Second {
		t.Errorf("getEnvDuration() = %v, want fallback 15s", got)
	}
}
