package cmd

import (
	"testing"

	"switchboard/pkg/config"
)

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if got := enabledChannelNames(cfg); got != "" {
		t.Fatalf("enabledChannelNames = %q, want empty", got)
	}

	cfg.Channels.Telegram = config.TelegramConfig{Enabled: true, Mode: config.TelegramModePolling}
	cfg.Channels.Simulator.Enabled = true
	if got := enabledChannelNames(cfg); got != "telegram:polling,simulator" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram:polling,simulator")
	}
}

func TestCommandsRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"gateway", "chat"} {
		found, _, err := rootCmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}
