package config

import (
	"strings"
	"testing"
	"time"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(envLookup(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("dev mode should default to text logs, got %q", cfg.LogFormat)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes = %d", cfg.MaxMessageBytes)
	}
	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		t.Fatalf("default ping interval %v must be below idle timeout %v", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
	if cfg.PreviewTimeout != DefaultPreviewTimeout {
		t.Fatalf("PreviewTimeout = %v", cfg.PreviewTimeout)
	}
	if cfg.MediaUDPPortRange != nil {
		t.Fatalf("expected no port range by default")
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(envLookup(map[string]string{"CHAT_RELAY_MODE": "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("prod mode should default to JSON logs, got %q", cfg.LogFormat)
	}
}

func TestLoad_EnvValues(t *testing.T) {
	env := map[string]string{
		"CHAT_RELAY_LISTEN_ADDR": "0.0.0.0:8080",
		"ALLOWED_ORIGINS":        "https://chat.example.com, http://localhost:3000",
		"MAX_SESSIONS":           "10",
		"MAX_MESSAGE_BYTES":      "4096",
		"WS_IDLE_TIMEOUT":        "90s",
		"WS_PING_INTERVAL":       "30s",
		"MEDIA_UDP_PORT_MIN":     "50000",
		"MEDIA_UDP_PORT_MAX":     "50100",
	}
	cfg, err := load(envLookup(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://chat.example.com" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxSessions != 10 || cfg.MaxMessageBytes != 4096 {
		t.Fatalf("limits = %d / %d", cfg.MaxSessions, cfg.MaxMessageBytes)
	}
	if cfg.WSIdleTimeout != 90*time.Second || cfg.WSPingInterval != 30*time.Second {
		t.Fatalf("timeouts = %v / %v", cfg.WSIdleTimeout, cfg.WSPingInterval)
	}
	if cfg.MediaUDPPortRange == nil || cfg.MediaUDPPortRange.Min != 50000 || cfg.MediaUDPPortRange.Max != 50100 {
		t.Fatalf("MediaUDPPortRange = %+v", cfg.MediaUDPPortRange)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := map[string]string{"CHAT_RELAY_LISTEN_ADDR": "127.0.0.1:9999"}
	cfg, err := load(envLookup(env), []string{"-listen-addr", "127.0.0.1:4000", "-max-sessions", "3"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:4000" {
		t.Fatalf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
	if cfg.MaxSessions != 3 {
		t.Fatalf("MaxSessions = %d", cfg.MaxSessions)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{
			name:    "ping must be below idle",
			env:     map[string]string{"WS_PING_INTERVAL": "2m", "WS_IDLE_TIMEOUT": "1m"},
			wantSub: "WS_PING_INTERVAL",
		},
		{
			name:    "ping interval positive",
			env:     map[string]string{"WS_PING_INTERVAL": "0s"},
			wantSub: "WS_PING_INTERVAL",
		},
		{
			name:    "idle timeout positive",
			env:     map[string]string{"WS_IDLE_TIMEOUT": "-1s"},
			wantSub: "WS_IDLE_TIMEOUT",
		},
		{
			name:    "port range must be paired",
			env:     map[string]string{"MEDIA_UDP_PORT_MIN": "50000"},
			wantSub: "MEDIA_UDP_PORT_MAX",
		},
		{
			name:    "port range order",
			env:     map[string]string{"MEDIA_UDP_PORT_MIN": "50100", "MEDIA_UDP_PORT_MAX": "50000"},
			wantSub: "MEDIA_UDP_PORT_MIN",
		},
		{
			name:    "message bytes positive",
			env:     map[string]string{"MAX_MESSAGE_BYTES": "0"},
			wantSub: "MAX_MESSAGE_BYTES",
		},
		{
			name:    "bad mode",
			env:     map[string]string{"CHAT_RELAY_MODE": "staging"},
			wantSub: "mode",
		},
		{
			name:    "bad listen ip",
			env:     map[string]string{"MEDIA_UDP_LISTEN_IP": "localhost"},
			wantSub: "MEDIA_UDP_LISTEN_IP",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(envLookup(tc.env), nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoad_ICEServers(t *testing.T) {
	env := map[string]string{
		"ICE_SERVERS_JSON": `[{"urls":"stun:stun.example.com:3478"},{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"c"}]`,
	}
	cfg, err := load(envLookup(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers = %+v", cfg.ICEServers)
	}
	if cfg.ICEServers[1].Username != "u" {
		t.Fatalf("turn username = %q", cfg.ICEServers[1].Username)
	}
}

func TestLoad_TURNRequiresCredentials(t *testing.T) {
	env := map[string]string{"TURN_URLS": "turn:turn.example.com:3478"}
	if _, err := load(envLookup(env), nil); err == nil {
		t.Fatalf("expected TURN without credentials to be rejected")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		cfg := Config{LogFormat: format}
		if _, err := NewLogger(cfg); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected unsupported format to fail")
	}
}
