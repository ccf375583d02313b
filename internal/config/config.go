package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sarichat/chat-relay/internal/origin"
)

const (
	envVarListenAddr      = "CHAT_RELAY_LISTEN_ADDR"
	envVarMode            = "CHAT_RELAY_MODE"
	envVarLogFormat       = "CHAT_RELAY_LOG_FORMAT"
	envVarLogLevel        = "CHAT_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "CHAT_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Connection hardening knobs.
	envVarMaxSessions          = "MAX_SESSIONS"
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarSendQueueSize        = "SEND_QUEUE_SIZE"
	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "WS_PING_INTERVAL"

	// Link preview proxy.
	envVarPreviewTimeout      = "PREVIEW_TIMEOUT"
	envVarPreviewMaxBodyBytes = "PREVIEW_MAX_BODY_BYTES"

	// Media transport allocator.
	envVarICEGatheringTimeout = "ICE_GATHERING_TIMEOUT"
	envVarMediaUDPPortMin     = "MEDIA_UDP_PORT_MIN"
	envVarMediaUDPPortMax     = "MEDIA_UDP_PORT_MAX"
	envVarMediaUDPListenIP    = "MEDIA_UDP_LISTEN_IP"
	envVarMediaNAT1To1IPs     = "MEDIA_NAT_1TO1_IPS"
)

const (
	DefaultListenAddr           = "127.0.0.1:3001"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultMaxSessions          = 0 // unlimited
	DefaultMaxMessageBytes      = int64(1 << 20)
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 256
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultPreviewTimeout       = 8 * time.Second
	DefaultPreviewMaxBodyBytes  = int64(2 << 20)
	DefaultICEGatherTimeout     = 2 * time.Second
	DefaultMediaUDPListenIP     = "0.0.0.0"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// PortRange is an inclusive UDP port range for ICE candidate gathering.
type PortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins holds normalized origins (or "*"). Empty means same-host
	// only; see internal/origin.
	AllowedOrigins []string

	// MaxSessions caps concurrent logged-in sessions. 0 = unlimited.
	MaxSessions int

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration

	PreviewTimeout      time.Duration
	PreviewMaxBodyBytes int64

	ICEServers          []webrtc.ICEServer
	ICEGatheringTimeout time.Duration
	MediaUDPPortRange   *PortRange
	MediaUDPListenIP    net.IP
	MediaNAT1To1IPs     []string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, DefaultMaxSessions)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueSize, err := envIntOrDefault(lookup, envVarSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	previewTimeout, err := envDurationOrDefault(lookup, envVarPreviewTimeout, DefaultPreviewTimeout)
	if err != nil {
		return Config{}, err
	}
	previewMaxBodyBytes, err := envInt64OrDefault(lookup, envVarPreviewMaxBodyBytes, DefaultPreviewMaxBodyBytes)
	if err != nil {
		return Config{}, err
	}

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	iceGatherTimeout, err := envDurationOrDefault(lookup, envVarICEGatheringTimeout, DefaultICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}

	mediaUDPPortMin, err := envUintOrDefault(lookup, envVarMediaUDPPortMin, 0)
	if err != nil {
		return Config{}, err
	}
	mediaUDPPortMax, err := envUintOrDefault(lookup, envVarMediaUDPPortMax, 0)
	if err != nil {
		return Config{}, err
	}
	mediaUDPListenIPStr := envOrDefault(lookup, envVarMediaUDPListenIP, DefaultMediaUDPListenIP)
	mediaNAT1To1IPsStr := envOrDefault(lookup, envVarMediaNAT1To1IPs, "")

	fs := flag.NewFlagSet("chat-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Maximum concurrent logged-in sessions (0 = unlimited; env "+envVarMaxSessions+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound WebSocket messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&sendQueueSize, "send-queue-size", sendQueueSize, "Outbound send queue length per connection; full queues drop (env "+envVarSendQueueSize+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close idle WebSocket connections after this duration (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Send ping frames at this interval (must be < --ws-idle-timeout; env "+envVarWSPingInterval+")")

	fs.DurationVar(&previewTimeout, "preview-timeout", previewTimeout, "Upper bound for a single link preview fetch (env "+envVarPreviewTimeout+")")
	fs.Int64Var(&previewMaxBodyBytes, "preview-max-body-bytes", previewMaxBodyBytes, "Max bytes read from a link preview target (env "+envVarPreviewMaxBodyBytes+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering when allocating media transports (env "+envVarICEGatheringTimeout+")")
	fs.UintVar(&mediaUDPPortMin, "media-udp-port-min", mediaUDPPortMin, "Min UDP port for media transport ICE (0 = unset; env "+envVarMediaUDPPortMin+")")
	fs.UintVar(&mediaUDPPortMax, "media-udp-port-max", mediaUDPPortMax, "Max UDP port for media transport ICE (0 = unset; env "+envVarMediaUDPPortMax+")")
	fs.StringVar(&mediaUDPListenIPStr, "media-udp-listen-ip", mediaUDPListenIPStr, "Local listen IP for media transport ICE UDP sockets (env "+envVarMediaUDPListenIP+")")
	fs.StringVar(&mediaNAT1To1IPsStr, "media-nat-1to1-ips", mediaNAT1To1IPsStr, "Comma-separated public IPs to advertise in ICE candidates (env "+envVarMediaNAT1To1IPs+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarAllowedOrigins, err)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	if sendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendQueueSize)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarWSPingInterval)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarWSIdleTimeout)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s must be less than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if previewTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarPreviewTimeout)
	}

	if (mediaUDPPortMin == 0) != (mediaUDPPortMax == 0) {
		return Config{}, fmt.Errorf("%s and %s must be set together (or both unset)", envVarMediaUDPPortMin, envVarMediaUDPPortMax)
	}
	var portRange *PortRange
	if mediaUDPPortMin != 0 {
		minPort, err := parsePortUint(mediaUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarMediaUDPPortMin, err)
		}
		maxPort, err := parsePortUint(mediaUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarMediaUDPPortMax, err)
		}
		if minPort > maxPort {
			return Config{}, fmt.Errorf("%s must not exceed %s", envVarMediaUDPPortMin, envVarMediaUDPPortMax)
		}
		portRange = &PortRange{Min: minPort, Max: maxPort}
	}

	mediaUDPListenIP := net.ParseIP(strings.TrimSpace(mediaUDPListenIPStr))
	if mediaUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s %q", envVarMediaUDPListenIP, mediaUDPListenIPStr)
	}
	mediaNAT1To1IPs, err := parseIPList(mediaNAT1To1IPsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarMediaNAT1To1IPs, err)
	}

	return Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		MaxSessions: maxSessions,

		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendQueueSize:        sendQueueSize,
		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,

		PreviewTimeout:      previewTimeout,
		PreviewMaxBodyBytes: previewMaxBodyBytes,

		ICEServers:          iceServers,
		ICEGatheringTimeout: iceGatherTimeout,
		MediaUDPPortRange:   portRange,
		MediaUDPListenIP:    mediaUDPListenIP,
		MediaNAT1To1IPs:     mediaNAT1To1IPs,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envUintOrDefault(lookup func(string) (string, bool), key string, fallback uint) (uint, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return uint(n), nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range", v)
	}
	return uint16(v), nil
}

func parseIPList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if net.ParseIP(part) == nil {
			return nil, fmt.Errorf("invalid ip %q", part)
		}
		out = append(out, part)
	}
	return out, nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}
