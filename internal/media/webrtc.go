// Package media allocates server-side WebRTC audio transports for the group
// call. The relay only ever carries opus audio; each transport is one
// PeerConnection whose offer the client answers over HTTP.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/sarichat/chat-relay/internal/config"
)

// NewAPI builds a webrtc.API with the configured network settings and with
// pion's internal logging routed into slog.
func NewAPI(cfg config.Config, logger *slog.Logger) (*webrtc.API, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	se := webrtc.SettingEngine{
		LoggerFactory: &slogLoggerFactory{log: logger},
	}
	if err := applyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}

	// Audio only. Registering just opus keeps the SDP small and rejects
	// video m-lines outright.
	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)), nil
}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

func applyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.MediaUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.MediaUDPPortRange.Min, cfg.MediaUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.MediaNAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(cfg.MediaNAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	// SettingEngine doesn't currently expose a "bind to 0.0.0.0" toggle; instead
	// we restrict candidate gathering and socket binding via IPFilter.
	if !config.IsUnspecifiedIP(cfg.MediaUDPListenIP) {
		listenIP := cfg.MediaUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}

type slogLoggerFactory struct {
	log *slog.Logger
}

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveledLogger{log: f.log.With("scope", scope)}
}

// slogLeveledLogger adapts pion's LeveledLogger to slog. Trace and Debug both
// map to slog's debug level.
type slogLeveledLogger struct {
	log *slog.Logger
}

func (l *slogLeveledLogger) Trace(msg string)                          { l.log.Debug(msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *slogLeveledLogger) Debug(msg string)                          { l.log.Debug(msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *slogLeveledLogger) Info(msg string)                           { l.log.Info(msg) }
func (l *slogLeveledLogger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l *slogLeveledLogger) Warn(msg string)                           { l.log.Warn(msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }
func (l *slogLeveledLogger) Error(msg string)                          { l.log.Error(msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args...) }

func (l *slogLeveledLogger) logf(level slog.Level, format string, args ...interface{}) {
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
