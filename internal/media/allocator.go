package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/sarichat/chat-relay/internal/config"
	"github.com/sarichat/chat-relay/internal/metrics"
)

var (
	ErrTransportNotFound = errors.New("media: transport not found")
	ErrGatherTimeout     = errors.New("media: ice gathering timed out")
)

// Transport is one server-side PeerConnection handed out to a group call
// participant.
type Transport struct {
	ID string

	pc        *webrtc.PeerConnection
	createdAt time.Time
}

// Descriptor is the wire shape returned when a transport is allocated: the
// client answers the embedded offer to connect.
type Descriptor struct {
	ID      string `json:"id"`
	SDPType string `json:"sdpType"`
	SDP     string `json:"sdp"`
}

// Allocator creates, connects, and closes audio transports. It is safe for
// concurrent use.
type Allocator struct {
	api           *webrtc.API
	iceServers    []webrtc.ICEServer
	gatherTimeout time.Duration
	log           *slog.Logger
	metrics       *metrics.Metrics

	mu         sync.Mutex
	transports map[string]*Transport
}

func NewAllocator(api *webrtc.API, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Allocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	return &Allocator{
		api:           api,
		iceServers:    cfg.ICEServers,
		gatherTimeout: cfg.ICEGatheringTimeout,
		log:           logger,
		metrics:       m,
		transports:    make(map[string]*Transport),
	}
}

// CreateTransport allocates a PeerConnection with a receive-capable opus
// transceiver and returns its gathered offer. The caller answers via
// ConnectTransport.
func (a *Allocator) CreateTransport(ctx context.Context) (*Descriptor, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
	if err != nil {
		return nil, fmt.Errorf("media: new peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: add audio transceiver: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: set local description: %w", err)
	}

	gatherCtx := ctx
	if a.gatherTimeout > 0 {
		var cancel context.CancelFunc
		gatherCtx, cancel = context.WithTimeout(ctx, a.gatherTimeout)
		defer cancel()
	}
	select {
	case <-gatherComplete:
	case <-gatherCtx.Done():
		// Partial gathering is usable when at least the host candidates made
		// it into the SDP; a fully empty description is not.
		if pc.LocalDescription() == nil {
			_ = pc.Close()
			return nil, ErrGatherTimeout
		}
	}

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return nil, ErrGatherTimeout
	}

	t := &Transport{
		ID:        uuid.NewString(),
		pc:        pc,
		createdAt: time.Now(),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			a.remove(t.ID)
		}
	})

	a.mu.Lock()
	a.transports[t.ID] = t
	a.mu.Unlock()

	a.metrics.Inc(metrics.MediaTransportsCreated)
	a.log.Info("media transport created", "transport_id", t.ID)

	return &Descriptor{
		ID:      t.ID,
		SDPType: "offer",
		SDP:     local.SDP,
	}, nil
}

// ConnectTransport applies the client's answer to a previously allocated
// transport.
func (a *Allocator) ConnectTransport(id, answerSDP string) error {
	a.mu.Lock()
	t, ok := a.transports[id]
	a.mu.Unlock()
	if !ok {
		return ErrTransportNotFound
	}

	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}

// CloseTransport tears one transport down. Closing an unknown id is an error
// so clients notice stale handles.
func (a *Allocator) CloseTransport(id string) error {
	t := a.remove(id)
	if t == nil {
		return ErrTransportNotFound
	}
	return t.pc.Close()
}

// Close tears down every live transport, for shutdown.
func (a *Allocator) Close() {
	a.mu.Lock()
	transports := make([]*Transport, 0, len(a.transports))
	for _, t := range a.transports {
		transports = append(transports, t)
	}
	a.transports = make(map[string]*Transport)
	a.mu.Unlock()

	for _, t := range transports {
		_ = t.pc.Close()
		a.metrics.Inc(metrics.MediaTransportsClosed)
	}
}

func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transports)
}

func (a *Allocator) remove(id string) *Transport {
	a.mu.Lock()
	t, ok := a.transports[id]
	if ok {
		delete(a.transports, id)
	}
	a.mu.Unlock()

	if ok {
		a.metrics.Inc(metrics.MediaTransportsClosed)
		a.log.Info("media transport closed", "transport_id", id)
	}
	return t
}

// Capabilities reports the audio codec the relay accepts.
func Capabilities() map[string]any {
	return map[string]any{
		"codecs": []map[string]any{
			{
				"mimeType":  opusCapability.MimeType,
				"clockRate": opusCapability.ClockRate,
				"channels":  opusCapability.Channels,
				"fmtp":      opusCapability.SDPFmtpLine,
			},
		},
	}
}
