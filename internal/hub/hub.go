// Package hub is the relay core: it binds WebSocket connections to sessions,
// routes chat events, and tracks 1:1 and group call state.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/sarichat/chat-relay/internal/metrics"
	"github.com/sarichat/chat-relay/internal/protocol"
	"github.com/sarichat/chat-relay/internal/registry"
)

// Hub serializes every registry and group-call mutation, and the broadcast
// that follows it, behind one lock. Outbound sends are non-blocking enqueues,
// so holding the lock across a broadcast cannot stall on a slow peer.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	reg   *registry.Registry
	group *registry.GroupCall
}

func New(maxSessions int, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		log:     logger,
		metrics: m,
		reg:     registry.New(maxSessions),
		group:   registry.NewGroupCall(),
	}
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// SessionCount reports the number of logged-in sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Len()
}

// Dispatch handles one inbound frame from a connection. Malformed frames,
// unknown events, unknown senders, and unresolved targets are all silent
// no-ops: the relay never fails a connection over a bad event.
func (h *Hub) Dispatch(c registry.Conn, data []byte) {
	ev, err := protocol.Parse(data)
	if err != nil {
		h.metrics.Inc(metrics.MalformedEvents)
		if !errors.Is(err, protocol.ErrUnknownEvent) {
			h.log.Debug("malformed event", "err", err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type == protocol.EventLogin {
		h.handleLogin(c, ev.Login.Name)
		return
	}

	sender := h.reg.ByConn(c)
	if sender == nil {
		h.metrics.Inc(metrics.UnknownSender)
		return
	}

	switch ev.Type {
	case protocol.EventGeneralMessage, protocol.EventFileMessageGeneral:
		h.handleBroadcastMessage(sender, ev.Type, ev.Message)
	case protocol.EventPrivateMessage, protocol.EventFileMessagePrivate:
		h.handlePrivateMessage(sender, ev.Type, ev.Message)
	case protocol.EventEditMessage:
		h.handleEdit(sender, ev.Edit)
	case protocol.EventDeleteMessage:
		h.handleDelete(sender, ev.Delete)
	case protocol.EventWebRTCSignal:
		h.handleWebRTCSignal(sender, ev.Signal)
	case protocol.EventEndCall:
		h.handleEndCall(sender, ev.EndCall)
	case protocol.EventJoinGroupCall:
		h.handleJoinGroupCall(sender)
	case protocol.EventLeaveGroupCall:
		h.handleLeaveGroupCall(sender)
	case protocol.EventGroupCallSignal:
		h.handleGroupCallSignal(sender, ev.Signal)
	}
}

// HandleDisconnect unbinds the connection's session, if any, and performs
// cascading cleanup: group-call removal, implicit end_call toward a paired
// peer, and the convergence broadcasts.
func (h *Hub) HandleDisconnect(c registry.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.reg.ByConn(c)
	if sess == nil {
		// Disconnect before login completed.
		return
	}

	h.reg.Remove(sess.ID)
	groupChanged := h.group.Leave(sess.ID)

	// Disconnect mid-call acts as an implicit end_call so no peer stays busy
	// against a session that no longer exists. Pairing is looked up in
	// reverse: during the offer phase only the caller carries a PeerID, so
	// keying off the disconnecting session's own state would miss a callee
	// that drops before answering.
	h.reg.Each(func(peer *registry.Session) {
		if peer.PeerID != sess.ID {
			return
		}
		h.resetCallState(peer)
		peer.Conn.Send(protocol.CallEnded())
		h.metrics.Inc(metrics.CallsEnded)
	})

	h.metrics.Inc(metrics.Disconnects)
	h.log.Info("client disconnected", "session_id", sess.ID, "name", sess.Name)

	h.broadcastUserList()
	if groupChanged {
		h.broadcastGroupCall()
	}
}

// NotifyAll fans a notification event out to every session.
func (h *Hub) NotifyAll(title, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast(protocol.Notification(title, body), nil)
}

func (h *Hub) handleLogin(c registry.Conn, name string) {
	if h.reg.ByConn(c) != nil {
		// A connection maps to at most one session; repeat logins are no-ops.
		h.metrics.Inc(metrics.MalformedEvents)
		return
	}

	sess, err := h.reg.Register(c, name)
	if err != nil {
		h.metrics.Inc(metrics.LoginRejected)
		h.log.Warn("login rejected", "name", name, "err", err)
		return
	}

	h.metrics.Inc(metrics.Logins)
	h.log.Info("client logged in", "session_id", sess.ID, "name", sess.Name)

	c.Send(protocol.LoginSuccess(userOf(sess)))
	h.broadcastUserList()
	h.broadcastGroupCall()
}

func (h *Hub) handleBroadcastMessage(sender *registry.Session, event string, d *protocol.MessageData) {
	frame := protocol.ChatMessage(outboundChatEvent(event), d.Payload, userOf(sender), protocol.TargetGeneral)
	h.broadcast(frame, sender)
	h.metrics.Inc(metrics.Broadcasts)
}

func (h *Hub) handlePrivateMessage(sender *registry.Session, event string, d *protocol.MessageData) {
	target := h.reg.ByID(d.TargetID)
	if target == nil {
		h.metrics.Inc(metrics.UnicastDropped)
		return
	}
	// The recipient files private conversations under the other party's id.
	frame := protocol.ChatMessage(outboundChatEvent(event), d.Payload, userOf(sender), sender.ID)
	target.Conn.Send(frame)
	h.metrics.Inc(metrics.UnicastsSent)
}

func (h *Hub) handleEdit(sender *registry.Session, d *protocol.EditData) {
	if d.Target == protocol.TargetGeneral {
		h.broadcast(protocol.MessageEdited(d.MessageID, d.NewText, protocol.TargetGeneral), sender)
		h.metrics.Inc(metrics.Broadcasts)
		return
	}

	target := h.reg.ByID(d.Target)
	if target == nil {
		h.metrics.Inc(metrics.UnicastDropped)
		return
	}
	target.Conn.Send(protocol.MessageEdited(d.MessageID, d.NewText, sender.ID))
	h.metrics.Inc(metrics.UnicastsSent)
}

func (h *Hub) handleDelete(sender *registry.Session, d *protocol.DeleteData) {
	// deleteType "me" is purely client-local.
	if d.DeleteType != protocol.DeleteForEveryone {
		return
	}

	if d.Target == protocol.TargetGeneral {
		// The sender already deleted locally, so it is excluded here.
		h.broadcast(protocol.MessageDeleted(d.MessageID, protocol.TargetGeneral), sender)
		h.metrics.Inc(metrics.Broadcasts)
		return
	}

	// Private delete: confirm to the sender, and notify the target with the
	// sender's id substituted as the conversation key.
	sender.Conn.Send(protocol.MessageDeleted(d.MessageID, d.Target))
	if target := h.reg.ByID(d.Target); target != nil {
		target.Conn.Send(protocol.MessageDeleted(d.MessageID, sender.ID))
		h.metrics.Inc(metrics.UnicastsSent)
	} else {
		h.metrics.Inc(metrics.UnicastDropped)
	}
}

func (h *Hub) handleWebRTCSignal(sender *registry.Session, d *protocol.SignalData) {
	target := h.reg.ByID(d.TargetID)
	if target == nil {
		h.metrics.Inc(metrics.UnicastDropped)
		return
	}

	if d.SubType == protocol.SignalOffer && target.Status == registry.StatusBusy {
		sender.Conn.Send(protocol.TargetBusy(target.Name))
		h.metrics.Inc(metrics.BusyRejected)
		return
	}

	// Forward before flipping status so the merged sender identity reflects
	// the state the signal was sent in.
	target.Conn.Send(protocol.ForwardSignal(protocol.EventWebRTCSignal, d.Raw, "sender", userOf(sender)))

	switch d.SubType {
	case protocol.SignalOffer:
		sender.Status = registry.StatusBusy
		sender.PeerID = target.ID
		h.metrics.Inc(metrics.CallsOffered)
		h.broadcastUserList()
	case protocol.SignalAnswer:
		sender.Status = registry.StatusBusy
		sender.PeerID = target.ID
		target.Status = registry.StatusBusy
		target.PeerID = sender.ID
		h.metrics.Inc(metrics.CallsAnswered)
		h.broadcastUserList()
	default:
		// ICE candidates and anything else relay through with no state change,
		// in any call state.
	}
}

func (h *Hub) handleEndCall(sender *registry.Session, d *protocol.EndCallData) {
	h.resetCallState(sender)

	if d.TargetID != "" {
		if target := h.reg.ByID(d.TargetID); target != nil {
			h.resetCallState(target)
			target.Conn.Send(protocol.CallEnded())
		}
	}

	h.metrics.Inc(metrics.CallsEnded)
	h.broadcastUserList()
}

func (h *Hub) handleJoinGroupCall(sender *registry.Session) {
	if !h.group.Join(sender.ID) {
		return
	}
	h.metrics.Inc(metrics.GroupCallJoins)
	h.broadcastGroupCall()
}

func (h *Hub) handleLeaveGroupCall(sender *registry.Session) {
	if !h.group.Leave(sender.ID) {
		return
	}
	h.metrics.Inc(metrics.GroupCallLeaves)
	h.broadcastGroupCall()
}

func (h *Hub) handleGroupCallSignal(sender *registry.Session, d *protocol.SignalData) {
	target := h.reg.ByID(d.TargetID)
	if target == nil {
		h.metrics.Inc(metrics.UnicastDropped)
		return
	}
	target.Conn.Send(protocol.ForwardSignal(protocol.EventGroupCallSignal, d.Raw, "senderId", sender.ID))
	h.metrics.Inc(metrics.UnicastsSent)
}

func (h *Hub) resetCallState(s *registry.Session) {
	s.Status = registry.StatusOnline
	s.PeerID = ""
}

// broadcast sends a frame to every session except the excluded one.
func (h *Hub) broadcast(frame []byte, except *registry.Session) {
	if frame == nil {
		return
	}
	h.reg.Each(func(s *registry.Session) {
		if s == except {
			return
		}
		s.Conn.Send(frame)
	})
}

func (h *Hub) broadcastUserList() {
	snap := h.reg.Snapshot()
	users := make([]protocol.User, 0, len(snap))
	for _, info := range snap {
		users = append(users, protocol.User{ID: info.ID, Name: info.Name, Status: string(info.Status)})
	}
	h.broadcast(protocol.UserListUpdate(users), nil)
}

func (h *Hub) broadcastGroupCall() {
	h.broadcast(protocol.GroupCallUpdate(h.group.Members()), nil)
}

func outboundChatEvent(inbound string) string {
	switch inbound {
	case protocol.EventFileMessageGeneral, protocol.EventFileMessagePrivate:
		return protocol.EventNewFileMessage
	default:
		return protocol.EventNewMessage
	}
}

func userOf(s *registry.Session) protocol.User {
	return protocol.User{ID: s.ID, Name: s.Name, Status: string(s.Status)}
}
