// Package protocol defines the relay's wire format.
//
// Every frame is `{"event": <name>, "data": <object>}`. Inbound frames are
// decoded at the boundary into a closed union (one variant per known event
// name); unknown events and malformed data surface as errors the hub treats
// as no-ops. Chat payloads are opaque ciphertext and pass through unparsed.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Inbound event names.
const (
	EventLogin              = "login"
	EventGeneralMessage     = "general_message"
	EventPrivateMessage     = "private_message"
	EventFileMessageGeneral = "file_message_general"
	EventFileMessagePrivate = "file_message_private"
	EventEditMessage        = "edit_message"
	EventDeleteMessage      = "delete_message"
	EventWebRTCSignal       = "webrtc_signal"
	EventEndCall            = "end_call"
	EventJoinGroupCall      = "join_group_call"
	EventLeaveGroupCall     = "leave_group_call"
	EventGroupCallSignal    = "group_call_signal"
)

// Outbound event names.
const (
	EventLoginSuccess    = "login_success"
	EventUserListUpdate  = "user_list_update"
	EventGroupCallUpdate = "group_call_update"
	EventNewMessage      = "new_message"
	EventNewFileMessage  = "new_file_message"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventTargetBusy      = "target_busy"
	EventCallEnded       = "call_ended"
	EventNotification    = "notification"
)

// WebRTC signal subtypes with relay-side semantics. Any other subtype is
// forwarded untouched.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice_candidate"
)

// DeleteForEveryone is the only deleteType with a network effect;
// "me" is client-local.
const DeleteForEveryone = "everyone"

// TargetGeneral addresses the shared broadcast conversation.
const TargetGeneral = "general"

var ErrUnknownEvent = errors.New("unknown event")

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is one parsed inbound frame. Exactly the variant matching Type is
// non-nil (events without data, like join_group_call, carry none).
type Event struct {
	Type string

	Login   *LoginData
	Message *MessageData
	Edit    *EditData
	Delete  *DeleteData
	Signal  *SignalData
	EndCall *EndCallData
}

type LoginData struct {
	Name string `json:"name"`
}

// MessageData covers the four chat events. Payload is opaque ciphertext.
type MessageData struct {
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type EditData struct {
	MessageID string          `json:"messageId"`
	NewText   json.RawMessage `json:"newText"`
	Target    string          `json:"target"`
}

type DeleteData struct {
	MessageID  string `json:"messageId"`
	Target     string `json:"target"`
	DeleteType string `json:"deleteType"`
}

// SignalData is a webrtc_signal or group_call_signal frame. Raw keeps every
// inbound key so the relay can forward the payload verbatim with the sender's
// identity merged in.
type SignalData struct {
	TargetID string
	SubType  string
	Raw      map[string]json.RawMessage
}

type EndCallData struct {
	TargetID string `json:"targetId,omitempty"`
}

// Parse decodes one inbound frame. The envelope is decoded strictly; the data
// object is validated per event type.
func Parse(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Event{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Event{}, fmt.Errorf("unexpected trailing data")
	}
	if env.Event == "" {
		return Event{}, fmt.Errorf("missing event name")
	}

	ev := Event{Type: env.Event}
	switch env.Event {
	case EventLogin:
		var d LoginData
		if err := unmarshalData(env.Data, &d); err != nil {
			return Event{}, err
		}
		if d.Name == "" {
			return Event{}, fmt.Errorf("login: missing name")
		}
		ev.Login = &d

	case EventGeneralMessage, EventFileMessageGeneral:
		var d MessageData
		if err := unmarshalData(env.Data, &d); err != nil {
			return Event{}, err
		}
		if len(d.Payload) == 0 {
			return Event{}, fmt.Errorf("%s: missing payload", env.Event)
		}
		ev.Message = &d

	case EventPrivateMessage, EventFileMessagePrivate:
		var d MessageData
		if err := unmarshalData(env.Data, &d); err != nil {
			return Event{}, err
		}
		if len(d.Payload) == 0 {
			return Event{}, fmt.Errorf("%s: missing payload", env.Event)
		}
		if d.TargetID == "" {
			return Event{}, fmt.Errorf("%s: missing targetId", env.Event)
		}
		ev.Message = &d

	case EventEditMessage:
		var d EditData
		if err := unmarshalData(env.Data, &d); err != nil {
			return Event{}, err
		}
		if d.MessageID == "" || d.Target == "" {
			return Event{}, fmt.Errorf("edit_message: missing messageId/target")
		}
		ev.Edit = &d

	case EventDeleteMessage:
		var d DeleteData
		if err := unmarshalData(env.Data, &d); err != nil {
			return Event{}, err
		}
		if d.MessageID == "" || d.Target == "" {
			return Event{}, fmt.Errorf("delete_message: missing messageId/target")
		}
		ev.Delete = &d

	case EventWebRTCSignal:
		d, err := parseSignalData(env.Data)
		if err != nil {
			return Event{}, fmt.Errorf("webrtc_signal: %w", err)
		}
		if d.SubType == "" {
			return Event{}, fmt.Errorf("webrtc_signal: missing type")
		}
		ev.Signal = d

	case EventGroupCallSignal:
		d, err := parseSignalData(env.Data)
		if err != nil {
			return Event{}, fmt.Errorf("group_call_signal: %w", err)
		}
		ev.Signal = d

	case EventEndCall:
		var d EndCallData
		if len(env.Data) > 0 {
			if err := unmarshalData(env.Data, &d); err != nil {
				return Event{}, err
			}
		}
		ev.EndCall = &d

	case EventJoinGroupCall, EventLeaveGroupCall:
		// No data.

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	return ev, nil
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(raw, v)
}

func parseSignalData(raw json.RawMessage) (*SignalData, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing data")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	d := &SignalData{Raw: fields}
	if v, ok := fields["targetId"]; ok {
		if err := json.Unmarshal(v, &d.TargetID); err != nil {
			return nil, fmt.Errorf("invalid targetId")
		}
	}
	if d.TargetID == "" {
		return nil, fmt.Errorf("missing targetId")
	}
	if v, ok := fields["type"]; ok {
		if err := json.Unmarshal(v, &d.SubType); err != nil {
			return nil, fmt.Errorf("invalid type")
		}
	}
	return d, nil
}
