package protocol

import "encoding/json"

// User is one entry in a user_list_update snapshot.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Encode marshals an outbound frame. A marshal failure returns nil, which
// senders treat as a no-op; all outbound data shapes are marshalable by
// construction.
func Encode(event string, data any) []byte {
	frame := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}
	b, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	return b
}

func LoginSuccess(user User) []byte {
	return Encode(EventLoginSuccess, map[string]any{"user": user})
}

func UserListUpdate(users []User) []byte {
	return Encode(EventUserListUpdate, map[string]any{"users": users})
}

func GroupCallUpdate(ids []string) []byte {
	return Encode(EventGroupCallUpdate, map[string]any{"users": ids})
}

// ChatMessage builds a new_message or new_file_message frame. Target is
// "general" for broadcasts; for private delivery it carries the conversation
// key the recipient files the message under (the sender's id).
func ChatMessage(event string, payload json.RawMessage, sender User, target string) []byte {
	return Encode(event, map[string]any{
		"payload": payload,
		"sender":  sender,
		"target":  target,
	})
}

func MessageEdited(messageID string, newText json.RawMessage, target string) []byte {
	return Encode(EventMessageEdited, map[string]any{
		"messageId": messageID,
		"newText":   newText,
		"target":    target,
	})
}

func MessageDeleted(messageID, target string) []byte {
	return Encode(EventMessageDeleted, map[string]any{
		"messageId": messageID,
		"target":    target,
	})
}

// ForwardSignal rebuilds a signal frame from the inbound fields with the
// sender's identity merged in, mirroring how the relay never inspects the
// signal-specific keys.
func ForwardSignal(event string, raw map[string]json.RawMessage, senderKey string, sender any) []byte {
	merged := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		merged[k] = v
	}
	merged[senderKey] = sender
	return Encode(event, merged)
}

func TargetBusy(name string) []byte {
	return Encode(EventTargetBusy, map[string]any{"name": name})
}

func CallEnded() []byte {
	return Encode(EventCallEnded, nil)
}

func Notification(title, body string) []byte {
	return Encode(EventNotification, map[string]any{"title": title, "body": body})
}
