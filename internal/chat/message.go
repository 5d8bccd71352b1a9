// Package chat defines the message value exchanged between relay clients and
// the server, together with the server-generated announcements.
package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SystemUserID marks server-generated announcements.
	SystemUserID = "SYSTEM"
	// SystemUsername is the display name used for server announcements.
	SystemUsername = "System"
	// DefaultRoom is used when a client does not name a room.
	DefaultRoom = "general"
)

// Kind classifies a Message.
type Kind int32

// Message kinds. The zero value is reserved for events that did not carry a type.
const (
	KindUnspecified Kind = iota
	KindJoin
	KindLeave
	KindText
	KindSystem
)

var kindNames = map[Kind]string{
	KindUnspecified: "UNSPECIFIED",
	KindJoin:        "JOIN",
	KindLeave:       "LEAVE",
	KindText:        "TEXT",
	KindSystem:      "SYSTEM",
}

// String returns the upper-case wire name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// MarshalJSON encodes the kind by name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts either the kind name (any case) or its number.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseKind(name)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	}

	var n int32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat: invalid message type %s", string(data))
	}
	if _, ok := kindNames[Kind(n)]; !ok {
		return fmt.Errorf("chat: unknown message type %d", n)
	}
	*k = Kind(n)
	return nil
}

// ParseKind resolves a kind name such as "text" or "TEXT".
func ParseKind(name string) (Kind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return KindUnspecified, nil
	}
	for k, n := range kindNames {
		if n == upper {
			return k, nil
		}
	}
	return KindUnspecified, fmt.Errorf("chat: unknown message type %q", name)
}

// Message is a single chat event as carried on the wire.
type Message struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Text      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Kind      Kind   `json:"type"`
	RoomID    string `json:"room_id"`
}

// IsSystem reports whether the message was generated by the server.
func (m Message) IsSystem() bool {
	return m.UserID == SystemUserID
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Millis converts t to milliseconds since the Unix epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func system(kind Kind, roomID, text string, at time.Time) Message {
	return Message{
		UserID:    SystemUserID,
		Username:  SystemUsername,
		Text:      text,
		Timestamp: Millis(at),
		Kind:      kind,
		RoomID:    roomID,
	}
}

// Joined announces that username entered roomID.
func Joined(roomID, username string, at time.Time) Message {
	return system(KindJoin, roomID, username+" joined the room", at)
}

// Left announces that username left roomID.
func Left(roomID, username string, at time.Time) Message {
	return system(KindLeave, roomID, username+" left the room", at)
}

// HistoryBegin opens a history replay of n entries.
func HistoryBegin(roomID string, n int, at time.Time) Message {
	return system(KindSystem, roomID, fmt.Sprintf("--- last %d messages in %s ---", n, roomID), at)
}

// HistoryEnd closes a history replay.
func HistoryEnd(roomID string, at time.Time) Message {
	return system(KindSystem, roomID, "--- end of history ---", at)
}
