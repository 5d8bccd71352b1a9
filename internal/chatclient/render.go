package chatclient

import (
	"strings"

	"github.com/Tyrowin/roomrelay/internal/chat"
)

var quitCommands = map[string]struct{}{
	"/quit": {},
	"/exit": {},
	"/q":    {},
}

// IsQuit reports whether line is one of the quit commands, in any case.
func IsQuit(line string) bool {
	_, ok := quitCommands[strings.ToLower(strings.TrimSpace(line))]
	return ok
}

// Format renders msg as a console line stamped with its local time.
func Format(msg chat.Message) string {
	stamp := "[" + msg.Time().Format("15:04:05") + "] "

	switch msg.Kind {
	case chat.KindJoin:
		return stamp + ">>> " + msg.Text
	case chat.KindLeave:
		return stamp + "<<< " + msg.Text
	case chat.KindSystem:
		return stamp + "SYSTEM: " + msg.Text
	default:
		return stamp + msg.Username + ": " + msg.Text
	}
}
