package relay

import (
	"log/slog"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

// deliver enqueues msg for every member of roomID except exclude and returns
// how many queues accepted it. Members whose queue refuses the message are
// removed and announced; the rest still receive it. Runs on the hub loop.
func (h *Hub) deliver(roomID string, msg chat.Message, exclude string) int {
	members, ok := h.registry.Members(roomID)
	if !ok {
		h.logger.Warn("broadcast to unknown room", logger.RoomID(roomID))
		return 0
	}

	delivered := 0
	var failed []*Session
	for _, id := range members {
		if id == exclude {
			continue
		}
		s, ok := h.registry.Session(id)
		if !ok {
			continue
		}
		if err := s.queue.Put(msg); err != nil {
			failed = append(failed, s)
			continue
		}
		delivered++
	}

	for _, s := range failed {
		h.logger.Warn("removing unreachable session",
			logger.UserID(s.userID),
			logger.RoomID(s.roomID),
		)
		h.evict(s, true)
	}

	h.logger.Debug("broadcast delivered",
		logger.RoomID(roomID),
		slog.String("type", msg.Kind.String()),
		logger.Count("recipients", delivered),
	)
	return delivered
}

// evict unregisters s if it is still the live session for its user id and
// closes its queue. With announce set, the room is told the user left.
func (h *Hub) evict(s *Session, announce bool) bool {
	if cur, ok := h.registry.Session(s.userID); !ok || cur != s {
		return false
	}

	dep, _ := h.registry.Unregister(s.userID)
	s.queue.Close()
	h.logger.Info("session unregistered",
		logger.UserID(dep.UserID),
		logger.RoomID(dep.RoomID),
		logger.Count("sessions", h.registry.Len()),
	)

	if announce {
		h.deliver(dep.RoomID, chat.Left(dep.RoomID, dep.Username, h.now()), "")
	}
	return true
}

// store stamps a client message with the server clock and the sender's bound
// room, records it in the room history, and fans it out to the whole room,
// sender included. A message claiming another user id is dropped.
func (h *Hub) store(sender *Session, msg chat.Message) int {
	if cur, ok := h.registry.Session(sender.userID); !ok || cur != sender {
		return 0
	}
	if strings.TrimSpace(msg.UserID) != sender.userID {
		h.logger.Debug("dropping message with foreign user id",
			logger.UserID(sender.userID),
			slog.String("claimed_user_id", msg.UserID),
		)
		return 0
	}

	msg.RoomID = sender.roomID
	msg.Timestamp = chat.Millis(h.now())

	h.registry.AppendHistory(sender.roomID, msg)
	h.logger.Debug("relaying message",
		logger.UserID(msg.UserID),
		logger.Username(msg.Username),
		logger.RoomID(msg.RoomID),
		slog.String("text", msg.Text),
	)
	return h.deliver(sender.roomID, msg, "")
}

// replay queues the room's stored history for a new session, framed by
// begin and end markers. Nothing is queued for an empty history.
func (h *Hub) replay(s *Session) {
	var entries []chat.Message
	for _, m := range h.registry.History(s.roomID) {
		switch m.Kind {
		case chat.KindText, chat.KindJoin, chat.KindLeave:
			entries = append(entries, m)
		}
	}
	if len(entries) == 0 {
		return
	}

	now := h.now()
	batch := make([]chat.Message, 0, len(entries)+2)
	batch = append(batch, chat.HistoryBegin(s.roomID, len(entries), now))
	batch = append(batch, entries...)
	batch = append(batch, chat.HistoryEnd(s.roomID, now))

	for _, m := range batch {
		if err := s.queue.Put(m); err != nil {
			return
		}
	}
}
