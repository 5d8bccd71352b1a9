package relay

import "github.com/Tyrowin/roomrelay/internal/chat"

// History is a fixed-capacity ring of recent room messages. When full, each
// append overwrites the oldest entry.
type History struct {
	entries []chat.Message
	head    int // index of the oldest entry
	size    int
}

func newHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{entries: make([]chat.Message, capacity)}
}

// Append stores msg, evicting the oldest entry at capacity.
func (h *History) Append(msg chat.Message) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.head+h.size)%capacity] = msg
		h.size++
		return
	}
	h.entries[h.head] = msg
	h.head = (h.head + 1) % capacity
}

// Snapshot returns the stored messages, oldest first, in a new slice.
func (h *History) Snapshot() []chat.Message {
	out := make([]chat.Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.entries[(h.head+i)%len(h.entries)]
	}
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	return h.size
}

// capacity returns the ring size.
func (h *History) capacity() int {
	return len(h.entries)
}
