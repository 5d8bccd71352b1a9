// Package relay implements the room relay core: a registry of rooms and
// sessions, per-room bounded history, per-session delivery queues, and the
// Hub that serializes registration, broadcast, and cleanup.
//
// Transports hand each accepted connection to Hub.Serve as a Conn. The first
// event on the connection binds the session's user id and room; afterwards
// TEXT events are stamped, stored, and broadcast to the room, and a LEAVE
// event or a dead connection ends the session. Cleanup runs once per session
// regardless of which side ends first.
package relay
