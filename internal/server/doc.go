// Package server exposes a relay hub to clients.
//
// Two transports share one hub: the gRPC chat stream on the gRPC listener,
// and JSON WebSocket frames on /ws of the HTTP listener. The HTTP listener
// also serves a health check, a room listing and a browser test page.
// Configuration comes from RELAY_* environment variables.
package server
