package server

import "net/http"

// Routes returns the HTTP mux: health check, WebSocket endpoint, room
// listing and the browser test page.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rooms", s.handleRooms)
	mux.HandleFunc("/test", s.handleTestPage)
	return mux
}
