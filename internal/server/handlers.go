package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/roomrelay/internal/logger"
)

// handleWebSocket upgrades the request and runs the relay session on the
// handler goroutine until it ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	select {
	case <-s.hub.Done():
		http.Error(w, "Chat relay is shutting down.", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", logger.Addr(r.RemoteAddr), logger.Error(err))
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg, s.log)
	client.Start()
	defer client.Close()

	// Hijacked connections outlive request cancellation semantics; the
	// session ends on its own or when the hub shuts down.
	if err := s.hub.Serve(context.WithoutCancel(r.Context()), client); err != nil {
		client.log.Info("WebSocket session ended with error", logger.Error(err))
	}
}

// handleHealth provides a simple health check endpoint that returns server status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RoomRelay server is running!")
}

// handleRooms lists every room with its member count and stored history size.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Rooms()); err != nil {
		s.log.Warn("error writing rooms response", logger.Error(err))
	}
}

// handleTestPage serves an HTML page for trying the WebSocket transport
// from a browser.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("error writing HTML response", logger.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>RoomRelay WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RoomRelay WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="usernameInput" placeholder="Username">
        <input type="text" id="roomInput" placeholder="Room (general)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let userId = null;
        let username = null;
        let room = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(msg) {
            const time = new Date(msg.timestamp).toLocaleTimeString();
            if (msg.type === 'JOIN') {
                addLine('>>> ' + msg.message, 'green');
            } else if (msg.type === 'LEAVE') {
                addLine('<<< ' + msg.message, 'orange');
            } else if (msg.type === 'SYSTEM') {
                addLine('SYSTEM: ' + msg.message, 'gray');
            } else {
                addLine('[' + time + '] ' + msg.username + ': ' + msg.message, msg.user_id === userId ? 'blue' : 'black');
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected to ' + room : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(type, text) {
            ws.send(JSON.stringify({
                user_id: userId,
                username: username,
                message: text,
                timestamp: Date.now(),
                type: type,
                room_id: room
            }));
        }

        function connect() {
            username = document.getElementById('usernameInput').value.trim() || 'guest';
            room = document.getElementById('roomInput').value.trim() || 'general';
            userId = crypto.randomUUID();

            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                send('JOIN', '');
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                render(JSON.parse(event.data));
            };
            ws.onclose = function() {
                addLine('Connection closed', 'gray');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('Connection error', 'red');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                send('LEAVE', '');
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                send('TEXT', text);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
