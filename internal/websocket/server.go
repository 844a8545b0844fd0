package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Message types for the remote-control session protocol
const (
	// Join handshake and presence broadcasts
	MessageTypeJoinSession       = "join_session"
	MessageTypeSessionJoined     = "session_joined"
	MessageTypeUserConnected     = "user_connected"
	MessageTypeOperatorConnected = "operator_connected"
	MessageTypeSessionActivated  = "session_activated"

	// Frame polling
	MessageTypeRequestFrame = "request_screen_frame"
	MessageTypeScreenFrame  = "screen_frame"

	// Input events from the operator console
	MessageTypeMouseMove      = "mouse_move"
	MessageTypeMouseClick     = "mouse_click"
	MessageTypeMouseScroll    = "mouse_scroll"
	MessageTypeKeyPress       = "key_press"
	MessageTypeKeyCombination = "key_combination"
	MessageTypeTextInput      = "text_input"

	MessageTypeError = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`

	// sessionID routes a broadcast to the clients bound to one session;
	// empty means every client. Never serialized.
	sessionID string
}

// MessageHandler defines the interface for handling incoming WebSocket messages
type MessageHandler interface {
	HandleMessage(client *Client, messageType string, data map[string]any) error
}

// DisconnectHandler is notified exactly once when a client leaves, however
// the connection ends
type DisconnectHandler interface {
	HandleDisconnect(client *Client)
}

// Client represents a WebSocket client connection
type Client struct {
	conn      *websocket.Conn
	id        string
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}

	// Session binding, set after a successful join
	sessionID string
	role      string
}

// Server represents a WebSocket server
type Server struct {
	clients           map[*Client]bool
	register          chan *Client
	unregister        chan *Client
	broadcast         chan *Message
	upgrader          websocket.Upgrader
	logger            *logger.Logger
	mu                sync.RWMutex
	messageHandler    MessageHandler
	disconnectHandler DisconnectHandler
}

// NewServer creates a new WebSocket server
func NewServer(logger *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: logger.Named("web-socket"),
	}
}

// SetMessageHandler sets the handler for incoming messages
func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

// SetDisconnectHandler sets the handler notified when clients leave
func (s *Server) SetDisconnectHandler(handler DisconnectHandler) {
	s.disconnectHandler = handler
}

// Run starts the WebSocket server loop
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered",
				String("client_id", client.id),
				Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			removed := false
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				// Mark client as closed first to prevent new messages
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				// Then close the channel
				close(client.send)
				removed = true
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered",
				String("client_id", client.id),
				Int("client_count", clientCount))
			// Notify outside the lock: the handler may broadcast
			if removed {
				s.notifyDisconnect(client)
			}

		case message := <-s.broadcast:
			s.mu.RLock()
			clientsToRemove := make([]*Client, 0)
			for client := range s.clients {
				// Check if client is still valid before sending
				client.mu.Lock()
				if client.closed {
					clientsToRemove = append(clientsToRemove, client)
					client.mu.Unlock()
					continue
				}
				client.mu.Unlock()

				if !s.shouldSendToClient(client, message) {
					continue
				}

				select {
				case client.send <- message:
					// Message sent successfully
				default:
					// Channel is full, mark for removal
					clientsToRemove = append(clientsToRemove, client)
				}
			}
			s.mu.RUnlock()

			// Clean up failed clients
			if len(clientsToRemove) > 0 {
				dropped := make([]*Client, 0, len(clientsToRemove))
				s.mu.Lock()
				for _, client := range clientsToRemove {
					if _, ok := s.clients[client]; ok {
						delete(s.clients, client)
						client.mu.Lock()
						if !client.closed {
							client.closed = true
							close(client.send)
						}
						client.mu.Unlock()
						dropped = append(dropped, client)
					}
				}
				s.mu.Unlock()
				for _, client := range dropped {
					s.notifyDisconnect(client)
				}
			}
		}
	}
}

// notifyDisconnect informs the disconnect handler about a removed client
func (s *Server) notifyDisconnect(client *Client) {
	if s.disconnectHandler != nil {
		s.disconnectHandler.HandleDisconnect(client)
	}
}

// shouldSendToClient decides whether a broadcast reaches a given client.
// Session-targeted messages only go to clients bound to that session.
func (s *Server) shouldSendToClient(client *Client, message *Message) bool {
	if message.sessionID == "" {
		return true
	}
	sessionID, _ := client.Binding()
	return sessionID == message.sessionID
}

// HandleConnection handles a WebSocket connection
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Handling new WebSocket connection request",
		String("remote_addr", r.RemoteAddr),
		String("user_agent", r.UserAgent()))

	// Upgrade HTTP connection to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	// Create client with its own connection identity; sessions are joined
	// later over the socket itself
	client := &Client{
		conn:      conn,
		id:        uuid.NewString(),
		send:      make(chan *Message, 256),
		server:    s,
		closeChan: make(chan struct{}),
	}

	s.logger.Debug("Connection upgraded",
		String("client_id", client.id),
		String("remote_addr", r.RemoteAddr))

	// Register client
	s.register <- client

	// Start client goroutines
	go client.readPump()
	go client.writePump()
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(message *Message) {
	s.logger.Debug("Broadcasting message to all clients",
		String("message_type", message.Type))
	s.broadcast <- message
}

// BroadcastToSession sends a message to every client bound to the session
func (s *Server) BroadcastToSession(sessionID string, message *Message) {
	s.logger.Debug("Broadcasting message to session",
		String("message_type", message.Type),
		String("session_id", sessionID))
	message.sessionID = sessionID
	s.broadcast <- message
}

// ID returns the client's connection identifier
func (c *Client) ID() string {
	return c.id
}

// BindSession associates the client with a session under a role
func (c *Client) BindSession(sessionID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.role = role
}

// Binding returns the session id and role the client is bound to, if any
func (c *Client) Binding() (sessionID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.role
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
		}
		c.mu.Unlock()

		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		// Check if client is closed
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		// Read message
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			break
		}

		// Parse incoming message
		var message struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}

		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Error("Failed to parse WebSocket message", Error(err))
			continue
		}

		c.server.logger.Debug("Received WebSocket message",
			String("type", message.Type),
			String("client_id", c.id))

		// Handle message if handler is set
		if c.server.messageHandler != nil {
			if err := c.server.messageHandler.HandleMessage(c, message.Type, message.Data); err != nil {
				c.server.logger.Error("Failed to handle WebSocket message",
					Error(err),
					String("type", message.Type))
			}
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
		}
		c.mu.Unlock()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Channel closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.mu.Unlock()
				return
			}

			// Marshal message to JSON
			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", Error(err))
				c.mu.Unlock()
				continue
			}

			w.Write(data)

			// Close writer
			if err := w.Close(); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}

// SendMessage sends a message to this specific client. The send is
// non-blocking: a full channel drops the message and reports false.
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if client is closed
	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		// Channel is full, drop message
		return false
	}
}

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
