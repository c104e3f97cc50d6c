package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeynepyuksell/fleeky-chat/internal/api/middleware"
	"github.com/zeynepyuksell/fleeky-chat/internal/chat"
	"github.com/zeynepyuksell/fleeky-chat/internal/metrics"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from the peer.
	maxFrameSize = 4096

	// Outbound frame buffer per connection.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is a command from the client.
type clientFrame struct {
	Op     string         `json:"op"` // subscribe_directory | subscribe_room | unsubscribe
	RoomID string         `json:"room_id,omitempty"`
	After  *models.Cursor `json:"after,omitempty"`
	Target string         `json:"target,omitempty"` // for unsubscribe: directory | room
}

// serverFrame is an event pushed to the client.
type serverFrame struct {
	Type    string          `json:"type"` // directory | message | subscribed | error
	Target  string          `json:"target,omitempty"`
	Rooms   []models.Room   `json:"rooms,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsClient owns one websocket connection's outbound queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Websocket opens a client session: one live directory subscription and
// one live room subscription at most, multiplexed over a single socket.
// Closing the socket tears down every subscription the session owns.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}

	clientID := uuid.NewString()
	sess := h.subs.OpenSession(clientID, user.ID)
	metrics.ActiveSessions.Set(float64(h.subs.ActiveSessions()))
	h.log.Info().Str("client", clientID).Str("user", user.ID).Msg("session opened")

	go client.writePump()
	h.readPump(r, client, sess)

	h.subs.CloseSession(clientID)
	metrics.ActiveSessions.Set(float64(h.subs.ActiveSessions()))
	client.close()
	h.log.Info().Str("client", clientID).Msg("session closed")
}

// readPump processes client commands until the connection drops.
func (h *Handler) readPump(r *http.Request, client *wsClient, sess *chat.Session) {
	conn := client.conn
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.enqueue(serverFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		h.handleFrame(r, client, sess, frame)
	}
}

func (h *Handler) handleFrame(r *http.Request, client *wsClient, sess *chat.Session, frame clientFrame) {
	switch frame.Op {
	case "subscribe_directory":
		err := sess.SubscribeDirectory(r.Context(), func(ev models.DirectoryEvent) {
			if ev.Err != nil {
				client.enqueue(serverFrame{Type: "error", Target: "directory", Error: ev.Err.Error()})
				return
			}
			client.enqueue(serverFrame{Type: "directory", Rooms: ev.Rooms})
		})
		if err != nil {
			client.enqueue(serverFrame{Type: "error", Target: "directory", Error: err.Error()})
			return
		}
		client.enqueue(serverFrame{Type: "subscribed", Target: "directory"})

	case "subscribe_room":
		roomID, err := uuid.Parse(frame.RoomID)
		if err != nil {
			client.enqueue(serverFrame{Type: "error", Target: "room", Error: "invalid room ID format"})
			return
		}
		var after models.Cursor
		if frame.After != nil {
			after = *frame.After
		}
		err = sess.SubscribeRoom(r.Context(), roomID, after, func(ev models.StreamEvent) {
			if ev.Err != nil {
				client.enqueue(serverFrame{Type: "error", Target: "room", Error: ev.Err.Error()})
				return
			}
			client.enqueue(serverFrame{Type: "message", Message: ev.Message})
		})
		if err != nil {
			client.enqueue(serverFrame{Type: "error", Target: "room", Error: err.Error()})
			return
		}
		client.enqueue(serverFrame{Type: "subscribed", Target: frame.RoomID})

	case "unsubscribe":
		if frame.Target == "directory" {
			sess.UnsubscribeDirectory()
		} else {
			sess.UnsubscribeRoom()
		}

	default:
		client.enqueue(serverFrame{Type: "error", Error: "unknown op"})
	}
}

// enqueue queues a frame for writing. A full queue means the consumer
// stopped keeping up; the connection is closed rather than events
// silently dropped or reordered.
func (c *wsClient) enqueue(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		c.close()
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// writePump pumps queued frames to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
