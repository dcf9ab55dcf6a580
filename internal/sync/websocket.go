package sync

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notesync/api/internal/notes"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// sendBuffer bounds how far a slow device may fall behind before the
	// hub drops it.
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errConnClosed = errors.New("connection closed")

// wsConn adapts a websocket connection to the hub's Conn interface. Sends go
// through a buffered channel so Publish never blocks on a slow device.
type wsConn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:     ws,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) Send(msg []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	case c.sendCh <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains incoming frames. Clients never send application messages;
// reading is needed to process control frames and notice closes.
func (c *wsConn) readLoop() {
	defer c.Close()
	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// ServeWS upgrades the request, registers the connection for userID and
// pushes the catch-up snapshot. It returns once the socket is registered;
// the connection then lives until the client disconnects or the hub drops it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, snapshot notes.NoteSet) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newWSConn(ws)
	go c.writeLoop()
	go func() {
		c.readLoop()
		h.Unregister(userID, c)
	}()

	return h.Register(userID, c, snapshot)
}
