package altweb

import (
	"github.com/gorilla/websocket"
)

// client is a single browser connected to a Room.
type client struct {
	socket *websocket.Conn
	send   chan []byte
	room   *Room
}

// read discards whatever the browser sends until the connection drops.
func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
