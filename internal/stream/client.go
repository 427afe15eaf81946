package stream

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/duetchat/duet/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one subscriber connection. Clients only receive; sends go
// through the REST path so the message log stays the single ordering
// source.
type Client struct {
	conn           *websocket.Conn
	streamer       *Streamer
	log            *log.Logger
	conversationId string
	send           chan *Event
	stop           chan struct{}
	stopOnce       sync.Once

	// cursor of the newest message written, owned by the write pump. A
	// message committed just before the backlog fetch can also arrive as a
	// broadcast; the cursor drops such overlap with the same strictly-greater
	// rule the fetch cursor uses.
	cursorTime time.Time
	cursorId   string
}

func NewClient(conversationId string, conn *websocket.Conn, st *Streamer, l *log.Logger) *Client {
	return &Client{
		conn:           conn,
		streamer:       st,
		log:            l,
		conversationId: conversationId,
		send:           make(chan *Event, 64),
		stop:           make(chan struct{}),
	}
}

// Run registers the client, delivers the backlog from fetch as the first
// frame and starts the pumps. It returns false when the streamer is shutting
// down.
func (c *Client) Run(fetch func() (*Event, error)) (bool, error) {
	ok, err := c.streamer.subscribe(c, fetch)
	if !ok || err != nil {
		return false, err
	}

	go c.write()
	go c.read()
	return true, nil
}

// unseen keeps the messages strictly after the delivery cursor and advances
// it. Write pump only.
func (c *Client) unseen(msgs []types.Message) []types.Message {
	kept := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.CreatedAt.After(c.cursorTime) ||
			(msg.CreatedAt.Equal(c.cursorTime) && msg.Id > c.cursorId) {
			kept = append(kept, msg)
			c.cursorTime = msg.CreatedAt
			c.cursorId = msg.Id
		}
	}

	return kept
}

// writeEvent filters already-delivered messages and writes the frame. It
// returns false when the pump should exit.
func (c *Client) writeEvent(ev *Event) bool {
	msgs := c.unseen(ev.Messages)
	if len(msgs) == 0 && !ev.Closed {
		return true
	}

	bytes, err := json.Marshal(&Event{Messages: msgs, Closed: ev.Closed})
	if err != nil {
		c.log.Println("failed to serialize event:", err)
		return true
	}

	if !c.sendMessage(websocket.TextMessage, bytes) {
		return false
	}

	return !ev.Closed
}

func (c *Client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			if !c.writeEvent(ev) {
				return
			}
		case <-c.stop:
			c.drainEvents()
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// drainEvents flushes frames queued before the stop signal so the final
// closed frame still reaches the peer.
func (c *Client) drainEvents() {
	for {
		select {
		case ev, ok := <-c.send:
			if !ok || !c.writeEvent(ev) {
				return
			}
		default:
			return
		}
	}
}

// read discards inbound frames; it exists to run the pong handler and to
// notice the peer going away.
func (c *Client) read() {
	defer func() {
		c.conn.Close()
		c.streamer.unsubscribe(c)
		c.stopClient()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}
	}
}

// QueueEvent hands an event to the write pump without blocking. It returns
// false when the client's buffer is full.
func (c *Client) QueueEvent(ev *Event) bool {
	select {
	case c.send <- ev:
	default:
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
