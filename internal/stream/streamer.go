// Package stream pushes conversation events over WebSocket connections.
// It is a delivery optimization over polling: events carry the same
// messages a fetch with the client's cursor would return, so either mode
// yields identical ordering and closed-state semantics.
package stream

import (
	"log"
	"sync"

	"github.com/duetchat/duet/internal/types"
)

// Event is one frame pushed to a subscriber.
type Event struct {
	Messages []types.Message `json:"messages,omitempty"`
	Closed   bool            `json:"closed,omitempty"`
}

type Streamer struct {
	log      *log.Logger
	mu       sync.Mutex
	subs     map[string]map[*Client]struct{}
	shutdown bool
}

func NewStreamer(logger *log.Logger) *Streamer {
	return &Streamer{
		log:  logger,
		subs: make(map[string]map[*Client]struct{}),
	}
}

// subscribe registers the client and primes it with the backlog returned by
// fetch. Fetch runs inside the same critical section broadcasts take, so a
// message appended around connect time lands either in the backlog frame or
// in a later broadcast, never in neither.
func (st *Streamer) subscribe(c *Client, fetch func() (*Event, error)) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.shutdown {
		return false, nil
	}

	ev, err := fetch()
	if err != nil {
		return false, err
	}

	clients, ok := st.subs[c.conversationId]
	if !ok {
		clients = make(map[*Client]struct{})
		st.subs[c.conversationId] = clients
	}
	clients[c] = struct{}{}

	c.QueueEvent(ev)
	return true, nil
}

func (st *Streamer) unsubscribe(c *Client) {
	st.mu.Lock()
	defer st.mu.Unlock()

	clients, ok := st.subs[c.conversationId]
	if !ok {
		return
	}

	delete(clients, c)
	if len(clients) == 0 {
		delete(st.subs, c.conversationId)
	}
}

func (st *Streamer) broadcast(conversationId string, ev *Event) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for c := range st.subs[conversationId] {
		if !c.QueueEvent(ev) {
			st.log.Printf("dropping slow subscriber on conversation %s", conversationId)
		}
	}
}

// MessageAppended implements chat.Notifier.
func (st *Streamer) MessageAppended(conversationId string, msg types.Message) {
	st.broadcast(conversationId, &Event{Messages: []types.Message{msg}})
}

// ConversationClosed implements chat.Notifier. Subscribers receive a final
// closed frame and are disconnected.
func (st *Streamer) ConversationClosed(conversationId string) {
	st.mu.Lock()
	clients := st.subs[conversationId]
	delete(st.subs, conversationId)
	st.mu.Unlock()

	for c := range clients {
		c.QueueEvent(&Event{Closed: true})
		c.stopClient()
	}
}

// Shutdown disconnects every subscriber and refuses new ones.
func (st *Streamer) Shutdown() {
	st.mu.Lock()
	st.shutdown = true
	subs := st.subs
	st.subs = make(map[string]map[*Client]struct{})
	st.mu.Unlock()

	for _, clients := range subs {
		for c := range clients {
			c.stopClient()
		}
	}
}
