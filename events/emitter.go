package events

import (
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/crypto"
)

var log = logger.WithFields(logger.Fields{"process": "events"})

// EventType labels what happened.
type EventType string

const (
	EventMessageAdmitted    EventType = "message_admitted"
	EventBlockProduced      EventType = "block_produced"
	EventBlockCommitted     EventType = "block_committed"
	EventBroadcastEcho      EventType = "broadcast_echo"
	EventBroadcastVote      EventType = "broadcast_vote"
	EventMembershipPromoted EventType = "membership_promoted"
)

// Event carries a typed payload emitted after a core state change. Fields
// irrelevant to a given Type are left zero.
type Event struct {
	Type        EventType       `json:"type"`
	BlockHash   block.Hash      `json:"block_hash,omitempty"`
	BlockHeight uint64          `json:"block_height,omitempty"`
	MessageID   block.MessageID `json:"message_id,omitempty"`
	Peer        crypto.PeerId   `json:"peer,omitempty"`
	Data        map[string]any  `json:"data,omitempty"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously. Each
// handler is guarded by panic recovery so a misbehaving subscriber cannot
// crash the coordinator or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}

// MembershipPromotion describes a peer's membership state transition. It is
// not attached to EventMembershipPromoted events, whose Data carries only
// "epoch" and "size".
type MembershipPromotion struct {
	Peer broadcast.PeerInfo
	From string
	To   string
}
