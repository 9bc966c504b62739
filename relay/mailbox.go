package relay

import (
	"sync"

	"github.com/softempire/magic-wormhole/db"
	"github.com/softempire/magic-wormhole/log"
	"github.com/softempire/magic-wormhole/wire"
)

// listenerBuffer bounds how many undelivered messages a slow client can
// accumulate before the mailbox starts dropping frames to it rather than
// blocking the broadcaster. A wormhole session exchanges a handful of
// phases; this is generous headroom, not a tuning knob.
const listenerBuffer = 32

// Mailbox fans messages out to every connection currently listening on it.
// Delivery is by channel, one per listener, each drained by that listener's
// own write pump goroutine (relay.Client.watchWrites) -- broadcasting never
// calls back into caller code directly, so a slow or misbehaving listener
// can't block message delivery to anyone else or re-enter the mailbox.
type Mailbox struct {
	ID    string
	AppID string

	store *db.Store

	mu         sync.Mutex
	listeners  map[int]chan wire.MailboxMessage
	listenerID int
}

// NewMailbox returns a Mailbox backed by store, with no listeners attached.
func NewMailbox(id, appID string, store *db.Store) *Mailbox {
	return &Mailbox{
		ID:        id,
		AppID:     appID,
		store:     store,
		listeners: make(map[int]chan wire.MailboxMessage),
	}
}

// AddListener registers a new listener and returns its handle, the channel
// it should read from, and every message already stored in the mailbox (so
// a client opening a mailbox after messages were added still sees them).
func (m *Mailbox) AddListener() (int, <-chan wire.MailboxMessage, []wire.MailboxMessage, error) {
	rows, err := db.ListMessages(m.store.DB(), m.AppID, m.ID)
	if err != nil {
		return 0, nil, nil, err
	}

	replay := make([]wire.MailboxMessage, 0, len(rows))
	for _, r := range rows {
		replay = append(replay, toWireMessage(r))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listenerID++
	handle := m.listenerID

	ch := make(chan wire.MailboxMessage, listenerBuffer)
	m.listeners[handle] = ch

	return handle, ch, replay, nil
}

// HasListeners reports whether any connection is currently listening on
// this mailbox. A mailbox with a listener attached is kept alive by
// pruning even if it hasn't otherwise been touched recently (spec
// section 4.4).
func (m *Mailbox) HasListeners() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners) > 0
}

// RemoveListener unregisters and closes the channel for handle. Safe to
// call more than once or with an unknown handle.
func (m *Mailbox) RemoveListener(handle int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.listeners[handle]; ok {
		close(ch)
		delete(m.listeners, handle)
	}
}

// shutdown closes every listener channel without touching storage, used
// when the mailbox is torn down after its last side closes or on process
// shutdown.
func (m *Mailbox) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for handle, ch := range m.listeners {
		close(ch)
		delete(m.listeners, handle)
	}
}

// AddMessage stores msg and broadcasts it to every current listener. Not
// idempotent: a repeated msg_id produces a repeated row and a repeated
// broadcast, matching the real protocol's behavior (spec section 9).
func (m *Mailbox) AddMessage(row db.MessageRow) error {
	if err := db.InsertMessage(m.store.DB(), row); err != nil {
		return err
	}
	if err := db.TouchMailbox(m.store.DB(), m.AppID, m.ID, row.ServerRX); err != nil {
		return err
	}

	m.broadcast(toWireMessage(row))
	return nil
}

func (m *Mailbox) broadcast(msg wire.MailboxMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for handle, ch := range m.listeners {
		select {
		case ch <- msg:
		default:
			log.Warnf("dropping mailbox message for slow listener %d on mailbox %s", handle, m.ID)
		}
	}
}

func toWireMessage(r db.MessageRow) wire.MailboxMessage {
	return wire.MailboxMessage{
		Message:  wire.NewServerMessage(wire.TypeMessage),
		Side:     r.Side,
		Phase:    r.Phase,
		Body:     r.Body,
		ServerRX: r.ServerRX,
		MsgID:    r.MsgID,
	}
}
