package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/softempire/magic-wormhole/config"
	"github.com/softempire/magic-wormhole/db"
	"github.com/softempire/magic-wormhole/errs"
	"github.com/softempire/magic-wormhole/log"
	"github.com/softempire/magic-wormhole/wire"
	"github.com/gorilla/websocket"
)

const (
	readWait  = 60 * time.Second
	writeWait = 10 * time.Second

	pingInterval = (readWait * 9) / 10

	maxMessageSize = 4096
)

//Client wraps up the websocket connection
//with a sending buffer and functions for transfering messages
type Client struct {
	conn       *websocket.Conn
	sendBuffer chan wire.IMessage

	App       *Application
	Side      string
	Nameplate string
	Mailbox   *Mailbox

	Allocated bool
	Claimed   bool
	Released  bool
	Listening bool
	Closed    bool

	listenerHandle int
	mailboxMsgs    <-chan wire.MailboxMessage
}

//Close terminates the client connection and cleans up resources it had
//bound.
func (c *Client) Close() {
	c.stopListenerPump()

	close(c.sendBuffer)

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

//IsBound returns true if the client has already bound to the server
func (c Client) IsBound() bool {
	return c.App != nil && c.Side != ""
}

func (c *Client) watchReads() {
	defer func() {
		unregister <- c
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))

	//Setup the ping/pong response outside of message processing
	//which basically just extends the connection life
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		LogDebug(c, "received pong from client")
		return nil
	})

	//Start accepting messages and processing them
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil { // Read/Connection error
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				LogErr(c, "reading from socket connection", err)
			}
			break //Leave the loop, so unregister
		}

		LogDebugf(c, "received message from client %s", string(message))

		//Process the message
		c.OnMessage(message)
	}
}

func (c *Client) watchWrites() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if c.conn != nil {
			c.conn.Close() //Double check the connection is closed
		}
	}()

	for {
		select {
		case mmsg, ok := <-c.mailboxMsgs:
			if !ok {
				c.mailboxMsgs = nil
				continue
			}
			c.sendBuffer <- mmsg

		case msgObj, ok := <-c.sendBuffer: //Read messages to send
			if c.conn == nil {
				return //connection died somewhere
			}

			//Give them 10 seconds to take the new message
			err := c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err != nil {
				return //setting deadline failed too
			}

			if !ok {
				//Channel was closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				log.Debug("write channel was closed, disconnecting client")
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil { //Failed to get a write channel
				log.Debug("failed to get a writer for client")
				return
			}
			if err = json.NewEncoder(w).Encode(msgObj); err != nil {
				LogErr(c, "failed to encode message", err)
			}

			if err := w.Close(); err != nil { //Writer failure
				return
			}
		case <-ticker.C: //Ping check for keeping the connection alive
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("failed to write ping, disconnecting client")
				return //Failed to write ping
			}
			LogDebug(c, "sent ping message to client")
		}
	}
}

func (c *Client) startListenerPump(mbox *Mailbox) error {
	handle, ch, replay, err := mbox.AddListener()
	if err != nil {
		return err
	}

	c.listenerHandle = handle
	c.mailboxMsgs = ch
	c.Listening = true

	for _, m := range replay {
		c.sendBuffer <- m
	}

	return nil
}

func (c *Client) stopListenerPump() {
	if c.Mailbox != nil && c.Listening {
		c.Mailbox.RemoveListener(c.listenerHandle)
	}
	c.Listening = false
	c.listenerHandle = 0
}

//OnConnect is called when the client has successfully been registered
//to the server
func (c *Client) OnConnect() {
	c.sendBuffer <- wire.Welcome{
		Message: wire.NewServerMessage(wire.TypeWelcome),
		Welcome: service.Welcome,
	}
}

//OnMessage called when a message from the client is received
//and it needs to be handled/processed.
func (c *Client) OnMessage(src []byte) {
	mt, im, err := wire.ParseClient(src)
	if err != nil {
		c.messageError(err, src)
		return
	}

	LogInfof(c, "received message %s", mt.String())

	c.sendBuffer <- wire.Ack{
		Message: wire.NewServerMessage(wire.TypeAck).WithID(im.GetID()),
	}

	//Quit ahead if we haven't bound and aren't going to
	if !c.IsBound() && mt != wire.TypePing && mt != wire.TypeBind {
		c.messageError(errs.ErrBindFirst, src)
		return
	}

	var e error
	switch mt {
	case wire.TypePing:
		c.HandlePing(im.(wire.Ping))
	case wire.TypeBind:
		e = c.HandleBind(im.(wire.Bind))
	case wire.TypeList:
		e = c.HandleList(im.(wire.List))
	case wire.TypeAllocate:
		e = c.HandleAllocate(im.(wire.Allocate))
	case wire.TypeClaim:
		e = c.HandleClaim(im.(wire.Claim))
	case wire.TypeRelease:
		e = c.HandleRelease(im.(wire.Release))
	case wire.TypeOpen:
		e = c.HandleOpen(im.(wire.Open))
	case wire.TypeAdd:
		e = c.HandleAdd(im.(wire.Add))
	case wire.TypeClose:
		e = c.HandleClose(im.(wire.Close))
	default:
		e = fmt.Errorf("unsupported command '%s'", mt.String())
	}

	if e != nil {
		c.messageError(e, src)
	}
}

//messageError builds the error response and sends it to the client. Only
//errs.ClientError values are ever echoed verbatim; anything else is masked
//as an internal error so storage/programming failures don't leak detail.
func (c *Client) messageError(err error, orig []byte) {
	LogErr(c, "error from client message", err)

	if _, ok := err.(errs.ClientError); !ok {
		if err == errCrowded {
			err = errs.ErrCrowded
		} else {
			LogErr(c, "internal error found during messageError before going to client", err)
			err = errs.ErrInternal
		}
	}

	c.sendBuffer <- wire.Error{
		Message: wire.NewServerMessage(wire.TypeError),
		Error:   err.Error(),
		Orig:    json.RawMessage(orig),
	}
}

//HandlePing handles ping messages and responds back
//with the matching Pong message
func (c *Client) HandlePing(m wire.Ping) {
	c.sendBuffer <- wire.Pong{
		Message: wire.NewServerMessage(wire.TypePong),
		Pong:    m.Ping,
	}
	LogDebug(c, "received ping")
}

//HandleBind handles bind messages.
func (c *Client) HandleBind(m wire.Bind) error {
	if c.IsBound() {
		return errs.ErrBound //Already bound
	} else if m.AppID == "" {
		return errs.ErrBindAppID
	} else if m.Side == "" {
		return errs.ErrBindSide
	}

	c.App = service.GetApp(m.AppID)
	c.Side = m.Side

	LogInfof(c, "bound client to app %s and side %s", m.AppID, m.Side)
	return nil
}

//HandleList handles list commands from the client
//who would like to know the available nameplates.
func (c *Client) HandleList(m wire.List) error {
	if !config.Opts.Relay.AllowList {
		c.sendBuffer <- wire.Nameplates{
			Message:    wire.NewServerMessage(wire.TypeNameplates),
			Nameplates: []wire.NameplateEntry{},
		}
		return nil
	}

	ids, err := c.App.GetNameplateIDs()
	if err != nil {
		LogErr(c, "failed to get nameplate IDs for List command", err)
		return errs.ErrInternal
	}

	resp := wire.Nameplates{
		Message:    wire.NewServerMessage(wire.TypeNameplates),
		Nameplates: make([]wire.NameplateEntry, 0, len(ids)),
	}
	for _, id := range ids {
		resp.Nameplates = append(resp.Nameplates, wire.NameplateEntry{ID: id})
	}

	c.sendBuffer <- resp

	return nil
}

//HandleAllocate command is received from client when
//they want to allocate, or reserve, a nameplate slot
//for message transfer. Clients can only allocate 1 during a connection.
func (c *Client) HandleAllocate(m wire.Allocate) error {
	if c.Allocated {
		return errs.ErrAlreadyAllocated
	}

	id, err := c.App.AllocateNameplate(c.Side, time.Now().Unix())
	if err != nil {
		LogErr(c, "failed to allocate nameplate for allocate command", err)
		return err
	}

	c.Allocated = true
	c.Nameplate = id

	c.sendBuffer <- wire.Allocated{
		Message:   wire.NewServerMessage(wire.TypeAllocated),
		Nameplate: id,
	}
	return nil
}

//HandleClaim command from client when they want
//to claim a specific nameplate instead of auto-generating one for them.
func (c *Client) HandleClaim(m wire.Claim) error {
	if c.Claimed {
		return errs.ErrAlreadyClaimed
	}

	if m.Nameplate == "" {
		return errs.ErrClaimNameplate
	}

	mboxID, err := c.App.ClaimNameplate(m.Nameplate, c.Side, time.Now().Unix())
	if err != nil {
		LogErr(c, "failed to claim nameplate for claim command", err)
		return err
	}

	c.Claimed = true
	c.Nameplate = m.Nameplate

	c.sendBuffer <- wire.Claimed{
		Message: wire.NewServerMessage(wire.TypeClaimed),
		Mailbox: mboxID,
	}

	return nil
}

//HandleRelease command from client when they want
//to release their hold, or side, of a nameplate.
func (c *Client) HandleRelease(m wire.Release) error {
	if c.Released {
		return errs.ErrAlreadyReleased
	}

	if c.Nameplate == "" {
		return errs.ErrReleaseNotClaimed
	}

	if m.Nameplate != "" && m.Nameplate != c.Nameplate {
		return errs.ErrReleaseNameplate
	}

	err := c.App.ReleaseNameplate(c.Nameplate, c.Side, time.Now().Unix())
	if err != nil {
		LogErr(c, "failed to release nameplate for release command", err)
		return err
	}

	c.Released = true

	c.sendBuffer <- wire.Released{
		Message: wire.NewServerMessage(wire.TypeReleased),
	}

	return nil
}

//HandleOpen command from the client to open the specified
//mailbox (by ID) for reading. Will also bind the listeners
//for event callbacks.
func (c *Client) HandleOpen(m wire.Open) error {
	if c.Mailbox != nil {
		return errs.ErrAlreadyOpened
	}

	if m.Mailbox == "" {
		return errs.ErrOpenMailbox
	}

	mbox, err := c.App.OpenMailbox(m.Mailbox, c.Side, time.Now().Unix())
	if err != nil {
		LogErr(c, "failed to open mailbox for open command", err)
		return err
	}
	c.Mailbox = mbox

	return c.startListenerPump(mbox)
}

//HandleAdd command from the client to add a message to the
//opened mailbox of this client.
func (c *Client) HandleAdd(m wire.Add) error {
	if c.Mailbox == nil {
		return errs.ErrOpenFirst
	}

	if m.Phase == "" {
		return errs.ErrAddPhase
	} else if m.Body == "" {
		return errs.ErrAddBody
	}

	row := db.MessageRow{
		AppID:     c.App.ID,
		MailboxID: c.Mailbox.ID,
		Side:      c.Side,
		Phase:     m.Phase,
		Body:      m.Body,
		ServerRX:  time.Now().Unix(),
		MsgID:     m.GetID(),
	}

	if err := c.Mailbox.AddMessage(row); err != nil {
		LogErr(c, "failed to add message for add command", err)
		return err
	}

	return nil
}

//HandleClose command from the client to close it's connection
//to an opened mailbox. The "mailbox" field is optional,
//but if supplied must match the currently open one.
func (c *Client) HandleClose(m wire.Close) error {
	if c.Closed {
		return errs.ErrAlreadyClosed
	}

	if c.Mailbox == nil {
		return errs.ErrCloseOpenFirst
	}

	if m.Mailbox != "" && m.Mailbox != c.Mailbox.ID {
		return errs.ErrCloseMailbox
	}

	err := c.App.CloseMailbox(c.Mailbox.ID, c.Side, m.Mood, time.Now().Unix())
	if err != nil {
		LogErr(c, "failed to close mailbox for command close", err)
		return err
	}

	c.stopListenerPump()
	c.Mailbox = nil
	c.Closed = true

	c.sendBuffer <- wire.Closed{
		Message: wire.NewServerMessage(wire.TypeClosed),
	}

	return nil
}
