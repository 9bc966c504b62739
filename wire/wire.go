// Package wire defines the JSON frame types exchanged over the rendezvous
// websocket. Frames are UTF-8 JSON objects, one per text message, carrying a
// mandatory "type" field (see spec section 4.6 / 6).
package wire

import (
	"encoding/json"
	"time"

	"github.com/softempire/magic-wormhole/errs"
)

// Type identifies a frame's "type" field.
type Type string

const (
	TypeWelcome    Type = "welcome"
	TypeAck        Type = "ack"
	TypeError      Type = "error"
	TypeBind       Type = "bind"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
	TypeList       Type = "list"
	TypeNameplates Type = "nameplates"
	TypeAllocate   Type = "allocate"
	TypeAllocated  Type = "allocated"
	TypeClaim      Type = "claim"
	TypeClaimed    Type = "claimed"
	TypeRelease    Type = "release"
	TypeReleased   Type = "released"
	TypeOpen       Type = "open"
	TypeAdd        Type = "add"
	TypeMessage    Type = "message"
	TypeClose      Type = "close"
	TypeClosed     Type = "closed"
)

func (t Type) String() string { return string(t) }

// IMessage is satisfied by every inbound and outbound frame. Inbound frames
// use GetID to recover the "id" field so the server can echo it back;
// outbound frames carry it for the same reason.
type IMessage interface {
	GetID() string
}

// Message is the common outbound envelope: every server frame is stamped
// with its type and server_tx, and (when caused by an inbound frame) the
// inbound id.
type Message struct {
	Type     Type   `json:"type"`
	ID       string `json:"id,omitempty"`
	ServerTX int64  `json:"server_tx"`
}

// NewServerMessage builds the common envelope for an outbound frame of type t.
func NewServerMessage(t Type) Message {
	return Message{Type: t, ServerTX: time.Now().Unix()}
}

// WithID returns a copy of m with ID set, used to echo the inbound frame's id.
func (m Message) WithID(id string) Message {
	m.ID = id
	return m
}

func (m Message) GetID() string { return m.ID }

// ---- Outbound frames ----

type WelcomeInfo struct {
	MOTD              *string `json:"motd,omitempty"`
	Error             *string `json:"error,omitempty"`
	CurrentCLIVersion string  `json:"current_cli_version"`
}

type Welcome struct {
	Message
	Welcome WelcomeInfo `json:"welcome"`
}

type Ack struct {
	Message
}

type Error struct {
	Message
	Error string          `json:"error"`
	Orig  json.RawMessage `json:"orig"`
}

type Pong struct {
	Message
	Pong json.RawMessage `json:"pong"`
}

type NameplateEntry struct {
	ID string `json:"id"`
}

type Nameplates struct {
	Message
	Nameplates []NameplateEntry `json:"nameplates"`
}

type Allocated struct {
	Message
	Nameplate string `json:"nameplate"`
}

type Claimed struct {
	Message
	Mailbox string `json:"mailbox"`
}

type Released struct {
	Message
}

type Closed struct {
	Message
}

// MailboxMessage is the outbound "message" frame delivered to listeners of a
// mailbox; db.MessageRow is its storage counterpart. They share shape but
// not package, since one is wire format and the other is the persisted row.
type MailboxMessage struct {
	Message
	Side     string `json:"side"`
	Phase    string `json:"phase"`
	Body     string `json:"body"`
	ServerRX int64  `json:"server_rx"`
	MsgID    string `json:"id"`
}

// ---- Inbound frames ----

type Bind struct {
	id     string
	AppID  string
	Side   string
}

func (b Bind) GetID() string { return b.id }

type Ping struct {
	id   string
	Ping json.RawMessage
}

func (p Ping) GetID() string { return p.id }

type List struct {
	id string
}

func (l List) GetID() string { return l.id }

type Allocate struct {
	id string
}

func (a Allocate) GetID() string { return a.id }

type Claim struct {
	id        string
	Nameplate string
}

func (c Claim) GetID() string { return c.id }

type Release struct {
	id        string
	Nameplate string
}

func (r Release) GetID() string { return r.id }

type Open struct {
	id      string
	Mailbox string
}

func (o Open) GetID() string { return o.id }

type Add struct {
	id    string
	Phase string
	Body  string
}

func (a Add) GetID() string { return a.id }

type Close struct {
	id      string
	Mailbox string
	Mood    string
}

func (c Close) GetID() string { return c.id }

// clientFrame is the superset of every field any inbound frame may carry.
// Incoming JSON is decoded into it once, then dispatched by Type into the
// narrower, typed structs above.
type clientFrame struct {
	Type Type `json:"type"`
	ID   string `json:"id,omitempty"`

	AppID string `json:"appid,omitempty"`
	Side  string `json:"side,omitempty"`

	Ping json.RawMessage `json:"ping,omitempty"`

	Nameplate string `json:"nameplate,omitempty"`
	Mailbox   string `json:"mailbox,omitempty"`
	Mood      string `json:"mood,omitempty"`

	Phase string `json:"phase,omitempty"`
	Body  string `json:"body,omitempty"`
}

// ParseClient decodes a raw inbound websocket text frame into its typed
// representation. Returns errs.ErrMissingType / errs.ErrUnknownType for
// malformed frames.
func ParseClient(src []byte) (Type, IMessage, error) {
	var f clientFrame
	if err := json.Unmarshal(src, &f); err != nil {
		return "", nil, err
	}

	if f.Type == "" {
		return "", nil, errs.ErrMissingType
	}

	switch f.Type {
	case TypeBind:
		return TypeBind, Bind{id: f.ID, AppID: f.AppID, Side: f.Side}, nil
	case TypePing:
		return TypePing, Ping{id: f.ID, Ping: f.Ping}, nil
	case TypeList:
		return TypeList, List{id: f.ID}, nil
	case TypeAllocate:
		return TypeAllocate, Allocate{id: f.ID}, nil
	case TypeClaim:
		return TypeClaim, Claim{id: f.ID, Nameplate: f.Nameplate}, nil
	case TypeRelease:
		return TypeRelease, Release{id: f.ID, Nameplate: f.Nameplate}, nil
	case TypeOpen:
		return TypeOpen, Open{id: f.ID, Mailbox: f.Mailbox}, nil
	case TypeAdd:
		return TypeAdd, Add{id: f.ID, Phase: f.Phase, Body: f.Body}, nil
	case TypeClose:
		return TypeClose, Close{id: f.ID, Mailbox: f.Mailbox, Mood: f.Mood}, nil
	default:
		return "", nil, errs.ErrUnknownType
	}
}
