package transit

import (
	"bufio"
	"io"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/softempire/magic-wormhole/db"
	"github.com/softempire/magic-wormhole/log"
)

// handshakeLen is the exact byte length of "please relay <64 hex>\n":
// len("please relay ") + 64 + len("\n").
const handshakeLen = len("please relay ") + 64 + 1

var handshakeMatcher = regexp.MustCompile(`^please relay ([0-9a-f]{64})\n$`)

// Client wraps a transit TCP connection through its handshake and, once
// paired, the bidirectional relay phase.
type Client struct {
	conn net.Conn

	buf   []byte
	token string

	Buddy *Client

	bytesRelayed int64
	started      int64
}

// NewClient returns a Client wrapping conn, ready to read its handshake.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		buf:     make([]byte, 0, handshakeLen),
		started: time.Now().Unix(),
	}
}

// Close shuts down the connection. Safe to call more than once.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// HandleConnection buffers incoming bytes until a complete handshake line is
// seen (or the line is provably malformed), replies accordingly, and on
// success waits for a same-token buddy before relaying bytes until either
// side disconnects.
func (c *Client) HandleConnection() {
	reader := bufio.NewReader(c.conn)

	for len(c.buf) < handshakeLen {
		b, err := reader.ReadByte()
		if err != nil {
			c.Close()
			return
		}
		c.buf = append(c.buf, b)

		if len(c.buf) < handshakeLen {
			continue
		}

		//More bytes already arrived before the handshake line was even
		//fully consumed: the client didn't wait for a reply, regardless of
		//whether what it sent so far is a well-formed handshake.
		if reader.Buffered() > 0 {
			c.conn.Write([]byte("impatient\n"))
			log.Warn("transit client sent data before being paired")
			c.Close()
			return
		}

		if !handshakeMatcher.Match(c.buf) {
			c.conn.Write([]byte("bad handshake\n"))
			log.Warn("transit client sent a malformed handshake")
			c.Close()
			return
		}

		matches := handshakeMatcher.FindSubmatch(c.buf)
		c.token = string(matches[1])
	}

	waitOrRelay(c, reader)
}

// pendingEntry holds a parked client's connection and its buffered reader
// until a same-token buddy shows up to drive the relay.
type pendingEntry struct {
	client *Client
	reader *bufio.Reader
	done   chan struct{}
}

var (
	pendingMu sync.Mutex
	pending   = make(map[string]*pendingEntry)
)

// waitOrRelay pairs c with another client sharing its token. The first of a
// pair to arrive parks here, blocking until its buddy completes the relay;
// the second drives startRelay for both, so a parked connection is never
// closed out from under a buddy that hasn't arrived yet.
func waitOrRelay(c *Client, reader *bufio.Reader) {
	pendingMu.Lock()
	entry, ok := pending[c.token]
	if !ok {
		entry = &pendingEntry{client: c, reader: reader, done: make(chan struct{})}
		pending[c.token] = entry
		pendingMu.Unlock()

		<-entry.done
		return
	}
	delete(pending, c.token)
	pendingMu.Unlock()

	defer close(entry.done)
	startRelay(entry.client, c, entry.reader, reader)
}

// startRelay acknowledges both sides of a completed pairing and pumps bytes
// between them until either side closes, then records transit usage.
func startRelay(a, b *Client, aReader, bReader *bufio.Reader) {
	a.Buddy = b
	b.Buddy = a

	a.conn.Write([]byte("ok\n"))
	b.conn.Write([]byte("ok\n"))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, _ := io.Copy(b.conn, aReader)
		a.bytesRelayed += n
		b.Close()
	}()

	go func() {
		defer wg.Done()
		n, _ := io.Copy(a.conn, bReader)
		b.bytesRelayed += n
		a.Close()
	}()

	wg.Wait()

	recordUsage(a, b)
}

func recordUsage(a, b *Client) {
	total := a.bytesRelayed + b.bytesRelayed
	started := a.started
	if b.started < started {
		started = b.started
	}

	row := db.TransitUsageRow{
		Started:    started,
		TotalTime:  time.Now().Unix() - started,
		TotalBytes: blurSize(total),
		Result:     "happy",
	}
	if total == 0 {
		row.Result = "errory"
	}

	if err := db.InsertTransitUsage(db.Get(), row); err != nil {
		log.Err("failed to record transit usage", err)
	}
}
