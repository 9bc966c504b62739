package transit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/softempire/magic-wormhole/config"
	"github.com/softempire/magic-wormhole/log"
)

var (
	listener   net.Listener
	httpServer *http.Server
)

//Initialize preps the starting of the transit server. The transit server
//is a direct TCP pipeline between clients, used if all other P2P methods
//fail and an intermediary is needed after all. A minimal HTTP server
//shares the same host:port story for health checks ("GET /" -> "Wormhole
//Relay\n"), matching the real transit relay's behavior.
func Initialize() error {
	if config.Opts == nil {
		panic("attempted to initialize transit without a loaded config")
	}

	addr := fmt.Sprintf("%s:%d", config.Opts.Transit.Host, config.Opts.Transit.Port)

	var err error
	listener, err = net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Wormhole Relay\n")
	})
	httpServer = &http.Server{Handler: mux}

	return nil
}

//Shutdown stops accepting new transit connections by closing the listener.
//Connections that are already parked or relaying are not closed by it.
func Shutdown(ctx context.Context) error {
	if listener != nil {
		listener.Close()
	}
	log.Info("shutdown transit server")
	return nil
}

//Start begins the actual listening server and performs connections. This
//starts a goroutine within it, so this function does not block.
func Start() {
	if listener == nil {
		panic("attempted to start transit server that has not been initialized")
	}

	go func() {
		log.Info("starting transit server")
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Err("transit listener closed", err)
				return
			}

			go handleConn(conn)
		}
	}()
}

// handleConn sniffs the first bytes of a connection: an HTTP request line
// is handed to the health-check mux, otherwise it's treated as a transit
// handshake.
func handleConn(conn net.Conn) {
	peek := make([]byte, 4)
	n, err := io.ReadFull(conn, peek)
	if err != nil {
		conn.Close()
		return
	}

	if looksLikeHTTP(peek[:n]) {
		httpServer.Serve(&prefixListener{conn: conn, prefix: peek[:n]})
		return
	}

	NewClient(&prefixConn{Conn: conn, prefix: peek[:n]}).HandleConnection()
}

func looksLikeHTTP(b []byte) bool {
	s := string(b)
	return s == "GET " || s == "POST" || s == "HEAD" || s == "PUT "
}

// prefixConn replays a few already-consumed bytes before resuming reads
// from the wrapped connection, so peeking at a connection's first bytes
// doesn't lose them.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (p *prefixConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

// prefixListener serves exactly one connection (the one it was built
// around) to an http.Server, then stops accepting.
type prefixListener struct {
	conn   net.Conn
	prefix []byte
	served bool
}

func (l *prefixListener) Accept() (net.Conn, error) {
	if l.served {
		return nil, io.EOF
	}
	l.served = true
	return &prefixConn{Conn: l.conn, prefix: l.prefix}, nil
}

func (l *prefixListener) Close() error   { return l.conn.Close() }
func (l *prefixListener) Addr() net.Addr { return l.conn.LocalAddr() }
