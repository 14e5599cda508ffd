package messenger

import (
	"net"

	"github.com/cuemby/ufo-core/pkg/ufoerr"
)

// DialTCP connects to a daemon listening at addr (e.g. "host:port") and
// returns a client Messenger.
func DialTCP(addr string) (Messenger, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "dial "+addr, err)
	}
	return newConnMessenger(conn), nil
}

// Listener accepts incoming TCP connections, handing each one back as a
// server-side Messenger.
type Listener struct {
	ln net.Listener
}

// ListenTCP binds addr and returns a Listener ready to Accept.
func ListenTCP(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "listen "+addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Accept blocks for the next incoming connection.
func (l *Listener) Accept() (Messenger, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "accept connection", err)
	}
	return newConnMessenger(conn), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
