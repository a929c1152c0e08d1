// Package client implements the reusable client library: dial the daemon's
// socket, issue control operations, and stream raw PTY output.
//
// Grounded on cmd/catherd/main.go's cmdAttach/writeRequest/readResponse/
// sendFrame functions from the teacher, generalized into a *Client type
// rather than free functions tied to os.Args, and on golang.org/x/term for
// raw terminal mode during attach (same dependency and call pattern as the
// teacher).
package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ianremillard/tterm/internal/ids"
	"github.com/ianremillard/tterm/internal/wire"
)

// SessionInfo mirrors wire.SessionInfo for callers that should not need to
// import internal/wire directly.
type SessionInfo = wire.SessionInfo

// Client is a connection to one daemon instance.
//
// Per spec.md §4.D's response table, AttachToSession, DetachFromSession,
// SendInput, and ResizeSession reply only on failure ("silent ok, or
// Error"): there is no synchronous acknowledgement of success to wait for.
// Those methods here are fire-and-forget — they return only a local
// send-time error — and any Error the daemon reports for them arrives
// later on Errors(), uncorrelated to the call that triggered it, exactly
// as the wire protocol delivers it.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	output   chan []byte
	replies  chan wire.Control
	errors   chan error
	readErrs chan error
	pending  atomic.Int32

	closeOnce sync.Once
}

// Dial connects to the daemon at socketPath and starts the background
// frame reader.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", socketPath, err)
	}
	c := &Client{
		conn:     conn,
		output:   make(chan []byte, 256),
		replies:  make(chan wire.Control, 16),
		errors:   make(chan error, 16),
		readErrs: make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

// Close ends the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

// Output returns the channel raw PTY bytes (both FrameRaw frames and
// legacy SessionOutput control frames, normalized) arrive on.
func (c *Client) Output() <-chan []byte { return c.output }

// Errors returns the channel Error control frames not claimed by a
// pending ListSessions/CreateSession/TerminateSession call arrive on —
// the daemon's response to a fire-and-forget AttachToSession,
// DetachFromSession, SendInput, or ResizeSession.
func (c *Client) Errors() <-chan error { return c.errors }

// readLoop demultiplexes incoming frames: raw bytes and SessionOutput
// control frames land on Output(); a reply awaited by sendAndAwait goes to
// replies; every other Error arrives unsolicited and goes to errors.
func (c *Client) readLoop() {
	defer close(c.output)
	for {
		typ, payload, err := wire.ReadFrame(c.conn)
		if err != nil {
			c.readErrs <- err
			return
		}
		switch typ {
		case wire.FrameRaw:
			c.output <- payload
		case wire.FrameControl:
			ctl, err := wire.DecodeControl(payload)
			if err != nil {
				continue
			}
			if ctl.Type == wire.SessionOutput {
				c.output <- ctl.Data
				continue
			}
			if c.pending.Load() > 0 {
				c.pending.Add(-1)
				c.replies <- ctl
				continue
			}
			if ctl.Type == wire.Error {
				select {
				case c.errors <- fmt.Errorf("client: %s", ctl.Message):
				default:
				}
			}
		}
	}
}

func (c *Client) send(ctl wire.Control) error {
	payload, err := wire.EncodeControl(ctl)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, wire.FrameControl, payload)
}

// sendAndAwait sends ctl and blocks for the next control reply or a read
// error, whichever comes first. Only used for operations the daemon
// always answers: CreateSession, ListSessions, TerminateSession.
func (c *Client) sendAndAwait(ctl wire.Control) (wire.Control, error) {
	c.pending.Add(1)
	if err := c.send(ctl); err != nil {
		c.pending.Add(-1)
		return wire.Control{}, err
	}
	select {
	case reply := <-c.replies:
		if reply.Type == wire.Error {
			return wire.Control{}, fmt.Errorf("client: %s", reply.Message)
		}
		return reply, nil
	case err := <-c.readErrs:
		return wire.Control{}, fmt.Errorf("client: connection closed: %w", err)
	}
}

// CreateSession asks the daemon to open a new session and attaches the
// caller to it, returning the session's id.
func (c *Client) CreateSession(shell, cwd string) (ids.SessionID, error) {
	sid := ids.NewSessionID()
	_, err := c.sendAndAwait(wire.Control{Type: wire.CreateSession, SessionID: &sid, Shell: shell, Cwd: cwd})
	if err != nil {
		return ids.SessionID{}, err
	}
	return sid, nil
}

// AttachToSession binds the caller to an existing session. Fire-and-forget;
// see Client's doc comment.
func (c *Client) AttachToSession(id ids.SessionID) error {
	return c.send(wire.Control{Type: wire.AttachToSession, SessionID: &id})
}

// DetachFromSession releases the caller's attachment to a session without
// terminating it. Fire-and-forget; see Client's doc comment.
func (c *Client) DetachFromSession(id ids.SessionID) error {
	return c.send(wire.Control{Type: wire.DetachFromSession, SessionID: &id})
}

// SendInput writes data to the caller's currently bound session as a
// raw-bytes frame. Per spec.md §9's legacy-equivalence note, the client
// library always prefers raw frames over the SendInput control variant.
func (c *Client) SendInput(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, wire.FrameRaw, data)
}

// Resize changes the window size of session id.
// Fire-and-forget; see Client's doc comment.
func (c *Client) Resize(id ids.SessionID, cols, rows uint16) error {
	return c.send(wire.Control{Type: wire.ResizeSession, SessionID: &id, Cols: cols, Rows: rows})
}

// ListSessions returns every session the daemon currently knows about.
func (c *Client) ListSessions() ([]SessionInfo, error) {
	reply, err := c.sendAndAwait(wire.Control{Type: wire.ListSessions})
	if err != nil {
		return nil, err
	}
	return reply.Sessions, nil
}

// TerminateSession ends a session outright.
func (c *Client) TerminateSession(id ids.SessionID) error {
	_, err := c.sendAndAwait(wire.Control{Type: wire.TerminateSession, SessionID: &id})
	return err
}
