// Package dispatch runs the per-connection Connection Dispatcher: one
// inbound loop reading and routing frames, one output pusher pushing PTY
// bytes back, sharing a mutex-guarded write half.
//
// Grounded on daemon.handleConn's request-type switch (teacher) and on
// hub.Client.readPump/writePump (houx15-agenterm) for the
// split-responsibility shape.
package dispatch

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/ianremillard/tterm/internal/ids"
	"github.com/ianremillard/tterm/internal/registry"
	"github.com/ianremillard/tterm/internal/wire"
)

const pusherIdleInterval = 50 * time.Millisecond

// Dispatcher owns one accepted connection end to end: a freshly allocated
// ClientID, a reference to the shared registry, and a write half guarded
// by a mutex because the inbound loop and the output pusher both send
// outbound frames.
type Dispatcher struct {
	clientID ids.ClientID
	conn     net.Conn
	reg      *registry.Registry

	writeMu sync.Mutex

	done chan struct{}
}

// New allocates a dispatcher for a freshly accepted connection.
func New(conn net.Conn, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		clientID: ids.NewClientID(),
		conn:     conn,
		reg:      reg,
		done:     make(chan struct{}),
	}
}

// ClientID returns the dispatcher's identifier.
func (d *Dispatcher) ClientID() ids.ClientID { return d.clientID }

// Run drives the dispatcher until the connection closes or a protocol
// error occurs. It blocks until disconnect cleanup has completed.
func (d *Dispatcher) Run() {
	go d.pushOutput()
	d.inboundLoop()
	d.disconnectCleanup()
}

// inboundLoop reads frames one at a time and routes them. Any framing
// error breaks the loop and triggers disconnect cleanup; a decodable
// Control message with an unknown variant gets an Error reply instead,
// per spec.md's "unknown variant must not disconnect" rule.
func (d *Dispatcher) inboundLoop() {
	for {
		typ, payload, err := wire.ReadFrame(d.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("dispatch[%s]: frame read error: %v", d.clientID, err)
			}
			return
		}

		switch typ {
		case wire.FrameControl:
			if !d.handleControl(payload) {
				return
			}
		case wire.FrameRaw:
			d.handleRaw(payload)
		default:
			log.Printf("dispatch[%s]: unknown frame type %d, dropping connection", d.clientID, typ)
			return
		}
	}
}

func (d *Dispatcher) handleRaw(payload []byte) {
	sessionID, ok := d.reg.BindingOf(d.clientID)
	if !ok {
		log.Printf("dispatch[%s]: raw frame with no binding, dropping", d.clientID)
		return
	}
	if err := d.reg.SendInput(sessionID, payload); err != nil {
		log.Printf("dispatch[%s]: send_input on bound session: %v", d.clientID, err)
	}
}

// handleControl decodes and routes one control frame. It returns false
// when the payload itself is undecodable — a protocol error per spec.md
// §7's taxonomy, which closes the connection without a reply — and true
// otherwise, including for a validly-decoded but unrecognized Type, which
// gets an Error reply instead of a disconnect.
func (d *Dispatcher) handleControl(payload []byte) bool {
	ctl, err := wire.DecodeControl(payload)
	if err != nil {
		log.Printf("dispatch[%s]: undecodable control payload: %v", d.clientID, err)
		return false
	}

	switch ctl.Type {
	case wire.RegisterClient:
		d.reply(wire.Control{Type: wire.ClientRegistered})

	case wire.CreateSession:
		d.handleCreateSession(ctl)

	case wire.AttachToSession:
		d.handleAttach(ctl)

	case wire.DetachFromSession:
		d.handleDetach(ctl)

	case wire.SendInput:
		d.handleSendInput(ctl)

	case wire.ResizeSession:
		d.handleResize(ctl)

	case wire.ListSessions:
		d.handleList()

	case wire.TerminateSession:
		d.handleTerminate(ctl)

	case wire.Disconnect:
		// Handled uniformly by disconnectCleanup when the loop exits; an
		// explicit Disconnect message simply ends the inbound loop.
		return false

	default:
		d.reply(wire.ErrorControl("unknown control variant"))
	}
	return true
}

func (d *Dispatcher) handleCreateSession(ctl wire.Control) {
	if ctl.SessionID == nil {
		d.reply(wire.ErrorControl("CreateSession requires session_id"))
		return
	}
	sid := *ctl.SessionID
	s, err := d.reg.Create(sid, ctl.Shell, ctl.Cwd)
	if err != nil {
		d.reply(wire.ErrorControl(err.Error()))
		return
	}
	if err := d.reg.Attach(sid, d.clientID); err != nil {
		d.reply(wire.ErrorControl(err.Error()))
		return
	}
	d.rebind(sid)

	info := wire.SessionInfo{
		SessionID:    sid,
		Shell:        s.Shell(),
		Cwd:          s.Cwd(),
		CreatedAt:    s.CreatedAt().Unix(),
		LastActivity: s.LastActivity().Unix(),
		Attached:     s.AttachedCount(),
		State:        s.State().String(),
	}
	d.reply(wire.Control{Type: wire.SessionCreated, SessionID: &sid, Session: &info})
}

func (d *Dispatcher) handleAttach(ctl wire.Control) {
	if ctl.SessionID == nil {
		d.reply(wire.ErrorControl("AttachToSession requires session_id"))
		return
	}
	if err := d.reg.Attach(*ctl.SessionID, d.clientID); err != nil {
		d.reply(wire.ErrorControl(err.Error()))
		return
	}
	d.rebind(*ctl.SessionID)
}

// rebind enforces the single-valued binding policy: a client is bound to
// at most one session's raw-bytes routing at a time, so attaching to a
// new session detaches from whichever one it was previously bound to.
// This keeps a session's attached set exactly equal to the clients
// currently bound to it, per spec.md §4.B's single-valued-binding
// invariant option.
func (d *Dispatcher) rebind(next ids.SessionID) {
	if prev, ok := d.reg.BindingOf(d.clientID); ok && prev != next {
		_ = d.reg.Detach(prev, d.clientID)
	}
	d.reg.Bind(d.clientID, next)
}

func (d *Dispatcher) handleDetach(ctl wire.Control) {
	if ctl.SessionID == nil {
		d.reply(wire.ErrorControl("DetachFromSession requires session_id"))
		return
	}
	if err := d.reg.Detach(*ctl.SessionID, d.clientID); err != nil {
		d.reply(wire.ErrorControl(err.Error()))
		return
	}
	if bound, ok := d.reg.BindingOf(d.clientID); ok && bound == *ctl.SessionID {
		d.reg.Unbind(d.clientID)
	}
}

func (d *Dispatcher) handleSendInput(ctl wire.Control) {
	if ctl.SessionID == nil {
		d.reply(wire.ErrorControl("SendInput requires session_id"))
		return
	}
	if err := d.reg.SendInput(*ctl.SessionID, ctl.Data); err != nil {
		d.reply(wire.ErrorControl(err.Error()))
	}
}

func (d *Dispatcher) handleResize(ctl wire.Control) {
	if ctl.SessionID == nil {
		d.reply(wire.ErrorControl("ResizeSession requires session_id"))
		return
	}
	if err := d.reg.Resize(*ctl.SessionID, ctl.Cols, ctl.Rows); err != nil {
		d.reply(wire.ErrorControl(err.Error()))
	}
}

func (d *Dispatcher) handleList() {
	infos := d.reg.List()
	out := make([]wire.SessionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, wire.SessionInfo{
			SessionID:    info.SessionID,
			Shell:        info.Shell,
			Cwd:          info.Cwd,
			CreatedAt:    info.CreatedAt.Unix(),
			LastActivity: info.LastActivity.Unix(),
			Attached:     info.Attached,
			State:        info.State.String(),
		})
	}
	d.reply(wire.Control{Type: wire.SessionList, Sessions: out})
}

func (d *Dispatcher) handleTerminate(ctl wire.Control) {
	if ctl.SessionID == nil {
		d.reply(wire.ErrorControl("TerminateSession requires session_id"))
		return
	}
	if err := d.reg.Terminate(*ctl.SessionID); err != nil {
		d.reply(wire.ErrorControl(err.Error()))
		return
	}
	d.reply(wire.Control{Type: wire.SessionTerminated, SessionID: ctl.SessionID})
}

// pushOutput periodically drains the dispatcher's bound session's output
// and forwards it as raw-bytes frames, until Run's disconnect cleanup
// closes d.done.
func (d *Dispatcher) pushOutput() {
	ticker := time.NewTicker(pusherIdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			sessionID, ok := d.reg.BindingOf(d.clientID)
			if !ok {
				continue
			}
			chunk, err := d.reg.TryReadOutput(sessionID, d.clientID)
			if err != nil || len(chunk) == 0 {
				continue
			}
			if werr := d.writeFrame(wire.FrameRaw, chunk); werr != nil {
				return
			}
		}
	}
}

func (d *Dispatcher) reply(c wire.Control) {
	payload, err := wire.EncodeControl(c)
	if err != nil {
		log.Printf("dispatch[%s]: encode reply: %v", d.clientID, err)
		return
	}
	if err := d.writeFrame(wire.FrameControl, payload); err != nil {
		log.Printf("dispatch[%s]: write reply: %v", d.clientID, err)
	}
}

func (d *Dispatcher) writeFrame(typ wire.FrameType, payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return wire.WriteFrame(d.conn, typ, payload)
}

// disconnectCleanup aborts the pusher, detaches the client from its bound
// session (if any), releases the binding, and closes the connection.
func (d *Dispatcher) disconnectCleanup() {
	close(d.done)
	if sessionID, ok := d.reg.BindingOf(d.clientID); ok {
		_ = d.reg.Detach(sessionID, d.clientID)
		d.reg.Unbind(d.clientID)
	}
	_ = d.conn.Close()
}
