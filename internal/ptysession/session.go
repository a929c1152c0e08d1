// Package ptysession implements the PTY Session component: one master PTY
// plus its child shell, exposed as async byte channels bridging the
// blocking PTY file descriptor to the rest of the daemon.
//
// Grounded on internal/daemon/instance.go's startAgent/ptyReader (teacher)
// and internal/pty/session.go (houx15-agenterm), generalized to the
// specification's three-worker design (reader, writer, waitpid watcher)
// and to the session-vs-output-channel split spec.md §4.A requires instead
// of forwarding straight to a single attached connection.
package ptysession

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/ianremillard/tterm/internal/ids"
)

// State reports a session's liveness, resolving spec.md §9's open question
// about draining output after the child exits: Exited/Poisoned sessions
// still answer TryReadOutput with whatever remains buffered.
type State int

const (
	Running State = iota
	Exited
	Poisoned
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Poisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

const (
	defaultCols = 80
	defaultRows = 24
	readChunk   = 4096
	readYield   = 10 * time.Millisecond
)

// Session owns one master PTY and its child shell.
type Session struct {
	id   ids.SessionID
	cmd  *exec.Cmd
	ptmx *os.File

	shell string
	cwd   string

	input *byteQueue

	createdAt time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	attached     map[ids.ClientID]struct{}
	// subs holds one output queue per attached client, so concurrent
	// attachees each see the full output stream instead of racing for
	// chunks off a single shared channel (spec.md §3's "one pusher per
	// attached dispatcher" fan-out).
	subs         map[ids.ClientID]*byteQueue
	cols, rows   uint16
	outputClosed bool
}

// Open allocates a PTY pair, spawns shell as an interactive login shell, and
// starts the reader, writer, and waitpid workers. shell runs with
// "-i -l" so it behaves like the user's normal login shell; cwd, if
// non-empty, becomes the child's working directory.
func Open(id ids.SessionID, shell, cwd string) (*Session, error) {
	if shell == "" {
		return nil, errors.New("ptysession: shell must not be empty")
	}

	cmd := exec.Command(shell, "-i", "-l")
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"LC_ALL=en_US.UTF-8",
		"LANG=en_US.UTF-8",
		"COLUMNS=80",
		"LINES=24",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("ptysession: spawn %q: %w", shell, err)
	}

	now := time.Now()
	s := &Session{
		id:           id,
		cmd:          cmd,
		ptmx:         ptmx,
		shell:        shell,
		cwd:          cwd,
		input:        newByteQueue(),
		createdAt:    now,
		lastActivity: now,
		attached:     make(map[ids.ClientID]struct{}),
		subs:         make(map[ids.ClientID]*byteQueue),
		cols:         defaultCols,
		rows:         defaultRows,
	}

	go s.writerLoop()
	go s.readerLoop()
	go s.waiter()

	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() ids.SessionID { return s.id }

// Shell returns the shell command the session was opened with.
func (s *Session) Shell() string { return s.shell }

// Cwd returns the child's working directory, or "" if unset.
func (s *Session) Cwd() string { return s.cwd }

// CreatedAt returns the session's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the monotonically non-decreasing last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State returns the session's current liveness state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// touch bumps last-activity to now; last-activity never moves backward.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// SendInput enqueues bytes for the writer worker. It never blocks the
// caller and never drops data: the queue backing it is unbounded, per
// spec.md §3. A poisoned or closed session simply has nothing left to
// drain it — push still succeeds up until Close, matching §4.A's failure
// semantics ("send_input may still enqueue but will never be drained").
func (s *Session) SendInput(data []byte) {
	if len(data) == 0 {
		return
	}
	s.touch()
	s.input.push(data)
}

// TryReadOutput performs a non-blocking drain of one queued output chunk
// for clientID. clientID must currently be attached; an unattached caller
// gets ok == false, the same as an empty queue.
func (s *Session) TryReadOutput(clientID ids.ClientID) ([]byte, bool) {
	s.mu.Lock()
	q, ok := s.subs[clientID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	chunk, ok := q.tryPop()
	if ok {
		s.touch()
	}
	return chunk, ok
}

// Resize adjusts the PTY window size. Fails if the master handle is gone.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Poisoned {
		return errors.New("ptysession: session is poisoned")
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("ptysession: resize: %w", err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Attach adds clientID to the attached set and gives it its own output
// queue. Idempotent: attaching an already-attached client only refreshes
// last-activity and leaves its queue (and whatever is already buffered in
// it) untouched.
func (s *Session) Attach(clientID ids.ClientID) {
	s.mu.Lock()
	s.attached[clientID] = struct{}{}
	if _, ok := s.subs[clientID]; !ok {
		s.subs[clientID] = newByteQueue()
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Detach removes clientID from the attached set and discards its output
// queue. A no-op if absent.
func (s *Session) Detach(clientID ids.ClientID) {
	s.mu.Lock()
	delete(s.attached, clientID)
	if q, ok := s.subs[clientID]; ok {
		q.close()
		delete(s.subs, clientID)
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IsOrphaned reports whether no client is currently attached.
func (s *Session) IsOrphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached) == 0
}

// ShouldCleanup reports whether the session is orphaned and has been idle
// longer than timeout.
func (s *Session) ShouldCleanup(timeout time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attached) != 0 {
		return false
	}
	return now.Sub(s.lastActivity) > timeout
}

// AttachedCount returns the number of attached clients (for SessionInfo snapshots).
func (s *Session) AttachedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

// Close terminates the child process, releases the PTY master, and closes
// the input queue so writerLoop's pop loop ends instead of blocking
// forever on an idle writer. Safe to call more than once: byteQueue.close
// and *os.File.Close are both idempotent-safe to call twice, the latter
// just returning an error on the second call, which Close ignores here
// since the session is already gone by then.
func (s *Session) Close() error {
	s.mu.Lock()
	proc := s.cmd.Process
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}
	s.input.close()
	return s.ptmx.Close()
}

// writerLoop drains the input queue and writes to the PTY master. A write
// error poisons the session and ends the worker; the queue being closed
// and drained (pop's ok == false) ends it cleanly on termination.
func (s *Session) writerLoop() {
	for {
		data, ok := s.input.pop()
		if !ok {
			return
		}
		if _, err := s.ptmx.Write(data); err != nil {
			s.poison()
			return
		}
	}
}

// readerLoop reads up to readChunk bytes at a time, broadcasting each
// non-empty read to every attached client's output queue. A zero-length
// read (EOF) closes the output queues and marks the session Exited.
func (s *Session) readerLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			s.closeOutput(Exited)
			return
		}
		time.Sleep(readYield)
	}
}

// broadcast pushes chunk onto every currently attached client's output
// queue. Each queue is itself unbounded, so no attached client ever loses
// a chunk to a full buffer.
func (s *Session) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.subs {
		q.push(chunk)
	}
}

// waiter blocks on the child process's exit and marks the session Exited
// (if not already poisoned) once it ends. Using exec.Cmd.Wait directly,
// rather than polling every ~100ms as the Rust source's try_wait loop
// does, is the idiomatic Go rendition: a blocking goroutine costs nothing
// extra here and needs no poll interval tuning (see DESIGN.md).
func (s *Session) waiter() {
	_ = s.cmd.Wait()
	s.closeOutput(Exited)
}

func (s *Session) poison() {
	s.mu.Lock()
	if s.state == Running {
		s.state = Poisoned
	}
	s.mu.Unlock()
}

// closeOutput transitions state (if still Running) and closes every
// subscriber queue exactly once, whether readerLoop or waiter observes
// exit first.
func (s *Session) closeOutput(next State) {
	s.mu.Lock()
	if s.outputClosed {
		s.mu.Unlock()
		return
	}
	s.outputClosed = true
	if s.state == Running {
		s.state = next
	}
	subs := make([]*byteQueue, 0, len(s.subs))
	for _, q := range s.subs {
		subs = append(subs, q)
	}
	s.mu.Unlock()

	for _, q := range subs {
		q.close()
	}
}
