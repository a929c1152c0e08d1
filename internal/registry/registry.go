// Package registry implements the Session Registry: the single source of
// truth for all live sessions, plus the auxiliary client-to-session
// binding used to route raw-bytes frames without repeating a session id on
// every frame.
//
// Grounded on internal/daemon/daemon.go's d.instances map-plus-mutex and
// d.getInstance/d.nextInstanceID pattern (teacher), and on the original
// SessionManager (original_source/src/session/manager.rs) for the
// operation surface and tie-break policy (create on existing id fails with
// AlreadyExists; attach/detach/send_input/resize on a missing id fail with
// NotFound; attach is idempotent).
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/ianremillard/tterm/internal/ids"
	"github.com/ianremillard/tterm/internal/ptysession"
)

// ErrNotFound is returned when an operation names a session id the
// registry does not hold.
var ErrNotFound = errors.New("registry: session not found")

// ErrAlreadyExists is returned by Create when the session id is already in use.
var ErrAlreadyExists = errors.New("registry: session already exists")

// Registry guards its session and binding maps with a single mutex.
// Per-session operations (attach, detach, input, output, resize) run after
// the lookup has released that mutex, under the ptysession.Session's own
// lock, so they are not serialized by the registry mutex. PTY I/O never
// happens while the mutex is held: ptysession.Session's own queues absorb
// that work on their own goroutines.
type Registry struct {
	mu       sync.Mutex
	sessions map[ids.SessionID]*ptysession.Session
	bindings map[ids.ClientID]ids.SessionID
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[ids.SessionID]*ptysession.Session),
		bindings: make(map[ids.ClientID]ids.SessionID),
	}
}

// Create opens a new session under id. Fails with ErrAlreadyExists if id
// is already registered.
func (r *Registry) Create(id ids.SessionID, shell, cwd string) (*ptysession.Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	r.mu.Unlock()

	s, err := ptysession.Open(id, shell, cwd)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		_ = s.Close()
		return nil, ErrAlreadyExists
	}
	r.sessions[id] = s
	r.mu.Unlock()
	return s, nil
}

// Terminate removes id from the registry and tears down its session. The
// underlying workers observe channel closure and exit on their own.
func (r *Registry) Terminate(id ids.SessionID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, id)
	for clientID, boundTo := range r.bindings {
		if boundTo == id {
			delete(r.bindings, clientID)
		}
	}
	r.mu.Unlock()
	return s.Close()
}

// Attach adds clientID to id's attached set. Idempotent.
func (r *Registry) Attach(id ids.SessionID, clientID ids.ClientID) error {
	s, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	s.Attach(clientID)
	return nil
}

// Detach removes clientID from id's attached set.
func (r *Registry) Detach(id ids.SessionID, clientID ids.ClientID) error {
	s, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	s.Detach(clientID)
	return nil
}

// SendInput enqueues data on id's input channel.
func (r *Registry) SendInput(id ids.SessionID, data []byte) error {
	s, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	s.SendInput(data)
	return nil
}

// TryReadOutput performs a non-blocking drain of id's output queue for
// clientID. Each attached client has its own queue (see
// ptysession.Session), so concurrently attached clients each observe the
// full output stream rather than racing for chunks.
func (r *Registry) TryReadOutput(id ids.SessionID, clientID ids.ClientID) ([]byte, error) {
	s, ok := r.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	chunk, ok := s.TryReadOutput(clientID)
	if !ok {
		return nil, nil
	}
	return chunk, nil
}

// Resize adjusts id's PTY window size.
func (r *Registry) Resize(id ids.SessionID, cols, rows uint16) error {
	s, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	return s.Resize(cols, rows)
}

// Info is the read-only snapshot List returns for one session.
type Info struct {
	SessionID    ids.SessionID
	Shell        string
	Cwd          string
	CreatedAt    time.Time
	LastActivity time.Time
	Attached     int
	State        ptysession.State
}

// List returns a snapshot of every registered session.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, Info{
			SessionID:    id,
			Shell:        s.Shell(),
			Cwd:          s.Cwd(),
			CreatedAt:    s.CreatedAt(),
			LastActivity: s.LastActivity(),
			Attached:     s.AttachedCount(),
			State:        s.State(),
		})
	}
	return out
}

// SweepOrphans removes every session that has been orphaned longer than
// timeout, evaluated as of now. Accepting now as a parameter keeps the
// sweep unit-testable without a real clock.
func (r *Registry) SweepOrphans(timeout time.Duration, now time.Time) []ids.SessionID {
	r.mu.Lock()
	var doomed []ids.SessionID
	doomedSessions := make([]*ptysession.Session, 0)
	for id, s := range r.sessions {
		if s.ShouldCleanup(timeout, now) {
			doomed = append(doomed, id)
			doomedSessions = append(doomedSessions, s)
		}
	}
	for _, id := range doomed {
		delete(r.sessions, id)
		for clientID, boundTo := range r.bindings {
			if boundTo == id {
				delete(r.bindings, clientID)
			}
		}
	}
	r.mu.Unlock()

	// Close outside the lock: Close may block briefly on process teardown
	// and must never happen while the registry mutex is held.
	for _, s := range doomedSessions {
		_ = s.Close()
	}
	return doomed
}

func (r *Registry) lookup(id ids.SessionID) (*ptysession.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Bind records that clientID's raw-bytes frames currently route to id.
func (r *Registry) Bind(clientID ids.ClientID, id ids.SessionID) {
	r.mu.Lock()
	r.bindings[clientID] = id
	r.mu.Unlock()
}

// Unbind clears clientID's current binding, if any.
func (r *Registry) Unbind(clientID ids.ClientID) {
	r.mu.Lock()
	delete(r.bindings, clientID)
	r.mu.Unlock()
}

// BindingOf returns the session clientID's raw-bytes frames currently route to.
func (r *Registry) BindingOf(clientID ids.ClientID) (ids.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bindings[clientID]
	return id, ok
}

// SessionCount reports the number of live sessions, for tests and logging.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
