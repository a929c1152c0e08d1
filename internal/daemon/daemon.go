// Package daemon implements the Daemon Supervisor: binds the Unix socket,
// accepts connections and spawns a dispatcher per connection, and runs the
// periodic orphan sweep.
//
// Grounded on internal/daemon/daemon.go's Daemon.Run (listener bind, stale
// socket removal, accept loop) and cmd/catherdd/main.go (flag parsing,
// signal-triggered graceful shutdown) from the teacher.
package daemon

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ianremillard/tterm/internal/dispatch"
	"github.com/ianremillard/tterm/internal/registry"
)

// DefaultUnixSocketPath is the Unix-domain socket path spec.md §6 names.
const DefaultUnixSocketPath = "/tmp/tterm-daemon.sock"

// DefaultWindowsPipePath is named for interface completeness; Run
// returns ErrUnsupportedPlatform on windows because no named-pipe listener
// dependency (github.com/Microsoft/go-winio) is available to this module.
const DefaultWindowsPipePath = `\\.\pipe\tterm-daemon`

// ErrUnsupportedPlatform is returned by Run on platforms this daemon
// does not implement a listener for.
var ErrUnsupportedPlatform = errors.New("daemon: unsupported platform")

// DefaultSocketPath returns the platform-appropriate default socket
// address: the Unix socket path everywhere this module actually listens,
// and the Windows pipe name on GOOS=windows for documentation purposes.
func DefaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return DefaultWindowsPipePath
	}
	return DefaultUnixSocketPath
}

const (
	DefaultOrphanTimeout = 300 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

// Supervisor owns the listener, the registry, and the sweep goroutine.
type Supervisor struct {
	reg           *registry.Registry
	orphanTimeout time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a supervisor with the given orphan sweep policy.
func New(orphanTimeout, sweepInterval time.Duration) *Supervisor {
	if orphanTimeout <= 0 {
		orphanTimeout = DefaultOrphanTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Supervisor{
		reg:           registry.New(),
		orphanTimeout: orphanTimeout,
		sweepInterval: sweepInterval,
	}
}

// Registry exposes the supervisor's registry, mainly for tests and for a
// CLI that wants to inspect state in-process.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Run binds socketPath, removing a stale socket file left behind by a
// crashed prior instance, then accepts connections until the listener is
// closed (via Shutdown). It blocks until the accept loop exits.
func (s *Supervisor) Run(socketPath string) error {
	if runtime.GOOS == "windows" {
		return ErrUnsupportedPlatform
	}

	if err := removeStaleSocket(socketPath); err != nil {
		return fmt.Errorf("daemon: removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Printf("daemon: listening on %s", socketPath)

	sweepDone := make(chan struct{})
	go s.sweepLoop(sweepDone)
	defer close(sweepDone)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			log.Printf("daemon: accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			d := dispatch.New(conn, s.reg)
			d.Run()
		}()
	}
}

// Shutdown closes the listener, causing Run's accept loop to return once
// in-flight connections finish their own cleanup.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Supervisor) sweepLoop(done <-chan struct{}) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			removed := s.reg.SweepOrphans(s.orphanTimeout, time.Now())
			if len(removed) > 0 {
				log.Printf("daemon: orphan sweep removed %d session(s)", len(removed))
			}
		}
	}
}

func removeStaleSocket(socketPath string) error {
	if _, err := net.Dial("unix", socketPath); err == nil {
		return fmt.Errorf("daemon: socket %s already has a live listener", socketPath)
	}
	err := os.Remove(socketPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
