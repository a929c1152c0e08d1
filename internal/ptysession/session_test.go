package ptysession_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/tterm/internal/ids"
	"github.com/ianremillard/tterm/internal/ptysession"
)

func waitForOutput(t *testing.T, s *ptysession.Session, clientID ids.ClientID, want string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got []byte
	for time.Now().Before(deadline) {
		if chunk, ok := s.TryReadOutput(clientID); ok {
			got = append(got, chunk...)
			if containsString(string(got), want) {
				return string(got)
			}
			continue
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for output containing %q, got %q", want, got)
	return ""
}

func containsString(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestSessionEchoRoundTrip(t *testing.T) {
	s, err := ptysession.Open(ids.NewSessionID(), "/bin/sh", "")
	require.NoError(t, err)
	defer s.Close()

	client := ids.NewClientID()
	s.Attach(client)

	s.SendInput([]byte("echo hello-session\n"))
	waitForOutput(t, s, client, "hello-session", 3*time.Second)
}

func TestSessionAttachDetachOrphanTracking(t *testing.T) {
	s, err := ptysession.Open(ids.NewSessionID(), "/bin/sh", "")
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsOrphaned())

	client := ids.NewClientID()
	s.Attach(client)
	assert.False(t, s.IsOrphaned())
	assert.Equal(t, 1, s.AttachedCount())

	s.Attach(client) // idempotent
	assert.Equal(t, 1, s.AttachedCount())

	s.Detach(client)
	assert.True(t, s.IsOrphaned())
}

func TestSessionShouldCleanup(t *testing.T) {
	s, err := ptysession.Open(ids.NewSessionID(), "/bin/sh", "")
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	assert.False(t, s.ShouldCleanup(5*time.Minute, now), "fresh session must not be swept")

	future := now.Add(10 * time.Minute)
	assert.True(t, s.ShouldCleanup(5*time.Minute, future), "orphaned and idle past timeout must be swept")

	client := ids.NewClientID()
	s.Attach(client)
	assert.False(t, s.ShouldCleanup(5*time.Minute, future), "attached session is never orphaned")
}

func TestSessionOutputFanOutToMultipleAttachedClients(t *testing.T) {
	s, err := ptysession.Open(ids.NewSessionID(), "/bin/sh", "")
	require.NoError(t, err)
	defer s.Close()

	a := ids.NewClientID()
	b := ids.NewClientID()
	s.Attach(a)
	s.Attach(b)

	s.SendInput([]byte("echo fan-out-check\n"))

	// Both attached clients must observe the full output independently;
	// a shared single-consumer channel would let one steal chunks from
	// the other.
	waitForOutput(t, s, a, "fan-out-check", 3*time.Second)
	waitForOutput(t, s, b, "fan-out-check", 3*time.Second)
}

func TestSessionExitClosesOutput(t *testing.T) {
	s, err := ptysession.Open(ids.NewSessionID(), "/bin/sh", "")
	require.NoError(t, err)
	defer s.Close()

	s.SendInput([]byte("exit\n"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && s.State() == ptysession.Running {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, ptysession.Exited, s.State())
}
