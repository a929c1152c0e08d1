package dispatch_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/tterm/internal/dispatch"
	"github.com/ianremillard/tterm/internal/ids"
	"github.com/ianremillard/tterm/internal/registry"
	"github.com/ianremillard/tterm/internal/wire"
)

func sendControl(t *testing.T, conn net.Conn, c wire.Control) {
	t.Helper()
	payload, err := wire.EncodeControl(c)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.FrameControl, payload))
}

func readControl(t *testing.T, conn net.Conn) wire.Control {
	t.Helper()
	typ, payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.FrameControl, typ)
	c, err := wire.DecodeControl(payload)
	require.NoError(t, err)
	return c
}

func newHarness(t *testing.T) (client net.Conn, reg *registry.Registry) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	reg = registry.New()
	d := dispatch.New(serverConn, reg)
	go d.Run()
	t.Cleanup(func() { clientConn.Close() })
	return clientConn, reg
}

func TestHelloRoundTrip(t *testing.T) {
	conn, _ := newHarness(t)
	sid := ids.NewSessionID()

	sendControl(t, conn, wire.Control{Type: wire.CreateSession, SessionID: &sid, Shell: "/bin/sh"})
	reply := readControl(t, conn)
	require.Equal(t, wire.SessionCreated, reply.Type)
	require.NotNil(t, reply.SessionID)
	assert.Equal(t, sid, *reply.SessionID)

	require.NoError(t, wire.WriteFrame(conn, wire.FrameRaw, []byte("echo hello-dispatch\n")))

	deadline := time.Now().Add(3 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			continue
		}
		if typ == wire.FrameRaw {
			got = append(got, payload...)
			if containsSubstring(string(got), "hello-dispatch") {
				return
			}
		}
	}
	t.Fatalf("did not observe echoed output, got %q", got)
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestUnknownControlVariantRepliesError(t *testing.T) {
	conn, _ := newHarness(t)

	payload := []byte(`{"type":"TotallyUnknown"}`)
	require.NoError(t, wire.WriteFrame(conn, wire.FrameControl, payload))

	reply := readControl(t, conn)
	assert.Equal(t, wire.Error, reply.Type)
}

func TestMalformedControlPayloadClosesConnection(t *testing.T) {
	conn, _ := newHarness(t)

	require.NoError(t, wire.WriteFrame(conn, wire.FrameControl, []byte("not json")))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := wire.ReadFrame(conn)
	assert.Error(t, err, "undecodable control payload is a protocol error: no reply, connection closes")
}

func TestUnknownFrameTypeClosesConnection(t *testing.T) {
	conn, _ := newHarness(t)

	hdr := []byte{0x00, 0x00, 0x00, 0x01, 0xFE}
	_, err := conn.Write(hdr)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = wire.ReadFrame(conn)
	assert.Error(t, err)
}

func TestAttachToMissingSessionReturnsError(t *testing.T) {
	conn, _ := newHarness(t)
	missing := ids.NewSessionID()

	sendControl(t, conn, wire.Control{Type: wire.AttachToSession, SessionID: &missing})
	reply := readControl(t, conn)
	assert.Equal(t, wire.Error, reply.Type)
}

func TestListSessionsReturnsCreatedSession(t *testing.T) {
	conn, reg := newHarness(t)
	sid := ids.NewSessionID()

	sendControl(t, conn, wire.Control{Type: wire.CreateSession, SessionID: &sid, Shell: "/bin/sh"})
	_ = readControl(t, conn)

	sendControl(t, conn, wire.Control{Type: wire.ListSessions})
	reply := readControl(t, conn)
	require.Equal(t, wire.SessionList, reply.Type)
	require.Len(t, reply.Sessions, 1)
	assert.Equal(t, sid, reply.Sessions[0].SessionID)

	_ = reg.Terminate(sid)
}

func TestTerminateSessionRemovesFromRegistry(t *testing.T) {
	conn, reg := newHarness(t)
	sid := ids.NewSessionID()

	sendControl(t, conn, wire.Control{Type: wire.CreateSession, SessionID: &sid, Shell: "/bin/sh"})
	_ = readControl(t, conn)

	sendControl(t, conn, wire.Control{Type: wire.TerminateSession, SessionID: &sid})
	reply := readControl(t, conn)
	assert.Equal(t, wire.SessionTerminated, reply.Type)
	assert.Equal(t, 0, reg.SessionCount())
}
