package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/tterm/internal/ids"
	"github.com/ianremillard/tterm/internal/registry"
)

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := registry.New()
	id := ids.NewSessionID()

	_, err := r.Create(id, "/bin/sh", "")
	require.NoError(t, err)
	defer r.Terminate(id)

	_, err = r.Create(id, "/bin/sh", "")
	assert.ErrorIs(t, err, registry.ErrAlreadyExists)
}

func TestOperationsOnMissingSessionReturnNotFound(t *testing.T) {
	r := registry.New()
	missing := ids.NewSessionID()
	client := ids.NewClientID()

	assert.ErrorIs(t, r.Attach(missing, client), registry.ErrNotFound)
	assert.ErrorIs(t, r.Detach(missing, client), registry.ErrNotFound)
	assert.ErrorIs(t, r.SendInput(missing, []byte("x")), registry.ErrNotFound)
	assert.ErrorIs(t, r.Resize(missing, 80, 24), registry.ErrNotFound)
	_, err := r.TryReadOutput(missing, client)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.ErrorIs(t, r.Terminate(missing), registry.ErrNotFound)
}

func TestAttachIsIdempotent(t *testing.T) {
	r := registry.New()
	id := ids.NewSessionID()
	_, err := r.Create(id, "/bin/sh", "")
	require.NoError(t, err)
	defer r.Terminate(id)

	client := ids.NewClientID()
	require.NoError(t, r.Attach(id, client))
	require.NoError(t, r.Attach(id, client))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Attached)
}

func TestBindUnbindBindingOf(t *testing.T) {
	r := registry.New()
	id := ids.NewSessionID()
	client := ids.NewClientID()

	_, ok := r.BindingOf(client)
	assert.False(t, ok)

	r.Bind(client, id)
	got, ok := r.BindingOf(client)
	require.True(t, ok)
	assert.Equal(t, id, got)

	r.Unbind(client)
	_, ok = r.BindingOf(client)
	assert.False(t, ok)
}

func TestSweepOrphansRemovesIdleUnattachedSessions(t *testing.T) {
	r := registry.New()
	id := ids.NewSessionID()
	_, err := r.Create(id, "/bin/sh", "")
	require.NoError(t, err)

	now := time.Now()
	removed := r.SweepOrphans(5*time.Minute, now)
	assert.Empty(t, removed, "fresh session must survive a sweep")

	future := now.Add(10 * time.Minute)
	removed = r.SweepOrphans(5*time.Minute, future)
	require.Len(t, removed, 1)
	assert.Equal(t, id, removed[0])
	assert.Equal(t, 0, r.SessionCount())
}

func TestSweepOrphansSparesAttachedSessions(t *testing.T) {
	r := registry.New()
	id := ids.NewSessionID()
	_, err := r.Create(id, "/bin/sh", "")
	require.NoError(t, err)
	defer r.Terminate(id)

	client := ids.NewClientID()
	require.NoError(t, r.Attach(id, client))

	future := time.Now().Add(time.Hour)
	removed := r.SweepOrphans(5*time.Minute, future)
	assert.Empty(t, removed)
	assert.Equal(t, 1, r.SessionCount())
}

func TestTerminateClearsBinding(t *testing.T) {
	r := registry.New()
	id := ids.NewSessionID()
	_, err := r.Create(id, "/bin/sh", "")
	require.NoError(t, err)

	client := ids.NewClientID()
	r.Bind(client, id)

	require.NoError(t, r.Terminate(id))
	_, ok := r.BindingOf(client)
	assert.False(t, ok)
}
