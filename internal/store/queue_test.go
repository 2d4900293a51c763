package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtgsim/internal/domain"
	"rtgsim/pkg/errors"
)

func TestCentralQueueOrdering(t *testing.T) {
	q := NewCentralQueue()

	urgent := uuid.New()
	early := uuid.New()
	late := uuid.New()

	// Same priority resolves by submission tick; lower priority jumps ahead.
	q.Push(late, 5, 10)
	q.Push(early, 5, 3)
	q.Push(urgent, 1, 20)

	assert.Equal(t, []uuid.UUID{urgent, early, late}, q.IDs())
}

func TestCentralQueueFIFOWithinTick(t *testing.T) {
	q := NewCentralQueue()

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	// Identical priority and tick: admission order decides.
	q.Push(first, 5, 7)
	q.Push(second, 5, 7)
	q.Push(third, 5, 7)

	assert.Equal(t, []uuid.UUID{first, second, third}, q.IDs())
}

func TestCentralQueueRemoveAndContains(t *testing.T) {
	q := NewCentralQueue()
	id := uuid.New()

	q.Push(id, 5, 0)
	assert.True(t, q.Contains(id))
	assert.True(t, q.Remove(id))
	assert.False(t, q.Contains(id))
	assert.False(t, q.Remove(id))
	assert.Equal(t, 0, q.Len())
}

func TestCentralQueueReplaceKeepsPosition(t *testing.T) {
	q := NewCentralQueue()

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()
	replacement := uuid.New()

	q.Push(first, 5, 0)
	q.Push(second, 5, 1)
	q.Push(third, 5, 2)

	require.True(t, q.Replace(second, replacement))
	assert.Equal(t, []uuid.UUID{first, replacement, third}, q.IDs())

	assert.False(t, q.Replace(second, uuid.New()))
}

func TestAgentsRegistry(t *testing.T) {
	agents := NewAgents()

	require.NoError(t, agents.Add(&domain.Agent{ID: "alpha", Balance: 100}))
	require.NoError(t, agents.Add(&domain.Agent{ID: "beta", Balance: -30}))
	assert.ErrorIs(t, agents.Add(&domain.Agent{ID: "alpha"}), errors.ErrDuplicateAgent)

	_, err := agents.Get("gamma")
	assert.ErrorIs(t, err, errors.ErrUnknownAgent)
	assert.True(t, agents.Has("beta"))

	all := agents.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].ID)
	assert.Equal(t, "beta", all[1].ID)

	assert.Equal(t, int64(70), agents.TotalBalance())
}
