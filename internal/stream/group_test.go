package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_StopStopsEveryHandle(t *testing.T) {
	c := newTestClient(t, endlessSource(time.Millisecond))

	var g Group
	for _, topic := range []string{"a", "b", "c"} {
		h, err := c.Subscribe(topic, nil)
		require.NoError(t, err)
		g.Add(h)
	}
	require.Len(t, g.Handles(), 3)

	require.NoError(t, g.Stop())
	for _, h := range g.Handles() {
		assert.Equal(t, StateStopped, h.State())
		waitDone(t, h)
	}
}

func TestGroup_StopJoinsErrors(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck, err := newTestClient(t, stuckSource(release)).Subscribe("stuck", nil, WithStopTimeout(10*time.Millisecond))
	require.NoError(t, err)
	fine, err := newTestClient(t, endlessSource(time.Millisecond)).Subscribe("fine", nil)
	require.NoError(t, err)

	var g Group
	g.Add(stuck, fine)

	err = g.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Contains(t, err.Error(), stuck.ID())
	assert.NotContains(t, err.Error(), fine.ID())
}

func TestGroup_EmptyStop(t *testing.T) {
	var g Group
	assert.NoError(t, g.Stop())
}
