package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Accessors(t *testing.T) {
	p := Payload{
		"shard":  float64(3),
		"from":   "42",
		"sub":    "analytics",
		"follow": "false",
		"bad":    []int{1},
	}

	shard, err := p.Int("shard", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, shard)

	from, err := p.Uint64("from", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), from)

	missing, err := p.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	follow, err := p.Bool("follow", true)
	require.NoError(t, err)
	assert.False(t, follow)

	assert.Equal(t, "analytics", p.String("sub"))
	assert.Equal(t, "", p.String("missing"))

	_, err = p.Int("bad", 0)
	assert.Error(t, err)
	_, err = Payload{"from": -1}.Uint64("from", 0)
	assert.Error(t, err)
}
