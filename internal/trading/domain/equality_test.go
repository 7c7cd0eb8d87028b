package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBusinessEqualityIgnoresSurrogateKey(t *testing.T) {
	local := newTestOrder(t, "EX-1")
	loaded := newTestOrder(t, "EX-1")
	require.NoError(t, loaded.AssignID(99, created))

	assert.True(t, OrderBusinessEquals(local, loaded))
	assert.Equal(t, OrderHash(local), OrderHash(loaded))
	assert.False(t, OrderIdentityEquals(local, loaded))

	require.NoError(t, local.AssignID(100, created))
	assert.True(t, OrderBusinessEquals(local, loaded))
	assert.False(t, OrderIdentityEquals(local, loaded))
}

func TestOrderBusinessEqualityTracksMutableFields(t *testing.T) {
	a := newTestOrder(t, "EX-1")
	b := newTestOrder(t, "EX-1")
	hash := OrderHash(a)

	_, err := a.AddTrade(fill(t, "T1", "EX-1", "1", "100", time.Second))
	require.NoError(t, err)
	assert.False(t, OrderBusinessEquals(a, b))
	assert.Equal(t, hash, OrderHash(a))

	_, err = b.AddTrade(fill(t, "T1", "EX-1", "1", "100", time.Second))
	require.NoError(t, err)
	assert.True(t, OrderBusinessEquals(a, b))
}

func TestOrderEqualityDiffersOnBusinessKey(t *testing.T) {
	a := newTestOrder(t, "EX-1")
	b := newTestOrder(t, "EX-2")
	assert.False(t, OrderBusinessEquals(a, b))
	assert.NotEqual(t, OrderHash(a), OrderHash(b))
	assert.False(t, OrderBusinessEquals(a, nil))
	assert.True(t, OrderBusinessEquals(nil, nil))
}

func TestCandleEquality(t *testing.T) {
	a, err := BuildCandle(validRow(1))
	require.NoError(t, err)
	b, err := BuildCandle(validRow(2))
	require.NoError(t, err)

	assert.True(t, CandleBusinessEquals(a, b))
	assert.Equal(t, CandleHash(a), CandleHash(b))
	assert.False(t, CandleIdentityEquals(a, b))

	require.NoError(t, a.AssignID(5, created))
	require.NoError(t, b.AssignID(5, created))
	assert.True(t, CandleIdentityEquals(a, b))

	other := validRow(3)
	other.Close = "2006"
	c, err := BuildCandle(other)
	require.NoError(t, err)
	assert.False(t, CandleBusinessEquals(a, c))
	assert.Equal(t, CandleHash(a), CandleHash(c))
}
