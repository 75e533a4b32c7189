package lru

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCache_GetAdd(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	c.Add("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Get("a")
	c.Add("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_UpdateRefreshesOrder(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("a", 10)
	c.Add("c", 3)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_TTL(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[int, string](4, WithTTL(time.Minute), WithClock(clk.now))
	c.Add(1, "one")

	clk.advance(59 * time.Second)
	_, ok := c.Get(1)
	assert.True(t, ok)

	clk.advance(time.Second)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is collected on read")
}

func TestCache_AddResetsTTL(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[int, string](4, WithTTL(time.Minute), WithClock(clk.now))
	c.Add(1, "one")
	clk.advance(50 * time.Second)
	c.Add(1, "uno")
	clk.advance(50 * time.Second)

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "uno", v)
}

func TestCache_RemoveAndPurge(t *testing.T) {
	c := New[string, int](3)
	c.Add("a", 1)
	c.Add("b", 2)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	c.Add("x", 9)
	v, ok := c.Get("x")
	require.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestCache_MinimumSize(t *testing.T) {
	c := New[string, int](0)
	c.Add("a", 1)
	c.Add("b", 2)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	c := New[string, int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*i)%32)
				c.Add(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
