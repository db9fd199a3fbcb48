package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, 1, r.Connect("c1"))
	assert.Equal(t, 2, r.Connect("c2"))
	assert.Equal(t, 2, r.Connect("c2"), "connecting twice is idempotent")

	_, ok := r.Name("c1")
	assert.False(t, ok, "no name before join")

	p, count, err := r.Join("c1", "ann")
	require.NoError(t, err)
	assert.Equal(t, "ann", p.Name)
	assert.Equal(t, 2, count)
	assert.False(t, p.JoinedAt.IsZero())

	name, ok := r.Name("c1")
	assert.True(t, ok)
	assert.Equal(t, "ann", name)

	removed, count, ok := r.Remove("c1")
	assert.True(t, ok)
	assert.Equal(t, "ann", removed.Name)
	assert.Equal(t, 1, count)

	_, _, ok = r.Remove("c1")
	assert.False(t, ok, "removing twice is a no-op")
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_JoinUnknownConnection(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Join("ghost", "ann")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistry_Rename(t *testing.T) {
	r := NewRegistry()
	r.Connect("c1")

	_, err := r.Rename("c1", "bo")
	assert.ErrorIs(t, err, ErrNotJoined)

	_, _, err = r.Join("c1", "ann")
	require.NoError(t, err)

	from, err := r.Rename("c1", "bo")
	require.NoError(t, err)
	assert.Equal(t, "ann", from)
	assert.Equal(t, []string{"bo"}, r.Names())

	_, err = r.Rename("nobody", "x")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Connect(id)
			_, _, _ = r.Join(id, fmt.Sprintf("user%d", i))
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Count())
	assert.Len(t, r.Names(), 10)
}
