package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// TestSwitchableSetChange tests unconditional and conditional switches.
func TestSwitchableSetChange(t *testing.T) {
	a, b, c := openMem(t), openMem(t), openMem(t)

	sw := NewSwitchable("", a)
	assert.Same(t, a, sw.Get())
	assert.False(t, sw.HasContainerPath())
	assert.Equal(t, "", sw.ContainerPath())

	assert.True(t, sw.Change(a, b))
	assert.False(t, sw.Change(a, c))
	assert.Same(t, b, sw.Get())

	old := sw.Set(c)
	assert.Same(t, b, old)
	assert.Same(t, c, sw.Get())
}

// TestSwitchableConcurrentChange tests that exactly one of several
// competing changes from the same store wins.
func TestSwitchableConcurrentChange(t *testing.T) {
	a := openMem(t)
	sw := NewSwitchable("", a)

	candidates := []*Store{openMem(t), openMem(t), openMem(t), openMem(t)}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []*Store
	)
	for _, c := range candidates {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sw.Change(a, c) {
				mu.Lock()
				wins = append(wins, c)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, wins, 1)
	assert.Same(t, wins[0], sw.Get())
}

// TestSwitchableTxStaysOnStore tests that a transaction keeps its store
// after the handle is switched.
func TestSwitchableTxStaysOnStore(t *testing.T) {
	a, b := openMem(t), openMem(t)
	sw := NewSwitchable("", a)

	x, err := sw.Begin(tx.ModeWrite)
	require.NoError(t, err)
	sw.Set(b)

	require.NoError(t, x.Put("g", []byte("k"), []byte("v")))
	require.NoError(t, x.Commit())
	assert.Same(t, a, x.Store())

	_, found := get(t, a, "g", "k")
	assert.True(t, found)
	_, found = get(t, b, "g", "k")
	assert.False(t, found)
}

// TestGraphViewFollowsSwitch tests that a graph view resolves the current
// store on every call.
func TestGraphViewFollowsSwitch(t *testing.T) {
	a, b := openMem(t), openMem(t)
	sw := NewSwitchable("", a)
	view := sw.Graph("people")
	assert.Equal(t, "people", view.Name())

	require.NoError(t, view.Put([]byte("alice"), []byte("1")))
	require.NoError(t, view.Put([]byte("bob"), []byte("2")))

	v, found, err := view.Get([]byte("alice"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), v)

	n, err := view.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sw.Set(b)
	found, err = view.Contains([]byte("alice"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, view.Put([]byte("carol"), []byte("3")))
	_, found = get(t, a, "people", "carol")
	assert.False(t, found)

	sw.Set(a)
	removed, err := view.Delete([]byte("bob"))
	require.NoError(t, err)
	assert.True(t, removed)

	var keys []string
	require.NoError(t, view.Each(func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.Equal(t, []string{"alice"}, keys)
}

// TestSwitchableBeginWriteFollowsSwitch tests that a writer waiting for
// admission on a store that is switched away begins on the new store.
func TestSwitchableBeginWriteFollowsSwitch(t *testing.T) {
	a, b := openMem(t), openMem(t)
	sw := NewSwitchable("", a)

	held, err := a.Begin(tx.ModeWrite)
	require.NoError(t, err)

	begun := make(chan *Tx, 1)
	go func() {
		x, err := sw.Begin(tx.ModeWrite)
		if err != nil {
			begun <- nil
			return
		}
		begun <- x
	}()
	time.Sleep(50 * time.Millisecond)

	sw.Set(b)
	require.NoError(t, held.Commit())

	x := <-begun
	require.NotNil(t, x)
	assert.Same(t, b, x.Store())
	require.NoError(t, x.Put("g", []byte("k"), []byte("v")))
	require.NoError(t, x.Commit())

	_, found := get(t, b, "g", "k")
	assert.True(t, found)
	_, found = get(t, a, "g", "k")
	assert.False(t, found)
}

// TestSwitchableWriteAfterOldStoreClosed tests that a write resolving a
// closed, replaced store is retried on the current one.
func TestSwitchableWriteAfterOldStoreClosed(t *testing.T) {
	a, b := openMem(t), openMem(t)
	sw := NewSwitchable("", a)
	view := sw.Graph("g")

	calls := 0
	err := sw.Write(func(x *Tx) error {
		calls++
		if calls == 1 {
			sw.Set(b)
			a.Close()
		}
		return x.Put("g", []byte("k"), []byte("v"))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	found, err := view.Contains([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
}
