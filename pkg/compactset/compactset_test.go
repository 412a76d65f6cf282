package compactset

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	key string
	val int
}

func newEntrySet() *Set[string, entry] {
	return New(func(e entry) string { return e.key })
}

// checkMirror asserts the structural invariant: the reverse index exactly
// mirrors the sequence and the sequence has no gaps.
func checkMirror(t *testing.T, s *Set[string, entry]) {
	t.Helper()
	require.Equal(t, s.Len(), len(s.index), "index size must equal live element count")
	for i := 0; i < s.Len(); i++ {
		e := s.At(i)
		idx, ok := s.index[e.key]
		require.True(t, ok, "element %q at %d missing from index", e.key, i)
		require.Equal(t, i, idx, "index entry for %q must point at its slot", e.key)
	}
}

func TestAddRemoveBasics(t *testing.T) {
	s := newEntrySet()

	require.True(t, s.Add(entry{"a", 1}))
	require.True(t, s.Add(entry{"b", 2}))
	require.True(t, s.Add(entry{"c", 3}))
	assert.False(t, s.Add(entry{"b", 99}), "duplicate key must not be added")
	assert.Equal(t, 3, s.Len())
	checkMirror(t, s)

	t.Run("swap-remove moves last element into freed slot", func(t *testing.T) {
		removed, ok := s.Remove("a")
		require.True(t, ok)
		assert.Equal(t, 1, removed.val)
		assert.Equal(t, 2, s.Len())
		assert.Equal(t, "c", s.At(0).key, "last element must fill the hole")
		checkMirror(t, s)
	})

	t.Run("removing the last element just truncates", func(t *testing.T) {
		_, ok := s.Remove("b")
		require.True(t, ok)
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, "c", s.At(0).key)
		checkMirror(t, s)
	})

	t.Run("removing an absent key is a miss", func(t *testing.T) {
		_, ok := s.Remove("zzz")
		assert.False(t, ok)
		checkMirror(t, s)
	})
}

func TestGetAndValues(t *testing.T) {
	s := newEntrySet()
	s.Add(entry{"x", 10})
	s.Add(entry{"y", 20})

	got, ok := s.Get("y")
	require.True(t, ok)
	assert.Equal(t, 20, got.val)

	_, ok = s.Get("nope")
	assert.False(t, ok)

	vals := s.Values()
	require.Len(t, vals, 2)
	vals[0] = entry{"mutated", 0}
	assert.Equal(t, "x", s.At(0).key, "Values must return a copy")
}

// TestInvariantUnderRandomOps drives a long random add/remove sequence and
// checks the mirror invariant after every operation.
func TestInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := newEntrySet()
	live := map[string]bool{}

	for op := 0; op < 2000; op++ {
		key := strconv.Itoa(rng.Intn(50))
		if rng.Intn(2) == 0 {
			added := s.Add(entry{key, op})
			assert.Equal(t, !live[key], added)
			live[key] = true
		} else {
			_, removed := s.Remove(key)
			assert.Equal(t, live[key], removed)
			delete(live, key)
		}
		checkMirror(t, s)
		require.Equal(t, len(live), s.Len())
	}
}
