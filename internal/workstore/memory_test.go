package workstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// nextChange waits for one change or fails the test.
func nextChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

// collectChanges gathers changes until want distinct keys were seen.
func collectChanges(t *testing.T, ch <-chan Change, want int) map[string]Change {
	t.Helper()
	got := make(map[string]Change)
	for len(got) < want {
		c := nextChange(t, ch)
		got[c.Key] = c
	}
	return got
}

func TestMemoryGetSetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	require.NoError(t, m.Set(ctx, map[string][]byte{
		KeyRunning: []byte("true"),
		KeyQueue:   []byte(`[]`),
	}))

	got, err := m.Get(ctx, KeyRunning, KeyQueue, KeyJournal)
	require.NoError(t, err)
	assert.Equal(t, "true", string(got[KeyRunning]))
	assert.Equal(t, "[]", string(got[KeyQueue]))
	_, present := got[KeyJournal]
	assert.False(t, present, "missing keys are absent from the result")

	require.NoError(t, m.Remove(ctx, KeyRunning, "never-set"))
	got, err = m.Get(ctx, KeyRunning)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemorySubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	defer m.Close()

	ch, err := m.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, map[string][]byte{KeyRunning: []byte("true")}))
	c := nextChange(t, ch)
	assert.Equal(t, KeyRunning, c.Key)
	assert.Nil(t, c.OldValue)
	assert.Equal(t, "true", string(c.NewValue))

	// Identical writes are not changes.
	require.NoError(t, m.Set(ctx, map[string][]byte{KeyRunning: []byte("true")}))
	require.NoError(t, m.Set(ctx, map[string][]byte{KeyRunning: []byte("false")}))
	c = nextChange(t, ch)
	assert.Equal(t, "true", string(c.OldValue))
	assert.Equal(t, "false", string(c.NewValue))

	require.NoError(t, m.Remove(ctx, KeyRunning))
	c = nextChange(t, ch)
	assert.Equal(t, "false", string(c.OldValue))
	assert.Nil(t, c.NewValue)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "channel closes when the context ends")
}

func TestMemoryClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	m := NewMemory()

	ch, err := m.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, ok := <-ch
	assert.False(t, ok)

	_, err = m.Get(ctx, KeyQueue)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(ctx, map[string][]byte{KeyQueue: []byte("[]")}), ErrClosed)
	_, err = m.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDiff(t *testing.T) {
	before := map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}
	after := map[string][]byte{"a": []byte("1"), "b": []byte("20"), "d": []byte("4")}

	changes := make(map[string]Change)
	for _, c := range diff(before, after) {
		changes[c.Key] = c
	}
	require.Len(t, changes, 3)
	assert.Equal(t, "20", string(changes["b"].NewValue))
	assert.Equal(t, "2", string(changes["b"].OldValue))
	assert.Nil(t, changes["c"].NewValue)
	assert.Nil(t, changes["d"].OldValue)
}
