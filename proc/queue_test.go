package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopIsFIFO(t *testing.T) {
	q := NewQueue()
	want := []string{"a", "b", "c", "d", "e"}
	for i, title := range want {
		// mix both areas; order must still follow arrival
		q.Add(song(title, i%2 == 0))
	}

	var got []string
	for {
		s, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, s.Title)
	}
	assert.Equal(t, want, got)
}

func TestQueueAddThenPop(t *testing.T) {
	q := NewQueue()
	id := q.Add(song("only", true))

	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "only", s.Title)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Show())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePopReturnsUnpreparedSong(t *testing.T) {
	q := NewQueue()
	q.Add(song("raw", false))

	s, ok := q.Pop()
	require.True(t, ok)
	assert.False(t, s.Prepared)
	assert.Equal(t, "page:raw", s.Locator)
}

func TestQueueIdentifiersIncrease(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Add(song("a", false)))
	assert.Equal(t, 1, q.Add(song("b", true)))
	q.Pop()
	assert.Equal(t, 2, q.Add(song("c", false)))
}

func TestQueueRemoveByDisplayIndex(t *testing.T) {
	q := NewQueue()
	q.Add(song("A", true))
	q.Add(song("B", true))
	q.Add(song("C", false))

	removed, err := q.RemoveAt(1)
	require.NoError(t, err)
	assert.Equal(t, "A", removed.Title)

	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "B", s.Title)
}

func TestQueueRemoveCountsReadyFirst(t *testing.T) {
	q := NewQueue()
	q.Add(song("waiting", false))
	q.Add(song("ready", true))

	removed, err := q.RemoveAt(2)
	require.NoError(t, err)
	assert.Equal(t, "waiting", removed.Title)
}

func TestQueueRemoveOutOfRange(t *testing.T) {
	q := NewQueue()
	q.Add(song("A", true))

	for _, i := range []int{0, -1, 2} {
		_, err := q.RemoveAt(i)
		assert.ErrorIs(t, err, ErrInvalidIndex)
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueuePopSkipsStaleIdentifiers(t *testing.T) {
	q := NewQueue()
	q.Add(song("A", false))
	q.Add(song("B", false))
	q.Add(song("C", false))

	_, err := q.RemoveAt(1)
	require.NoError(t, err)

	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "B", s.Title)

	s, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "C", s.Title)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueClearResetsEverything(t *testing.T) {
	q := NewQueue()
	q.Add(song("A", true))
	q.Add(song("B", false))
	q.ShuffleNow()
	q.setCurrent(&Song{Title: "playing"})

	q.Clear()

	assert.Empty(t, q.Show())
	assert.Zero(t, q.Len())
	_, ok := q.Current()
	assert.False(t, ok)
	assert.False(t, q.Shuffle().Active)
	assert.Equal(t, 0, q.Add(song("again", false)))
}

func TestQueueShowStates(t *testing.T) {
	q := NewQueue()
	q.setCurrent(&Song{Title: "now"})
	q.Add(song("ready", true))
	q.Add(song("raw", false))

	entries := q.Show()
	require.Len(t, entries, 3)

	assert.Equal(t, []string{"now", "ready", "raw"}, titlesOf(entries))
	assert.Equal(t, NowPlaying, entries[0].State)
	assert.Zero(t, entries[0].Position)
	assert.Equal(t, Ready, entries[1].State)
	assert.Equal(t, 1, entries[1].Position)
	assert.Equal(t, Preparing, entries[2].State)
	assert.Equal(t, 2, entries[2].Position)
}

func TestQueueShowFollowsPlayOrder(t *testing.T) {
	q := NewQueue()
	q.Add(song("first", false))
	q.Add(song("second", true))

	entries := q.Show()
	assert.Equal(t, []string{"first", "second"}, titlesOf(entries))
	// display positions count ready songs first
	assert.Equal(t, 2, entries[0].Position)
	assert.Equal(t, 1, entries[1].Position)
}

func TestQueuePromoteAndDrop(t *testing.T) {
	q := NewQueue()
	id := q.Add(song("A", false))
	bad := q.Add(song("B", false))

	next, epoch, ok := q.nextToPrepare(DefaultPrepareAhead)
	require.True(t, ok)
	assert.Equal(t, id, next.ID)

	require.True(t, q.promote(epoch, id, Resolution{Locator: "stream:A", Title: "A (live)"}))
	assert.Equal(t, 1, q.ReadyLen())

	require.True(t, q.drop(epoch, bad))
	assert.Equal(t, 1, q.Len())

	s, ok := q.Pop()
	require.True(t, ok)
	assert.True(t, s.Prepared)
	assert.Equal(t, "stream:A", s.Locator)
	assert.Equal(t, "A (live)", s.Title)
}

func TestQueuePromoteAfterClearIsDiscarded(t *testing.T) {
	q := NewQueue()
	q.Add(song("old", false))
	_, epoch, ok := q.nextToPrepare(DefaultPrepareAhead)
	require.True(t, ok)

	q.Clear()
	id := q.Add(song("new", false))

	assert.False(t, q.promote(epoch, id, Resolution{Locator: "stream:old"}))
	assert.Zero(t, q.ReadyLen())
}

func TestQueuePrepareAheadCountsCurrent(t *testing.T) {
	q := NewQueue()
	q.Add(song("r1", true))
	q.Add(song("r2", true))
	q.Add(song("raw", false))

	_, _, ok := q.nextToPrepare(3)
	assert.True(t, ok)

	q.setCurrent(&Song{Title: "now"})
	_, _, ok = q.nextToPrepare(3)
	assert.False(t, ok)
}

func TestQueueWatchSignalsMutations(t *testing.T) {
	q := NewQueue()
	ch, stop := q.Watch()
	defer stop()

	q.Add(song("A", false))
	select {
	case <-ch:
	default:
		t.Fatal("expected a signal after Add")
	}

	stop()
	q.Add(song("B", false))
	select {
	case <-ch:
		t.Fatal("unexpected signal after unsubscribing")
	default:
	}
}

func TestQueueBatchProgress(t *testing.T) {
	q := NewQueue()
	b := q.beginBatch()
	q.expect(b, 3)
	assert.Equal(t, Progress{Adding: true, Pending: 3}, q.Progress())

	_, ok := q.addFromBatch(b, song("A", false))
	require.True(t, ok)
	q.step(b)
	assert.Equal(t, Progress{Adding: true, Pending: 1}, q.Progress())

	q.endBatch(b)
	assert.Equal(t, Progress{}, q.Progress())
}

func TestQueueStaleBatchCannotAdd(t *testing.T) {
	q := NewQueue()
	b := q.beginBatch()
	q.Clear()

	_, ok := q.addFromBatch(b, song("late", false))
	assert.False(t, ok)
	assert.Zero(t, q.Len())

	q.endBatch(b)
	assert.False(t, q.Progress().Adding)
}
