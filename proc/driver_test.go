package proc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor   = time.Second
	pollEvery = 2 * time.Millisecond
)

func startDriver(t *testing.T, q *Queue, tr *fakeTransport, r Resolver, opts DriverOptions) *Driver {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	d := NewDriver(q, tr, r, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.done
	})
	return d
}

func playedCount(tr *fakeTransport, n int) func() bool {
	return func() bool { return len(tr.titles()) == n }
}

func TestDriverPlaysInOrderThenIdles(t *testing.T) {
	q := NewQueue()
	q.Add(song("a", true))
	q.Add(song("b", true))
	tr := newFakeTransport()

	var started []string
	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{
		OnPlay: func(s Song) { started = append(started, s.Title) },
	})
	d.Start()

	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
	assert.Equal(t, Playing, d.State())
	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Title)

	tr.finish(nil)
	require.Eventually(t, playedCount(tr, 2), waitFor, pollEvery)

	tr.finish(nil)
	require.Eventually(t, func() bool { return d.State() == Idle }, waitFor, pollEvery)
	assert.True(t, tr.disconnected())
	_, ok = q.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, tr.titles())
	assert.Equal(t, []string{"a", "b"}, started)
}

func TestDriverTransportErrorAdvances(t *testing.T) {
	q := NewQueue()
	q.Add(song("broken", true))
	q.Add(song("next", true))
	tr := newFakeTransport()

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{})
	d.Start()
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)

	tr.finish(errors.New("stream reset"))
	require.Eventually(t, playedCount(tr, 2), waitFor, pollEvery)
	assert.Equal(t, "next", tr.titles()[1])
}

func TestDriverPreparesPoppedSongInline(t *testing.T) {
	q := NewQueue()
	q.Add(song("raw", false))
	tr := newFakeTransport()

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{})
	d.Start()

	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
	s, _ := tr.lastPlay()
	assert.True(t, s.Prepared)
	assert.Equal(t, "stream:raw", s.Locator)
}

func TestDriverSkipsUnpreparableSong(t *testing.T) {
	q := NewQueue()
	q.Add(song("gone", false))
	q.Add(song("here", true))
	tr := newFakeTransport()
	r := newFakeResolver()
	r.fail["gone"] = errors.New("private video")

	d := startDriver(t, q, tr, r, DriverOptions{})
	d.Start()

	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
	assert.Equal(t, []string{"here"}, tr.titles())
}

func TestDriverIgnoresStartWhenDisconnected(t *testing.T) {
	q := NewQueue()
	q.Add(song("a", true))
	tr := newFakeTransport()
	tr.connected = false

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{})
	assert.False(t, d.Start())

	assert.Never(t, playedCount(tr, 1), 50*time.Millisecond, pollEvery)
	assert.Equal(t, Idle, d.State())
	assert.Equal(t, 1, q.Len())

	tr.connect()
	assert.True(t, d.Start())
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
}

func TestDriverWaitingTimesOut(t *testing.T) {
	q := NewQueue()
	b := q.beginBatch()
	tr := newFakeTransport()

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{})
	d.Start()

	require.Eventually(t, func() bool { return d.State() == Waiting }, waitFor, pollEvery)
	require.Eventually(t, func() bool { return d.State() == Idle }, waitFor, pollEvery)
	assert.True(t, tr.disconnected())
	q.endBatch(b)
}

func TestDriverWaitingResumesOnAdd(t *testing.T) {
	q := NewQueue()
	b := q.beginBatch()
	tr := newFakeTransport()

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{
		WaitPolls:    1000,
		PollInterval: time.Second,
	})
	d.Start()
	require.Eventually(t, func() bool { return d.State() == Waiting }, waitFor, pollEvery)

	q.addFromBatch(b, song("late", true))
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
	assert.Equal(t, Playing, d.State())
	q.endBatch(b)
}

func TestDriverWaitingWaitsForPreparedSong(t *testing.T) {
	q := NewQueue()
	b := q.beginBatch()
	tr := newFakeTransport()
	r := newFakeResolver()

	d := startDriver(t, q, tr, r, DriverOptions{
		WaitPolls:    1000,
		PollInterval: time.Second,
	})
	d.Start()
	require.Eventually(t, func() bool { return d.State() == Waiting }, waitFor, pollEvery)

	id, ok := q.addFromBatch(b, song("raw", false))
	require.True(t, ok)
	assert.Never(t, playedCount(tr, 1), 50*time.Millisecond, pollEvery)
	assert.Equal(t, Waiting, d.State())

	require.True(t, q.promote(b.epoch, id, Resolution{Locator: "stream:raw"}))
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
	assert.Empty(t, r.prepared)
	q.endBatch(b)
}

func TestDriverWaitingPlaysUnpreparedSongOnTimeout(t *testing.T) {
	q := NewQueue()
	b := q.beginBatch()
	tr := newFakeTransport()
	r := newFakeResolver()

	d := startDriver(t, q, tr, r, DriverOptions{WaitPolls: 20})
	d.Start()
	require.Eventually(t, func() bool { return d.State() == Waiting }, waitFor, pollEvery)

	q.addFromBatch(b, song("raw", false))
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)
	assert.Equal(t, []string{"raw"}, r.prepared)
	assert.False(t, tr.disconnected())
	q.endBatch(b)
}

func TestDriverSkip(t *testing.T) {
	q := NewQueue()
	q.Add(song("a", true))
	q.Add(song("b", true))
	tr := newFakeTransport()

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{})
	assert.False(t, d.Skip())

	d.Start()
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)

	assert.True(t, d.Skip())
	require.Eventually(t, playedCount(tr, 2), waitFor, pollEvery)
	assert.Equal(t, "b", tr.titles()[1])
}

func TestDriverStopClearsQueue(t *testing.T) {
	q := NewQueue()
	q.Add(song("a", true))
	q.Add(song("b", true))
	q.Add(song("c", false))
	tr := newFakeTransport()

	d := startDriver(t, q, tr, newFakeResolver(), DriverOptions{})
	d.Start()
	require.Eventually(t, playedCount(tr, 1), waitFor, pollEvery)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, Idle, d.State())
	assert.Empty(t, q.Show())
	assert.True(t, tr.disconnected())

	// the completion from the stopped stream must not start anything
	assert.Never(t, playedCount(tr, 2), 50*time.Millisecond, pollEvery)
}

func TestPlayerStateString(t *testing.T) {
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "PLAYING", Playing.String())
	assert.Equal(t, "WAITING", Waiting.String())
}
