package proc

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"sync"
)

var errNotConnected = errors.New("not connected")

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	playing     bool
	paused      bool
	plays       []Song
	done        func(error)
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

func (t *fakeTransport) Play(_ context.Context, s Song, done func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errNotConnected
	}
	t.plays = append(t.plays, s)
	t.playing = true
	t.done = done
	return nil
}

// finish ends the current stream as the audio pipeline would.
func (t *fakeTransport) finish(err error) {
	t.mu.Lock()
	done := t.done
	t.done = nil
	t.playing = false
	t.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (t *fakeTransport) Stop() {
	t.mu.Lock()
	done := t.done
	t.done = nil
	t.playing = false
	t.mu.Unlock()
	if done != nil {
		go done(nil)
	}
}

func (t *fakeTransport) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing || t.paused {
		return false
	}
	t.paused = true
	return true
}

func (t *fakeTransport) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return false
	}
	t.paused = false
	return true
}

func (t *fakeTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing && !t.paused
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Disconnect(context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.disconnects++
}

// connect reattaches the transport as a voice rejoin would.
func (t *fakeTransport) connect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
}

func (t *fakeTransport) titles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.plays))
	for i, s := range t.plays {
		out[i] = s.Title
	}
	return out
}

func (t *fakeTransport) lastPlay() (Song, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.plays) == 0 {
		return Song{}, false
	}
	return t.plays[len(t.plays)-1], true
}

func (t *fakeTransport) disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.connected && t.disconnects > 0
}

type fakeEntry struct {
	match Match
	err   error
}

type fakeResolver struct {
	mu      sync.Mutex
	entries map[string][]fakeEntry
	fail    map[string]error
	panics  map[string]bool
	// gate, when set, must be fed once for every entry after the first.
	gate chan struct{}
	// hold blocks Prepare for a title until the channel is closed.
	hold     map[string]chan struct{}
	prepared []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		entries: make(map[string][]fakeEntry),
		fail:    make(map[string]error),
		panics:  make(map[string]bool),
		hold:    make(map[string]chan struct{}),
	}
}

func (r *fakeResolver) add(query string, titles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range titles {
		r.entries[query] = append(r.entries[query], fakeEntry{match: Match{
			Title:   t,
			Locator: "page:" + t,
			PageURL: "https://example.test/" + t,
			Total:   len(titles),
		}})
	}
}

func (r *fakeResolver) addError(query string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[query] = append(r.entries[query], fakeEntry{err: err})
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) iter.Seq2[Match, error] {
	r.mu.Lock()
	entries := append([]fakeEntry(nil), r.entries[query]...)
	gate := r.gate
	r.mu.Unlock()

	return func(yield func(Match, error) bool) {
		for i, e := range entries {
			if i > 0 && gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			if !yield(e.match, e.err) {
				return
			}
		}
	}
}

func (r *fakeResolver) Prepare(ctx context.Context, s Song) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	r.mu.Lock()
	hold := r.hold[s.Title]
	r.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics[s.Title] {
		panic("resolver exploded")
	}
	if err := r.fail[s.Title]; err != nil {
		return Resolution{}, err
	}
	r.prepared = append(r.prepared, s.Title)
	return Resolution{Locator: "stream:" + s.Title}, nil
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func song(title string, prepared bool) Song {
	return Song{Title: title, Locator: "page:" + title, Requester: "tester", Prepared: prepared}
}

func titlesOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Title
	}
	return out
}
