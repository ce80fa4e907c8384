package proc

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
)

const (
	DefaultBatchSize    = 20
	DefaultPrepareAhead = 3
)

// ErrInvalidIndex is returned when a display index does not name a queued song.
var ErrInvalidIndex = errors.New("index out of range")

// Progress reports whether requests are still streaming songs into the queue.
type Progress struct {
	Adding  bool
	Pending int
}

// ShuffleState is a snapshot of the shuffle bookkeeping.
type ShuffleState struct {
	Active    bool
	Pending   bool
	Processed int
	BatchSize int
}

// Queue holds songs waiting for preparation and songs ready to play, plus the
// play order that decides what comes next. All methods are safe for
// concurrent use; each one is atomic with respect to the others.
type Queue struct {
	mu sync.Mutex

	awaiting []int
	ready    []int
	index    map[int]*Song
	order    []int
	nextID   int
	current  *Song

	shuffleActive  bool
	batchSize      int
	processed      int
	pendingShuffle bool

	epoch    int
	requests int
	pending  int

	rng      *rand.Rand
	watchers map[int]chan struct{}
	watchSeq int
}

type QueueOption func(*Queue)

// WithBatchSize sets how many additions under an active shuffle trigger a deferred batch.
func WithBatchSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithRand sets the random source used for shuffling.
func WithRand(r *rand.Rand) QueueOption {
	return func(q *Queue) {
		if r != nil {
			q.rng = r
		}
	}
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		index:     make(map[int]*Song),
		batchSize: DefaultBatchSize,
		watchers:  make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return q
}

// Add queues a song and returns its identifier. Prepared songs go straight to
// the ready area.
func (q *Queue) Add(s Song) int {
	q.mu.Lock()
	id := q.addLocked(s)
	q.mu.Unlock()
	q.signal()
	return id
}

func (q *Queue) addLocked(s Song) int {
	id := q.nextID
	q.nextID++

	s.ID = id
	s.Marker = MarkerNormal
	if q.shuffleActive {
		s.Marker = MarkerDeferred
		q.processed++
		if q.processed >= q.batchSize {
			q.pendingShuffle = true
		}
	}

	rec := s
	q.index[id] = &rec
	if s.Prepared {
		q.ready = append(q.ready, id)
	} else {
		q.awaiting = append(q.awaiting, id)
	}

	if len(q.order) == 0 {
		q.rebuildOrder()
	} else {
		q.order = append(q.order, id)
	}
	return id
}

// Pop removes and returns the next song in play order. The returned song may
// still be unprepared; callers check Prepared.
func (q *Queue) Pop() (Song, bool) {
	q.mu.Lock()
	s, ok := q.popLocked()
	q.mu.Unlock()
	if ok {
		q.signal()
	}
	return s, ok
}

func (q *Queue) popLocked() (Song, bool) {
	if len(q.order) == 0 && (len(q.ready) > 0 || len(q.awaiting) > 0) {
		q.rebuildOrder()
	}

	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]

		if i := slices.Index(q.ready, id); i >= 0 {
			q.ready = slices.Delete(q.ready, i, i+1)
			return q.take(id), true
		}
		if i := slices.Index(q.awaiting, id); i >= 0 {
			q.awaiting = slices.Delete(q.awaiting, i, i+1)
			return q.take(id), true
		}
		// stale: removed or already played
	}
	return Song{}, false
}

// RemoveAt removes the song at a 1-based display index, counting ready songs
// first and then songs awaiting preparation. The play order is left alone.
func (q *Queue) RemoveAt(i int) (Song, error) {
	q.mu.Lock()
	if i < 1 || i > len(q.ready)+len(q.awaiting) {
		q.mu.Unlock()
		return Song{}, ErrInvalidIndex
	}

	var id int
	if i <= len(q.ready) {
		id = q.ready[i-1]
		q.ready = slices.Delete(q.ready, i-1, i)
	} else {
		j := i - len(q.ready) - 1
		id = q.awaiting[j]
		q.awaiting = slices.Delete(q.awaiting, j, j+1)
	}
	s := q.take(id)
	q.mu.Unlock()

	q.signal()
	return s, nil
}

// Show lists the playing song followed by every queued song in play order.
func (q *Queue) Show() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	if q.current != nil {
		out = append(out, Entry{Song: *q.current, State: NowPlaying})
	}

	if len(q.order) == 0 && (len(q.ready) > 0 || len(q.awaiting) > 0) {
		q.rebuildOrder()
	}

	positions := make(map[int]int, len(q.ready)+len(q.awaiting))
	for i, id := range q.ready {
		positions[id] = i + 1
	}
	for i, id := range q.awaiting {
		positions[id] = len(q.ready) + i + 1
	}

	for _, id := range q.order {
		rec, ok := q.index[id]
		if !ok {
			continue
		}
		state := Preparing
		if slices.Contains(q.ready, id) {
			state = Ready
		}
		out = append(out, Entry{Song: *rec, State: state, Position: positions[id]})
	}
	return out
}

// Clear empties the queue and resets identifiers and shuffle bookkeeping.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.awaiting = nil
	q.ready = nil
	q.order = nil
	q.index = make(map[int]*Song)
	q.nextID = 0
	q.current = nil

	q.shuffleActive = false
	q.processed = 0
	q.pendingShuffle = false

	q.epoch++
	q.requests = 0
	q.pending = 0
	q.mu.Unlock()

	q.signal()
}

// Len returns the number of queued songs, excluding the playing one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.awaiting)
}

// ReadyLen returns the number of prepared songs waiting to play.
func (q *Queue) ReadyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Current returns the playing song, if any.
func (q *Queue) Current() (Song, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Song{}, false
	}
	return *q.current, true
}

func (q *Queue) setCurrent(s *Song) {
	q.mu.Lock()
	if s == nil {
		q.current = nil
	} else {
		c := *s
		q.current = &c
	}
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Progress{Adding: q.requests > 0, Pending: q.pending}
}

func (q *Queue) Shuffle() ShuffleState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ShuffleState{
		Active:    q.shuffleActive,
		Pending:   q.pendingShuffle,
		Processed: q.processed,
		BatchSize: q.batchSize,
	}
}

// Watch returns a channel that receives a value after queue mutations, and a
// function that stops the notifications.
func (q *Queue) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	q.mu.Lock()
	id := q.watchSeq
	q.watchSeq++
	q.watchers[id] = ch
	q.mu.Unlock()

	return ch, func() {
		q.mu.Lock()
		delete(q.watchers, id)
		q.mu.Unlock()
	}
}

func (q *Queue) signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (q *Queue) rebuildOrder() {
	q.order = slices.Concat(q.ready, q.awaiting)
}

func (q *Queue) take(id int) Song {
	rec := q.index[id]
	delete(q.index, id)
	return *rec
}

// --- Preparation support ---

// nextToPrepare returns the head of the awaiting area while fewer than ahead
// songs are prepared or playing, along with the current epoch.
func (q *Queue) nextToPrepare(ahead int) (Song, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	held := len(q.ready)
	if q.current != nil {
		held++
	}
	if held >= ahead || len(q.awaiting) == 0 {
		return Song{}, q.epoch, false
	}
	return *q.index[q.awaiting[0]], q.epoch, true
}

// promote moves a prepared song from awaiting to the tail of ready. Results
// from before the last Clear are discarded since identifiers restart at zero.
func (q *Queue) promote(epoch, id int, r Resolution) bool {
	q.mu.Lock()
	if epoch != q.epoch {
		q.mu.Unlock()
		return false
	}
	i := slices.Index(q.awaiting, id)
	if i < 0 {
		q.mu.Unlock()
		return false
	}
	q.awaiting = slices.Delete(q.awaiting, i, i+1)
	q.index[id].apply(r)
	q.ready = append(q.ready, id)
	q.mu.Unlock()

	q.signal()
	return true
}

// drop removes a song that could not be prepared.
func (q *Queue) drop(epoch, id int) bool {
	q.mu.Lock()
	if epoch != q.epoch {
		q.mu.Unlock()
		return false
	}
	found := false
	if i := slices.Index(q.awaiting, id); i >= 0 {
		q.awaiting = slices.Delete(q.awaiting, i, i+1)
		found = true
	} else if i := slices.Index(q.ready, id); i >= 0 {
		q.ready = slices.Delete(q.ready, i, i+1)
		found = true
	}
	if found {
		delete(q.index, id)
	}
	q.mu.Unlock()

	if found {
		q.signal()
	}
	return found
}

// --- Request bookkeeping ---

// batch tracks one request streaming songs into the queue. A batch started
// before the last Clear is stale and can no longer change the queue.
type batch struct {
	epoch     int
	remaining int
	expected  bool
	closed    bool
}

func (q *Queue) beginBatch() *batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests++
	return &batch{epoch: q.epoch}
}

func (q *Queue) expect(b *batch, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b.epoch != q.epoch || b.closed || b.expected || total <= 0 {
		return
	}
	b.expected = true
	b.remaining = total
	q.pending += total
}

func (q *Queue) stepLocked(b *batch) {
	if b.remaining > 0 {
		b.remaining--
		q.pending = max(q.pending-1, 0)
	}
}

func (q *Queue) step(b *batch) {
	q.mu.Lock()
	if b.epoch == q.epoch && !b.closed {
		q.stepLocked(b)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) addFromBatch(b *batch, s Song) (int, bool) {
	q.mu.Lock()
	if b.epoch != q.epoch || b.closed {
		q.mu.Unlock()
		return 0, false
	}
	id := q.addLocked(s)
	q.stepLocked(b)
	q.mu.Unlock()

	q.signal()
	return id, true
}

func (q *Queue) remaining(b *batch) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return b.remaining
}

func (q *Queue) endBatch(b *batch) {
	q.mu.Lock()
	if b.epoch == q.epoch && !b.closed {
		q.pending = max(q.pending-b.remaining, 0)
		q.requests = max(q.requests-1, 0)
	}
	b.closed = true
	b.remaining = 0
	q.mu.Unlock()
	q.signal()
}
