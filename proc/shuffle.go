package proc

import "github.com/samber/lo"

type ShuffleResult int

const (
	ShuffleEmpty ShuffleResult = iota
	ShuffleSuccess
)

func (r ShuffleResult) String() string {
	if r == ShuffleSuccess {
		return "SUCCESS"
	}
	return "EMPTY"
}

// ShuffleNow permutes the ready songs immediately and marks every song still
// awaiting preparation for a deferred shuffle. Shuffle mode stays active for
// later additions until the queue is cleared.
func (q *Queue) ShuffleNow() ShuffleResult {
	q.mu.Lock()
	if len(q.ready) == 0 && len(q.awaiting) == 0 {
		q.mu.Unlock()
		return ShuffleEmpty
	}

	q.shuffleActive = true
	for _, id := range q.awaiting {
		q.index[id].Marker = MarkerDeferred
	}

	q.rng.Shuffle(len(q.ready), func(i, j int) {
		q.ready[i], q.ready[j] = q.ready[j], q.ready[i]
	})
	for _, id := range q.ready {
		q.index[id].Marker = MarkerShuffled
	}

	q.rebuildOrder()
	q.mu.Unlock()

	q.signal()
	return ShuffleSuccess
}

// ShuffleDeferredBatch shuffles the deferred songs in the awaiting area and
// moves them ahead of the rest, which keep their relative order.
func (q *Queue) ShuffleDeferredBatch() {
	q.mu.Lock()
	q.shuffleDeferredLocked()
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) shuffleDeferredLocked() {
	isDeferred := func(id int, _ int) bool { return q.index[id].Marker == MarkerDeferred }

	deferred := lo.Filter(q.awaiting, isDeferred)
	rest := lo.Reject(q.awaiting, isDeferred)

	q.rng.Shuffle(len(deferred), func(i, j int) {
		deferred[i], deferred[j] = deferred[j], deferred[i]
	})
	for _, id := range deferred {
		q.index[id].Marker = MarkerShuffled
	}

	q.awaiting = append(deferred, rest...)
	q.processed = 0
	q.pendingShuffle = false
	q.rebuildOrder()
}

// runDeferredIfDue runs a deferred batch when enough songs were added under
// shuffle mode, or when no request is adding and a deferred song heads the
// awaiting area.
func (q *Queue) runDeferredIfDue() bool {
	q.mu.Lock()
	due := q.pendingShuffle
	if !due && q.requests == 0 && len(q.awaiting) > 0 {
		due = q.index[q.awaiting[0]].Marker == MarkerDeferred
	}
	if due {
		q.shuffleDeferredLocked()
	}
	q.mu.Unlock()

	if due {
		q.signal()
	}
	return due
}
