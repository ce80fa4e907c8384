package proc

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// ErrNoResults is returned when a request yields nothing playable.
var ErrNoResults = errors.New("no playable results")

// reportEvery is how many processed entries pass between progress reports.
const reportEvery = 5

// Match is one entry produced while resolving a request. Total is the number
// of entries the request is expected to produce, when known.
type Match struct {
	Title    string
	Locator  string
	PageURL  string
	Uploader string
	Duration time.Duration
	Total    int
}

func (m Match) song(requester string) Song {
	return Song{
		Title:     m.Title,
		Locator:   m.Locator,
		PageURL:   m.PageURL,
		Uploader:  m.Uploader,
		Duration:  m.Duration,
		Requester: requester,
	}
}

// Resolver turns user queries into songs and songs into playable streams.
type Resolver interface {
	// Resolve yields the entries of a query. Per-entry errors are yielded with
	// a zero Match and do not end the sequence.
	Resolve(ctx context.Context, query string) iter.Seq2[Match, error]
	// Prepare resolves the stream locator of a queued song.
	Prepare(ctx context.Context, s Song) (Resolution, error)
}

// Report describes how far a request has streamed.
type Report struct {
	JobID     string
	Added     int
	Failed    int
	Remaining int
	Done      bool
}

// Job is a request accepted by a session.
type Job struct {
	ID    string
	First Song
	// Streaming is true when more entries are still being added in the background.
	Streaming bool
	// Parked is true when the player had already given up and disconnected
	// before First was queued. The caller reconnects the transport and calls
	// Session.Start.
	Parked bool
}

type request struct {
	queue    *Queue
	resolver Resolver
	batch    *batch
	report   func(Report)
	id       string

	added  int
	failed int
}

func (r *request) emit(done bool) {
	if r.report == nil {
		return
	}
	r.report(Report{
		JobID:     r.id,
		Added:     r.added,
		Failed:    r.failed,
		Remaining: r.queue.remaining(r.batch),
		Done:      done,
	})
}

// first pulls entries until one prepares successfully and queues it prepared.
func (r *request) first(ctx context.Context, next func() (Match, error, bool), requester string) (Song, error) {
	var lastErr error
	for {
		m, err, ok := next()
		if !ok {
			if lastErr != nil {
				return Song{}, fmt.Errorf("%w: %w", ErrNoResults, lastErr)
			}
			return Song{}, ErrNoResults
		}
		if m.Total > 0 {
			r.queue.expect(r.batch, m.Total)
		}
		if err != nil {
			lastErr = err
			r.failed++
			r.queue.step(r.batch)
			continue
		}

		s := m.song(requester)
		res, err := r.resolver.Prepare(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return Song{}, ctx.Err()
			}
			warnQueue("Skipping %q: %v", m.Title, err)
			lastErr = err
			r.failed++
			r.queue.step(r.batch)
			continue
		}
		s.apply(res)

		id, ok := r.queue.addFromBatch(r.batch, s)
		if !ok {
			return Song{}, context.Canceled
		}
		s.ID = id
		r.added++
		return s, nil
	}
}

// stream queues the remaining entries unprepared.
func (r *request) stream(ctx context.Context, next func() (Match, error, bool), requester string) {
	processed := 0
	for ctx.Err() == nil {
		m, err, ok := next()
		if !ok {
			return
		}
		if m.Total > 0 {
			r.queue.expect(r.batch, m.Total)
		}

		if err != nil {
			warnQueue("Skipping playlist entry: %v", err)
			r.failed++
			r.queue.step(r.batch)
		} else if _, ok := r.queue.addFromBatch(r.batch, m.song(requester)); ok {
			r.added++
		} else {
			return
		}

		processed++
		if processed%reportEvery == 0 {
			r.emit(false)
		}
	}
}
