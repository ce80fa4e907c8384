package proc

import (
	"context"
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Options struct {
	BatchSize    int
	PrepareAhead int
	WaitPolls    int
	PollInterval time.Duration
	Rand         *rand.Rand
	OnPlay       func(Song)
}

// Session owns the queue, preparation loop and playback driver of one guild.
type Session struct {
	queue     *Queue
	driver    *Driver
	resolver  Resolver
	transport Transport
	ahead     int

	ctx    context.Context
	cancel context.CancelFunc

	prepMu     sync.Mutex
	prepCancel context.CancelFunc
	prepDone   chan struct{}

	jobsMu sync.Mutex
	jobs   map[string]context.CancelFunc
	jobsWG sync.WaitGroup
}

// NewSession starts the playback driver and preparation loop. Both stop when
// ctx is cancelled or Close is called.
func NewSession(ctx context.Context, t Transport, r Resolver, opts Options) *Session {
	if opts.PrepareAhead <= 0 {
		opts.PrepareAhead = DefaultPrepareAhead
	}

	sctx, cancel := context.WithCancel(ctx)
	q := NewQueue(WithBatchSize(opts.BatchSize), WithRand(opts.Rand))
	s := &Session{
		queue:     q,
		resolver:  r,
		transport: t,
		ahead:     opts.PrepareAhead,
		ctx:       sctx,
		cancel:    cancel,
		jobs:      make(map[string]context.CancelFunc),
		driver: NewDriver(q, t, r, DriverOptions{
			WaitPolls:    opts.WaitPolls,
			PollInterval: opts.PollInterval,
			OnPlay:       opts.OnPlay,
		}),
	}

	go s.driver.Run(sctx)
	s.restartPreparation()
	return s
}

func (s *Session) Queue() *Queue { return s.queue }

func (s *Session) State() PlayerState { return s.driver.State() }

func (s *Session) Current() (Song, bool) { return s.queue.Current() }

func (s *Session) Show() []Entry { return s.queue.Show() }

func (s *Session) Progress() Progress { return s.queue.Progress() }

// restartPreparation cancels the running preparation loop, waits for it to
// exit, then starts a fresh one.
func (s *Session) restartPreparation() {
	s.prepMu.Lock()
	defer s.prepMu.Unlock()

	if s.prepCancel != nil {
		s.prepCancel()
		<-s.prepDone
	}
	if s.ctx.Err() != nil {
		s.prepCancel = nil
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.prepCancel = cancel
	s.prepDone = done

	p := &preparer{queue: s.queue, resolver: s.resolver, ahead: s.ahead}
	go func() {
		defer close(done)
		p.run(ctx)
	}()
}

// Request resolves query and queues its entries for requester. It returns once
// the first playable entry is queued; the rest stream in on a background job
// that calls report every few entries and once when it finishes.
func (s *Session) Request(ctx context.Context, query, requester string, report func(Report)) (Job, error) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	id := uuid.NewString()

	s.jobsMu.Lock()
	s.jobs[id] = cancel
	s.jobsWG.Add(1)
	s.jobsMu.Unlock()

	finish := func() {
		s.jobsMu.Lock()
		delete(s.jobs, id)
		s.jobsMu.Unlock()
		cancel()
		s.jobsWG.Done()
	}

	b := s.queue.beginBatch()
	r := &request{queue: s.queue, resolver: s.resolver, batch: b, report: report, id: id}
	next, stop := iter.Pull2(s.resolver.Resolve(jobCtx, query))

	detach := context.AfterFunc(ctx, cancel)
	first, err := r.first(jobCtx, next, requester)
	detach()
	if err != nil {
		stop()
		s.queue.endBatch(b)
		finish()
		return Job{}, err
	}

	parked := !s.driver.Start()
	logQueue("Queued %q for %s (job %s)", first.Title, requester, id)
	if parked {
		logPlayer("Player is disconnected, %q waits for a reconnect", first.Title)
	}

	streaming := s.queue.remaining(b) > 0
	go func() {
		defer finish()
		defer func() {
			stop()
			s.queue.endBatch(b)
			r.emit(true)
		}()
		r.stream(jobCtx, next, requester)
	}()

	return Job{ID: id, First: first, Streaming: streaming, Parked: parked}, nil
}

// Shuffle randomizes the queue. On success the preparation loop restarts so
// it picks up the new order, and an idle driver is kicked.
func (s *Session) Shuffle() ShuffleResult {
	res := s.queue.ShuffleNow()
	if res == ShuffleSuccess {
		s.restartPreparation()
		s.driver.Start()
	}
	return res
}

// Start asks the driver to play if it is idle or waiting. It reports false
// while the transport is disconnected.
func (s *Session) Start() bool { return s.driver.Start() }

func (s *Session) Skip() bool { return s.driver.Skip() }

func (s *Session) Pause() bool { return s.transport.Pause() }

func (s *Session) Resume() bool { return s.transport.Resume() }

func (s *Session) IsPlaying() bool { return s.transport.IsPlaying() }

func (s *Session) Remove(i int) (Song, error) { return s.queue.RemoveAt(i) }

// Stop cancels every streaming request, clears the queue and disconnects.
func (s *Session) Stop(ctx context.Context) error {
	s.cancelJobs()
	s.restartPreparation()
	return s.driver.Stop(ctx)
}

func (s *Session) cancelJobs() {
	s.jobsMu.Lock()
	for _, cancel := range s.jobs {
		cancel()
	}
	s.jobsMu.Unlock()
}

// Close stops the session for good and waits for its goroutines.
func (s *Session) Close() {
	s.cancel()
	s.cancelJobs()
	s.jobsWG.Wait()

	s.prepMu.Lock()
	if s.prepDone != nil {
		<-s.prepDone
	}
	s.prepMu.Unlock()
	<-s.driver.done
}
