package proc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultWaitPolls    = 10
	DefaultPollInterval = 500 * time.Millisecond
)

// PlayerState is the playback driver's state.
type PlayerState int

const (
	Idle PlayerState = iota
	Playing
	Waiting
)

func (s PlayerState) String() string {
	switch s {
	case Playing:
		return "PLAYING"
	case Waiting:
		return "WAITING"
	default:
		return "IDLE"
	}
}

// Transport streams prepared songs to listeners. Play must call done exactly
// once when a stream it accepted ends, whether it finished or failed. If Play
// returns an error, done is never called.
type Transport interface {
	Play(ctx context.Context, song Song, done func(error)) error
	Stop()
	Pause() bool
	Resume() bool
	IsPlaying() bool
	Connected() bool
	Disconnect(ctx context.Context)
}

type DriverOptions struct {
	WaitPolls    int
	PollInterval time.Duration
	OnPlay       func(Song)
}

type eventKind int

const (
	evStart eventKind = iota
	evFinished
	evSkip
	evStop
)

type event struct {
	kind    eventKind
	attempt uint64
	err     error
	ack     chan struct{}
	reply   chan bool
}

// Driver pops songs off the queue and hands them to the transport. A single
// goroutine running Run owns the state machine; everything else talks to it
// through events.
type Driver struct {
	queue     *Queue
	transport Transport
	resolver  Resolver
	opts      DriverOptions

	events chan event
	done   chan struct{}

	mu         sync.Mutex
	state      PlayerState
	prepCancel context.CancelFunc
	stopping   atomic.Bool

	// owned by Run
	attempt uint64
	polls   int
}

func NewDriver(q *Queue, t Transport, r Resolver, opts DriverOptions) *Driver {
	if opts.WaitPolls <= 0 {
		opts.WaitPolls = DefaultWaitPolls
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Driver{
		queue:     q,
		transport: t,
		resolver:  r,
		opts:      opts,
		events:    make(chan event, 16),
		done:      make(chan struct{}),
	}
}

func (d *Driver) State() PlayerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s PlayerState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) post(ev event) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.done:
		return false
	}
}

// Start asks an idle or waiting driver to look for the next song. It reports
// false when the driver is idle with a disconnected transport; the caller has
// to reconnect the transport and call Start again.
func (d *Driver) Start() bool {
	reply := make(chan bool, 1)
	if !d.post(event{kind: evStart, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-d.done:
		return false
	}
}

// Skip ends the current song. It reports false when nothing is playing.
func (d *Driver) Skip() bool {
	if d.State() != Playing {
		return false
	}
	return d.post(event{kind: evSkip})
}

// Stop halts playback, clears the queue and disconnects the transport. It
// returns once the driver has processed the request.
func (d *Driver) Stop(ctx context.Context) error {
	d.stopping.Store(true)
	d.mu.Lock()
	if d.prepCancel != nil {
		d.prepCancel()
	}
	d.mu.Unlock()

	ack := make(chan struct{})
	if !d.post(event{kind: evStop, ack: ack}) {
		return nil
	}
	select {
	case <-ack:
		return nil
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)

	watch, unwatch := d.queue.Watch()
	defer unwatch()

	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			d.transport.Stop()
			return

		case ev := <-d.events:
			d.handle(ctx, ev)

		case <-watch:
			if d.State() == Waiting && d.queue.ReadyLen() > 0 {
				d.advance(ctx)
			}

		case <-tick:
			if d.State() != Waiting {
				break
			}
			d.polls--
			switch {
			case d.queue.ReadyLen() > 0:
				d.advance(ctx)
			case d.polls > 0:
			case d.queue.Len() > 0:
				// nothing prepared in time; take the next song as is
				d.advance(ctx)
			default:
				logPlayer("Gave up waiting for more songs")
				d.idle(ctx)
			}
		}

		if d.State() == Waiting {
			if ticker == nil {
				ticker = time.NewTicker(d.opts.PollInterval)
			}
		} else if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
	}
}

func (d *Driver) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evStart:
		state := d.State()
		ok := state != Idle || d.transport.Connected()
		if ev.reply != nil {
			ev.reply <- ok
		}
		if ok && state != Playing {
			d.advance(ctx)
		}

	case evFinished:
		if ev.attempt != d.attempt || d.State() != Playing {
			return
		}
		if ev.err != nil {
			warnPlayer("Playback failed, moving on: %v", ev.err)
		}
		d.queue.setCurrent(nil)
		d.advance(ctx)

	case evSkip:
		if d.State() == Playing {
			d.transport.Stop()
		}

	case evStop:
		d.attempt++
		d.transport.Stop()
		d.queue.Clear()
		d.setState(Idle)
		d.transport.Disconnect(ctx)
		d.stopping.Store(false)
		close(ev.ack)
	}
}

// advance pops songs until one starts playing, the queue runs dry, or a stop
// is pending.
func (d *Driver) advance(ctx context.Context) {
	for ctx.Err() == nil && !d.stopping.Load() {
		song, ok := d.queue.Pop()
		if !ok {
			if d.queue.Progress().Adding {
				if d.State() != Waiting {
					d.polls = d.opts.WaitPolls
					logPlayer("Waiting for more songs...")
				}
				d.queue.setCurrent(nil)
				d.setState(Waiting)
				return
			}
			d.idle(ctx)
			return
		}

		if !song.Prepared {
			if err := d.prepare(ctx, &song); err != nil {
				warnPlayer("Skipping %q: %v", song.Title, err)
				continue
			}
		}

		d.attempt++
		attempt := d.attempt
		d.queue.setCurrent(&song)
		err := d.transport.Play(ctx, song, func(err error) {
			d.post(event{kind: evFinished, attempt: attempt, err: err})
		})
		if err != nil {
			warnPlayer("Failed to start %q: %v", song.Title, err)
			d.queue.setCurrent(nil)
			continue
		}

		d.setState(Playing)
		logPlayer("Now playing: %s (requested by %s)", song.Title, song.Requester)
		if d.opts.OnPlay != nil {
			d.opts.OnPlay(song)
		}
		return
	}
}

func (d *Driver) idle(ctx context.Context) {
	d.queue.setCurrent(nil)
	if d.State() != Idle {
		logPlayer("Queue finished")
	}
	d.setState(Idle)
	d.transport.Disconnect(ctx)
}

func (d *Driver) prepare(ctx context.Context, s *Song) error {
	pctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.prepCancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.prepCancel = nil
		d.mu.Unlock()
		cancel()
	}()

	res, err := d.resolver.Prepare(pctx, *s)
	if err != nil {
		return err
	}
	s.apply(res)
	return nil
}
