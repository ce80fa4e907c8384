package proc

import "context"

// preparer resolves playable locators for queued songs ahead of playback. It
// sleeps until the queue signals a change.
type preparer struct {
	queue    *Queue
	resolver Resolver
	ahead    int
}

func (p *preparer) run(ctx context.Context) {
	watch, unwatch := p.queue.Watch()
	defer unwatch()

	for {
		p.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-watch:
		}
	}
}

func (p *preparer) drain(ctx context.Context) {
	for ctx.Err() == nil && p.step(ctx) {
	}
}

// step prepares at most one song and reports whether another step may find
// more work.
func (p *preparer) step(ctx context.Context) (more bool) {
	defer func() {
		if r := recover(); r != nil {
			warnQueue("Recovered from panic while preparing: %v", r)
			more = false
		}
	}()

	if p.queue.runDeferredIfDue() {
		logQueue("Shuffled deferred batch")
	}

	song, epoch, ok := p.queue.nextToPrepare(p.ahead)
	if !ok {
		return false
	}

	res, err := p.resolver.Prepare(ctx, song)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		warnQueue("Dropping %q: %v", song.Title, err)
		p.queue.drop(epoch, song.ID)
		return true
	}

	p.queue.promote(epoch, song.ID, res)
	return true
}
