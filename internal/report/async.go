package report

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/xerrors"
)

type AsyncOptions struct {
	QueueSize   int
	MaxAttempts int
	RetryMin    time.Duration
	RetryMax    time.Duration
}

var DefaultAsyncOptions = AsyncOptions{
	QueueSize:   1024,
	MaxAttempts: 5,
	RetryMin:    time.Second,
	RetryMax:    30 * time.Second,
}

// Async logs every outcome immediately and hands it to a single background
// worker which saves it to each store, retrying with backoff. Report never
// blocks: when the queue is full the outcome is dropped with a warning.
type Async struct {
	opts   AsyncOptions
	stores []Store
	queue  chan Outcome

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(opts AsyncOptions, stores ...Store) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultAsyncOptions.QueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultAsyncOptions.MaxAttempts
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = DefaultAsyncOptions.RetryMin
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		opts:   opts,
		stores: stores,
		queue:  make(chan Outcome, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Report(o Outcome) {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	logOutcome(o)

	if len(a.stores) == 0 {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		log.Warnw("reporter closed, dropping outcome", "kind", o.Kind, "provider", o.Provider)
		return
	}
	select {
	case a.queue <- o:
	default:
		log.Warnw("outcome queue full, dropping", "kind", o.Kind, "provider", o.Provider)
	}
}

func (a *Async) run() {
	defer close(a.done)
	for o := range a.queue {
		for _, s := range a.stores {
			if err := a.save(s, o); err != nil {
				log.Errorw("failed to save outcome", "store", s.Name(), "kind", o.Kind, "provider", o.Provider, "error", err)
			}
		}
	}
}

func (a *Async) save(s Store, o Outcome) error {
	b := &backoff.Backoff{
		Min:    a.opts.RetryMin,
		Max:    a.opts.RetryMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := s.Save(a.ctx, o)
		if err == nil {
			return nil
		}

		// b.Attempt() starts from zero
		nAttempts := int(b.Attempt()) + 1
		if nAttempts >= a.opts.MaxAttempts || a.ctx.Err() != nil {
			return xerrors.Errorf("exhausted %d attempts: %w", nAttempts, err)
		}

		d := b.Duration()
		log.Warnf("saving outcome to %s failed on attempt %d of %d, waiting %s to try again, err: %s",
			s.Name(), nAttempts, a.opts.MaxAttempts, d, err)

		select {
		case <-a.ctx.Done():
			return a.ctx.Err()
		case <-time.After(d):
		}
	}
}

// Close stops accepting outcomes and waits for the queue to drain. Once ctx
// is done, in-flight retries are abandoned.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-a.done
		return ctx.Err()
	}
}
