package confirm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often an outstanding reference is polled.
const DefaultPollInterval = 30 * time.Second

// PollFunc is run on every tick. Returning true stops the poller.
type PollFunc func(ctx context.Context) (done bool)

// Scheduler runs one ticker goroutine per outstanding reference. Pollers have
// no overall deadline; they run until their poll reports done, Stop is called
// for the reference, or the scheduler is closed.
type Scheduler struct {
	interval time.Duration

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	pollers map[string]*poller
	closed  bool
}

type poller struct {
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler. A non-positive interval uses
// DefaultPollInterval.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		base:     base,
		stop:     stop,
		pollers:  make(map[string]*poller),
	}
}

// Start begins polling ref. It reports false when ref is already being
// polled or the scheduler is closed.
func (s *Scheduler) Start(ref string, poll PollFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.pollers[ref]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.base)
	p := &poller{cancel: cancel}
	s.pollers[ref] = p

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(ref, p)
		s.loop(ctx, ref, poll)
	}()
	return true
}

func (s *Scheduler) loop(ctx context.Context, ref string, poll PollFunc) {
	slog.Debug("confirmation poller started", "reference", ref, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("confirmation poller stopped", "reference", ref)
			return
		case <-ticker.C:
			if poll(ctx) {
				slog.Debug("confirmation poller finished", "reference", ref)
				return
			}
		}
	}
}

// remove forgets p, unless ref has since been taken by a newer poller.
func (s *Scheduler) remove(ref string, p *poller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollers[ref] == p {
		delete(s.pollers, ref)
	}
	p.cancel()
}

// Stop cancels the poller for ref, if any. It does not wait for it.
func (s *Scheduler) Stop(ref string) {
	s.mu.Lock()
	p, ok := s.pollers[ref]
	if ok {
		delete(s.pollers, ref)
	}
	s.mu.Unlock()

	if ok {
		p.cancel()
	}
}

// Active returns the number of running pollers.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollers)
}

// Polling reports whether ref has a running poller.
func (s *Scheduler) Polling(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pollers[ref]
	return ok
}

// Close stops every poller and waits for them to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}
