// Package eventbus fans process output out to every live consumer of the
// current run, in the order the lines were published.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/arch-linux-gui/alg-welcome/internal/logging"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

var (
	// ErrNoActiveRun is returned by Publish outside BeginRun/EndRun.
	ErrNoActiveRun = errors.New("eventbus: no active run")
	// ErrRunActive is returned by BeginRun while another run is open.
	ErrRunActive = errors.New("eventbus: a run is already active")
)

// Bus delivers LogLines for one run at a time. Publish never blocks and
// never drops: each subscription buffers without bound until read.
type Bus struct {
	mu        sync.Mutex
	runID     string
	active    bool
	subs      map[*Subscription]struct{} // bound to the current run
	waiting   map[*Subscription]struct{} // bound to the next run
	followers map[*follower]struct{}
	drain     *sync.WaitGroup
	log       *slog.Logger
}

type follower struct {
	fn  func(model.LogLine)
	sub *Subscription
}

// New creates an idle bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		waiting:   make(map[*Subscription]struct{}),
		followers: make(map[*follower]struct{}),
		log:       logging.OrDiscard(log),
	}
}

// BeginRun opens a run. Waiting subscriptions are bound to it and every
// follower gets a fresh subscription before the first line can be published.
func (b *Bus) BeginRun(runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active {
		return ErrRunActive
	}
	b.active = true
	b.runID = runID
	b.drain = &sync.WaitGroup{}

	for s := range b.waiting {
		s.mu.Lock()
		s.runID = runID
		s.mu.Unlock()
		b.subs[s] = struct{}{}
	}
	clear(b.waiting)

	for f := range b.followers {
		b.startFollower(f)
	}
	b.log.Debug("run opened", "run_id", runID, "subscribers", len(b.subs))
	return nil
}

// startFollower must be called with b.mu held during an active run.
func (b *Bus) startFollower(f *follower) {
	sub := newSubscription(b, b.runID)
	b.subs[sub] = struct{}{}
	f.sub = sub
	b.drain.Add(1)
	go func(wg *sync.WaitGroup) {
		defer wg.Done()
		for line := range sub.C() {
			f.fn(line)
		}
	}(b.drain)
}

// Publish appends line to every subscription of the active run.
func (b *Bus) Publish(line model.LogLine) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return ErrNoActiveRun
	}
	for s := range b.subs {
		s.push(line)
	}
	return nil
}

// EndRun closes the run. Every subscription's channel closes once its
// buffered lines have been read; EndRun returns after all followers have
// consumed theirs.
func (b *Bus) EndRun() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	runID := b.runID
	for s := range b.subs {
		s.end()
	}
	clear(b.subs)
	for f := range b.followers {
		f.sub = nil
	}
	drain := b.drain
	b.active = false
	b.runID = ""
	b.drain = nil
	b.mu.Unlock()

	drain.Wait()
	b.log.Debug("run closed", "run_id", runID)
}

// Subscribe attaches to the active run, seeing only lines published from
// now on. While idle the subscription waits for the next run.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := newSubscription(b, b.runID)
	if b.active {
		b.subs[s] = struct{}{}
	} else {
		b.waiting[s] = struct{}{}
	}
	return s
}

// Follow calls fn for every line of every run, starting with the active
// one. Calls for a run happen on one goroutine, in publish order.
func (b *Bus) Follow(fn func(model.LogLine)) (unfollow func()) {
	f := &follower{fn: fn}

	b.mu.Lock()
	b.followers[f] = struct{}{}
	if b.active {
		b.startFollower(f)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.followers, f)
			sub := f.sub
			f.sub = nil
			b.mu.Unlock()
			if sub != nil {
				sub.Close()
			}
		})
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	delete(b.waiting, s)
}

// Subscription is one consumer's view of a run.
type Subscription struct {
	bus   *Bus
	runID string
	ch    chan model.LogLine

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []model.LogLine
	ended   bool
	stopped bool
	stop    chan struct{}
	once    sync.Once
}

func newSubscription(b *Bus, runID string) *Subscription {
	s := &Subscription{
		bus:   b,
		runID: runID,
		ch:    make(chan model.LogLine),
		stop:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C yields lines in publish order and is closed when the run ends.
func (s *Subscription) C() <-chan model.LogLine {
	return s.ch
}

// RunID is the run this subscription is bound to, empty while it waits
// for the next run.
func (s *Subscription) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Close unsubscribes. Buffered lines are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *Subscription) push(line model.LogLine) {
	s.mu.Lock()
	if !s.stopped && !s.ended {
		s.queue = append(s.queue, line)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.ended && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		line := s.queue[0]
		s.queue[0] = model.LogLine{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- line:
		case <-s.stop:
			return
		}
	}
}
