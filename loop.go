package wpa

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopClosed is returned when posting to a Loop which is not running.
var ErrLoopClosed = errors.New("wpa: loop closed")

// A Loop serializes events and timers for a Session on one goroutine. It
// implements Scheduler.
type Loop struct {
	queue chan func(*Session)
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	timers map[Timer]*time.Timer
	// gen is bumped on every Schedule and Cancel so a timer which already
	// fired but was not yet dispatched can be recognized as stale.
	gen map[Timer]uint64
}

// NewLoop creates a Loop. Pass it as Config.Scheduler and then call Run
// with the resulting Session.
func NewLoop() *Loop {
	return &Loop{
		queue:  make(chan func(*Session), 64),
		done:   make(chan struct{}),
		timers: make(map[Timer]*time.Timer),
		gen:    make(map[Timer]uint64),
	}
}

// Schedule implements Scheduler.
func (l *Loop) Schedule(t Timer, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old := l.timers[t]; old != nil {
		old.Stop()
	}

	l.gen[t]++
	g := l.gen[t]
	l.timers[t] = time.AfterFunc(d, func() {
		// Dropped if the loop has stopped.
		_ = l.do(context.Background(), func(s *Session) {
			if l.expire(t, g) {
				s.HandleEvent(EventTimeout{Timer: t})
			}
		})
	})
}

// Cancel implements Scheduler.
func (l *Loop) Cancel(t Timer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old := l.timers[t]; old != nil {
		old.Stop()
		delete(l.timers, t)
	}
	l.gen[t]++
}

// expire reports whether generation g of t is still current, removing it.
func (l *Loop) expire(t Timer, g uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen[t] != g {
		return false
	}

	delete(l.timers, t)
	return true
}

// Post queues ev for the Session.
func (l *Loop) Post(ctx context.Context, ev Event) error {
	return l.do(ctx, func(s *Session) { s.HandleEvent(ev) })
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func(s *Session)) error {
	ran := make(chan struct{})
	if err := l.do(ctx, func(s *Session) {
		defer close(ran)
		fn(s)
	}); err != nil {
		return err
	}

	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// Queued functions are not run once the loop stops.
		select {
		case <-ran:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

func (l *Loop) do(ctx context.Context, fn func(s *Session)) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}

	select {
	case l.queue <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// Run starts s and dispatches events to it until ctx is canceled, then
// shuts s down. s must use l as its Scheduler.
func (l *Loop) Run(ctx context.Context, s *Session) error {
	defer l.stop()

	s.Start()
	for {
		select {
		case fn := <-l.queue:
			fn(s)
		case <-ctx.Done():
			s.Shutdown()
			return nil
		}
	}
}

func (l *Loop) stop() {
	l.once.Do(func() {
		close(l.done)

		l.mu.Lock()
		defer l.mu.Unlock()
		for t, tm := range l.timers {
			tm.Stop()
			delete(l.timers, t)
		}
	})
}
