package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Listener is called for every create and update. Listeners for one event
// run concurrently; a listener must not write to the task it was notified
// about.
type Listener func(ctx context.Context, ev Event) error

// ListenerID identifies a registered listener for removal
type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// AddStatusListener registers fn and returns its handle.
func (s *Store) AddStatusListener(fn Listener) ListenerID {
	id := ListenerID(s.nextID.Add(1))
	s.lmu.Lock()
	s.listeners = append(s.listeners, registration{id: id, fn: fn})
	s.lmu.Unlock()
	return id
}

// RemoveStatusListener deregisters a listener. Unknown ids are ignored.
func (s *Store) RemoveStatusListener(id ListenerID) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i, r := range s.listeners {
		if r.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// notify runs every listener and waits for all of them. A failing or
// panicking listener does not stop the others.
func (s *Store) notify(ctx context.Context, ev Event) {
	s.lmu.RLock()
	regs := make([]registration, len(s.listeners))
	copy(regs, s.listeners)
	s.lmu.RUnlock()
	if len(regs) == 0 {
		return
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range regs {
		wg.Add(1)
		go func(r registration, ev Event) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("listener %d panicked: %v", r.id, p))
					mu.Unlock()
				}
			}()
			if err := r.fn(ctx, ev); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("listener %d: %w", r.id, err))
				mu.Unlock()
			}
		}(r, Event{Type: ev.Type, Task: ev.Task.Clone(), PreviousState: ev.PreviousState})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("status listeners failed",
			zap.String("task_id", ev.Task.ID),
			zap.String("event", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// Subscription is an ordered, unbounded stream of store events. Events are
// buffered so a slow reader never blocks a writer.
type Subscription struct {
	store *Store
	id    ListenerID

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once

	out chan Event
}

// Subscribe returns a subscription to events accepted by filter. A nil
// filter accepts everything. The caller must Close it.
func (s *Store) Subscribe(filter func(Event) bool) *Subscription {
	sub := &Subscription{
		store: s,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan Event),
	}
	sub.id = s.AddStatusListener(func(_ context.Context, ev Event) error {
		if filter != nil && !filter(ev) {
			return nil
		}
		sub.push(ev)
		return nil
	})
	go sub.pump()
	return sub
}

// SubscribeTask subscribes to the events of a single task.
func (s *Store) SubscribeTask(taskID string) *Subscription {
	return s.Subscribe(func(ev Event) bool { return ev.Task.ID == taskID })
}

// C returns the event channel. It is closed after Close.
func (sub *Subscription) C() <-chan Event {
	return sub.out
}

// Close deregisters the subscription. Buffered events are discarded.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.RemoveStatusListener(sub.id)
		close(sub.done)
	})
}

func (sub *Subscription) push(ev Event) {
	sub.mu.Lock()
	sub.pending = append(sub.pending, ev)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		batch := sub.pending
		sub.pending = nil
		sub.mu.Unlock()

		for _, ev := range batch {
			select {
			case sub.out <- ev:
			case <-sub.done:
				return
			}
		}

		select {
		case <-sub.wake:
		case <-sub.done:
			return
		}
	}
}
