package memory

import (
	"sync"

	"go.jetify.com/typeid/v2"

	"github.com/godamri/helix-triggers/trigger"
)

// subscriber buffers events without bound so that emitting under the store
// lock never blocks on a slow consumer that itself writes to the store.
type subscriber struct {
	mu     sync.Mutex
	queue  []trigger.ChangeEvent
	signal chan struct{}
	out    chan trigger.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

// Watch streams every subsequent change. The returned cancel func stops the
// stream and closes the channel.
func (s *Store) Watch() (<-chan trigger.ChangeEvent, func()) {
	sub := &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan trigger.ChangeEvent),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
	}
	return sub.out, cancel
}

// emit must be called with s.mu held.
func (s *Store) emit(evt trigger.ChangeEvent) {
	if len(s.subs) == 0 {
		return
	}
	if tid, err := typeid.Generate("chg"); err == nil {
		evt.ID = tid.String()
	}
	evt.Source = "memory"
	for sub := range s.subs {
		sub.push(evt)
	}
}

func (sub *subscriber) push(evt trigger.ChangeEvent) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, evt)
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *subscriber) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.signal:
				continue
			case <-sub.done:
				return
			}
		}
		evt := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- evt:
		case <-sub.done:
			return
		}
	}
}
