package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const listenerQueueSize = 256

// NewOrigin returns a fresh view identifier.
func NewOrigin() string {
	return uuid.NewString()
}

// Broadcaster fans changes out to in-process subscribers. Each subscriber has
// its own queue and goroutine so a slow listener delays nobody else and sees
// changes in write order. Changes are never delivered back to their origin.
type Broadcaster struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]*subscriber
}

type subscriber struct {
	origin string
	queue  chan Change
	done   chan struct{}
	once   sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]*subscriber)}
}

// Subscribe registers fn on behalf of origin. The returned func unsubscribes
// and is safe to call more than once.
func (b *Broadcaster) Subscribe(origin string, fn Listener) func() {
	s := &subscriber{
		origin: origin,
		queue:  make(chan Change, listenerQueueSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = s
	b.mu.Unlock()

	go func() {
		for {
			select {
			case c := <-s.queue:
				fn(c)
			case <-s.done:
				return
			}
		}
	}()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
	}
}

// Publish queues c for every subscriber except the writer.
func (b *Broadcaster) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		if s.origin != "" && s.origin == c.Origin {
			continue
		}
		select {
		case s.queue <- c:
		default:
			log.Warn().Str("key", c.Key).Msg("storage change dropped: listener queue full")
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
