package vault

import (
	"sync"

	"github.com/rs/zerolog"
)

// Bus fans vault events out to subscribers. Emission order is preserved
// per subscriber; a slow subscriber lags independently behind its bounded
// buffer without blocking the emitter. When a subscriber's buffer is full
// the oldest event is dropped and the drop is logged.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	log    zerolog.Logger
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(buffer int, log zerolog.Logger) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe returns a channel of events and a cancel function. The channel
// is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber without blocking.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Buffer full: drop the oldest so ordering of the
				// retained tail is preserved.
				select {
				case dropped := <-ch:
					b.log.Warn().
						Int("subscriber", id).
						Str("dropped", string(dropped.Type)).
						Msg("vault event buffer overflow")
					continue
				default:
					continue
				}
			}
			break
		}
	}
}

// SubscriberCount reports how many subscribers are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
