package realtime

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Dispatcher fans messages out to subscribers of a topic. Slow subscribers drop messages
// instead of blocking publishers.
type Dispatcher[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber[T]
	nextID      int64
	bufferSize  int
}

type subscriber[T any] struct {
	id     int64
	stream chan T
	once   sync.Once
}

// NewDispatcher constructs a dispatcher whose subscriber streams buffer bufferSize messages.
func NewDispatcher[T any](bufferSize int) *Dispatcher[T] {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher[T]{
		subscribers: make(map[string]map[int64]*subscriber[T]),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a stream for the topic. The stream is closed when ctx ends or the
// returned cleanup runs.
func (d *Dispatcher[T]) Subscribe(ctx context.Context, topic string) (<-chan T, func()) {
	if topic == "" {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber[T]{
		id:     d.nextSequence(),
		stream: make(chan T, d.bufferSize),
	}
	d.register(topic, sub)
	cleanup := func() {
		d.unregister(topic, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the message to every current subscriber of the topic.
// It returns the number of subscribers that accepted the message.
func (d *Dispatcher[T]) Publish(topic string, message T) int {
	if topic == "" {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	delivered := 0
	for _, sub := range d.subscribers[topic] {
		select {
		case sub.stream <- message:
			delivered++
		default:
		}
	}
	return delivered
}

// PublishLatest delivers the message like Publish, except that a full subscriber stream gives up
// its oldest pending message so the newest one is always queued. Topics whose messages each carry
// a whole document use it: a stale document may be skipped, the latest never is.
func (d *Dispatcher[T]) PublishLatest(topic string, message T) int {
	if topic == "" {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[topic] {
		offerLatest(sub.stream, message)
	}
	return len(d.subscribers[topic])
}

func offerLatest[T any](stream chan T, message T) {
	for {
		select {
		case stream <- message:
			return
		default:
		}
		select {
		case <-stream:
		default:
		}
	}
}

// SubscriberCount returns the number of subscribers registered for the topic.
func (d *Dispatcher[T]) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func (d *Dispatcher[T]) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher[T]) register(topic string, sub *subscriber[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber[T])
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher[T]) unregister(topic string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subscribers[topic]
	if subs == nil {
		return
	}
	sub, ok := subs[subscriberID]
	if !ok {
		return
	}
	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(d.subscribers, topic)
	}
	sub.once.Do(func() {
		close(sub.stream)
	})
}
