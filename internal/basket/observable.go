package basket

import (
	"sync"

	"github.com/alecthomas/types/pubsub"
)

// Observable is the in-memory projection of the current basket that
// presentation layers read and subscribe to. The store is its only writer.
type Observable struct {
	mu      sync.RWMutex
	current *Basket

	// topicMu serializes every call into the topic; closed topics block forever.
	topicMu sync.Mutex
	closed  bool
	topic   *pubsub.Topic[*Basket]
}

func newObservable() *Observable {
	return &Observable{topic: pubsub.New[*Basket]()}
}

// Current returns a copy of the current basket, or false when none exists.
func (o *Observable) Current() (*Basket, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return nil, false
	}
	return o.current.Clone(), true
}

// Subscribe registers a listener. Every change is delivered as a copy; nil
// signals that the basket no longer exists. A listener that falls behind is
// never waited on: once its buffer is full the oldest pending snapshot is
// dropped, so the buffer always ends with the latest state. The channel is
// closed after the returned unsubscribe func runs or the observable closes.
func (o *Observable) Subscribe(buffer int) (<-chan *Basket, func()) {
	if buffer < 1 {
		buffer = 1
	}
	o.topicMu.Lock()
	defer o.topicMu.Unlock()
	if o.closed {
		ch := make(chan *Basket)
		close(ch)
		return ch, func() {}
	}
	sub := &subscription{
		in:   o.topic.Subscribe(make(chan *Basket, 1)),
		out:  make(chan *Basket, buffer),
		stop: make(chan struct{}),
	}
	go sub.forward()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() { o.unsubscribe(sub) })
	}
}

func (o *Observable) unsubscribe(sub *subscription) {
	close(sub.stop)

	o.topicMu.Lock()
	defer o.topicMu.Unlock()
	if o.closed {
		return
	}
	o.topic.Unsubscribe(sub.in)
}

// subscription sits between the topic and one listener. It drains the topic
// side without ever blocking so the topic never waits on a slow reader.
type subscription struct {
	in   chan *Basket
	out  chan *Basket
	stop chan struct{}
}

func (s *subscription) forward() {
	defer close(s.out)
	for {
		select {
		case b, ok := <-s.in:
			if !ok {
				return
			}
			s.deliver(b)
		case <-s.stop:
			// in is closed by the topic once the unsubscribe lands.
			for range s.in {
			}
			return
		}
	}
}

// deliver keeps the newest snapshot, dropping the oldest buffered one when
// the listener is behind. Only forward sends on out, so this terminates.
func (s *subscription) deliver(b *Basket) {
	for {
		select {
		case s.out <- b:
			return
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}

func (o *Observable) publish(b *Basket) {
	var snapshot *Basket
	if !b.IsEmpty() {
		snapshot = b.Clone()
	}

	o.topicMu.Lock()
	defer o.topicMu.Unlock()
	o.mu.Lock()
	o.current = snapshot
	o.mu.Unlock()
	if o.closed {
		return
	}
	o.topic.Publish(snapshot.Clone())
}

// Close stops the fan-out and closes every subscriber channel. It is safe to
// call more than once.
func (o *Observable) Close() error {
	o.topicMu.Lock()
	defer o.topicMu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.topic.Close()
}
