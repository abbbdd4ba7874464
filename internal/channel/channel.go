// Package channel fans run messages out to every subscribed consumer.
//
// A Bus is process scoped: it is created once at startup and shared by the
// runner (the only publisher of run events) and all sinks. Each subscriber
// owns a FIFO queue drained by its own goroutine, so Publish never waits on a
// handler and one slow or failing handler cannot delay the others.
package channel

import (
	"fmt"
	"sync"

	"github.com/lei/lighthouse-kiosk/internal/models"
)

// Handler consumes one message. A returned error or a panic is reported and
// does not affect delivery to other subscribers.
type Handler func(models.Message) error

// Token identifies a subscription
type Token uint64

// DeliveryError is reported when a subscriber's handler fails
type DeliveryError struct {
	Subscriber string
	Kind       models.MessageKind
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Kind, e.Subscriber, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrorReporter receives handler failures
type ErrorReporter func(*DeliveryError)

// Bus is a best-effort, order-preserving, in-memory broadcast bus
type Bus struct {
	mu     sync.RWMutex
	subs   map[Token]*subscriber
	next   Token
	closed bool
	report ErrorReporter
	wg     sync.WaitGroup
}

// New creates a bus. report may be nil.
func New(report ErrorReporter) *Bus {
	if report == nil {
		report = func(*DeliveryError) {}
	}
	return &Bus{
		subs:   make(map[Token]*subscriber),
		report: report,
	}
}

// Publish enqueues msg for every current subscriber. Subscribers added later
// never see it.
func (b *Bus) Publish(msg models.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.enqueue(msg)
	}
}

// Subscribe registers handler under a descriptive name
func (b *Bus) Subscribe(name string, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	tok := b.next

	s := &subscriber{
		name:    name,
		handler: handler,
		report:  b.report,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	if b.closed {
		return tok
	}

	b.subs[tok] = s
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		s.run()
	}()

	return tok
}

// Unsubscribe removes a subscription. Calling it more than once is harmless.
// Messages still queued for the subscriber are discarded; a delivery already
// in progress runs to completion.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	s, ok := b.subs[tok]
	delete(b.subs, tok)
	b.mu.Unlock()

	if ok {
		s.close()
	}
}

// Len returns the number of active subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber and waits for their goroutines to exit.
// Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[Token]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	b.wg.Wait()
}

type subscriber struct {
	name    string
	handler Handler
	report  ErrorReporter

	mu      sync.Mutex
	queue   []models.Message
	stopped bool

	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func (s *subscriber) enqueue(msg models.Message) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.notify:
		}

		for {
			msg, ok := s.pop()
			if !ok {
				break
			}
			s.deliver(msg)
		}
	}
}

func (s *subscriber) pop() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || len(s.queue) == 0 {
		return models.Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = models.Message{}
	s.queue = s.queue[1:]
	return msg, true
}

func (s *subscriber) deliver(msg models.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.report(&DeliveryError{
				Subscriber: s.name,
				Kind:       msg.Kind,
				Err:        fmt.Errorf("handler panic: %v", r),
			})
		}
	}()

	if err := s.handler(msg); err != nil {
		s.report(&DeliveryError{Subscriber: s.name, Kind: msg.Kind, Err: err})
	}
}
