package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus in process. It backs tests and the
// single-node deployment where heartbeats arrive from a local simulator.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	groups map[string]*queueGroup // "pattern|queue" -> group
	closed atomic.Bool

	dropped atomic.Int64
}

type memorySub struct {
	pattern string
	group   *queueGroup
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

type queueGroup struct {
	pattern string
	members []*memorySub
	next    int
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config: cfg,
		groups: make(map[string]*queueGroup),
	}
}

// Publish delivers data to every matching subscriber and to one member of
// every matching queue group. Wildcards are not allowed in subject.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if isWildcard(subject) {
		return ErrInvalidSubject
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if MatchSubject(sub.pattern, subject) {
			b.offer(sub, msg)
		}
	}
	for _, g := range b.groups {
		if MatchSubject(g.pattern, subject) {
			b.deliverToGroup(g, msg)
		}
	}
	return nil
}

// deliverToGroup hands msg to the next member round-robin, falling over to
// the following member when one is full.
func (b *MemoryBus) deliverToGroup(g *queueGroup, msg *Message) {
	n := len(g.members)
	for i := 0; i < n; i++ {
		sub := g.members[(g.next+i)%n]
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- msg:
			g.next = (g.next + i + 1) % n
			return
		default:
		}
	}
	b.dropped.Add(1)
}

func (b *MemoryBus) offer(sub *memorySub, msg *Message) {
	if sub.closed.Load() {
		return
	}
	select {
	case sub.ch <- msg:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many messages were discarded because a subscriber's
// buffer was full.
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// QueueSubscribe joins the queue group for subject.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, ErrInvalidQueue
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := subject + "|" + queue
	g, ok := b.groups[key]
	if !ok {
		g = &queueGroup{pattern: subject}
		b.groups[key] = g
	}
	sub := &memorySub{
		pattern: subject,
		group:   g,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}
	g.members = append(g.members, sub)
	return sub, nil
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.close()
	}
	for _, g := range b.groups {
		for _, sub := range g.members {
			sub.close()
		}
	}
	b.subs = nil
	b.groups = make(map[string]*queueGroup)
	return nil
}

func (s *memorySub) close() {
	if !s.closed.Swap(true) {
		close(s.ch)
	}
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	if s.group == nil {
		b.subs = removeSub(b.subs, s)
	} else {
		s.group.members = removeSub(s.group.members, s)
		if s.group.next >= len(s.group.members) {
			s.group.next = 0
		}
	}
	s.close()
	return nil
}

func removeSub(subs []*memorySub, target *memorySub) []*memorySub {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

func isWildcard(subject string) bool {
	return containsToken(subject, "*") || containsToken(subject, ">")
}

func containsToken(subject, tok string) bool {
	start := 0
	for i := 0; i <= len(subject); i++ {
		if i == len(subject) || subject[i] == '.' {
			if subject[start:i] == tok {
				return true
			}
			start = i + 1
		}
	}
	return false
}
