// Package progress implements the Progress Channel (C10): an in-process,
// per-upload single-producer/many-consumer broadcast of ingest progress.
package progress

import "sync"

// Record is one progress snapshot for an Upload (spec §4.10).
type Record struct {
	State        string
	CurrentPage  int
	TotalPages   int
	Message      string
	ExtractState string
	Terminal     bool
}

type topic struct {
	mu     sync.Mutex
	latest *Record
	subs   map[int]chan Record
	nextID int
	closed bool
}

// Broadcaster owns one topic per upload ID.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{topics: map[string]*topic{}}
}

func (b *Broadcaster) topicFor(uploadID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[uploadID]
	if !ok {
		t = &topic{subs: map[int]chan Record{}}
		b.topics[uploadID] = t
	}
	return t
}

// Publish broadcasts rec to every connected subscriber of uploadID. A
// subscriber whose buffer is still full from the previous record is
// disconnected rather than allowed to block the producer (spec §4.10).
// Publishing to a closed topic reopens it.
func (b *Broadcaster) Publish(uploadID string, rec Record) {
	t := b.topicFor(uploadID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = false
	t.latest = &rec
	for id, ch := range t.subs {
		select {
		case ch <- rec:
		default:
			close(ch)
			delete(t.subs, id)
		}
	}
}

// Close publishes final as a terminal record to every still-connected
// subscriber, then closes every subscriber channel. The topic keeps final as
// its latest record, so a later Subscribe receives it on an already-closed
// channel; a later Publish for uploadID reopens the topic.
func (b *Broadcaster) Close(uploadID string, final Record) {
	final.Terminal = true
	t := b.topicFor(uploadID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = &final
	for id, ch := range t.subs {
		select {
		case ch <- final:
		default:
		}
		close(ch)
		delete(t.subs, id)
	}
	t.closed = true
}

// Subscribe registers a new listener for uploadID. If a record has already
// been published, the subscriber receives it immediately (spec §4.10: "late
// subscribers get the latest record immediately"). The returned func
// unsubscribes and must be called to release the channel.
func (b *Broadcaster) Subscribe(uploadID string) (<-chan Record, func()) {
	t := b.topicFor(uploadID)
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Record, 1)
	if t.closed {
		if t.latest != nil {
			ch <- *t.latest
		}
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	if t.latest != nil {
		ch <- *t.latest
	}

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}
