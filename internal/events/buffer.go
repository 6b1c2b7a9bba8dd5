package events

import "sync"

// DefaultBufferCapacity bounds the job events held while the writer is slow or down.
const DefaultBufferCapacity = 10000

type message struct {
	Kind    string
	Subject string
	Data    []byte
	next    *message
}

// terminal events carry the final state of a job, consumers cannot rebuild it from anything else
func (m *message) terminal() bool {
	switch m.Kind {
	case JobSucceededKind, JobFailedKind, JobCanceledKind, JobDeletedKind:
		return true
	}
	return false
}

// buffer is a bounded fifo of job events. When full, the oldest progress
// event (created, started, retried) is evicted before any terminal one.
type buffer struct {
	lock     sync.Mutex
	head     *message
	tail     *message
	size     int
	capacity int
	dropped  int
}

func newBuffer(capacity int) *buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &buffer{capacity: capacity}
}

// PushBack appends msg and returns the event evicted to make room, if any.
func (b *buffer) PushBack(msg *message) *message {
	b.lock.Lock()
	defer b.lock.Unlock()

	var evicted *message
	if b.size >= b.capacity {
		evicted = b.evict()
	}

	msg.next = nil
	if b.head == nil {
		b.head = msg
		b.tail = msg
	} else {
		b.tail.next = msg
		b.tail = msg
	}
	b.size++

	return evicted
}

func (b *buffer) Pop() *message {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		return nil
	}
	return b.unlink(nil, b.head)
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}

// Dropped returns how many events were evicted since the buffer was created.
func (b *buffer) Dropped() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.dropped
}

func (b *buffer) evict() *message {
	var prev *message
	for m := b.head; m != nil; prev, m = m, m.next {
		if !m.terminal() {
			b.dropped++
			return b.unlink(prev, m)
		}
	}
	// only terminal events left
	b.dropped++
	return b.unlink(nil, b.head)
}

func (b *buffer) unlink(prev, m *message) *message {
	if prev == nil {
		b.head = m.next
	} else {
		prev.next = m.next
	}
	if b.tail == m {
		b.tail = prev
	}
	m.next = nil
	b.size--
	return m
}
