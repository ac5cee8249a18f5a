// Package demux implements a topic-keyed fan-out registry.
//
// A consumer opens a lazy stream for a topic with Stream; the producer
// writes into every stream currently open for that topic. Streams are
// unbounded and ordered, so producers never block on slow consumers.
// Closing a topic ends all of its open streams; a later Stream call for
// the same topic starts a fresh sequence.
//
// Consumers must keep receiving until the stream channel is closed,
// otherwise the stream's pump goroutine is never released.
package demux

import "sync"

// Demux fans values out to any number of per-topic streams.
type Demux[T any] struct {
	mu     sync.Mutex
	topics map[string][]*stream[T]
}

func New[T any]() *Demux[T] {
	return &Demux[T]{
		topics: make(map[string][]*stream[T]),
	}
}

// Stream opens a new stream for the given topic and returns its receive
// channel. The channel is closed when the topic is closed or the whole
// demux is shut down. Each call opens an independent stream which observes
// every value written to the topic from that point on, in write order.
func (d *Demux[T]) Stream(topic string) <-chan T {
	st := newStream[T]()

	d.mu.Lock()
	d.topics[topic] = append(d.topics[topic], st)
	d.mu.Unlock()

	return st.out
}

// Write delivers v to every stream currently open for the topic.
func (d *Demux[T]) Write(topic string, v T) {
	d.mu.Lock()
	streams := d.topics[topic]
	for _, st := range streams {
		st.push(v)
	}
	d.mu.Unlock()
}

// Close ends every stream open for the topic.
func (d *Demux[T]) Close(topic string) {
	d.mu.Lock()
	streams := d.topics[topic]
	delete(d.topics, topic)
	d.mu.Unlock()

	for _, st := range streams {
		st.close()
	}
}

// CloseAll ends every stream for every topic.
func (d *Demux[T]) CloseAll() {
	d.mu.Lock()
	topics := d.topics
	d.topics = make(map[string][]*stream[T])
	d.mu.Unlock()

	for _, streams := range topics {
		for _, st := range streams {
			st.close()
		}
	}
}

// stream is an unbounded FIFO pumped onto an output channel by a
// dedicated goroutine. push never blocks; values buffered at close time
// are still delivered before the output channel is closed.
type stream[T any] struct {
	mu     sync.Mutex
	buf    []T
	closed bool
	wake   chan struct{}
	out    chan T
}

func newStream[T any]() *stream[T] {
	st := &stream[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}
	go st.pump()
	return st
}

func (st *stream[T]) push(v T) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.buf = append(st.buf, v)
	st.mu.Unlock()
	st.signal()
}

func (st *stream[T]) close() {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
	st.signal()
}

func (st *stream[T]) signal() {
	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (st *stream[T]) pump() {
	for {
		st.mu.Lock()
		for len(st.buf) == 0 {
			closed := st.closed
			st.mu.Unlock()
			if closed {
				close(st.out)
				return
			}
			<-st.wake
			st.mu.Lock()
		}
		v := st.buf[0]
		st.buf = st.buf[1:]
		st.mu.Unlock()

		st.out <- v
	}
}
