package sessions

import "sync"

// DefaultQueueSize is the number of outbound lines buffered per session.
const DefaultQueueSize = 256

type outbound struct {
	msg      string
	id       string
	pos      Position
	position bool
}

// outbox owns all writes to one connection. Producers never block: a full
// queue means the client is not reading, and the connection is dropped.
type outbox struct {
	conn   Conn
	queue  chan outbound
	done   chan struct{}
	onDrop func()

	mu      sync.Mutex
	closed  bool
	dropped bool
}

func newOutbox(conn Conn, size int, onDrop func()) *outbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	o := &outbox{conn: conn, queue: make(chan outbound, size), done: make(chan struct{}), onDrop: onDrop}
	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.done)
	failed := false
	for item := range o.queue {
		if failed {
			continue
		}
		var err error
		if item.position {
			err = o.conn.SendPosition(item.id, item.pos)
		} else {
			err = o.conn.SendMessage(item.msg)
		}
		failed = err != nil
	}
	_ = o.conn.Close()
}

// push queues item. It returns false when the outbox is closed or was full;
// in the latter case the connection is closed so the reader side ends too.
func (o *outbox) push(item outbound) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	select {
	case o.queue <- item:
		o.mu.Unlock()
		return true
	default:
	}
	o.closed = true
	o.dropped = true
	close(o.queue)
	o.mu.Unlock()

	// Unblocks a writer stuck on a client that stopped reading.
	_ = o.conn.Close()
	if o.onDrop != nil {
		o.onDrop()
	}
	return false
}

// close stops accepting items. Queued items are still written, then the
// connection is closed.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

func (o *outbox) wasDropped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
