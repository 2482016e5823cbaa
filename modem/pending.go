package modem

import "sync"

type pendingBlock struct {
	link int
	data []byte
}

// pendingQueue stages inbound data blocks, keyed by link, that arrived while
// no receive for their link was running. When full the oldest block is
// dropped.
type pendingQueue struct {
	mu      sync.Mutex
	blocks  []pendingBlock
	max     int
	dropped uint64
}

func newPendingQueue(max int) *pendingQueue {
	return &pendingQueue{max: max}
}

// push appends a block and reports the block it had to evict, if any.
func (q *pendingQueue) push(link int, data []byte) (evicted pendingBlock, ok bool) {
	if len(data) == 0 {
		return pendingBlock{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.blocks) >= q.max {
		evicted, ok = q.blocks[0], true
		q.blocks = q.blocks[1:]
		q.dropped++
	}
	q.blocks = append(q.blocks, pendingBlock{link: link, data: data})
	return evicted, ok
}

// take copies staged data for link into p, oldest first, and returns the
// number of bytes copied. Bytes that do not fit stay queued in order.
func (q *pendingQueue) take(link int, p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	kept := q.blocks[:0]
	for _, b := range q.blocks {
		if b.link != link || n == len(p) {
			kept = append(kept, b)
			continue
		}
		c := copy(p[n:], b.data)
		n += c
		if c < len(b.data) {
			kept = append(kept, pendingBlock{link: b.link, data: b.data[c:]})
		}
	}
	clear(q.blocks[len(kept):])
	q.blocks = kept
	return n
}

// has reports whether data is staged for link.
func (q *pendingQueue) has(link int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range q.blocks {
		if b.link == link {
			return true
		}
	}
	return false
}

// discard removes every staged block for link.
func (q *pendingQueue) discard(link int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.blocks[:0]
	for _, b := range q.blocks {
		if b.link != link {
			kept = append(kept, b)
		}
	}
	clear(q.blocks[len(kept):])
	q.blocks = kept
}

func (q *pendingQueue) stats() (blocks, size int, dropped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range q.blocks {
		size += len(b.data)
	}
	return len(q.blocks), size, q.dropped
}
