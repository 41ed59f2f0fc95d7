package hub

import (
	"sync"

	"firestige.xyz/rtpscope/internal/wire"
)

// outbox is an unbounded FIFO of responses for one viewer. Producers never
// block on it; the viewer's writer drains it in batches.
type outbox struct {
	mu     sync.Mutex
	queue  []wire.Response
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) push(rs ...wire.Response) {
	if len(rs) == 0 {
		return
	}
	o.mu.Lock()
	o.queue = append(o.queue, rs...)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// drain takes everything queued so far.
func (o *outbox) drain() []wire.Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.queue
	o.queue = nil
	return batch
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
