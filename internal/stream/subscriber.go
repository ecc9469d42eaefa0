package stream

import (
	"sync/atomic"
)

// Subscriber is the outbound sink of one websocket session. The broadcast
// server is the only writer, the owning session loop the only reader. The
// channel is bounded: when the consumer stalls long enough to fill it, new
// messages are dropped and counted instead of growing memory without limit.
type Subscriber struct {
	loc     chan []byte
	skipped uint64
	pushed  uint64
}

func NewSubscriber(size int) *Subscriber {
	return &Subscriber{loc: make(chan []byte, size)}
}

func (wsub *Subscriber) Push(d []byte) {
	select {
	case wsub.loc <- d:
		atomic.AddUint64(&wsub.pushed, 1)
	default:
		atomic.AddUint64(&wsub.skipped, 1)
	}
}

func (wsub *Subscriber) C() <-chan []byte {
	return wsub.loc
}

func (wsub *Subscriber) Stats() (pushed uint64, skipped uint64) {
	return atomic.LoadUint64(&wsub.pushed), atomic.LoadUint64(&wsub.skipped)
}
