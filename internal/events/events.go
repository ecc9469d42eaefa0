// Package events carries the in-process event bus that decouples the HTTP
// handlers from the broadcast server.
package events

import (
	"context"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"

	"nuha.dev/tesou/internal/stream"
)

const TopicPositionCreated = "position.created"

// PositionCreated is emitted after a position batch is committed. Payload is
// the JSON encoding of the newest row of the batch.
type PositionCreated struct {
	UserId  int32
	Payload []byte
}

// NewBus builds the process-wide bus with a monotonic id source.
func NewBus() *bus.Bus {
	m, err := monoton.New(sequencer.NewMillisecond(), 1, 0)
	if err != nil {
		panic(err)
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		panic(err)
	}
	b.RegisterTopics(TopicPositionCreated)
	return b
}

// ForwardToStream delivers every PositionCreated event to the watchers of the
// originating user.
func ForwardToStream(b *bus.Bus, handle *stream.Handle) {
	b.RegisterHandler("stream-broadcast", bus.Handler{
		Matcher: TopicPositionCreated,
		Handle: func(ctx context.Context, e bus.Event) {
			pc, ok := e.Data.(PositionCreated)
			if !ok {
				return
			}
			handle.Publish(stream.UserId(pc.UserId), pc.Payload)
		},
	})
}
