// Package events fans job progress out to in-process subscribers such as the
// SSE stream.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

const TopicJobs = "jobs"

// JobEvent is published whenever a job changes status or reports progress.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	LibraryID      *int      `json:"library_id,omitempty"`
	CompletedTasks int       `json:"completed_tasks"`
	TotalTasks     int       `json:"total_tasks"`
	At             time.Time `json:"at"`
}

type Bus struct {
	pubsub *gochannel.GoChannel
	buffer int
}

// New creates a bus whose subscribers buffer up to buffer undelivered events.
// Publishing waits for every subscriber to ack, which keeps events in order.
func New(buffer int) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            int64(buffer),
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		buffer: buffer,
	}
}

// PublishJob delivers ev to current subscribers. Events published while
// nobody is subscribed are dropped.
func (b *Bus) PublishJob(ctx context.Context, ev JobEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("marshal event error")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicJobs, msg); err != nil {
		logger.FromContext(ctx).Err(err).Warn("publish event error", logger.Data{"job_id": ev.JobID})
	}
}

// SubscribeJobs streams job events until ctx is done, then closes the
// returned channel. A subscriber that falls more than the bus buffer behind
// loses events rather than stalling publishers.
func (b *Bus) SubscribeJobs(ctx context.Context) (<-chan JobEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicJobs)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	out := make(chan JobEvent, b.buffer)
	go func() {
		defer close(out)
		for msg := range messages {
			ev := JobEvent{}
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				logger.FromContext(ctx).Err(err).Warn("unmarshal event error")
				continue
			}
			select {
			case out <- ev:
			default:
				logger.FromContext(ctx).Warn("dropped event for slow subscriber", logger.Data{"job_id": ev.JobID})
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return errors.WithStack(b.pubsub.Close())
}
