package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// TopicChatEvents carries the events of every chat; the chat id is in the
// message metadata.
const TopicChatEvents = "chat-events"

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
	blocking   bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		if verbose {
			r.logger = NewWatermill(log.Logger)
		}
	}
}

// WithBlockingPublish controls whether Publish waits until every subscriber
// acked. It is on by default, which keeps each subscriber's events in publish
// order.
func WithBlockingPublish(blocking bool) EventRouterOption {
	return func(r *EventRouter) {
		r.blocking = blocking
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger:   watermill.NopLogger{},
		blocking: true,
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: ret.blocking,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

// Sink returns a sink publishing to TopicChatEvents.
func (e *EventRouter) Sink() EventSink {
	return NewWatermillSink(e.Publisher, TopicChatEvents)
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// SubscribeChat streams the decoded events of one chat until ctx is done.
func (e *EventRouter) SubscribeChat(ctx context.Context, chatID string) (<-chan Event, error) {
	messages, err := e.Subscriber.Subscribe(ctx, TopicChatEvents)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			if msg.Metadata.Get(MetadataChatIDKey) != chatID {
				msg.Ack()
				continue
			}
			ev, err := NewEventFromJSON(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable chat event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LogEvents is a handler that writes every chat event to the log.
func (e *EventRouter) LogEvents(msg *message.Message) error {
	defer msg.Ack()

	ev, err := NewEventFromJSON(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse chat event")
		return nil
	}

	l := log.Debug()
	if e.verbose {
		l = log.Info()
	}
	l.Str("event_type", string(ev.Type())).
		Object("meta", ev.Metadata()).
		Msg("chat event")
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
