package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
)

// WithEventSinks attaches sinks to the context. Events published through
// PublishEventToContext reach them in addition to any sinks configured on
// the publisher itself.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := GetEventSinks(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

func GetEventSinks(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

// PublishEventToContext publishes event to the sinks stored in ctx. Sink
// errors are logged and otherwise ignored.
func PublishEventToContext(ctx context.Context, event Event) {
	Publish(event, GetEventSinks(ctx)...)
}

// Publish sends event to every sink, best effort.
func Publish(event Event, sinks ...EventSink) {
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("could not publish event")
		}
	}
}
