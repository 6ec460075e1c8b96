package localengine

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
)

// wireEvent is one store notification inside a raw event.
type wireEvent struct {
	Kind string `cbor:"1,keyasint"`
	Conv int64  `cbor:"2,keyasint"`
	Msg  int64  `cbor:"3,keyasint,omitempty"`
}

var eventEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// encodeEvents packs events into one raw notification, keeping their order.
func encodeEvents(events ...domain.Event) (engine.RawEvent, error) {
	wire := make([]wireEvent, 0, len(events))
	for _, ev := range events {
		w := wireEvent{Kind: ev.Kind(), Conv: int64(ev.Conversation())}
		if me, ok := ev.(domain.MessageEvent); ok {
			w.Msg = int64(me.Message())
		}
		wire = append(wire, w)
	}
	raw, err := eventEncMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	return raw, nil
}

// decodeEvents unpacks a raw notification produced by encodeEvents.
func decodeEvents(raw engine.RawEvent) ([]domain.Event, error) {
	var wire []wireEvent
	if err := cbor.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	events := make([]domain.Event, 0, len(wire))
	for _, w := range wire {
		ev := domain.NewConversationEvent(w.Kind, domain.ConversationID(w.Conv))
		if ev == nil {
			ev = domain.NewMessageEvent(w.Kind, domain.ConversationID(w.Conv), domain.MessageID(w.Msg))
		}
		if ev == nil {
			return nil, fmt.Errorf("decode events: unknown kind %q", w.Kind)
		}
		events = append(events, ev)
	}
	return events, nil
}
