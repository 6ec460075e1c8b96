package coordinator

import (
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
)

// RouteEvent translates raw with the active session and delivers each
// resulting event, in order, to every session observer in registration
// order. Without a session it does nothing.
func (c *Coordinator) RouteEvent(raw engine.RawEvent) {
	if c.session == nil {
		c.logger.Debug("[COORDINATOR] Dropping event without session")
		return
	}

	events, err := c.session.handle.TranslateEvent(raw)
	if err != nil {
		c.logger.Warn("[COORDINATOR] Failed to translate event",
			"address", c.session.address,
			"error", err,
		)
		return
	}

	for _, ev := range events {
		c.deliver(ev)
	}
}

func (c *Coordinator) deliver(ev domain.Event) {
	c.logger.Debug("[COORDINATOR] Delivering event",
		"kind", ev.Kind(),
		"conversation_id", int64(ev.Conversation()),
	)
	c.sessionObservers.Notify(func(o SessionObserver) { o.HandleSessionEvent(ev) })
}
