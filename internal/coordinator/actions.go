package coordinator

import (
	"context"
	"errors"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/task"
)

// run starts op as a task of kind. done is resolved exactly once: with
// op's result, with ErrBusy when a task of kind is already running, or
// with ErrSessionClosed when the session closes first.
func (c *Coordinator) run(kind task.Kind, op func(ctx context.Context) error, done func(error)) bool {
	var h *task.Handle
	h, started := c.tasks.StartIfNotRunning(kind, op, func(err error) {
		c.resolve(h, err)
	})
	if !started {
		if done != nil {
			done(ErrBusy)
		}
		return false
	}
	c.pending = append(c.pending, pendingTask{handle: h, done: done})
	return true
}

func (c *Coordinator) resolve(h *task.Handle, err error) {
	for i, p := range c.pending {
		if p.handle != h {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		if err != nil {
			c.logger.Debug("[COORDINATOR] Operation failed",
				"kind", h.Kind().String(),
				"error", err,
			)
		}
		if p.done != nil {
			p.done(err)
		}
		return
	}
}

// withSession runs op against the active session as a task of kind.
func (c *Coordinator) withSession(kind task.Kind, op func(ctx context.Context, s engine.Session) error, done func(error)) {
	if c.session == nil {
		done(ErrNoSession)
		return
	}
	s := c.session.handle
	c.run(kind, func(ctx context.Context) error { return op(ctx, s) }, done)
}

// GenerateKeys creates a new master key. The result is delivered to key
// generation observers. A second call while one is running has no effect.
func (c *Coordinator) GenerateKeys() {
	if c.tasks.Running(task.GenerateKeys) {
		return
	}

	var key domain.MasterKey
	c.run(task.GenerateKeys, func(ctx context.Context) error {
		k, err := c.engine.GenerateKeys(ctx)
		key = k
		return err
	}, func(err error) {
		if err != nil {
			c.notifyKeys(KeyGenerationFailed{Err: err})
			return
		}
		c.notifyKeys(KeysGenerated{MasterKey: key})
	})
}

// CheckAddressExists asks whether an account with address exists.
func (c *Coordinator) CheckAddressExists(address string, done func(exists bool, err error)) {
	var exists bool
	c.run(task.AddressExists, func(ctx context.Context) error {
		ok, err := c.engine.AddressExists(ctx, address)
		exists = ok
		return err
	}, func(err error) {
		done(exists && err == nil, err)
	})
}

// RegisterPushToken remembers token and registers it with the active
// session. The token is registered again with every new session.
func (c *Coordinator) RegisterPushToken(token string) {
	c.pushToken = token
	if c.session == nil {
		c.logger.Debug("[COORDINATOR] Push token stored until a session exists")
		return
	}
	c.registerPushToken()
}

func (c *Coordinator) registerPushToken() {
	token := c.pushToken
	if token == "" || token == c.pushSent {
		return
	}

	c.withSession(task.RegisterPushToken, func(ctx context.Context, s engine.Session) error {
		return s.RegisterPushToken(ctx, token)
	}, func(err error) {
		switch {
		case errors.Is(err, ErrBusy):
			// The running registration re-checks the token when it ends.
		case errors.Is(err, ErrSessionClosed):
		case err != nil:
			c.logger.Warn("[COORDINATOR] Push token registration failed", "error", err)
		default:
			c.pushSent = token
			c.logger.Info("[COORDINATOR] Push token registered", "address", c.Address())
			if c.pushToken != token {
				c.registerPushToken()
			}
		}
	})
}

// PushToken returns the remembered push token.
func (c *Coordinator) PushToken() string { return c.pushToken }

// AddAttachmentToDraft copies the file at srcPath into the draft of conv.
func (c *Coordinator) AddAttachmentToDraft(conv domain.ConversationID, srcPath string, done func(error)) {
	c.withSession(task.AddDraftAttachment, func(ctx context.Context, s engine.Session) error {
		return s.AddDraftAttachment(ctx, conv, srcPath)
	}, done)
}

// SaveMessageAttachment writes attachment index of msg to destPath.
func (c *Coordinator) SaveMessageAttachment(msg domain.MessageID, index int, destPath string, done func(error)) {
	c.withSession(task.SaveMessageAttachment, func(ctx context.Context, s engine.Session) error {
		return s.SaveMessageAttachment(ctx, msg, index, destPath)
	}, done)
}

// SaveDraftAttachment writes attachment index of the draft of conv to destPath.
func (c *Coordinator) SaveDraftAttachment(conv domain.ConversationID, index int, destPath string, done func(error)) {
	c.withSession(task.SaveDraftAttachment, func(ctx context.Context, s engine.Session) error {
		return s.SaveDraftAttachment(ctx, conv, index, destPath)
	}, done)
}
