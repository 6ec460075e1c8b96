package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/sealbox/internal/credential"
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/task"
)

// CreateSession starts creating the session for creds. It is only valid
// in StateNone; otherwise it reports an invariant violation and returns
// ErrSessionExists.
func (c *Coordinator) CreateSession(creds domain.Credentials) error {
	if c.state != StateNone {
		c.violation("create session for %s while %s", creds.Address, c.state)
		return ErrSessionExists
	}

	gen := c.generation
	listener := &sessionListener{c: c, generation: gen}
	storePath := c.storePath(creds.Address)

	var created engine.Session
	_, started := c.tasks.StartIfNotRunning(task.CreateSession, func(ctx context.Context) error {
		s, err := c.engine.CreateSession(ctx, creds, storePath, listener)
		created = s
		return err
	}, func(err error) {
		c.sessionCreated(gen, creds.Address, created, err)
	})
	if !started {
		c.violation("create-session task running in state %s", c.state)
		return ErrSessionExists
	}

	c.state = StateCreating
	c.logger.Info("[COORDINATOR] Creating session", "address", creds.Address)
	return nil
}

func (c *Coordinator) sessionCreated(gen uint64, address string, s engine.Session, err error) {
	if gen != c.generation {
		if s != nil {
			c.logger.Info("[COORDINATOR] Closing session created after teardown", "address", address)
			if cerr := s.Close(); cerr != nil {
				c.logger.Warn("[COORDINATOR] Failed to close stale session", "address", address, "error", cerr)
			}
		}
		return
	}

	conts := c.continuations
	c.continuations = nil

	if err != nil {
		c.state = StateNone
		c.logger.Warn("[COORDINATOR] Session creation failed",
			"address", address,
			"error", err,
		)
		for _, cont := range conts {
			cont("", err)
		}
		return
	}

	c.session = &activeSession{address: address, handle: s}
	c.state = StateCreated
	c.logger.Info("[COORDINATOR] Session created", "address", address)

	c.pushSent = ""
	if c.pushToken != "" {
		c.registerPushToken()
	}
	c.deferred.run()

	for _, cont := range conts {
		cont(address, nil)
	}
}

// EnsureSession calls cont with the address of the active session. If a
// session is being created, cont runs once creation ends. If none exists,
// the stored credentials of the current account are used to create one.
func (c *Coordinator) EnsureSession(cont func(address string, err error)) {
	switch c.state {
	case StateCreated:
		cont(c.session.address, nil)
	case StateCreating:
		c.continuations = append(c.continuations, cont)
	default:
		creds, err := c.creds.Current()
		if err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				err = ErrNoCredentials
			} else {
				err = fmt.Errorf("%w: %v", ErrNoCredentials, err)
			}
			cont("", err)
			return
		}
		c.continuations = append(c.continuations, cont)
		if err := c.CreateSession(creds); err != nil {
			c.continuations = c.continuations[:len(c.continuations)-1]
			cont("", err)
		}
	}
}

// CloseSession tears the session down. It turns the busy indicator off,
// cancels every running operation and the syncer, waits for all of them,
// then drops the session. Operations still pending resolve with
// ErrSessionClosed, except key generation, which needs no session and is
// dropped without a result. It is safe to call in any state.
func (c *Coordinator) CloseSession() {
	c.setBusy(false)
	c.generation++

	c.tasks.CancelAll()
	var syncer engine.Syncer
	if c.session != nil {
		syncer = c.session.handle.Syncer()
		syncer.Cancel()
	}

	if err := c.tasks.DrainAll(context.Background()); err != nil {
		c.violation("drain tasks: %v", err)
	}
	if syncer != nil {
		syncer.Wait()
	}

	wasState := c.state
	if c.session != nil {
		address := c.session.address
		if err := c.session.handle.Close(); err != nil {
			c.logger.Warn("[COORDINATOR] Failed to close session", "address", address, "error", err)
		}
		c.logger.Info("[COORDINATOR] Session closed", "address", address)
	}
	c.session = nil
	c.state = StateNone
	c.deferred.clear()
	c.pushSent = ""

	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		if p.handle.Kind() == task.GenerateKeys {
			c.logger.Debug("[COORDINATOR] Key generation cancelled")
			continue
		}
		if p.done != nil {
			p.done(ErrSessionClosed)
		}
	}

	conts := c.continuations
	c.continuations = nil
	for _, cont := range conts {
		cont("", ErrSessionClosed)
	}

	c.abortSync(ErrSessionClosed)

	if wasState != StateNone {
		c.logger.Debug("[COORDINATOR] Teardown complete", "previous_state", wasState.String())
	}
}

// Login checks creds, stores them and creates their session. done receives
// the outcome.
func (c *Coordinator) Login(creds domain.Credentials, done func(error)) {
	if c.state != StateNone {
		done(ErrSessionExists)
		return
	}

	c.run(task.CheckCredentials, func(ctx context.Context) error {
		return c.engine.CheckCredentials(ctx, creds)
	}, func(err error) {
		if err != nil {
			done(err)
			return
		}
		c.signIn(creds, done)
	})
}

// RegisterAccount creates a new account, stores its credentials and signs
// it in. done receives the outcome.
func (c *Coordinator) RegisterAccount(reg domain.Registration, done func(error)) {
	if c.state != StateNone {
		done(ErrSessionExists)
		return
	}

	c.run(task.RegisterAccount, func(ctx context.Context) error {
		return c.engine.RegisterAccount(ctx, reg)
	}, func(err error) {
		if err != nil {
			done(err)
			return
		}
		c.signIn(reg.Credentials(), done)
	})
}

func (c *Coordinator) signIn(creds domain.Credentials, done func(error)) {
	if err := c.creds.Save(creds); err != nil {
		done(fmt.Errorf("store credentials: %w", err))
		return
	}
	if c.state != StateNone {
		done(ErrSessionExists)
		return
	}
	c.continuations = append(c.continuations, func(_ string, err error) { done(err) })
	if err := c.CreateSession(creds); err != nil {
		c.continuations = c.continuations[:len(c.continuations)-1]
		done(err)
	}
}

// Logout unregisters the push token, waiting at most the configured
// timeout, closes the session and deletes the stored credentials of the
// signed-in account. done, if set, runs once all of that happened.
func (c *Coordinator) Logout(done func(error)) {
	if done != nil {
		c.logoutWaiters = append(c.logoutWaiters, done)
	}
	if c.tasks.Running(task.UnregisterPushToken) {
		return
	}

	address := c.Address()
	if address == "" {
		if creds, err := c.creds.Current(); err == nil {
			address = creds.Address
		}
	}

	if c.session == nil || c.pushSent == "" {
		c.finishLogout(c.generation, address)
		return
	}

	gen := c.generation
	s := c.session.handle
	token := c.pushSent
	timeout := c.unregWait
	c.tasks.StartIfNotRunning(task.UnregisterPushToken, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return s.UnregisterPushToken(ctx, token)
	}, func(err error) {
		if err != nil {
			c.logger.Warn("[COORDINATOR] Push token unregistration failed", "address", address, "error", err)
		}
		c.finishLogout(gen, address)
	})
}

func (c *Coordinator) finishLogout(gen uint64, address string) {
	if gen == c.generation {
		c.CloseSession()
	}

	var err error
	if address != "" {
		if derr := c.creds.Delete(address); derr != nil {
			err = fmt.Errorf("delete credentials: %w", derr)
		}
	}
	c.logger.Info("[COORDINATOR] Logged out", "address", address)

	waiters := c.logoutWaiters
	c.logoutWaiters = nil
	for _, done := range waiters {
		done(err)
	}
}
