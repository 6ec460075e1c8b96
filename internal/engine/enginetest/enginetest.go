// Package enginetest provides an in-memory engine for tests. Every blocking
// call can be held open with a Gate so tests control when completions land.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
)

// Gate holds a blocking call open until Release is called.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

// Release lets every waiting and future call through.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// Entered is signalled each time a call reaches the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

func (g *Gate) wait(ctx context.Context) error {
	if g == nil {
		return ctx.Err()
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client is a fake engine.Client.
type Client struct {
	mu       sync.Mutex
	accounts map[string]domain.Registration
	sessions []*Session
	gates    map[string]*Gate
	errs     map[string]error
	keys     domain.MasterKey
}

var _ engine.Client = (*Client)(nil)

// NewClient returns an empty fake client.
func NewClient() *Client {
	var keys domain.MasterKey
	for i := range keys {
		keys[i] = fmt.Sprintf("%04X", i)
	}
	return &Client{
		accounts: make(map[string]domain.Registration),
		gates:    make(map[string]*Gate),
		errs:     make(map[string]error),
		keys:     keys,
	}
}

// Hold makes the named call (for example "CreateSession") block on a new
// gate, which is returned.
func (c *Client) Hold(call string) *Gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := NewGate()
	c.gates[call] = g
	return g
}

// Fail makes the named call return err. A nil err clears the failure.
func (c *Client) Fail(call string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, call)
		return
	}
	c.errs[call] = err
}

// AddAccount registers an account without going through RegisterAccount.
func (c *Client) AddAccount(reg domain.Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[reg.Address] = reg
}

// Sessions returns every session created so far, oldest first.
func (c *Client) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

// LastSession returns the newest session, or nil.
func (c *Client) LastSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}

func (c *Client) enter(ctx context.Context, call string) error {
	c.mu.Lock()
	g := c.gates[call]
	err := c.errs[call]
	c.mu.Unlock()

	if g != nil {
		if werr := g.wait(ctx); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) ValidateAddress(address string) bool {
	return strings.Count(address, "@") == 1 && !strings.HasPrefix(address, "@") && !strings.HasSuffix(address, "@")
}

func (c *Client) ValidateMasterKeyBlock(block string) bool {
	if len(block) != 4 {
		return false
	}
	_, err := strconv.ParseUint(block, 16, 16)
	return err == nil
}

func (c *Client) GenerateKeys(ctx context.Context) (domain.MasterKey, error) {
	if err := c.enter(ctx, "GenerateKeys"); err != nil {
		return domain.MasterKey{}, err
	}
	return c.keys, nil
}

func (c *Client) RegisterAccount(ctx context.Context, reg domain.Registration) error {
	if err := c.enter(ctx, "RegisterAccount"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[reg.Address]; ok {
		return &engine.NetworkError{Kind: engine.NetworkForbidden, Err: errors.New("address taken")}
	}
	c.accounts[reg.Address] = reg
	return nil
}

func (c *Client) CheckCredentials(ctx context.Context, creds domain.Credentials) error {
	if err := c.enter(ctx, "CheckCredentials"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.accounts[creds.Address]
	if !ok || reg.MasterKey != creds.MasterKey {
		return &engine.NetworkError{Kind: engine.NetworkUnauthorized}
	}
	return nil
}

func (c *Client) AddressExists(ctx context.Context, address string) (bool, error) {
	if err := c.enter(ctx, "AddressExists"); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.accounts[address]
	return ok, nil
}

func (c *Client) CreateSession(ctx context.Context, creds domain.Credentials, storePath string, listener engine.Listener) (engine.Session, error) {
	if err := c.enter(ctx, "CreateSession"); err != nil {
		return nil, err
	}
	s := NewSession(creds.Address, storePath, listener)
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
	return s, nil
}

// EncodeEvents builds a raw event that the fake session translates back
// into events. Each event is written as kind:conversation[:message].
func EncodeEvents(events ...domain.Event) engine.RawEvent {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		if me, ok := ev.(domain.MessageEvent); ok {
			parts = append(parts, fmt.Sprintf("%s:%d:%d", ev.Kind(), ev.Conversation(), me.Message()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%d", ev.Kind(), ev.Conversation()))
	}
	return engine.RawEvent(strings.Join(parts, ";"))
}

func decodeEvents(raw engine.RawEvent) ([]domain.Event, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var events []domain.Event
	for _, part := range strings.Split(string(raw), ";") {
		fields := strings.Split(part, ":")
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed event %q", part)
		}
		conv, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed conversation in %q: %w", part, err)
		}
		var ev domain.Event
		if len(fields) == 3 {
			msg, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed message in %q: %w", part, err)
			}
			ev = domain.NewMessageEvent(fields[0], domain.ConversationID(conv), domain.MessageID(msg))
		} else {
			ev = domain.NewConversationEvent(fields[0], domain.ConversationID(conv))
		}
		if ev == nil {
			return nil, fmt.Errorf("unknown event %q", part)
		}
		events = append(events, ev)
	}
	return events, nil
}
