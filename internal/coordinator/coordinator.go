// Package coordinator owns the signed-in user's engine session. It
// supervises every asynchronous engine operation, fans engine events out to
// observers and tracks sync progress.
//
// All methods must be called from the executor given in Options. Engine
// callbacks are posted onto that executor before they touch any state, so
// the coordinator itself needs no locks. Observers are called on the
// executor too and may call back into the coordinator.
package coordinator

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ashureev/sealbox/internal/clock"
	"github.com/ashureev/sealbox/internal/credential"
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/executor"
	"github.com/ashureev/sealbox/internal/observer"
	"github.com/ashureev/sealbox/internal/task"
)

const (
	defaultSyncStaleness         = 10 * time.Minute
	defaultPushUnregisterTimeout = 3 * time.Second
)

// SessionState is the lifecycle state of the engine session.
type SessionState int

const (
	// StateNone means no session exists.
	StateNone SessionState = iota
	// StateCreating means a session is being created.
	StateCreating
	// StateCreated means the session is active.
	StateCreated
)

func (s SessionState) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	default:
		return "none"
	}
}

// Device is the host the coordinator runs on.
type Device interface {
	// SetBusy turns the network activity indicator on or off.
	SetBusy(busy bool)
}

// Options configures a Coordinator.
type Options struct {
	Executor    executor.Executor
	Engine      engine.Client
	Credentials credential.Store

	// Device receives busy indicator changes. Optional.
	Device Device
	// Clock defaults to the real clock.
	Clock clock.Clock
	// DataDir holds the per-user local stores.
	DataDir string
	// StorePath overrides how the local store path of an address is derived.
	StorePath func(address string) string
	// SyncStaleness is how old the last full sync may be before
	// SyncIfNecessary syncs again. Defaults to ten minutes.
	SyncStaleness time.Duration
	// PushUnregisterTimeout bounds the push token unregistration on logout.
	// Defaults to three seconds.
	PushUnregisterTimeout time.Duration
	// Strict turns invariant violations into panics.
	Strict bool
	Logger *slog.Logger
}

// Coordinator is the single owner of the engine session.
type Coordinator struct {
	exec      executor.Executor
	engine    engine.Client
	creds     credential.Store
	device    Device
	clock     clock.Clock
	storePath func(string) string
	staleness time.Duration
	unregWait time.Duration
	strict    bool
	logger    *slog.Logger

	tasks   *task.Registry
	pending []pendingTask

	state         SessionState
	session       *activeSession
	generation    uint64
	continuations []func(address string, err error)

	deferred     deferredActions
	deferredMode domain.SyncMode
	pushToken    string
	pushSent     string

	syncing  bool
	progress domain.SyncProgress
	// syncCompletions end with the running sync, nextSyncCompletions with
	// the one after it.
	syncCompletions     []func(error)
	nextSyncCompletions []func(error)
	logoutWaiters       []func(error)

	sessionObservers observer.Set[SessionObserver]
	syncObservers    observer.Set[SyncObserver]
	keyObservers     observer.Set[KeyGenerationObserver]
}

type activeSession struct {
	address string
	handle  engine.Session
}

// pendingTask is a started operation whose caller still waits for a result.
type pendingTask struct {
	handle *task.Handle
	done   func(error)
}

// New creates a coordinator in StateNone.
func New(opts Options) *Coordinator {
	if opts.Executor == nil {
		panic("coordinator: Options.Executor is required")
	}
	if opts.Engine == nil {
		panic("coordinator: Options.Engine is required")
	}
	if opts.Credentials == nil {
		panic("coordinator: Options.Credentials is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	staleness := opts.SyncStaleness
	if staleness <= 0 {
		staleness = defaultSyncStaleness
	}
	unregWait := opts.PushUnregisterTimeout
	if unregWait <= 0 {
		unregWait = defaultPushUnregisterTimeout
	}
	storePath := opts.StorePath
	if storePath == nil {
		dataDir := opts.DataDir
		storePath = func(address string) string {
			return filepath.Join(dataDir, "users", credential.Digest(address)+".db")
		}
	}

	return &Coordinator{
		exec:      opts.Executor,
		engine:    opts.Engine,
		creds:     opts.Credentials,
		device:    opts.Device,
		clock:     clk,
		storePath: storePath,
		staleness: staleness,
		unregWait: unregWait,
		strict:    opts.Strict,
		logger:    logger,
		tasks:     task.NewRegistry(opts.Executor, logger),
	}
}

// State returns the session state.
func (c *Coordinator) State() SessionState { return c.state }

// Address returns the address of the active session, or "".
func (c *Coordinator) Address() string {
	if c.session == nil {
		return ""
	}
	return c.session.address
}

// HasSession reports whether a session is active.
func (c *Coordinator) HasSession() bool { return c.session != nil }

// Client returns the engine client, for calls that need no session.
func (c *Coordinator) Client() engine.Client { return c.engine }

// violation reports a broken invariant. In strict mode it panics.
func (c *Coordinator) violation(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.strict {
		panic("coordinator: invariant violation: " + msg)
	}
	c.logger.Error("[COORDINATOR] Invariant violation", "detail", msg)
}

func (c *Coordinator) setBusy(busy bool) {
	if c.device != nil {
		c.device.SetBusy(busy)
	}
}
