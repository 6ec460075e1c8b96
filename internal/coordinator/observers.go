package coordinator

import (
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/observer"
)

// SessionObserver receives translated engine events.
type SessionObserver interface {
	HandleSessionEvent(ev domain.Event)
}

// SyncObserver receives sync lifecycle notifications.
type SyncObserver interface {
	HandleSyncEvent(ev SyncEvent)
}

// KeyGenerationObserver receives the outcome of GenerateKeys. A generation
// cancelled by CloseSession reports nothing.
type KeyGenerationObserver interface {
	HandleKeyGenerationEvent(ev KeyGenerationEvent)
}

// SessionObserverFunc adapts a function to SessionObserver.
type SessionObserverFunc func(ev domain.Event)

func (f SessionObserverFunc) HandleSessionEvent(ev domain.Event) { f(ev) }

// SyncObserverFunc adapts a function to SyncObserver.
type SyncObserverFunc func(ev SyncEvent)

func (f SyncObserverFunc) HandleSyncEvent(ev SyncEvent) { f(ev) }

// KeyGenerationObserverFunc adapts a function to KeyGenerationObserver.
type KeyGenerationObserverFunc func(ev KeyGenerationEvent)

func (f KeyGenerationObserverFunc) HandleKeyGenerationEvent(ev KeyGenerationEvent) { f(ev) }

// SyncEvent is one of SyncStarted, SyncProgressed, DraftAttachmentsTooBig,
// SyncFinished or SyncFailed.
type SyncEvent interface {
	isSyncEvent()
}

// SyncStarted reports the start of a sync.
type SyncStarted struct{}

// SyncProgressed carries a new progress snapshot.
type SyncProgressed struct {
	Progress domain.SyncProgress
}

// DraftAttachmentsTooBig warns that a draft could not be sent because its
// attachments are too large. It does not end the sync.
type DraftAttachmentsTooBig struct {
	Conversation domain.ConversationID
	Part         int
	CurrentSize  int64
	MaxSize      int64
}

// SyncFinished reports a successful end of sync.
type SyncFinished struct{}

// SyncFailed reports an aborted sync.
type SyncFailed struct {
	Err error
}

func (SyncStarted) isSyncEvent()            {}
func (SyncProgressed) isSyncEvent()         {}
func (DraftAttachmentsTooBig) isSyncEvent() {}
func (SyncFinished) isSyncEvent()           {}
func (SyncFailed) isSyncEvent()             {}

// KeyGenerationEvent is KeysGenerated or KeyGenerationFailed.
type KeyGenerationEvent interface {
	isKeyGenerationEvent()
}

// KeysGenerated carries a new master key.
type KeysGenerated struct {
	MasterKey domain.MasterKey
}

// KeyGenerationFailed reports why no key was generated.
type KeyGenerationFailed struct {
	Err error
}

func (KeysGenerated) isKeyGenerationEvent()       {}
func (KeyGenerationFailed) isKeyGenerationEvent() {}

// AddSessionObserver registers o for engine events.
func (c *Coordinator) AddSessionObserver(o SessionObserver) *observer.Registration {
	return c.sessionObservers.Add(o)
}

// RemoveSessionObserver unregisters o. It reports whether o was registered.
func (c *Coordinator) RemoveSessionObserver(o SessionObserver) bool {
	return c.sessionObservers.Remove(o)
}

// AddSyncObserver registers o for sync notifications.
func (c *Coordinator) AddSyncObserver(o SyncObserver) *observer.Registration {
	return c.syncObservers.Add(o)
}

// RemoveSyncObserver unregisters o. It reports whether o was registered.
func (c *Coordinator) RemoveSyncObserver(o SyncObserver) bool {
	return c.syncObservers.Remove(o)
}

// AddKeyGenerationObserver registers o for key generation results.
func (c *Coordinator) AddKeyGenerationObserver(o KeyGenerationObserver) *observer.Registration {
	return c.keyObservers.Add(o)
}

// RemoveKeyGenerationObserver unregisters o. It reports whether o was registered.
func (c *Coordinator) RemoveKeyGenerationObserver(o KeyGenerationObserver) bool {
	return c.keyObservers.Remove(o)
}

func (c *Coordinator) notifySync(ev SyncEvent) {
	c.syncObservers.Notify(func(o SyncObserver) { o.HandleSyncEvent(ev) })
}

func (c *Coordinator) notifyKeys(ev KeyGenerationEvent) {
	c.keyObservers.Notify(func(o KeyGenerationObserver) { o.HandleKeyGenerationEvent(ev) })
}
