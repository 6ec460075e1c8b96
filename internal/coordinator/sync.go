package coordinator

import (
	"time"

	"github.com/ashureev/sealbox/internal/domain"
)

// SyncStatus is the immediate outcome of RequestSync.
type SyncStatus int

const (
	// SyncRequested means the request was handed to the syncer.
	SyncRequested SyncStatus = iota
	// SyncDeferred means no session exists; the sync runs once one does.
	SyncDeferred
)

func (s SyncStatus) String() string {
	if s == SyncDeferred {
		return "deferred"
	}
	return "requested"
}

// RequestSync asks the syncer for a sync. Without a session the request is
// remembered and issued once, right after the next session is created.
func (c *Coordinator) RequestSync(mode domain.SyncMode) SyncStatus {
	if c.session == nil {
		c.deferSync(mode)
		return SyncDeferred
	}

	c.deferred.remove(actionSync)
	c.logger.Debug("[SYNC] Requesting sync", "address", c.session.address, "mode", mode.String())
	c.session.handle.Syncer().RequestSync(mode)
	return SyncRequested
}

func (c *Coordinator) deferSync(mode domain.SyncMode) {
	if c.deferred.has(actionSync) && c.deferredMode > mode {
		mode = c.deferredMode
	}
	c.deferredMode = mode
	c.deferred.add(actionSync, func() { c.RequestSync(mode) })
	c.logger.Debug("[SYNC] Sync deferred until a session exists", "mode", mode.String())
}

// SyncDeferredPending reports whether a sync waits for a session.
func (c *Coordinator) SyncDeferredPending() bool {
	return c.deferred.has(actionSync)
}

// RequestSyncWithCompletion is RequestSync with a callback. done runs
// exactly once, when the sync ends. Without a session the sync is deferred
// and done receives ErrSyncDeferred immediately.
func (c *Coordinator) RequestSyncWithCompletion(mode domain.SyncMode, done func(error)) {
	if c.session == nil {
		c.deferSync(mode)
		done(ErrSyncDeferred)
		return
	}
	if c.syncing {
		// The running sync was started before this request. done belongs
		// to the sync the syncer runs after it.
		c.nextSyncCompletions = append(c.nextSyncCompletions, done)
	} else {
		c.syncCompletions = append(c.syncCompletions, done)
	}
	c.RequestSync(mode)
}

// SyncIfNecessary syncs when no full sync is on record or the last one is
// older than the staleness threshold. Without a session no timestamp is
// known, so the sync is deferred until one exists. It reports whether a sync
// was requested.
func (c *Coordinator) SyncIfNecessary() bool {
	if c.syncing {
		return false
	}
	if c.session == nil {
		return c.RequestSync(domain.SyncWithoutAttachments) == SyncRequested
	}

	if last, ok := c.session.handle.Syncer().LastFullSync(); ok {
		if age := c.clock.Now().Sub(last); age < c.staleness {
			return false
		}
	}
	return c.RequestSync(domain.SyncWithoutAttachments) == SyncRequested
}

// IsSyncing reports whether a sync is running.
func (c *Coordinator) IsSyncing() bool { return c.syncing }

// SyncProgress returns the latest progress snapshot.
func (c *Coordinator) SyncProgress() domain.SyncProgress { return c.progress }

// LastFullSync returns the time of the last successful sync of the session.
func (c *Coordinator) LastFullSync() (time.Time, bool) {
	if c.session == nil {
		return time.Time{}, false
	}
	return c.session.handle.Syncer().LastFullSync()
}

// RequestAttachmentDownload fetches one attachment body with the next sync
// and requests that sync.
func (c *Coordinator) RequestAttachmentDownload(msg domain.MessageID, index int) error {
	if c.session == nil {
		return ErrNoSession
	}
	c.session.handle.Syncer().RequestAttachmentDownload(msg, index)
	c.RequestSync(domain.SyncWithoutAttachments)
	return nil
}

func (c *Coordinator) syncStarted() {
	if c.syncing {
		return
	}
	c.syncing = true
	c.syncCompletions = append(c.syncCompletions, c.nextSyncCompletions...)
	c.nextSyncCompletions = nil
	c.progress = domain.SyncProgress{}
	c.setBusy(true)
	c.logger.Info("[SYNC] Sync started", "address", c.Address())
	c.notifySync(SyncStarted{})
}

func (c *Coordinator) syncProgressed(p domain.SyncProgress) {
	c.progress = p
	c.notifySync(SyncProgressed{Progress: p})
}

// syncEnded runs the end-of-sync cleanup once, then notifies observers.
func (c *Coordinator) syncEnded(err error) {
	wasSyncing := c.syncing
	if !wasSyncing && len(c.syncCompletions) == 0 {
		c.logger.Debug("[SYNC] Ignoring sync end without a running sync")
		return
	}

	c.syncing = false
	if wasSyncing {
		c.setBusy(false)
	}
	completions := c.syncCompletions
	c.syncCompletions = nil
	for _, done := range completions {
		done(err)
	}

	if err != nil {
		c.logger.Warn("[SYNC] Sync failed", "address", c.Address(), "error", err)
		c.notifySync(SyncFailed{Err: err})
		return
	}
	c.logger.Info("[SYNC] Sync finished", "address", c.Address())
	c.notifySync(SyncFinished{})
}

// abortSync ends a running sync on teardown.
func (c *Coordinator) abortSync(err error) {
	wasSyncing := c.syncing
	c.syncing = false
	c.progress = domain.SyncProgress{}

	completions := append(c.syncCompletions, c.nextSyncCompletions...)
	c.syncCompletions = nil
	c.nextSyncCompletions = nil
	for _, done := range completions {
		done(err)
	}
	if wasSyncing {
		c.notifySync(SyncFailed{Err: err})
	}
}
