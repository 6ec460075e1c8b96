package enginetest

import (
	"sync"
	"time"

	"github.com/ashureev/sealbox/internal/domain"
)

// Syncer is a fake engine.Syncer that only records calls. Tests drive sync
// notifications through the session's listener.
type Syncer struct {
	mu        sync.Mutex
	requests  []domain.SyncMode
	cancels   int
	waits     int
	downloads []domain.MessageID
	last      time.Time
	hasLast   bool
	syncing   bool
}

// Requests returns the modes of every RequestSync call.
func (s *Syncer) Requests() []domain.SyncMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SyncMode(nil), s.requests...)
}

// Cancels returns how many times Cancel was called.
func (s *Syncer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// Waits returns how many times Wait was called.
func (s *Syncer) Waits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waits
}

// Downloads returns the messages passed to RequestAttachmentDownload.
func (s *Syncer) Downloads() []domain.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MessageID(nil), s.downloads...)
}

// SetLastFullSync sets the value returned by LastFullSync.
func (s *Syncer) SetLastFullSync(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = t
	s.hasLast = true
}

// SetSyncing sets the value returned by IsSyncing.
func (s *Syncer) SetSyncing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncing = v
}

func (s *Syncer) RequestSync(mode domain.SyncMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, mode)
}

func (s *Syncer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

func (s *Syncer) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits++
}

func (s *Syncer) LastFullSync() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Syncer) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

func (s *Syncer) RequestAttachmentDownload(msg domain.MessageID, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, msg)
}
