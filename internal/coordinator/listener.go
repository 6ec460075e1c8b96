package coordinator

import (
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
)

// sessionListener receives the callbacks of one session on any goroutine
// and posts them onto the executor. Callbacks that land after the session
// was closed are dropped there.
type sessionListener struct {
	c          *Coordinator
	generation uint64
}

var _ engine.Listener = (*sessionListener)(nil)

func (l *sessionListener) post(fn func()) {
	l.c.exec.Post(func() {
		if l.c.generation != l.generation || l.c.session == nil {
			return
		}
		fn()
	})
}

func (l *sessionListener) EventReceived(raw engine.RawEvent) {
	l.post(func() { l.c.RouteEvent(raw) })
}

func (l *sessionListener) SyncStarted() {
	l.post(l.c.syncStarted)
}

func (l *sessionListener) SyncProgressed(progress domain.SyncProgress) {
	l.post(func() { l.c.syncProgressed(progress) })
}

func (l *sessionListener) SyncFinished() {
	l.post(func() { l.c.syncEnded(nil) })
}

func (l *sessionListener) SyncFailed(err error) {
	l.post(func() { l.c.syncEnded(err) })
}

func (l *sessionListener) DraftAttachmentsTooBig(conv domain.ConversationID, part int, currentSize, maxSize int64) {
	l.post(func() {
		l.c.logger.Warn("[SYNC] Draft attachments too big",
			"conversation_id", int64(conv),
			"part", part,
			"size", currentSize,
			"max_size", maxSize,
		)
		l.c.notifySync(DraftAttachmentsTooBig{
			Conversation: conv,
			Part:         part,
			CurrentSize:  currentSize,
			MaxSize:      maxSize,
		})
	})
}

func (l *sessionListener) PushReceived() {
	l.post(func() {
		l.c.logger.Debug("[COORDINATOR] Push received")
		l.c.RequestSync(domain.SyncWithoutAttachments)
	})
}
