package localengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/store"
)

type downloadRequest struct {
	msg   domain.MessageID
	index int
}

// Syncer uploads ready drafts into the recipients' spools, imports the
// session owner's spool and fetches attachment bodies. At most one sync
// runs at a time; a request during a sync schedules one more run.
type Syncer struct {
	session *Session

	mu         sync.Mutex
	running    bool
	wanted     bool
	wantedMode domain.SyncMode
	cancel     context.CancelFunc
	downloads  []downloadRequest
	wg         sync.WaitGroup
}

var _ engine.Syncer = (*Syncer)(nil)

func newSyncer(s *Session) *Syncer {
	return &Syncer{session: s}
}

// RequestSync starts a sync, or schedules another run if one is in progress.
func (y *Syncer) RequestSync(mode domain.SyncMode) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.running {
		if !y.wanted || mode > y.wantedMode {
			y.wantedMode = mode
		}
		y.wanted = true
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	y.running = true
	y.cancel = cancel
	y.wg.Add(1)
	go y.loop(ctx, mode)
}

func (y *Syncer) loop(ctx context.Context, mode domain.SyncMode) {
	defer y.wg.Done()

	for {
		err := y.run(ctx, mode)

		y.mu.Lock()
		if err != nil || !y.wanted || ctx.Err() != nil {
			y.running = false
			y.wanted = false
			y.cancel()
			y.cancel = nil
			y.mu.Unlock()
			return
		}
		mode = y.wantedMode
		y.wanted = false
		y.mu.Unlock()
	}
}

// Cancel stops the running sync. It does not block.
func (y *Syncer) Cancel() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.wanted = false
	if y.cancel != nil {
		y.cancel()
	}
}

// Wait blocks until no sync is running.
func (y *Syncer) Wait() {
	y.wg.Wait()
}

// IsSyncing reports whether a sync is running.
func (y *Syncer) IsSyncing() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.running
}

// LastFullSync returns the time of the last successful sync.
func (y *Syncer) LastFullSync() (time.Time, bool) {
	t, ok, err := y.session.mailbox.LastFullSync(context.Background())
	if err != nil {
		y.session.logger.Warn("[SYNC] Failed to read last sync time", "error", err)
		return time.Time{}, false
	}
	return t, ok
}

// RequestAttachmentDownload queues one attachment body for the next sync.
func (y *Syncer) RequestAttachmentDownload(msg domain.MessageID, index int) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.downloads = append(y.downloads, downloadRequest{msg: msg, index: index})
}

func (y *Syncer) takeDownloads() []downloadRequest {
	y.mu.Lock()
	defer y.mu.Unlock()
	out := y.downloads
	y.downloads = nil
	return out
}

// run performs one sync and reports it through the listener.
func (y *Syncer) run(ctx context.Context, mode domain.SyncMode) error {
	s := y.session
	listener := s.listener
	listener.SyncStarted()
	s.logger.Debug("[SYNC] Sync run started", "mode", mode.String())

	var progress domain.SyncProgress
	report := func() { listener.SyncProgressed(progress) }

	err := y.upload(ctx, &progress, report)
	if err == nil {
		err = y.importSpool(ctx, &progress, report)
	}
	if err == nil {
		err = y.download(ctx, mode, &progress, report)
	}
	if err == nil {
		err = mailboxError(s.mailbox.SetLastFullSync(ctx, time.Now()))
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		listener.SyncFailed(err)
		return err
	}
	listener.SyncFinished()
	return nil
}

func (y *Syncer) upload(ctx context.Context, progress *domain.SyncProgress, report func()) error {
	s := y.session
	drafts, err := s.mailbox.ReadyDrafts(ctx)
	if err != nil {
		return mailboxError(err)
	}

	var sendable []domain.Draft
	for _, d := range drafts {
		if size := d.AttachmentsSize(); size > s.client.maxAttachmentSize {
			s.listener.DraftAttachmentsTooBig(d.ConversationID, 0, size, s.client.maxAttachmentSize)
			if err := s.mailbox.SetDraftState(ctx, d.ConversationID, domain.DraftSendFailed); err != nil {
				return mailboxError(err)
			}
			s.emit(conversationEvent("draft_state_changed", d.ConversationID))
			continue
		}
		sendable = append(sendable, d)
		progress.BytesToUpload += int64(len(d.Text)) + d.AttachmentsSize()
	}
	if len(sendable) > 0 {
		report()
	}

	self := s.self(ctx)
	for _, d := range sendable {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := y.send(ctx, self, d); err != nil {
			s.logger.Warn("[SYNC] Failed to send draft", "conversation", d.ConversationID, "error", err)
			if stateErr := s.mailbox.SetDraftState(ctx, d.ConversationID, domain.DraftSendFailed); stateErr != nil {
				return mailboxError(stateErr)
			}
			s.emit(conversationEvent("draft_state_changed", d.ConversationID))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		progress.BytesUploaded += int64(len(d.Text)) + d.AttachmentsSize()
		report()
	}
	return nil
}

// send delivers one draft to every participant's spool and records it as
// an outgoing message.
func (y *Syncer) send(ctx context.Context, self domain.Participant, d domain.Draft) error {
	s := y.session
	conv, err := s.mailbox.Conversation(ctx, d.ConversationID)
	if err != nil {
		return mailboxError(err)
	}
	if err := s.mailbox.SetDraftState(ctx, d.ConversationID, domain.DraftSending); err != nil {
		return mailboxError(err)
	}
	s.emit(conversationEvent("draft_state_changed", d.ConversationID))

	settings, err := s.mailbox.UserSettings(ctx)
	if err != nil {
		return mailboxError(err)
	}

	env := &envelope{
		ID:     newEnvelopeID(),
		From:   self,
		To:     conv.Participants,
		Text:   d.Text,
		Footer: settings.Footer,
		SentAt: time.Now(),
	}
	attachments := make([]store.DraftAttachmentData, 0, len(d.Attachments))
	bodies := make([][]byte, 0, len(d.Attachments))
	for i := range d.Attachments {
		att, err := s.mailbox.DraftAttachmentData(ctx, d.ConversationID, i)
		if err != nil {
			return mailboxError(err)
		}
		attachments = append(attachments, att)
		bodies = append(bodies, att.Data)
		env.Attachments = append(env.Attachments, envelopeAttachment{
			Filename: att.Filename,
			Size:     int64(len(att.Data)),
			Blob:     blobName(env.ID, i),
		})
	}

	delivery := domain.DeliveryDelivered
	for _, p := range conv.Participants {
		if _, err := s.client.directory.GetAccount(ctx, p.Address); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return directoryError(ctx, err)
			}
			s.logger.Warn("[SYNC] Recipient unknown", "recipient", p.Address)
			delivery = domain.DeliveryFailed
			continue
		}
		if err := spoolFor(s.client.dataDir, p.Address).deliver(env, bodies); err != nil {
			return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
		}
	}

	msgID, err := s.mailbox.AddOutgoingMessage(ctx, &store.OutgoingMessage{
		EnvelopeID:     env.ID,
		ConversationID: d.ConversationID,
		Sender:         self,
		Text:           d.Text,
		Footer:         settings.Footer,
		Delivery:       delivery,
		SentAt:         env.SentAt,
		Attachments:    attachments,
	})
	if err != nil {
		return mailboxError(err)
	}
	if err := s.mailbox.ClearDraft(ctx, d.ConversationID); err != nil {
		return mailboxError(err)
	}
	s.emit(
		messageEvent("message_added", d.ConversationID, msgID),
		conversationEvent("draft_text_changed", d.ConversationID),
		conversationEvent("draft_attachments_changed", d.ConversationID),
		conversationEvent("draft_state_changed", d.ConversationID),
		conversationEvent("conversation_changed", d.ConversationID),
	)
	return nil
}

func (y *Syncer) importSpool(ctx context.Context, progress *domain.SyncProgress, report func()) error {
	s := y.session
	paths, err := s.spool.pending()
	if err != nil {
		return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}
	envs, err := readEnvelopes(paths)
	if err != nil {
		return &engine.NetworkError{Kind: engine.NetworkProtocol, Err: err}
	}
	progress.MessagesTotal = len(envs)
	report()

	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := &store.IncomingMessage{
			EnvelopeID:   env.ID,
			Participants: s.others(append([]domain.Participant{env.From}, env.To...)),
			Sender:       env.From,
			Text:         env.Text,
			Footer:       env.Footer,
			SentAt:       env.SentAt,
		}
		for _, a := range env.Attachments {
			in.Attachments = append(in.Attachments, store.IncomingAttachment{
				Filename: a.Filename,
				Size:     a.Size,
				BlobRef:  a.Blob,
			})
		}

		conv, msgID, created, err := s.mailbox.ImportMessage(ctx, in)
		switch {
		case errors.Is(err, store.ErrExists):
			s.logger.Debug("[SYNC] Envelope already imported", "envelope", env.ID)
		case err != nil:
			return mailboxError(err)
		default:
			var events []domain.Event
			if created {
				events = append(events, conversationEvent("conversation_added", conv))
			}
			events = append(events,
				messageEvent("message_added", conv, msgID),
				conversationEvent("conversation_changed", conv),
			)
			s.emit(events...)
		}

		if err := s.spool.remove(env.ID); err != nil {
			return &engine.LocalError{Kind: engine.LocalFilesystem, Err: fmt.Errorf("remove envelope: %w", err)}
		}
		progress.MessagesProcessed++
		report()
	}
	return nil
}

func (y *Syncer) download(ctx context.Context, mode domain.SyncMode, progress *domain.SyncProgress, report func()) error {
	s := y.session
	requested := y.takeDownloads()
	if len(requested) == 0 && mode != domain.SyncWithAttachments {
		return nil
	}

	pending, err := s.mailbox.PendingDownloads(ctx)
	if err != nil {
		return mailboxError(err)
	}
	wanted := make(map[downloadRequest]bool, len(requested))
	for _, r := range requested {
		wanted[r] = true
	}

	var todo []store.PendingDownload
	for _, p := range pending {
		if mode == domain.SyncWithAttachments || wanted[downloadRequest{msg: p.MessageID, index: p.Index}] {
			todo = append(todo, p)
			progress.BytesToDownload += p.Size
		}
	}
	progress.AttachmentsTotal = len(todo)
	if len(todo) == 0 {
		return nil
	}
	report()

	for _, p := range todo {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := s.spool.readBlob(p.BlobRef)
		if err != nil {
			return &engine.NetworkError{Kind: engine.NetworkServer, Err: fmt.Errorf("fetch attachment: %w", err)}
		}
		if err := s.mailbox.StoreAttachmentData(ctx, p.MessageID, p.Index, data); err != nil {
			return mailboxError(err)
		}
		if err := s.spool.removeBlob(p.BlobRef); err != nil {
			s.logger.Warn("[SYNC] Failed to remove fetched blob", "blob", p.BlobRef, "error", err)
		}
		s.emit(messageEvent("message_attachments_downloaded_changed", p.ConversationID, p.MessageID))
		progress.AttachmentsProcessed++
		progress.BytesDownloaded += int64(len(data))
		report()
	}
	return nil
}
