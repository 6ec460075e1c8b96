package localengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/store"
)

// Session implements engine.Session over one user's mailbox.
type Session struct {
	client   *Client
	address  string
	mailbox  store.Mailbox
	listener engine.Listener
	spool    spool
	syncer   *Syncer
	watcher  *spoolWatcher
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Session = (*Session)(nil)

func newSession(ctx context.Context, c *Client, acct *store.Account, mailbox store.Mailbox, listener engine.Listener) (*Session, error) {
	settings, err := mailbox.UserSettings(ctx)
	if err != nil {
		return nil, mailboxError(err)
	}
	if settings.Name == "" && settings.Organization == "" {
		settings.Name = acct.Name
		settings.Organization = acct.Organization
		if err := mailbox.UpdateUserSettings(ctx, settings); err != nil {
			return nil, mailboxError(err)
		}
	}

	logger := c.logger.With("address", acct.Address)
	s := &Session{
		client:   c,
		address:  acct.Address,
		mailbox:  mailbox,
		listener: listener,
		spool:    spoolFor(c.dataDir, acct.Address),
		logger:   logger,
	}
	s.syncer = newSyncer(s)

	s.watcher, err = newSpoolWatcher(s.spool, c.debounce, listener.PushReceived, logger)
	if err != nil {
		return nil, &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}
	return s, nil
}

// Address returns the address the session belongs to.
func (s *Session) Address() string { return s.address }

// Syncer returns the session's syncer.
func (s *Session) Syncer() engine.Syncer { return s.syncer }

// TranslateEvent decodes a raw notification emitted by this engine.
func (s *Session) TranslateEvent(raw engine.RawEvent) ([]domain.Event, error) {
	return decodeEvents(raw)
}

func (s *Session) emit(events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	raw, err := encodeEvents(events...)
	if err != nil {
		s.logger.Error("[ENGINE] Failed to encode events", "error", err)
		return
	}
	s.listener.EventReceived(raw)
}

func conversationEvent(kind string, conv domain.ConversationID) domain.Event {
	return domain.NewConversationEvent(kind, conv)
}

func messageEvent(kind string, conv domain.ConversationID, msg domain.MessageID) domain.Event {
	return domain.NewMessageEvent(kind, conv, msg)
}

func (s *Session) self(ctx context.Context) domain.Participant {
	p := domain.Participant{Address: s.address}
	if settings, err := s.mailbox.UserSettings(ctx); err == nil {
		p.Name = settings.Name
		p.Organization = settings.Organization
	}
	return p
}

// others drops the session owner and duplicates from participants.
func (s *Session) others(participants []domain.Participant) []domain.Participant {
	seen := map[string]bool{store.ParticipantsKey([]domain.Participant{{Address: s.address}}): true}
	var out []domain.Participant
	for _, p := range participants {
		key := store.ParticipantsKey([]domain.Participant{p})
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// Conversations lists the conversations, most recent first.
func (s *Session) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	convs, err := s.mailbox.Conversations(ctx)
	return convs, mailboxError(err)
}

// Conversation returns one conversation.
func (s *Session) Conversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	conv, err := s.mailbox.Conversation(ctx, id)
	return conv, mailboxError(err)
}

// AddConversation returns the conversation with participants, creating it
// if needed.
func (s *Session) AddConversation(ctx context.Context, participants []domain.Participant) (domain.ConversationID, error) {
	others := s.others(participants)
	if len(others) == 0 {
		return 0, &engine.LocalError{Kind: engine.LocalUnknown, Err: errors.New("conversation needs another participant")}
	}
	for _, p := range others {
		if !s.client.ValidateAddress(p.Address) {
			return 0, &engine.LocalError{Kind: engine.LocalUnknown, Err: fmt.Errorf("invalid address %q", p.Address)}
		}
	}
	id, created, err := s.mailbox.FindOrCreateConversation(ctx, others)
	if err != nil {
		return 0, mailboxError(err)
	}
	if created {
		s.emit(conversationEvent("conversation_added", id))
	}
	return id, nil
}

// RemoveConversation deletes a conversation.
func (s *Session) RemoveConversation(ctx context.Context, id domain.ConversationID) error {
	if err := s.mailbox.RemoveConversation(ctx, id); err != nil {
		return mailboxError(err)
	}
	s.emit(conversationEvent("conversation_removed", id))
	return nil
}

// TotalUnreadCount returns the number of unread messages.
func (s *Session) TotalUnreadCount(ctx context.Context) (int, error) {
	n, err := s.mailbox.TotalUnreadCount(ctx)
	return n, mailboxError(err)
}

// Messages lists the messages of a conversation, oldest first.
func (s *Session) Messages(ctx context.Context, conv domain.ConversationID) ([]domain.Message, error) {
	msgs, err := s.mailbox.Messages(ctx, conv)
	return msgs, mailboxError(err)
}

// Message returns one message.
func (s *Session) Message(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	msg, err := s.mailbox.Message(ctx, id)
	return msg, mailboxError(err)
}

// MarkRead marks a message as read.
func (s *Session) MarkRead(ctx context.Context, id domain.MessageID) error {
	msg, err := s.mailbox.Message(ctx, id)
	if err != nil {
		return mailboxError(err)
	}
	if msg.Read {
		return nil
	}
	if err := s.mailbox.MarkRead(ctx, id); err != nil {
		return mailboxError(err)
	}
	s.emit(
		messageEvent("message_state_changed", msg.ConversationID, id),
		conversationEvent("conversation_changed", msg.ConversationID),
	)
	return nil
}

// RemoveMessage deletes a message.
func (s *Session) RemoveMessage(ctx context.Context, id domain.MessageID) error {
	conv, err := s.mailbox.RemoveMessage(ctx, id)
	if err != nil {
		return mailboxError(err)
	}
	s.emit(
		messageEvent("message_removed", conv, id),
		conversationEvent("conversation_changed", conv),
	)
	return nil
}

// SaveMessageAttachment writes a downloaded attachment body to destPath.
func (s *Session) SaveMessageAttachment(ctx context.Context, id domain.MessageID, index int, destPath string) error {
	data, err := s.mailbox.AttachmentData(ctx, id, index)
	if err != nil {
		return mailboxError(err)
	}
	return writeExport(ctx, destPath, data)
}

// Draft returns the draft of a conversation.
func (s *Session) Draft(ctx context.Context, conv domain.ConversationID) (domain.Draft, error) {
	d, err := s.mailbox.Draft(ctx, conv)
	return d, mailboxError(err)
}

// SetDraftText replaces the draft text. Editing a failed draft makes it
// editable again.
func (s *Session) SetDraftText(ctx context.Context, conv domain.ConversationID, text string) error {
	d, err := s.mailbox.Draft(ctx, conv)
	if err != nil {
		return mailboxError(err)
	}
	if err := s.mailbox.SetDraftText(ctx, conv, text); err != nil {
		return mailboxError(err)
	}
	events := []domain.Event{conversationEvent("draft_text_changed", conv)}
	if d.State == domain.DraftSendFailed {
		if err := s.mailbox.SetDraftState(ctx, conv, domain.DraftEditing); err != nil {
			return mailboxError(err)
		}
		events = append(events, conversationEvent("draft_state_changed", conv))
	}
	s.emit(events...)
	return nil
}

// PrepareToSend hands the draft over to the next sync.
func (s *Session) PrepareToSend(ctx context.Context, conv domain.ConversationID) error {
	d, err := s.mailbox.Draft(ctx, conv)
	if err != nil {
		return mailboxError(err)
	}
	if d.IsEmpty() {
		return &engine.LocalError{Kind: engine.LocalUnknown, Err: errors.New("draft is empty")}
	}
	if err := s.mailbox.SetDraftState(ctx, conv, domain.DraftReadyToSend); err != nil {
		return mailboxError(err)
	}
	s.emit(conversationEvent("draft_state_changed", conv))
	return nil
}

// ClearDraft empties the draft of a conversation.
func (s *Session) ClearDraft(ctx context.Context, conv domain.ConversationID) error {
	if err := s.mailbox.ClearDraft(ctx, conv); err != nil {
		return mailboxError(err)
	}
	s.emit(
		conversationEvent("draft_text_changed", conv),
		conversationEvent("draft_attachments_changed", conv),
		conversationEvent("draft_state_changed", conv),
	)
	return nil
}

// AddDraftAttachment copies the file at srcPath into the draft.
func (s *Session) AddDraftAttachment(ctx context.Context, conv domain.ConversationID, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}
	if info.IsDir() {
		return &engine.LocalError{Kind: engine.LocalFilesystem, Err: fmt.Errorf("%s is a directory", srcPath)}
	}
	if info.Size() > s.client.maxAttachmentSize {
		return &engine.LocalError{
			Kind: engine.LocalFileTooBig,
			Err:  fmt.Errorf("%s is %d bytes, limit is %d", filepath.Base(srcPath), info.Size(), s.client.maxAttachmentSize),
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}
	if err := s.mailbox.AddDraftAttachment(ctx, conv, filepath.Base(srcPath), data); err != nil {
		return mailboxError(err)
	}
	s.emit(conversationEvent("draft_attachments_changed", conv))
	return nil
}

// RemoveDraftAttachment removes the attachment at index from the draft.
func (s *Session) RemoveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int) error {
	if err := s.mailbox.RemoveDraftAttachment(ctx, conv, index); err != nil {
		return mailboxError(err)
	}
	s.emit(conversationEvent("draft_attachments_changed", conv))
	return nil
}

// SaveDraftAttachment writes a draft attachment to destPath.
func (s *Session) SaveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int, destPath string) error {
	att, err := s.mailbox.DraftAttachmentData(ctx, conv, index)
	if err != nil {
		return mailboxError(err)
	}
	return writeExport(ctx, destPath, att.Data)
}

// UserSettings returns the profile of the session owner.
func (s *Session) UserSettings(ctx context.Context) (domain.UserSettings, error) {
	settings, err := s.mailbox.UserSettings(ctx)
	return settings, mailboxError(err)
}

// UpdateUserSettings replaces the profile of the session owner.
func (s *Session) UpdateUserSettings(ctx context.Context, settings domain.UserSettings) error {
	return mailboxError(s.mailbox.UpdateUserSettings(ctx, settings))
}

// RegisterPushToken records token for the session owner.
func (s *Session) RegisterPushToken(ctx context.Context, token string) error {
	if err := s.client.directory.AddPushToken(ctx, s.address, token); err != nil {
		return directoryError(ctx, err)
	}
	return nil
}

// UnregisterPushToken withdraws token for the session owner.
func (s *Session) UnregisterPushToken(ctx context.Context, token string) error {
	if err := s.client.directory.RemovePushToken(ctx, s.address, token); err != nil {
		return directoryError(ctx, err)
	}
	return nil
}

// Close stops the spool watcher and the syncer, then closes the mailbox.
// Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("[ENGINE] Failed to close spool watcher", "error", err)
		}
		s.syncer.Cancel()
		s.syncer.Wait()
		s.closeErr = s.mailbox.Close()
		s.logger.Info("[ENGINE] Session closed")
	})
	return s.closeErr
}

// writeExport writes data to destPath through a temporary file.
func writeExport(ctx context.Context, destPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp := destPath + ".part"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}
	return nil
}
