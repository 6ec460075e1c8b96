package coordinator

import (
	"context"
	"fmt"

	"github.com/ashureev/sealbox/internal/domain"
)

// The getters below return zero values when no session is active or the
// engine reports an error; errors are logged.

// Conversations returns every conversation of the signed-in user.
func (c *Coordinator) Conversations(ctx context.Context) []domain.Conversation {
	if c.session == nil {
		return nil
	}
	convs, err := c.session.handle.Conversations(ctx)
	if err != nil {
		c.logAccessError("conversations", err)
		return nil
	}
	return convs
}

// Conversation returns one conversation.
func (c *Coordinator) Conversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, bool) {
	if c.session == nil {
		return domain.Conversation{}, false
	}
	conv, err := c.session.handle.Conversation(ctx, id)
	if err != nil {
		c.logAccessError("conversation", err)
		return domain.Conversation{}, false
	}
	return conv, true
}

// TotalUnreadCount returns the number of unread messages over all conversations.
func (c *Coordinator) TotalUnreadCount(ctx context.Context) int {
	if c.session == nil {
		return 0
	}
	n, err := c.session.handle.TotalUnreadCount(ctx)
	if err != nil {
		c.logAccessError("unread count", err)
		return 0
	}
	return n
}

// Messages returns the messages of conv.
func (c *Coordinator) Messages(ctx context.Context, conv domain.ConversationID) []domain.Message {
	if c.session == nil {
		return nil
	}
	msgs, err := c.session.handle.Messages(ctx, conv)
	if err != nil {
		c.logAccessError("messages", err)
		return nil
	}
	return msgs
}

// Message returns one message.
func (c *Coordinator) Message(ctx context.Context, id domain.MessageID) (domain.Message, bool) {
	if c.session == nil {
		return domain.Message{}, false
	}
	msg, err := c.session.handle.Message(ctx, id)
	if err != nil {
		c.logAccessError("message", err)
		return domain.Message{}, false
	}
	return msg, true
}

// Draft returns the draft of conv.
func (c *Coordinator) Draft(ctx context.Context, conv domain.ConversationID) domain.Draft {
	if c.session == nil {
		return domain.Draft{ConversationID: conv}
	}
	d, err := c.session.handle.Draft(ctx, conv)
	if err != nil {
		c.logAccessError("draft", err)
		return domain.Draft{ConversationID: conv}
	}
	return d
}

// UserSettings returns the profile of the signed-in user.
func (c *Coordinator) UserSettings(ctx context.Context) domain.UserSettings {
	if c.session == nil {
		return domain.UserSettings{}
	}
	s, err := c.session.handle.UserSettings(ctx)
	if err != nil {
		c.logAccessError("settings", err)
		return domain.UserSettings{}
	}
	return s
}

func (c *Coordinator) logAccessError(what string, err error) {
	c.logger.Warn("[COORDINATOR] Engine read failed",
		"what", what,
		"address", c.Address(),
		"error", err,
	)
}

// AddConversation starts a conversation with participants.
func (c *Coordinator) AddConversation(ctx context.Context, participants []domain.Participant) (domain.ConversationID, error) {
	if c.session == nil {
		return 0, ErrNoSession
	}
	id, err := c.session.handle.AddConversation(ctx, participants)
	if err != nil {
		return 0, fmt.Errorf("add conversation: %w", err)
	}
	return id, nil
}

// RemoveConversation deletes conv and its messages.
func (c *Coordinator) RemoveConversation(ctx context.Context, conv domain.ConversationID) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.RemoveConversation(ctx, conv); err != nil {
		return fmt.Errorf("remove conversation %d: %w", conv, err)
	}
	return nil
}

// MarkRead marks msg as read.
func (c *Coordinator) MarkRead(ctx context.Context, msg domain.MessageID) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.MarkRead(ctx, msg); err != nil {
		return fmt.Errorf("mark message %d read: %w", msg, err)
	}
	return nil
}

// RemoveMessage deletes msg.
func (c *Coordinator) RemoveMessage(ctx context.Context, msg domain.MessageID) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.RemoveMessage(ctx, msg); err != nil {
		return fmt.Errorf("remove message %d: %w", msg, err)
	}
	return nil
}

// SaveDraft stores text as the draft of conv.
func (c *Coordinator) SaveDraft(ctx context.Context, conv domain.ConversationID, text string) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.SetDraftText(ctx, conv, text); err != nil {
		return fmt.Errorf("save draft %d: %w", conv, err)
	}
	return nil
}

// ClearDraft discards the draft of conv.
func (c *Coordinator) ClearDraft(ctx context.Context, conv domain.ConversationID) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.ClearDraft(ctx, conv); err != nil {
		return fmt.Errorf("clear draft %d: %w", conv, err)
	}
	return nil
}

// RemoveDraftAttachment drops attachment index from the draft of conv.
func (c *Coordinator) RemoveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.RemoveDraftAttachment(ctx, conv, index); err != nil {
		return fmt.Errorf("remove draft attachment %d/%d: %w", conv, index, err)
	}
	return nil
}

// PrepareDraftToSend hands the draft of conv to the syncer and requests a sync.
func (c *Coordinator) PrepareDraftToSend(ctx context.Context, conv domain.ConversationID) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.PrepareToSend(ctx, conv); err != nil {
		return fmt.Errorf("prepare draft %d: %w", conv, err)
	}
	c.RequestSync(domain.SyncWithoutAttachments)
	return nil
}

// UpdateUserSettings stores the profile of the signed-in user.
func (c *Coordinator) UpdateUserSettings(ctx context.Context, settings domain.UserSettings) error {
	if c.session == nil {
		return ErrNoSession
	}
	if err := c.session.handle.UpdateUserSettings(ctx, settings); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
