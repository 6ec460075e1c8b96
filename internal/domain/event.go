package domain

// Event is a decoded notification about a change in the message store.
// The set of events is closed; observers switch over the concrete types.
type Event interface {
	// Kind is a stable name for the event, used on the wire.
	Kind() string
	// Conversation is the conversation the event belongs to.
	Conversation() ConversationID

	isEvent()
}

// MessageEvent is implemented by events that concern a single message.
type MessageEvent interface {
	Event
	Message() MessageID
}

type conversationRef struct {
	ConversationID ConversationID `json:"conversation_id"`
}

func (r conversationRef) Conversation() ConversationID { return r.ConversationID }

type messageRef struct {
	ConversationID ConversationID `json:"conversation_id"`
	MessageID      MessageID      `json:"message_id"`
}

func (r messageRef) Conversation() ConversationID { return r.ConversationID }
func (r messageRef) Message() MessageID           { return r.MessageID }

// ConversationAdded reports a new conversation.
type ConversationAdded struct{ conversationRef }

// ConversationChanged reports changed participants, unread count or ordering.
type ConversationChanged struct{ conversationRef }

// ConversationRemoved reports a deleted conversation.
type ConversationRemoved struct{ conversationRef }

// DraftStateChanged reports a draft moving through its lifecycle.
type DraftStateChanged struct{ conversationRef }

// DraftTextChanged reports new draft text.
type DraftTextChanged struct{ conversationRef }

// DraftAttachmentsChanged reports an attachment added to or removed from a draft.
type DraftAttachmentsChanged struct{ conversationRef }

// MessageAdded reports a new message.
type MessageAdded struct{ messageRef }

// MessageDeliveryChanged reports a new delivery state for an outgoing message.
type MessageDeliveryChanged struct{ messageRef }

// MessageStateChanged reports a new verification state.
type MessageStateChanged struct{ messageRef }

// MessageAttachmentsDownloadedChanged reports attachment bodies becoming available.
type MessageAttachmentsDownloadedChanged struct{ messageRef }

// MessageRemoved reports a deleted message.
type MessageRemoved struct{ messageRef }

func (ConversationAdded) Kind() string                   { return "conversation_added" }
func (ConversationChanged) Kind() string                 { return "conversation_changed" }
func (ConversationRemoved) Kind() string                 { return "conversation_removed" }
func (DraftStateChanged) Kind() string                   { return "draft_state_changed" }
func (DraftTextChanged) Kind() string                    { return "draft_text_changed" }
func (DraftAttachmentsChanged) Kind() string             { return "draft_attachments_changed" }
func (MessageAdded) Kind() string                        { return "message_added" }
func (MessageDeliveryChanged) Kind() string              { return "message_delivery_changed" }
func (MessageStateChanged) Kind() string                 { return "message_state_changed" }
func (MessageAttachmentsDownloadedChanged) Kind() string { return "message_attachments_downloaded_changed" }
func (MessageRemoved) Kind() string                      { return "message_removed" }

func (ConversationAdded) isEvent()                   {}
func (ConversationChanged) isEvent()                 {}
func (ConversationRemoved) isEvent()                 {}
func (DraftStateChanged) isEvent()                   {}
func (DraftTextChanged) isEvent()                    {}
func (DraftAttachmentsChanged) isEvent()             {}
func (MessageAdded) isEvent()                        {}
func (MessageDeliveryChanged) isEvent()              {}
func (MessageStateChanged) isEvent()                 {}
func (MessageAttachmentsDownloadedChanged) isEvent() {}
func (MessageRemoved) isEvent()                      {}

// NewConversationEvent builds the conversation-scoped event named by kind.
// It returns nil for unknown kinds and for message-scoped kinds.
func NewConversationEvent(kind string, conv ConversationID) Event {
	ref := conversationRef{ConversationID: conv}
	switch kind {
	case ConversationAdded{}.Kind():
		return ConversationAdded{ref}
	case ConversationChanged{}.Kind():
		return ConversationChanged{ref}
	case ConversationRemoved{}.Kind():
		return ConversationRemoved{ref}
	case DraftStateChanged{}.Kind():
		return DraftStateChanged{ref}
	case DraftTextChanged{}.Kind():
		return DraftTextChanged{ref}
	case DraftAttachmentsChanged{}.Kind():
		return DraftAttachmentsChanged{ref}
	}
	return nil
}

// NewMessageEvent builds the message-scoped event named by kind.
// It returns nil for unknown kinds and for conversation-scoped kinds.
func NewMessageEvent(kind string, conv ConversationID, msg MessageID) Event {
	ref := messageRef{ConversationID: conv, MessageID: msg}
	switch kind {
	case MessageAdded{}.Kind():
		return MessageAdded{ref}
	case MessageDeliveryChanged{}.Kind():
		return MessageDeliveryChanged{ref}
	case MessageStateChanged{}.Kind():
		return MessageStateChanged{ref}
	case MessageAttachmentsDownloadedChanged{}.Kind():
		return MessageAttachmentsDownloadedChanged{ref}
	case MessageRemoved{}.Kind():
		return MessageRemoved{ref}
	}
	return nil
}
