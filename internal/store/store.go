// Package store provides the SQLite persistence used by the local engine:
// the account directory shared by every user of a data directory, and the
// per-user mailbox.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/sealbox/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when inserting a row whose key is taken.
var ErrExists = errors.New("already exists")

// Account is one entry of the account directory.
type Account struct {
	Address      string
	Name         string
	Organization string
	Salt         []byte
	Verifier     []byte
	CreatedAt    time.Time
}

// Directory persists accounts and their push tokens.
type Directory interface {
	// CreateAccount inserts acct. It returns ErrExists if the address is taken.
	CreateAccount(ctx context.Context, acct *Account) error

	// GetAccount returns the account for address or ErrNotFound.
	GetAccount(ctx context.Context, address string) (*Account, error)

	// AddPushToken registers token for address.
	AddPushToken(ctx context.Context, address, token string) error

	// RemovePushToken withdraws token for address.
	RemovePushToken(ctx context.Context, address, token string) error

	// PushTokens lists the tokens registered for address.
	PushTokens(ctx context.Context, address string) ([]string, error)

	// Close closes the database connection.
	Close() error
}

// IncomingAttachment describes an attachment of an imported message whose
// body is still in the spool.
type IncomingAttachment struct {
	Filename string
	Size     int64
	BlobRef  string
}

// IncomingMessage is a message read from the spool.
type IncomingMessage struct {
	EnvelopeID   string
	Participants []domain.Participant
	Sender       domain.Participant
	Text         string
	Footer       string
	Imprint      string
	SentAt       time.Time
	Attachments  []IncomingAttachment
}

// OutgoingMessage is a sent draft recorded in the sender's mailbox.
type OutgoingMessage struct {
	EnvelopeID     string
	ConversationID domain.ConversationID
	Sender         domain.Participant
	Text           string
	Footer         string
	Delivery       domain.DeliveryState
	SentAt         time.Time
	Attachments    []DraftAttachmentData
}

// DraftAttachmentData is a draft attachment with its body.
type DraftAttachmentData struct {
	Filename string
	Data     []byte
}

// PendingDownload is an attachment whose body has not been fetched.
type PendingDownload struct {
	MessageID      domain.MessageID
	ConversationID domain.ConversationID
	Index          int
	Size           int64
	BlobRef        string
}

// Mailbox persists one user's conversations, messages, drafts and settings.
type Mailbox interface {
	Conversations(ctx context.Context) ([]domain.Conversation, error)
	Conversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	// FindOrCreateConversation returns the conversation with exactly these
	// participants, creating it if needed. created reports a new conversation.
	FindOrCreateConversation(ctx context.Context, participants []domain.Participant) (id domain.ConversationID, created bool, err error)
	RemoveConversation(ctx context.Context, id domain.ConversationID) error
	TotalUnreadCount(ctx context.Context) (int, error)

	Messages(ctx context.Context, conv domain.ConversationID) ([]domain.Message, error)
	Message(ctx context.Context, id domain.MessageID) (domain.Message, error)
	MarkRead(ctx context.Context, id domain.MessageID) error
	RemoveMessage(ctx context.Context, id domain.MessageID) (domain.ConversationID, error)
	// ImportMessage stores an incoming message. Importing the same envelope
	// twice returns ErrExists.
	ImportMessage(ctx context.Context, msg *IncomingMessage) (domain.ConversationID, domain.MessageID, bool, error)
	// AddOutgoingMessage stores a sent draft.
	AddOutgoingMessage(ctx context.Context, msg *OutgoingMessage) (domain.MessageID, error)
	// AttachmentData returns the decompressed body of a downloaded attachment.
	AttachmentData(ctx context.Context, id domain.MessageID, index int) ([]byte, error)
	// StoreAttachmentData stores the body of an attachment and marks it downloaded.
	StoreAttachmentData(ctx context.Context, id domain.MessageID, index int, data []byte) error
	// PendingDownloads lists attachments whose bodies are still in the spool.
	PendingDownloads(ctx context.Context) ([]PendingDownload, error)

	Draft(ctx context.Context, conv domain.ConversationID) (domain.Draft, error)
	SetDraftText(ctx context.Context, conv domain.ConversationID, text string) error
	SetDraftState(ctx context.Context, conv domain.ConversationID, state domain.DraftState) error
	ClearDraft(ctx context.Context, conv domain.ConversationID) error
	ReadyDrafts(ctx context.Context) ([]domain.Draft, error)
	AddDraftAttachment(ctx context.Context, conv domain.ConversationID, filename string, data []byte) error
	RemoveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int) error
	DraftAttachmentData(ctx context.Context, conv domain.ConversationID, index int) (DraftAttachmentData, error)

	UserSettings(ctx context.Context) (domain.UserSettings, error)
	UpdateUserSettings(ctx context.Context, settings domain.UserSettings) error
	LastFullSync(ctx context.Context) (time.Time, bool, error)
	SetLastFullSync(ctx context.Context, t time.Time) error

	Close() error
}
