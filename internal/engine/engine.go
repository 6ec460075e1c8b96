// Package engine defines the boundary to the messaging engine: account
// operations that need no session, the per-user session, and the callbacks a
// session reports through.
package engine

import (
	"context"
	"time"

	"github.com/ashureev/sealbox/internal/domain"
)

// RawEvent is an undecoded store notification. Only the session that
// produced it can translate it.
type RawEvent []byte

// Client starts the operations that do not require a session.
// Every blocking method honours ctx cancellation.
type Client interface {
	// ValidateAddress reports whether address is syntactically valid.
	ValidateAddress(address string) bool

	// ValidateMasterKeyBlock reports whether block is a well-formed master key block.
	ValidateMasterKeyBlock(block string) bool

	// GenerateKeys creates a new master key.
	GenerateKeys(ctx context.Context) (domain.MasterKey, error)

	// RegisterAccount creates the account described by reg.
	RegisterAccount(ctx context.Context, reg domain.Registration) error

	// CheckCredentials verifies creds against the account directory.
	CheckCredentials(ctx context.Context, creds domain.Credentials) error

	// AddressExists reports whether an account with the address exists.
	AddressExists(ctx context.Context, address string) (bool, error)

	// CreateSession opens the session for creds, keeping local state in the
	// database at storePath. The session reports through listener.
	CreateSession(ctx context.Context, creds domain.Credentials, storePath string, listener Listener) (Session, error)
}

// Listener receives the notifications of one session. Calls may arrive on
// any goroutine and must not block.
type Listener interface {
	// EventReceived delivers a raw store notification.
	EventReceived(raw RawEvent)
	// SyncStarted reports that the syncer started working.
	SyncStarted()
	// SyncProgressed reports a new progress snapshot.
	SyncProgressed(progress domain.SyncProgress)
	// SyncFinished reports a successful end of sync.
	SyncFinished()
	// SyncFailed reports an aborted sync.
	SyncFailed(err error)
	// DraftAttachmentsTooBig warns that a draft cannot be sent because its
	// attachments exceed maxSize.
	DraftAttachmentsTooBig(conv domain.ConversationID, part int, currentSize, maxSize int64)
	// PushReceived reports that new data is waiting on the transport.
	PushReceived()
}

// Syncer transfers messages between the local store and the transport.
type Syncer interface {
	// RequestSync starts a sync, or marks one as wanted if a sync is running.
	RequestSync(mode domain.SyncMode)
	// Cancel asks the running sync to stop. It does not block.
	Cancel()
	// Wait blocks until no sync is running.
	Wait()
	// LastFullSync returns the time of the last successful sync.
	LastFullSync() (time.Time, bool)
	// IsSyncing reports whether a sync is running.
	IsSyncing() bool
	// RequestAttachmentDownload fetches the body of one attachment during the next sync.
	RequestAttachmentDownload(msg domain.MessageID, index int)
}

// Conversations reads and edits the conversation list.
type Conversations interface {
	Conversations(ctx context.Context) ([]domain.Conversation, error)
	Conversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	AddConversation(ctx context.Context, participants []domain.Participant) (domain.ConversationID, error)
	RemoveConversation(ctx context.Context, id domain.ConversationID) error
	TotalUnreadCount(ctx context.Context) (int, error)
}

// Messages reads and edits messages.
type Messages interface {
	Messages(ctx context.Context, conv domain.ConversationID) ([]domain.Message, error)
	Message(ctx context.Context, id domain.MessageID) (domain.Message, error)
	MarkRead(ctx context.Context, id domain.MessageID) error
	RemoveMessage(ctx context.Context, id domain.MessageID) error
	SaveMessageAttachment(ctx context.Context, id domain.MessageID, index int, destPath string) error
}

// Drafts reads and edits the unsent message of each conversation.
type Drafts interface {
	Draft(ctx context.Context, conv domain.ConversationID) (domain.Draft, error)
	SetDraftText(ctx context.Context, conv domain.ConversationID, text string) error
	PrepareToSend(ctx context.Context, conv domain.ConversationID) error
	ClearDraft(ctx context.Context, conv domain.ConversationID) error
	AddDraftAttachment(ctx context.Context, conv domain.ConversationID, srcPath string) error
	RemoveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int) error
	SaveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int, destPath string) error
}

// Settings reads and edits the profile of the signed-in user.
type Settings interface {
	UserSettings(ctx context.Context) (domain.UserSettings, error)
	UpdateUserSettings(ctx context.Context, settings domain.UserSettings) error
}

// Session is the authenticated handle for one user.
type Session interface {
	Conversations
	Messages
	Drafts
	Settings

	// Address returns the address the session belongs to.
	Address() string

	// Syncer returns the session's syncer.
	Syncer() Syncer

	// TranslateEvent decodes raw into zero or more domain events, in the
	// order they should be delivered.
	TranslateEvent(raw RawEvent) ([]domain.Event, error)

	// RegisterPushToken asks the transport to notify the device behind token.
	RegisterPushToken(ctx context.Context, token string) error

	// UnregisterPushToken withdraws a token registered earlier.
	UnregisterPushToken(ctx context.Context, token string) error

	// Close releases the session. Idempotent.
	Close() error
}
