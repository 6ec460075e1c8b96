// Package domain contains core domain types for the sealbox client.
package domain

import (
	"strconv"
	"time"
)

// ConversationID identifies a conversation in the local message store.
type ConversationID int64

func (id ConversationID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MessageID identifies a message in the local message store.
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Participant is one party of a conversation.
type Participant struct {
	Address      string `json:"address"`
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// DisplayName returns the participant's name, or the address when no name is known.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

// Conversation is a thread of messages with a fixed set of participants.
type Conversation struct {
	ID              ConversationID `json:"id"`
	Participants    []Participant  `json:"participants"`
	UnreadCount     int            `json:"unread_count"`
	LatestMessageAt time.Time      `json:"latest_message_at"`
}

// HasUnread returns true if at least one message in the conversation is unread.
func (c *Conversation) HasUnread() bool {
	return c.UnreadCount > 0
}

// DeliveryState tracks a sent message on its way to the recipients.
type DeliveryState int

const (
	// DeliveryUnknown is the state of received messages.
	DeliveryUnknown DeliveryState = iota
	// DeliveryPending means the message is queued for upload.
	DeliveryPending
	// DeliverySent means the message left this device.
	DeliverySent
	// DeliveryDelivered means every recipient has received the message.
	DeliveryDelivered
	// DeliveryFailed means at least one recipient could not be reached.
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageState is the verification state of a message.
type MessageState int

const (
	// MessageStateUnverified is the state before the signature was checked.
	MessageStateUnverified MessageState = iota
	// MessageStateVerified means the sender's signature checked out.
	MessageStateVerified
	// MessageStateInvalid means the signature check failed.
	MessageStateInvalid
)

func (s MessageState) String() string {
	switch s {
	case MessageStateVerified:
		return "verified"
	case MessageStateInvalid:
		return "invalid"
	default:
		return "unverified"
	}
}

// Attachment describes one file attached to a message or a draft.
type Attachment struct {
	Index      int    `json:"index"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Downloaded bool   `json:"downloaded"`
}

// Message is a single message in a conversation.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Sender         Participant    `json:"sender"`
	Outgoing       bool           `json:"outgoing"`
	Text           string         `json:"text"`
	Footer         string         `json:"footer,omitempty"`
	Imprint        string         `json:"imprint,omitempty"`
	Read           bool           `json:"read"`
	Delivery       DeliveryState  `json:"delivery"`
	State          MessageState   `json:"state"`
	SentAt         time.Time      `json:"sent_at"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
}

// AttachmentsDownloaded returns true if every attachment body is available locally.
func (m *Message) AttachmentsDownloaded() bool {
	for _, a := range m.Attachments {
		if !a.Downloaded {
			return false
		}
	}
	return true
}
