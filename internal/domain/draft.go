package domain

// DraftState is the lifecycle of the unsent message of a conversation.
type DraftState int

const (
	// DraftEditing is the state of a draft the user is still writing.
	DraftEditing DraftState = iota
	// DraftReadyToSend means the draft was handed over for the next sync.
	DraftReadyToSend
	// DraftSending means the draft is being uploaded.
	DraftSending
	// DraftSent means the draft was delivered and is about to be cleared.
	DraftSent
	// DraftSendFailed means the last upload attempt failed.
	DraftSendFailed
)

func (s DraftState) String() string {
	switch s {
	case DraftReadyToSend:
		return "ready"
	case DraftSending:
		return "sending"
	case DraftSent:
		return "sent"
	case DraftSendFailed:
		return "failed"
	default:
		return "editing"
	}
}

// Draft is the unsent message of a conversation.
type Draft struct {
	ConversationID ConversationID `json:"conversation_id"`
	Text           string         `json:"text"`
	State          DraftState     `json:"state"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
}

// IsEmpty returns true if the draft has neither text nor attachments.
func (d *Draft) IsEmpty() bool {
	return d.Text == "" && len(d.Attachments) == 0
}

// AttachmentsSize returns the total size of the draft's attachments in bytes.
func (d *Draft) AttachmentsSize() int64 {
	var total int64
	for _, a := range d.Attachments {
		total += a.Size
	}
	return total
}
