package enginetest

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
)

// ErrNotFound is returned for unknown conversations and messages.
var ErrNotFound = errors.New("not found")

// Session is a fake engine.Session backed by maps.
type Session struct {
	address   string
	storePath string
	listener  engine.Listener
	syncer    *Syncer

	mu            sync.Mutex
	conversations map[domain.ConversationID]domain.Conversation
	messages      map[domain.MessageID]domain.Message
	drafts        map[domain.ConversationID]domain.Draft
	settings      domain.UserSettings
	pushTokens    []string
	unregistered  []string
	closed        int
	nextID        int64
	gates         map[string]*Gate
	errs          map[string]error
}

var _ engine.Session = (*Session)(nil)

// NewSession returns an empty fake session.
func NewSession(address, storePath string, listener engine.Listener) *Session {
	return &Session{
		address:       address,
		storePath:     storePath,
		listener:      listener,
		syncer:        &Syncer{},
		conversations: make(map[domain.ConversationID]domain.Conversation),
		messages:      make(map[domain.MessageID]domain.Message),
		drafts:        make(map[domain.ConversationID]domain.Draft),
		gates:         make(map[string]*Gate),
		errs:          make(map[string]error),
	}
}

// Listener returns the listener the session was created with.
func (s *Session) Listener() engine.Listener { return s.listener }

// StorePath returns the local store path the session was created with.
func (s *Session) StorePath() string { return s.storePath }

// FakeSyncer returns the session's syncer with its test helpers.
func (s *Session) FakeSyncer() *Syncer { return s.syncer }

// Hold makes the named call block on a new gate, which is returned.
func (s *Session) Hold(call string) *Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := NewGate()
	s.gates[call] = g
	return g
}

// Fail makes the named call return err.
func (s *Session) Fail(call string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[call] = err
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PushTokens returns the tokens registered so far.
func (s *Session) PushTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pushTokens...)
}

// UnregisteredPushTokens returns the tokens unregistered so far.
func (s *Session) UnregisteredPushTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unregistered...)
}

// PutConversation stores conv as is.
func (s *Session) PutConversation(conv domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
}

// PutMessage stores msg as is.
func (s *Session) PutMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
}

func (s *Session) enter(ctx context.Context, call string) error {
	s.mu.Lock()
	g := s.gates[call]
	err := s.errs[call]
	s.mu.Unlock()

	if g != nil {
		if werr := g.wait(ctx); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Session) Address() string { return s.address }

func (s *Session) Syncer() engine.Syncer { return s.syncer }

func (s *Session) TranslateEvent(raw engine.RawEvent) ([]domain.Event, error) {
	return decodeEvents(raw)
}

func (s *Session) RegisterPushToken(ctx context.Context, token string) error {
	if err := s.enter(ctx, "RegisterPushToken"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushTokens = append(s.pushTokens, token)
	return nil
}

func (s *Session) UnregisterPushToken(ctx context.Context, token string) error {
	if err := s.enter(ctx, "UnregisterPushToken"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregistered = append(s.unregistered, token)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *Session) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (s *Session) Conversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *Session) AddConversation(ctx context.Context, participants []domain.Participant) (domain.ConversationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := domain.ConversationID(s.nextID)
	s.conversations[id] = domain.Conversation{ID: id, Participants: participants}
	return id, nil
}

func (s *Session) RemoveConversation(ctx context.Context, id domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *Session) TotalUnreadCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total, nil
}

func (s *Session) Messages(ctx context.Context, conv domain.ConversationID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conv {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Session) Message(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	return m, nil
}

func (s *Session) MarkRead(ctx context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Read = true
	s.messages[id] = m
	return nil
}

func (s *Session) RemoveMessage(ctx context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *Session) SaveMessageAttachment(ctx context.Context, id domain.MessageID, index int, destPath string) error {
	if err := s.enter(ctx, "SaveMessageAttachment"); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("attachment"), 0o600)
}

func (s *Session) Draft(ctx context.Context, conv domain.ConversationID) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[conv]
	if !ok {
		return domain.Draft{ConversationID: conv}, nil
	}
	return d, nil
}

func (s *Session) SetDraftText(ctx context.Context, conv domain.ConversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drafts[conv]
	d.ConversationID = conv
	d.Text = text
	s.drafts[conv] = d
	return nil
}

func (s *Session) PrepareToSend(ctx context.Context, conv domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drafts[conv]
	d.ConversationID = conv
	d.State = domain.DraftReadyToSend
	s.drafts[conv] = d
	return nil
}

func (s *Session) ClearDraft(ctx context.Context, conv domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, conv)
	return nil
}

func (s *Session) AddDraftAttachment(ctx context.Context, conv domain.ConversationID, srcPath string) error {
	if err := s.enter(ctx, "AddDraftAttachment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drafts[conv]
	d.ConversationID = conv
	d.Attachments = append(d.Attachments, domain.Attachment{Index: len(d.Attachments), Filename: srcPath})
	s.drafts[conv] = d
	return nil
}

func (s *Session) RemoveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drafts[conv]
	if index < 0 || index >= len(d.Attachments) {
		return ErrNotFound
	}
	d.Attachments = append(d.Attachments[:index], d.Attachments[index+1:]...)
	s.drafts[conv] = d
	return nil
}

func (s *Session) SaveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int, destPath string) error {
	if err := s.enter(ctx, "SaveDraftAttachment"); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("draft attachment"), 0o600)
}

func (s *Session) UserSettings(ctx context.Context) (domain.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *Session) UpdateUserSettings(ctx context.Context, settings domain.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}
