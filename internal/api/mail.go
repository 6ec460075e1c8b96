package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/store"
)

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v < 0 {
		Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func conversationID(w http.ResponseWriter, r *http.Request) (domain.ConversationID, bool) {
	id, ok := pathInt(w, r, "id")
	return domain.ConversationID(id), ok
}

func messageID(w http.ResponseWriter, r *http.Request) (domain.MessageID, bool) {
	id, ok := pathInt(w, r, "id")
	return domain.MessageID(id), ok
}

func attachmentIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, ok := pathInt(w, r, "index")
	return int(index), ok
}

type syncResponse struct {
	Syncing      bool                `json:"syncing"`
	Deferred     bool                `json:"deferred"`
	Progress     domain.SyncProgress `json:"progress"`
	LastFullSync *time.Time          `json:"last_full_sync,omitempty"`
}

// GetSync returns the sync state.
func (s *Server) GetSync(w http.ResponseWriter, r *http.Request) {
	var resp syncResponse
	err := s.do(r.Context(), func() {
		resp = syncResponse{
			Syncing:      s.coord.IsSyncing(),
			Deferred:     s.coord.SyncDeferredPending(),
			Progress:     s.coord.SyncProgress(),
			LastFullSync: timeOrNil(s.coord.LastFullSync()),
		}
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// RequestSync starts a sync. With "wait" set the response is sent when the
// sync ends.
func (s *Server) RequestSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
		Wait bool   `json:"wait"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	mode := domain.SyncWithoutAttachments
	switch req.Mode {
	case "", domain.SyncWithoutAttachments.String():
	case domain.SyncWithAttachments.String():
		mode = domain.SyncWithAttachments
	default:
		Error(w, http.StatusBadRequest, "unknown sync mode")
		return
	}

	if req.Wait {
		err := s.await(r.Context(), func(done func(error)) {
			s.coord.RequestSyncWithCompletion(mode, done)
		})
		deferred := errors.Is(err, coordinator.ErrSyncDeferred)
		if err != nil && !deferred {
			s.fail(w, r, err)
			return
		}
		status := coordinator.SyncRequested
		if deferred {
			status = coordinator.SyncDeferred
		}
		JSON(w, http.StatusOK, map[string]string{"status": status.String()})
		return
	}

	var status coordinator.SyncStatus
	if err := s.do(r.Context(), func() { status = s.coord.RequestSync(mode) }); err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": status.String()})
}

// ListConversations returns every conversation with the total unread count.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	var convs []domain.Conversation
	var unread int
	err := s.do(r.Context(), func() {
		convs = s.coord.Conversations(r.Context())
		unread = s.coord.TotalUnreadCount(r.Context())
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversations": convs, "unread": unread})
}

// AddConversation opens the conversation with the given participants.
func (s *Server) AddConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participants []domain.Participant `json:"participants"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Participants) == 0 {
		Error(w, http.StatusBadRequest, "participants are required")
		return
	}

	var id domain.ConversationID
	var err error
	if doErr := s.do(r.Context(), func() { id, err = s.coord.AddConversation(r.Context(), req.Participants) }); doErr != nil {
		s.fail(w, r, doErr)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// RemoveConversation deletes a conversation.
func (s *Server) RemoveConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.RemoveConversation(r.Context(), id) })
}

// ListMessages returns the messages of a conversation.
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var msgs []domain.Message
	if err := s.do(r.Context(), func() { msgs = s.coord.Messages(r.Context(), id) }); err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// GetMessage returns one message.
func (s *Server) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	var msg domain.Message
	var found bool
	if err := s.do(r.Context(), func() { msg, found = s.coord.Message(r.Context(), id) }); err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		s.fail(w, r, store.ErrNotFound)
		return
	}
	JSON(w, http.StatusOK, msg)
}

// RemoveMessage deletes a message.
func (s *Server) RemoveMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.RemoveMessage(r.Context(), id) })
}

// MarkRead marks a message as read.
func (s *Server) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.MarkRead(r.Context(), id) })
}

// DownloadAttachment fetches an attachment body with the next sync.
func (s *Server) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	index, ok := attachmentIndex(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.RequestAttachmentDownload(id, index) })
}

type saveRequest struct {
	Dest string `json:"dest"`
}

// SaveMessageAttachment exports an attachment body to a local path.
func (s *Server) SaveMessageAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	index, ok := attachmentIndex(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Dest == "" {
		Error(w, http.StatusBadRequest, "dest is required")
		return
	}
	s.awaitNoContent(w, r, func(done func(error)) {
		s.coord.SaveMessageAttachment(id, index, req.Dest, done)
	})
}

// GetDraft returns the draft of a conversation.
func (s *Server) GetDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var draft domain.Draft
	if err := s.do(r.Context(), func() { draft = s.coord.Draft(r.Context(), id) }); err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, draft)
}

// SaveDraft replaces the draft text.
func (s *Server) SaveDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mutate(w, r, func() error { return s.coord.SaveDraft(r.Context(), id, req.Text) })
}

// ClearDraft empties the draft.
func (s *Server) ClearDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.ClearDraft(r.Context(), id) })
}

// SendDraft hands the draft over to the syncer and requests a sync.
func (s *Server) SendDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.PrepareDraftToSend(r.Context(), id) })
}

// AddDraftAttachment copies a local file into the draft.
func (s *Server) AddDraftAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		Error(w, http.StatusBadRequest, "path is required")
		return
	}
	s.awaitNoContent(w, r, func(done func(error)) {
		s.coord.AddAttachmentToDraft(id, req.Path, done)
	})
}

// RemoveDraftAttachment removes an attachment from the draft.
func (s *Server) RemoveDraftAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	index, ok := attachmentIndex(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, func() error { return s.coord.RemoveDraftAttachment(r.Context(), id, index) })
}

// SaveDraftAttachment exports a draft attachment to a local path.
func (s *Server) SaveDraftAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	index, ok := attachmentIndex(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Dest == "" {
		Error(w, http.StatusBadRequest, "dest is required")
		return
	}
	s.awaitNoContent(w, r, func(done func(error)) {
		s.coord.SaveDraftAttachment(id, index, req.Dest, done)
	})
}

// GetSettings returns the profile of the signed-in user.
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.UserSettings
	var hasSession bool
	err := s.do(r.Context(), func() {
		hasSession = s.coord.HasSession()
		settings = s.coord.UserSettings(r.Context())
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !hasSession {
		s.fail(w, r, coordinator.ErrNoSession)
		return
	}
	JSON(w, http.StatusOK, settings)
}

// UpdateSettings replaces the profile of the signed-in user.
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.UserSettings
	if !decodeBody(w, r, &settings) {
		return
	}
	s.mutate(w, r, func() error {
		current := s.coord.UserSettings(r.Context())
		settings.MasterKeyPEM = current.MasterKeyPEM
		return s.coord.UpdateUserSettings(r.Context(), settings)
	})
}

// mutate runs fn on the loop and answers 204 or the error.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func() error) {
	var err error
	if doErr := s.do(r.Context(), func() { err = fn() }); doErr != nil {
		s.fail(w, r, doErr)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) awaitNoContent(w http.ResponseWriter, r *http.Request, start func(done func(error))) {
	if err := s.await(r.Context(), start); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
