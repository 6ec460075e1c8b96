package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/sealbox/internal/domain"
)

func openTestDirectory(t *testing.T) *SQLiteDirectory {
	t.Helper()
	dir, err := OpenDirectory(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("OpenDirectory() error = %v", err)
	}
	t.Cleanup(func() { dir.Close() })
	return dir
}

func openTestMailbox(t *testing.T) *SQLiteMailbox {
	t.Helper()
	mb, err := OpenMailbox(filepath.Join(t.TempDir(), "users", "a.db"))
	if err != nil {
		t.Fatalf("OpenMailbox() error = %v", err)
	}
	t.Cleanup(func() { mb.Close() })
	return mb
}

func TestDirectoryAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDirectory(t)

	acct := &Account{
		Address:   "Alice@Example.org",
		Name:      "Alice",
		Salt:      []byte("salt"),
		Verifier:  []byte("verifier"),
		CreatedAt: time.Unix(1700000000, 0),
	}
	if err := d.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := d.CreateAccount(ctx, acct); !errors.Is(err, ErrExists) {
		t.Fatalf("second CreateAccount() error = %v, want ErrExists", err)
	}

	got, err := d.GetAccount(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Address != "alice@example.org" || got.Name != "Alice" || !bytes.Equal(got.Verifier, []byte("verifier")) {
		t.Errorf("GetAccount() = %+v", got)
	}

	if _, err := d.GetAccount(ctx, "bob@example.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccount(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDirectoryPushTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDirectory(t)

	if err := d.CreateAccount(ctx, &Account{Address: "a@x.org", Salt: []byte{1}, Verifier: []byte{2}}); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	for _, tok := range []string{"t1", "t1", "t2"} {
		if err := d.AddPushToken(ctx, "a@x.org", tok); err != nil {
			t.Fatalf("AddPushToken(%q) error = %v", tok, err)
		}
	}
	if err := d.RemovePushToken(ctx, "a@x.org", "t1"); err != nil {
		t.Fatalf("RemovePushToken() error = %v", err)
	}
	tokens, err := d.PushTokens(ctx, "a@x.org")
	if err != nil {
		t.Fatalf("PushTokens() error = %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "t2" {
		t.Errorf("PushTokens() = %v, want [t2]", tokens)
	}
}

func TestMailboxConversations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mb := openTestMailbox(t)

	bob := []domain.Participant{{Address: "bob@x.org", Name: "Bob"}}
	id, created, err := mb.FindOrCreateConversation(ctx, bob)
	if err != nil || !created {
		t.Fatalf("FindOrCreateConversation() = %v, %v, %v", id, created, err)
	}
	again, created, err := mb.FindOrCreateConversation(ctx, []domain.Participant{{Address: "BOB@x.org"}})
	if err != nil || created || again != id {
		t.Fatalf("FindOrCreateConversation(same) = %v, %v, %v; want %v, false", again, created, err, id)
	}

	convs, err := mb.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(convs) != 1 || len(convs[0].Participants) != 1 || convs[0].Participants[0].Name != "Bob" {
		t.Fatalf("Conversations() = %+v", convs)
	}

	if err := mb.RemoveConversation(ctx, id); err != nil {
		t.Fatalf("RemoveConversation() error = %v", err)
	}
	if _, err := mb.Conversation(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Conversation(removed) error = %v, want ErrNotFound", err)
	}
	if err := mb.RemoveConversation(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveConversation(removed) error = %v, want ErrNotFound", err)
	}
}

func TestMailboxImportMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mb := openTestMailbox(t)

	in := &IncomingMessage{
		EnvelopeID:   "env-1",
		Participants: []domain.Participant{{Address: "bob@x.org"}},
		Sender:       domain.Participant{Address: "bob@x.org", Name: "Bob"},
		Text:         "hello",
		SentAt:       time.Unix(1700000000, 0),
		Attachments:  []IncomingAttachment{{Filename: "a.txt", Size: 5, BlobRef: "env-1-0"}},
	}
	conv, msgID, created, err := mb.ImportMessage(ctx, in)
	if err != nil || !created {
		t.Fatalf("ImportMessage() = %v, %v, %v, %v", conv, msgID, created, err)
	}
	if _, _, _, err := mb.ImportMessage(ctx, in); !errors.Is(err, ErrExists) {
		t.Fatalf("ImportMessage(duplicate) error = %v, want ErrExists", err)
	}

	unread, err := mb.TotalUnreadCount(ctx)
	if err != nil || unread != 1 {
		t.Fatalf("TotalUnreadCount() = %d, %v; want 1", unread, err)
	}

	msg, err := mb.Message(ctx, msgID)
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if msg.Text != "hello" || msg.Outgoing || msg.AttachmentsDownloaded() {
		t.Errorf("Message() = %+v", msg)
	}

	pending, err := mb.PendingDownloads(ctx)
	if err != nil || len(pending) != 1 || pending[0].BlobRef != "env-1-0" {
		t.Fatalf("PendingDownloads() = %+v, %v", pending, err)
	}
	if _, err := mb.AttachmentData(ctx, msgID, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachmentData(not downloaded) error = %v, want ErrNotFound", err)
	}
	if err := mb.StoreAttachmentData(ctx, msgID, 0, []byte("hello")); err != nil {
		t.Fatalf("StoreAttachmentData() error = %v", err)
	}
	data, err := mb.AttachmentData(ctx, msgID, 0)
	if err != nil || string(data) != "hello" {
		t.Fatalf("AttachmentData() = %q, %v", data, err)
	}

	if err := mb.MarkRead(ctx, msgID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if n, _ := mb.TotalUnreadCount(ctx); n != 0 {
		t.Errorf("TotalUnreadCount() after MarkRead = %d, want 0", n)
	}

	gotConv, err := mb.RemoveMessage(ctx, msgID)
	if err != nil || gotConv != conv {
		t.Fatalf("RemoveMessage() = %v, %v; want %v", gotConv, err, conv)
	}
	if err := mb.MarkRead(ctx, msgID); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRead(removed) error = %v, want ErrNotFound", err)
	}
}

func TestMailboxDrafts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mb := openTestMailbox(t)

	conv, _, err := mb.FindOrCreateConversation(ctx, []domain.Participant{{Address: "bob@x.org"}})
	if err != nil {
		t.Fatalf("FindOrCreateConversation() error = %v", err)
	}

	d, err := mb.Draft(ctx, conv)
	if err != nil || !d.IsEmpty() || d.State != domain.DraftEditing {
		t.Fatalf("Draft() = %+v, %v", d, err)
	}
	if _, err := mb.Draft(ctx, conv+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("Draft(missing) error = %v, want ErrNotFound", err)
	}

	if err := mb.SetDraftText(ctx, conv, "hi"); err != nil {
		t.Fatalf("SetDraftText() error = %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if err := mb.AddDraftAttachment(ctx, conv, name, []byte(name+name)); err != nil {
			t.Fatalf("AddDraftAttachment(%q) error = %v", name, err)
		}
	}
	if err := mb.RemoveDraftAttachment(ctx, conv, 1); err != nil {
		t.Fatalf("RemoveDraftAttachment() error = %v", err)
	}
	att, err := mb.DraftAttachmentData(ctx, conv, 1)
	if err != nil || att.Filename != "c" || string(att.Data) != "cc" {
		t.Fatalf("DraftAttachmentData(1) = %+v, %v; want c", att, err)
	}

	if err := mb.SetDraftState(ctx, conv, domain.DraftReadyToSend); err != nil {
		t.Fatalf("SetDraftState() error = %v", err)
	}
	ready, err := mb.ReadyDrafts(ctx)
	if err != nil || len(ready) != 1 {
		t.Fatalf("ReadyDrafts() = %+v, %v", ready, err)
	}
	if ready[0].Text != "hi" || len(ready[0].Attachments) != 2 || ready[0].AttachmentsSize() != 4 {
		t.Errorf("ReadyDrafts()[0] = %+v", ready[0])
	}

	if err := mb.ClearDraft(ctx, conv); err != nil {
		t.Fatalf("ClearDraft() error = %v", err)
	}
	if d, _ := mb.Draft(ctx, conv); !d.IsEmpty() || d.State != domain.DraftEditing {
		t.Errorf("Draft() after clear = %+v", d)
	}
}

func TestMailboxSettingsAndSyncTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mb := openTestMailbox(t)

	if _, ok, err := mb.LastFullSync(ctx); err != nil || ok {
		t.Fatalf("LastFullSync() on new mailbox = %v, %v; want false", ok, err)
	}
	at := time.Unix(1700000000, 0)
	if err := mb.SetLastFullSync(ctx, at); err != nil {
		t.Fatalf("SetLastFullSync() error = %v", err)
	}
	got, ok, err := mb.LastFullSync(ctx)
	if err != nil || !ok || !got.Equal(at) {
		t.Fatalf("LastFullSync() = %v, %v, %v; want %v", got, ok, err, at)
	}

	want := domain.UserSettings{Name: "Alice", Organization: "Org", Footer: "--"}
	if err := mb.UpdateUserSettings(ctx, want); err != nil {
		t.Fatalf("UpdateUserSettings() error = %v", err)
	}
	s, err := mb.UserSettings(ctx)
	if err != nil || s.Name != want.Name || s.Organization != want.Organization || s.Footer != want.Footer {
		t.Errorf("UserSettings() = %+v, %v; want %+v", s, err, want)
	}
}
