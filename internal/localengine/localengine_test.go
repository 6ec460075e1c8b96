package localengine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/sealbox/internal/credential"
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
)

type tooBigReport struct {
	conv        domain.ConversationID
	currentSize int64
	maxSize     int64
}

// recordingListener collects session callbacks from any goroutine.
type recordingListener struct {
	mu       sync.Mutex
	raw      []engine.RawEvent
	started  int
	progress []domain.SyncProgress
	tooBig   []tooBigReport

	ended chan error
	push  chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		ended: make(chan error, 16),
		push:  make(chan struct{}, 16),
	}
}

func (l *recordingListener) EventReceived(raw engine.RawEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw = append(l.raw, raw)
}

func (l *recordingListener) SyncStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
}

func (l *recordingListener) SyncProgressed(p domain.SyncProgress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, p)
}

func (l *recordingListener) SyncFinished()        { l.ended <- nil }
func (l *recordingListener) SyncFailed(err error) { l.ended <- err }

func (l *recordingListener) DraftAttachmentsTooBig(conv domain.ConversationID, _ int, currentSize, maxSize int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tooBig = append(l.tooBig, tooBigReport{conv: conv, currentSize: currentSize, maxSize: maxSize})
}

func (l *recordingListener) PushReceived() {
	select {
	case l.push <- struct{}{}:
	default:
	}
}

func (l *recordingListener) kinds(t *testing.T) []string {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []string
	for _, raw := range l.raw {
		events, err := decodeEvents(raw)
		if err != nil {
			t.Fatalf("decodeEvents() error = %v", err)
		}
		for _, ev := range events {
			kinds = append(kinds, ev.Kind())
		}
	}
	return kinds
}

func waitSync(t *testing.T, l *recordingListener) {
	t.Helper()
	select {
	case err := <-l.ended:
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for sync to end")
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func register(t *testing.T, c *Client, address, name string) domain.Credentials {
	t.Helper()
	ctx := context.Background()
	key, err := c.GenerateKeys(ctx)
	if err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	reg := domain.Registration{Address: address, Name: name, MasterKey: key}
	if err := c.RegisterAccount(ctx, reg); err != nil {
		t.Fatalf("RegisterAccount(%s) error = %v", address, err)
	}
	return reg.Credentials()
}

func openSession(t *testing.T, c *Client, creds domain.Credentials) (*Session, *recordingListener) {
	t.Helper()
	l := newRecordingListener()
	storePath := filepath.Join(c.dataDir, "users", credential.Digest(creds.Address)+".db")
	sess, err := c.CreateSession(context.Background(), creds, storePath, l)
	if err != nil {
		t.Fatalf("CreateSession(%s) error = %v", creds.Address, err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess.(*Session), l
}

func networkKind(err error) (engine.NetworkErrorKind, bool) {
	var netErr *engine.NetworkError
	if errors.As(err, &netErr) {
		return netErr.Kind, true
	}
	return 0, false
}

func TestValidation(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, Options{})

	addresses := map[string]bool{
		"alice@example.org": true,
		"a.b@mail.example":  true,
		"alice":             false,
		"alice@example":     false,
		"a b@example.org":   false,
		"":                  false,
	}
	for addr, want := range addresses {
		if got := c.ValidateAddress(addr); got != want {
			t.Errorf("ValidateAddress(%q) = %v, want %v", addr, got, want)
		}
	}

	blocks := map[string]bool{"0A1F": true, "beef": true, "0A1": false, "GGGG": false, "0A1F2": false}
	for b, want := range blocks {
		if got := c.ValidateMasterKeyBlock(b); got != want {
			t.Errorf("ValidateMasterKeyBlock(%q) = %v, want %v", b, got, want)
		}
	}
}

func TestGenerateKeys(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, Options{})
	ctx := context.Background()

	k1, err := c.GenerateKeys(ctx)
	if err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	for i, b := range k1 {
		if !c.ValidateMasterKeyBlock(b) {
			t.Errorf("block %d = %q is not valid", i, b)
		}
	}
	raw, err := k1.Bytes()
	if err != nil || len(raw) != masterKeySize {
		t.Errorf("Bytes() = %d bytes, %v; want %d", len(raw), err, masterKeySize)
	}

	k2, _ := c.GenerateKeys(ctx)
	if k1 == k2 {
		t.Error("two generated keys are equal")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.GenerateKeys(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("GenerateKeys(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestAccounts(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, Options{})
	ctx := context.Background()

	creds := register(t, c, "alice@example.org", "Alice")

	err := c.RegisterAccount(ctx, domain.Registration{Address: "Alice@example.org", MasterKey: creds.MasterKey})
	if kind, ok := networkKind(err); !ok || kind != engine.NetworkForbidden {
		t.Errorf("RegisterAccount(taken) error = %v, want forbidden", err)
	}

	if err := c.CheckCredentials(ctx, creds); err != nil {
		t.Errorf("CheckCredentials() error = %v", err)
	}

	wrong := creds
	wrong.MasterKey[0] = "0000"
	if wrong.MasterKey[0] == creds.MasterKey[0] {
		wrong.MasterKey[0] = "FFFF"
	}
	if kind, ok := networkKind(c.CheckCredentials(ctx, wrong)); !ok || kind != engine.NetworkUnauthorized {
		t.Errorf("CheckCredentials(wrong key) kind = %v, want unauthorized", kind)
	}

	unknown := domain.Credentials{Address: "bob@example.org", MasterKey: creds.MasterKey}
	if kind, ok := networkKind(c.CheckCredentials(ctx, unknown)); !ok || kind != engine.NetworkUnauthorized {
		t.Errorf("CheckCredentials(unknown) kind = %v, want unauthorized", kind)
	}
	if _, err := c.CreateSession(ctx, unknown, filepath.Join(t.TempDir(), "b.db"), newRecordingListener()); err == nil {
		t.Error("CreateSession(unknown) succeeded")
	}

	if ok, err := c.AddressExists(ctx, "ALICE@example.org"); err != nil || !ok {
		t.Errorf("AddressExists(alice) = %v, %v; want true", ok, err)
	}
	if ok, err := c.AddressExists(ctx, "bob@example.org"); err != nil || ok {
		t.Errorf("AddressExists(bob) = %v, %v; want false", ok, err)
	}
}

func TestSessionSettingsFromAccount(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, Options{})
	sess, _ := openSession(t, c, register(t, c, "alice@example.org", "Alice"))

	settings, err := sess.UserSettings(context.Background())
	if err != nil || settings.Name != "Alice" {
		t.Fatalf("UserSettings() = %+v, %v; want name Alice", settings, err)
	}
	if sess.Address() != "alice@example.org" {
		t.Errorf("Address() = %q", sess.Address())
	}
}

func TestSendAndReceive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, Options{})
	alice, aliceL := openSession(t, c, register(t, c, "alice@example.org", "Alice"))
	bob, bobL := openSession(t, c, register(t, c, "bob@example.org", "Bob"))

	conv, err := alice.AddConversation(ctx, []domain.Participant{{Address: "bob@example.org"}, {Address: "alice@example.org"}})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}

	src := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(src, []byte("attachment body"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := alice.SetDraftText(ctx, conv, "hello bob"); err != nil {
		t.Fatalf("SetDraftText() error = %v", err)
	}
	if err := alice.AddDraftAttachment(ctx, conv, src); err != nil {
		t.Fatalf("AddDraftAttachment() error = %v", err)
	}
	if err := alice.PrepareToSend(ctx, conv); err != nil {
		t.Fatalf("PrepareToSend() error = %v", err)
	}

	alice.Syncer().RequestSync(domain.SyncWithoutAttachments)
	waitSync(t, aliceL)

	sent, err := alice.Messages(ctx, conv)
	if err != nil || len(sent) != 1 || !sent[0].Outgoing || sent[0].Delivery != domain.DeliveryDelivered {
		t.Fatalf("alice Messages() = %+v, %v", sent, err)
	}
	if d, _ := alice.Draft(ctx, conv); !d.IsEmpty() {
		t.Errorf("draft after send = %+v, want empty", d)
	}
	if _, ok := alice.Syncer().LastFullSync(); !ok {
		t.Error("LastFullSync() not recorded after sync")
	}

	select {
	case <-bobL.push:
	case <-time.After(5 * time.Second):
		t.Fatal("bob was not notified of the delivery")
	}

	bob.Syncer().RequestSync(domain.SyncWithoutAttachments)
	waitSync(t, bobL)

	convs, err := bob.Conversations(ctx)
	if err != nil || len(convs) != 1 {
		t.Fatalf("bob Conversations() = %+v, %v", convs, err)
	}
	if len(convs[0].Participants) != 1 || convs[0].Participants[0].Address != "alice@example.org" {
		t.Errorf("bob conversation participants = %+v", convs[0].Participants)
	}
	msgs, err := bob.Messages(ctx, convs[0].ID)
	if err != nil || len(msgs) != 1 || msgs[0].Text != "hello bob" || msgs[0].Read {
		t.Fatalf("bob Messages() = %+v, %v", msgs, err)
	}
	if msgs[0].AttachmentsDownloaded() {
		t.Error("attachment downloaded by a sync without attachments")
	}
	if n, _ := bob.TotalUnreadCount(ctx); n != 1 {
		t.Errorf("TotalUnreadCount() = %d, want 1", n)
	}

	bob.Syncer().RequestAttachmentDownload(msgs[0].ID, 0)
	bob.Syncer().RequestSync(domain.SyncWithoutAttachments)
	waitSync(t, bobL)

	dest := filepath.Join(t.TempDir(), "saved.txt")
	if err := bob.SaveMessageAttachment(ctx, msgs[0].ID, 0, dest); err != nil {
		t.Fatalf("SaveMessageAttachment() error = %v", err)
	}
	if data, _ := os.ReadFile(dest); string(data) != "attachment body" {
		t.Errorf("saved attachment = %q", data)
	}

	if err := bob.MarkRead(ctx, msgs[0].ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	kinds := bobL.kinds(t)
	want := []string{"conversation_added", "message_added", "conversation_changed",
		"message_attachments_downloaded_changed", "message_state_changed", "conversation_changed"}
	if len(kinds) != len(want) {
		t.Fatalf("bob event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("bob event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestSyncWithAttachmentsDownloadsBodies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, Options{})
	alice, aliceL := openSession(t, c, register(t, c, "alice@example.org", "Alice"))
	bob, bobL := openSession(t, c, register(t, c, "bob@example.org", "Bob"))

	conv, err := alice.AddConversation(ctx, []domain.Participant{{Address: "bob@example.org"}})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}
	src := filepath.Join(t.TempDir(), "a.bin")
	os.WriteFile(src, []byte("0123456789"), 0o600)
	alice.AddDraftAttachment(ctx, conv, src)
	alice.PrepareToSend(ctx, conv)
	alice.Syncer().RequestSync(domain.SyncWithoutAttachments)
	waitSync(t, aliceL)

	bob.Syncer().RequestSync(domain.SyncWithAttachments)
	waitSync(t, bobL)

	convs, _ := bob.Conversations(ctx)
	if len(convs) != 1 {
		t.Fatalf("bob has %d conversations, want 1", len(convs))
	}
	msgs, _ := bob.Messages(ctx, convs[0].ID)
	if len(msgs) != 1 || !msgs[0].AttachmentsDownloaded() {
		t.Fatalf("bob Messages() = %+v, want downloaded attachment", msgs)
	}

	bobL.mu.Lock()
	last := bobL.progress[len(bobL.progress)-1]
	bobL.mu.Unlock()
	if last.MessageSyncRatio() != 1 || last.AttachmentDownloadRatio() != 1 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestDraftAttachmentLimits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, Options{MaxAttachmentSize: 10})
	alice, aliceL := openSession(t, c, register(t, c, "alice@example.org", "Alice"))
	register(t, c, "bob@example.org", "Bob")

	conv, err := alice.AddConversation(ctx, []domain.Participant{{Address: "bob@example.org"}})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}

	dir := t.TempDir()
	big := filepath.Join(dir, "big")
	os.WriteFile(big, make([]byte, 11), 0o600)
	err = alice.AddDraftAttachment(ctx, conv, big)
	var localErr *engine.LocalError
	if !errors.As(err, &localErr) || localErr.Kind != engine.LocalFileTooBig {
		t.Fatalf("AddDraftAttachment(big) error = %v, want file too big", err)
	}

	small := filepath.Join(dir, "small")
	os.WriteFile(small, make([]byte, 8), 0o600)
	for i := 0; i < 2; i++ {
		if err := alice.AddDraftAttachment(ctx, conv, small); err != nil {
			t.Fatalf("AddDraftAttachment(small) error = %v", err)
		}
	}
	if err := alice.PrepareToSend(ctx, conv); err != nil {
		t.Fatalf("PrepareToSend() error = %v", err)
	}
	alice.Syncer().RequestSync(domain.SyncWithoutAttachments)
	waitSync(t, aliceL)

	aliceL.mu.Lock()
	reports := aliceL.tooBig
	aliceL.mu.Unlock()
	if len(reports) != 1 || reports[0].conv != conv || reports[0].currentSize != 16 || reports[0].maxSize != 10 {
		t.Fatalf("DraftAttachmentsTooBig reports = %+v", reports)
	}
	d, _ := alice.Draft(ctx, conv)
	if d.State != domain.DraftSendFailed || len(d.Attachments) != 2 {
		t.Errorf("draft = %+v, want failed with attachments kept", d)
	}
	if msgs, _ := alice.Messages(ctx, conv); len(msgs) != 0 {
		t.Errorf("oversized draft was sent: %+v", msgs)
	}

	if err := alice.SetDraftText(ctx, conv, "retry"); err != nil {
		t.Fatalf("SetDraftText() error = %v", err)
	}
	if d, _ := alice.Draft(ctx, conv); d.State != domain.DraftEditing {
		t.Errorf("draft state after edit = %v, want editing", d.State)
	}
}

func TestSendToUnknownRecipientFailsDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, Options{})
	alice, aliceL := openSession(t, c, register(t, c, "alice@example.org", "Alice"))

	conv, _ := alice.AddConversation(ctx, []domain.Participant{{Address: "nobody@example.org"}})
	alice.SetDraftText(ctx, conv, "anyone there?")
	alice.PrepareToSend(ctx, conv)
	alice.Syncer().RequestSync(domain.SyncWithoutAttachments)
	waitSync(t, aliceL)

	msgs, _ := alice.Messages(ctx, conv)
	if len(msgs) != 1 || msgs[0].Delivery != domain.DeliveryFailed {
		t.Errorf("Messages() = %+v, want one failed delivery", msgs)
	}
}

func TestPushTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, Options{})
	sess, _ := openSession(t, c, register(t, c, "alice@example.org", "Alice"))

	if err := sess.RegisterPushToken(ctx, "tok"); err != nil {
		t.Fatalf("RegisterPushToken() error = %v", err)
	}
	tokens, _ := c.directory.PushTokens(ctx, "alice@example.org")
	if len(tokens) != 1 || tokens[0] != "tok" {
		t.Fatalf("PushTokens() = %v, want [tok]", tokens)
	}
	if err := sess.UnregisterPushToken(ctx, "tok"); err != nil {
		t.Fatalf("UnregisterPushToken() error = %v", err)
	}
	if tokens, _ := c.directory.PushTokens(ctx, "alice@example.org"); len(tokens) != 0 {
		t.Errorf("PushTokens() after unregister = %v", tokens)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, Options{})
	sess, _ := openSession(t, c, register(t, c, "alice@example.org", "Alice"))

	done := make(chan struct{})
	go func() {
		sess.Close()
		sess.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() deadlocked")
	}
	if sess.Syncer().IsSyncing() {
		t.Error("syncing after Close()")
	}
}

func TestEventCodec(t *testing.T) {
	t.Parallel()

	in := []domain.Event{
		domain.NewConversationEvent("conversation_added", 7),
		domain.NewMessageEvent("message_added", 7, 42),
		domain.NewConversationEvent("draft_state_changed", 7),
	}
	raw, err := encodeEvents(in...)
	if err != nil {
		t.Fatalf("encodeEvents() error = %v", err)
	}
	out, err := decodeEvents(raw)
	if err != nil {
		t.Fatalf("decodeEvents() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d events, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("event %d = %#v, want %#v", i, out[i], in[i])
		}
	}

	if _, err := decodeEvents(engine.RawEvent("not cbor")); err == nil {
		t.Error("decodeEvents(garbage) succeeded")
	}
	bad, _ := eventEncMode.Marshal([]wireEvent{{Kind: "bogus", Conv: 1}})
	if _, err := decodeEvents(bad); err == nil {
		t.Error("decodeEvents(unknown kind) succeeded")
	}
}
