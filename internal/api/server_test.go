package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/credential"
	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine/enginetest"
	"github.com/ashureev/sealbox/internal/executor"
)

const testToken = "test-token"

type testServer struct {
	t      *testing.T
	engine *enginetest.Client
	loop   *executor.Loop
	srv    *Server
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	loop := executor.NewLoop(nil)
	eng := enginetest.NewClient()
	coord := coordinator.New(coordinator.Options{
		Executor:              loop,
		Engine:                eng,
		Credentials:           credential.NewMemoryStore(),
		DataDir:               t.TempDir(),
		PushUnregisterTimeout: 50 * time.Millisecond,
	})
	srv := NewServer(Options{
		Loop:           loop,
		Coordinator:    coord,
		Token:          testToken,
		AllowedOrigins: []string{"http://ui.local"},
	})
	ts := &testServer{t: t, engine: eng, loop: loop, srv: srv, http: httptest.NewServer(srv.Routes())}
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.http.Close()
		loop.Do(context.Background(), coord.CloseSession)
		loop.Close()
	})
	return ts
}

func (ts *testServer) request(method, path string, body interface{}) (int, map[string]interface{}) {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	if err != nil {
		ts.t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func testKey() domain.MasterKey {
	var key domain.MasterKey
	for i := range key {
		key[i] = "ABCD"
	}
	return key
}

func (ts *testServer) login(address string) *enginetest.Session {
	ts.t.Helper()
	ts.engine.AddAccount(domain.Registration{Address: address, MasterKey: testKey()})
	status, body := ts.request(http.MethodPost, "/api/session/login", map[string]string{
		"address":    address,
		"master_key": testKey().String(),
	})
	if status != http.StatusOK || body["state"] != "created" {
		ts.t.Fatalf("login = %d %v, want 200 created", status, body)
	}
	return ts.engine.LastSession()
}

func TestRoutesRequireToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := ts.request(http.MethodGet, "/api/session", nil)
	if status != http.StatusOK || body["state"] != "none" {
		t.Fatalf("GET /api/session = %d %v", status, body)
	}

	status, _ = ts.request(http.MethodPost, "/api/session/login", map[string]string{
		"address": "alice@example.org", "master_key": testKey().String(),
	})
	if status != http.StatusUnauthorized {
		t.Errorf("login of unknown account = %d, want 401", status)
	}

	status, _ = ts.request(http.MethodPost, "/api/session/login", map[string]string{
		"address": "alice@example.org", "master_key": "short",
	})
	if status != http.StatusBadRequest {
		t.Errorf("login with malformed key = %d, want 400", status)
	}

	sess := ts.login("alice@example.org")

	status, _ = ts.request(http.MethodPost, "/api/session/login", map[string]string{
		"address": "alice@example.org", "master_key": testKey().String(),
	})
	if status != http.StatusConflict {
		t.Errorf("second login = %d, want 409", status)
	}

	status, _ = ts.request(http.MethodPost, "/api/session/logout", nil)
	if status != http.StatusNoContent {
		t.Fatalf("logout = %d, want 204", status)
	}
	if sess.Closed() == 0 {
		t.Error("session not closed by logout")
	}
	if _, body := ts.request(http.MethodGet, "/api/session", nil); body["state"] != "none" {
		t.Errorf("state after logout = %v", body["state"])
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := ts.request(http.MethodPost, "/api/session/register", map[string]string{
		"address": "bob@example.org", "name": "Bob", "master_key": testKey().String(),
	})
	if status != http.StatusOK || body["address"] != "bob@example.org" {
		t.Fatalf("register = %d %v", status, body)
	}

	status, body = ts.request(http.MethodGet, "/api/addresses/bob@example.org/exists", nil)
	if status != http.StatusOK || body["exists"] != true {
		t.Errorf("exists = %d %v, want true", status, body)
	}
	_, body = ts.request(http.MethodGet, "/api/addresses/carol@example.org/exists", nil)
	if body["exists"] != false {
		t.Errorf("exists(carol) = %v, want false", body["exists"])
	}
}

func TestMailRoutesWithoutSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := ts.request(http.MethodGet, "/api/conversations", nil)
	if status != http.StatusOK || body["unread"] != float64(0) {
		t.Errorf("conversations = %d %v", status, body)
	}
	if status, _ := ts.request(http.MethodPut, "/api/conversations/1/draft", map[string]string{"text": "hi"}); status != http.StatusUnauthorized {
		t.Errorf("save draft = %d, want 401", status)
	}
	if status, _ := ts.request(http.MethodGet, "/api/settings", nil); status != http.StatusUnauthorized {
		t.Errorf("settings = %d, want 401", status)
	}
	if status, _ := ts.request(http.MethodGet, "/api/conversations/abc/messages", nil); status != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", status)
	}

	status, body = ts.request(http.MethodPost, "/api/sync", map[string]string{"mode": "with_attachments"})
	if status != http.StatusAccepted || body["status"] != "deferred" {
		t.Errorf("sync without session = %d %v, want deferred", status, body)
	}
	_, body = ts.request(http.MethodGet, "/api/sync", nil)
	if body["deferred"] != true {
		t.Errorf("sync state = %v, want deferred", body)
	}
}

func TestMailRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	sess := ts.login("alice@example.org")

	sess.PutConversation(domain.Conversation{ID: 7, Participants: []domain.Participant{{Address: "bob@example.org"}}})
	sess.PutMessage(domain.Message{ID: 42, ConversationID: 7, Text: "hi"})

	status, body := ts.request(http.MethodGet, "/api/conversations", nil)
	if status != http.StatusOK {
		t.Fatalf("conversations = %d", status)
	}
	if convs := body["conversations"].([]interface{}); len(convs) != 1 {
		t.Errorf("conversations = %v, want 1", convs)
	}

	status, body = ts.request(http.MethodGet, "/api/conversations/7/messages", nil)
	if msgs, _ := body["messages"].([]interface{}); status != http.StatusOK || len(msgs) != 1 {
		t.Errorf("messages = %d %v", status, body)
	}
	if status, _ := ts.request(http.MethodPost, "/api/messages/42/read", nil); status != http.StatusNoContent {
		t.Errorf("mark read = %d, want 204", status)
	}
	if status, _ := ts.request(http.MethodPut, "/api/conversations/7/draft", map[string]string{"text": "reply"}); status != http.StatusNoContent {
		t.Errorf("save draft = %d, want 204", status)
	}
	if _, body := ts.request(http.MethodGet, "/api/conversations/7/draft", nil); body["text"] != "reply" {
		t.Errorf("draft = %v", body)
	}
	if status, _ := ts.request(http.MethodPost, "/api/conversations/7/draft/send", nil); status != http.StatusNoContent {
		t.Errorf("send draft = %d, want 204", status)
	}

	status, body = ts.request(http.MethodPost, "/api/sync", map[string]string{})
	if status != http.StatusAccepted || body["status"] != "requested" {
		t.Errorf("sync = %d %v", status, body)
	}
	if got := sess.FakeSyncer().Requests(); len(got) < 2 {
		t.Errorf("syncer requests = %v, want draft send and explicit sync", got)
	}

	if status, _ := ts.request(http.MethodPost, "/api/messages/42/attachments/0/download", nil); status != http.StatusNoContent {
		t.Errorf("download = %d, want 204", status)
	}
	if got := sess.FakeSyncer().Downloads(); len(got) != 1 || got[0] != 42 {
		t.Errorf("downloads = %v, want [42]", got)
	}

	if status, _ := ts.request(http.MethodPut, "/api/settings", map[string]string{"name": "Alice"}); status != http.StatusNoContent {
		t.Errorf("update settings = %d, want 204", status)
	}
	if _, body := ts.request(http.MethodGet, "/api/settings", nil); body["name"] != "Alice" {
		t.Errorf("settings = %v", body)
	}

	if status, _ := ts.request(http.MethodPost, "/api/push-token", map[string]string{"token": "tok"}); status != http.StatusAccepted {
		t.Errorf("push token = %d, want 202", status)
	}
	if _, body := ts.request(http.MethodGet, "/api/session", nil); body["push_token"] != "tok" {
		t.Errorf("session push token = %v", body["push_token"])
	}
}

func TestGenerateKeys(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := ts.request(http.MethodPost, "/api/keys/generate", nil)
	if status != http.StatusOK {
		t.Fatalf("generate = %d %v", status, body)
	}
	key, _ := body["master_key"].(string)
	if !strings.HasPrefix(key, "0000-0001-") {
		t.Errorf("master_key = %q", key)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws/events?token=" + testToken
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// read skips messages of other types, such as session events.
	read := func(typ string) map[string]interface{} {
		t.Helper()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if msg["type"] == typ {
				return msg
			}
		}
	}

	if msg := read("hello"); msg["client_id"] == "" {
		t.Fatalf("first message = %v, want hello", msg)
	}
	if n := ts.srv.Hub().Len(); n != 1 {
		t.Errorf("Hub().Len() = %d, want 1", n)
	}

	if status, _ := ts.request(http.MethodPost, "/api/keys/generate", nil); status != http.StatusOK {
		t.Fatalf("generate = %d", status)
	}
	if msg := read("keys"); msg["kind"] != "generated" {
		t.Errorf("event = %v, want generated keys", msg)
	}

	sess := ts.login("alice@example.org")
	sess.Listener().SyncStarted()
	if msg := read("sync"); msg["kind"] != "started" {
		t.Errorf("event = %v, want sync started", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(5 * time.Second)
	for ts.srv.Hub().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
