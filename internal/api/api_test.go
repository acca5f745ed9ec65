// internal/api/api_test.go
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"driftpad/internal/changeset"
	"driftpad/internal/chat"
	"driftpad/internal/checkpoint"
	"driftpad/internal/database"
	"driftpad/internal/eventhub"
	"driftpad/internal/export"
	"driftpad/internal/files"
	"driftpad/internal/filetree"
	"driftpad/internal/prefs"
	"driftpad/internal/review"
)

// scriptedCompleter replays queued responses, then falls back to a plain
// acknowledgement.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []chat.CompletionResponse
}

func (c *scriptedCompleter) queue(resp chat.CompletionResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, resp)
}

func (c *scriptedCompleter) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return &chat.CompletionResponse{Content: "ok"}, nil
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return &next, nil
}

type testEnv struct {
	db        *database.Database
	ckpts     *checkpoint.Manager
	chat      *chat.Service
	completer *scriptedCompleter
	router    http.Handler
}

// newTestEnv wires the full service stack against a temp SQLite database
// and in-process checkpoint storage. authorize=nil disables auth.
func newTestEnv(t *testing.T, authorize func(*http.Request) bool) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hub := eventhub.New()
	ckpts := checkpoint.NewManager(checkpoint.NewStorage(t.TempDir(), 3), db, hub, nil)
	reviews := review.NewRegistry(db, ckpts, hub, nil)
	completer := &scriptedCompleter{}
	chatSvc := chat.NewService(db, completer, reviews, hub, nil)

	prefsMgr, err := prefs.Load(context.Background(), db, prefs.Preferences{
		AutoReview:      true,
		DefaultChatMode: chat.ModeAgent,
		PoolWidth:       4,
		UndoDepth:       50,
	}, nil)
	if err != nil {
		t.Fatalf("prefs.Load: %v", err)
	}

	if authorize == nil {
		authorize = Authorizer(false, "")
	}
	svcs := Services{
		Store:    db,
		Trees:    filetree.NewRegistry(db, hub, nil, filetree.Options{}),
		Reviews:  reviews,
		Ckpts:    ckpts,
		Chat:     chatSvc,
		Prefs:    prefsMgr,
		Exporter: export.New(ckpts, db, nil, nil),
	}
	return &testEnv{
		db:        db,
		ckpts:     ckpts,
		chat:      chatSvc,
		completer: completer,
		router:    NewRouter(svcs, authorize, nil),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) tree(t *testing.T, projectID string) treeResponse {
	t.Helper()
	w := e.do(t, http.MethodGet, "/projects/"+projectID+"/tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tree = %d, body = %s", w.Code, w.Body.String())
	}
	var resp treeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal tree: %v", err)
	}
	return resp
}

func nodeByName(resp treeResponse, name string) (nodeResponse, bool) {
	for _, n := range resp.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nodeResponse{}, false
}

func TestHealthOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", w.Code)
	}
}

func TestCreateFileBuildsIntermediateFolders(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{
		"path": "src/main.go", "content": "package main",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created["id"] == "" {
		t.Fatal("expected node id in create response")
	}

	resp := env.tree(t, "p1")
	folder, ok := nodeByName(resp, "src")
	if !ok || folder.Type != "folder" {
		t.Fatalf("intermediate folder missing from tree: %+v", resp.Nodes)
	}
	file, ok := nodeByName(resp, "main.go")
	if !ok || file.Type != "file" {
		t.Fatalf("file missing from tree: %+v", resp.Nodes)
	}
	if file.ParentID == nil || *file.ParentID != folder.ID {
		t.Errorf("file parent = %v, want %s", file.ParentID, folder.ID)
	}
}

func TestCreateFileValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{"content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/projects/p1/files", bytes.NewReader([]byte("{broken")))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken JSON = %d, want 400", w.Code)
	}
}

func TestFileContentRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{
		"path": "notes.txt", "content": "first",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	id := created["id"]

	w = env.do(t, http.MethodGet, "/projects/p1/files/"+id+"/content", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get content = %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["content"] != "first" {
		t.Errorf("content = %q, want first", body["content"])
	}

	w = env.do(t, http.MethodPut, "/projects/p1/files/"+id+"/content", map[string]string{"content": "second"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("put content = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/projects/p1/files/"+id+"/content", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["content"] != "second" {
		t.Errorf("content after save = %q, want second", body["content"])
	}

	w = env.do(t, http.MethodGet, "/projects/p1/files/missing/content", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing node = %d, want 404", w.Code)
	}
}

func TestFileRawServesBytes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{
		"path": "readme.md", "content": "# hi",
	})
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = env.do(t, http.MethodGet, "/projects/p1/files/"+created["id"]+"/raw", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("raw = %d", w.Code)
	}
	if w.Body.String() != "# hi" {
		t.Errorf("raw body = %q, want %q", w.Body.String(), "# hi")
	}
}

func TestUndoRedoFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{"path": "a.txt"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/undo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("undo = %d, body = %s", w.Code, w.Body.String())
	}
	var resp treeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if _, ok := nodeByName(resp, "a.txt"); ok {
		t.Error("file still present after undo")
	}
	if !resp.CanRedo {
		t.Error("expected canRedo after undo")
	}

	w = env.do(t, http.MethodPost, "/projects/p1/redo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("redo = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if _, ok := nodeByName(resp, "a.txt"); !ok {
		t.Error("file missing after redo")
	}

	// Redo stack is spent now.
	w = env.do(t, http.MethodPost, "/projects/p1/redo", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("exhausted redo = %d, want 409", w.Code)
	}
}

func TestMoveAndCopyNodes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/folders", map[string]string{"path": "docs"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create folder = %d", w.Code)
	}
	var folder map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &folder)

	w = env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{"path": "guide.md", "content": "x"})
	var file map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &file)

	w = env.do(t, http.MethodPost, "/projects/p1/nodes/move", map[string]interface{}{
		"ids": []string{file["id"]}, "newParentId": folder["id"],
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	resp := env.tree(t, "p1")
	moved, _ := nodeByName(resp, "guide.md")
	if moved.ParentID == nil || *moved.ParentID != folder["id"] {
		t.Errorf("moved parent = %v, want %s", moved.ParentID, folder["id"])
	}

	w = env.do(t, http.MethodPost, "/projects/p1/nodes/copy", map[string]interface{}{
		"ids": []string{file["id"]},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("copy = %d, body = %s", w.Code, w.Body.String())
	}
	var copied map[string][]string
	_ = json.Unmarshal(w.Body.Bytes(), &copied)
	if len(copied["ids"]) != 1 {
		t.Fatalf("copied ids = %v, want one", copied["ids"])
	}
}

func TestRenameAndDeleteNode(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/files", map[string]string{"path": "old.txt"})
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = env.do(t, http.MethodPost, "/projects/p1/nodes/"+created["id"]+"/rename", map[string]string{"name": "new.txt"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("rename = %d, body = %s", w.Code, w.Body.String())
	}
	resp := env.tree(t, "p1")
	if _, ok := nodeByName(resp, "new.txt"); !ok {
		t.Error("renamed node missing")
	}

	w = env.do(t, http.MethodDelete, "/projects/p1/nodes/"+created["id"], nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	resp = env.tree(t, "p1")
	if _, ok := nodeByName(resp, "new.txt"); ok {
		t.Error("node still present after delete")
	}
}

func TestImportFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/import", map[string]interface{}{
		"items": []map[string]string{
			{"path": "a.txt", "content": "plain"},
			{"path": "b.bin", "content": base64.StdEncoding.EncodeToString([]byte("raw")), "encoding": "base64"},
			{"path": "c.bin", "content": "not-base64!!!", "encoding": "base64"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("import = %d, body = %s", w.Code, w.Body.String())
	}
	var resp importResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Imported != 2 {
		t.Errorf("imported = %d, want 2", resp.Imported)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Path != "c.bin" {
		t.Errorf("errors = %+v, want one for c.bin", resp.Errors)
	}

	tree := env.tree(t, "p1")
	for _, name := range []string{"a.txt", "b.bin"} {
		if _, ok := nodeByName(tree, name); !ok {
			t.Errorf("imported file %s missing from tree", name)
		}
	}
}

func TestImportValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/import", map[string]interface{}{"items": []map[string]string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty items = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/import", map[string]interface{}{
		"items": []map[string]string{{"path": "x", "encoding": "hex"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad encoding = %d, want 400", w.Code)
	}
}

func seedCheckpoints(t *testing.T, env *testEnv) (cp1, cp2 *checkpoint.Checkpoint) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.db.CreateFile(ctx, "p1", nil, "app.js", "v2", files.CreateOptions{}); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	var err error
	cp1, err = env.ckpts.Record("p1", "sess-1", "m1", "Create app.js",
		[]checkpoint.Operation{checkpoint.NewOperation("app.js", checkpoint.OpCreate, "", "v1")})
	if err != nil {
		t.Fatalf("record cp1: %v", err)
	}
	cp2, err = env.ckpts.Record("p1", "sess-1", "m2", "Update app.js",
		[]checkpoint.Operation{checkpoint.NewOperation("app.js", checkpoint.OpUpdate, "v1", "v2")})
	if err != nil {
		t.Fatalf("record cp2: %v", err)
	}
	return cp1, cp2
}

func TestCheckpointListAndRestore(t *testing.T) {
	env := newTestEnv(t, nil)
	cp1, cp2 := seedCheckpoints(t, env)

	w := env.do(t, http.MethodGet, "/projects/p1/sessions/sess-1/checkpoints", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp checkpointsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Checkpoints) != 2 {
		t.Fatalf("checkpoints = %d, want 2", len(resp.Checkpoints))
	}
	if resp.HeadCheckpointID != cp2.ID {
		t.Errorf("head = %q, want %q", resp.HeadCheckpointID, cp2.ID)
	}
	if resp.CanRedo {
		t.Error("canRedo at tail should be false")
	}

	w = env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/restore", map[string]string{"checkpointId": cp1.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("restore = %d, body = %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.HeadCheckpointID != cp1.ID {
		t.Errorf("head after restore = %q, want %q", resp.HeadCheckpointID, cp1.ID)
	}
	if !resp.CanRedo {
		t.Error("expected canRedo after rewind")
	}

	// The store content rolled back with the head.
	content, err := env.db.GetFileContent(context.Background(), treeNodeID(t, env, "p1", "app.js"))
	if err != nil {
		t.Fatalf("content after restore: %v", err)
	}
	if content != "v1" {
		t.Errorf("content = %q, want v1", content)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/redo-checkpoint", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("redo = %d, body = %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.HeadCheckpointID != cp2.ID {
		t.Errorf("head after redo = %q, want %q", resp.HeadCheckpointID, cp2.ID)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/redo-checkpoint", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("redo at tail = %d, want 409", w.Code)
	}
}

func treeNodeID(t *testing.T, env *testEnv, projectID, name string) string {
	t.Helper()
	n, ok := nodeByName(env.tree(t, projectID), name)
	if !ok {
		t.Fatalf("node %s not in tree", name)
	}
	return n.ID
}

func TestRestoreValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/restore", map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("no target = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/restore", map[string]interface{}{
		"checkpointId": "cp", "messageIndex": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("both targets = %d, want 400", w.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	seedCheckpoints(t, env)

	dir := filepath.Join(t.TempDir(), "repo")
	w := env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/export", map[string]string{"dir": dir})
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d, body = %s", w.Code, w.Body.String())
	}
	var result export.Result
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	if result.Commits != 3 {
		t.Errorf("commits = %d, want 3", result.Commits)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Errorf("no git repository at %s: %v", dir, err)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/sessions/sess-1/export", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing dir = %d, want 400", w.Code)
	}
}

func createChatSession(t *testing.T, env *testEnv, projectID string) chat.Session {
	t.Helper()
	w := env.do(t, http.MethodPost, "/projects/"+projectID+"/chat/sessions", map[string]string{})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session = %d, body = %s", w.Code, w.Body.String())
	}
	var session chat.Session
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return session
}

func TestChatSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	session := createChatSession(t, env, "p1")
	if session.Title != "New chat" {
		t.Errorf("default title = %q, want New chat", session.Title)
	}

	w := env.do(t, http.MethodGet, "/projects/p1/chat/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list sessions = %d", w.Code)
	}
	var list map[string][]chat.Session
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list["sessions"]) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list["sessions"]))
	}

	w = env.do(t, http.MethodPatch, "/chat/sessions/"+session.ID, map[string]string{"title": "Refactor plan"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("rename = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodDelete, "/chat/sessions/"+session.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/projects/p1/chat/sessions", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list["sessions"]) != 0 {
		t.Errorf("sessions after delete = %d, want 0", len(list["sessions"]))
	}
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	session := createChatSession(t, env, "p1")
	env.completer.queue(chat.CompletionResponse{Content: "here is a plan"})

	w := env.do(t, http.MethodPost, "/projects/p1/chat/sessions/"+session.ID+"/messages",
		map[string]string{"content": "help me refactor", "mode": "plan"})
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d, body = %s", w.Code, w.Body.String())
	}
	var reply chat.Message
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Role != chat.RoleAssistant || reply.Content != "here is a plan" {
		t.Errorf("reply = %+v", reply)
	}

	w = env.do(t, http.MethodGet, "/chat/sessions/"+session.ID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("messages = %d", w.Code)
	}
	var list map[string][]chat.Message
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list["messages"]) != 2 {
		t.Errorf("messages = %d, want user+assistant", len(list["messages"]))
	}
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	session := createChatSession(t, env, "p1")

	w := env.do(t, http.MethodPost, "/projects/p1/chat/sessions/"+session.ID+"/messages", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty send = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/projects/p1/chat/sessions/"+session.ID+"/messages",
		map[string]string{"content": "x", "mode": "turbo"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad mode = %d, want 400", w.Code)
	}
}

func TestAbortWithoutInflight(t *testing.T) {
	env := newTestEnv(t, nil)
	session := createChatSession(t, env, "p1")

	w := env.do(t, http.MethodPost, "/chat/sessions/"+session.ID+"/abort", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("abort idle = %d, want 404", w.Code)
	}
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	session := createChatSession(t, env, "p1")

	env.completer.queue(chat.CompletionResponse{
		Content: "adding a helper",
		ProposedChanges: []changeset.Proposed{
			{FilePath: "util.js", Action: changeset.ActionCreate, NewContent: "fn"},
		},
	})
	w := env.do(t, http.MethodPost, "/projects/p1/chat/sessions/"+session.ID+"/messages",
		map[string]string{"content": "add a helper"})
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d, body = %s", w.Code, w.Body.String())
	}
	var reply chat.Message
	_ = json.Unmarshal(w.Body.Bytes(), &reply)

	w = env.do(t, http.MethodGet, "/sessions/"+session.ID+"/review", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("review state = %d", w.Code)
	}
	var state reviewStateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &state)
	if state.Phase != "staged" || len(state.Changes) != 1 {
		t.Fatalf("state = phase %q with %d changes, want staged with 1", state.Phase, len(state.Changes))
	}
	if state.Focused != state.Changes[0].ID {
		t.Errorf("focused = %q, want first change", state.Focused)
	}

	w = env.do(t, http.MethodPut, "/sessions/"+session.ID+"/review/issues", map[string]interface{}{
		"issues": []map[string]interface{}{
			{"filePath": "util.js", "line": 1, "severity": "warning", "message": "missing semicolon"},
		},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("set issues = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/sessions/"+session.ID+"/review", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &state)
	if len(state.Issues) != 1 || state.Issues[0].FilePath != "util.js" {
		t.Errorf("issues = %+v, want one for util.js", state.Issues)
	}

	w = env.do(t, http.MethodPost, "/sessions/"+session.ID+"/review/accept", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("accept all = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/sessions/"+session.ID+"/review", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &state)
	if state.Phase != "idle" || state.Outcome != "accepted" {
		t.Errorf("after accept: phase %q outcome %q", state.Phase, state.Outcome)
	}

	// The accepted change landed in the tree and recorded a checkpoint
	// anchored to the reply.
	if _, ok := nodeByName(env.tree(t, "p1"), "util.js"); !ok {
		t.Error("accepted file missing from tree")
	}
	cps := env.ckpts.Checkpoints(session.ID)
	if len(cps) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(cps))
	}
	if cps[0].AnchorMessageID != reply.ID {
		t.Errorf("anchor = %q, want reply id %q", cps[0].AnchorMessageID, reply.ID)
	}
}

func TestReviewRejectAll(t *testing.T) {
	env := newTestEnv(t, nil)
	session := createChatSession(t, env, "p1")

	env.completer.queue(chat.CompletionResponse{
		Content: "rewriting",
		ProposedChanges: []changeset.Proposed{
			{FilePath: "drop.js", Action: changeset.ActionCreate, NewContent: "x"},
		},
	})
	w := env.do(t, http.MethodPost, "/projects/p1/chat/sessions/"+session.ID+"/messages",
		map[string]string{"content": "go"})
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/sessions/"+session.ID+"/review/reject", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("reject all = %d", w.Code)
	}
	if _, ok := nodeByName(env.tree(t, "p1"), "drop.js"); ok {
		t.Error("rejected file landed in tree")
	}
	if len(env.ckpts.Checkpoints(session.ID)) != 0 {
		t.Error("rejected review recorded a checkpoint")
	}
}

func TestReviewActionsWhenIdle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/sessions/nope/review/accept", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("accept idle = %d, want 409", w.Code)
	}
	w = env.do(t, http.MethodPost, "/sessions/nope/review/focus", map[string]string{"changeId": "c1"})
	if w.Code != http.StatusConflict {
		t.Errorf("focus idle = %d, want 409", w.Code)
	}
	w = env.do(t, http.MethodPost, "/sessions/nope/review/changes/c1/lines/zero/accept", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad line index = %d, want 400", w.Code)
	}
}

func TestPrefsRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/prefs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get prefs = %d", w.Code)
	}
	var p prefs.Preferences
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if !p.AutoReview || p.PoolWidth != 4 {
		t.Errorf("defaults = %+v", p)
	}

	w = env.do(t, http.MethodPut, "/prefs", map[string]interface{}{
		"autoReview": false, "defaultChatMode": "ask", "skipDeleteConfirm": true,
		"poolWidth": 8, "undoDepth": 100,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put prefs = %d, body = %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.AutoReview || p.DefaultChatMode != chat.ModeAsk || p.PoolWidth != 8 {
		t.Errorf("updated = %+v", p)
	}

	w = env.do(t, http.MethodPut, "/prefs", map[string]interface{}{
		"defaultChatMode": "turbo", "poolWidth": 1, "undoDepth": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad mode = %d, want 400", w.Code)
	}
}

func TestAuthEnforcement(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, Authorizer(true, string(hash)))

	req := httptest.NewRequest(http.MethodGet, "/projects/p1/tree", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/projects/p1/tree", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/projects/p1/tree", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer token = %d, want 200", w.Code)
	}

	// Query fallback covers clients that cannot set headers.
	req = httptest.NewRequest(http.MethodGet, "/projects/p1/tree?token=secret123", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health with auth on = %d, want 200", w.Code)
	}
}
