// internal/export/export_test.go
package export

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"driftpad/internal/apperr"
	"driftpad/internal/checkpoint"
	"driftpad/internal/files"
)

func newTestExporter(t *testing.T) (*Exporter, *checkpoint.Manager, files.Store) {
	t.Helper()

	storage := checkpoint.NewStorage(t.TempDir(), 3)
	store := files.NewMemStore()
	manager := checkpoint.NewManager(storage, store, nil, nil)
	return New(manager, store, nil, nil), manager, store
}

func fileAt(t *testing.T, commit *object.Commit, path string) string {
	t.Helper()

	f, err := commit.File(path)
	if err != nil {
		t.Fatalf("file %s missing from commit: %v", path, err)
	}
	content, err := f.Contents()
	if err != nil {
		t.Fatalf("read %s from commit: %v", path, err)
	}
	return content
}

func logMessages(t *testing.T, dir string) []string {
	t.Helper()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open exported repo: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("resolve head: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	defer iter.Close()

	var messages []string
	if err := iter.ForEach(func(c *object.Commit) error {
		messages = append(messages, c.Message)
		return nil
	}); err != nil {
		t.Fatalf("iterate log: %v", err)
	}
	return messages
}

func TestExportSessionHistory(t *testing.T) {
	ctx := context.Background()
	exporter, manager, store := newTestExporter(t)

	appID, err := store.CreateFile(ctx, "proj-1", nil, "src/app.js", "v1", files.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.UpsertFileContent(ctx, appID, "v2"); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Record("proj-1", "session-1", "msg-a1", "Tweak app", []checkpoint.Operation{
		checkpoint.NewOperation("src/app.js", checkpoint.OpUpdate, "v1", "v2"),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.CreateFile(ctx, "proj-1", nil, "src/util.js", "helper", files.CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Record("proj-1", "session-1", "msg-a2", "Add util", []checkpoint.Operation{
		checkpoint.NewOperation("src/util.js", checkpoint.OpCreate, "", "helper"),
	}); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "repo")
	res, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{Dir: dir})
	if err != nil {
		t.Fatalf("ExportSession failed: %v", err)
	}
	if res.Commits != 3 {
		t.Errorf("Expected 3 commits, got %d", res.Commits)
	}
	if len(res.Head) != 7 {
		t.Errorf("Expected short head hash, got '%s'", res.Head)
	}

	messages := logMessages(t, dir)
	if len(messages) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(messages))
	}
	if !strings.HasPrefix(messages[0], "Add util") || !strings.Contains(messages[0], "anchor=msg-a2") {
		t.Errorf("Unexpected head commit message: %q", messages[0])
	}
	if !strings.HasPrefix(messages[1], "Tweak app") || !strings.Contains(messages[1], "anchor=msg-a1") {
		t.Errorf("Unexpected middle commit message: %q", messages[1])
	}
	if !strings.HasPrefix(messages[2], "Workspace baseline") {
		t.Errorf("Unexpected baseline message: %q", messages[2])
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Name().Short() != "main" {
		t.Errorf("Expected main branch, got '%s'", head.Name().Short())
	}

	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if got := fileAt(t, headCommit, "src/app.js"); got != "v2" {
		t.Errorf("Expected head app.js 'v2', got '%s'", got)
	}
	if got := fileAt(t, headCommit, "src/util.js"); got != "helper" {
		t.Errorf("Expected head util.js 'helper', got '%s'", got)
	}

	baseline := headCommit
	for {
		parent, err := baseline.Parent(0)
		if err != nil {
			break
		}
		baseline = parent
	}
	if got := fileAt(t, baseline, "src/app.js"); got != "v1" {
		t.Errorf("Expected baseline app.js 'v1', got '%s'", got)
	}
	if _, err := baseline.File("src/util.js"); !errors.Is(err, object.ErrFileNotFound) {
		t.Errorf("Expected util.js absent from baseline, got %v", err)
	}
}

func TestExportDeletedFile(t *testing.T) {
	ctx := context.Background()
	exporter, manager, store := newTestExporter(t)

	oldID, err := store.CreateFile(ctx, "proj-1", nil, "old.txt", "bye", files.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteNode(ctx, oldID); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Record("proj-1", "session-1", "msg-a1", "Drop old", []checkpoint.Operation{
		checkpoint.NewOperation("old.txt", checkpoint.OpDelete, "bye", ""),
	}); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "repo")
	if _, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{Dir: dir}); err != nil {
		t.Fatalf("ExportSession failed: %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := headCommit.File("old.txt"); !errors.Is(err, object.ErrFileNotFound) {
		t.Errorf("Expected old.txt deleted at head, got %v", err)
	}
	baseline, err := headCommit.Parent(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := fileAt(t, baseline, "old.txt"); got != "bye" {
		t.Errorf("Expected baseline old.txt 'bye', got '%s'", got)
	}
}

func TestExportStopsAtHead(t *testing.T) {
	ctx := context.Background()
	exporter, manager, store := newTestExporter(t)

	appID, err := store.CreateFile(ctx, "proj-1", nil, "app.js", "v1", files.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	messages := []string{"msg-a1", "msg-a2"}

	if err := store.UpsertFileContent(ctx, appID, "v2"); err != nil {
		t.Fatal(err)
	}
	cp1, err := manager.Record("proj-1", "session-1", "msg-a1", "First", []checkpoint.Operation{
		checkpoint.NewOperation("app.js", checkpoint.OpUpdate, "v1", "v2"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertFileContent(ctx, appID, "v3"); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Record("proj-1", "session-1", "msg-a2", "Second", []checkpoint.Operation{
		checkpoint.NewOperation("app.js", checkpoint.OpUpdate, "v2", "v3"),
	}); err != nil {
		t.Fatal(err)
	}

	if err := manager.RestoreToCheckpoint(ctx, "proj-1", "session-1", cp1.ID, messages); err != nil {
		t.Fatalf("RestoreToCheckpoint failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "repo")
	res, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{Dir: dir})
	if err != nil {
		t.Fatalf("ExportSession failed: %v", err)
	}
	if res.Commits != 2 {
		t.Errorf("Expected baseline plus head checkpoint, got %d commits", res.Commits)
	}

	got := logMessages(t, dir)
	if len(got) != 2 || !strings.HasPrefix(got[0], "First") {
		t.Errorf("Expected history to stop at head, got %q", got)
	}
}

type staticResolver struct {
	bodies map[string][]byte
}

func (r *staticResolver) Resolve(_ context.Context, content string) ([]byte, error) {
	if body, ok := r.bodies[content]; ok {
		return body, nil
	}
	return []byte(content), nil
}

func TestExportResolvesBlobs(t *testing.T) {
	ctx := context.Background()
	storage := checkpoint.NewStorage(t.TempDir(), 3)
	store := files.NewMemStore()
	manager := checkpoint.NewManager(storage, store, nil, nil)
	resolver := &staticResolver{bodies: map[string][]byte{
		"blob:abc123": []byte("raw bytes"),
	}}
	exporter := New(manager, store, resolver, nil)

	if _, err := store.CreateFile(ctx, "proj-1", nil, "logo.png", "blob:abc123", files.CreateOptions{}); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "repo")
	if _, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{Dir: dir}); err != nil {
		t.Fatalf("ExportSession failed: %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if got := fileAt(t, commit, "logo.png"); got != "raw bytes" {
		t.Errorf("Expected resolved blob body, got '%s'", got)
	}
}

func TestExportValidation(t *testing.T) {
	ctx := context.Background()
	exporter, _, store := newTestExporter(t)

	if _, err := store.CreateFile(ctx, "proj-1", nil, "a.txt", "a", files.CreateOptions{}); err != nil {
		t.Fatal(err)
	}

	t.Run("MissingDir", func(t *testing.T) {
		_, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{})
		if !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Expected invalid error, got %v", err)
		}
	})

	t.Run("ExistingRepo", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "repo")
		if _, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{Dir: dir}); err != nil {
			t.Fatalf("First export failed: %v", err)
		}
		_, err := exporter.ExportSession(ctx, "proj-1", "session-1", Options{Dir: dir})
		if !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("Expected conflict error, got %v", err)
		}
	})
}
