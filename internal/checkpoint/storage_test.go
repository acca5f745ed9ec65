// internal/checkpoint/storage_test.go
package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorage(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "checkpoint_storage_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	storage := NewStorage(tempDir, 3)

	t.Run("SaveAndLoad", func(t *testing.T) {
		state := &State{
			ProjectID: "proj-1",
			SessionID: "session-1",
			Checkpoints: []Checkpoint{
				{
					ID:              GenerateID(),
					AnchorMessageID: "m1",
					Description:     "first",
					Operations: []Operation{
						NewOperation("main.go", OpUpdate, "a\n", "b\n"),
					},
				},
			},
		}
		state.HeadCheckpointID = state.Checkpoints[0].ID

		if err := storage.Save(state); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if state.UpdatedAt.IsZero() {
			t.Error("Expected UpdatedAt to be set on save")
		}

		loaded := storage.Load("session-1")
		if loaded.V != 1 {
			t.Errorf("Expected version 1, got %d", loaded.V)
		}
		if loaded.ProjectID != "proj-1" {
			t.Errorf("Expected project 'proj-1', got '%s'", loaded.ProjectID)
		}
		if len(loaded.Checkpoints) != 1 {
			t.Fatalf("Expected 1 checkpoint, got %d", len(loaded.Checkpoints))
		}
		if loaded.HeadCheckpointID != state.Checkpoints[0].ID {
			t.Errorf("Expected head '%s', got '%s'", state.Checkpoints[0].ID, loaded.HeadCheckpointID)
		}
		op := loaded.Checkpoints[0].Operations[0]
		if op.Patch == "" {
			t.Error("Expected operation patch to survive the round trip")
		}
	})

	t.Run("NoTempFileLeftBehind", func(t *testing.T) {
		entries, err := os.ReadDir(tempDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, entry := range entries {
			if filepath.Ext(entry.Name()) == ".tmp" {
				t.Errorf("Found stray temp file %s", entry.Name())
			}
		}
	})

	t.Run("LoadMissingSession", func(t *testing.T) {
		loaded := storage.Load("never-saved")
		if loaded == nil {
			t.Fatal("Expected empty state, got nil")
		}
		if loaded.SessionID != "never-saved" {
			t.Errorf("Expected session id 'never-saved', got '%s'", loaded.SessionID)
		}
		if len(loaded.Checkpoints) != 0 || loaded.HeadCheckpointID != "" {
			t.Error("Expected empty state for unknown session")
		}
	})

	t.Run("LoadCorruptFile", func(t *testing.T) {
		path := filepath.Join(tempDir, "corrupt"+stateSuffix)
		if err := os.WriteFile(path, []byte("not zstd at all"), 0644); err != nil {
			t.Fatal(err)
		}

		loaded := storage.Load("corrupt")
		if len(loaded.Checkpoints) != 0 || loaded.HeadCheckpointID != "" {
			t.Error("Expected corrupt state to load as empty")
		}
	})

	t.Run("LoadWrongVersion", func(t *testing.T) {
		raw := []byte(`{"v":2,"sessionId":"future","checkpoints":[{"id":"x"}]}`)
		compressed := storage.encoder.EncodeAll(raw, nil)
		path := filepath.Join(tempDir, "future"+stateSuffix)
		if err := os.WriteFile(path, compressed, 0644); err != nil {
			t.Fatal(err)
		}

		loaded := storage.Load("future")
		if len(loaded.Checkpoints) != 0 {
			t.Error("Expected unknown schema version to load as empty")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		state := &State{SessionID: "doomed"}
		if err := storage.Save(state); err != nil {
			t.Fatal(err)
		}

		if err := storage.Delete("doomed"); err != nil {
			t.Errorf("Delete failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(tempDir, "doomed"+stateSuffix)); !os.IsNotExist(err) {
			t.Error("Expected state file to be removed")
		}

		// Deleting again is fine.
		if err := storage.Delete("doomed"); err != nil {
			t.Errorf("Second delete failed: %v", err)
		}
	})

	t.Run("Sessions", func(t *testing.T) {
		if err := storage.Save(&State{SessionID: "list-a"}); err != nil {
			t.Fatal(err)
		}
		if err := storage.Save(&State{SessionID: "list-b"}); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(tempDir, "junk.txt"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		ids, err := storage.Sessions()
		if err != nil {
			t.Fatalf("Sessions failed: %v", err)
		}
		found := map[string]bool{}
		for _, id := range ids {
			found[id] = true
		}
		if !found["list-a"] || !found["list-b"] {
			t.Errorf("Expected list-a and list-b in %v", ids)
		}
		if found["junk"] {
			t.Error("Expected non-state files to be skipped")
		}
	})

	t.Run("RejectsBadSessionID", func(t *testing.T) {
		if err := storage.Save(&State{SessionID: "../escape"}); err == nil {
			t.Error("Expected save with path traversal to fail")
		}
		if err := storage.Save(&State{SessionID: ""}); err == nil {
			t.Error("Expected save with empty session id to fail")
		}

		loaded := storage.Load("../escape")
		if len(loaded.Checkpoints) != 0 {
			t.Error("Expected bad session id to load as empty")
		}
	})
}

func TestSessionFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"abc.ckpt.zst", "abc"},
		{"/state/dir/abc.ckpt.zst", "abc"},
		{"abc.ckpt.zst.tmp", ""},
		{"abc.txt", ""},
		{"nested/session-1.ckpt.zst", "session-1"},
	}

	for _, tt := range tests {
		if got := SessionFromPath(tt.path); got != tt.want {
			t.Errorf("SessionFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
