// internal/filetree/tasks_test.go
package filetree

import (
	"context"
	"errors"
	"testing"

	"driftpad/internal/apperr"
	"driftpad/internal/files"
)

func TestImportFiles(t *testing.T) {
	ctx := context.Background()
	store := files.NewMemStore()
	mut := NewMutator("proj-1", store, nil, nil, Options{PoolWidth: 2})

	mustCreate(t, store, "proj-1", "taken.js", "already here")

	items := []BulkItem{
		{Path: "a.js", Content: "1"},
		{Path: "taken.js", Content: "clash"},
		{Path: "lib/b.js", Content: "2"},
		{Path: "lib/c.js", Content: "3"},
	}
	errs := mut.ImportFiles(ctx, items)
	if len(errs) != len(items) {
		t.Fatalf("Expected %d result slots, got %d", len(items), len(errs))
	}
	if !errors.Is(errs[1], apperr.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for the clashing item, got %v", errs[1])
	}
	for i, err := range errs {
		if i != 1 && err != nil {
			t.Errorf("Expected item %d to succeed, got %v", i, err)
		}
	}
	if got := readFile(t, store, "proj-1", "lib/b.js"); got != "2" {
		t.Errorf("Expected imported content '2', got '%s'", got)
	}
	if got := readFile(t, store, "proj-1", "taken.js"); got != "already here" {
		t.Errorf("Expected existing file untouched, got '%s'", got)
	}
}

func TestImportFilesUndo(t *testing.T) {
	ctx := context.Background()
	store := files.NewMemStore()
	mut := NewMutator("proj-1", store, nil, nil, Options{})

	errs := mut.ImportFiles(ctx, []BulkItem{
		{Path: "a.js", Content: "1"},
		{Path: "b.js", Content: "2"},
	})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Import item %d failed: %v", i, err)
		}
	}

	if err := mut.Undo(ctx); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	nodes, err := store.ListNodes(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Errorf("Expected imported files removed, got %d nodes", len(nodes))
	}
}

func TestImportFilesEmpty(t *testing.T) {
	mut := NewMutator("proj-1", files.NewMemStore(), nil, nil, Options{})

	if errs := mut.ImportFiles(context.Background(), nil); errs != nil {
		t.Errorf("Expected nil result for empty import, got %v", errs)
	}
}
