// internal/filetree/tasks.go
package filetree

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"driftpad/internal/files"
)

// BulkItem is one file in a bulk import. Paths may contain slashes;
// intermediate folders are created under ParentID.
type BulkItem struct {
	Path     string
	Content  string
	ParentID *string
}

// ImportFiles creates many files through a bounded worker pool. The pool
// runs at the configured width, floored at one worker and capped at the
// item count. Result slot i holds item i's error; one failed item never
// stops the others. Successful creates are undoable as a single batch.
func (m *Mutator) ImportFiles(ctx context.Context, items []BulkItem) []error {
	if len(items) == 0 {
		return nil
	}
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	width := m.poolWidth
	if width < 1 {
		width = 1
	}
	if width > len(items) {
		width = len(items)
	}

	errs := make([]error, len(items))
	created := make([]string, len(items))
	var g errgroup.Group
	g.SetLimit(width)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			id, err := m.store.CreateFile(ctx, m.projectID, item.ParentID, item.Path, item.Content, files.CreateOptions{
				IdempotencyKey: uuid.New().String(),
			})
			if err != nil {
				errs[i] = fmt.Errorf("import %s: %w", item.Path, err)
				return nil
			}
			created[i] = id
			return nil
		})
	}
	_ = g.Wait()

	var roots []string
	for _, id := range created {
		if id != "" {
			roots = append(roots, id)
		}
	}
	if len(roots) > 0 {
		m.pushAction(Action{Kind: ActionCreate, RootIDs: roots})
		m.reconcile(ctx)
	}
	return errs
}
