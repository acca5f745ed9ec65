// internal/export/export.go
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"driftpad/internal/apperr"
	"driftpad/internal/checkpoint"
	"driftpad/internal/files"
)

// ContentResolver expands blob sentinels into raw bodies. Plain text passes
// through unchanged. The blob offloader satisfies this; a nil resolver
// exports sentinel markers verbatim.
type ContentResolver interface {
	Resolve(ctx context.Context, content string) ([]byte, error)
}

// Exporter turns a session's checkpoint history into a git repository, one
// commit per checkpoint, oldest first. Snapshots between checkpoints are
// reconstructed by replaying operations backwards from the current files.
type Exporter struct {
	manager  *checkpoint.Manager
	store    files.Store
	resolver ContentResolver
	log      *slog.Logger
}

func New(manager *checkpoint.Manager, store files.Store, resolver ContentResolver, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{manager: manager, store: store, resolver: resolver, log: log}
}

// Options configures one export run.
type Options struct {
	// Dir is the directory the repository is created in. It must not
	// already hold a repository.
	Dir         string
	AuthorName  string
	AuthorEmail string
}

// Result describes a finished export.
type Result struct {
	Dir     string `json:"dir"`
	Commits int    `json:"commits"`
	Head    string `json:"head"`
}

// ExportSession writes the session's history up to its head pointer as git
// commits. The work tree state before the first checkpoint becomes a
// baseline commit; each checkpoint after it becomes one commit carrying its
// description and anchor message id. Checkpoints past the head (an undone
// future) are not exported.
func (e *Exporter) ExportSession(ctx context.Context, projectID, sessionID string, opts Options) (*Result, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("export dir is required: %w", apperr.ErrInvalid)
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "Driftpad"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "driftpad@localhost"
	}

	current, err := e.projectSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}

	st := e.manager.SessionState(sessionID)
	history := st.Checkpoints[:headIndex(st)+1]

	// snapshots[i] is the tree before checkpoint i; the last entry is the
	// tree at the head, which is what the files store holds right now.
	snapshots := make([]map[string]string, len(history)+1)
	snapshots[len(history)] = current
	for i := len(history) - 1; i >= 0; i-- {
		snapshots[i] = invert(snapshots[i+1], history[i].Operations)
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	repo, err := git.PlainInitWithOptions(opts.Dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return nil, fmt.Errorf("export dir already holds a repository: %w", apperr.ErrConflict)
		}
		return nil, fmt.Errorf("init export repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	baselineWhen := time.Now()
	if len(history) > 0 {
		baselineWhen = history[0].CreatedAt
	}

	var head plumbing.Hash
	commits := 0
	prev := map[string]string{}

	commit := func(next map[string]string, message string, when time.Time) error {
		if err := e.writeSnapshot(ctx, worktree, opts.Dir, prev, next); err != nil {
			return err
		}
		hash, err := worktree.Commit(message, &git.CommitOptions{
			AllowEmptyCommits: true,
			Author: &object.Signature{
				Name:  opts.AuthorName,
				Email: opts.AuthorEmail,
				When:  when,
			},
		})
		if err != nil {
			return fmt.Errorf("commit snapshot: %w", err)
		}
		head = hash
		commits++
		prev = next
		return nil
	}

	if err := commit(snapshots[0], "Workspace baseline", baselineWhen); err != nil {
		return nil, err
	}
	for i, cp := range history {
		message := cp.Description
		if message == "" {
			message = fmt.Sprintf("Checkpoint %d", i+1)
		}
		message = fmt.Sprintf("%s\n\ncheckpoint: id=%s anchor=%s", message, cp.ID, cp.AnchorMessageID)
		if err := commit(snapshots[i+1], message, cp.CreatedAt); err != nil {
			return nil, err
		}
	}

	e.log.Info("exported session history",
		"session_id", sessionID,
		"dir", opts.Dir,
		"commits", commits)

	return &Result{Dir: opts.Dir, Commits: commits, Head: head.String()[:7]}, nil
}

// projectSnapshot collects path → content for every file node. Nodes whose
// parent chain is broken resolve to an empty path and are skipped.
func (e *Exporter) projectSnapshot(ctx context.Context, projectID string) (map[string]string, error) {
	nodes, err := e.store.ListNodes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project nodes: %w", err)
	}
	paths := files.BuildPaths(nodes)

	snapshot := make(map[string]string)
	for _, n := range nodes {
		if n.Type != files.TypeFile {
			continue
		}
		path := paths[n.ID]
		if path == "" {
			e.log.Warn("skipping file with broken path", "node_id", n.ID)
			continue
		}
		content, err := e.store.GetFileContent(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("read content for %s: %w", path, err)
		}
		snapshot[path] = content
	}
	return snapshot, nil
}

// invert produces the tree before a checkpoint from the tree after it by
// undoing the checkpoint's operations newest first.
func invert(after map[string]string, ops []checkpoint.Operation) map[string]string {
	before := make(map[string]string, len(after))
	for k, v := range after {
		before[k] = v
	}
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Kind {
		case checkpoint.OpCreate:
			delete(before, op.Path)
		case checkpoint.OpUpdate, checkpoint.OpDelete:
			before[op.Path] = op.BeforeText
		}
	}
	return before
}

// writeSnapshot stages the difference between two trees: removed paths are
// git-rm'd, new or changed paths written and added.
func (e *Exporter) writeSnapshot(ctx context.Context, worktree *git.Worktree, dir string, prev, next map[string]string) error {
	removed := make([]string, 0)
	for path := range prev {
		if _, ok := next[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		if _, err := worktree.Remove(path); err != nil {
			return fmt.Errorf("git rm %s: %w", path, err)
		}
	}

	changed := make([]string, 0, len(next))
	for path, content := range next {
		if old, ok := prev[path]; ok && old == content {
			continue
		}
		changed = append(changed, path)
	}
	sort.Strings(changed)
	for _, path := range changed {
		body, err := e.resolve(ctx, next[path])
		if err != nil {
			return fmt.Errorf("resolve content for %s: %w", path, err)
		}
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", path, err)
		}
		if err := os.WriteFile(full, body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if _, err := worktree.Add(path); err != nil {
			return fmt.Errorf("git add %s: %w", path, err)
		}
	}
	return nil
}

func (e *Exporter) resolve(ctx context.Context, content string) ([]byte, error) {
	if e.resolver == nil {
		return []byte(content), nil
	}
	return e.resolver.Resolve(ctx, content)
}

// headIndex resolves the head pointer against the checkpoint list. An empty
// head sits before all checkpoints; a stale id falls back to the tail.
func headIndex(st *checkpoint.State) int {
	if st.HeadCheckpointID == "" {
		return -1
	}
	for i := range st.Checkpoints {
		if st.Checkpoints[i].ID == st.HeadCheckpointID {
			return i
		}
	}
	return len(st.Checkpoints) - 1
}
