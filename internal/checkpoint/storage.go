// internal/checkpoint/storage.go
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const stateSuffix = ".ckpt.zst"

// Storage persists one compressed state record per chat session.
type Storage struct {
	baseDir          string
	compressionLevel int
	mu               sync.RWMutex
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder
}

// NewStorage creates a checkpoint state store rooted at baseDir.
func NewStorage(baseDir string, compressionLevel int) *Storage {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	decoder, _ := zstd.NewReader(nil)

	return &Storage{
		baseDir:          baseDir,
		compressionLevel: compressionLevel,
		encoder:          encoder,
		decoder:          decoder,
	}
}

// Dir returns the state directory, watched for out-of-band rewrites.
func (s *Storage) Dir() string {
	return s.baseDir
}

func (s *Storage) statePath(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID+stateSuffix)
}

// SessionFromPath maps a state file path back to its session id. Empty when
// the path is not a state file (temp files, stray entries).
func SessionFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, stateSuffix) {
		return ""
	}
	return strings.TrimSuffix(base, stateSuffix)
}

// Save writes the session's full state record: JSON, zstd-compressed,
// replaced atomically so a concurrent reader never observes a torn file.
func (s *Storage) Save(state *State) error {
	if err := validSessionID(state.SessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state.V = 1
	state.UpdatedAt = time.Now()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	compressed := s.encoder.EncodeAll(raw, nil)

	path := s.statePath(state.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// Load reads a session's state. Unknown sessions and unreadable or
// malformed records all come back as an empty state.
func (s *Storage) Load(sessionID string) *State {
	empty := &State{V: 1, SessionID: sessionID}
	if validSessionID(sessionID) != nil {
		return empty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	compressed, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		return empty
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return empty
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return empty
	}
	if state.V != 1 {
		return empty
	}

	state.SessionID = sessionID
	return &state
}

// Delete removes a session's persisted state. Missing files are fine.
func (s *Storage) Delete(sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.statePath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete state file: %w", err)
	}
	return nil
}

// Sessions lists every session id with persisted state.
func (s *Storage) Sessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id := SessionFromPath(entry.Name()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func validSessionID(id string) error {
	if id == "" || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// GenerateID generates a unique checkpoint ID
func GenerateID() string {
	return uuid.New().String()
}
