// internal/prefs/prefs.go
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"driftpad/internal/apperr"
	"driftpad/internal/chat"
)

// Setting keys in the workspace settings table.
const (
	keyAutoReview        = "prefs.auto_review"
	keyDefaultChatMode   = "prefs.default_chat_mode"
	keySkipDeleteConfirm = "prefs.skip_delete_confirm"
	keyPoolWidth         = "prefs.pool_width"
	keyUndoDepth         = "prefs.undo_depth"
)

// Store is the slice of the workspace database preferences live in.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key, value string) error
}

// Preferences are the user-tunable workspace settings. They persist in the
// settings table and load once at startup; the config file only provides
// the defaults for a fresh workspace.
type Preferences struct {
	AutoReview        bool                `json:"autoReview"`
	DefaultChatMode   chat.CompletionMode `json:"defaultChatMode"`
	SkipDeleteConfirm bool                `json:"skipDeleteConfirm"`
	PoolWidth         int                 `json:"poolWidth"`
	UndoDepth         int                 `json:"undoDepth"`
}

func (p Preferences) validate() error {
	switch p.DefaultChatMode {
	case chat.ModeAgent, chat.ModePlan, chat.ModeAsk:
	default:
		return fmt.Errorf("chat mode %q: %w", p.DefaultChatMode, apperr.ErrInvalid)
	}
	if p.PoolWidth < 1 {
		return fmt.Errorf("pool width %d: %w", p.PoolWidth, apperr.ErrInvalid)
	}
	if p.UndoDepth < 1 {
		return fmt.Errorf("undo depth %d: %w", p.UndoDepth, apperr.ErrInvalid)
	}
	return nil
}

// Manager holds the loaded preferences and writes updates through to the
// settings table.
type Manager struct {
	store Store
	log   *slog.Logger

	mu sync.RWMutex
	p  Preferences
}

// Load reads preferences over the given defaults. Unset keys keep their
// default; unparseable stored values are logged and fall back too, so a
// damaged settings row never blocks startup.
func Load(ctx context.Context, store Store, defaults Preferences, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if defaults.DefaultChatMode == "" {
		defaults.DefaultChatMode = chat.ModeAgent
	}
	if err := defaults.validate(); err != nil {
		return nil, fmt.Errorf("preference defaults: %w", err)
	}

	m := &Manager{store: store, log: log, p: defaults}
	m.p.AutoReview = m.loadBool(ctx, keyAutoReview, defaults.AutoReview)
	m.p.SkipDeleteConfirm = m.loadBool(ctx, keySkipDeleteConfirm, defaults.SkipDeleteConfirm)
	m.p.PoolWidth = m.loadInt(ctx, keyPoolWidth, defaults.PoolWidth)
	m.p.UndoDepth = m.loadInt(ctx, keyUndoDepth, defaults.UndoDepth)

	if raw, err := store.GetSetting(ctx, keyDefaultChatMode); err == nil {
		mode := chat.CompletionMode(raw)
		switch mode {
		case chat.ModeAgent, chat.ModePlan, chat.ModeAsk:
			m.p.DefaultChatMode = mode
		default:
			m.log.Warn("ignoring stored preference", "key", keyDefaultChatMode, "value", raw)
		}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	return m, nil
}

func (m *Manager) loadBool(ctx context.Context, key string, fallback bool) bool {
	raw, err := m.store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		m.log.Warn("ignoring stored preference", "key", key, "value", raw)
		return fallback
	}
	return v
}

func (m *Manager) loadInt(ctx context.Context, key string, fallback int) int {
	raw, err := m.store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		m.log.Warn("ignoring stored preference", "key", key, "value", raw)
		return fallback
	}
	return v
}

// Current returns the loaded preferences.
func (m *Manager) Current() Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p
}

// Update validates and persists a full preference set, then swaps it in.
func (m *Manager) Update(ctx context.Context, p Preferences) error {
	if err := p.validate(); err != nil {
		return err
	}

	pairs := []struct{ key, value string }{
		{keyAutoReview, strconv.FormatBool(p.AutoReview)},
		{keyDefaultChatMode, string(p.DefaultChatMode)},
		{keySkipDeleteConfirm, strconv.FormatBool(p.SkipDeleteConfirm)},
		{keyPoolWidth, strconv.Itoa(p.PoolWidth)},
		{keyUndoDepth, strconv.Itoa(p.UndoDepth)},
	}
	for _, kv := range pairs {
		if err := m.store.SaveSetting(ctx, kv.key, kv.value); err != nil {
			return fmt.Errorf("save preference %s: %w", kv.key, err)
		}
	}

	m.mu.Lock()
	m.p = p
	m.mu.Unlock()
	return nil
}
