// internal/database/chat.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"driftpad/internal/apperr"
	"driftpad/internal/chat"
)

// CreateSession inserts a new chat session for a project.
func (d *Database) CreateSession(ctx context.Context, projectID, title string) (*chat.Session, error) {
	now := time.Now()
	session := &chat.Session{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, project_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.ProjectID, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession retrieves a chat session by id.
func (d *Database) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, created_at, updated_at
		FROM chat_sessions WHERE id = ?`, id)

	session := &chat.Session{}
	err := row.Scan(&session.ID, &session.ProjectID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions retrieves a project's chat sessions, most recent first.
func (d *Database) ListSessions(ctx context.Context, projectID string) ([]chat.Session, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, title, created_at, updated_at
		FROM chat_sessions WHERE project_id = ? ORDER BY updated_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		var session chat.Session
		if err := rows.Scan(&session.ID, &session.ProjectID, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RenameSession updates a session's title.
func (d *Database) RenameSession(ctx context.Context, id, title string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (d *Database) DeleteSession(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage adds a message at the end of a session's history.
func (d *Database) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content, segments string) (*chat.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&position); err != nil {
		return nil, err
	}

	msg := &chat.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Segments:  segments,
		CreatedAt: time.Now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, position, role, content, segments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, position, msg.Role, msg.Content, msg.Segments, msg.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns a session's messages in conversation order.
func (d *Database) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, segments, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var msg chat.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Segments, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// TruncateMessages deletes messages at positions >= fromIndex.
func (d *Database) TruncateMessages(ctx context.Context, sessionID string, fromIndex int) error {
	if fromIndex < 0 {
		fromIndex = 0
	}
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM chat_messages WHERE session_id = ? AND position >= ?`, sessionID, fromIndex)
	return err
}
