package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendAction writes one audit entry. Entries are never updated or
// deleted; undo replays them but leaves them in place as history.
func (s *Store) AppendAction(entry ActionLog) error {
	_, err := s.db.Exec(
		"INSERT INTO action_logs (session_id, email_uid, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.SessionID, entry.EmailUID, entry.Kind, entry.Payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending action log: %w", err)
	}
	return nil
}

func (s *Store) ActionsBySession(sessionID string) ([]ActionLog, error) {
	var entries []ActionLog
	err := s.db.Select(&entries,
		"SELECT * FROM action_logs WHERE session_id = ? ORDER BY id ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing actions for session: %w", err)
	}
	return entries, nil
}

// ActionsByUID returns the audit trail for one message, newest first.
func (s *Store) ActionsByUID(uid string, limit int) ([]ActionLog, error) {
	var entries []ActionLog
	err := s.db.Select(&entries,
		"SELECT * FROM action_logs WHERE email_uid = ? ORDER BY id DESC LIMIT ?", uid, limit)
	if err != nil {
		return nil, fmt.Errorf("listing actions for %s: %w", uid, err)
	}
	return entries, nil
}

// LiveTokenForSession returns the session's unexpired token, if any.
func (s *Store) LiveTokenForSession(sessionID string, now time.Time) (*UndoToken, error) {
	var token UndoToken
	err := s.db.Get(&token,
		"SELECT * FROM undo_tokens WHERE session_id = ? AND expires_at > ? ORDER BY id DESC LIMIT 1",
		sessionID, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting live token: %w", err)
	}
	return &token, nil
}

func (s *Store) InsertToken(token UndoToken) error {
	_, err := s.db.Exec(
		"INSERT INTO undo_tokens (session_id, token, expires_at, created_at) VALUES (?, ?, ?, ?)",
		token.SessionID, token.Token, token.ExpiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting undo token: %w", err)
	}
	return nil
}

func (s *Store) GetToken(value string) (*UndoToken, error) {
	var token UndoToken
	err := s.db.Get(&token, "SELECT * FROM undo_tokens WHERE token = ?", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting undo token: %w", err)
	}
	return &token, nil
}

func (s *Store) DeleteToken(value string) error {
	_, err := s.db.Exec("DELETE FROM undo_tokens WHERE token = ?", value)
	if err != nil {
		return fmt.Errorf("deleting undo token: %w", err)
	}
	return nil
}
