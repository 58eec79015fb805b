package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertMessage inserts or updates the row for msg.UID. When the UID is
// unknown but the message-id matches an existing row (UIDs change when
// a message moves between folders), the old row is rekeyed to the new
// UID instead of duplicating history.
func (s *Store) UpsertMessage(msg Message) error {
	now := time.Now().UTC()

	existing, err := s.GetMessageByUID(msg.UID)
	if err != nil {
		return err
	}
	if existing == nil && msg.MessageID != "" {
		byMessageID, err := s.GetMessageByMessageID(msg.MessageID)
		if err != nil {
			return err
		}
		if byMessageID != nil {
			if _, err := s.db.Exec("UPDATE emails SET uid = ? WHERE uid = ?", msg.UID, byMessageID.UID); err != nil {
				return fmt.Errorf("rekeying message %s: %w", byMessageID.UID, err)
			}
			existing = byMessageID
		}
	}

	if existing == nil {
		if msg.Status == "" {
			msg.Status = StatusPending
		}
		_, err := s.db.Exec(`
			INSERT INTO emails (
				uid, message_id, thread_id, subject, sender,
				to_recipients, cc_recipients, received_at, last_seen_at,
				folder, target_folder, classification, status,
				needs_decision, session_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.UID, msg.MessageID, msg.ThreadID, msg.Subject, msg.Sender,
			msg.ToRecipients, msg.CcRecipients, msg.ReceivedAt.UTC(), now,
			msg.Folder, msg.TargetFolder, msg.Classification, msg.Status,
			msg.NeedsDecision, msg.SessionID, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", msg.UID, err)
		}
		return nil
	}

	status := msg.Status
	if status == "" {
		status = existing.Status
	}
	_, err = s.db.Exec(`
		UPDATE emails SET
			message_id = ?, thread_id = ?, subject = ?, sender = ?,
			to_recipients = ?, cc_recipients = ?, last_seen_at = ?,
			folder = ?, target_folder = ?, classification = ?, status = ?,
			needs_decision = ?, session_id = ?, updated_at = ?
		WHERE uid = ?`,
		msg.MessageID, msg.ThreadID, msg.Subject, msg.Sender,
		msg.ToRecipients, msg.CcRecipients, now,
		msg.Folder, msg.TargetFolder, msg.Classification, status,
		msg.NeedsDecision, msg.SessionID, now,
		msg.UID,
	)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", msg.UID, err)
	}
	return nil
}

func (s *Store) GetMessageByUID(uid string) (*Message, error) {
	var msg Message
	err := s.db.Get(&msg, "SELECT * FROM emails WHERE uid = ?", uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", uid, err)
	}
	return &msg, nil
}

func (s *Store) GetMessageByMessageID(messageID string) (*Message, error) {
	var msg Message
	err := s.db.Get(&msg,
		"SELECT * FROM emails WHERE message_id = ? ORDER BY updated_at DESC LIMIT 1", messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message by message-id: %w", err)
	}
	return &msg, nil
}

// ListMessages returns every known message, oldest first. Used by the
// full-sort and what-if sweeps.
func (s *Store) ListMessages() ([]Message, error) {
	var msgs []Message
	if err := s.db.Select(&msgs, "SELECT * FROM emails ORDER BY received_at ASC"); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// UpdateMessageFolder records the message's current mailbox folder
// after an executed move.
func (s *Store) UpdateMessageFolder(uid, folder string) error {
	_, err := s.db.Exec(
		"UPDATE emails SET folder = ?, updated_at = ? WHERE uid = ?",
		folder, time.Now().UTC(), uid,
	)
	if err != nil {
		return fmt.Errorf("updating folder for %s: %w", uid, err)
	}
	return nil
}
