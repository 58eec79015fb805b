package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// maxHintWeight caps how strongly a single sender/folder pair can bias
// future classification context.
const maxHintWeight = 5.0

// BumpHint creates or strengthens the sender→folder hint. The weight
// grows by the action's confidence, capped at maxHintWeight.
func (s *Store) BumpHint(sender, folder string, confidence float64) error {
	if sender == "" {
		return nil
	}
	now := time.Now().UTC()

	var hint FolderHint
	err := s.db.Get(&hint,
		"SELECT * FROM folder_hints WHERE sender = ? AND folder = ?", sender, folder)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.Exec(
			"INSERT INTO folder_hints (sender, folder, weight, last_used_at) VALUES (?, ?, ?, ?)",
			sender, folder, confidence, now,
		)
		if err != nil {
			return fmt.Errorf("inserting hint: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting hint: %w", err)
	}

	weight := hint.Weight + confidence
	if weight > maxHintWeight {
		weight = maxHintWeight
	}
	_, err = s.db.Exec(
		"UPDATE folder_hints SET weight = ?, last_used_at = ? WHERE id = ?",
		weight, now, hint.ID,
	)
	if err != nil {
		return fmt.Errorf("updating hint: %w", err)
	}
	return nil
}

// HintsForSender returns the sender's learned destinations, strongest
// first.
func (s *Store) HintsForSender(sender string) ([]FolderHint, error) {
	var hints []FolderHint
	err := s.db.Select(&hints,
		"SELECT * FROM folder_hints WHERE sender = ? ORDER BY weight DESC", sender)
	if err != nil {
		return nil, fmt.Errorf("listing hints for %s: %w", sender, err)
	}
	return hints, nil
}
