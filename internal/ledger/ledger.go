// Package ledger keeps the append-only audit trail of executed actions
// and the short-lived tokens that reverse them.
package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/DJAMIRSAM/inbox-steward/internal/store"
)

// tokenTTL is how long an undo token stays redeemable.
const tokenTTL = 24 * time.Hour

// Mover is the slice of the mailbox the ledger needs to reverse moves.
type Mover interface {
	Move(uid, fromFolder, toFolder string) error
}

// LockFunc acquires the exclusive section for one message UID and
// returns its release. Undo runs each entry's mailbox move and folder
// update inside it so reversals cannot interleave with a concurrent
// writer moving the same message.
type LockFunc func(uid string) (release func())

type Ledger struct {
	store   *store.Store
	mailbox Mover
	now     func() time.Time
}

func New(st *store.Store, mailbox Mover) *Ledger {
	return &Ledger{store: st, mailbox: mailbox, now: time.Now}
}

// Record appends one audit entry. The payload is stored as JSON; move
// entries must carry the source folder so undo never has to consult
// live mailbox state.
func (l *Ledger) Record(sessionID, uid, kind string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding action payload: %w", err)
	}
	return l.store.AppendAction(store.ActionLog{
		SessionID: sessionID,
		EmailUID:  uid,
		Kind:      kind,
		Payload:   string(encoded),
	})
}

// IssueOrReuseToken returns the session's live undo token, minting one
// only when none exists. At most one live token per session.
func (l *Ledger) IssueOrReuseToken(sessionID string) (string, error) {
	now := l.now().UTC()

	existing, err := l.store.LiveTokenForSession(sessionID, now)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.Token, nil
	}

	value := uuid.NewString()
	err = l.store.InsertToken(store.UndoToken{
		SessionID: sessionID,
		Token:     value,
		ExpiresAt: now.Add(tokenTTL),
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// movePayload is the slice of a move entry's payload undo cares about.
type movePayload struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Undo reverses every move logged under the token's session, returning
// each message to its recorded source folder. Each entry's reversal
// runs inside lock(uid); nil means no serialization, for callers that
// own the only writer. The token is consumed; the log entries stay as
// history. Returns false for unknown, expired or already-consumed
// tokens. Per-entry move failures are logged and skipped so one stuck
// message cannot abort the rest.
func (l *Ledger) Undo(tokenValue string, lock LockFunc) (bool, error) {
	if lock == nil {
		lock = func(string) func() { return func() {} }
	}

	token, err := l.store.GetToken(tokenValue)
	if err != nil {
		return false, err
	}
	if token == nil {
		return false, nil
	}
	if token.ExpiresAt.Before(l.now().UTC()) {
		if err := l.store.DeleteToken(tokenValue); err != nil {
			log.Printf("Error deleting expired undo token: %v", err)
		}
		return false, nil
	}

	entries, err := l.store.ActionsBySession(token.SessionID)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if entry.Kind != store.ActionMove {
			continue
		}
		var payload movePayload
		if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil || payload.Source == "" {
			log.Printf("Skipping undo for entry %d: no source folder recorded", entry.ID)
			continue
		}

		release := lock(entry.EmailUID)
		if err := l.mailbox.Move(entry.EmailUID, payload.Destination, payload.Source); err != nil {
			log.Printf("Undo move failed for %s -> %s: %v", entry.EmailUID, payload.Source, err)
			release()
			continue
		}
		if err := l.store.UpdateMessageFolder(entry.EmailUID, payload.Source); err != nil {
			log.Printf("Error recording undone folder for %s: %v", entry.EmailUID, err)
		}
		release()
	}

	if err := l.store.DeleteToken(tokenValue); err != nil {
		return true, fmt.Errorf("consuming undo token: %w", err)
	}
	return true, nil
}
