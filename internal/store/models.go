package store

import "time"

// Message lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
)

// Action log kinds.
const (
	ActionMove            = "move"
	ActionDecisionRequest = "decision_request"
	ActionCalendar        = "calendar"
	ActionArchive         = "archive"
	ActionMeta            = "meta"
	ActionPlan            = "plan"
)

// Message is one mailbox message as last seen by the processor. Rows
// are never deleted; every reclassification updates in place.
type Message struct {
	UID            string    `db:"uid"`
	MessageID      string    `db:"message_id"`
	ThreadID       string    `db:"thread_id"`
	Subject        string    `db:"subject"`
	Sender         string    `db:"sender"`
	ToRecipients   string    `db:"to_recipients"`
	CcRecipients   string    `db:"cc_recipients"`
	ReceivedAt     time.Time `db:"received_at"`
	LastSeenAt     time.Time `db:"last_seen_at"`
	Folder         string    `db:"folder"`
	TargetFolder   string    `db:"target_folder"`
	Classification string    `db:"classification"` // JSON snapshot
	Status         string    `db:"status"`
	NeedsDecision  bool      `db:"needs_decision"`
	SessionID      string    `db:"session_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// FolderHint is a learned sender-to-destination weight, unique per
// (sender, folder) pair.
type FolderHint struct {
	ID         int64     `db:"id"`
	Sender     string    `db:"sender"`
	Folder     string    `db:"folder"`
	Weight     float64   `db:"weight"`
	LastUsedAt time.Time `db:"last_used_at"`
}

// CalendarEvent is one calendar commitment, keyed by a supplied or
// deterministically derived UID.
type CalendarEvent struct {
	ID         int64     `db:"id"`
	UID        string    `db:"uid"`
	ThreadID   string    `db:"thread_id"`
	Provider   string    `db:"provider"`
	Title      string    `db:"title"`
	Calendar   string    `db:"calendar"`
	StartsAt   time.Time `db:"starts_at"`
	EndsAt     time.Time `db:"ends_at"`
	Timezone   string    `db:"timezone"`
	Location   string    `db:"location"`
	URL        string    `db:"url"`
	Notes      string    `db:"notes"`
	RawPayload string    `db:"raw_payload"` // JSON
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ConflictLog records a detected calendar overlap. Created once, never
// mutated here; resolution is an external workflow.
type ConflictLog struct {
	ID           int64     `db:"id"`
	Calendar     string    `db:"calendar"`
	ConflictType string    `db:"conflict_type"`
	Details      string    `db:"details"` // JSON
	Resolved     bool      `db:"resolved"`
	CreatedAt    time.Time `db:"created_at"`
}

// ActionLog is one append-only audit entry. The system of record for
// undo: move entries carry the source folder in their payload.
type ActionLog struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	EmailUID  string    `db:"email_uid"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"` // JSON
	CreatedAt time.Time `db:"created_at"`
}

// UndoToken is a short-lived capability to reverse one session's moves.
type UndoToken struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
