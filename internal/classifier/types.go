package classifier

// Lane is the coarse action category for a message.
const (
	LaneQuick  = "quick"
	LaneSticky = "sticky"
	LaneIgnore = "ignore"
)

// EmailAction is one proposed filing action for a message. MoveNow and
// Flag are tri-state: nil means "derive from the lane".
type EmailAction struct {
	UID          string  `json:"uid,omitempty"`
	Lane         string  `json:"lane,omitempty"`
	FolderPath   string  `json:"folder_path,omitempty"`
	NewFolder    string  `json:"new_folder,omitempty"`
	CreateFolder bool    `json:"create_folder,omitempty"`
	MoveNow      *bool   `json:"move_now,omitempty"`
	Flag         *bool   `json:"flag,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	DueDate      string  `json:"due_date,omitempty"`
	SnoozeUntil  string  `json:"snooze_until,omitempty"`
}

// CalendarProposal is a proposed calendar mutation extracted from a
// message. Action defaults to "create" when empty.
type CalendarProposal struct {
	Action     string  `json:"action,omitempty"`
	UID        string  `json:"uid,omitempty"`
	ThreadID   string  `json:"thread_id,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	Title      string  `json:"title,omitempty"`
	Calendar   string  `json:"calendar,omitempty"`
	StartsAt   string  `json:"starts_at,omitempty"`
	EndsAt     string  `json:"ends_at,omitempty"`
	Timezone   string  `json:"timezone,omitempty"`
	Location   string  `json:"location,omitempty"`
	URL        string  `json:"url,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Meta carries classification-level review signals.
type Meta struct {
	NeedsDecision bool   `json:"needs_decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Classification is the structured output of the model for one message.
// Every field is optional; an empty value means "do nothing".
type Classification struct {
	EmailActions []EmailAction      `json:"email_actions,omitempty"`
	Calendar     []CalendarProposal `json:"calendar,omitempty"`
	Review       []string           `json:"review,omitempty"`
	Meta         Meta               `json:"meta,omitempty"`
}

// ActionFor returns the email action addressed to the given UID, or the
// first action when none carries a UID.
func (c Classification) ActionFor(uid string) *EmailAction {
	for i := range c.EmailActions {
		if c.EmailActions[i].UID == uid {
			return &c.EmailActions[i]
		}
	}
	for i := range c.EmailActions {
		if c.EmailActions[i].UID == "" {
			return &c.EmailActions[i]
		}
	}
	return nil
}
