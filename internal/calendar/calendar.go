// Package calendar maintains calendar commitments extracted from mail
// and surfaces scheduling conflicts without ever blocking on them.
package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/classifier"
	"github.com/DJAMIRSAM/inbox-steward/internal/store"
)

// DefaultCalendar is used when a proposal names no calendar.
const DefaultCalendar = "Home"

// Outcome statuses returned by Apply.
const (
	StatusCreated   = "created"
	StatusUpdated   = "updated"
	StatusCancelled = "cancelled"
	StatusMissing   = "missing"
	StatusIgnored   = "ignored"
)

// Conflict describes the existing event a proposal overlaps with.
type Conflict struct {
	ExistingUID   string `json:"existing_uid"`
	ExistingTitle string `json:"existing_title"`
	ExistingStart string `json:"existing_start"`
}

// Outcome is the result of applying one proposal.
type Outcome struct {
	Status   string    `json:"status"`
	UID      string    `json:"uid,omitempty"`
	Conflict *Conflict `json:"conflict,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

type Ledger struct {
	store           *store.Store
	defaultTimezone string
	now             func() time.Time
}

func New(st *store.Store, defaultTimezone string) *Ledger {
	return &Ledger{store: st, defaultTimezone: defaultTimezone, now: time.Now}
}

// Apply executes one calendar proposal. Create degrades to update when
// the UID already exists, update degrades to create when it does not,
// and conflicts are recorded and returned but never block the write.
func (l *Ledger) Apply(proposal classifier.CalendarProposal) (Outcome, error) {
	switch proposal.Action {
	case "", "create":
		return l.create(proposal)
	case "update":
		return l.update(proposal)
	case "cancel":
		return l.cancel(proposal)
	default:
		return Outcome{Status: StatusIgnored, Reason: fmt.Sprintf("unknown action %q", proposal.Action)}, nil
	}
}

func (l *Ledger) create(proposal classifier.CalendarProposal) (Outcome, error) {
	uid := l.uid(proposal)

	existing, err := l.store.GetEventByUID(uid)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		proposal.UID = uid
		return l.update(proposal)
	}

	startsAt := l.parseTime(proposal.StartsAt)
	endsAt := l.parseTime(proposal.EndsAt)
	calendarName := l.calendarName(proposal)

	conflict, err := l.detectConflict(calendarName, startsAt, endsAt, uid)
	if err != nil {
		return Outcome{}, err
	}
	if conflict != nil {
		l.logConflict(calendarName, proposal, conflict)
	}

	if err := l.store.InsertEvent(l.buildEvent(uid, proposal, calendarName, startsAt, endsAt)); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusCreated, UID: uid, Conflict: conflict}, nil
}

func (l *Ledger) update(proposal classifier.CalendarProposal) (Outcome, error) {
	uid := l.uid(proposal)

	existing, err := l.store.GetEventByUID(uid)
	if err != nil {
		return Outcome{}, err
	}
	if existing == nil {
		proposal.UID = uid
		return l.create(proposal)
	}

	// Merge non-empty fields over the stored record.
	if proposal.Title != "" {
		existing.Title = proposal.Title
	}
	if proposal.Calendar != "" {
		existing.Calendar = proposal.Calendar
	}
	if proposal.StartsAt != "" {
		existing.StartsAt = l.parseTime(proposal.StartsAt)
	}
	if proposal.EndsAt != "" {
		existing.EndsAt = l.parseTime(proposal.EndsAt)
	}
	if proposal.Timezone != "" {
		existing.Timezone = proposal.Timezone
	}
	if proposal.Location != "" {
		existing.Location = proposal.Location
	}
	if proposal.URL != "" {
		existing.URL = proposal.URL
	}
	if proposal.Notes != "" {
		existing.Notes = proposal.Notes
	}
	if proposal.ThreadID != "" {
		existing.ThreadID = proposal.ThreadID
	}
	if proposal.Provider != "" {
		existing.Provider = proposal.Provider
	}
	existing.RawPayload = marshalPayload(proposal)

	conflict, err := l.detectConflict(existing.Calendar, existing.StartsAt, existing.EndsAt, uid)
	if err != nil {
		return Outcome{}, err
	}
	if conflict != nil {
		l.logConflict(existing.Calendar, proposal, conflict)
	}

	if err := l.store.UpdateEvent(*existing); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusUpdated, UID: uid, Conflict: conflict}, nil
}

func (l *Ledger) cancel(proposal classifier.CalendarProposal) (Outcome, error) {
	uid := l.uid(proposal)

	existing, err := l.store.GetEventByUID(uid)
	if err != nil {
		return Outcome{}, err
	}
	if existing == nil {
		return Outcome{Status: StatusMissing, UID: uid}, nil
	}
	if err := l.store.DeleteEvent(uid); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusCancelled, UID: uid}, nil
}

// uid returns the proposal's UID, or derives one from provider, title,
// start and location so repeated proposals for the same event collapse
// onto one record.
func (l *Ledger) uid(proposal classifier.CalendarProposal) string {
	if proposal.UID != "" {
		return proposal.UID
	}
	digest := sha256.New()
	digest.Write([]byte(proposal.Provider))
	digest.Write([]byte(proposal.Title))
	digest.Write([]byte(proposal.StartsAt))
	digest.Write([]byte(proposal.Location))
	return hex.EncodeToString(digest.Sum(nil))
}

// parseTime accepts RFC 3339 with or without an offset; offset-less
// values are treated as UTC. Anything unparseable defaults to now:
// best-effort scheduling beats hard validation here.
func (l *Ledger) parseTime(value string) time.Time {
	if value == "" {
		return l.now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return l.now().UTC()
}

func (l *Ledger) calendarName(proposal classifier.CalendarProposal) string {
	if proposal.Calendar != "" {
		return proposal.Calendar
	}
	return DefaultCalendar
}

// detectConflict compares half-open intervals [start, end) against
// every other event on the same calendar. Touching intervals do not
// conflict.
func (l *Ledger) detectConflict(calendarName string, start, end time.Time, excludeUID string) (*Conflict, error) {
	events, err := l.store.ListEventsByCalendar(calendarName)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if event.UID == excludeUID {
			continue
		}
		if event.StartsAt.Before(end) && start.Before(event.EndsAt) {
			return &Conflict{
				ExistingUID:   event.UID,
				ExistingTitle: event.Title,
				ExistingStart: event.StartsAt.UTC().Format(time.RFC3339),
			}, nil
		}
	}
	return nil, nil
}

func (l *Ledger) logConflict(calendarName string, proposal classifier.CalendarProposal, conflict *Conflict) {
	details, _ := json.Marshal(map[string]any{
		"payload":  proposal,
		"conflict": conflict,
	})
	err := l.store.InsertConflict(store.ConflictLog{
		Calendar:     calendarName,
		ConflictType: "calendar",
		Details:      string(details),
	})
	if err != nil {
		log.Printf("Error recording calendar conflict: %v", err)
	}
}

func (l *Ledger) buildEvent(uid string, proposal classifier.CalendarProposal, calendarName string, startsAt, endsAt time.Time) store.CalendarEvent {
	timezone := proposal.Timezone
	if timezone == "" {
		timezone = l.defaultTimezone
	}
	return store.CalendarEvent{
		UID:        uid,
		ThreadID:   proposal.ThreadID,
		Provider:   proposal.Provider,
		Title:      proposal.Title,
		Calendar:   calendarName,
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		Timezone:   timezone,
		Location:   proposal.Location,
		URL:        proposal.URL,
		Notes:      proposal.Notes,
		RawPayload: marshalPayload(proposal),
	}
}

func marshalPayload(proposal classifier.CalendarProposal) string {
	raw, _ := json.Marshal(proposal)
	return string(raw)
}
