package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) GetEventByUID(uid string) (*CalendarEvent, error) {
	var event CalendarEvent
	err := s.db.Get(&event, "SELECT * FROM calendar_events WHERE uid = ?", uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event %s: %w", uid, err)
	}
	return &event, nil
}

// ListEventsByCalendar returns every event on one calendar, ordered by
// start time. Conflict detection scans these.
func (s *Store) ListEventsByCalendar(calendar string) ([]CalendarEvent, error) {
	var events []CalendarEvent
	err := s.db.Select(&events,
		"SELECT * FROM calendar_events WHERE calendar = ? ORDER BY starts_at ASC", calendar)
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", calendar, err)
	}
	return events, nil
}

func (s *Store) InsertEvent(event CalendarEvent) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO calendar_events (
			uid, thread_id, provider, title, calendar,
			starts_at, ends_at, timezone, location, url, notes,
			raw_payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.UID, event.ThreadID, event.Provider, event.Title, event.Calendar,
		event.StartsAt.UTC(), event.EndsAt.UTC(), event.Timezone,
		event.Location, event.URL, event.Notes,
		event.RawPayload, now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", event.UID, err)
	}
	return nil
}

func (s *Store) UpdateEvent(event CalendarEvent) error {
	_, err := s.db.Exec(`
		UPDATE calendar_events SET
			thread_id = ?, provider = ?, title = ?, calendar = ?,
			starts_at = ?, ends_at = ?, timezone = ?, location = ?,
			url = ?, notes = ?, raw_payload = ?, updated_at = ?
		WHERE uid = ?`,
		event.ThreadID, event.Provider, event.Title, event.Calendar,
		event.StartsAt.UTC(), event.EndsAt.UTC(), event.Timezone, event.Location,
		event.URL, event.Notes, event.RawPayload, time.Now().UTC(),
		event.UID,
	)
	if err != nil {
		return fmt.Errorf("updating event %s: %w", event.UID, err)
	}
	return nil
}

func (s *Store) DeleteEvent(uid string) error {
	_, err := s.db.Exec("DELETE FROM calendar_events WHERE uid = ?", uid)
	if err != nil {
		return fmt.Errorf("deleting event %s: %w", uid, err)
	}
	return nil
}

// InsertConflict appends a conflict record. Conflicts are never
// resolved by this service, only surfaced.
func (s *Store) InsertConflict(conflict ConflictLog) error {
	_, err := s.db.Exec(
		"INSERT INTO conflict_logs (calendar, conflict_type, details, resolved, created_at) VALUES (?, ?, ?, 0, ?)",
		conflict.Calendar, conflict.ConflictType, conflict.Details, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting conflict: %w", err)
	}
	return nil
}
