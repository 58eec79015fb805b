package processor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/calendar"
	"github.com/DJAMIRSAM/inbox-steward/internal/classifier"
	"github.com/DJAMIRSAM/inbox-steward/internal/ledger"
	"github.com/DJAMIRSAM/inbox-steward/internal/mailbox"
	"github.com/DJAMIRSAM/inbox-steward/internal/notify"
	"github.com/DJAMIRSAM/inbox-steward/internal/store"
)

type fakeMailbox struct {
	seen     []mailbox.Message
	flagged  map[string][]mailbox.Message
	folders  []string
	moves    map[string]string
	flags    map[string]bool
	ensured  []string
	failMove map[string]bool
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		flagged: map[string][]mailbox.Message{},
		folders: []string{"INBOX", "Finance/Receipts", "Newsletters"},
		moves:   map[string]string{},
		flags:   map[string]bool{},
	}
}

func (m *fakeMailbox) FetchSeen() ([]mailbox.Message, error) { return m.seen, nil }
func (m *fakeMailbox) FetchFlagged(folder string) ([]mailbox.Message, error) {
	return m.flagged[folder], nil
}
func (m *fakeMailbox) Move(uid, _, toFolder string) error {
	if m.failMove[uid] {
		return errors.New("move failed")
	}
	m.moves[uid] = toFolder
	return nil
}
func (m *fakeMailbox) Flag(uid, _ string) error   { m.flags[uid] = true; return nil }
func (m *fakeMailbox) Unflag(uid, _ string) error { m.flags[uid] = false; return nil }
func (m *fakeMailbox) EnsureFolder(path string) error {
	m.ensured = append(m.ensured, path)
	return nil
}
func (m *fakeMailbox) ListFolders() ([]string, error)  { return m.folders, nil }
func (m *fakeMailbox) Diagnostics() mailbox.Diagnostics {
	return mailbox.Diagnostics{Backend: "fake", Connected: true}
}
func (m *fakeMailbox) Reset() {}

type fakeClassifier struct {
	result classifier.Classification
	calls  int
}

func (c *fakeClassifier) Classify(_ context.Context, _ classifier.Context) classifier.Classification {
	c.calls++
	return c.result
}

type decisionRequest struct {
	uid         string
	reason      string
	safeDefault string
	token       string
}

type fakeNotifier struct {
	decisions []decisionRequest
	conflicts []calendar.Conflict
	digests   [][]string
}

var _ notify.Notifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) SendDecisionRequest(message mailbox.Message, reason, safeDefault, undoToken string) {
	n.decisions = append(n.decisions, decisionRequest{message.UID, reason, safeDefault, undoToken})
}
func (n *fakeNotifier) SendConflict(conflict calendar.Conflict) {
	n.conflicts = append(n.conflicts, conflict)
}
func (n *fakeNotifier) SendDigest(reviewUIDs []string, sessionID, undoToken string) {
	n.digests = append(n.digests, reviewUIDs)
}

type fixture struct {
	proc       *Processor
	store      *store.Store
	mailbox    *fakeMailbox
	classifier *fakeClassifier
	notifier   *fakeNotifier
}

func newFixture(t *testing.T, result classifier.Classification) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mb := newFakeMailbox()
	cl := &fakeClassifier{result: result}
	nt := &fakeNotifier{}
	cal := calendar.New(st, "UTC")
	led := ledger.New(st, mb)

	return &fixture{
		proc:       New(st, mb, cl, nt, cal, led, "INBOX", "Archive", time.Minute),
		store:      st,
		mailbox:    mb,
		classifier: cl,
		notifier:   nt,
	}
}

func inboxMessage(uid string) mailbox.Message {
	return mailbox.Message{
		UID:        uid,
		MessageID:  "<" + uid + "@example.com>",
		Subject:    "Your receipt",
		Sender:     "billing@example.com",
		ReceivedAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
}

func quickAction(confidence float64, dest string) classifier.Classification {
	return classifier.Classification{
		EmailActions: []classifier.EmailAction{{
			Lane:       classifier.LaneQuick,
			FolderPath: dest,
			Confidence: confidence,
		}},
	}
}

func TestQuickLaneMovesImmediately(t *testing.T) {
	f := newFixture(t, quickAction(0.9, "finance/receipts"))
	msg := inboxMessage("1")

	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.mailbox.moves["1"] != "Finance/Receipts" {
		t.Errorf("moved to %q, want Finance/Receipts", f.mailbox.moves["1"])
	}
	if len(f.mailbox.ensured) != 1 || f.mailbox.ensured[0] != "Finance/Receipts" {
		t.Errorf("destination not materialized before the move: %v", f.mailbox.ensured)
	}
	if f.mailbox.flags["1"] {
		t.Error("quick lane message left flagged")
	}
	if len(f.notifier.decisions) != 0 {
		t.Errorf("unexpected decision requests: %+v", f.notifier.decisions)
	}

	// The sender hint learned the destination.
	hints, err := f.store.HintsForSender("billing@example.com")
	if err != nil {
		t.Fatalf("listing hints: %v", err)
	}
	if len(hints) != 1 || hints[0].Folder != "Finance/Receipts" {
		t.Errorf("hints = %+v", hints)
	}

	// The move entry records the source folder for undo.
	entries, err := f.store.ActionsByUID("1", 10)
	if err != nil {
		t.Fatalf("listing actions: %v", err)
	}
	var foundMove bool
	for _, e := range entries {
		if e.Kind == store.ActionMove {
			foundMove = true
			if !strings.Contains(e.Payload, `"source":"INBOX"`) {
				t.Errorf("move payload missing source: %s", e.Payload)
			}
		}
	}
	if !foundMove {
		t.Error("no move entry logged")
	}

	record, err := f.store.GetMessageByUID("1")
	if err != nil {
		t.Fatalf("getting message: %v", err)
	}
	if record.Folder != "Finance/Receipts" {
		t.Errorf("recorded folder = %q", record.Folder)
	}
}

func TestLowConfidenceRequestsDecision(t *testing.T) {
	f := newFixture(t, quickAction(0.3, "Finance/Receipts"))
	msg := inboxMessage("1")

	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.mailbox.moves) != 0 {
		t.Errorf("low confidence message moved: %v", f.mailbox.moves)
	}
	if f.mailbox.flags["1"] {
		t.Error("low confidence message flagged")
	}
	if len(f.notifier.decisions) != 1 {
		t.Fatalf("got %d decision requests, want 1", len(f.notifier.decisions))
	}
	dr := f.notifier.decisions[0]
	if dr.safeDefault != "Leave in INBOX" {
		t.Errorf("safe default = %q", dr.safeDefault)
	}
	if dr.token == "" {
		t.Error("decision request missing undo token")
	}

	entries, err := f.store.ActionsByUID("1", 10)
	if err != nil {
		t.Fatalf("listing actions: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != store.ActionDecisionRequest {
		t.Errorf("entries = %+v, want one decision request", entries)
	}
}

func TestStickyLaneFlagsAndWaits(t *testing.T) {
	f := newFixture(t, classifier.Classification{
		EmailActions: []classifier.EmailAction{{
			Lane:       classifier.LaneSticky,
			FolderPath: "Home/Appointments",
			Confidence: 0.8,
		}},
	})
	msg := inboxMessage("7")

	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.mailbox.moves) != 0 {
		t.Errorf("sticky message moved from primary: %v", f.mailbox.moves)
	}
	if !f.mailbox.flags["7"] {
		t.Error("sticky message not flagged")
	}

	// A plan entry is logged but no hint is learned yet.
	entries, err := f.store.ActionsByUID("7", 10)
	if err != nil {
		t.Fatalf("listing actions: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != store.ActionPlan {
		t.Errorf("entries = %+v, want one plan entry", entries)
	}
	hints, err := f.store.HintsForSender("billing@example.com")
	if err != nil {
		t.Fatalf("listing hints: %v", err)
	}
	if len(hints) != 0 {
		t.Errorf("sticky message learned a hint prematurely: %+v", hints)
	}
}

func TestArchivedStickyExecutes(t *testing.T) {
	// A sticky message the user dragged to the archive counts as
	// approval: the planned move runs without re-flagging.
	f := newFixture(t, classifier.Classification{
		EmailActions: []classifier.EmailAction{{
			Lane:       classifier.LaneSticky,
			FolderPath: "Home/Appointments",
			Confidence: 0.8,
		}},
	})
	msg := inboxMessage("7")
	msg.Folder = "Archive"

	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.mailbox.moves["7"] != "Home/Appointments" {
		t.Errorf("moved to %q, want Home/Appointments", f.mailbox.moves["7"])
	}
	if f.mailbox.flags["7"] {
		t.Error("approved sticky message still flagged")
	}

	entries, err := f.store.ActionsByUID("7", 10)
	if err != nil {
		t.Fatalf("listing actions: %v", err)
	}
	var move *store.ActionLog
	var archived bool
	for i := range entries {
		switch entries[i].Kind {
		case store.ActionMove:
			move = &entries[i]
		case store.ActionArchive:
			archived = true
		}
	}
	if move == nil {
		t.Fatal("no move entry logged")
	}
	if !strings.Contains(move.Payload, `"source":"Archive"`) {
		t.Errorf("move payload source = %s, want Archive", move.Payload)
	}
	if !archived {
		t.Error("no archive approval entry logged")
	}
}

func TestNewFolderIsCreatedFirst(t *testing.T) {
	f := newFixture(t, classifier.Classification{
		EmailActions: []classifier.EmailAction{{
			Lane:         classifier.LaneQuick,
			NewFolder:    "vehicle/service records",
			CreateFolder: true,
			Confidence:   0.85,
		}},
	})

	if err := f.proc.ProcessMessage(context.Background(), inboxMessage("3"), nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.mailbox.ensured) != 1 || f.mailbox.ensured[0] != "Vehicle/Service Records" {
		t.Errorf("ensured folders = %v", f.mailbox.ensured)
	}
	if f.mailbox.moves["3"] != "Vehicle/Service Records" {
		t.Errorf("moved to %q", f.mailbox.moves["3"])
	}
}

func TestIgnoreLaneDoesNothing(t *testing.T) {
	f := newFixture(t, classifier.Classification{
		EmailActions: []classifier.EmailAction{{
			Lane:       classifier.LaneIgnore,
			Confidence: 0.9,
		}},
	})

	if err := f.proc.ProcessMessage(context.Background(), inboxMessage("4"), nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.mailbox.moves) != 0 || len(f.mailbox.ensured) != 0 {
		t.Errorf("ignore lane touched the mailbox: moves=%v ensured=%v",
			f.mailbox.moves, f.mailbox.ensured)
	}
	if len(f.notifier.decisions) != 0 {
		t.Errorf("ignore lane requested a decision: %+v", f.notifier.decisions)
	}
}

func TestLowConfidenceCalendarIsGated(t *testing.T) {
	f := newFixture(t, classifier.Classification{
		Calendar: []classifier.CalendarProposal{{
			Title:      "Maybe a dentist visit",
			Calendar:   "Family",
			StartsAt:   "2026-09-01T10:00:00Z",
			EndsAt:     "2026-09-01T11:00:00Z",
			Confidence: 0.2,
		}},
	})

	if err := f.proc.ProcessMessage(context.Background(), inboxMessage("5"), nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	events, err := f.store.ListEventsByCalendar("Family")
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("gated proposal created an event: %+v", events)
	}
	if len(f.notifier.decisions) != 1 {
		t.Fatalf("got %d decision requests, want 1", len(f.notifier.decisions))
	}
	if f.notifier.decisions[0].safeDefault != "Skip calendar entry" {
		t.Errorf("safe default = %q", f.notifier.decisions[0].safeDefault)
	}
}

func TestConfidentCalendarApplies(t *testing.T) {
	f := newFixture(t, classifier.Classification{
		Calendar: []classifier.CalendarProposal{{
			Title:      "Dentist",
			Calendar:   "Family",
			StartsAt:   "2026-09-01T10:00:00Z",
			EndsAt:     "2026-09-01T11:00:00Z",
			Confidence: 0.9,
		}},
	})

	if err := f.proc.ProcessMessage(context.Background(), inboxMessage("5"), nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	events, err := f.store.ListEventsByCalendar("Family")
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	entries, err := f.store.ActionsByUID("5", 10)
	if err != nil {
		t.Fatalf("listing actions: %v", err)
	}
	var calendarLogged bool
	for _, e := range entries {
		if e.Kind == store.ActionCalendar {
			calendarLogged = true
		}
	}
	if !calendarLogged {
		t.Error("no calendar entry in the audit log")
	}
}

func TestNeedsDecisionEscalates(t *testing.T) {
	f := newFixture(t, classifier.Classification{
		Meta: classifier.Meta{NeedsDecision: true, Reason: "Ambiguous sender"},
	})

	if err := f.proc.ProcessMessage(context.Background(), inboxMessage("6"), nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.notifier.decisions) != 1 {
		t.Fatalf("got %d decision requests, want 1", len(f.notifier.decisions))
	}
	dr := f.notifier.decisions[0]
	if dr.reason != "Ambiguous sender" {
		t.Errorf("reason = %q", dr.reason)
	}
	if dr.safeDefault != "Keep flagged" {
		t.Errorf("safe default = %q", dr.safeDefault)
	}
}

func TestArchiveSweepReusesSnapshot(t *testing.T) {
	f := newFixture(t, quickAction(0.9, "Finance/Receipts"))

	// First pass classifies and records the snapshot; the archive sweep
	// must replay it without another model call.
	msg := inboxMessage("9")
	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	calls := f.classifier.calls

	msg.Folder = "Archive"
	f.mailbox.flagged["Archive"] = []mailbox.Message{msg}
	if err := f.proc.ProcessArchive(context.Background()); err != nil {
		t.Fatalf("archive sweep: %v", err)
	}

	if f.classifier.calls != calls {
		t.Errorf("archive sweep re-ran the classifier: %d extra calls", f.classifier.calls-calls)
	}
	if f.mailbox.moves["9"] != "Finance/Receipts" {
		t.Errorf("archive follow-up moved to %q", f.mailbox.moves["9"])
	}
}

func TestUndoRoundTrip(t *testing.T) {
	f := newFixture(t, quickAction(0.9, "Finance/Receipts"))
	fixed := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	f.proc.now = func() time.Time { return fixed }

	msg := inboxMessage("1")
	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	record, err := f.store.GetMessageByUID("1")
	if err != nil {
		t.Fatalf("getting message: %v", err)
	}
	token, err := f.proc.ledger.IssueOrReuseToken(record.SessionID)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	ok, err := f.proc.Undo(token)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !ok {
		t.Fatal("undo rejected a live token")
	}
	if f.mailbox.moves["1"] != "INBOX" {
		t.Errorf("message restored to %q, want INBOX", f.mailbox.moves["1"])
	}
}

func TestUndoWaitsForUIDLock(t *testing.T) {
	f := newFixture(t, quickAction(0.9, "Finance/Receipts"))

	msg := inboxMessage("42")
	if err := f.proc.ProcessMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	record, err := f.store.GetMessageByUID("42")
	if err != nil {
		t.Fatalf("getting message: %v", err)
	}
	token, err := f.proc.ledger.IssueOrReuseToken(record.SessionID)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	// Hold the message's lock as a concurrent writer would; the undo
	// must not touch the mailbox until it is released.
	unlock := f.proc.locks.lock("42")

	done := make(chan bool, 1)
	go func() {
		ok, err := f.proc.Undo(token)
		if err != nil {
			t.Errorf("undo: %v", err)
		}
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("undo completed while another writer held the UID lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	if ok := <-done; !ok {
		t.Fatal("undo rejected a live token")
	}
	if f.mailbox.moves["42"] != "INBOX" {
		t.Errorf("message restored to %q, want INBOX", f.mailbox.moves["42"])
	}
}

func TestFullSort(t *testing.T) {
	f := newFixture(t, quickAction(0.9, "Finance/Receipts"))

	// Seed three records: a confident quick move, an ignore lane, and an
	// unpromoted sticky. Only the first is replayed.
	seed := func(uid string, c classifier.Classification, folderName string) {
		t.Helper()
		raw, _ := marshalClassification(c)
		err := f.store.UpsertMessage(store.Message{
			UID:            uid,
			MessageID:      "<" + uid + "@example.com>",
			Folder:         folderName,
			Classification: raw,
		})
		if err != nil {
			t.Fatalf("seeding %s: %v", uid, err)
		}
	}
	seed("1", quickAction(0.9, "Finance/Receipts"), "INBOX")
	seed("2", classifier.Classification{
		EmailActions: []classifier.EmailAction{{Lane: classifier.LaneIgnore, Confidence: 0.9}},
	}, "INBOX")
	seed("3", classifier.Classification{
		EmailActions: []classifier.EmailAction{{
			Lane: classifier.LaneSticky, FolderPath: "Home/Appointments", Confidence: 0.8,
		}},
	}, "INBOX")
	seed("4", quickAction(0.2, "Newsletters"), "INBOX")

	result, err := f.proc.FullSort()
	if err != nil {
		t.Fatalf("full sort: %v", err)
	}

	if len(result.Moves) != 1 {
		t.Fatalf("moves = %+v, want only Finance/Receipts", result.Moves)
	}
	uids := result.Moves["Finance/Receipts"]
	if len(uids) != 1 || uids[0] != "1" {
		t.Errorf("Finance/Receipts uids = %v, want [1]", uids)
	}
	if _, moved := f.mailbox.moves["3"]; moved {
		t.Error("unpromoted sticky message replayed")
	}
}

func marshalClassification(c classifier.Classification) (string, error) {
	raw, err := json.Marshal(c)
	return string(raw), err
}

func TestWhatIfTouchesNothing(t *testing.T) {
	f := newFixture(t, quickAction(0.9, "Finance/Receipts"))

	raw, _ := marshalClassification(quickAction(0.9, "finance/receipts"))
	if err := f.store.UpsertMessage(store.Message{
		UID:            "1",
		Subject:        "Your receipt",
		Folder:         "INBOX",
		Classification: raw,
	}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	plan, err := f.proc.WhatIf()
	if err != nil {
		t.Fatalf("what-if: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("got %d plan entries, want 1", len(plan))
	}
	if plan[0].Destination != "Finance/Receipts" {
		t.Errorf("destination = %q", plan[0].Destination)
	}
	if len(f.mailbox.moves) != 0 {
		t.Errorf("what-if moved messages: %v", f.mailbox.moves)
	}
}

func TestSessionIDGroupsByDay(t *testing.T) {
	day1 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	a := sessionIDFor("thread-1", "42", day1)
	b := sessionIDFor("thread-1", "42", day1.Add(4*time.Hour))
	c := sessionIDFor("thread-1", "42", day2)

	if a != b {
		t.Error("same day produced different session ids")
	}
	if a == c {
		t.Error("different days share a session id")
	}
	if a == sessionIDFor("thread-2", "42", day1) {
		t.Error("different threads share a session id")
	}
}
