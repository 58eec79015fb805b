// Package processor orchestrates the triage pipeline: classify each
// incoming message, derive one concrete action, execute it against the
// mailbox, and record enough history to make it reversible.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/calendar"
	"github.com/DJAMIRSAM/inbox-steward/internal/classifier"
	"github.com/DJAMIRSAM/inbox-steward/internal/folder"
	"github.com/DJAMIRSAM/inbox-steward/internal/ledger"
	"github.com/DJAMIRSAM/inbox-steward/internal/mailbox"
	"github.com/DJAMIRSAM/inbox-steward/internal/notify"
	"github.com/DJAMIRSAM/inbox-steward/internal/store"
)

// confidenceGate is the floor below which nothing is moved or flagged;
// a human decision is requested instead.
const confidenceGate = 0.4

// Classifier is the external classification collaborator.
type Classifier interface {
	Classify(ctx context.Context, pc classifier.Context) classifier.Classification
}

type Processor struct {
	store      *store.Store
	mailbox    mailbox.Mailbox
	classifier Classifier
	notifier   notify.Notifier
	calendar   *calendar.Ledger
	ledger     *ledger.Ledger

	primaryMailbox string
	archiveFolder  string
	interval       time.Duration

	locks *uidLocks
	now   func() time.Time
}

func New(
	st *store.Store,
	mb mailbox.Mailbox,
	cl Classifier,
	nt notify.Notifier,
	cal *calendar.Ledger,
	led *ledger.Ledger,
	primaryMailbox, archiveFolder string,
	interval time.Duration,
) *Processor {
	return &Processor{
		store:          st,
		mailbox:        mb,
		classifier:     cl,
		notifier:       nt,
		calendar:       cal,
		ledger:         led,
		primaryMailbox: primaryMailbox,
		archiveFolder:  archiveFolder,
		interval:       interval,
		locks:          newUIDLocks(),
		now:            time.Now,
	}
}

// Start runs the poll loop until ctx is cancelled. The first sweep
// happens immediately.
func (p *Processor) Start(ctx context.Context) {
	log.Printf("Starting processor with interval %v", p.interval)

	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Processor stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Processor) sweep(ctx context.Context) {
	if err := p.ProcessSeen(ctx); err != nil {
		log.Printf("Error processing seen messages: %v", err)
	}
	if err := p.ProcessArchive(ctx); err != nil {
		log.Printf("Error processing archive follow-ups: %v", err)
	}
}

// ProcessSeen classifies and triages every read message in the primary
// mailbox. A single message's failure never aborts the sweep.
func (p *Processor) ProcessSeen(ctx context.Context) error {
	messages, err := p.mailbox.FetchSeen()
	if err != nil {
		return fmt.Errorf("fetching seen messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	log.Printf("Processing %d seen messages", len(messages))
	for _, msg := range messages {
		if err := p.ProcessMessage(ctx, msg, nil); err != nil {
			log.Printf("Error processing message %s: %v", msg.UID, err)
		}
	}
	return nil
}

// ProcessArchive reprocesses flagged messages the user has moved into
// the archive folder. The stored classification snapshot is reused
// when available (looked up by UID, then message-id) so no redundant
// model call happens; a fresh classification is the fallback.
func (p *Processor) ProcessArchive(ctx context.Context) error {
	if p.archiveFolder == "" {
		return nil
	}
	messages, err := p.mailbox.FetchFlagged(p.archiveFolder)
	if err != nil {
		return fmt.Errorf("fetching flagged messages from %s: %w", p.archiveFolder, err)
	}
	if len(messages) == 0 {
		return nil
	}

	log.Printf("Processing %d archive follow-ups", len(messages))
	for _, msg := range messages {
		snapshot, err := p.storedClassification(msg)
		if err != nil {
			log.Printf("Error loading snapshot for %s: %v", msg.UID, err)
		}
		if err := p.ProcessMessage(ctx, msg, snapshot); err != nil {
			log.Printf("Error processing follow-up %s: %v", msg.UID, err)
		}
	}
	return nil
}

func (p *Processor) storedClassification(msg mailbox.Message) (*classifier.Classification, error) {
	record, err := p.store.GetMessageByUID(msg.UID)
	if err != nil {
		return nil, err
	}
	if record == nil && msg.MessageID != "" {
		if record, err = p.store.GetMessageByMessageID(msg.MessageID); err != nil {
			return nil, err
		}
	}
	if record == nil || record.Classification == "" {
		return nil, nil
	}

	var snapshot classifier.Classification
	if err := json.Unmarshal([]byte(record.Classification), &snapshot); err != nil {
		return nil, fmt.Errorf("decoding stored classification: %w", err)
	}
	return &snapshot, nil
}

// ProcessMessage runs the full pipeline for one message. When snapshot
// is nil the classifier is consulted; otherwise the snapshot is
// replayed. The whole decide→execute→persist→log section holds the
// message's UID lock.
func (p *Processor) ProcessMessage(ctx context.Context, msg mailbox.Message, snapshot *classifier.Classification) error {
	unlock := p.locks.lock(msg.UID)
	defer unlock()

	var classification classifier.Classification
	if snapshot != nil {
		classification = *snapshot
	} else {
		classification = p.classifier.Classify(ctx, p.buildContext(msg))
	}

	sessionID := p.sessionID(msg)

	if err := p.persistMessage(msg, classification, sessionID); err != nil {
		return err
	}
	return p.applyActions(msg, classification, sessionID)
}

// buildContext assembles what the classifier sees: the message, the
// sender's learned folder hints, and the live folder listing.
func (p *Processor) buildContext(msg mailbox.Message) classifier.Context {
	pc := classifier.Context{
		UID:       msg.UID,
		MessageID: msg.MessageID,
		ThreadID:  msg.ThreadID,
		Subject:   msg.Subject,
		Sender:    msg.Sender,
		Body:      msg.Body,
		Folder:    msg.Folder,
	}

	hints, err := p.store.HintsForSender(msg.Sender)
	if err != nil {
		log.Printf("Error loading hints for %s: %v", msg.Sender, err)
	} else if len(hints) > 0 {
		pc.Hints = make(map[string]string, len(hints))
		for _, hint := range hints {
			if _, ok := pc.Hints[hint.Sender]; !ok {
				pc.Hints[hint.Sender] = hint.Folder
			}
		}
	}

	folders, err := p.mailbox.ListFolders()
	if err != nil {
		log.Printf("Error listing folders: %v", err)
	} else {
		pc.Folders = folders
	}
	return pc
}

func (p *Processor) persistMessage(msg mailbox.Message, classification classifier.Classification, sessionID string) error {
	encoded, err := json.Marshal(classification)
	if err != nil {
		return fmt.Errorf("encoding classification: %w", err)
	}

	record := store.Message{
		UID:            msg.UID,
		MessageID:      msg.MessageID,
		ThreadID:       msg.ThreadID,
		Subject:        msg.Subject,
		Sender:         msg.Sender,
		ToRecipients:   msg.To,
		CcRecipients:   msg.Cc,
		ReceivedAt:     msg.ReceivedAt.UTC(),
		Folder:         p.currentFolder(msg),
		Classification: string(encoded),
		Status:         store.StatusProcessed,
		NeedsDecision:  classification.Meta.NeedsDecision,
		SessionID:      sessionID,
	}
	if action := classification.ActionFor(msg.UID); action != nil {
		record.TargetFolder = folder.Normalize(destination(action))
	}
	return p.store.UpsertMessage(record)
}

// applyActions runs the decision policy for the message's email
// action, the calendar sub-actions, and the review escalation.
func (p *Processor) applyActions(msg mailbox.Message, classification classifier.Classification, sessionID string) error {
	if action := classification.ActionFor(msg.UID); action != nil {
		if err := p.applyEmailAction(msg, *action, sessionID); err != nil {
			return err
		}
	}

	p.applyCalendar(msg, classification.Calendar, sessionID)

	if classification.Meta.NeedsDecision {
		token := p.tokenFor(sessionID)
		reason := classification.Meta.Reason
		if reason == "" {
			reason = "Needs review"
		}
		p.notifier.SendDecisionRequest(msg, reason, "Keep flagged", token)
	}

	if len(classification.Review) > 0 {
		token := p.tokenFor(sessionID)
		p.notifier.SendDigest(classification.Review, sessionID, token)
	}
	return nil
}

func (p *Processor) applyEmailAction(msg mailbox.Message, action classifier.EmailAction, sessionID string) error {
	dest := folder.Normalize(destination(&action))

	// Confidence gate: below the floor nothing moves, nothing is
	// flagged; a human decides.
	if action.Confidence < confidenceGate {
		token := p.tokenFor(sessionID)
		safeDefault := "Leave in " + p.currentFolder(msg)
		p.notifier.SendDecisionRequest(msg, "Low confidence folder", safeDefault, token)
		if err := p.ledger.Record(sessionID, msg.UID, store.ActionDecisionRequest, action); err != nil {
			return err
		}
		return nil
	}

	if action.Lane == classifier.LaneIgnore {
		return nil
	}

	moveNow, flag := laneDefaults(action)

	// A sticky message found outside the primary mailbox was archived
	// by hand: that is approval, so execute instead of re-flagging.
	if msg.Folder != "" && msg.Folder != p.primaryMailbox {
		moveNow, flag = true, false
		if err := p.ledger.Record(sessionID, msg.UID, store.ActionArchive, map[string]any{
			"folder": msg.Folder,
		}); err != nil {
			log.Printf("Error logging archive approval for %s: %v", msg.UID, err)
		}
	}

	// Materialize the destination before touching the message: an
	// explicit new-folder request always, and any move needs the
	// target to exist.
	if action.CreateFolder || action.NewFolder != "" || moveNow {
		if err := p.mailbox.EnsureFolder(dest); err != nil {
			return fmt.Errorf("ensuring folder %s: %w", dest, err)
		}
	}

	if flag {
		if err := p.mailbox.Flag(msg.UID, msg.Folder); err != nil {
			return fmt.Errorf("flagging %s: %w", msg.UID, err)
		}
	} else {
		if err := p.mailbox.Unflag(msg.UID, msg.Folder); err != nil {
			return fmt.Errorf("unflagging %s: %w", msg.UID, err)
		}
	}

	if moveNow {
		return p.executeMove(msg, action, dest, sessionID)
	}

	if flag {
		if err := p.ledger.Record(sessionID, msg.UID, store.ActionPlan, map[string]any{
			"destination": dest,
			"lane":        action.Lane,
			"confidence":  action.Confidence,
		}); err != nil {
			return err
		}
	}
	return nil
}

// executeMove performs the mailbox move and the bookkeeping that makes
// it learnable and reversible: the sender hint is strengthened and a
// move entry carrying the source folder is appended.
func (p *Processor) executeMove(msg mailbox.Message, action classifier.EmailAction, dest, sessionID string) error {
	source := p.currentFolder(msg)

	if err := p.mailbox.Move(msg.UID, msg.Folder, dest); err != nil {
		return fmt.Errorf("moving %s to %s: %w", msg.UID, dest, err)
	}

	if err := p.store.BumpHint(msg.Sender, dest, action.Confidence); err != nil {
		log.Printf("Error updating folder hint for %s: %v", msg.Sender, err)
	}

	if err := p.ledger.Record(sessionID, msg.UID, store.ActionMove, map[string]any{
		"destination": dest,
		"source":      source,
		"lane":        action.Lane,
		"confidence":  action.Confidence,
	}); err != nil {
		return err
	}

	if err := p.store.UpdateMessageFolder(msg.UID, dest); err != nil {
		log.Printf("Error recording new folder for %s: %v", msg.UID, err)
	}

	// Make sure the day's batch is reversible.
	if token := p.tokenFor(sessionID); token != "" {
		log.Printf("Undo token ready for session %s", sessionID)
	}
	return nil
}

// applyCalendar forwards proposals to the calendar ledger, applying
// the same confidence gate the email action gets.
func (p *Processor) applyCalendar(msg mailbox.Message, proposals []classifier.CalendarProposal, sessionID string) {
	for _, proposal := range proposals {
		if proposal.Confidence < confidenceGate {
			token := p.tokenFor(sessionID)
			p.notifier.SendDecisionRequest(msg, "Low confidence calendar event", "Skip calendar entry", token)
			if err := p.ledger.Record(sessionID, msg.UID, store.ActionDecisionRequest, proposal); err != nil {
				log.Printf("Error logging calendar decision request: %v", err)
			}
			continue
		}

		outcome, err := p.calendar.Apply(proposal)
		if err != nil {
			log.Printf("Error applying calendar proposal: %v", err)
			continue
		}
		if err := p.ledger.Record(sessionID, msg.UID, store.ActionCalendar, outcome); err != nil {
			log.Printf("Error logging calendar action: %v", err)
		}
		if outcome.Conflict != nil {
			p.notifier.SendConflict(*outcome.Conflict)
		}
	}
}

// Undo reverses the session behind the token, holding each entry's
// UID lock so reversals cannot race the live poll or a full sort.
// Exposed for the API.
func (p *Processor) Undo(token string) (bool, error) {
	return p.ledger.Undo(token, p.locks.lock)
}

// FullSortResult maps destination folders to the UIDs replayed there.
type FullSortResult struct {
	Moves map[string][]string `json:"moves"`
}

// FullSort re-derives the folder decision for every known message from
// its stored classification and re-applies the moves. Ignore lanes and
// sticky lanes that were never promoted are skipped. This is a drift
// recovery sweep, not a reclassification.
func (p *Processor) FullSort() (FullSortResult, error) {
	log.Println("Running full sort sweep")

	messages, err := p.store.ListMessages()
	if err != nil {
		return FullSortResult{}, err
	}

	result := FullSortResult{Moves: make(map[string][]string)}
	for _, record := range messages {
		if record.Classification == "" {
			continue
		}
		var classification classifier.Classification
		if err := json.Unmarshal([]byte(record.Classification), &classification); err != nil {
			log.Printf("Skipping %s: unreadable stored classification", record.UID)
			continue
		}
		action := classification.ActionFor(record.UID)
		if action == nil || action.Lane == classifier.LaneIgnore {
			continue
		}
		if action.Confidence < confidenceGate {
			continue
		}
		moveNow, _ := laneDefaults(*action)
		promoted := record.Folder != "" && record.Folder != p.primaryMailbox
		if !moveNow && !promoted {
			continue
		}

		unlock := p.locks.lock(record.UID)
		dest := folder.Normalize(destination(action))
		if err := p.mailbox.EnsureFolder(dest); err != nil {
			log.Printf("Full sort could not ensure %s: %v", dest, err)
			unlock()
			continue
		}
		if err := p.mailbox.Move(record.UID, record.Folder, dest); err != nil {
			log.Printf("Full sort move failed for %s: %v", record.UID, err)
			unlock()
			continue
		}
		sessionID := sessionIDFor(record.ThreadID, record.UID, p.now().UTC())
		if err := p.ledger.Record(sessionID, record.UID, store.ActionMove, map[string]any{
			"destination": dest,
			"source":      record.Folder,
			"lane":        action.Lane,
			"confidence":  action.Confidence,
		}); err != nil {
			log.Printf("Error logging full sort move for %s: %v", record.UID, err)
		}
		if err := p.store.UpdateMessageFolder(record.UID, dest); err != nil {
			log.Printf("Error recording full sort folder for %s: %v", record.UID, err)
		}
		unlock()

		result.Moves[dest] = append(result.Moves[dest], record.UID)
	}
	return result, nil
}

// PlanEntry is one row of the what-if report.
type PlanEntry struct {
	UID         string  `json:"uid"`
	Subject     string  `json:"subject"`
	Destination string  `json:"destination"`
	Confidence  float64 `json:"confidence"`
}

// WhatIf reports where every known message would be filed, without
// touching the mailbox.
func (p *Processor) WhatIf() ([]PlanEntry, error) {
	messages, err := p.store.ListMessages()
	if err != nil {
		return nil, err
	}

	var plan []PlanEntry
	for _, record := range messages {
		if record.Classification == "" {
			continue
		}
		var classification classifier.Classification
		if err := json.Unmarshal([]byte(record.Classification), &classification); err != nil {
			continue
		}
		action := classification.ActionFor(record.UID)
		if action == nil {
			continue
		}
		plan = append(plan, PlanEntry{
			UID:         record.UID,
			Subject:     record.Subject,
			Destination: folder.Normalize(destination(action)),
			Confidence:  action.Confidence,
		})
	}
	return plan, nil
}

// tokenFor issues or reuses the session's undo token, degrading to an
// empty token on storage errors (notifications still go out).
func (p *Processor) tokenFor(sessionID string) string {
	token, err := p.ledger.IssueOrReuseToken(sessionID)
	if err != nil {
		log.Printf("Error issuing undo token for session %s: %v", sessionID, err)
		return ""
	}
	return token
}

func (p *Processor) currentFolder(msg mailbox.Message) string {
	if msg.Folder != "" {
		return msg.Folder
	}
	return p.primaryMailbox
}

// sessionID groups all actions on one message within one UTC day so a
// single undo token reverses the whole batch.
func (p *Processor) sessionID(msg mailbox.Message) string {
	return sessionIDFor(msg.ThreadID, msg.UID, p.now().UTC())
}

func sessionIDFor(threadID, uid string, now time.Time) string {
	digest := sha256.New()
	digest.Write([]byte(threadID))
	digest.Write([]byte(uid))
	digest.Write([]byte(now.Format("2006-01-02")))
	return hex.EncodeToString(digest.Sum(nil))
}

// destination picks the proposed folder path, preferring an explicit
// new-folder request.
func destination(action *classifier.EmailAction) string {
	if action.NewFolder != "" {
		return action.NewFolder
	}
	return action.FolderPath
}

// laneDefaults derives move/flag behavior from the lane when the
// proposal does not set them explicitly: quick files immediately,
// sticky flags and waits for human archiving.
func laneDefaults(action classifier.EmailAction) (moveNow, flag bool) {
	switch action.Lane {
	case classifier.LaneSticky:
		moveNow, flag = false, true
	default:
		moveNow, flag = true, false
	}
	if action.MoveNow != nil {
		moveNow = *action.MoveNow
	}
	if action.Flag != nil {
		flag = *action.Flag
	}
	return moveNow, flag
}
