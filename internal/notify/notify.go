// Package notify pushes human-facing prompts through Home Assistant.
// Everything here is fire-and-forget: failures are logged, never
// propagated.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/calendar"
	"github.com/DJAMIRSAM/inbox-steward/internal/mailbox"
)

// Notifier is the collaborator contract the processor drives. The
// processor never cares whether a notification landed.
type Notifier interface {
	SendDecisionRequest(message mailbox.Message, reason, safeDefault, undoToken string)
	SendConflict(conflict calendar.Conflict)
	SendDigest(reviewUIDs []string, sessionID, undoToken string)
}

// HomeAssistant sends mobile notifications through a Home Assistant
// notify service. When unconfigured it silently drops everything.
type HomeAssistant struct {
	baseURL string
	token   string
	target  string
	client  *http.Client
}

func NewHomeAssistant(baseURL, token, target string) *HomeAssistant {
	return &HomeAssistant{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		target:  strings.TrimSpace(target),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HomeAssistant) enabled() bool {
	return h.baseURL != "" && h.token != "" && h.target != ""
}

func (h *HomeAssistant) SendDecisionRequest(message mailbox.Message, reason, safeDefault, undoToken string) {
	if !h.enabled() {
		return
	}
	data := map[string]any{
		"actions": []map[string]string{
			{"action": "DEFAULT", "title": safeDefault},
			{"action": "UNDO", "title": "Undo last 24h"},
		},
	}
	if undoToken != "" {
		data["url"] = "/api/undo/" + undoToken
	}
	h.send("decision request", map[string]any{
		"title":   "Email needs decision",
		"message": fmt.Sprintf("%s\n%s\nDefault: %s", message.Subject, reason, safeDefault),
		"data":    data,
	})
}

func (h *HomeAssistant) SendConflict(conflict calendar.Conflict) {
	if !h.enabled() {
		return
	}
	h.send("calendar conflict", map[string]any{
		"title":   "Calendar conflict detected",
		"message": fmt.Sprintf("Conflicting with %s at %s", conflict.ExistingTitle, conflict.ExistingStart),
	})
}

func (h *HomeAssistant) SendDigest(reviewUIDs []string, sessionID, undoToken string) {
	if !h.enabled() {
		return
	}
	payload := map[string]any{
		"title":   "Emails waiting for review",
		"message": fmt.Sprintf("Session %s: %s", sessionID, strings.Join(reviewUIDs, ", ")),
	}
	if undoToken != "" {
		payload["data"] = map[string]any{"url": "/api/undo/" + undoToken}
	}
	h.send("review digest", payload)
}

// SendTest sends a connectivity-check notification and reports the
// result instead of swallowing it. Used by the diagnose command.
func (h *HomeAssistant) SendTest() error {
	if !h.enabled() {
		return fmt.Errorf("home assistant notifier not configured")
	}
	return h.post(map[string]any{
		"title":   "Inbox Steward connectivity test",
		"message": "This is a debug notification from Inbox Steward.",
		"data":    map[string]string{"tag": "inbox-steward-debug"},
	})
}

func (h *HomeAssistant) send(event string, payload map[string]any) {
	if err := h.post(payload); err != nil {
		log.Printf("Failed to send %s notification: %v", event, err)
	}
}

func (h *HomeAssistant) post(payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/services/notify/%s", h.baseURL, h.target)
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify returned status %d", resp.StatusCode)
	}
	return nil
}
