// Package classifier turns a message plus its filing context into a
// structured action proposal using a local Ollama model, with a
// deterministic keyword fallback when the model is unreachable or
// returns garbage.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/folder"
)

// Context is everything the model sees for one message: the message
// itself, learned sender hints, and the live folder listing.
type Context struct {
	UID       string            `json:"uid"`
	MessageID string            `json:"message_id,omitempty"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Subject   string            `json:"subject"`
	Sender    string            `json:"sender"`
	Body      string            `json:"body,omitempty"`
	Folder    string            `json:"folder,omitempty"`
	Hints     map[string]string `json:"hints,omitempty"`
	Folders   []string          `json:"folders,omitempty"`
}

type Classifier struct {
	endpoint string
	model    string
	client   *http.Client
}

func New(endpoint, model string) *Classifier {
	return &Classifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Classify prompts the model and parses its JSON reply. Transport and
// parse failures degrade to the keyword fallback instead of erroring,
// so a poll sweep never stalls on the model.
func (c *Classifier) Classify(ctx context.Context, pc Context) Classification {
	prompt := c.buildPrompt(pc)

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return c.fallback(pc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return c.fallback(pc)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("Classifier request failed, using fallback: %v", err)
		return c.fallback(pc)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Classifier returned status %d, using fallback", resp.StatusCode)
		return c.fallback(pc)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		log.Printf("Classifier response decode failed, using fallback: %v", err)
		return c.fallback(pc)
	}

	classification, ok := parsePayload(gen.Response)
	if !ok {
		log.Printf("Classifier output unusable, using fallback")
		return c.fallback(pc)
	}
	return classification
}

func (c *Classifier) buildPrompt(pc Context) string {
	contextJSON, _ := json.Marshal(pc)
	return fmt.Sprintf(`You are an elite email sorting assistant. Respond with a single JSON
object using the schema below. Do not include markdown fencing.
Schema:
{
  "email_actions": [
    {
      "uid": "<message uid>",
      "lane": "quick|sticky|ignore",
      "folder_path": "Folder/Path",
      "create_folder": true|false,
      "confidence": 0-1
    }
  ],
  "calendar": [
    {
      "action": "create|update|cancel",
      "thread_id": "id",
      "provider": "sender domain or source",
      "title": "Specific title",
      "calendar": "Family|Home",
      "starts_at": "ISO8601",
      "ends_at": "ISO8601",
      "timezone": "IANA zone",
      "location": "",
      "url": "",
      "notes": "",
      "confidence": 0-1,
      "uid": "deterministic unique id"
    }
  ],
  "review": ["uid"],
  "meta": {"needs_decision": true|false, "reason": ""}
}

Always respect folder naming rules: root categories like Finance or School and
concise Title Case leaf folders. Never suggest Inbox or Archive as destinations.

Email context:
%s`, contextJSON)
}

// parsePayload parses model output, retrying on the outermost JSON
// object when the model wrapped it in prose.
func parsePayload(payload string) (Classification, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Classification{}, false
	}

	var classification Classification
	if err := json.Unmarshal([]byte(payload), &classification); err == nil {
		return classification, true
	}

	start := strings.Index(payload, "{")
	end := strings.LastIndex(payload, "}")
	if start == -1 || end <= start {
		return Classification{}, false
	}
	if err := json.Unmarshal([]byte(payload[start:end+1]), &classification); err != nil {
		return Classification{}, false
	}
	return classification, true
}

// fallback is the deterministic heuristic used when the model cannot be
// consulted. Receipts and newsletters file immediately; anything else
// is held sticky for review.
func (c *Classifier) fallback(pc Context) Classification {
	subject := strings.ToLower(pc.Subject)
	body := strings.ToLower(pc.Body)

	dest := folder.Fallback
	switch {
	case keywordDestination(subject) != "":
		dest = keywordDestination(subject)
	case strings.Contains(body, "unsubscribe"):
		dest = "Newsletters"
	case containsAny(subject, "appointment", "meeting", "schedule"):
		dest = "Home/Appointments"
	}

	lane := LaneSticky
	if strings.HasPrefix(dest, "Finance") || strings.HasPrefix(dest, "Newsletters") {
		lane = LaneQuick
	}

	return Classification{
		EmailActions: []EmailAction{{
			UID:        pc.UID,
			Lane:       lane,
			FolderPath: dest,
			Confidence: 0.5,
		}},
		Meta: Meta{NeedsDecision: lane == LaneSticky},
	}
}

// keywordDestination returns the taxonomy destination for the first
// default-folder keyword found in the subject, or empty.
func keywordDestination(subject string) string {
	for _, keyword := range defaultFolderKeywords {
		if strings.Contains(subject, keyword) {
			return folder.DefaultFolders[keyword]
		}
	}
	return ""
}

// defaultFolderKeywords is folder.DefaultFolders in a fixed order so
// the heuristic is deterministic when several keywords match.
var defaultFolderKeywords = func() []string {
	keywords := make([]string, 0, len(folder.DefaultFolders))
	for keyword := range folder.DefaultFolders {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)
	return keywords
}()

func containsAny(s string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

// Ping checks that the Ollama endpoint is reachable. Used by the
// diagnose command.
func (c *Classifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
