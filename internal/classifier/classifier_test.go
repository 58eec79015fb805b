package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		lane    string
	}{
		{
			name:    "clean json",
			payload: `{"email_actions":[{"uid":"1","lane":"quick","folder_path":"Newsletters","confidence":0.9}]}`,
			ok:      true,
			lane:    LaneQuick,
		},
		{
			name: "wrapped in prose",
			payload: "Sure! Here is the classification:\n" +
				`{"email_actions":[{"uid":"1","lane":"sticky","folder_path":"Home","confidence":0.7}]}` +
				"\nLet me know if you need anything else.",
			ok:   true,
			lane: LaneSticky,
		},
		{
			name:    "markdown fenced",
			payload: "```json\n{\"email_actions\":[{\"lane\":\"quick\",\"confidence\":0.8}]}\n```",
			ok:      true,
			lane:    LaneQuick,
		},
		{name: "empty", payload: "", ok: false},
		{name: "no json at all", payload: "I could not classify this message.", ok: false},
		{name: "broken json", payload: `{"email_actions": [`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePayload(tt.payload)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if len(got.EmailActions) != 1 {
				t.Fatalf("got %d actions, want 1", len(got.EmailActions))
			}
			if got.EmailActions[0].Lane != tt.lane {
				t.Errorf("lane = %q, want %q", got.EmailActions[0].Lane, tt.lane)
			}
		})
	}
}

func TestFallbackHeuristic(t *testing.T) {
	c := New("http://127.0.0.1:1", "test")

	tests := []struct {
		name          string
		subject       string
		body          string
		wantLane      string
		wantDest      string
		needsDecision bool
	}{
		{
			name:     "receipt files immediately",
			subject:  "Your receipt from ACME",
			wantLane: LaneQuick,
			wantDest: "Finance/Receipts",
		},
		{
			name:     "unsubscribe footer means newsletter",
			subject:  "Weekly roundup",
			body:     "Click here to unsubscribe",
			wantLane: LaneQuick,
			wantDest: "Newsletters",
		},
		{
			name:          "appointment held for review",
			subject:       "Appointment reminder",
			wantLane:      LaneSticky,
			wantDest:      "Home/Appointments",
			needsDecision: true,
		},
		{
			name:          "unknown held for review",
			subject:       "Hello there",
			wantLane:      LaneSticky,
			wantDest:      "Misc",
			needsDecision: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.fallback(Context{UID: "1", Subject: tt.subject, Body: tt.body})
			action := got.ActionFor("1")
			if action == nil {
				t.Fatal("fallback produced no action")
			}
			if action.Lane != tt.wantLane {
				t.Errorf("lane = %q, want %q", action.Lane, tt.wantLane)
			}
			if action.FolderPath != tt.wantDest {
				t.Errorf("folder = %q, want %q", action.FolderPath, tt.wantDest)
			}
			if action.Confidence != 0.5 {
				t.Errorf("confidence = %v, want 0.5", action.Confidence)
			}
			if got.Meta.NeedsDecision != tt.needsDecision {
				t.Errorf("needs_decision = %v, want %v", got.Meta.NeedsDecision, tt.needsDecision)
			}
		})
	}
}

func TestClassifyUsesModelResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"response": `{"email_actions":[{"uid":"42","lane":"quick","folder_path":"Newsletters","confidence":0.95}]}`,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test")
	got := c.Classify(context.Background(), Context{UID: "42", Subject: "Weekly digest"})

	action := got.ActionFor("42")
	if action == nil {
		t.Fatal("no action for uid 42")
	}
	if action.FolderPath != "Newsletters" || action.Confidence != 0.95 {
		t.Errorf("action = %+v", action)
	}
}

func TestClassifyFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "test")
	got := c.Classify(context.Background(), Context{UID: "1", Subject: "Your invoice is ready"})

	action := got.ActionFor("1")
	if action == nil {
		t.Fatal("fallback produced no action")
	}
	if action.FolderPath != "Finance/Invoices" {
		t.Errorf("fallback folder = %q", action.FolderPath)
	}
}

func TestActionFor(t *testing.T) {
	c := Classification{EmailActions: []EmailAction{
		{UID: "7", Lane: LaneQuick},
		{Lane: LaneSticky},
	}}

	if got := c.ActionFor("7"); got == nil || got.Lane != LaneQuick {
		t.Errorf("ActionFor(7) = %+v", got)
	}
	// Unmatched UIDs fall back to the first UID-less action.
	if got := c.ActionFor("99"); got == nil || got.Lane != LaneSticky {
		t.Errorf("ActionFor(99) = %+v", got)
	}
	if got := (Classification{}).ActionFor("1"); got != nil {
		t.Errorf("empty classification returned %+v", got)
	}
}
