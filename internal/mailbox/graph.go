package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/DJAMIRSAM/inbox-steward/internal/config"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// graphBackend talks to a Microsoft 365 mailbox over the Graph REST
// API using the client-credentials flow. The oauth2 client owns token
// refresh; Reset discards it along with the folder cache.
type graphBackend struct {
	mailbox string
	creds   clientcredentials.Config

	mu      sync.Mutex
	client  *http.Client
	cache   folderCache
	folders map[string]string // canonical path -> folder id
}

func newGraphBackend(cfg *config.Config) *graphBackend {
	return &graphBackend{
		mailbox: cfg.GraphMailbox,
		creds: clientcredentials.Config{
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.GraphTenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		},
		cache: folderCache{ttl: cfg.FolderCacheExpiry},
	}
}

func (b *graphBackend) httpClient() *http.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		b.client = b.creds.Client(context.Background())
	}
	return b.client
}

type graphMessage struct {
	ID                string    `json:"id"`
	InternetMessageID string    `json:"internetMessageId"`
	ConversationID    string    `json:"conversationId"`
	Subject           string    `json:"subject"`
	BodyPreview       string    `json:"bodyPreview"`
	ReceivedDateTime  time.Time `json:"receivedDateTime"`
	From              *struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	CcRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"ccRecipients"`
}

type graphFolder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ChildFolderCount int    `json:"childFolderCount"`
}

func (b *graphBackend) FetchSeen() ([]Message, error) {
	path := fmt.Sprintf("/users/%s/mailFolders/inbox/messages?$filter=%s&$top=50",
		url.PathEscape(b.mailbox), url.QueryEscape("isRead eq true"))
	return b.fetchMessages(path, "Inbox")
}

func (b *graphBackend) FetchFlagged(folder string) ([]Message, error) {
	folderID, err := b.folderID(folder)
	if err != nil {
		return nil, err
	}
	if folderID == "" {
		return nil, nil
	}
	path := fmt.Sprintf("/users/%s/mailFolders/%s/messages?$filter=%s&$top=50",
		url.PathEscape(b.mailbox), folderID, url.QueryEscape("flag/flagStatus eq 'flagged'"))
	return b.fetchMessages(path, folder)
}

func (b *graphBackend) fetchMessages(path, folder string) ([]Message, error) {
	var payload struct {
		Value []graphMessage `json:"value"`
	}
	if err := b.request(http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	var messages []Message
	for _, item := range payload.Value {
		messages = append(messages, graphToMessage(item, folder))
	}
	return messages, nil
}

func graphToMessage(item graphMessage, folder string) Message {
	message := Message{
		UID:        item.ID,
		MessageID:  item.InternetMessageID,
		ThreadID:   item.ConversationID,
		Subject:    item.Subject,
		Body:       item.BodyPreview,
		ReceivedAt: item.ReceivedDateTime,
		Folder:     folder,
	}
	if item.From != nil {
		message.Sender = strings.ToLower(item.From.EmailAddress.Address)
	}
	var to, cc []string
	for _, r := range item.ToRecipients {
		to = append(to, strings.ToLower(r.EmailAddress.Address))
	}
	for _, r := range item.CcRecipients {
		cc = append(cc, strings.ToLower(r.EmailAddress.Address))
	}
	message.To = strings.Join(to, ", ")
	message.Cc = strings.Join(cc, ", ")
	return message
}

// Move relocates the message. Graph ids are mailbox-wide, so the
// source folder is irrelevant here.
func (b *graphBackend) Move(uid, _, toFolder string) error {
	folderID, err := b.folderID(toFolder)
	if err != nil {
		return err
	}
	if folderID == "" {
		if err := b.EnsureFolder(toFolder); err != nil {
			return err
		}
		if folderID, err = b.folderID(toFolder); err != nil {
			return err
		}
	}
	path := fmt.Sprintf("/users/%s/messages/%s/move", url.PathEscape(b.mailbox), uid)
	body := map[string]string{"destinationId": folderID}
	return b.request(http.MethodPost, path, body, nil)
}

func (b *graphBackend) Flag(uid, _ string) error {
	return b.setFlag(uid, "flagged")
}

func (b *graphBackend) Unflag(uid, _ string) error {
	return b.setFlag(uid, "notFlagged")
}

func (b *graphBackend) setFlag(uid, status string) error {
	path := fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(b.mailbox), uid)
	body := map[string]any{"flag": map[string]string{"flagStatus": status}}
	return b.request(http.MethodPatch, path, body, nil)
}

// EnsureFolder walks the slash-separated path creating each missing
// level as a child of the previous one.
func (b *graphBackend) EnsureFolder(path string) error {
	if _, err := b.loadFolders(false); err != nil {
		return err
	}

	segments := strings.Split(path, "/")
	parentID := ""
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")

		b.mu.Lock()
		id, ok := b.folders[prefix]
		b.mu.Unlock()
		if ok {
			parentID = id
			continue
		}

		endpoint := fmt.Sprintf("/users/%s/mailFolders", url.PathEscape(b.mailbox))
		if parentID != "" {
			endpoint = fmt.Sprintf("/users/%s/mailFolders/%s/childFolders", url.PathEscape(b.mailbox), parentID)
		}
		var created graphFolder
		if err := b.request(http.MethodPost, endpoint, map[string]string{"displayName": segments[i]}, &created); err != nil {
			return fmt.Errorf("creating folder %s: %w", prefix, err)
		}

		b.mu.Lock()
		b.folders[prefix] = created.ID
		b.mu.Unlock()
		parentID = created.ID
	}

	b.mu.Lock()
	b.cache.invalidate()
	b.mu.Unlock()
	return nil
}

func (b *graphBackend) ListFolders() ([]string, error) {
	b.mu.Lock()
	if folders, ok := b.cache.get(time.Now()); ok {
		b.mu.Unlock()
		return folders, nil
	}
	b.mu.Unlock()
	return b.loadFolders(true)
}

// loadFolders walks the folder tree breadth-first, building canonical
// slash paths and the path→id map moves and flag updates need.
func (b *graphBackend) loadFolders(force bool) ([]string, error) {
	b.mu.Lock()
	if !force {
		if folders, ok := b.cache.get(time.Now()); ok {
			b.mu.Unlock()
			return folders, nil
		}
	}
	b.mu.Unlock()

	type queued struct {
		id     string
		prefix string
	}

	byPath := make(map[string]string)
	var paths []string

	var roots struct {
		Value []graphFolder `json:"value"`
	}
	endpoint := fmt.Sprintf("/users/%s/mailFolders?$top=100", url.PathEscape(b.mailbox))
	if err := b.request(http.MethodGet, endpoint, nil, &roots); err != nil {
		return nil, err
	}

	queue := make([]queued, 0, len(roots.Value))
	for _, f := range roots.Value {
		byPath[f.DisplayName] = f.ID
		paths = append(paths, f.DisplayName)
		if f.ChildFolderCount > 0 {
			queue = append(queue, queued{id: f.ID, prefix: f.DisplayName})
		}
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		var children struct {
			Value []graphFolder `json:"value"`
		}
		endpoint := fmt.Sprintf("/users/%s/mailFolders/%s/childFolders?$top=100",
			url.PathEscape(b.mailbox), next.id)
		if err := b.request(http.MethodGet, endpoint, nil, &children); err != nil {
			return nil, err
		}
		for _, f := range children.Value {
			path := next.prefix + "/" + f.DisplayName
			byPath[path] = f.ID
			paths = append(paths, path)
			if f.ChildFolderCount > 0 {
				queue = append(queue, queued{id: f.ID, prefix: path})
			}
		}
	}

	b.mu.Lock()
	b.folders = byPath
	b.cache.set(paths, time.Now())
	b.mu.Unlock()
	return paths, nil
}

func (b *graphBackend) folderID(path string) (string, error) {
	b.mu.Lock()
	id, ok := b.folders[path]
	b.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := b.loadFolders(true); err != nil {
		return "", err
	}
	b.mu.Lock()
	id = b.folders[path]
	b.mu.Unlock()
	return id, nil
}

func (b *graphBackend) request(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding graph request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, graphBase+path, reader)
	if err != nil {
		return fmt.Errorf("building graph request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("graph request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph request %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding graph response: %w", err)
		}
	}
	return nil
}

func (b *graphBackend) Diagnostics() Diagnostics {
	diag := Diagnostics{Backend: config.BackendGraph, Mailbox: b.mailbox}
	folders, err := b.ListFolders()
	if err != nil {
		diag.Error = err.Error()
		return diag
	}
	diag.Connected = true
	diag.Folders = folders
	return diag
}

func (b *graphBackend) Reset() {
	b.mu.Lock()
	b.client = nil
	b.folders = nil
	b.cache.invalidate()
	b.mu.Unlock()
}
