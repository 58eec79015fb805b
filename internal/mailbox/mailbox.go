// Package mailbox abstracts the mail store the service triages. Two
// backends exist: IMAP and Microsoft Graph, selected by configuration
// at startup.
package mailbox

import (
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/config"
)

// Message is the backend-independent view of one mailbox message.
type Message struct {
	UID       string
	MessageID string
	ThreadID  string
	Subject   string
	Sender    string
	To        string
	Cc        string
	ReceivedAt time.Time
	Folder    string
	Body      string
}

// Diagnostics reports backend connectivity for the diagnose command
// and the /api/diagnostics endpoint.
type Diagnostics struct {
	Backend   string   `json:"backend"`
	Connected bool     `json:"connected"`
	Mailbox   string   `json:"mailbox"`
	Folders   []string `json:"folders,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Mailbox is the collaborator contract the processor drives. All calls
// are blocking I/O; transport failures surface as errors and are
// handled per-message by the caller.
type Mailbox interface {
	// FetchSeen returns read messages sitting in the primary mailbox.
	FetchSeen() ([]Message, error)
	// FetchFlagged returns flagged messages in the given folder.
	FetchFlagged(folder string) ([]Message, error)
	// Move relocates one message. fromFolder names where the message
	// currently lives; IMAP needs it because UIDs are per-folder, and
	// an empty value means the primary mailbox.
	Move(uid, fromFolder, toFolder string) error
	// Flag and Unflag toggle the flagged marker on a message in the
	// given folder; empty means the primary mailbox.
	Flag(uid, folder string) error
	Unflag(uid, folder string) error
	// EnsureFolder creates the folder path if missing. Idempotent.
	EnsureFolder(path string) error
	ListFolders() ([]string, error)
	Diagnostics() Diagnostics
	// Reset drops cached state (folder listing, tokens) so the next
	// call re-establishes it.
	Reset()
}

// New selects the backend for the configured mail provider.
func New(cfg *config.Config) Mailbox {
	if cfg.MailBackend == config.BackendGraph {
		return newGraphBackend(cfg)
	}
	return newIMAPBackend(cfg)
}

// folderCache holds a briefly-cached folder listing with an explicit
// expiry, shared by both backends.
type folderCache struct {
	folders   []string
	fetchedAt time.Time
	ttl       time.Duration
}

func (c *folderCache) get(now time.Time) ([]string, bool) {
	if c.folders == nil || now.Sub(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.folders, true
}

func (c *folderCache) set(folders []string, now time.Time) {
	c.folders = folders
	c.fetchedAt = now
}

func (c *folderCache) invalidate() {
	c.folders = nil
}
