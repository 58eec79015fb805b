package mailbox

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/DJAMIRSAM/inbox-steward/internal/config"
)

// imapBackend talks plain IMAP. Each operation opens a fresh
// connection; only the folder listing is cached between calls.
type imapBackend struct {
	host       string
	port       int
	username   string
	password   string
	encryption string
	mailbox    string

	mu    sync.Mutex
	cache folderCache
}

func newIMAPBackend(cfg *config.Config) *imapBackend {
	return &imapBackend{
		host:       cfg.IMAPHost,
		port:       cfg.IMAPPort,
		username:   cfg.IMAPUsername,
		password:   cfg.IMAPPassword,
		encryption: cfg.IMAPEncryption,
		mailbox:    cfg.Mailbox,
		cache:      folderCache{ttl: cfg.FolderCacheExpiry},
	}
}

func (b *imapBackend) connect() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", b.host, b.port)

	var client *imapclient.Client
	var err error
	switch b.encryption {
	case "STARTTLS":
		client, err = imapclient.DialStartTLS(addr, nil)
	case "NONE":
		client, err = imapclient.DialInsecure(addr, nil)
	default:
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: b.host},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(b.username, b.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	return client, nil
}

func (b *imapBackend) FetchSeen() ([]Message, error) {
	return b.search(b.mailbox, &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagSeen}})
}

func (b *imapBackend) FetchFlagged(folder string) ([]Message, error) {
	return b.search(folder, &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagFlagged}})
}

func (b *imapBackend) search(folder string, criteria *imap.SearchCriteria) ([]Message, error) {
	client, err := b.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting folder %s: %w", folder, err)
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Flags:    true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{{
			Peek: true,
		}},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOptions)

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		msgData, err := msg.Collect()
		if err != nil {
			log.Printf("Error collecting message in %s: %v", folder, err)
			continue
		}
		messages = append(messages, b.buildMessage(msgData, folder))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", folder, err)
	}
	return messages, nil
}

func (b *imapBackend) buildMessage(msgData *imapclient.FetchMessageBuffer, folder string) Message {
	message := Message{
		UID:    strconv.FormatUint(uint64(msgData.UID), 10),
		Folder: folder,
	}

	if env := msgData.Envelope; env != nil {
		message.MessageID = env.MessageID
		message.Subject = env.Subject
		message.ReceivedAt = env.Date
		if len(env.From) > 0 {
			message.Sender = strings.ToLower(env.From[0].Addr())
		}
		message.To = joinAddrs(env.To)
		message.Cc = joinAddrs(env.Cc)
		message.ThreadID = threadID(env)
	}

	for _, section := range msgData.BodySection {
		if len(section.Bytes) == 0 {
			continue
		}
		message.Body = extractText(section.Bytes)
		break
	}
	return message
}

// threadID derives a stable thread identifier from the message
// envelope. The first In-Reply-To id wins when present so replies
// share an id.
func threadID(env *imap.Envelope) string {
	if len(env.InReplyTo) > 0 {
		return env.InReplyTo[0]
	}
	return env.MessageID
}

func joinAddrs(addrs []imap.Address) string {
	var parts []string
	for _, addr := range addrs {
		parts = append(parts, strings.ToLower(addr.Addr()))
	}
	return strings.Join(parts, ", ")
}

// extractText parses a raw RFC 2822 message with go-message and
// returns the first text/plain part, falling back to the raw bytes
// when parsing fails.
func extractText(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		if h, ok := part.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				return string(body)
			case strings.HasPrefix(contentType, "text/html") && html == "":
				html = string(body)
			}
		}
	}
	return html
}

func (b *imapBackend) Move(uid, fromFolder, toFolder string) error {
	if fromFolder == "" {
		fromFolder = b.mailbox
	}

	client, err := b.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Select(fromFolder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", fromFolder, err)
	}

	uidSet, err := parseUIDSet(uid)
	if err != nil {
		return err
	}
	if _, err := client.Move(uidSet, toFolder).Wait(); err != nil {
		return fmt.Errorf("moving %s to %s: %w", uid, toFolder, err)
	}
	return nil
}

func (b *imapBackend) Flag(uid, folder string) error {
	return b.store(uid, folder, imap.StoreFlagsAdd)
}

func (b *imapBackend) Unflag(uid, folder string) error {
	return b.store(uid, folder, imap.StoreFlagsDel)
}

func (b *imapBackend) store(uid, folder string, op imap.StoreFlagsOp) error {
	if folder == "" {
		folder = b.mailbox
	}

	client, err := b.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}

	uidSet, err := parseUIDSet(uid)
	if err != nil {
		return err
	}
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:    op,
		Flags: []imap.Flag{imap.FlagFlagged},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("storing flags for %s: %w", uid, err)
	}
	return nil
}

func parseUIDSet(uid string) (imap.UIDSet, error) {
	parsed, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP UID %q: %w", uid, err)
	}
	return imap.UIDSetNum(imap.UID(parsed)), nil
}

// EnsureFolder creates each level of the path. Existing folders are
// fine; only unexpected errors are reported.
func (b *imapBackend) EnsureFolder(path string) error {
	client, err := b.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	segments := strings.Split(path, "/")
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		if err := client.Create(prefix, nil).Wait(); err != nil {
			if strings.Contains(err.Error(), "ALREADYEXISTS") ||
				strings.Contains(strings.ToLower(err.Error()), "already exists") {
				continue
			}
			log.Printf("Note: could not create folder %s: %v", prefix, err)
		} else {
			log.Printf("Created folder: %s", prefix)
		}
	}

	b.mu.Lock()
	b.cache.invalidate()
	b.mu.Unlock()
	return nil
}

func (b *imapBackend) ListFolders() ([]string, error) {
	b.mu.Lock()
	if folders, ok := b.cache.get(time.Now()); ok {
		b.mu.Unlock()
		return folders, nil
	}
	b.mu.Unlock()

	client, err := b.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	listCmd := client.List("", "*", nil)
	var folders []string
	for {
		mbox := listCmd.Next()
		if mbox == nil {
			break
		}
		folders = append(folders, mbox.Mailbox)
	}
	if err := listCmd.Close(); err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	b.mu.Lock()
	b.cache.set(folders, time.Now())
	b.mu.Unlock()
	return folders, nil
}

func (b *imapBackend) Diagnostics() Diagnostics {
	diag := Diagnostics{Backend: config.BackendIMAP, Mailbox: b.mailbox}
	folders, err := b.ListFolders()
	if err != nil {
		diag.Error = err.Error()
		return diag
	}
	diag.Connected = true
	diag.Folders = folders
	return diag
}

func (b *imapBackend) Reset() {
	b.mu.Lock()
	b.cache.invalidate()
	b.mu.Unlock()
}
