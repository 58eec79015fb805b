package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mail backend selection.
const (
	BackendIMAP  = "IMAP"
	BackendGraph = "GRAPH"
)

type Config struct {
	MailBackend string

	IMAPHost       string
	IMAPPort       int
	IMAPUsername   string
	IMAPPassword   string
	IMAPEncryption string // SSL, STARTTLS, or NONE
	Mailbox        string // primary mailbox, normally INBOX
	ArchiveFolder  string // secondary sweep folder for flagged follow-ups

	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphMailbox      string

	PollInterval      time.Duration
	FolderCacheExpiry time.Duration

	OllamaEndpoint string
	OllamaModel    string

	HABaseURL      string
	HAToken        string
	HAMobileTarget string

	Timezone string
	DBPath   string
	WebPort  int
}

// Load reads configuration from the environment and an optional
// steward.yaml in the working directory. Credentials are validated for
// whichever backend is selected.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("steward")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("mail_backend", BackendIMAP)
	v.SetDefault("imap_port", 993)
	v.SetDefault("imap_encryption", "SSL")
	v.SetDefault("imap_mailbox", "INBOX")
	v.SetDefault("archive_folder", "Archive")
	v.SetDefault("poll_interval", "2m")
	v.SetDefault("folder_cache_expiry", "5m")
	v.SetDefault("ollama_endpoint", "http://localhost:11434")
	v.SetDefault("ollama_model", "gpt-oss:20b")
	v.SetDefault("ha_mobile_target", "notify.mobile_app")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("db_path", "/data/steward.db")
	v.SetDefault("web_port", 8080)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		MailBackend:       normalizeBackend(v.GetString("mail_backend")),
		IMAPHost:          v.GetString("imap_host"),
		IMAPPort:          v.GetInt("imap_port"),
		IMAPUsername:      v.GetString("imap_username"),
		IMAPPassword:      v.GetString("imap_password"),
		IMAPEncryption:    normalizeEncryption(v.GetString("imap_encryption")),
		Mailbox:           v.GetString("imap_mailbox"),
		ArchiveFolder:     v.GetString("archive_folder"),
		GraphTenantID:     v.GetString("graph_tenant_id"),
		GraphClientID:     v.GetString("graph_client_id"),
		GraphClientSecret: v.GetString("graph_client_secret"),
		GraphMailbox:      v.GetString("graph_mailbox"),
		PollInterval:      v.GetDuration("poll_interval"),
		FolderCacheExpiry: v.GetDuration("folder_cache_expiry"),
		OllamaEndpoint:    strings.TrimRight(v.GetString("ollama_endpoint"), "/"),
		OllamaModel:       v.GetString("ollama_model"),
		HABaseURL:         strings.TrimRight(v.GetString("ha_base_url"), "/"),
		HAToken:           v.GetString("ha_token"),
		HAMobileTarget:    v.GetString("ha_mobile_target"),
		Timezone:          v.GetString("timezone"),
		DBPath:            v.GetString("db_path"),
		WebPort:           v.GetInt("web_port"),
	}

	switch cfg.MailBackend {
	case BackendIMAP:
		if cfg.IMAPHost == "" {
			return nil, fmt.Errorf("IMAP_HOST is required for the IMAP backend")
		}
		if cfg.IMAPUsername == "" || cfg.IMAPPassword == "" {
			return nil, fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required for the IMAP backend")
		}
	case BackendGraph:
		if cfg.GraphTenantID == "" || cfg.GraphClientID == "" || cfg.GraphClientSecret == "" {
			return nil, fmt.Errorf("GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required for the GRAPH backend")
		}
		if cfg.GraphMailbox == "" {
			return nil, fmt.Errorf("GRAPH_MAILBOX is required for the GRAPH backend")
		}
	}

	return cfg, nil
}

func normalizeBackend(value string) string {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "GRAPH", "EXCHANGE", "MSGRAPH":
		return BackendGraph
	default:
		return BackendIMAP
	}
}

func normalizeEncryption(value string) string {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	switch normalized {
	case "STARTTLS":
		return "STARTTLS"
	case "NONE", "PLAIN", "UNENCRYPTED", "FALSE", "0", "OFF":
		return "NONE"
	default:
		return "SSL"
	}
}
