package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/DJAMIRSAM/inbox-steward/internal/calendar"
	"github.com/DJAMIRSAM/inbox-steward/internal/classifier"
	"github.com/DJAMIRSAM/inbox-steward/internal/config"
	"github.com/DJAMIRSAM/inbox-steward/internal/ledger"
	"github.com/DJAMIRSAM/inbox-steward/internal/mailbox"
	"github.com/DJAMIRSAM/inbox-steward/internal/notify"
	"github.com/DJAMIRSAM/inbox-steward/internal/processor"
	"github.com/DJAMIRSAM/inbox-steward/internal/store"
	"github.com/DJAMIRSAM/inbox-steward/internal/web"
)

func main() {
	log.Println("Starting Inbox Steward...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded: backend=%s, poll=%v, web=:%d",
		cfg.MailBackend, cfg.PollInterval, cfg.WebPort)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()
	log.Printf("Database initialized at %s", cfg.DBPath)

	mb := mailbox.New(cfg)
	cl := classifier.New(cfg.OllamaEndpoint, cfg.OllamaModel)
	notifier := notify.NewHomeAssistant(cfg.HABaseURL, cfg.HAToken, cfg.HAMobileTarget)
	cal := calendar.New(st, cfg.Timezone)
	led := ledger.New(st, mb)

	proc := processor.New(st, mb, cl, notifier, cal, led,
		cfg.Mailbox, cfg.ArchiveFolder, cfg.PollInterval)

	webServer := web.NewServer(proc, mb, cfg.WebPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go proc.Start(ctx)

	go func() {
		if err := webServer.Start(); err != nil {
			log.Printf("Web server error: %v", err)
			cancel()
		}
	}()

	log.Println("Service started successfully")

	<-sigChan
	log.Println("Shutting down...")
	cancel()
	log.Println("Goodbye!")
}
