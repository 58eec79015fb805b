package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/DJAMIRSAM/inbox-steward/internal/classifier"
	"github.com/DJAMIRSAM/inbox-steward/internal/config"
	"github.com/DJAMIRSAM/inbox-steward/internal/mailbox"
	"github.com/DJAMIRSAM/inbox-steward/internal/notify"
)

func main() {
	fmt.Println("=== Inbox Steward Diagnostics ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Mail backend: %s\n", cfg.MailBackend)

	fmt.Println("\n--- Mailbox ---")
	mb := mailbox.New(cfg)
	diag := mb.Diagnostics()
	if !diag.Connected {
		fmt.Printf("Connection failed: %s\n", diag.Error)
	} else {
		fmt.Printf("Connected to %s (%d folders)\n", diag.Mailbox, len(diag.Folders))
		for _, folder := range diag.Folders {
			fmt.Printf("  %s\n", folder)
		}
	}

	fmt.Println("\n--- Classifier ---")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	cl := classifier.New(cfg.OllamaEndpoint, cfg.OllamaModel)
	if err := cl.Ping(ctx); err != nil {
		fmt.Printf("Ollama check failed: %v\n", err)
	} else {
		fmt.Printf("Ollama reachable at %s (model %s)\n", cfg.OllamaEndpoint, cfg.OllamaModel)
	}

	fmt.Println("\n--- Notifications ---")
	notifier := notify.NewHomeAssistant(cfg.HABaseURL, cfg.HAToken, cfg.HAMobileTarget)
	if err := notifier.SendTest(); err != nil {
		fmt.Printf("Home Assistant check failed: %v\n", err)
	} else {
		fmt.Println("Test notification sent")
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("\nHow Inbox Steward files mail:")
	fmt.Println("  quick  - filed to its folder immediately")
	fmt.Println("  sticky - flagged in place; archive it to approve the move")
	fmt.Println("  ignore - left alone")
}
